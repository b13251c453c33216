package neptunevk

import (
	"sync/atomic"

	vk "github.com/goki/vulkan"
)

// ImageCreateInfo describes an image request in domain terms; the allocator
// facade translates the domain into Vulkan memory usage.
type ImageCreateInfo struct {
	Domain        ImageDomain
	Width         uint32
	Height        uint32
	Depth         uint32
	Levels        uint32
	Layers        uint32
	Format        vk.Format
	Type          vk.ImageType
	Usage         vk.ImageUsageFlags
	Samples       vk.SampleCountFlagBits
	Flags         vk.ImageCreateFlags
	Misc          ImageMiscFlags
	InitialLayout vk.ImageLayout
	SwapchainLayout vk.ImageLayout
}

// ImmutableImage2D describes a sampled 2D texture uploaded once.
func ImmutableImage2D(width, height uint32, format vk.Format, mipmapped bool) ImageCreateInfo {
	levels := uint32(1)
	if mipmapped {
		levels = 0
	}
	return ImageCreateInfo{
		Domain:        ImageDomainPhysical,
		Width:         width,
		Height:        height,
		Depth:         1,
		Levels:        levels,
		Layers:        1,
		Format:        format,
		Type:          vk.ImageType2d,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageSampledBit | vk.ImageUsageTransferDstBit),
		Samples:       vk.SampleCount1Bit,
		InitialLayout: vk.ImageLayoutShaderReadOnlyOptimal,
	}
}

// RenderTarget2D describes a color or depth render target.
func RenderTarget2D(width, height uint32, format vk.Format) ImageCreateInfo {
	usage := vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)
	layout := vk.ImageLayoutColorAttachmentOptimal
	if formatHasDepthOrStencil(format) {
		usage = vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)
		layout = vk.ImageLayoutDepthStencilAttachmentOptimal
	}
	return ImageCreateInfo{
		Domain:        ImageDomainPhysical,
		Width:         width,
		Height:        height,
		Depth:         1,
		Levels:        1,
		Layers:        1,
		Format:        format,
		Type:          vk.ImageType2d,
		Usage:         usage | vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		Samples:       vk.SampleCount1Bit,
		InitialLayout: layout,
	}
}

// TransientRenderTarget2D describes a frame-lifetime lazily allocated
// attachment.
func TransientRenderTarget2D(width, height uint32, format vk.Format) ImageCreateInfo {
	usage := vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)
	if formatHasDepthOrStencil(format) {
		usage = vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)
	}
	return ImageCreateInfo{
		Domain:        ImageDomainTransient,
		Width:         width,
		Height:        height,
		Depth:         1,
		Levels:        1,
		Layers:        1,
		Format:        format,
		Type:          vk.ImageType2d,
		Usage:         usage | vk.ImageUsageFlags(vk.ImageUsageInputAttachmentBit | vk.ImageUsageTransientAttachmentBit),
		Samples:       vk.SampleCount1Bit,
		InitialLayout: vk.ImageLayoutUndefined,
	}
}

// ImageViewCreateInfo describes a view over an image subresource range.
type ImageViewCreateInfo struct {
	Image      *Image
	Format     vk.Format
	ViewType   vk.ImageViewType
	BaseLevel  uint32
	Levels     uint32
	BaseLayer  uint32
	Layers     uint32
	Aspect     vk.ImageAspectFlags
	Swizzle    vk.ComponentMapping
}

// ImageView wraps a VkImageView plus the auxiliary depth-only, stencil-only
// and per-layer render-target views derived from the same image.
type ImageView struct {
	device          *CoreDevice
	view            vk.ImageView
	cookie          uint64
	info            ImageViewCreateInfo
	depthView       vk.ImageView
	stencilView     vk.ImageView
	perLayerRTViews []vk.ImageView
	internalSync    bool
	refs            int32
}

func (v *ImageView) AddRef() *ImageView {
	atomic.AddInt32(&v.refs, 1)
	return v
}

func (v *ImageView) Handle() vk.ImageView { return v.view }
func (v *ImageView) Cookie() uint64       { return v.cookie }
func (v *ImageView) Image() *Image        { return v.info.Image }
func (v *ImageView) Format() vk.Format    { return v.info.Format }

// DepthView returns the depth-only aspect view if one was generated.
func (v *ImageView) DepthView() vk.ImageView { return v.depthView }

// StencilView returns the stencil-only aspect view if one was generated.
func (v *ImageView) StencilView() vk.ImageView { return v.stencilView }

// RenderTargetView returns the per-layer view for one array layer, falling
// back to the default view for single-layer images.
func (v *ImageView) RenderTargetView(layer uint32) vk.ImageView {
	if int(layer) < len(v.perLayerRTViews) {
		return v.perLayerRTViews[layer]
	}
	return v.view
}

func (v *ImageView) markInternalSync() { v.internalSync = true }

func (v *ImageView) Release() {
	if atomic.AddInt32(&v.refs, -1) != 0 {
		return
	}
	img := v.info.Image
	if v.internalSync {
		v.device.destroyImageViewNolock(v.view)
		for _, rt := range v.perLayerRTViews {
			v.device.destroyImageViewNolock(rt)
		}
		if v.depthView != vk.NullImageView {
			v.device.destroyImageViewNolock(v.depthView)
		}
		if v.stencilView != vk.NullImageView {
			v.device.destroyImageViewNolock(v.stencilView)
		}
	} else {
		v.device.destroyImageView(v.view)
		for _, rt := range v.perLayerRTViews {
			v.device.destroyImageView(rt)
		}
		if v.depthView != vk.NullImageView {
			v.device.destroyImageView(v.depthView)
		}
		if v.stencilView != vk.NullImageView {
			v.device.destroyImageView(v.stencilView)
		}
	}
	v.view = vk.NullImageView
	v.perLayerRTViews = nil
	v.depthView = vk.NullImageView
	v.stencilView = vk.NullImageView
	if img != nil {
		img.Release()
	}
}

// Image wraps a VkImage with its identity, layout bookkeeping and default
// view. Ownership is polymorphic: device-owned images own both handle and
// memory, swap-chain backbuffers are borrowed, transient attachments own the
// handle with lazily allocated memory.
type Image struct {
	device          *CoreDevice
	image           vk.Image
	cookie          uint64
	info            ImageCreateInfo
	view            *ImageView
	alloc           *DeviceAllocation
	layoutType      ImageLayoutType
	swapchainLayout vk.ImageLayout
	accessFlags     vk.AccessFlags
	stageFlags      vk.PipelineStageFlags
	ownsImage       bool
	ownsMemory      bool
	internalSync    bool
	refs            int32
}

func (img *Image) AddRef() *Image {
	atomic.AddInt32(&img.refs, 1)
	return img
}

func (img *Image) Handle() vk.Image             { return img.image }
func (img *Image) Cookie() uint64               { return img.cookie }
func (img *Image) CreateInfo() ImageCreateInfo  { return img.info }
func (img *Image) View() *ImageView             { return img.view }
func (img *Image) Width() uint32                { return img.info.Width }
func (img *Image) Height() uint32               { return img.info.Height }
func (img *Image) Format() vk.Format            { return img.info.Format }
func (img *Image) LayoutType() ImageLayoutType  { return img.layoutType }
func (img *Image) AccessFlags() vk.AccessFlags  { return img.accessFlags }
func (img *Image) StageFlags() vk.PipelineStageFlags { return img.stageFlags }

// IsSwapchainImage reports whether the image aliases a swap-chain
// backbuffer.
func (img *Image) IsSwapchainImage() bool {
	return img.swapchainLayout != vk.ImageLayoutUndefined
}

func (img *Image) SwapchainLayout() vk.ImageLayout { return img.swapchainLayout }

func (img *Image) SetSwapchainLayout(layout vk.ImageLayout) {
	img.swapchainLayout = layout
}

func (img *Image) SetLayoutType(t ImageLayoutType) { img.layoutType = t }

func (img *Image) SetAccessFlags(f vk.AccessFlags)        { img.accessFlags = f }
func (img *Image) SetStageFlags(f vk.PipelineStageFlags)  { img.stageFlags = f }

// Layout resolves the optimal layout for the image's layout type.
func (img *Image) Layout(optimal vk.ImageLayout) vk.ImageLayout {
	if img.layoutType == ImageLayoutGeneral {
		return vk.ImageLayoutGeneral
	}
	return optimal
}

func (img *Image) markInternalSync() {
	img.internalSync = true
	if img.view != nil {
		img.view.markInternalSync()
	}
}

func (img *Image) Release() {
	if atomic.AddInt32(&img.refs, -1) != 0 {
		return
	}
	if img.internalSync {
		if img.ownsImage {
			img.device.destroyImageNolock(img.image)
		}
		if img.ownsMemory && img.alloc != nil {
			img.device.freeAllocationNolock(img.alloc)
		}
	} else {
		if img.ownsImage {
			img.device.destroyImage(img.image)
		}
		if img.ownsMemory && img.alloc != nil {
			img.device.freeAllocation(img.alloc)
		}
	}
	img.image = vk.NullImage
	img.alloc = nil
}

func imageLevelsFor(info *ImageCreateInfo) uint32 {
	if info.Levels != 0 {
		return info.Levels
	}
	levels := uint32(1)
	size := maxU32(maxU32(info.Width, info.Height), info.Depth)
	for size > 1 {
		size >>= 1
		levels++
	}
	return levels
}
