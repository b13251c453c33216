package neptunevk

import (
	"unsafe"

	vk "github.com/goki/vulkan"
)

// Destruction entry points. The plain variants take the device mutex; the
// *_nolock variants serve internally synced resources whose drop already
// runs under it.

func (d *CoreDevice) destroyImage(image vk.Image) {
	d.mu.Lock()
	d.destroyImageNolock(image)
	d.mu.Unlock()
}

func (d *CoreDevice) destroyImageNolock(image vk.Image) {
	if image != vk.NullImage {
		f := d.frame()
		f.destroyedImages = append(f.destroyedImages, image)
	}
}

func (d *CoreDevice) destroyImageView(view vk.ImageView) {
	d.mu.Lock()
	d.destroyImageViewNolock(view)
	d.mu.Unlock()
}

func (d *CoreDevice) destroyImageViewNolock(view vk.ImageView) {
	if view != vk.NullImageView {
		f := d.frame()
		f.destroyedImageViews = append(f.destroyedImageViews, view)
	}
}

func (d *CoreDevice) destroyBuffer(buffer vk.Buffer) {
	d.mu.Lock()
	d.destroyBufferNolock(buffer)
	d.mu.Unlock()
}

func (d *CoreDevice) destroyBufferNolock(buffer vk.Buffer) {
	if buffer != vk.NullBuffer {
		f := d.frame()
		f.destroyedBuffers = append(f.destroyedBuffers, buffer)
	}
}

func (d *CoreDevice) destroyBufferView(view vk.BufferView) {
	d.mu.Lock()
	d.destroyBufferViewNolock(view)
	d.mu.Unlock()
}

func (d *CoreDevice) destroyBufferViewNolock(view vk.BufferView) {
	if view != vk.NullBufferView {
		f := d.frame()
		f.destroyedBufferViews = append(f.destroyedBufferViews, view)
	}
}

func (d *CoreDevice) destroySampler(sampler vk.Sampler) {
	d.mu.Lock()
	d.destroySamplerNolock(sampler)
	d.mu.Unlock()
}

func (d *CoreDevice) destroySamplerNolock(sampler vk.Sampler) {
	if sampler != vk.NullSampler {
		f := d.frame()
		f.destroyedSamplers = append(f.destroyedSamplers, sampler)
	}
}

func (d *CoreDevice) destroyPipelineNolock(pipeline vk.Pipeline) {
	if pipeline != vk.NullPipeline {
		f := d.frame()
		f.destroyedPipelines = append(f.destroyedPipelines, pipeline)
	}
}

func (d *CoreDevice) destroySemaphore(sem vk.Semaphore) {
	d.mu.Lock()
	d.destroySemaphoreNolock(sem)
	d.mu.Unlock()
}

func (d *CoreDevice) destroySemaphoreNolock(sem vk.Semaphore) {
	if sem != vk.NullSemaphore {
		f := d.frame()
		f.destroyedSemaphores = append(f.destroyedSemaphores, sem)
	}
}

func (d *CoreDevice) recycleSemaphore(sem vk.Semaphore) {
	d.mu.Lock()
	d.recycleSemaphoreNolock(sem)
	d.mu.Unlock()
}

func (d *CoreDevice) recycleSemaphoreNolock(sem vk.Semaphore) {
	if sem != vk.NullSemaphore {
		f := d.frame()
		f.recycledSemaphores = append(f.recycledSemaphores, sem)
	}
}

func (d *CoreDevice) recycleEvent(event vk.Event) {
	d.mu.Lock()
	d.recycleEventNolock(event)
	d.mu.Unlock()
}

func (d *CoreDevice) recycleEventNolock(event vk.Event) {
	if event != vk.NullEvent {
		f := d.frame()
		f.recycledEvents = append(f.recycledEvents, event)
	}
}

func (d *CoreDevice) freeAllocation(alloc *DeviceAllocation) {
	d.mu.Lock()
	d.freeAllocationNolock(alloc)
	d.mu.Unlock()
}

func (d *CoreDevice) freeAllocationNolock(alloc *DeviceAllocation) {
	if alloc != nil {
		f := d.frame()
		f.freedAllocations = append(f.freedAllocations, alloc)
	}
}

func (d *CoreDevice) resetFence(fence vk.Fence, observedWait bool) {
	d.mu.Lock()
	d.resetFenceNolock(fence, observedWait)
	d.mu.Unlock()
}

func (d *CoreDevice) resetFenceNolock(fence vk.Fence, observedWait bool) {
	f := d.frame()
	if observedWait {
		vk.ResetFences(d.device, 1, []vk.Fence{fence})
		d.fencePool.Recycle(fence)
	} else {
		f.recycledFences = append(f.recycledFences, fence)
	}
}

// RequestSemaphore hands out a fresh unsignalled binary semaphore.
func (d *CoreDevice) RequestSemaphore() *Semaphore {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &Semaphore{
		device:    d,
		semaphore: d.semaphorePool.Request(),
		semType:   SemaphoreTypeBinary,
		refs:      1,
	}
}

// RequestEvent hands out a pooled event.
func (d *CoreDevice) RequestEvent() *Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &Event{device: d, event: d.eventPool.Request(), refs: 1}
}

// CreateBuffer creates a buffer in its domain and optionally fills it with
// initial data: directly for mapped domains, through a staging copy on the
// transfer queue for device-only ones.
func (d *CoreDevice) CreateBuffer(info BufferCreateInfo, initial []byte) *Buffer {
	usage := info.Usage | vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit|vk.BufferUsageTransferDstBit)
	vkInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(info.Size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	handle, alloc, err := d.allocator.CreateBuffer(&vkInfo, info.Domain)
	if err != nil {
		logger().Error("buffer creation failed", "size", info.Size, "err", err)
		return nil
	}
	buffer := &Buffer{
		device: d,
		buffer: handle,
		cookie: NewCookie(),
		alloc:  alloc,
		info:   info,
		refs:   1,
	}

	if alloc.HostBase != nil {
		if len(initial) > 0 {
			ptr := d.allocator.Map(alloc, MemoryAccessWrite, 0, uint64(len(initial)))
			copy(unsafe.Slice((*byte)(ptr), len(initial)), initial)
			d.allocator.Unmap(alloc, MemoryAccessWrite, 0, uint64(len(initial)))
		} else if info.Misc&BufferMiscZeroInitialize != 0 {
			ptr := d.allocator.Map(alloc, MemoryAccessWrite, 0, info.Size)
			zero := unsafe.Slice((*byte)(ptr), info.Size)
			for i := range zero {
				zero[i] = 0
			}
			d.allocator.Unmap(alloc, MemoryAccessWrite, 0, info.Size)
		}
		return buffer
	}

	if len(initial) > 0 {
		d.initBufferFromStaging(buffer, initial)
	} else if info.Misc&BufferMiscZeroInitialize != 0 {
		cmd := d.RequestCommandList(QueueTransfer)
		if cmd != nil {
			cmd.FillBuffer(buffer, 0)
			d.SubmitStaging(cmd, info.Usage, true)
		}
	}
	return buffer
}

func (d *CoreDevice) initBufferFromStaging(buffer *Buffer, initial []byte) {
	staging := d.CreateBuffer(BufferCreateInfo{
		Domain: BufferDomainHost,
		Size:   uint64(len(initial)),
		Usage:  vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
	}, initial)
	if staging == nil {
		return
	}
	cmd := d.RequestCommandList(QueueTransfer)
	if cmd != nil {
		cmd.CopyBuffer(buffer, staging, 0, 0, uint64(len(initial)))
		d.SubmitStaging(cmd, buffer.CreateInfo().Usage, true)
	}
	staging.Release()
}

// ImageInitialData carries one subresource's upload payload.
type ImageInitialData struct {
	Data       []byte
	RowLength  uint32
	ImageHeight uint32
}

// CreateImage creates an image, its default views, and uploads initial
// subresource data through the staging path when provided.
func (d *CoreDevice) CreateImage(info ImageCreateInfo, initial []*ImageInitialData) *Image {
	d.mu.Lock()
	img := d.createImageNolockInternal(info)
	d.mu.Unlock()
	if img == nil {
		return nil
	}
	if len(initial) > 0 {
		d.initImageFromStaging(img, initial)
	}
	return img
}

// CreateImageNolock is the internally synced creation path; the caller
// holds the device mutex.
func (d *CoreDevice) CreateImageNolock(info ImageCreateInfo, initial []*ImageInitialData) *Image {
	img := d.createImageNolockInternal(info)
	if img != nil && len(initial) > 0 {
		logger().Error("initial image data requires the locking creation path")
	}
	return img
}

func (d *CoreDevice) createImageNolockInternal(info ImageCreateInfo) *Image {
	if info.Depth == 0 {
		info.Depth = 1
	}
	if info.Layers == 0 {
		info.Layers = 1
	}
	if info.Samples == 0 {
		info.Samples = vk.SampleCount1Bit
	}
	levels := imageLevelsFor(&info)
	if info.Misc&ImageMiscGenerateMips != 0 {
		info.Usage |= vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit)
	}
	info.Levels = levels

	vkInfo := vk.ImageCreateInfo{
		SType:       vk.StructureTypeImageCreateInfo,
		ImageType:   info.Type,
		Format:      info.Format,
		Extent:      vk.Extent3D{Width: info.Width, Height: info.Height, Depth: info.Depth},
		MipLevels:   levels,
		ArrayLayers: info.Layers,
		Samples:     info.Samples,
		Tiling:      vk.ImageTilingOptimal,
		Usage:       info.Usage,
		SharingMode: vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
		Flags:       info.Flags,
	}
	if info.Domain == ImageDomainLinearHost || info.Domain == ImageDomainLinearHostCached {
		vkInfo.Tiling = vk.ImageTilingLinear
	}
	if info.Misc&ImageMiscMutableSRGB != 0 {
		vkInfo.Flags |= vk.ImageCreateFlags(vk.ImageCreateMutableFormatBit)
	}
	if info.Misc&imageMiscConcurrentQueueMask != 0 {
		families := d.concurrentFamilies(info.Misc)
		if len(families) > 1 {
			vkInfo.SharingMode = vk.SharingModeConcurrent
			vkInfo.QueueFamilyIndexCount = uint32(len(families))
			vkInfo.PQueueFamilyIndices = families
		}
	}

	handle, alloc, err := d.allocator.CreateImage(&vkInfo, info.Domain)
	if err != nil {
		logger().Error("image creation failed", "err", err)
		return nil
	}

	img := &Image{
		device:     d,
		image:      handle,
		cookie:     NewCookie(),
		info:       info,
		alloc:      alloc,
		layoutType: ImageLayoutOptimal,
		ownsImage:  true,
		ownsMemory: true,
		refs:       1,
	}
	if info.Misc&ImageMiscNoDefaultViews == 0 {
		img.view = d.createDefaultViews(img)
	}
	return img
}

// concurrentFamilies resolves the misc concurrent-queue bits into a unique
// family index list.
func (d *CoreDevice) concurrentFamilies(misc ImageMiscFlags) []uint32 {
	var families []uint32
	add := func(family uint32) {
		for _, f := range families {
			if f == family {
				return
			}
		}
		families = append(families, family)
	}
	if misc&(ImageMiscConcurrentQueueGraphics|ImageMiscConcurrentQueueAsyncGraphics) != 0 {
		add(d.queueInfo.familyIndices[QueueGraphics])
	}
	if misc&ImageMiscConcurrentQueueAsyncCompute != 0 {
		add(d.queueInfo.familyIndices[QueueCompute])
	}
	if misc&ImageMiscConcurrentQueueAsyncTransfer != 0 {
		add(d.queueInfo.familyIndices[QueueTransfer])
	}
	return families
}

// createDefaultViews builds the default view plus depth-only, stencil-only
// and per-layer render-target aux views where the format and layer count
// call for them.
func (d *CoreDevice) createDefaultViews(img *Image) *ImageView {
	info := img.CreateInfo()
	viewType := vk.ImageViewType2d
	switch {
	case info.Type == vk.ImageType1d:
		viewType = vk.ImageViewType1d
	case info.Type == vk.ImageType3d:
		viewType = vk.ImageViewType3d
	case info.Layers > 1 || info.Misc&ImageMiscForceArray != 0:
		viewType = vk.ImageViewType2dArray
	}

	format := info.Format
	if info.Misc&ImageMiscMutableSRGB != 0 {
		format = formatToSRGB(format)
	}
	aspect := formatToAspect(format)

	makeView := func(aspect vk.ImageAspectFlags, baseLayer, layers uint32, vt vk.ImageViewType) vk.ImageView {
		var view vk.ImageView
		ret := vk.CreateImageView(d.device, &vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    img.Handle(),
			ViewType: vt,
			Format:   format,
			Components: vk.ComponentMapping{
				R: vk.ComponentSwizzleR,
				G: vk.ComponentSwizzleG,
				B: vk.ComponentSwizzleB,
				A: vk.ComponentSwizzleA,
			},
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     aspect,
				BaseMipLevel:   0,
				LevelCount:     info.Levels,
				BaseArrayLayer: baseLayer,
				LayerCount:     layers,
			},
		}, nil, &view)
		if isError(ret) {
			logger().Error("image view creation failed", "result", int32(ret))
			return vk.NullImageView
		}
		return view
	}

	view := &ImageView{
		device: d,
		view:   makeView(aspect, 0, info.Layers, viewType),
		cookie: NewCookie(),
		info: ImageViewCreateInfo{
			Image:    img,
			Format:   format,
			ViewType: viewType,
			Levels:   info.Levels,
			Layers:   info.Layers,
			Aspect:   aspect,
		},
		refs: 1,
	}
	if view.view == vk.NullImageView {
		return nil
	}

	if formatHasDepth(format) && formatHasStencil(format) {
		view.depthView = makeView(vk.ImageAspectFlags(vk.ImageAspectDepthBit), 0, info.Layers, viewType)
		view.stencilView = makeView(vk.ImageAspectFlags(vk.ImageAspectStencilBit), 0, info.Layers, viewType)
	}
	renderable := info.Usage&vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit|vk.ImageUsageDepthStencilAttachmentBit) != 0
	if renderable && info.Layers > 1 {
		for layer := uint32(0); layer < info.Layers; layer++ {
			view.perLayerRTViews = append(view.perLayerRTViews,
				makeView(aspect, layer, 1, vk.ImageViewType2d))
		}
	}
	// The image handle stays alive while the view does.
	img.AddRef()
	return view
}

// CreateImageView builds an additional view over an existing image.
func (d *CoreDevice) CreateImageView(info ImageViewCreateInfo) *ImageView {
	if info.Format == vk.FormatUndefined {
		info.Format = info.Image.Format()
	}
	if info.Aspect == 0 {
		info.Aspect = formatToAspect(info.Format)
	}
	if info.Levels == 0 {
		info.Levels = info.Image.CreateInfo().Levels
	}
	if info.Layers == 0 {
		info.Layers = info.Image.CreateInfo().Layers
	}
	var view vk.ImageView
	ret := vk.CreateImageView(d.device, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    info.Image.Handle(),
		ViewType: info.ViewType,
		Format:   info.Format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleR,
			G: vk.ComponentSwizzleG,
			B: vk.ComponentSwizzleB,
			A: vk.ComponentSwizzleA,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     info.Aspect,
			BaseMipLevel:   info.BaseLevel,
			LevelCount:     info.Levels,
			BaseArrayLayer: info.BaseLayer,
			LayerCount:     info.Layers,
		},
	}, nil, &view)
	if isError(ret) {
		logger().Error("image view creation failed", "result", int32(ret))
		return nil
	}
	info.Image.AddRef()
	return &ImageView{
		device: d,
		view:   view,
		cookie: NewCookie(),
		info:   info,
		refs:   1,
	}
}

// CreateBufferView builds a typed texel view over a buffer range.
func (d *CoreDevice) CreateBufferView(info BufferViewCreateInfo) *BufferView {
	var view vk.BufferView
	ret := vk.CreateBufferView(d.device, &vk.BufferViewCreateInfo{
		SType:  vk.StructureTypeBufferViewCreateInfo,
		Buffer: info.Buffer.Handle(),
		Format: info.Format,
		Offset: vk.DeviceSize(info.Offset),
		Range:  vk.DeviceSize(info.Range),
	}, nil, &view)
	if isError(ret) {
		logger().Error("buffer view creation failed", "result", int32(ret))
		return nil
	}
	info.Buffer.AddRef()
	return &BufferView{
		device: d,
		view:   view,
		cookie: NewCookie(),
		info:   info,
		refs:   1,
	}
}

// CreateSampler builds a transient sampler released through the frame
// destruction queue.
func (d *CoreDevice) CreateSampler(info SamplerCreateInfo) *Sampler {
	vkInfo := info.vkInfo()
	var sampler vk.Sampler
	ret := vk.CreateSampler(d.device, &vkInfo, nil, &sampler)
	if isError(ret) {
		logger().Error("sampler creation failed", "result", int32(ret))
		return nil
	}
	return &Sampler{
		device:  d,
		sampler: sampler,
		cookie:  NewCookie(),
		info:    info,
		refs:    1,
	}
}

// requestImmutableSampler caches program-lifetime samplers by create-info
// hash.
func (d *CoreDevice) requestImmutableSampler(info *SamplerCreateInfo) *Sampler {
	hash := info.hash()
	sampler, _ := d.immutableSamplers.GetOrEmplace(hash, func() (*Sampler, error) {
		vkInfo := info.vkInfo()
		var handle vk.Sampler
		ret := vk.CreateSampler(d.device, &vkInfo, nil, &handle)
		if isError(ret) {
			return nil, NewError(ret)
		}
		s := &Sampler{
			device:    d,
			sampler:   handle,
			cookie:    NewCookie(),
			info:      *info,
			immutable: true,
			refs:      1,
		}
		d.mu.Lock()
		d.samplersByCookie[s.cookie] = s
		d.mu.Unlock()
		return s, nil
	})
	return sampler
}

func (d *CoreDevice) immutableSamplerByCookie(cookie uint64) *Sampler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.samplersByCookie[cookie]
}

// StockSampler returns one of the device's immutable default samplers.
func (d *CoreDevice) StockSampler(stock StockSampler) *Sampler {
	return d.stockSamplers[stock]
}

// RequestRenderPass resolves a pass through the read/write-split cache.
func (d *CoreDevice) RequestRenderPass(info *RenderPassInfo, compatible bool) *RenderPass {
	hash := info.hash(compatible)
	pass, err := d.renderPasses.GetOrEmplace(hash, func() (*RenderPass, error) {
		rp, err := newRenderPass(d, info, compatible)
		if err != nil {
			return nil, err
		}
		rp.hash = hash
		return rp, nil
	})
	if err != nil {
		return nil
	}
	return pass
}

func (d *CoreDevice) requestRenderPassNolock(info *RenderPassInfo, compatible bool) *RenderPass {
	return d.RequestRenderPass(info, compatible)
}

// requestRenderPassState resolves the framebuffer, concrete pass and
// compatible pass for one BeginRenderPass call.
func (d *CoreDevice) requestRenderPassState(info *RenderPassInfo) (*Framebuffer, *RenderPass, *RenderPass) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fb := d.framebufferAllocator.RequestFramebuffer(info)
	renderPass := d.requestRenderPassNolock(info, false)
	compatPass := d.requestRenderPassNolock(info, true)
	return fb, renderPass, compatPass
}

// RequestTransientAttachment resolves a frame-lifetime attachment image.
func (d *CoreDevice) RequestTransientAttachment(width, height uint32, format vk.Format, index uint32) *Image {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transientAllocator.RequestAttachment(width, height, format, index, 1, 1)
}

// requestDescriptorSetAllocator caches allocators by layout + stage hash.
func (d *CoreDevice) requestDescriptorSetAllocator(layout *DescriptorSetLayout, stages *[VulkanNumBindings]vk.ShaderStageFlags) *DescriptorSetAllocator {
	hash := descriptorSetAllocatorHash(layout, stages)
	allocator, _ := d.setAllocators.GetOrEmplace(hash, func() (*DescriptorSetAllocator, error) {
		return newDescriptorSetAllocator(d, layout, stages), nil
	})
	return allocator
}

// emptySetAllocator fills layout gaps between active sets.
func (d *CoreDevice) emptySetAllocator() *DescriptorSetAllocator {
	if d.emptyAllocator == nil {
		var layout DescriptorSetLayout
		d.emptyAllocator = newDescriptorSetAllocator(d, &layout, nil)
	}
	return d.emptyAllocator
}

// requestPipelineLayout caches pipeline layouts by combined-layout hash.
func (d *CoreDevice) requestPipelineLayout(combined *CombinedResourceLayout) *PipelineLayout {
	hash := combined.hash()
	layout, _ := d.pipelineLayouts.GetOrEmplace(hash, func() (*PipelineLayout, error) {
		return newPipelineLayout(d, combined), nil
	})
	return layout
}

func (d *CoreDevice) initImageFromStaging(img *Image, initial []*ImageInitialData) {
	info := img.CreateInfo()
	var total uint64
	for _, sub := range initial {
		total += uint64(len(sub.Data))
	}
	staging := d.CreateBuffer(BufferCreateInfo{
		Domain: BufferDomainHost,
		Size:   total,
		Usage:  vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
	}, nil)
	if staging == nil {
		return
	}
	ptr := d.allocator.Map(staging.Allocation(), MemoryAccessWrite, 0, total)
	dst := unsafe.Slice((*byte)(ptr), total)
	var blits []vk.BufferImageCopy
	offset := uint64(0)
	width, height := info.Width, info.Height
	for level, sub := range initial {
		copy(dst[offset:], sub.Data)
		blits = append(blits, vk.BufferImageCopy{
			BufferOffset:      vk.DeviceSize(offset),
			BufferRowLength:   sub.RowLength,
			BufferImageHeight: sub.ImageHeight,
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: formatToAspect(info.Format),
				MipLevel:   uint32(level),
				LayerCount: info.Layers,
			},
			ImageExtent: vk.Extent3D{Width: width, Height: height, Depth: info.Depth},
		})
		offset += uint64(len(sub.Data))
		width = maxU32(width>>1, 1)
		height = maxU32(height>>1, 1)
	}
	d.allocator.Unmap(staging.Allocation(), MemoryAccessWrite, 0, total)

	cmd := d.RequestCommandList(QueueTransfer)
	if cmd != nil {
		cmd.ImageBarrier(img, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal,
			vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), 0,
			vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			vk.AccessFlags(vk.AccessTransferWriteBit))
		cmd.CopyToImage(img, staging, blits)
		if info.Misc&ImageMiscGenerateMips != 0 && uint32(len(initial)) < info.Levels {
			d.generateMips(cmd, img, uint32(len(initial)))
		}
		cmd.ImageBarrier(img, vk.ImageLayoutTransferDstOptimal,
			img.Layout(vk.ImageLayoutShaderReadOnlyOptimal),
			vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			vk.AccessFlags(vk.AccessTransferWriteBit),
			vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
			vk.AccessFlags(vk.AccessShaderReadBit))
		d.SubmitStaging(cmd, vk.BufferUsageFlags(vk.BufferUsageTransferDstBit), true)
	}
	staging.Release()
}

// generateMips blits each level down from the previous one, transitioning
// the source level to transfer-read before each blit and restoring the
// chain to transfer-write at the end so the caller's final transition sees
// one uniform layout.
func (d *CoreDevice) generateMips(cmd *CommandList, img *Image, fromLevel uint32) {
	info := img.CreateInfo()
	levelBarrier := func(level uint32, oldLayout, newLayout vk.ImageLayout, srcAccess, dstAccess vk.AccessFlags, levels uint32) {
		barrier := vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       srcAccess,
			DstAccessMask:       dstAccess,
			OldLayout:           oldLayout,
			NewLayout:           newLayout,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.Handle(),
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:   formatToAspect(info.Format),
				BaseMipLevel: level,
				LevelCount:   levels,
				LayerCount:   info.Layers,
			},
		}
		vk.CmdPipelineBarrier(cmd.Handle(),
			vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			vk.PipelineStageFlags(vk.PipelineStageTransferBit), 0,
			0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	}

	width, height := info.Width, info.Height
	for l := uint32(1); l < fromLevel; l++ {
		width = maxU32(width>>1, 1)
		height = maxU32(height>>1, 1)
	}
	for level := fromLevel; level < info.Levels; level++ {
		levelBarrier(level-1, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutTransferSrcOptimal,
			vk.AccessFlags(vk.AccessTransferWriteBit), vk.AccessFlags(vk.AccessTransferReadBit), 1)
		srcWidth, srcHeight := width, height
		width = maxU32(width>>1, 1)
		height = maxU32(height>>1, 1)
		blit := vk.ImageBlit{
			SrcSubresource: vk.ImageSubresourceLayers{
				AspectMask: formatToAspect(info.Format),
				MipLevel:   level - 1,
				LayerCount: info.Layers,
			},
			DstSubresource: vk.ImageSubresourceLayers{
				AspectMask: formatToAspect(info.Format),
				MipLevel:   level,
				LayerCount: info.Layers,
			},
		}
		blit.SrcOffsets[1] = vk.Offset3D{X: int32(srcWidth), Y: int32(srcHeight), Z: 1}
		blit.DstOffsets[1] = vk.Offset3D{X: int32(width), Y: int32(height), Z: 1}
		vk.CmdBlitImage(cmd.Handle(), img.Handle(), vk.ImageLayoutTransferSrcOptimal,
			img.Handle(), vk.ImageLayoutTransferDstOptimal,
			1, []vk.ImageBlit{blit}, vk.FilterLinear)
	}
	if info.Levels > fromLevel {
		levelBarrier(fromLevel-1, vk.ImageLayoutTransferSrcOptimal, vk.ImageLayoutTransferDstOptimal,
			vk.AccessFlags(vk.AccessTransferReadBit), vk.AccessFlags(vk.AccessTransferWriteBit),
			info.Levels-fromLevel)
	}
}
