package neptunevk

import (
	vk "github.com/goki/vulkan"
)

// DepthStencilMode selects how a subpass uses the depth/stencil attachment.
type DepthStencilMode int

const (
	DepthStencilNone DepthStencilMode = iota
	DepthStencilReadOnly
	DepthStencilReadWrite
)

// SubpassInfo lists which RenderPassInfo attachments one subpass touches.
type SubpassInfo struct {
	ColorAttachments   []uint32
	InputAttachments   []uint32
	ResolveAttachments []uint32
	DepthStencilMode   DepthStencilMode
}

// RenderPassInfo is the caller-facing description a render pass, a
// framebuffer and a compatible-pass lookup are all derived from.
type RenderPassInfo struct {
	ColorAttachments    [VulkanNumAttachments]*ImageView
	NumColorAttachments uint32
	DepthStencil        *ImageView

	ClearAttachments uint32
	LoadAttachments  uint32
	StoreAttachments uint32
	OpFlags          RenderPassOpFlags

	ClearColor        [VulkanNumAttachments][4]float32
	ClearDepth        float32
	ClearStencil      uint32

	Subpasses []SubpassInfo
}

// hash digests the info per the cache key contract. Compatible variants
// ignore load/store/clear state.
func (info *RenderPassInfo) hash(compatible bool) uint64 {
	h := NewHasher()
	h.U32(info.NumColorAttachments)
	for i := uint32(0); i < info.NumColorAttachments; i++ {
		att := info.ColorAttachments[i]
		if att == nil {
			h.U32(uint32(vk.FormatUndefined))
			continue
		}
		img := att.Image()
		h.U32(uint32(att.Format()))
		h.U32(uint32(img.SwapchainLayout()))
		h.Bool(img.CreateInfo().Domain == ImageDomainTransient)
		h.Bool(img.LayoutType() == ImageLayoutOptimal)
	}
	if info.DepthStencil != nil {
		h.U32(uint32(info.DepthStencil.Format()))
	} else {
		h.U32(uint32(vk.FormatUndefined))
	}
	if !compatible {
		h.U32(info.ClearAttachments)
		h.U32(info.LoadAttachments)
		h.U32(info.StoreAttachments)
		h.U32(uint32(info.OpFlags))
	}
	h.U32(uint32(len(info.Subpasses)))
	for i := range info.Subpasses {
		sub := &info.Subpasses[i]
		h.U32(uint32(len(sub.ColorAttachments)))
		for _, a := range sub.ColorAttachments {
			h.U32(a)
		}
		h.U32(uint32(len(sub.InputAttachments)))
		for _, a := range sub.InputAttachments {
			h.U32(a)
		}
		h.U32(uint32(len(sub.ResolveAttachments)))
		for _, a := range sub.ResolveAttachments {
			h.U32(a)
		}
		h.U32(uint32(sub.DepthStencilMode))
	}
	h.Bool(compatible)
	return h.Get()
}

// subpassMeta answers the per-subpass queries pipeline construction needs.
type subpassMeta struct {
	colorCount uint32
	hasDepth   bool
	hasStencil bool
	samples    vk.SampleCountFlagBits
}

// RenderPass wraps a VkRenderPass plus enough subpass metadata to build
// pipelines against it.
type RenderPass struct {
	device     *CoreDevice
	renderPass vk.RenderPass
	cookie     uint64
	hash       uint64
	subpasses  []subpassMeta
}

func (rp *RenderPass) Handle() vk.RenderPass { return rp.renderPass }
func (rp *RenderPass) Cookie() uint64        { return rp.cookie }
func (rp *RenderPass) Hash() uint64          { return rp.hash }

func (rp *RenderPass) NumSubpasses() uint32 { return uint32(len(rp.subpasses)) }

func (rp *RenderPass) ColorCount(subpass uint32) uint32 {
	if int(subpass) >= len(rp.subpasses) {
		return 0
	}
	return rp.subpasses[subpass].colorCount
}

func (rp *RenderPass) HasDepth(subpass uint32) bool {
	if int(subpass) >= len(rp.subpasses) {
		return false
	}
	return rp.subpasses[subpass].hasDepth
}

func (rp *RenderPass) HasStencil(subpass uint32) bool {
	if int(subpass) >= len(rp.subpasses) {
		return false
	}
	return rp.subpasses[subpass].hasStencil
}

func (rp *RenderPass) Samples(subpass uint32) vk.SampleCountFlagBits {
	if int(subpass) >= len(rp.subpasses) {
		return vk.SampleCount1Bit
	}
	return rp.subpasses[subpass].samples
}

func (rp *RenderPass) destroy() {
	if rp.renderPass != vk.NullRenderPass {
		vk.DestroyRenderPass(rp.device.device, rp.renderPass, nil)
		rp.renderPass = vk.NullRenderPass
	}
}

// effectiveSubpasses returns the caller's subpass list, or the implicit
// single subpass covering every attachment.
func effectiveSubpasses(info *RenderPassInfo) []SubpassInfo {
	if len(info.Subpasses) > 0 {
		return info.Subpasses
	}
	sub := SubpassInfo{DepthStencilMode: DepthStencilNone}
	for i := uint32(0); i < info.NumColorAttachments; i++ {
		sub.ColorAttachments = append(sub.ColorAttachments, i)
	}
	if info.DepthStencil != nil {
		if info.OpFlags&RenderPassOpDepthStencilReadOnly != 0 {
			sub.DepthStencilMode = DepthStencilReadOnly
		} else {
			sub.DepthStencilMode = DepthStencilReadWrite
		}
	}
	return []SubpassInfo{sub}
}

func newRenderPass(device *CoreDevice, info *RenderPassInfo, compatible bool) (*RenderPass, error) {
	subpassInfos := effectiveSubpasses(info)

	var attachments []vk.AttachmentDescription
	numAttachments := info.NumColorAttachments
	for i := uint32(0); i < numAttachments; i++ {
		att := info.ColorAttachments[i]
		img := att.Image()

		loadOp := vk.AttachmentLoadOpDontCare
		if info.ClearAttachments&(1<<i) != 0 {
			loadOp = vk.AttachmentLoadOpClear
		} else if info.LoadAttachments&(1<<i) != 0 {
			loadOp = vk.AttachmentLoadOpLoad
		}
		storeOp := vk.AttachmentStoreOpDontCare
		if info.StoreAttachments&(1<<i) != 0 {
			storeOp = vk.AttachmentStoreOpStore
		}

		colorLayout := img.Layout(vk.ImageLayoutColorAttachmentOptimal)
		initialLayout := vk.ImageLayoutUndefined
		if loadOp == vk.AttachmentLoadOpLoad {
			if img.IsSwapchainImage() {
				initialLayout = img.SwapchainLayout()
			} else {
				initialLayout = colorLayout
			}
		}
		finalLayout := colorLayout
		if img.IsSwapchainImage() {
			finalLayout = img.SwapchainLayout()
		}

		attachments = append(attachments, vk.AttachmentDescription{
			Format:         att.Format(),
			Samples:        img.CreateInfo().Samples,
			LoadOp:         loadOp,
			StoreOp:        storeOp,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  initialLayout,
			FinalLayout:    finalLayout,
		})
	}

	dsIndex := uint32(vk.AttachmentUnused)
	dsLayout := vk.ImageLayoutDepthStencilAttachmentOptimal
	if info.DepthStencil != nil {
		dsIndex = numAttachments
		img := info.DepthStencil.Image()
		if info.OpFlags&RenderPassOpDepthStencilReadOnly != 0 {
			dsLayout = vk.ImageLayoutDepthStencilReadOnlyOptimal
		}
		dsLayout = img.Layout(dsLayout)

		loadOp := vk.AttachmentLoadOpDontCare
		initialLayout := vk.ImageLayoutUndefined
		if info.OpFlags&RenderPassOpClearDepthStencil != 0 {
			loadOp = vk.AttachmentLoadOpClear
		} else if info.OpFlags&RenderPassOpDepthStencilReadOnly != 0 {
			loadOp = vk.AttachmentLoadOpLoad
			initialLayout = dsLayout
		}
		stencilLoad := vk.AttachmentLoadOpDontCare
		if formatHasStencil(info.DepthStencil.Format()) {
			stencilLoad = loadOp
		}

		attachments = append(attachments, vk.AttachmentDescription{
			Format:         info.DepthStencil.Format(),
			Samples:        img.CreateInfo().Samples,
			LoadOp:         loadOp,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  stencilLoad,
			StencilStoreOp: vk.AttachmentStoreOpStore,
			InitialLayout:  initialLayout,
			FinalLayout:    dsLayout,
		})
	}

	subpasses := make([]vk.SubpassDescription, len(subpassInfos))
	meta := make([]subpassMeta, len(subpassInfos))
	// Reference storage has to outlive the create call.
	colorRefs := make([][]vk.AttachmentReference, len(subpassInfos))
	inputRefs := make([][]vk.AttachmentReference, len(subpassInfos))
	resolveRefs := make([][]vk.AttachmentReference, len(subpassInfos))
	dsRefs := make([]vk.AttachmentReference, len(subpassInfos))

	for si := range subpassInfos {
		sub := &subpassInfos[si]
		for _, a := range sub.ColorAttachments {
			colorRefs[si] = append(colorRefs[si], vk.AttachmentReference{
				Attachment: a,
				Layout:     info.ColorAttachments[a].Image().Layout(vk.ImageLayoutColorAttachmentOptimal),
			})
		}
		for _, a := range sub.InputAttachments {
			layout := vk.ImageLayoutShaderReadOnlyOptimal
			if a == dsIndex {
				layout = vk.ImageLayoutDepthStencilReadOnlyOptimal
			}
			inputRefs[si] = append(inputRefs[si], vk.AttachmentReference{
				Attachment: a,
				Layout:     layout,
			})
		}
		for _, a := range sub.ResolveAttachments {
			resolveRefs[si] = append(resolveRefs[si], vk.AttachmentReference{
				Attachment: a,
				Layout:     vk.ImageLayoutColorAttachmentOptimal,
			})
		}

		desc := vk.SubpassDescription{
			PipelineBindPoint:    vk.PipelineBindPointGraphics,
			ColorAttachmentCount: uint32(len(colorRefs[si])),
			PColorAttachments:    colorRefs[si],
			InputAttachmentCount: uint32(len(inputRefs[si])),
			PInputAttachments:    inputRefs[si],
		}
		if len(resolveRefs[si]) > 0 {
			desc.PResolveAttachments = resolveRefs[si]
		}

		samples := vk.SampleCount1Bit
		if len(sub.ColorAttachments) > 0 {
			samples = info.ColorAttachments[sub.ColorAttachments[0]].Image().CreateInfo().Samples
		}
		meta[si] = subpassMeta{
			colorCount: uint32(len(sub.ColorAttachments)),
			samples:    samples,
		}

		if sub.DepthStencilMode != DepthStencilNone && info.DepthStencil != nil {
			layout := dsLayout
			if sub.DepthStencilMode == DepthStencilReadOnly {
				layout = vk.ImageLayoutDepthStencilReadOnlyOptimal
			}
			dsRefs[si] = vk.AttachmentReference{Attachment: dsIndex, Layout: layout}
			desc.PDepthStencilAttachment = &dsRefs[si]
			meta[si].hasDepth = formatHasDepth(info.DepthStencil.Format())
			meta[si].hasStencil = formatHasStencil(info.DepthStencil.Format())
			meta[si].samples = info.DepthStencil.Image().CreateInfo().Samples
		}
		subpasses[si] = desc
	}

	// One incoming external dependency orders earlier attachment work before
	// subpass 0 writes its attachments; no outgoing dependency is declared.
	dependencies := []vk.SubpassDependency{
		{
			SrcSubpass:      vk.SubpassExternal,
			DstSubpass:      0,
			SrcStageMask:    vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
			DstStageMask:    vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
			SrcAccessMask:   0,
			DstAccessMask:   vk.AccessFlags(vk.AccessColorAttachmentWriteBit | vk.AccessDepthStencilAttachmentWriteBit),
			DependencyFlags: vk.DependencyFlags(vk.DependencyByRegionBit),
		},
	}

	var renderPass vk.RenderPass
	ret := vk.CreateRenderPass(device.device, &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    uint32(len(subpasses)),
		PSubpasses:      subpasses,
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}, nil, &renderPass)
	if isError(ret) {
		logger().Error("render pass creation failed", "result", int32(ret))
		return nil, NewError(ret)
	}

	return &RenderPass{
		device:     device,
		renderPass: renderPass,
		cookie:     NewCookie(),
		subpasses:  meta,
	}, nil
}

// buildClearValues packs the clear slots for vkCmdBeginRenderPass: one per
// color attachment up to the highest cleared one (uncleared slots stay
// zero), plus the depth slot after all color attachments when the op flags
// request a depth/stencil clear.
func buildClearValues(info *RenderPassInfo) []vk.ClearValue {
	var values []vk.ClearValue
	count := uint32(0)
	for i := uint32(0); i < info.NumColorAttachments; i++ {
		if info.ClearAttachments&(1<<i) != 0 {
			for uint32(len(values)) < i {
				values = append(values, vk.ClearValue{})
			}
			c := info.ClearColor[i]
			values = append(values, vk.NewClearValue([]float32{c[0], c[1], c[2], c[3]}))
			count = i + 1
		}
	}
	if info.DepthStencil != nil && info.OpFlags&RenderPassOpClearDepthStencil != 0 {
		for uint32(len(values)) < info.NumColorAttachments {
			values = append(values, vk.ClearValue{})
		}
		values = append(values, vk.NewClearDepthStencil(info.ClearDepth, info.ClearStencil))
		count = info.NumColorAttachments + 1
	}
	return values[:count]
}
