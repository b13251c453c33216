package neptunevk

import vk "github.com/goki/vulkan"

// Framebuffer binds concrete attachments under a compatible render pass, so
// one framebuffer serves any concrete pass with the same compatibility hash.
type Framebuffer struct {
	device      *CoreDevice
	framebuffer vk.Framebuffer
	renderPass  *RenderPass
	width       uint32
	height      uint32
}

func (fb *Framebuffer) Handle() vk.Framebuffer  { return fb.framebuffer }
func (fb *Framebuffer) RenderPass() *RenderPass { return fb.renderPass }
func (fb *Framebuffer) Width() uint32           { return fb.width }
func (fb *Framebuffer) Height() uint32          { return fb.height }

// framebufferHash keys the frame-scoped framebuffer cache: the compatible
// render pass hash folded with the attachment cookies.
func framebufferHash(compatHash uint64, info *RenderPassInfo) uint64 {
	h := NewHasher()
	h.U64(compatHash)
	for i := uint32(0); i < info.NumColorAttachments; i++ {
		if info.ColorAttachments[i] != nil {
			h.U64(info.ColorAttachments[i].Cookie())
		} else {
			h.U64(0)
		}
	}
	if info.DepthStencil != nil {
		h.U64(info.DepthStencil.Cookie())
	} else {
		h.U64(0)
	}
	return h.Get()
}

// framebufferExtent is the element-wise min over attachment extents.
func framebufferExtent(info *RenderPassInfo) (width, height uint32) {
	width, height = ^uint32(0), ^uint32(0)
	for i := uint32(0); i < info.NumColorAttachments; i++ {
		if att := info.ColorAttachments[i]; att != nil {
			width = minU32(width, att.Image().Width())
			height = minU32(height, att.Image().Height())
		}
	}
	if info.DepthStencil != nil {
		width = minU32(width, info.DepthStencil.Image().Width())
		height = minU32(height, info.DepthStencil.Image().Height())
	}
	if width == ^uint32(0) {
		width, height = 0, 0
	}
	return width, height
}

func newFramebuffer(device *CoreDevice, compatPass *RenderPass, info *RenderPassInfo) (*Framebuffer, error) {
	width, height := framebufferExtent(info)

	var views []vk.ImageView
	for i := uint32(0); i < info.NumColorAttachments; i++ {
		if att := info.ColorAttachments[i]; att != nil {
			views = append(views, att.RenderTargetView(0))
		}
	}
	if info.DepthStencil != nil {
		views = append(views, info.DepthStencil.Handle())
	}

	var framebuffer vk.Framebuffer
	ret := vk.CreateFramebuffer(device.device, &vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      compatPass.Handle(),
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           width,
		Height:          height,
		Layers:          1,
	}, nil, &framebuffer)
	if isError(ret) {
		logger().Error("framebuffer creation failed", "result", int32(ret))
		return nil, NewError(ret)
	}

	return &Framebuffer{
		device:      device,
		framebuffer: framebuffer,
		renderPass:  compatPass,
		width:       width,
		height:      height,
	}, nil
}

func (fb *Framebuffer) destroy() {
	if fb.framebuffer != vk.NullFramebuffer {
		vk.DestroyFramebuffer(fb.device.device, fb.framebuffer, nil)
		fb.framebuffer = vk.NullFramebuffer
	}
}
