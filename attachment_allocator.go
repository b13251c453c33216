package neptunevk

import vk "github.com/goki/vulkan"

// TransientAttachmentAllocator hands out frame-lifetime lazily allocated
// images, reusing an existing image whenever the request hash matches one
// already alive this frame or the previous one.
type TransientAttachmentAllocator struct {
	device      *CoreDevice
	attachments *TempHashMap[Image]
}

func newTransientAttachmentAllocator(device *CoreDevice) *TransientAttachmentAllocator {
	a := &TransientAttachmentAllocator{device: device}
	a.attachments = NewTempHashMap[Image](func(img *Image) {
		img.Release()
	})
	return a
}

func (a *TransientAttachmentAllocator) BeginFrame() {
	a.attachments.BeginFrame()
}

func (a *TransientAttachmentAllocator) Clear() {
	a.attachments.Clear()
}

// RequestAttachment returns a transient image matching the key, creating it
// on first use. The image is internally synced: it may be returned to
// multiple render passes within a frame.
func (a *TransientAttachmentAllocator) RequestAttachment(width, height uint32, format vk.Format, index, samples, layers uint32) *Image {
	h := NewHasher()
	h.U32(width).U32(height).U32(uint32(format)).U32(index).U32(samples).U32(layers)
	hash := h.Get()

	if img := a.attachments.Request(hash); img != nil {
		return img
	}

	info := TransientRenderTarget2D(width, height, format)
	info.Samples = vk.SampleCountFlagBits(samples)
	info.Layers = layers
	img := a.device.CreateImageNolock(info, nil)
	if img == nil {
		return nil
	}
	img.markInternalSync()
	a.attachments.Emplace(hash, img)
	return img
}

// FramebufferAllocator caches frame-scoped framebuffers keyed by
// render-pass compatibility and attachment cookies.
type FramebufferAllocator struct {
	device       *CoreDevice
	framebuffers *TempHashMap[Framebuffer]
}

func newFramebufferAllocator(device *CoreDevice) *FramebufferAllocator {
	a := &FramebufferAllocator{device: device}
	a.framebuffers = NewTempHashMap[Framebuffer](func(fb *Framebuffer) {
		fb.destroy()
	})
	return a
}

func (a *FramebufferAllocator) BeginFrame() {
	a.framebuffers.BeginFrame()
}

func (a *FramebufferAllocator) Clear() {
	a.framebuffers.Clear()
}

// RequestFramebuffer returns the framebuffer for the info's attachments
// under the info's compatible render pass, creating it on first use.
func (a *FramebufferAllocator) RequestFramebuffer(info *RenderPassInfo) *Framebuffer {
	compatPass := a.device.requestRenderPassNolock(info, true)
	if compatPass == nil {
		return nil
	}
	hash := framebufferHash(compatPass.Hash(), info)
	if fb := a.framebuffers.Request(hash); fb != nil {
		return fb
	}
	fb, err := newFramebuffer(a.device, compatPass, info)
	if err != nil {
		return nil
	}
	a.framebuffers.Emplace(hash, fb)
	return fb
}
