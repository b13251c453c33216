package neptunevk

import (
	vk "github.com/goki/vulkan"
)

// CoreSwapchain owns the VkSwapchainKHR and wraps each backbuffer as a
// borrowed Image with present-source swap-chain layout.
type CoreSwapchain struct {
	device     *CoreDevice
	swapchain  vk.Swapchain
	surface    vk.Surface
	format     vk.SurfaceFormat
	extent     vk.Extent2D
	images     []*Image
	imageIndex uint32
	desc       SwapChainDesc
}

func (s *CoreSwapchain) Handle() vk.Swapchain { return s.swapchain }
func (s *CoreSwapchain) Extent() vk.Extent2D  { return s.extent }
func (s *CoreSwapchain) ImageCount() int      { return len(s.images) }
func (s *CoreSwapchain) ImageIndex() uint32   { return s.imageIndex }

// Image returns the borrowed backbuffer wrapper for one slot.
func (s *CoreSwapchain) Image(index uint32) *Image {
	if int(index) >= len(s.images) {
		return nil
	}
	return s.images[index]
}

// CurrentImage returns the backbuffer acquired most recently.
func (s *CoreSwapchain) CurrentImage() *Image {
	return s.Image(s.imageIndex)
}

// CreateSwapchain builds or rebuilds the swap chain against a surface. A
// zero-sized request reports NoSurface and leaves the old swap chain
// untouched.
func (d *CoreDevice) CreateSwapchain(desc SwapChainDesc, surface vk.Surface, old *CoreSwapchain) (*CoreSwapchain, SwapchainError) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, SwapchainErrorNoSurface
	}

	var surfaceCapabilities vk.SurfaceCapabilities
	ret := vk.GetPhysicalDeviceSurfaceCapabilities(d.gpu, surface, &surfaceCapabilities)
	if isError(ret) {
		return nil, SwapchainErrorError
	}
	surfaceCapabilities.Deref()
	surfaceCapabilities.CurrentExtent.Deref()
	surfaceCapabilities.MinImageExtent.Deref()
	surfaceCapabilities.MaxImageExtent.Deref()

	// Clamp the requested size to the surface limits.
	extent := vk.Extent2D{
		Width:  clampU32(desc.Width, surfaceCapabilities.MinImageExtent.Width, surfaceCapabilities.MaxImageExtent.Width),
		Height: clampU32(desc.Height, surfaceCapabilities.MinImageExtent.Height, surfaceCapabilities.MaxImageExtent.Height),
	}
	if surfaceCapabilities.CurrentExtent.Width != vk.MaxUint32 {
		extent = surfaceCapabilities.CurrentExtent
	}

	// Pick the first supported color format matching the request that can
	// render and blend.
	var formatCount uint32
	vk.GetPhysicalDeviceSurfaceFormats(d.gpu, surface, &formatCount, nil)
	formats := make([]vk.SurfaceFormat, formatCount)
	vk.GetPhysicalDeviceSurfaceFormats(d.gpu, surface, &formatCount, formats)
	if formatCount == 0 {
		return nil, SwapchainErrorError
	}

	preferred := desc.Format
	if preferred == vk.FormatUndefined {
		preferred = vk.FormatB8g8r8a8Unorm
	}
	var format vk.SurfaceFormat
	found := false
	for i := uint32(0); i < formatCount; i++ {
		formats[i].Deref()
		candidate := formats[i].Format
		if candidate != preferred && candidate != vk.FormatR8g8b8a8Unorm && candidate != vk.FormatB8g8r8a8Unorm {
			continue
		}
		var props vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(d.gpu, candidate, &props)
		props.Deref()
		want := vk.FormatFeatureFlags(vk.FormatFeatureColorAttachmentBit | vk.FormatFeatureColorAttachmentBlendBit)
		if props.OptimalTilingFeatures&want == want {
			format = formats[i]
			found = true
			break
		}
	}
	if !found {
		formats[0].Deref()
		format = formats[0]
		if format.Format == vk.FormatUndefined {
			format.Format = preferred
		}
	}

	presentMode := vk.PresentModeFifo
	if !desc.VSync {
		var modeCount uint32
		vk.GetPhysicalDeviceSurfacePresentModes(d.gpu, surface, &modeCount, nil)
		modes := make([]vk.PresentMode, modeCount)
		vk.GetPhysicalDeviceSurfacePresentModes(d.gpu, surface, &modeCount, modes)
		for _, mode := range modes {
			if mode == vk.PresentModeImmediate || mode == vk.PresentModeMailbox {
				presentMode = mode
				break
			}
		}
	}

	imageCount := desc.BufferCount
	if imageCount == 0 {
		imageCount = surfaceCapabilities.MinImageCount + 1
	}
	imageCount = maxU32(imageCount, surfaceCapabilities.MinImageCount)
	if surfaceCapabilities.MaxImageCount > 0 {
		imageCount = minU32(imageCount, surfaceCapabilities.MaxImageCount)
	}

	oldHandle := vk.NullSwapchain
	if old != nil {
		oldHandle = old.swapchain
	}

	var swapchain vk.Swapchain
	ret = vk.CreateSwapchain(d.device, &vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          surface,
		MinImageCount:    imageCount,
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     vk.SurfaceTransformIdentityBit,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
		OldSwapchain:     oldHandle,
	}, nil, &swapchain)
	if isError(ret) {
		logger().Error("swapchain creation failed", "result", int32(ret))
		return nil, SwapchainErrorError
	}

	if old != nil {
		old.teardown(false)
	}

	s := &CoreSwapchain{
		device:    d,
		swapchain: swapchain,
		surface:   surface,
		format:    format,
		extent:    extent,
		desc:      desc,
	}

	var count uint32
	vk.GetSwapchainImages(d.device, swapchain, &count, nil)
	backbuffers := make([]vk.Image, count)
	vk.GetSwapchainImages(d.device, swapchain, &count, backbuffers)

	for _, backbuffer := range backbuffers {
		img := &Image{
			device: d,
			image:  backbuffer,
			cookie: NewCookie(),
			info: ImageCreateInfo{
				Domain:  ImageDomainPhysical,
				Width:   extent.Width,
				Height:  extent.Height,
				Depth:   1,
				Levels:  1,
				Layers:  1,
				Format:  format.Format,
				Type:    vk.ImageType2d,
				Usage:   vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
				Samples: vk.SampleCount1Bit,
			},
			layoutType:      ImageLayoutOptimal,
			swapchainLayout: vk.ImageLayoutPresentSrc,
			ownsImage:       false,
			ownsMemory:      false,
			refs:            1,
		}
		img.view = d.createDefaultViews(img)
		img.markInternalSync()
		s.images = append(s.images, img)
	}

	d.mu.Lock()
	d.wsi.swapchain = s
	d.mu.Unlock()
	return s, SwapchainErrorNone
}

func (s *CoreSwapchain) teardown(destroyImages bool) {
	s.device.mu.Lock()
	for _, img := range s.images {
		if img.view != nil {
			img.view.Release()
		}
	}
	s.device.mu.Unlock()
	s.images = nil
	if destroyImages && s.swapchain != vk.NullSwapchain {
		vk.DestroySwapchain(s.device.device, s.swapchain, nil)
		s.swapchain = vk.NullSwapchain
	}
}

// Destroy releases the swap chain and its borrowed images.
func (s *CoreSwapchain) Destroy() {
	s.teardown(true)
}

// AcquireNextImage blocks for the next backbuffer and parks the acquire
// semaphore for the first swap-chain-touching submission.
func (s *CoreSwapchain) AcquireNextImage() (uint32, error) {
	d := s.device
	acquire := d.RequestSemaphore()

	var index uint32
	ret := vk.AcquireNextImage(d.device, s.swapchain, vk.MaxUint64, acquire.Handle(), vk.NullFence, &index)
	if isError(ret) && ret != vk.Suboptimal {
		acquire.shouldDestroy = true
		acquire.Release()
		return 0, NewError(ret)
	}
	acquire.signalled = true
	s.imageIndex = index

	d.mu.Lock()
	if d.wsi.acquireSemaphore != nil {
		d.wsi.acquireSemaphore.Release()
	}
	d.wsi.acquireSemaphore = acquire
	d.wsi.touched = false
	d.mu.Unlock()
	return index, nil
}

// Present hands the acquired image back through the queue recorded at
// submit time, waiting on the release semaphore emitted by the first
// swap-chain batch.
func (s *CoreSwapchain) Present() error {
	d := s.device
	d.mu.Lock()
	release := d.wsi.releaseSemaphore
	d.wsi.releaseSemaphore = nil
	presentQueue := d.wsi.presentQueue
	d.mu.Unlock()

	presentInfo := vk.PresentInfo{
		SType:          vk.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vk.Swapchain{s.swapchain},
		PImageIndices:  []uint32{s.imageIndex},
	}
	if release != nil {
		presentInfo.WaitSemaphoreCount = 1
		presentInfo.PWaitSemaphores = []vk.Semaphore{release.Handle()}
	}
	ret := vk.QueuePresent(d.queueInfo.queues[presentQueue], &presentInfo)
	if release != nil {
		// Presentation consumed the semaphore; recycle the handle once the
		// frame drains.
		handle := release.Consume()
		d.mu.Lock()
		d.recycleSemaphoreNolock(handle)
		d.mu.Unlock()
		release.Release()
	}
	if isError(ret) && ret != vk.Suboptimal {
		return NewError(ret)
	}
	return nil
}
