package neptunevk

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestDevice brings up a real device through GLFW, skipping on machines
// without a Vulkan ICD or display.
func newTestDevice(t *testing.T) (*CoreDevice, *CoreSwapchain, *GLFWPlatform) {
	t.Helper()
	platform, err := NewGLFWPlatform(320, 240, "neptunevk-test")
	if err != nil {
		t.Skipf("no windowing/vulkan available: %v", err)
	}
	device, swapchain, ok := NewDeviceForPlatform(platform, InstanceOptions{
		AppName:        "neptunevk-test",
		FramesInFlight: 2,
	})
	if !ok {
		platform.Destroy()
		t.Skip("vulkan device bring-up failed on this machine")
	}
	t.Cleanup(func() {
		device.Destroy()
		platform.Destroy()
	})
	return device, swapchain, platform
}

func TestEmptySubmitAdvancesTimeline(t *testing.T) {
	device, _, _ := newTestDevice(t)

	before := device.TimelineValue(QueueGraphics)
	fence, _ := device.SubmitQueue(QueueGraphics, true, 0)
	require.NotNil(t, fence)
	require.NoError(t, fence.Wait())
	fence.Release()

	assert.Equal(t, before+1, device.TimelineValue(QueueGraphics))
}

func TestTimelineStrictlyMonotonic(t *testing.T) {
	device, _, _ := newTestDevice(t)

	var last uint64
	for i := 0; i < 4; i++ {
		fence, _ := device.SubmitQueue(QueueGraphics, true, 0)
		require.NoError(t, fence.Wait())
		fence.Release()
		value := device.TimelineValue(QueueGraphics)
		assert.Greater(t, value, last)
		last = value
	}
}

func TestCommandListWithoutDrawsStillSubmits(t *testing.T) {
	device, _, _ := newTestDevice(t)

	cmd := device.RequestCommandList(QueueGraphics)
	require.NotNil(t, cmd)
	before := device.TimelineValue(QueueGraphics)
	fence := device.SubmitWithFence(cmd)
	require.NotNil(t, fence)
	require.NoError(t, fence.Wait())
	fence.Release()
	assert.Greater(t, device.TimelineValue(QueueGraphics), before)
}

func TestStagingBufferRoundTrip(t *testing.T) {
	device, _, _ := newTestDevice(t)

	payload := make([]byte, 1024)
	for i := range payload {
		payload[i] = 0xAB
	}
	buffer := device.CreateBuffer(BufferCreateInfo{
		Domain: BufferDomainDevice,
		Size:   1024,
		Usage:  vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit),
	}, payload)
	require.NotNil(t, buffer)
	device.WaitIdle()

	readback := device.CreateBuffer(BufferCreateInfo{
		Domain: BufferDomainCachedHost,
		Size:   1024,
		Usage:  vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
	}, nil)
	require.NotNil(t, readback)

	cmd := device.RequestCommandList(QueueTransfer)
	require.NotNil(t, cmd)
	cmd.CopyBuffer(readback, buffer, 0, 0, 1024)
	fence := device.SubmitWithFence(cmd)
	require.NoError(t, fence.Wait())
	fence.Release()

	ptr := device.Allocator().Map(readback.Allocation(), MemoryAccessRead, 0, 1024)
	require.NotNil(t, ptr)
	data := unsafeBytes(ptr, 1024)
	for i, b := range data {
		require.Equal(t, byte(0xAB), b, "byte %d", i)
	}
	device.Allocator().Unmap(readback.Allocation(), MemoryAccessRead, 0, 1024)

	buffer.Release()
	readback.Release()
	device.NextFrameContext()
	device.NextFrameContext()
}

func TestFramebufferCacheIdentity(t *testing.T) {
	device, swapchain, _ := newTestDevice(t)
	require.NotNil(t, swapchain)

	view := swapchain.Image(0).View()
	require.NotNil(t, view)

	cleared := colorOnlyPass(view, 1)
	loaded := colorOnlyPass(view, 0)
	loaded.LoadAttachments = 1

	passA := device.RequestRenderPass(&cleared, false)
	passB := device.RequestRenderPass(&loaded, false)
	require.NotNil(t, passA)
	require.NotNil(t, passB)
	assert.NotEqual(t, passA.Cookie(), passB.Cookie())

	// Same concrete pass requested twice yields the same cookie.
	passA2 := device.RequestRenderPass(&cleared, false)
	assert.Equal(t, passA.Cookie(), passA2.Cookie())

	// Op differences collapse under the compatible variant, so both infos
	// resolve to the same framebuffer.
	fbA, _, _ := device.requestRenderPassState(&cleared)
	fbB, _, _ := device.requestRenderPassState(&loaded)
	require.NotNil(t, fbA)
	assert.Equal(t, fbA.Handle(), fbB.Handle())
}

func TestSwapchainPresentRoundTrip(t *testing.T) {
	device, swapchain, _ := newTestDevice(t)
	require.NotNil(t, swapchain)

	seen := map[uint32]bool{}
	for i := 0; i < 3; i++ {
		index, err := swapchain.AcquireNextImage()
		require.NoError(t, err)
		seen[index] = true

		info := colorOnlyPass(swapchain.CurrentImage().View(), 1)
		cmd := device.RequestCommandList(QueueGraphics)
		require.NotNil(t, cmd)
		cmd.BeginRenderPass(&info)
		cmd.EndRenderPass()
		device.Submit(cmd)
		device.FlushFrame(QueueGraphics)

		require.NoError(t, swapchain.Present())
		device.NextFrameContext()
	}
	assert.NotEmpty(t, seen)
}

func TestBindlessIndexDeferredRecycle(t *testing.T) {
	device, _, _ := newTestDevice(t)

	buffer := device.CreateBuffer(BufferCreateInfo{
		Domain: BufferDomainLinkedDeviceHost,
		Size:   256,
		Usage:  vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit),
	}, nil)
	require.NotNil(t, buffer)

	a := device.AllocateStorageBufferHandle(buffer, 0, 256)
	b := device.AllocateStorageBufferHandle(buffer, 0, 256)
	c := device.AllocateStorageBufferHandle(buffer, 0, 256)
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.NotNil(t, c)
	freed := b.Index()
	b.Release()

	// The freed index is still deferred: a new allocation extends the high
	// water mark instead.
	d1 := device.AllocateStorageBufferHandle(buffer, 0, 256)
	require.NotNil(t, d1)
	assert.NotEqual(t, freed, d1.Index())

	// After the frame that freed it fully drains, the index comes back.
	device.NextFrameContext()
	device.NextFrameContext()
	d2 := device.AllocateStorageBufferHandle(buffer, 0, 256)
	require.NotNil(t, d2)
	assert.Equal(t, freed, d2.Index())

	a.Release()
	c.Release()
	d1.Release()
	d2.Release()
	buffer.Release()
}

func TestZeroSizedSwapchainResize(t *testing.T) {
	device, swapchain, _ := newTestDevice(t)
	require.NotNil(t, swapchain)

	_, err := device.CreateSwapchain(SwapChainDesc{Width: 0, Height: 600}, swapchain.surface, swapchain)
	assert.Equal(t, SwapchainErrorNoSurface, err)
	// The old swap chain is untouched and still presentable.
	assert.NotEqual(t, vk.NullSwapchain, swapchain.Handle())
}

func TestDestructionDeferredUntilFrameReturns(t *testing.T) {
	device, _, _ := newTestDevice(t)

	buffer := device.CreateBuffer(BufferCreateInfo{
		Domain: BufferDomainLinkedDeviceHost,
		Size:   64,
		Usage:  vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit),
	}, nil)
	require.NotNil(t, buffer)

	buffer.Release()
	// The enqueueing frame has not come back around yet.
	frame := device.frames[device.frameIndex]
	assert.NotEmpty(t, frame.destroyedBuffers)

	for i := 0; i < len(device.frames); i++ {
		device.NextFrameContext()
	}
	assert.Empty(t, frame.destroyedBuffers)
}
