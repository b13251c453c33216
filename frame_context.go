package neptunevk

import (
	vk "github.com/goki/vulkan"
)

type bindlessFree struct {
	heap  *BindlessDescriptorHeap
	index int32
}

// frameContext is the per-in-flight-frame bag of command pools, destruction
// queues, recycle lists, pending submissions and timeline snapshots. All
// entry points run under the device mutex.
type frameContext struct {
	device *CoreDevice
	index  int

	// Per-queue command pools indexed by thread.
	cmdPools [QueueCount][]*CommandPool

	destroyedFramebuffers    []vk.Framebuffer
	destroyedSamplers        []vk.Sampler
	destroyedImages          []vk.Image
	destroyedImageViews      []vk.ImageView
	destroyedBuffers         []vk.Buffer
	destroyedBufferViews     []vk.BufferView
	destroyedDescriptorPools []vk.DescriptorPool
	destroyedSemaphores      []vk.Semaphore
	destroyedPipelines       []vk.Pipeline
	destroyedShaderModules   []vk.ShaderModule
	freedAllocations         []*DeviceAllocation
	freedBindless            []bindlessFree

	recycledSemaphores []vk.Semaphore
	recycledEvents     []vk.Event
	recycledFences     []vk.Fence
	waitFences         []vk.Fence

	submissions    [QueueCount][]*CommandList
	timelineValues [QueueCount]uint64

	vboBlocks     []*BufferBlock
	iboBlocks     []*BufferBlock
	uboBlocks     []*BufferBlock
	stagingBlocks []*BufferBlock
	storageBlocks []*BufferBlock

	// Persistent per-command-list storage binding blocks.
	storageBindings map[vk.CommandBuffer]*BufferBlock
}

func newFrameContext(device *CoreDevice, index int) *frameContext {
	f := &frameContext{
		device: device,
		index:  index,
	}
	f.storageBindings = make(map[vk.CommandBuffer]*BufferBlock)
	return f
}

// commandPool returns the pool for one queue and thread, creating it on
// first use.
func (f *frameContext) commandPool(queue int, threadIndex int) *CommandPool {
	pools := f.cmdPools[queue]
	for threadIndex >= len(pools) {
		pool, err := NewCommandPool(f.device.device, f.device.queueInfo.familyIndices[queue])
		if err != nil {
			logger().Error("frame context: command pool creation failed", "queue", queue, "err", err)
			return nil
		}
		pools = append(pools, pool)
		f.cmdPools[queue] = pools
	}
	return pools[threadIndex]
}

// begin waits for this frame's recorded timeline values, then reclaims
// everything the frame deferred: command pools reset, buffer blocks
// recycled, destruction queues drained.
func (f *frameContext) begin() {
	dev := f.device

	// Prove the GPU is done with this frame before touching anything.
	var waitSems []vk.Semaphore
	var waitValues []uint64
	for q := 0; q < QueueCount; q++ {
		if f.timelineValues[q] != 0 && dev.queueInfo.timelineSemaphores[q] != vk.NullSemaphore {
			waitSems = append(waitSems, dev.queueInfo.timelineSemaphores[q])
			waitValues = append(waitValues, f.timelineValues[q])
		}
	}
	if len(waitSems) > 0 {
		waitInfo := vk.SemaphoreWaitInfo{
			SType:          vk.StructureTypeSemaphoreWaitInfo,
			SemaphoreCount: uint32(len(waitSems)),
			PSemaphores:    waitSems,
			PValues:        waitValues,
		}
		if ret := vk.WaitSemaphores(dev.device, &waitInfo, vk.MaxUint64); isError(ret) {
			logger().Error("frame context: timeline wait failed", "result", int32(ret))
		}
	}

	if len(f.waitFences) > 0 {
		vk.WaitForFences(dev.device, uint32(len(f.waitFences)), f.waitFences, vk.True, vk.MaxUint64)
		vk.ResetFences(dev.device, uint32(len(f.waitFences)), f.waitFences)
		for _, fence := range f.waitFences {
			dev.fencePool.Recycle(fence)
		}
		f.waitFences = nil
	}
	for _, fence := range f.recycledFences {
		vk.ResetFences(dev.device, 1, []vk.Fence{fence})
		dev.fencePool.Recycle(fence)
	}
	f.recycledFences = nil

	for q := 0; q < QueueCount; q++ {
		for _, pool := range f.cmdPools[q] {
			pool.BeginFrame()
		}
	}

	for _, block := range f.vboBlocks {
		dev.vboPool.RecycleBlock(block)
	}
	for _, block := range f.iboBlocks {
		dev.iboPool.RecycleBlock(block)
	}
	for _, block := range f.uboBlocks {
		dev.uboPool.RecycleBlock(block)
	}
	for _, block := range f.stagingBlocks {
		dev.stagingPool.RecycleBlock(block)
	}
	for _, block := range f.storageBlocks {
		dev.storagePool.RecycleBlock(block)
	}
	f.vboBlocks = f.vboBlocks[:0]
	f.iboBlocks = f.iboBlocks[:0]
	f.uboBlocks = f.uboBlocks[:0]
	f.stagingBlocks = f.stagingBlocks[:0]
	f.storageBlocks = f.storageBlocks[:0]
	for cmd, block := range f.storageBindings {
		block.offset = 0
		delete(f.storageBindings, cmd)
		dev.storagePool.RecycleBlock(block)
	}

	for _, fb := range f.destroyedFramebuffers {
		vk.DestroyFramebuffer(dev.device, fb, nil)
	}
	for _, s := range f.destroyedSamplers {
		vk.DestroySampler(dev.device, s, nil)
	}
	for _, v := range f.destroyedImageViews {
		vk.DestroyImageView(dev.device, v, nil)
	}
	for _, img := range f.destroyedImages {
		vk.DestroyImage(dev.device, img, nil)
	}
	for _, b := range f.destroyedBuffers {
		vk.DestroyBuffer(dev.device, b, nil)
	}
	for _, v := range f.destroyedBufferViews {
		vk.DestroyBufferView(dev.device, v, nil)
	}
	for _, p := range f.destroyedDescriptorPools {
		vk.DestroyDescriptorPool(dev.device, p, nil)
	}
	for _, s := range f.destroyedSemaphores {
		vk.DestroySemaphore(dev.device, s, nil)
	}
	for _, p := range f.destroyedPipelines {
		vk.DestroyPipeline(dev.device, p, nil)
	}
	for _, m := range f.destroyedShaderModules {
		vk.DestroyShaderModule(dev.device, m, nil)
	}
	for _, alloc := range f.freedAllocations {
		dev.allocator.Free(alloc)
	}
	for _, free := range f.freedBindless {
		free.heap.Free(free.index)
	}
	f.destroyedFramebuffers = f.destroyedFramebuffers[:0]
	f.destroyedSamplers = f.destroyedSamplers[:0]
	f.destroyedImageViews = f.destroyedImageViews[:0]
	f.destroyedImages = f.destroyedImages[:0]
	f.destroyedBuffers = f.destroyedBuffers[:0]
	f.destroyedBufferViews = f.destroyedBufferViews[:0]
	f.destroyedDescriptorPools = f.destroyedDescriptorPools[:0]
	f.destroyedSemaphores = f.destroyedSemaphores[:0]
	f.destroyedPipelines = f.destroyedPipelines[:0]
	f.destroyedShaderModules = f.destroyedShaderModules[:0]
	f.freedAllocations = f.freedAllocations[:0]
	f.freedBindless = f.freedBindless[:0]

	for _, s := range f.recycledSemaphores {
		dev.semaphorePool.Recycle(s)
	}
	f.recycledSemaphores = f.recycledSemaphores[:0]
	for _, e := range f.recycledEvents {
		dev.eventPool.Recycle(e)
	}
	f.recycledEvents = f.recycledEvents[:0]

	for q := 0; q < QueueCount; q++ {
		f.timelineValues[q] = 0
	}
}

func (f *frameContext) destroy() {
	f.begin()
	for q := 0; q < QueueCount; q++ {
		for _, pool := range f.cmdPools[q] {
			pool.Destroy()
		}
		f.cmdPools[q] = nil
	}
}
