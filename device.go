package neptunevk

import (
	"sync"

	vk "github.com/goki/vulkan"
)

// QueueInfo carries the device's graphics / async-compute / async-transfer
// queue triple. Families that the hardware does not split fall back to the
// graphics family.
type QueueInfo struct {
	queues             [QueueCount]vk.Queue
	familyIndices      [QueueCount]uint32
	timelineSemaphores [QueueCount]vk.Semaphore
	timelineValues     [QueueCount]uint64
}

func (q *QueueInfo) Queue(index int) vk.Queue          { return q.queues[index] }
func (q *QueueInfo) FamilyIndex(index int) uint32      { return q.familyIndices[index] }
func (q *QueueInfo) TimelineValue(index int) uint64    { return q.timelineValues[index] }

// DeviceFeatures records the optional capabilities probed at bring-up.
type DeviceFeatures struct {
	supportsSurfaceCaps2 bool
	supportsCheckpoints  bool
	timelineSemaphore    bool
}

type poolClass int

const (
	poolClassVBO poolClass = iota
	poolClassIBO
	poolClassUBO
	poolClassStaging
	poolClassStorage
)

type queueSubmissionState struct {
	waitSemaphores []*Semaphore
	waitStages     []vk.PipelineStageFlags
	lastCheckpoint string
}

// CoreDevice owns the logical GPU: its queues, allocators, caches and
// pools, the in-flight frame contexts, and the submission state machine.
// One coarse mutex guards the state machine; resources marked internally
// synced use the *_nolock entry points under an already-held lock.
type CoreDevice struct {
	device           vk.Device
	gpu              vk.PhysicalDevice
	instance         vk.Instance
	gpuProperties    vk.PhysicalDeviceProperties
	queueInfo        QueueInfo
	features         DeviceFeatures

	mu           sync.Mutex
	cond         *sync.Cond
	frameCounter int

	allocator     *DeviceAllocator
	fencePool     *FencePool
	semaphorePool *SemaphorePool
	eventPool     *EventPool

	renderPasses     *VulkanCache[RenderPass]
	pipelineLayouts  *VulkanCache[PipelineLayout]
	setAllocators    *VulkanCache[DescriptorSetAllocator]
	immutableSamplers *VulkanCache[Sampler]
	samplersByCookie map[uint64]*Sampler

	framebufferAllocator *FramebufferAllocator
	transientAllocator   *TransientAttachmentAllocator
	shaderManager        *ShaderManager

	stockSamplers [StockSamplerCount]*Sampler

	bindlessHeaps [BindlessClassCount]*BindlessDescriptorHeap

	vboPool     BufferPool
	iboPool     BufferPool
	uboPool     BufferPool
	stagingPool BufferPool
	storagePool BufferPool

	frames     []*frameContext
	frameIndex int

	pipelineCache vk.PipelineCache

	perQueue [QueueCount]queueSubmissionState

	wsi deviceWSIState

	emptyAllocator *DescriptorSetAllocator

	exportDir string
}

// deviceWSIState is the per-frame swap-chain hand-off: the acquire
// semaphore consumed by the first swap-chain-touching submission and the
// release semaphore handed to present.
type deviceWSIState struct {
	swapchain        *CoreSwapchain
	acquireSemaphore *Semaphore
	releaseSemaphore *Semaphore
	presentQueue     int
	touched          bool
}

// NewCoreDevice wraps an initialized logical device. The platform layer
// (NewDeviceForPlatform) is the usual entry; tests may bring their own handles.
func NewCoreDevice(instance vk.Instance, gpu vk.PhysicalDevice, device vk.Device, queueInfo QueueInfo, features DeviceFeatures, framesInFlight int) *CoreDevice {
	d := &CoreDevice{
		device:    device,
		gpu:       gpu,
		instance:  instance,
		queueInfo: queueInfo,
		features:  features,
		exportDir: ".export",
	}
	d.cond = sync.NewCond(&d.mu)
	vk.GetPhysicalDeviceProperties(gpu, &d.gpuProperties)
	d.gpuProperties.Deref()
	d.gpuProperties.Limits.Deref()

	d.allocator = NewDeviceAllocator(device, gpu, d.gpuProperties)
	d.fencePool = NewFencePool(device)
	d.semaphorePool = NewSemaphorePool(device)
	d.eventPool = NewEventPool(device)

	d.renderPasses = NewVulkanCache[RenderPass]()
	d.pipelineLayouts = NewVulkanCache[PipelineLayout]()
	d.setAllocators = NewVulkanCache[DescriptorSetAllocator]()
	d.immutableSamplers = NewVulkanCache[Sampler]()
	d.samplersByCookie = make(map[uint64]*Sampler)

	d.framebufferAllocator = newFramebufferAllocator(d)
	d.transientAllocator = newTransientAttachmentAllocator(d)
	d.shaderManager = newShaderManager(d)

	for q := 0; q < QueueCount; q++ {
		if d.queueInfo.timelineSemaphores[q] == vk.NullSemaphore {
			sem, err := createTimelineSemaphore(device, 0)
			if err != nil {
				logger().Error("timeline semaphore creation failed", "queue", q, "err", err)
			}
			d.queueInfo.timelineSemaphores[q] = sem
		}
	}

	limits := d.gpuProperties.Limits
	d.vboPool.Init(d, 4*1024*1024, 16, vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit), 8)
	d.iboPool.Init(d, 4*1024*1024, 16, vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit), 8)
	d.uboPool.Init(d, 1024*1024, uint64(limits.MinUniformBufferOffsetAlignment),
		vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit), 8)
	d.uboPool.SetSpillSize(MaxUBOSize)
	d.stagingPool.Init(d, 8*1024*1024, uint64(limits.OptimalBufferCopyOffsetAlignment),
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit), 4)
	storageAlign := maxU64(uint64(limits.MinStorageBufferOffsetAlignment), 256)
	d.storagePool.Init(d, 8*1024*1024, storageAlign,
		vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit|vk.BufferUsageUniformBufferBit|vk.BufferUsageUniformTexelBufferBit), 4)
	d.storagePool.SetBindlessEnabled(true)

	if framesInFlight < 1 {
		framesInFlight = 2
	}
	for i := 0; i < framesInFlight; i++ {
		d.frames = append(d.frames, newFrameContext(d, i))
	}

	for stock := StockSampler(0); stock < StockSamplerCount; stock++ {
		info := stockSamplerInfo(stock)
		d.stockSamplers[stock] = d.requestImmutableSampler(&info)
	}

	d.bindlessHeaps[BindlessSampledImage] = newBindlessDescriptorHeap(d, BindlessSampledImage, vulkanNumBindlessDescriptors)
	d.bindlessHeaps[BindlessStorageBuffer] = newBindlessDescriptorHeap(d, BindlessStorageBuffer, vulkanNumBindlessDescriptors)
	d.bindlessHeaps[BindlessStorageImage] = newBindlessDescriptorHeap(d, BindlessStorageImage, vulkanNumBindlessDescriptors)
	d.bindlessHeaps[BindlessSampler] = newBindlessDescriptorHeap(d, BindlessSampler, 1024)

	d.initPipelineCache()
	return d
}

func (d *CoreDevice) Handle() vk.Device            { return d.device }
func (d *CoreDevice) PhysicalDevice() vk.PhysicalDevice { return d.gpu }
func (d *CoreDevice) Instance() vk.Instance        { return d.instance }
func (d *CoreDevice) ShaderManager() *ShaderManager { return d.shaderManager }
func (d *CoreDevice) Allocator() *DeviceAllocator  { return d.allocator }

func (d *CoreDevice) frame() *frameContext {
	return d.frames[d.frameIndex]
}

// TimelineValue reads a queue's last submitted timeline value.
func (d *CoreDevice) TimelineValue(queue int) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queueInfo.timelineValues[queue]
}

// BindlessHeap exposes the per-class bindless descriptor tables.
func (d *CoreDevice) BindlessHeap(class BindlessResourceClass) *BindlessDescriptorHeap {
	return d.bindlessHeaps[class]
}

// RequestCommandList reserves a command buffer from this frame's pool for
// the calling thread and begins recording.
func (d *CoreDevice) RequestCommandList(queue int) *CommandList {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requestCommandListNolock(queue, threadIndex())
}

func (d *CoreDevice) requestCommandListNolock(queue, thread int) *CommandList {
	pool := d.frame().commandPool(queue, thread)
	if pool == nil {
		return nil
	}
	buf := pool.RequestCommandBuffer()
	if buf == nil {
		return nil
	}
	ret := vk.BeginCommandBuffer(buf, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	})
	if isError(ret) {
		logger().Error("begin command buffer failed", "result", int32(ret))
		return nil
	}
	d.frameCounter++
	return newCommandList(d, buf, queue, thread)
}

// Submit ends the command list and parks it on the frame's submission list
// for batched flushing.
func (d *CoreDevice) Submit(cmd *CommandList) {
	d.submit(cmd, false, 0)
}

// SubmitWithFence submits immediately and returns a waitable fence.
func (d *CoreDevice) SubmitWithFence(cmd *CommandList) *Fence {
	fence, _ := d.submit(cmd, true, 0)
	return fence
}

// SubmitWithSignals submits immediately, returning a fence when requested
// plus numSignals freshly signalled binary semaphores.
func (d *CoreDevice) SubmitWithSignals(cmd *CommandList, needFence bool, numSignals int) (*Fence, []*Semaphore) {
	return d.submit(cmd, needFence, numSignals)
}

func (d *CoreDevice) submit(cmd *CommandList, needFence bool, numSignals int) (*Fence, []*Semaphore) {
	d.mu.Lock()
	defer d.mu.Unlock()

	queue := cmd.QueueType()
	ret := vk.EndCommandBuffer(cmd.Handle())
	if isError(ret) {
		logger().Error("end command buffer failed", "result", int32(ret))
	}

	// Retire the streaming blocks the list held onto.
	frame := d.frame()
	vbo, ibo, ubo, staging := cmd.ownedBlocks()
	if vbo != nil {
		frame.vboBlocks = append(frame.vboBlocks, vbo)
	}
	if ibo != nil {
		frame.iboBlocks = append(frame.iboBlocks, ibo)
	}
	if ubo != nil {
		frame.uboBlocks = append(frame.uboBlocks, ubo)
	}
	if staging != nil {
		frame.stagingBlocks = append(frame.stagingBlocks, staging)
	}

	frame.submissions[queue] = append(frame.submissions[queue], cmd)

	var fence *Fence
	var semaphores []*Semaphore
	if needFence || numSignals > 0 {
		fence, semaphores = d.submitQueueNolock(queue, needFence, numSignals)
	}

	d.frameCounter--
	d.cond.Broadcast()
	return fence, semaphores
}

// AddWaitSemaphore registers a semaphore the queue's next submission must
// wait on.
func (d *CoreDevice) AddWaitSemaphore(queue int, sem *Semaphore, stages vk.PipelineStageFlags, flush bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if flush {
		d.flushFrameNolock(queue)
	}
	d.addWaitSemaphoreNolock(queue, sem, stages)
}

func (d *CoreDevice) addWaitSemaphoreNolock(queue int, sem *Semaphore, stages vk.PipelineStageFlags) {
	sem.SignalPendingWait()
	state := &d.perQueue[queue]
	state.waitSemaphores = append(state.waitSemaphores, sem)
	state.waitStages = append(state.waitStages, stages)
}

// SubmitQueue flushes a queue's pending submissions, optionally returning a
// fence and signal semaphores.
func (d *CoreDevice) SubmitQueue(queue int, needFence bool, numSignals int) (*Fence, []*Semaphore) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submitQueueNolock(queue, needFence, numSignals)
}

func (d *CoreDevice) submitQueueNolock(queue int, needFence bool, numSignals int) (*Fence, []*Semaphore) {
	// Graphics and compute work conceptually depends on pending transfers.
	if queue != QueueTransfer {
		d.flushFrameNolock(QueueTransfer)
	}

	frame := d.frame()
	submissions := frame.submissions[queue]
	frame.submissions[queue] = nil

	// Advance the timeline even for an empty flush so subsequent waits see
	// progress.
	d.queueInfo.timelineValues[queue]++
	timelineValue := d.queueInfo.timelineValues[queue]
	frame.timelineValues[queue] = timelineValue
	timelineSem := d.queueInfo.timelineSemaphores[queue]

	composer := NewBatchComposer()

	// Collected waits always precede everything in this flush.
	state := &d.perQueue[queue]
	for i, sem := range state.waitSemaphores {
		value := sem.timeline
		handle := sem.Handle()
		if value == 0 {
			// Binary wait: the handle is consumed by the submission.
			handle = sem.Consume()
			frame.destroyedSemaphores = append(frame.destroyedSemaphores, handle)
		}
		composer.AddWaitSemaphore(handle, value, state.waitStages[i])
	}
	state.waitSemaphores = nil
	state.waitStages = nil

	for _, cmd := range submissions {
		if cmd.SwapchainStages() != 0 && !d.wsi.touched {
			// The first swap-chain-touching list waits on the acquire
			// semaphore in its own batch and releases for present after.
			if d.wsi.acquireSemaphore != nil && d.wsi.acquireSemaphore.Handle() != vk.NullSemaphore {
				acquire := d.wsi.acquireSemaphore.Consume()
				frame.destroyedSemaphores = append(frame.destroyedSemaphores, acquire)
				composer.AddWaitSemaphore(acquire, 0, cmd.SwapchainStages())
				d.wsi.acquireSemaphore.Release()
				d.wsi.acquireSemaphore = nil
			}
			composer.AddCommandBuffer(cmd.Handle())
			release := d.semaphorePool.Request()
			d.wsi.releaseSemaphore = &Semaphore{
				device:    d,
				semaphore: release,
				semType:   SemaphoreTypeBinary,
				signalled: true,
				refs:      1,
			}
			composer.AddSignalSemaphore(release, 0)
			d.wsi.presentQueue = queue
			d.wsi.touched = true
		} else {
			composer.AddCommandBuffer(cmd.Handle())
		}
	}

	// Queue-level signals come last: the timeline advance, the fence
	// backing, and caller-requested binary semaphores.
	composer.AddSignalSemaphore(timelineSem, timelineValue)

	var fence *Fence
	if needFence {
		fence = &Fence{
			device:      d,
			timeline:    timelineValue,
			timelineSem: timelineSem,
			refs:        1,
		}
	}
	var signalSemaphores []*Semaphore
	for i := 0; i < numSignals; i++ {
		handle := d.semaphorePool.Request()
		composer.AddSignalSemaphore(handle, 0)
		signalSemaphores = append(signalSemaphores, &Semaphore{
			device:    d,
			semaphore: handle,
			semType:   SemaphoreTypeBinary,
			signalled: true,
			refs:      1,
		})
	}

	submits := composer.Bake()
	if len(submits) > 0 {
		ret := vk.QueueSubmit(d.queueInfo.queues[queue], uint32(len(submits)), submits, vk.NullFence)
		if ret == vk.ErrorDeviceLost {
			d.reportDeviceLost(queue)
		} else if isError(ret) {
			logger().Error("queue submit failed", "queue", queue, "result", int32(ret))
		}
	}

	// Retire the command lists; their buffers return at frame reset.
	for _, cmd := range submissions {
		cmd.Release()
	}
	return fence, signalSemaphores
}

// FlushFrame submits a queue's batched work without fences or signals.
func (d *CoreDevice) FlushFrame(queue int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushFrameNolock(queue)
}

func (d *CoreDevice) flushFrameNolock(queue int) {
	if queue == QueueTransfer {
		d.syncPendingBufferBlocks()
	}
	if len(d.frame().submissions[queue]) == 0 && len(d.perQueue[queue].waitSemaphores) == 0 {
		return
	}
	d.submitQueueNolock(queue, false, 0)
}

// syncPendingBufferBlocks flushes CPU-staged buffer blocks that need a
// device-side copy before the transfer queue's work is kicked.
func (d *CoreDevice) syncPendingBufferBlocks() {
	frame := d.frame()
	var pending []*BufferBlock
	for _, blocks := range [][]*BufferBlock{frame.vboBlocks, frame.iboBlocks, frame.uboBlocks} {
		for _, block := range blocks {
			if block.NeedsSync() && block.Offset() > 0 {
				pending = append(pending, block)
			}
		}
	}
	if len(pending) == 0 {
		return
	}
	cmd := d.requestCommandListNolock(QueueTransfer, threadIndex())
	if cmd == nil {
		return
	}
	for _, block := range pending {
		cmd.CopyBuffer(block.Buffer(), block.HostBuffer(), 0, 0, block.Offset())
	}
	ret := vk.EndCommandBuffer(cmd.Handle())
	if isError(ret) {
		logger().Error("end staging command buffer failed", "result", int32(ret))
	}
	frame.submissions[QueueTransfer] = append(frame.submissions[QueueTransfer], cmd)
	d.frameCounter--
	d.cond.Broadcast()
}

// EndFrameContext flushes every queue without advancing the frame index.
func (d *CoreDevice) EndFrameContext() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endFrameNolock()
}

func (d *CoreDevice) endFrameNolock() {
	for _, q := range []int{QueueTransfer, QueueGraphics, QueueCompute} {
		d.flushFrameNolock(q)
	}
}

// NextFrameContext drains outstanding submissions, ends the frame, rotates
// the per-frame allocators and begins the next frame context: waiting its
// timeline values and running its destruction queues.
func (d *CoreDevice) NextFrameContext() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for d.frameCounter > 0 {
		d.cond.Wait()
	}

	d.endFrameNolock()

	d.transientAllocator.BeginFrame()
	d.framebufferAllocator.BeginFrame()
	d.beginDescriptorAllocatorsNolock()
	d.moveReadWriteCachesToReadOnly()

	d.frameIndex = (d.frameIndex + 1) % len(d.frames)
	d.frame().begin()

	d.wsi.touched = false
}

func (d *CoreDevice) beginDescriptorAllocatorsNolock() {
	d.setAllocators.Each(func(_ uint64, a *DescriptorSetAllocator) {
		a.BeginFrame()
	})
}

// moveReadWriteCachesToReadOnly promotes every cache's writable half so hot
// lookups stay lock-free.
func (d *CoreDevice) moveReadWriteCachesToReadOnly() {
	d.renderPasses.MoveToReadOnly()
	d.pipelineLayouts.MoveToReadOnly()
	d.setAllocators.MoveToReadOnly()
	d.immutableSamplers.MoveToReadOnly()
	d.shaderManager.moveToReadOnly()
}

// WaitIdle blocks for full GPU completion and then reclaims every frame's
// deferred work immediately.
func (d *CoreDevice) WaitIdle() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waitIdleNolock()
}

func (d *CoreDevice) waitIdleNolock() {
	d.endFrameNolock()
	vk.DeviceWaitIdle(d.device)
	for _, frame := range d.frames {
		frame.begin()
	}
}

// staging access masks: the compute-visible subset versus everything.
const stagingComputeAccess = vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit |
	vk.AccessTransferReadBit | vk.AccessTransferWriteBit |
	vk.AccessUniformReadBit | vk.AccessIndirectCommandReadBit)

// SubmitStaging bridges an async-transfer copy back to the queues that will
// consume the destination, with a single in-queue barrier when source and
// targets share the queue, or cross-queue binary semaphores otherwise.
func (d *CoreDevice) SubmitStaging(cmd *CommandList, usage vk.BufferUsageFlags, flush bool) {
	access := bufferUsageToPossibleAccess(usage)
	stages := bufferUsageToPossibleStages(usage)
	computeAccess := access & stagingComputeAccess
	graphicsAccess := access

	d.mu.Lock()
	defer d.mu.Unlock()

	srcQueue := cmd.QueueType()
	sameAsGraphics := d.queueInfo.queues[srcQueue] == d.queueInfo.queues[QueueGraphics]
	sameAsCompute := d.queueInfo.queues[srcQueue] == d.queueInfo.queues[QueueCompute]

	if sameAsGraphics && sameAsCompute {
		// Source and both consumers are one queue: a single in-queue
		// barrier orders everything. Same-family-different-queue setups
		// take this path too.
		cmd.Barrier(vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			vk.AccessFlags(vk.AccessTransferWriteBit), stages, graphicsAccess)
		d.submitNolock(cmd)
		if flush {
			d.flushFrameNolock(srcQueue)
		}
		return
	}

	if sameAsGraphics {
		// Graphics consumes in-queue; compute gets a semaphore.
		cmd.Barrier(vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			vk.AccessFlags(vk.AccessTransferWriteBit), stages, graphicsAccess)
		d.submitNolock(cmd)
		if computeAccess != 0 {
			_, sems := d.submitQueueNolock(srcQueue, false, 1)
			d.addWaitSemaphoreNolock(QueueCompute, sems[0], stages)
		}
	} else if sameAsCompute {
		cmd.Barrier(vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			vk.AccessFlags(vk.AccessTransferWriteBit), stages, computeAccess)
		d.submitNolock(cmd)
		_, sems := d.submitQueueNolock(srcQueue, false, 1)
		d.addWaitSemaphoreNolock(QueueGraphics, sems[0], stages)
	} else {
		// Async transfer source: one semaphore per distinct consumer.
		d.submitNolock(cmd)
		numSignals := 1
		if computeAccess != 0 {
			numSignals = 2
		}
		_, sems := d.submitQueueNolock(srcQueue, false, numSignals)
		d.addWaitSemaphoreNolock(QueueGraphics, sems[0], stages)
		if computeAccess != 0 {
			d.addWaitSemaphoreNolock(QueueCompute, sems[1], stages)
		}
	}
	if flush {
		d.flushFrameNolock(QueueGraphics)
		if computeAccess != 0 {
			d.flushFrameNolock(QueueCompute)
		}
	}
}

func (d *CoreDevice) submitNolock(cmd *CommandList) {
	ret := vk.EndCommandBuffer(cmd.Handle())
	if isError(ret) {
		logger().Error("end command buffer failed", "result", int32(ret))
	}
	frame := d.frame()
	frame.submissions[cmd.QueueType()] = append(frame.submissions[cmd.QueueType()], cmd)
	d.frameCounter--
	d.cond.Broadcast()
}

// setCheckpoint records the last debug marker seen on a queue so a
// device-lost dump can name where execution stopped.
func (d *CoreDevice) setCheckpoint(cmd *CommandList, name string) {
	d.perQueue[cmd.QueueType()].lastCheckpoint = name
}

func (d *CoreDevice) reportDeviceLost(queue int) {
	logger().Error("device lost on submit", "queue", queue)
	if !d.features.supportsCheckpoints {
		return
	}
	for q := 0; q < QueueCount; q++ {
		if cp := d.perQueue[q].lastCheckpoint; cp != "" {
			logger().Error("last checkpoint", "queue", q, "marker", cp)
		}
	}
}

// allocateFromPool carves size bytes out of the command list's current
// block for the class, rolling to a fresh block when the current one is
// exhausted.
func (d *CoreDevice) allocateFromPool(current **BufferBlock, class poolClass, size uint64) (*BufferBlock, BufferBlockAllocation) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pool := d.poolFor(class)
	if *current == nil {
		*current = pool.RequestBlock(size)
	}
	if *current == nil {
		return nil, BufferBlockAllocation{}
	}
	alloc := (*current).Allocate(size)
	if alloc.PaddedSize == 0 {
		// Out of space: retire the block to the frame and roll over.
		d.retireBlock(class, *current)
		*current = pool.RequestBlock(size)
		if *current == nil {
			return nil, BufferBlockAllocation{}
		}
		alloc = (*current).Allocate(size)
		if alloc.PaddedSize == 0 {
			return nil, BufferBlockAllocation{}
		}
	}
	return *current, alloc
}

func (d *CoreDevice) poolFor(class poolClass) *BufferPool {
	switch class {
	case poolClassVBO:
		return &d.vboPool
	case poolClassIBO:
		return &d.iboPool
	case poolClassUBO:
		return &d.uboPool
	case poolClassStaging:
		return &d.stagingPool
	default:
		return &d.storagePool
	}
}

func (d *CoreDevice) retireBlock(class poolClass, block *BufferBlock) {
	frame := d.frame()
	switch class {
	case poolClassVBO:
		frame.vboBlocks = append(frame.vboBlocks, block)
	case poolClassIBO:
		frame.iboBlocks = append(frame.iboBlocks, block)
	case poolClassUBO:
		frame.uboBlocks = append(frame.uboBlocks, block)
	case poolClassStaging:
		frame.stagingBlocks = append(frame.stagingBlocks, block)
	default:
		frame.storageBlocks = append(frame.storageBlocks, block)
	}
}

// RequestStorageBlock hands out the persistent per-command-list storage
// block for a command buffer, allocating it on first use.
func (d *CoreDevice) RequestStorageBlock(cmd *CommandList, minSize uint64) *BufferBlock {
	d.mu.Lock()
	defer d.mu.Unlock()
	frame := d.frame()
	if block, ok := frame.storageBindings[cmd.Handle()]; ok {
		return block
	}
	block := d.storagePool.RequestBlock(minSize)
	if block != nil {
		frame.storageBindings[cmd.Handle()] = block
	}
	return block
}

// AllocateStorageBufferHandle places a buffer range into the bindless
// storage-buffer table.
func (d *CoreDevice) AllocateStorageBufferHandle(buffer *Buffer, offset, size uint64) *BindlessDescriptorHandle {
	heap := d.bindlessHeaps[BindlessStorageBuffer]
	index := heap.Allocate()
	if index < 0 {
		return nil
	}
	heap.SetBuffer(index, buffer, offset, size)
	return &BindlessDescriptorHandle{device: d, heap: heap, index: index, refs: 1}
}

// AllocateBindlessTexture places an image view into the bindless
// sampled-image table.
func (d *CoreDevice) AllocateBindlessTexture(view *ImageView) *BindlessDescriptorHandle {
	heap := d.bindlessHeaps[BindlessSampledImage]
	index := heap.Allocate()
	if index < 0 {
		return nil
	}
	heap.SetTexture(index, view, view.Image().Layout(vk.ImageLayoutShaderReadOnlyOptimal))
	return &BindlessDescriptorHandle{device: d, heap: heap, index: index, refs: 1}
}

func (d *CoreDevice) freeBindlessIndex(heap *BindlessDescriptorHeap, index int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.freeBindlessIndexNolock(heap, index)
}

func (d *CoreDevice) freeBindlessIndexNolock(heap *BindlessDescriptorHeap, index int32) {
	d.frame().freedBindless = append(d.frame().freedBindless, bindlessFree{heap: heap, index: index})
}

// Destroy tears the device down: full drain, cache clears, pool drops.
func (d *CoreDevice) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.waitIdleNolock()
	d.flushPipelineCache()

	for _, frame := range d.frames {
		frame.destroy()
	}
	d.framebufferAllocator.Clear()
	d.transientAllocator.Clear()
	d.shaderManager.destroy()

	d.renderPasses.Clear(func(rp *RenderPass) { rp.destroy() })
	d.pipelineLayouts.Clear(func(l *PipelineLayout) { l.destroy() })
	d.setAllocators.Clear(func(a *DescriptorSetAllocator) { a.destroy() })
	d.immutableSamplers.Clear(func(s *Sampler) {
		vk.DestroySampler(d.device, s.sampler, nil)
	})

	for _, heap := range d.bindlessHeaps {
		if heap != nil {
			heap.destroy()
		}
	}

	d.vboPool.Reset()
	d.iboPool.Reset()
	d.uboPool.Reset()
	d.stagingPool.Reset()
	d.storagePool.Reset()

	// A second drain frees the buffers the pool resets just enqueued.
	vk.DeviceWaitIdle(d.device)
	for _, frame := range d.frames {
		frame.begin()
	}

	for q := 0; q < QueueCount; q++ {
		if d.queueInfo.timelineSemaphores[q] != vk.NullSemaphore {
			vk.DestroySemaphore(d.device, d.queueInfo.timelineSemaphores[q], nil)
			d.queueInfo.timelineSemaphores[q] = vk.NullSemaphore
		}
	}
	d.fencePool.Destroy()
	d.semaphorePool.Destroy()
	d.eventPool.Destroy()
	if d.pipelineCache != vk.NullPipelineCache {
		vk.DestroyPipelineCache(d.device, d.pipelineCache, nil)
		d.pipelineCache = vk.NullPipelineCache
	}
}

func bufferUsageToPossibleAccess(usage vk.BufferUsageFlags) vk.AccessFlags {
	var access vk.AccessFlags
	if usage&vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit) != 0 {
		access |= vk.AccessFlags(vk.AccessTransferReadBit)
	}
	if usage&vk.BufferUsageFlags(vk.BufferUsageTransferDstBit) != 0 {
		access |= vk.AccessFlags(vk.AccessTransferWriteBit)
	}
	if usage&vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit) != 0 {
		access |= vk.AccessFlags(vk.AccessVertexAttributeReadBit)
	}
	if usage&vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit) != 0 {
		access |= vk.AccessFlags(vk.AccessIndexReadBit)
	}
	if usage&vk.BufferUsageFlags(vk.BufferUsageIndirectBufferBit) != 0 {
		access |= vk.AccessFlags(vk.AccessIndirectCommandReadBit)
	}
	if usage&vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit) != 0 {
		access |= vk.AccessFlags(vk.AccessUniformReadBit)
	}
	if usage&vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit) != 0 {
		access |= vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit)
	}
	if usage&vk.BufferUsageFlags(vk.BufferUsageUniformTexelBufferBit) != 0 {
		access |= vk.AccessFlags(vk.AccessShaderReadBit)
	}
	return access
}

func bufferUsageToPossibleStages(usage vk.BufferUsageFlags) vk.PipelineStageFlags {
	var stages vk.PipelineStageFlags
	if usage&vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit|vk.BufferUsageTransferDstBit) != 0 {
		stages |= vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	}
	if usage&vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit|vk.BufferUsageIndexBufferBit) != 0 {
		stages |= vk.PipelineStageFlags(vk.PipelineStageVertexInputBit)
	}
	if usage&vk.BufferUsageFlags(vk.BufferUsageIndirectBufferBit) != 0 {
		stages |= vk.PipelineStageFlags(vk.PipelineStageDrawIndirectBit)
	}
	if usage&vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit|vk.BufferUsageStorageBufferBit|vk.BufferUsageUniformTexelBufferBit) != 0 {
		stages |= vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit | vk.PipelineStageFragmentShaderBit | vk.PipelineStageComputeShaderBit)
	}
	return stages
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
