package neptunevk

import (
	"unsafe"

	vk "github.com/goki/vulkan"
)

// batchSubmit is one VkSubmitInfo under construction.
type batchSubmit struct {
	waitStages       []vk.PipelineStageFlags
	waitSemaphores   []vk.Semaphore
	waitValues       []uint64
	signalSemaphores []vk.Semaphore
	signalValues     []uint64
	commandBuffers   []vk.CommandBuffer
}

func (b *batchSubmit) empty() bool {
	return len(b.waitSemaphores) == 0 && len(b.signalSemaphores) == 0 && len(b.commandBuffers) == 0
}

func (b *batchSubmit) hasTimeline() bool {
	for _, v := range b.waitValues {
		if v != 0 {
			return true
		}
	}
	for _, v := range b.signalValues {
		if v != 0 {
			return true
		}
	}
	return false
}

// BatchComposer walks a queue's pending command lists into a minimal array
// of submit batches. A new batch opens whenever a wait must precede work
// already gathered, or a command buffer arrives after signals were added
// (signals come last in a batch).
type BatchComposer struct {
	batches []*batchSubmit
	// Keeps the chained timeline infos alive across the submit call.
	timelineInfos []*vk.TimelineSemaphoreSubmitInfo
}

func NewBatchComposer() *BatchComposer {
	c := &BatchComposer{}
	c.beginBatch()
	return c
}

func (c *BatchComposer) beginBatch() *batchSubmit {
	b := &batchSubmit{}
	c.batches = append(c.batches, b)
	return b
}

func (c *BatchComposer) current() *batchSubmit {
	return c.batches[len(c.batches)-1]
}

// AddWaitSemaphore registers a wait on the current batch. If the batch
// already carries command buffers or signals, the wait opens a new batch so
// it precedes nothing already gathered.
func (c *BatchComposer) AddWaitSemaphore(sem vk.Semaphore, value uint64, stages vk.PipelineStageFlags) {
	b := c.current()
	if len(b.commandBuffers) > 0 || len(b.signalSemaphores) > 0 {
		b = c.beginBatch()
	}
	b.waitSemaphores = append(b.waitSemaphores, sem)
	b.waitValues = append(b.waitValues, value)
	b.waitStages = append(b.waitStages, stages)
}

// AddSignalSemaphore appends a signal to the current batch.
func (c *BatchComposer) AddSignalSemaphore(sem vk.Semaphore, value uint64) {
	b := c.current()
	b.signalSemaphores = append(b.signalSemaphores, sem)
	b.signalValues = append(b.signalValues, value)
}

// AddCommandBuffer appends work to the current batch, splitting first when
// signals have already accumulated.
func (c *BatchComposer) AddCommandBuffer(buf vk.CommandBuffer) {
	b := c.current()
	if len(b.signalSemaphores) > 0 {
		b = c.beginBatch()
	}
	b.commandBuffers = append(b.commandBuffers, buf)
}

// Bake produces the VkSubmitInfo array, chaining timeline payloads onto
// batches that carry any non-zero wait or signal values.
func (c *BatchComposer) Bake() []vk.SubmitInfo {
	var submits []vk.SubmitInfo
	for _, b := range c.batches {
		if b.empty() {
			continue
		}
		submit := vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount:   uint32(len(b.waitSemaphores)),
			PWaitSemaphores:      b.waitSemaphores,
			PWaitDstStageMask:    b.waitStages,
			CommandBufferCount:   uint32(len(b.commandBuffers)),
			PCommandBuffers:      b.commandBuffers,
			SignalSemaphoreCount: uint32(len(b.signalSemaphores)),
			PSignalSemaphores:    b.signalSemaphores,
		}
		if b.hasTimeline() {
			timeline := &vk.TimelineSemaphoreSubmitInfo{
				SType:                     vk.StructureTypeTimelineSemaphoreSubmitInfo,
				WaitSemaphoreValueCount:   uint32(len(b.waitValues)),
				PWaitSemaphoreValues:      b.waitValues,
				SignalSemaphoreValueCount: uint32(len(b.signalValues)),
				PSignalSemaphoreValues:    b.signalValues,
			}
			c.timelineInfos = append(c.timelineInfos, timeline)
			submit.PNext = unsafe.Pointer(timeline.Ref())
		}
		submits = append(submits, submit)
	}
	return submits
}
