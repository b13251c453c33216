package neptunevk

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
)

func TestBatchComposerPlainCommandBuffers(t *testing.T) {
	c := NewBatchComposer()
	c.AddCommandBuffer(nil)
	c.AddCommandBuffer(nil)
	c.AddSignalSemaphore(vk.NullSemaphore, 1)

	assert.Len(t, c.batches, 1, "sequential work with trailing signals stays one batch")
	assert.Len(t, c.batches[0].commandBuffers, 2)
	assert.Len(t, c.batches[0].signalSemaphores, 1)
}

func TestBatchComposerSplitsAfterSignals(t *testing.T) {
	c := NewBatchComposer()
	c.AddCommandBuffer(nil)
	c.AddSignalSemaphore(vk.NullSemaphore, 0)
	// Work arriving after a signal must start a new batch so signals stay
	// last.
	c.AddCommandBuffer(nil)

	assert.Len(t, c.batches, 2)
	assert.Len(t, c.batches[0].commandBuffers, 1)
	assert.Len(t, c.batches[0].signalSemaphores, 1)
	assert.Len(t, c.batches[1].commandBuffers, 1)
	assert.Empty(t, c.batches[1].signalSemaphores)
}

func TestBatchComposerSplitsBeforeLateWait(t *testing.T) {
	c := NewBatchComposer()
	c.AddCommandBuffer(nil)
	// A wait cannot apply retroactively to gathered work: new batch.
	c.AddWaitSemaphore(vk.NullSemaphore, 0, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit))
	c.AddCommandBuffer(nil)

	assert.Len(t, c.batches, 2)
	assert.Empty(t, c.batches[0].waitSemaphores)
	assert.Len(t, c.batches[1].waitSemaphores, 1)
	assert.Len(t, c.batches[1].commandBuffers, 1)
}

func TestBatchComposerLeadingWaitStaysInFirstBatch(t *testing.T) {
	c := NewBatchComposer()
	c.AddWaitSemaphore(vk.NullSemaphore, 3, 0)
	c.AddCommandBuffer(nil)
	assert.Len(t, c.batches, 1)
	assert.Equal(t, uint64(3), c.batches[0].waitValues[0])
}

func TestBatchComposerTimelineDetection(t *testing.T) {
	binary := &batchSubmit{
		waitValues:   []uint64{0},
		signalValues: []uint64{0},
	}
	assert.False(t, binary.hasTimeline())

	timeline := &batchSubmit{signalValues: []uint64{9}}
	assert.True(t, timeline.hasTimeline())
}

func TestBatchComposerBakeSkipsEmptyBatches(t *testing.T) {
	c := NewBatchComposer()
	// Only the implicit first batch exists and it is empty.
	assert.Empty(t, c.Bake())

	c.AddSignalSemaphore(vk.NullSemaphore, 5)
	submits := c.Bake()
	assert.Len(t, submits, 1)
	assert.Equal(t, uint32(1), submits[0].SignalSemaphoreCount)
}
