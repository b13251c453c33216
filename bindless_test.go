package neptunevk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testHeap(capacity int32) *BindlessDescriptorHeap {
	// Freelist behavior only; no descriptor pool behind it.
	return &BindlessDescriptorHeap{
		class:    BindlessSampledImage,
		capacity: capacity,
	}
}

func TestBindlessHeapSequentialIndices(t *testing.T) {
	h := testHeap(8)
	assert.Equal(t, int32(0), h.Allocate())
	assert.Equal(t, int32(1), h.Allocate())
	assert.Equal(t, int32(2), h.Allocate())
}

func TestBindlessHeapFreedIndexReused(t *testing.T) {
	h := testHeap(8)
	a := h.Allocate()
	b := h.Allocate()
	c := h.Allocate()
	_ = a
	_ = c

	// Until the index is actually freed, new allocations extend the high
	// water mark.
	next := h.Allocate()
	assert.Equal(t, int32(3), next)

	h.Free(b)
	assert.Equal(t, b, h.Allocate(), "freelist pops the freed index first")
}

func TestBindlessHeapLiveIndicesUnique(t *testing.T) {
	h := testHeap(64)
	live := map[int32]bool{}
	for i := 0; i < 32; i++ {
		index := h.Allocate()
		assert.False(t, live[index], "index %d handed out twice", index)
		live[index] = true
	}
	// Free half, reallocate, and re-check uniqueness.
	for index := range live {
		if index%2 == 0 {
			h.Free(index)
			delete(live, index)
		}
	}
	for i := 0; i < 16; i++ {
		index := h.Allocate()
		assert.False(t, live[index])
		live[index] = true
	}
}

func TestBindlessHeapExhaustion(t *testing.T) {
	h := testHeap(2)
	assert.Equal(t, int32(0), h.Allocate())
	assert.Equal(t, int32(1), h.Allocate())
	assert.Equal(t, int32(-1), h.Allocate())
	h.Free(1)
	assert.Equal(t, int32(1), h.Allocate())
}
