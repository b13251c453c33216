package neptunevk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testBlock(capacity, alignment, spill uint64) *BufferBlock {
	return &BufferBlock{
		capacity:  capacity,
		alignment: alignment,
		spillSize: spill,
	}
}

func TestBufferBlockUniformSubAllocation(t *testing.T) {
	block := testBlock(256, 16, 64)

	first := block.Allocate(20)
	assert.Equal(t, uint64(0), first.Offset)
	assert.Equal(t, uint64(64), first.PaddedSize, "small requests spill to the spill size")

	second := block.Allocate(100)
	assert.Equal(t, uint64(32), second.Offset)
	assert.Equal(t, uint64(100), second.PaddedSize)

	third := block.Allocate(200)
	assert.Zero(t, third.PaddedSize, "200 bytes cannot fit in the 112 remaining")
}

func TestBufferBlockAlignmentInvariant(t *testing.T) {
	block := testBlock(4096, 64, 0)
	sizes := []uint64{1, 63, 64, 65, 100, 128, 7}
	for _, size := range sizes {
		alloc := block.Allocate(size)
		if alloc.PaddedSize == 0 {
			break
		}
		assert.Zero(t, alloc.Offset%block.Alignment(), "offset %d not aligned", alloc.Offset)
		assert.LessOrEqual(t, alloc.Offset+alloc.PaddedSize, block.Capacity())
	}
}

func TestBufferBlockPaddedClampedToRest(t *testing.T) {
	block := testBlock(128, 16, 1024)
	alloc := block.Allocate(16)
	assert.Equal(t, uint64(0), alloc.Offset)
	assert.Equal(t, uint64(128), alloc.PaddedSize, "spill clamps to the remaining capacity")
}

func TestBufferBlockExactFit(t *testing.T) {
	block := testBlock(64, 16, 0)
	alloc := block.Allocate(64)
	assert.Equal(t, uint64(64), alloc.PaddedSize)
	next := block.Allocate(1)
	assert.Zero(t, next.PaddedSize)
}

func TestBufferPoolRetention(t *testing.T) {
	// Retention logic only: blocks do not touch the device here.
	pool := &BufferPool{blockSize: 256, maxRetained: 1}
	a := testBlock(256, 16, 0)
	b := testBlock(256, 16, 0)

	pool.RecycleBlock(a)
	assert.Len(t, pool.blocks, 1)
	// Second recycle exceeds maxRetained and is dropped.
	pool.RecycleBlock(b)
	assert.Len(t, pool.blocks, 1)

	// The retained block comes back with its cursor rewound.
	a.offset = 200
	got := pool.RequestBlock(10)
	assert.Same(t, a, got)
	assert.Zero(t, got.Offset())
}

func TestBufferPoolOversizeRecycleDropped(t *testing.T) {
	pool := &BufferPool{blockSize: 256, maxRetained: 4}
	oversize := testBlock(1024, 16, 0)
	pool.RecycleBlock(oversize)
	assert.Empty(t, pool.blocks, "oversize blocks are never retained")
}
