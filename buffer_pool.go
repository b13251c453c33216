package neptunevk

import (
	"unsafe"

	vk "github.com/goki/vulkan"
)

// BufferBlockAllocation is one sub-allocation out of a block. A zero
// PaddedSize means the block could not fit the request.
type BufferBlockAllocation struct {
	Host       unsafe.Pointer
	Offset     uint64
	PaddedSize uint64
}

// BufferBlock is a ring-style sub-allocated slice of a persistently mapped
// buffer, handed out whole to a command list and recycled at frame reset.
type BufferBlock struct {
	gpu       *Buffer
	cpu       *Buffer
	mapped    unsafe.Pointer
	offset    uint64
	capacity  uint64
	alignment uint64
	spillSize uint64
	bindless  *BindlessDescriptorHandle
}

func (b *BufferBlock) Buffer() *Buffer    { return b.gpu }
func (b *BufferBlock) Capacity() uint64   { return b.capacity }
func (b *BufferBlock) Offset() uint64     { return b.offset }
func (b *BufferBlock) Alignment() uint64  { return b.alignment }
func (b *BufferBlock) NeedsSync() bool    { return b.cpu != nil }
func (b *BufferBlock) HostBuffer() *Buffer { return b.cpu }

func (b *BufferBlock) Bindless() *BindlessDescriptorHandle { return b.bindless }

// Allocate carves size bytes off the block: the offset is aligned up, the
// fit checked, and the cursor advanced. PaddedSize spills up to the block's
// spill size, clamped by the remaining capacity.
func (b *BufferBlock) Allocate(size uint64) BufferBlockAllocation {
	alignedOffset := alignUp(b.offset, b.alignment)
	if alignedOffset+size > b.capacity {
		return BufferBlockAllocation{}
	}
	padded := size
	if b.spillSize > padded {
		padded = b.spillSize
	}
	if rest := b.capacity - alignedOffset; padded > rest {
		padded = rest
	}
	b.offset = alignedOffset + size
	var host unsafe.Pointer
	if b.mapped != nil {
		host = unsafe.Add(b.mapped, alignedOffset)
	}
	return BufferBlockAllocation{
		Host:       host,
		Offset:     alignedOffset,
		PaddedSize: padded,
	}
}

// BufferPool sub-allocates ring-style blocks for one stream class
// (vertex, index, uniform, staging or storage).
type BufferPool struct {
	device          *CoreDevice
	blockSize       uint64
	alignment       uint64
	spillSize       uint64
	usage           vk.BufferUsageFlags
	maxRetained     int
	bindlessEnabled bool
	blocks          []*BufferBlock
}

// Init configures the pool. Blocks below maxRetained are kept on the free
// list across frames; the rest are dropped on recycle.
func (p *BufferPool) Init(device *CoreDevice, blockSize, alignment uint64, usage vk.BufferUsageFlags, maxRetained int) {
	p.device = device
	p.blockSize = blockSize
	p.alignment = alignment
	p.usage = usage
	p.maxRetained = maxRetained
}

func (p *BufferPool) SetSpillSize(spill uint64)  { p.spillSize = spill }
func (p *BufferPool) SetBindlessEnabled(on bool) { p.bindlessEnabled = on }
func (p *BufferPool) BlockSize() uint64          { return p.blockSize }

// RequestBlock pops a retained block, or allocates a fresh one sized
// max(blockSize, minSize) when the request is oversize or the free list is
// empty.
func (p *BufferPool) RequestBlock(minSize uint64) *BufferBlock {
	if minSize > p.blockSize || len(p.blocks) == 0 {
		size := p.blockSize
		if minSize > size {
			size = minSize
		}
		return p.allocateBlock(size)
	}
	n := len(p.blocks)
	block := p.blocks[n-1]
	p.blocks = p.blocks[:n-1]
	block.offset = 0
	return block
}

func (p *BufferPool) allocateBlock(size uint64) *BufferBlock {
	domain := BufferDomainLinkedDeviceHost
	if p.usage&vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit) != 0 {
		domain = BufferDomainHost
	}
	gpu := p.device.CreateBuffer(BufferCreateInfo{
		Domain: domain,
		Size:   size,
		Usage:  p.usage | vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit|vk.BufferUsageTransferDstBit),
	}, nil)
	if gpu == nil {
		return nil
	}
	gpu.markInternalSync()

	block := &BufferBlock{
		gpu:       gpu,
		capacity:  size,
		alignment: p.alignment,
		spillSize: p.spillSize,
	}
	if gpu.Allocation() != nil && gpu.Allocation().HostBase != nil {
		block.mapped = p.device.allocator.Map(gpu.Allocation(), MemoryAccessWrite, 0, size)
	} else {
		// Device-only placement; stage through a host copy.
		cpu := p.device.CreateBuffer(BufferCreateInfo{
			Domain: BufferDomainHost,
			Size:   size,
			Usage:  vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		}, nil)
		if cpu == nil {
			gpu.Release()
			return nil
		}
		cpu.markInternalSync()
		block.cpu = cpu
		block.mapped = p.device.allocator.Map(cpu.Allocation(), MemoryAccessWrite, 0, size)
	}
	if p.bindlessEnabled {
		block.bindless = p.device.AllocateStorageBufferHandle(gpu, 0, size)
	}
	return block
}

// RecycleBlock retains the block for reuse, or lets it go once the pool is
// at its retention limit.
func (p *BufferPool) RecycleBlock(block *BufferBlock) {
	if block == nil {
		return
	}
	if len(p.blocks) < p.maxRetained && block.capacity == p.blockSize {
		p.blocks = append(p.blocks, block)
		return
	}
	p.freeBlock(block)
}

// freeBlock runs under the device mutex (frame reset, pool reset), so the
// bindless handle and the internally synced buffers all drop through the
// nolock paths.
func (p *BufferPool) freeBlock(block *BufferBlock) {
	if block.bindless != nil {
		block.bindless.releaseNolock()
		block.bindless = nil
	}
	if block.cpu != nil {
		block.cpu.Release()
	}
	if block.gpu != nil {
		block.gpu.Release()
	}
}

// Reset drops every retained block.
func (p *BufferPool) Reset() {
	for _, block := range p.blocks {
		p.freeBlock(block)
	}
	p.blocks = nil
}
