package neptunevk

import (
	"sync/atomic"

	vk "github.com/goki/vulkan"
)

// BufferCreateInfo describes a buffer request in domain terms.
type BufferCreateInfo struct {
	Domain BufferDomain
	Size   uint64
	Usage  vk.BufferUsageFlags
	Misc   BufferMiscFlags
}

// Buffer wraps a VkBuffer with its identity and backing allocation.
type Buffer struct {
	device       *CoreDevice
	buffer       vk.Buffer
	cookie       uint64
	alloc        *DeviceAllocation
	info         BufferCreateInfo
	internalSync bool
	refs         int32
}

func (b *Buffer) AddRef() *Buffer {
	atomic.AddInt32(&b.refs, 1)
	return b
}

func (b *Buffer) Handle() vk.Buffer            { return b.buffer }
func (b *Buffer) Cookie() uint64               { return b.cookie }
func (b *Buffer) CreateInfo() BufferCreateInfo { return b.info }
func (b *Buffer) Allocation() *DeviceAllocation { return b.alloc }

func (b *Buffer) markInternalSync() { b.internalSync = true }

func (b *Buffer) Release() {
	if atomic.AddInt32(&b.refs, -1) != 0 {
		return
	}
	if b.internalSync {
		b.device.destroyBufferNolock(b.buffer)
		if b.alloc != nil {
			b.device.freeAllocationNolock(b.alloc)
		}
	} else {
		b.device.destroyBuffer(b.buffer)
		if b.alloc != nil {
			b.device.freeAllocation(b.alloc)
		}
	}
	b.buffer = vk.NullBuffer
	b.alloc = nil
}

// BufferViewCreateInfo describes a typed view over a buffer range.
type BufferViewCreateInfo struct {
	Buffer *Buffer
	Format vk.Format
	Offset uint64
	Range  uint64
}

// BufferView wraps a VkBufferView for texel buffer bindings.
type BufferView struct {
	device       *CoreDevice
	view         vk.BufferView
	cookie       uint64
	info         BufferViewCreateInfo
	internalSync bool
	refs         int32
}

func (v *BufferView) AddRef() *BufferView {
	atomic.AddInt32(&v.refs, 1)
	return v
}

func (v *BufferView) Handle() vk.BufferView            { return v.view }
func (v *BufferView) Cookie() uint64                   { return v.cookie }
func (v *BufferView) CreateInfo() BufferViewCreateInfo { return v.info }

func (v *BufferView) Release() {
	if atomic.AddInt32(&v.refs, -1) != 0 {
		return
	}
	if v.internalSync {
		v.device.destroyBufferViewNolock(v.view)
	} else {
		v.device.destroyBufferView(v.view)
	}
	v.view = vk.NullBufferView
	if v.info.Buffer != nil {
		v.info.Buffer.Release()
	}
}
