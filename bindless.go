package neptunevk

import (
	"sync/atomic"

	vk "github.com/goki/vulkan"
)

const vulkanNumBindlessDescriptors = 16 * 1024

// BindlessResourceClass selects which bindless table an index addresses.
type BindlessResourceClass int

const (
	BindlessSampledImage BindlessResourceClass = iota
	BindlessStorageBuffer
	BindlessStorageImage
	BindlessSampler
	BindlessClassCount
)

func (c BindlessResourceClass) role() DescriptorRole {
	switch c {
	case BindlessSampledImage:
		return RoleSeparateImage
	case BindlessStorageBuffer:
		return RoleStorageBuffer
	case BindlessStorageImage:
		return RoleStorageImage
	case BindlessSampler:
		return RoleSampler
	}
	return RoleCount
}

// BindlessDescriptorHeap wraps one huge descriptor pool holding a single
// descriptor set of N bindings, with a freelist over the index space.
// Indices freed through handles are routed through the frame destruction
// queue, so reuse is deferred until the frame has drained.
type BindlessDescriptorHeap struct {
	device    *CoreDevice
	class     BindlessResourceClass
	allocator *DescriptorSetAllocator
	pool      vk.DescriptorPool
	set       vk.DescriptorSet
	capacity  int32
	freelist  []int32
	watermark int32
}

func newBindlessDescriptorHeap(device *CoreDevice, class BindlessResourceClass, capacity int32) *BindlessDescriptorHeap {
	layout := DescriptorSetLayout{IsBindless: true}
	layout.RoleMasks[class.role()] = 1
	layout.ArraySize[0] = UnsizedArray

	allocator := newDescriptorSetAllocator(device, &layout, nil)
	pool, set := allocator.AllocateBindlessSet(uint32(capacity))
	return &BindlessDescriptorHeap{
		device:    device,
		class:     class,
		allocator: allocator,
		pool:      pool,
		set:       set,
		capacity:  capacity,
	}
}

func (h *BindlessDescriptorHeap) DescriptorSet() vk.DescriptorSet { return h.set }
func (h *BindlessDescriptorHeap) Class() BindlessResourceClass    { return h.class }

// Allocate pops a free index, or extends the high-water mark. Returns -1
// when the heap is exhausted.
func (h *BindlessDescriptorHeap) Allocate() int32 {
	if n := len(h.freelist); n > 0 {
		index := h.freelist[n-1]
		h.freelist = h.freelist[:n-1]
		return index
	}
	if h.watermark >= h.capacity {
		logger().Error("bindless heap exhausted", "class", int(h.class), "capacity", h.capacity)
		return -1
	}
	index := h.watermark
	h.watermark++
	return index
}

// Free returns an index to the freelist. Callers go through the frame
// destruction queue so the GPU is provably done with the slot first.
func (h *BindlessDescriptorHeap) Free(index int32) {
	if index >= 0 {
		h.freelist = append(h.freelist, index)
	}
}

// SetTexture points index at an image view.
func (h *BindlessDescriptorHeap) SetTexture(index int32, view *ImageView, layout vk.ImageLayout) {
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          h.set,
		DstBinding:      0,
		DstArrayElement: uint32(index),
		DescriptorCount: 1,
		DescriptorType:  h.class.role().DescriptorType(),
		PImageInfo: []vk.DescriptorImageInfo{{
			ImageView:   view.Handle(),
			ImageLayout: layout,
		}},
	}
	vk.UpdateDescriptorSets(h.device.device, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}

// SetBuffer points index at a buffer range.
func (h *BindlessDescriptorHeap) SetBuffer(index int32, buffer *Buffer, offset, rng uint64) {
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          h.set,
		DstBinding:      0,
		DstArrayElement: uint32(index),
		DescriptorCount: 1,
		DescriptorType:  h.class.role().DescriptorType(),
		PBufferInfo: []vk.DescriptorBufferInfo{{
			Buffer: buffer.Handle(),
			Offset: vk.DeviceSize(offset),
			Range:  vk.DeviceSize(rng),
		}},
	}
	vk.UpdateDescriptorSets(h.device.device, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}

// SetUniformTexelBuffer points index at a buffer view.
func (h *BindlessDescriptorHeap) SetUniformTexelBuffer(index int32, view *BufferView) {
	texel := []vk.BufferView{view.Handle()}
	write := vk.WriteDescriptorSet{
		SType:            vk.StructureTypeWriteDescriptorSet,
		DstSet:           h.set,
		DstBinding:       0,
		DstArrayElement:  uint32(index),
		DescriptorCount:  1,
		DescriptorType:   vk.DescriptorTypeUniformTexelBuffer,
		PTexelBufferView: texel,
	}
	vk.UpdateDescriptorSets(h.device.device, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}

func (h *BindlessDescriptorHeap) destroy() {
	if h.pool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(h.device.device, h.pool, nil)
		h.pool = vk.NullDescriptorPool
	}
	h.allocator.destroy()
}

// BindlessDescriptorHandle is the smart handle over one allocated index;
// its release enqueues the index on the current frame's destruction queue.
type BindlessDescriptorHandle struct {
	device *CoreDevice
	heap   *BindlessDescriptorHeap
	index  int32
	refs   int32
}

func (b *BindlessDescriptorHandle) AddRef() *BindlessDescriptorHandle {
	atomic.AddInt32(&b.refs, 1)
	return b
}

func (b *BindlessDescriptorHandle) Index() int32                 { return b.index }
func (b *BindlessDescriptorHandle) Class() BindlessResourceClass { return b.heap.class }

func (b *BindlessDescriptorHandle) Release() {
	if atomic.AddInt32(&b.refs, -1) != 0 {
		return
	}
	b.device.freeBindlessIndex(b.heap, b.index)
	b.index = -1
}

// releaseNolock is the drop path for handles owned by internally synced
// containers; the caller already holds the device mutex.
func (b *BindlessDescriptorHandle) releaseNolock() {
	if atomic.AddInt32(&b.refs, -1) != 0 {
		return
	}
	b.device.freeBindlessIndexNolock(b.heap, b.index)
	b.index = -1
}
