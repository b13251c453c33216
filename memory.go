package neptunevk

import (
	"unsafe"

	vk "github.com/goki/vulkan"
)

// MemoryAccessFlags describe the host's intent when mapping an allocation.
type MemoryAccessFlags uint32

const (
	MemoryAccessRead MemoryAccessFlags = 1 << iota
	MemoryAccessWrite
)

// DeviceAllocation is a handle into device memory produced by the allocator
// facade. HostBase is non-nil when the backing memory is persistently
// mapped; MemFlags records the host-visible/coherent bits of the memory
// type the allocation landed in.
type DeviceAllocation struct {
	Memory   vk.DeviceMemory
	Offset   uint64
	Size     uint64
	Mask     uint32
	HostBase unsafe.Pointer
	MemFlags vk.MemoryPropertyFlags
}

func (a *DeviceAllocation) hostVisible() bool {
	return a.MemFlags&vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) != 0
}

func (a *DeviceAllocation) hostCoherent() bool {
	return a.MemFlags&vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit) != 0
}

// DeviceAllocator fronts the platform memory allocator: it creates buffers
// and images, places typed allocations, and services map/unmap with the
// flush and invalidate calls non-coherent memory requires.
type DeviceAllocator struct {
	device           vk.Device
	memoryProperties vk.PhysicalDeviceMemoryProperties
	atomSize         uint64
}

func NewDeviceAllocator(device vk.Device, gpu vk.PhysicalDevice, props vk.PhysicalDeviceProperties) *DeviceAllocator {
	a := &DeviceAllocator{device: device}
	vk.GetPhysicalDeviceMemoryProperties(gpu, &a.memoryProperties)
	a.memoryProperties.Deref()
	props.Limits.Deref()
	a.atomSize = uint64(props.Limits.NonCoherentAtomSize)
	if a.atomSize == 0 {
		a.atomSize = 64
	}
	return a
}

func bufferDomainToFlags(domain BufferDomain) (required, preferred vk.MemoryPropertyFlags) {
	switch domain {
	case BufferDomainDevice:
		return vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit), 0
	case BufferDomainLinkedDeviceHost:
		return vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit),
			vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	case BufferDomainHost:
		return vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit), 0
	case BufferDomainCachedHost:
		return vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCachedBit), 0
	}
	return 0, 0
}

func imageDomainToFlags(domain ImageDomain) (required, preferred vk.MemoryPropertyFlags) {
	switch domain {
	case ImageDomainPhysical:
		return vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit), 0
	case ImageDomainTransient:
		return vk.MemoryPropertyFlags(vk.MemoryPropertyLazilyAllocatedBit),
			vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	case ImageDomainLinearHost:
		return vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit), 0
	case ImageDomainLinearHostCached:
		return vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCachedBit), 0
	}
	return 0, 0
}

// findMemoryType walks the device's memory types for one matching typeBits
// and the property mask, degrading from required|preferred to required.
func (a *DeviceAllocator) findMemoryType(typeBits uint32, required, preferred vk.MemoryPropertyFlags) (uint32, vk.MemoryPropertyFlags, bool) {
	count := a.memoryProperties.MemoryTypeCount
	want := required | preferred
	for pass := 0; pass < 2; pass++ {
		for i := uint32(0); i < count; i++ {
			if typeBits&(1<<i) == 0 {
				continue
			}
			a.memoryProperties.MemoryTypes[i].Deref()
			flags := a.memoryProperties.MemoryTypes[i].PropertyFlags
			if flags&want == want {
				return i, flags, true
			}
		}
		if preferred == 0 {
			break
		}
		want = required
	}
	// Lazily allocated memory is optional; fall back to anything matching
	// the type bits.
	if required&vk.MemoryPropertyFlags(vk.MemoryPropertyLazilyAllocatedBit) != 0 {
		return a.findMemoryType(typeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit), 0)
	}
	return 0, 0, false
}

// Allocate places size bytes with the given alignment into a memory type
// matching typeBits and the property masks, persistently mapping
// host-visible placements.
func (a *DeviceAllocator) Allocate(size, align uint64, typeBits uint32, required, preferred vk.MemoryPropertyFlags) (*DeviceAllocation, error) {
	index, flags, ok := a.findMemoryType(typeBits, required, preferred)
	if !ok {
		return nil, NewError(vk.ErrorOutOfDeviceMemory)
	}
	var memory vk.DeviceMemory
	ret := vk.AllocateMemory(a.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: index,
	}, nil, &memory)
	if isError(ret) {
		return nil, NewError(ret)
	}
	alloc := &DeviceAllocation{
		Memory:   memory,
		Offset:   0,
		Size:     size,
		Mask:     typeBits,
		MemFlags: flags,
	}
	if alloc.hostVisible() {
		var ptr unsafe.Pointer
		ret = vk.MapMemory(a.device, memory, 0, vk.DeviceSize(vk.WholeSize), 0, &ptr)
		if isError(ret) {
			vk.FreeMemory(a.device, memory, nil)
			return nil, NewError(ret)
		}
		alloc.HostBase = ptr
	}
	return alloc, nil
}

// CreateBuffer creates and binds a buffer in the given domain.
func (a *DeviceAllocator) CreateBuffer(info *vk.BufferCreateInfo, domain BufferDomain) (vk.Buffer, *DeviceAllocation, error) {
	var buffer vk.Buffer
	ret := vk.CreateBuffer(a.device, info, nil, &buffer)
	if isError(ret) {
		return vk.NullBuffer, nil, NewError(ret)
	}
	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(a.device, buffer, &memReqs)
	memReqs.Deref()

	required, preferred := bufferDomainToFlags(domain)
	alloc, err := a.Allocate(uint64(memReqs.Size), uint64(memReqs.Alignment), memReqs.MemoryTypeBits, required, preferred)
	if err != nil {
		vk.DestroyBuffer(a.device, buffer, nil)
		return vk.NullBuffer, nil, err
	}
	ret = vk.BindBufferMemory(a.device, buffer, alloc.Memory, vk.DeviceSize(alloc.Offset))
	if isError(ret) {
		a.Free(alloc)
		vk.DestroyBuffer(a.device, buffer, nil)
		return vk.NullBuffer, nil, NewError(ret)
	}
	return buffer, alloc, nil
}

// CreateImage creates and binds an image in the given domain.
func (a *DeviceAllocator) CreateImage(info *vk.ImageCreateInfo, domain ImageDomain) (vk.Image, *DeviceAllocation, error) {
	var image vk.Image
	ret := vk.CreateImage(a.device, info, nil, &image)
	if isError(ret) {
		return vk.NullImage, nil, NewError(ret)
	}
	var memReqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(a.device, image, &memReqs)
	memReqs.Deref()

	required, preferred := imageDomainToFlags(domain)
	alloc, err := a.Allocate(uint64(memReqs.Size), uint64(memReqs.Alignment), memReqs.MemoryTypeBits, required, preferred)
	if err != nil {
		vk.DestroyImage(a.device, image, nil)
		return vk.NullImage, nil, err
	}
	ret = vk.BindImageMemory(a.device, image, alloc.Memory, vk.DeviceSize(alloc.Offset))
	if isError(ret) {
		a.Free(alloc)
		vk.DestroyImage(a.device, image, nil)
		return vk.NullImage, nil, NewError(ret)
	}
	return image, alloc, nil
}

// Map returns the host pointer for a mapped range, invalidating the CPU
// cache first when a non-coherent mapping is read.
func (a *DeviceAllocator) Map(alloc *DeviceAllocation, access MemoryAccessFlags, offset, length uint64) unsafe.Pointer {
	if alloc == nil || alloc.HostBase == nil {
		return nil
	}
	if access&MemoryAccessRead != 0 && !alloc.hostCoherent() {
		vk.InvalidateMappedMemoryRanges(a.device, 1, []vk.MappedMemoryRange{
			a.mappedRange(alloc, offset, length),
		})
	}
	return unsafe.Add(alloc.HostBase, alloc.Offset+offset)
}

// Unmap completes a mapped access, flushing the range when a non-coherent
// mapping was written.
func (a *DeviceAllocator) Unmap(alloc *DeviceAllocation, access MemoryAccessFlags, offset, length uint64) {
	if alloc == nil || alloc.HostBase == nil {
		return
	}
	if access&MemoryAccessWrite != 0 && !alloc.hostCoherent() {
		vk.FlushMappedMemoryRanges(a.device, 1, []vk.MappedMemoryRange{
			a.mappedRange(alloc, offset, length),
		})
	}
}

func (a *DeviceAllocator) mappedRange(alloc *DeviceAllocation, offset, length uint64) vk.MappedMemoryRange {
	start := alloc.Offset + offset
	end := alignUp(start+length, a.atomSize)
	start = start &^ (a.atomSize - 1)
	return vk.MappedMemoryRange{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: alloc.Memory,
		Offset: vk.DeviceSize(start),
		Size:   vk.DeviceSize(end - start),
	}
}

// Free returns an allocation to the platform allocator.
func (a *DeviceAllocator) Free(alloc *DeviceAllocation) {
	if alloc == nil {
		return
	}
	if alloc.HostBase != nil {
		vk.UnmapMemory(a.device, alloc.Memory)
		alloc.HostBase = nil
	}
	vk.FreeMemory(a.device, alloc.Memory, nil)
	alloc.Memory = vk.NullDeviceMemory
}
