package neptunevk

import (
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// descriptorThreadState is one thread's slice of a set allocator: a
// two-generation map from binding hash to descriptor set, the vacant list
// the aged generation drains into, and the pool chain backing it all.
type descriptorThreadState struct {
	sets        map[uint64]vk.DescriptorSet
	agedSets    map[uint64]vk.DescriptorSet
	vacants     []vk.DescriptorSet
	pools       []vk.DescriptorPool
	shouldBegin bool
}

// DescriptorSetAllocator owns the VkDescriptorSetLayout for one logical set
// layout and allocates concrete sets from per-thread pool chains. Lookups
// work on per-thread maps; the mutex is held only to resolve the calling
// thread's state and while a pool chain grows.
type DescriptorSetAllocator struct {
	device     *CoreDevice
	setLayout  vk.DescriptorSetLayout
	layout     DescriptorSetLayout
	poolSizes  []vk.DescriptorPoolSize
	isBindless bool

	mu        sync.Mutex
	perThread []*descriptorThreadState
}

func newDescriptorSetAllocator(device *CoreDevice, layout *DescriptorSetLayout, stages *[VulkanNumBindings]vk.ShaderStageFlags) *DescriptorSetAllocator {
	a := &DescriptorSetAllocator{
		device:     device,
		layout:     *layout,
		isBindless: layout.IsBindless,
	}

	var bindings []vk.DescriptorSetLayoutBinding
	var bindingFlags []vk.DescriptorBindingFlags
	poolCounts := map[vk.DescriptorType]uint32{}

	for role := DescriptorRole(0); role < RoleCount; role++ {
		mask := layout.RoleMasks[role]
		if mask == 0 {
			continue
		}
		descType := role.DescriptorType()
		for b := uint32(0); b < VulkanNumBindings; b++ {
			if mask&(1<<b) == 0 {
				continue
			}
			count := layout.ArraySize[b]
			if count == 0 {
				count = 1
			}
			stageFlags := vk.ShaderStageFlags(vk.ShaderStageAll)
			if stages != nil && stages[b] != 0 {
				stageFlags = stages[b]
			}
			binding := vk.DescriptorSetLayoutBinding{
				Binding:         b,
				DescriptorType:  descType,
				DescriptorCount: count,
				StageFlags:      stageFlags,
			}
			if layout.IsBindless && count == UnsizedArray {
				binding.DescriptorCount = vulkanNumBindlessDescriptors
				bindingFlags = append(bindingFlags,
					vk.DescriptorBindingFlags(vk.DescriptorBindingPartiallyBoundBit|
						vk.DescriptorBindingUpdateAfterBindBit|
						vk.DescriptorBindingVariableDescriptorCountBit))
				poolCounts[descType] += vulkanNumBindlessDescriptors
			} else {
				poolCounts[descType] += count * VulkanNumSetsPerPool
			}
			if layout.ImmutableSamplerMask&(1<<b) != 0 {
				if sampler := device.immutableSamplerByCookie(layout.ImmutableSamplerBindings[b]); sampler != nil {
					binding.PImmutableSamplers = []vk.Sampler{sampler.Handle()}
				}
			}
			bindings = append(bindings, binding)
		}
	}

	for descType, count := range poolCounts {
		a.poolSizes = append(a.poolSizes, vk.DescriptorPoolSize{
			Type:            descType,
			DescriptorCount: count,
		})
	}

	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	if a.isBindless && len(bindingFlags) > 0 {
		flagsInfo := vk.DescriptorSetLayoutBindingFlagsCreateInfo{
			SType:         vk.StructureTypeDescriptorSetLayoutBindingFlagsCreateInfo,
			BindingCount:  uint32(len(bindingFlags)),
			PBindingFlags: bindingFlags,
		}
		createInfo.PNext = unsafe.Pointer(flagsInfo.Ref())
		createInfo.Flags = vk.DescriptorSetLayoutCreateFlags(vk.DescriptorSetLayoutCreateUpdateAfterBindPoolBit)
	}
	ret := vk.CreateDescriptorSetLayout(device.device, &createInfo, nil, &a.setLayout)
	if isError(ret) {
		logger().Error("descriptor set layout creation failed", "result", int32(ret))
	}
	return a
}

func (a *DescriptorSetAllocator) SetLayout() vk.DescriptorSetLayout { return a.setLayout }
func (a *DescriptorSetAllocator) IsBindless() bool                 { return a.isBindless }

func (a *DescriptorSetAllocator) threadState(threadIndex int) *descriptorThreadState {
	a.mu.Lock()
	defer a.mu.Unlock()
	for threadIndex >= len(a.perThread) {
		a.perThread = append(a.perThread, &descriptorThreadState{
			sets:     make(map[uint64]vk.DescriptorSet),
			agedSets: make(map[uint64]vk.DescriptorSet),
		})
	}
	return a.perThread[threadIndex]
}

// BeginFrame marks every per-thread structure flushable; the rotation
// happens lazily on the next GetOrAllocate from that thread.
func (a *DescriptorSetAllocator) BeginFrame() {
	a.mu.Lock()
	for _, ts := range a.perThread {
		ts.shouldBegin = true
	}
	a.mu.Unlock()
}

// GetOrAllocate returns the set cached for hash on this thread, or hands
// out a vacant set, growing the pool chain by VulkanNumSetsPerPool sets at
// a time. found=true means the set's descriptors were already written for
// this exact binding hash.
func (a *DescriptorSetAllocator) GetOrAllocate(threadIndex int, hash uint64) (vk.DescriptorSet, bool) {
	ts := a.threadState(threadIndex)
	if ts.shouldBegin {
		for h, set := range ts.agedSets {
			ts.vacants = append(ts.vacants, set)
			delete(ts.agedSets, h)
		}
		ts.agedSets = ts.sets
		ts.sets = make(map[uint64]vk.DescriptorSet)
		ts.shouldBegin = false
	}

	if set, ok := ts.sets[hash]; ok {
		return set, true
	}
	if set, ok := ts.agedSets[hash]; ok {
		delete(ts.agedSets, hash)
		ts.sets[hash] = set
		return set, true
	}

	if n := len(ts.vacants); n > 0 {
		set := ts.vacants[n-1]
		ts.vacants = ts.vacants[:n-1]
		ts.sets[hash] = set
		return set, false
	}

	a.mu.Lock()
	pool := a.createPool(VulkanNumSetsPerPool)
	if pool != vk.NullDescriptorPool {
		ts.pools = append(ts.pools, pool)
	}
	a.mu.Unlock()
	if pool == vk.NullDescriptorPool {
		return vk.NullDescriptorSet, false
	}

	layouts := make([]vk.DescriptorSetLayout, VulkanNumSetsPerPool)
	for i := range layouts {
		layouts[i] = a.setLayout
	}
	sets := make([]vk.DescriptorSet, VulkanNumSetsPerPool)
	ret := vk.AllocateDescriptorSets(a.device.device, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool,
		DescriptorSetCount: VulkanNumSetsPerPool,
		PSetLayouts:        layouts,
	}, &sets[0])
	if isError(ret) {
		logger().Error("descriptor set allocation failed", "result", int32(ret))
		return vk.NullDescriptorSet, false
	}
	ts.vacants = append(ts.vacants, sets[1:]...)
	ts.sets[hash] = sets[0]
	return sets[0], false
}

func (a *DescriptorSetAllocator) createPool(maxSets uint32) vk.DescriptorPool {
	var flags vk.DescriptorPoolCreateFlags
	if a.isBindless {
		flags = vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateUpdateAfterBindBit)
	}
	var pool vk.DescriptorPool
	ret := vk.CreateDescriptorPool(a.device.device, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         flags,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(a.poolSizes)),
		PPoolSizes:    a.poolSizes,
	}, nil, &pool)
	if isError(ret) {
		logger().Error("descriptor pool creation failed", "result", int32(ret))
		return vk.NullDescriptorPool
	}
	return pool
}

// AllocateBindlessSet creates a dedicated single-set pool and allocates the
// long-lived bindless set from it, with numDescriptors as the variable
// descriptor count.
func (a *DescriptorSetAllocator) AllocateBindlessSet(numDescriptors uint32) (vk.DescriptorPool, vk.DescriptorSet) {
	pool := a.createPool(1)
	if pool == vk.NullDescriptorPool {
		return vk.NullDescriptorPool, vk.NullDescriptorSet
	}
	counts := []uint32{numDescriptors}
	countInfo := vk.DescriptorSetVariableDescriptorCountAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetVariableDescriptorCountAllocateInfo,
		DescriptorSetCount: 1,
		PDescriptorCounts:  counts,
	}
	sets := make([]vk.DescriptorSet, 1)
	ret := vk.AllocateDescriptorSets(a.device.device, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		PNext:              unsafe.Pointer(countInfo.Ref()),
		DescriptorPool:     pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{a.setLayout},
	}, &sets[0])
	if isError(ret) {
		vk.DestroyDescriptorPool(a.device.device, pool, nil)
		logger().Error("bindless set allocation failed", "result", int32(ret))
		return vk.NullDescriptorPool, vk.NullDescriptorSet
	}
	return pool, sets[0]
}

// Clear destroys the pool chains; descriptor sets die with their pools.
func (a *DescriptorSetAllocator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ts := range a.perThread {
		for _, pool := range ts.pools {
			vk.DestroyDescriptorPool(a.device.device, pool, nil)
		}
		ts.pools = nil
		ts.vacants = nil
		ts.sets = make(map[uint64]vk.DescriptorSet)
		ts.agedSets = make(map[uint64]vk.DescriptorSet)
	}
}

func (a *DescriptorSetAllocator) destroy() {
	a.Clear()
	if a.setLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(a.device.device, a.setLayout, nil)
		a.setLayout = vk.NullDescriptorSetLayout
	}
}

// descriptorSetAllocatorHash keys the device's allocator cache: the logical
// layout folded with the per-binding stage masks.
func descriptorSetAllocatorHash(layout *DescriptorSetLayout, stages *[VulkanNumBindings]vk.ShaderStageFlags) uint64 {
	h := NewHasher()
	h.U64(layout.hash())
	if stages != nil {
		for b := 0; b < VulkanNumBindings; b++ {
			h.U32(uint32(stages[b]))
		}
	}
	return h.Get()
}
