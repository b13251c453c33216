package neptunevk

import vk "github.com/goki/vulkan"

// PipelineLayout is derived from a program's combined resource layout: one
// descriptor set allocator (or bindless designation) per active set, the
// push-constant range, and the VkPipelineLayout they produce.
type PipelineLayout struct {
	device        *CoreDevice
	layout        vk.PipelineLayout
	resLayout     CombinedResourceLayout
	setAllocators [VulkanNumDescriptorSets]*DescriptorSetAllocator
	hash          uint64
}

func (l *PipelineLayout) Handle() vk.PipelineLayout              { return l.layout }
func (l *PipelineLayout) Hash() uint64                           { return l.hash }
func (l *PipelineLayout) ResourceLayout() *CombinedResourceLayout { return &l.resLayout }

func (l *PipelineLayout) SetAllocator(set uint32) *DescriptorSetAllocator {
	return l.setAllocators[set]
}

func newPipelineLayout(device *CoreDevice, combined *CombinedResourceLayout) *PipelineLayout {
	l := &PipelineLayout{
		device:    device,
		resLayout: *combined,
		hash:      combined.hash(),
	}

	var setLayouts []vk.DescriptorSetLayout
	numSets := uint32(0)
	for set := uint32(0); set < VulkanNumDescriptorSets; set++ {
		if combined.DescriptorSetMask&(1<<set) != 0 {
			l.setAllocators[set] = device.requestDescriptorSetAllocator(
				&combined.Sets[set], &combined.StagesForBindings[set])
			setLayouts = append(setLayouts, l.setAllocators[set].SetLayout())
			numSets = set + 1
		} else {
			setLayouts = append(setLayouts, device.emptySetAllocator().SetLayout())
		}
	}
	setLayouts = setLayouts[:numSets]

	createInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: numSets,
		PSetLayouts:    setLayouts,
	}
	if combined.PushConstantRange.Size > 0 {
		createInfo.PushConstantRangeCount = 1
		createInfo.PPushConstantRanges = []vk.PushConstantRange{combined.PushConstantRange}
	}
	ret := vk.CreatePipelineLayout(device.device, &createInfo, nil, &l.layout)
	if isError(ret) {
		logger().Error("pipeline layout creation failed", "result", int32(ret))
	}
	return l
}

func (l *PipelineLayout) destroy() {
	if l.layout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(l.device.device, l.layout, nil)
		l.layout = vk.NullPipelineLayout
	}
}
