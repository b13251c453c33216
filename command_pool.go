package neptunevk

import vk "github.com/goki/vulkan"

// CommandPool is a reusable command-buffer arena owned by one
// (queue family, thread, frame slot) combination. Buffers are handed out in
// order and reclaimed wholesale by the per-frame reset.
type CommandPool struct {
	device    vk.Device
	pool      vk.CommandPool
	buffers   []vk.CommandBuffer
	usedCount int
}

func NewCommandPool(device vk.Device, familyIndex uint32) (*CommandPool, error) {
	var pool vk.CommandPool
	ret := vk.CreateCommandPool(device, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: familyIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}, nil, &pool)
	if isError(ret) {
		return nil, newErrorf(ret, "creating command pool for family %d", familyIndex)
	}
	return &CommandPool{device: device, pool: pool}, nil
}

// RequestCommandBuffer returns the next unused buffer, allocating a fresh
// primary buffer when the arena is exhausted.
func (p *CommandPool) RequestCommandBuffer() vk.CommandBuffer {
	if p.usedCount < len(p.buffers) {
		buf := p.buffers[p.usedCount]
		p.usedCount++
		return buf
	}
	buffers := make([]vk.CommandBuffer, 1)
	ret := vk.AllocateCommandBuffers(p.device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, buffers)
	if isError(ret) {
		logger().Error("command buffer allocation failed", "result", int32(ret))
		return nil
	}
	p.buffers = append(p.buffers, buffers[0])
	p.usedCount++
	return buffers[0]
}

// BeginFrame resets the pool if any buffers were handed out since the last
// reset.
func (p *CommandPool) BeginFrame() {
	if p.usedCount > 0 {
		vk.ResetCommandPool(p.device, p.pool, 0)
		p.usedCount = 0
	}
}

func (p *CommandPool) Destroy() {
	if p.pool != vk.NullCommandPool {
		if len(p.buffers) > 0 {
			vk.FreeCommandBuffers(p.device, p.pool, uint32(len(p.buffers)), p.buffers)
		}
		vk.DestroyCommandPool(p.device, p.pool, nil)
		p.pool = vk.NullCommandPool
		p.buffers = nil
	}
}
