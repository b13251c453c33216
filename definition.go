package neptunevk

import vk "github.com/goki/vulkan"

// Queue indices used across frame contexts, submissions and pools.
const (
	QueueGraphics = iota
	QueueCompute
	QueueTransfer
	QueueCount
)

const (
	// VulkanNumDescriptorSets is the number of bindable descriptor set slots.
	VulkanNumDescriptorSets = 4
	// VulkanNumBindings is the per-set binding count limit.
	VulkanNumBindings = 32
	// VulkanNumAttachments is the color attachment limit per render pass.
	VulkanNumAttachments = 8
	// VulkanNumVertexBuffers is the vertex binding slot limit.
	VulkanNumVertexBuffers = 8
	// VulkanNumSetsPerPool is how many descriptor sets each pool link holds.
	VulkanNumSetsPerPool = 16
	// VulkanPushConstantSize is the size of the push-constant shadow.
	VulkanPushConstantSize = 128
	// UnsizedArray marks a runtime-sized (bindless) descriptor array.
	UnsizedArray = ^uint32(0)
	// MaxUBOSize is the uniform block pool spill size.
	MaxUBOSize = 16 * 1024
)

// BufferDomain selects the memory-usage class for a buffer allocation.
type BufferDomain int

const (
	// BufferDomainDevice is GPU-only memory.
	BufferDomainDevice BufferDomain = iota
	// BufferDomainLinkedDeviceHost is CPU-to-GPU persistently mapped memory.
	BufferDomainLinkedDeviceHost
	// BufferDomainHost is CPU-only memory.
	BufferDomainHost
	// BufferDomainCachedHost is GPU-to-CPU read-back memory.
	BufferDomainCachedHost
)

// ImageDomain selects the memory-usage class for an image allocation.
type ImageDomain int

const (
	// ImageDomainPhysical is GPU-only memory.
	ImageDomainPhysical ImageDomain = iota
	// ImageDomainTransient is lazily allocated on-tile memory.
	ImageDomainTransient
	// ImageDomainLinearHost is CPU-only linear memory.
	ImageDomainLinearHost
	// ImageDomainLinearHostCached is read-back linear memory.
	ImageDomainLinearHostCached
)

// ImageMiscFlags alter image creation behavior.
type ImageMiscFlags uint32

const (
	ImageMiscGenerateMips ImageMiscFlags = 1 << iota
	ImageMiscForceArray
	ImageMiscMutableSRGB
	ImageMiscConcurrentQueueGraphics
	ImageMiscConcurrentQueueAsyncCompute
	ImageMiscConcurrentQueueAsyncGraphics
	ImageMiscConcurrentQueueAsyncTransfer
	ImageMiscVerifySampledLinearFilter
	ImageMiscLinearImageIgnoreDeviceLocal
	ImageMiscForceNoDedicated
	ImageMiscNoDefaultViews
)

const imageMiscConcurrentQueueMask = ImageMiscConcurrentQueueGraphics |
	ImageMiscConcurrentQueueAsyncCompute |
	ImageMiscConcurrentQueueAsyncGraphics |
	ImageMiscConcurrentQueueAsyncTransfer

// BufferMiscFlags alter buffer creation behavior.
type BufferMiscFlags uint32

const (
	BufferMiscZeroInitialize BufferMiscFlags = 1 << iota
)

// RenderPassOpFlags alter render pass construction.
type RenderPassOpFlags uint32

const (
	RenderPassOpClearDepthStencil RenderPassOpFlags = 1 << iota
	RenderPassOpDepthStencilReadOnly
)

// DescriptorRole classifies what a shader binding expects.
type DescriptorRole int

const (
	RoleSampledImage DescriptorRole = iota
	RoleStorageImage
	RoleUniformBuffer
	RoleStorageBuffer
	RoleSampledBuffer
	RoleInputAttachment
	RoleSampler
	RoleSeparateImage
	RoleCount
)

func (r DescriptorRole) DescriptorType() vk.DescriptorType {
	switch r {
	case RoleSampledImage:
		return vk.DescriptorTypeCombinedImageSampler
	case RoleStorageImage:
		return vk.DescriptorTypeStorageImage
	case RoleUniformBuffer:
		return vk.DescriptorTypeUniformBufferDynamic
	case RoleStorageBuffer:
		return vk.DescriptorTypeStorageBuffer
	case RoleSampledBuffer:
		return vk.DescriptorTypeUniformTexelBuffer
	case RoleInputAttachment:
		return vk.DescriptorTypeInputAttachment
	case RoleSampler:
		return vk.DescriptorTypeSampler
	case RoleSeparateImage:
		return vk.DescriptorTypeSampledImage
	}
	return vk.DescriptorTypeMaxEnum
}

// StockSampler names the device's immutable default samplers.
type StockSampler int

const (
	StockSamplerNearestClamp StockSampler = iota
	StockSamplerNearestWrap
	StockSamplerPointClamp
	StockSamplerPointWrap
	StockSamplerLinearClamp
	StockSamplerLinearWrap
	StockSamplerCount
)

// SwapchainError reports the outcome of swap chain creation.
type SwapchainError int

const (
	SwapchainErrorNone SwapchainError = iota
	SwapchainErrorNoSurface
	SwapchainErrorError
)

// SwapChainDesc configures swap chain creation.
type SwapChainDesc struct {
	Width       uint32
	Height      uint32
	Format      vk.Format
	VSync       bool
	BufferCount uint32
}

// ImageLayoutType selects how a command list expects an image to be laid out.
type ImageLayoutType int

const (
	ImageLayoutOptimal ImageLayoutType = iota
	ImageLayoutGeneral
)
