package neptunevk

import (
	"sync/atomic"

	vk "github.com/goki/vulkan"
)

// SamplerCreateInfo mirrors the Vulkan sampler state that participates in
// the immutable-sampler hash.
type SamplerCreateInfo struct {
	MagFilter               vk.Filter
	MinFilter               vk.Filter
	MipmapMode              vk.SamplerMipmapMode
	AddressModeU            vk.SamplerAddressMode
	AddressModeV            vk.SamplerAddressMode
	AddressModeW            vk.SamplerAddressMode
	MipLodBias              float32
	AnisotropyEnable        bool
	MaxAnisotropy           float32
	CompareEnable           bool
	CompareOp               vk.CompareOp
	MinLod                  float32
	MaxLod                  float32
	BorderColor             vk.BorderColor
	UnnormalizedCoordinates bool
}

func (info *SamplerCreateInfo) hash() uint64 {
	h := NewHasher()
	h.U32(uint32(info.MagFilter)).U32(uint32(info.MinFilter)).U32(uint32(info.MipmapMode))
	h.U32(uint32(info.AddressModeU)).U32(uint32(info.AddressModeV)).U32(uint32(info.AddressModeW))
	h.F32(info.MipLodBias).Bool(info.AnisotropyEnable).F32(info.MaxAnisotropy)
	h.Bool(info.CompareEnable).U32(uint32(info.CompareOp))
	h.F32(info.MinLod).F32(info.MaxLod)
	h.U32(uint32(info.BorderColor)).Bool(info.UnnormalizedCoordinates)
	return h.Get()
}

func (info *SamplerCreateInfo) vkInfo() vk.SamplerCreateInfo {
	anisotropy := vk.False
	if info.AnisotropyEnable {
		anisotropy = vk.True
	}
	compare := vk.False
	if info.CompareEnable {
		compare = vk.True
	}
	unnormalized := vk.False
	if info.UnnormalizedCoordinates {
		unnormalized = vk.True
	}
	return vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               info.MagFilter,
		MinFilter:               info.MinFilter,
		MipmapMode:              info.MipmapMode,
		AddressModeU:            info.AddressModeU,
		AddressModeV:            info.AddressModeV,
		AddressModeW:            info.AddressModeW,
		MipLodBias:              info.MipLodBias,
		AnisotropyEnable:        anisotropy,
		MaxAnisotropy:           info.MaxAnisotropy,
		CompareEnable:           compare,
		CompareOp:               info.CompareOp,
		MinLod:                  info.MinLod,
		MaxLod:                  info.MaxLod,
		BorderColor:             info.BorderColor,
		UnnormalizedCoordinates: unnormalized,
	}
}

// Sampler wraps a VkSampler. Immutable samplers live for the owning
// program's lifetime and are referenced by pipeline layouts; transient
// samplers release through the frame destruction queue.
type Sampler struct {
	device       *CoreDevice
	sampler      vk.Sampler
	cookie       uint64
	info         SamplerCreateInfo
	immutable    bool
	internalSync bool
	refs         int32
}

func (s *Sampler) AddRef() *Sampler {
	atomic.AddInt32(&s.refs, 1)
	return s
}

func (s *Sampler) Handle() vk.Sampler            { return s.sampler }
func (s *Sampler) Cookie() uint64                { return s.cookie }
func (s *Sampler) CreateInfo() SamplerCreateInfo { return s.info }

func (s *Sampler) Release() {
	if atomic.AddInt32(&s.refs, -1) != 0 {
		return
	}
	if s.immutable {
		// Owned by the immutable sampler cache; destroyed with the device.
		return
	}
	if s.internalSync {
		s.device.destroySamplerNolock(s.sampler)
	} else {
		s.device.destroySampler(s.sampler)
	}
	s.sampler = vk.NullSampler
}

// stockSamplerInfo builds the create info for one of the device's stock
// samplers.
func stockSamplerInfo(stock StockSampler) SamplerCreateInfo {
	info := SamplerCreateInfo{
		MaxLod:      vk.LodClampNone,
		MaxAnisotropy: 1.0,
	}
	switch stock {
	case StockSamplerNearestClamp, StockSamplerNearestWrap, StockSamplerPointClamp, StockSamplerPointWrap:
		info.MagFilter = vk.FilterNearest
		info.MinFilter = vk.FilterNearest
		info.MipmapMode = vk.SamplerMipmapModeNearest
	case StockSamplerLinearClamp, StockSamplerLinearWrap:
		info.MagFilter = vk.FilterLinear
		info.MinFilter = vk.FilterLinear
		info.MipmapMode = vk.SamplerMipmapModeLinear
	}
	switch stock {
	case StockSamplerNearestWrap, StockSamplerPointWrap, StockSamplerLinearWrap:
		info.AddressModeU = vk.SamplerAddressModeRepeat
		info.AddressModeV = vk.SamplerAddressModeRepeat
		info.AddressModeW = vk.SamplerAddressModeRepeat
	default:
		info.AddressModeU = vk.SamplerAddressModeClampToEdge
		info.AddressModeV = vk.SamplerAddressModeClampToEdge
		info.AddressModeW = vk.SamplerAddressModeClampToEdge
	}
	return info
}
