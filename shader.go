package neptunevk

import (
	vk "github.com/goki/vulkan"
)

// ShaderStage indexes the pipeline stages a program may combine.
type ShaderStage int

const (
	ShaderStageVertex ShaderStage = iota
	ShaderStageTessControl
	ShaderStageTessEvaluation
	ShaderStageGeometry
	ShaderStageFragment
	ShaderStageCompute
	ShaderStageCount
)

func (s ShaderStage) Flag() vk.ShaderStageFlagBits {
	switch s {
	case ShaderStageVertex:
		return vk.ShaderStageVertexBit
	case ShaderStageTessControl:
		return vk.ShaderStageTessellationControlBit
	case ShaderStageTessEvaluation:
		return vk.ShaderStageTessellationEvaluationBit
	case ShaderStageGeometry:
		return vk.ShaderStageGeometryBit
	case ShaderStageFragment:
		return vk.ShaderStageFragmentBit
	case ShaderStageCompute:
		return vk.ShaderStageComputeBit
	}
	return 0
}

// DescriptorSetLayout is the logical layout of one descriptor set: which
// bindings carry which role, the per-binding array sizes, and the immutable
// sampler assignment. It is hashed into the pipeline-layout key.
type DescriptorSetLayout struct {
	RoleMasks                [RoleCount]uint32
	ArraySize                [VulkanNumBindings]uint32
	ImmutableSamplerMask     uint32
	ImmutableSamplerBindings [VulkanNumBindings]uint64
	IsBindless               bool
}

// ActiveMask ORs every role mask into the set's active binding mask.
func (l *DescriptorSetLayout) ActiveMask() uint32 {
	var mask uint32
	for role := 0; role < int(RoleCount); role++ {
		mask |= l.RoleMasks[role]
	}
	return mask
}

func (l *DescriptorSetLayout) hash() uint64 {
	h := NewHasher()
	for role := 0; role < int(RoleCount); role++ {
		h.U32(l.RoleMasks[role])
	}
	for i := 0; i < VulkanNumBindings; i++ {
		h.U32(l.ArraySize[i])
	}
	h.U32(l.ImmutableSamplerMask)
	for i := 0; i < VulkanNumBindings; i++ {
		if l.ImmutableSamplerMask&(1<<i) != 0 {
			h.U64(l.ImmutableSamplerBindings[i])
		}
	}
	h.Bool(l.IsBindless)
	return h.Get()
}

// ShaderResourceLayout is the reflection result for a single stage.
type ShaderResourceLayout struct {
	Sets             [VulkanNumDescriptorSets]DescriptorSetLayout
	PushConstantSize uint32
	InputMask        uint32
	OutputMask       uint32
	BindlessSetMask  uint32
}

// CombinedResourceLayout merges the per-stage layouts of one program.
type CombinedResourceLayout struct {
	Sets              [VulkanNumDescriptorSets]DescriptorSetLayout
	StagesForBindings [VulkanNumDescriptorSets][VulkanNumBindings]vk.ShaderStageFlags
	StagesForSets     [VulkanNumDescriptorSets]vk.ShaderStageFlags
	PushConstantRange vk.PushConstantRange
	PushConstantHash  uint64
	AttributeMask     uint32
	RenderTargetMask  uint32
	DescriptorSetMask uint32
	BindlessSetMask   uint32
}

func (l *CombinedResourceLayout) hash() uint64 {
	h := NewHasher()
	for set := 0; set < VulkanNumDescriptorSets; set++ {
		h.U64(l.Sets[set].hash())
		for b := 0; b < VulkanNumBindings; b++ {
			h.U32(uint32(l.StagesForBindings[set][b]))
		}
	}
	h.U32(l.PushConstantRange.Offset)
	h.U32(l.PushConstantRange.Size)
	h.U32(uint32(l.PushConstantRange.StageFlags))
	h.U32(l.AttributeMask)
	h.U32(l.RenderTargetMask)
	h.U32(l.BindlessSetMask)
	return h.Get()
}

// Shader wraps a VkShaderModule plus its reflected resource layout.
type Shader struct {
	device *CoreDevice
	module vk.ShaderModule
	cookie uint64
	stage  ShaderStage
	layout ShaderResourceLayout
	hash   uint64
}

func (s *Shader) Handle() vk.ShaderModule          { return s.module }
func (s *Shader) Cookie() uint64                   { return s.cookie }
func (s *Shader) Stage() ShaderStage               { return s.stage }
func (s *Shader) ResourceLayout() *ShaderResourceLayout { return &s.layout }
func (s *Shader) Hash() uint64                     { return s.hash }

func newShader(device *CoreDevice, stage ShaderStage, spirv []byte) (*Shader, error) {
	var module vk.ShaderModule
	ret := vk.CreateShaderModule(device.device, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(spirv)),
		PCode:    sliceUint32(spirv),
	}, nil, &module)
	if isError(ret) {
		logger().Error("shader module creation failed", "stage", int(stage), "result", int32(ret))
		return nil, NewError(ret)
	}
	shader := &Shader{
		device: device,
		module: module,
		cookie: NewCookie(),
		stage:  stage,
		hash:   HashData(spirv),
	}
	if err := reflectSpirv(spirv, &shader.layout); err != nil {
		vk.DestroyShaderModule(device.device, module, nil)
		return nil, err
	}
	return shader, nil
}

func (s *Shader) destroy() {
	if s.module != vk.NullShaderModule {
		vk.DestroyShaderModule(s.device.device, s.module, nil)
		s.module = vk.NullShaderModule
	}
}

// pipelineEntry is a baked pipeline stored in a program's cache.
type pipelineEntry struct {
	pipeline vk.Pipeline
}

// ShaderProgram is a legal stage permutation (graphics stages or a single
// compute stage) with its pipeline layout and a cache of baked pipelines.
type ShaderProgram struct {
	device         *CoreDevice
	shaders        [ShaderStageCount]*Shader
	cookie         uint64
	hash           uint64
	pipelineLayout *PipelineLayout
	pipelines      *VulkanCache[pipelineEntry]
}

func (p *ShaderProgram) Cookie() uint64                 { return p.cookie }
func (p *ShaderProgram) Hash() uint64                   { return p.hash }
func (p *ShaderProgram) Shader(stage ShaderStage) *Shader { return p.shaders[stage] }
func (p *ShaderProgram) PipelineLayout() *PipelineLayout { return p.pipelineLayout }

// HasStages reports whether the program carries any stage at all.
func (p *ShaderProgram) HasStages() bool {
	for i := 0; i < int(ShaderStageCount); i++ {
		if p.shaders[i] != nil {
			return true
		}
	}
	return false
}

func (p *ShaderProgram) IsCompute() bool {
	return p.shaders[ShaderStageCompute] != nil
}

// FindPipeline looks up a baked pipeline by compile-state hash.
func (p *ShaderProgram) FindPipeline(hash uint64) vk.Pipeline {
	if entry := p.pipelines.Find(hash); entry != nil {
		return entry.pipeline
	}
	return vk.NullPipeline
}

// AddPipeline stores a baked pipeline, returning the winner on a race.
func (p *ShaderProgram) AddPipeline(hash uint64, pipeline vk.Pipeline) vk.Pipeline {
	entry := p.pipelines.Insert(hash, &pipelineEntry{pipeline: pipeline})
	if entry.pipeline != pipeline {
		// Lost the race; the redundant pipeline is deferred to the frame
		// destruction queue.
		p.device.destroyPipelineNolock(pipeline)
	}
	return entry.pipeline
}

func (p *ShaderProgram) moveToReadOnly() {
	p.pipelines.MoveToReadOnly()
}

func (p *ShaderProgram) destroy() {
	p.pipelines.Clear(func(entry *pipelineEntry) {
		vk.DestroyPipeline(p.device.device, entry.pipeline, nil)
	})
}

// programHash is the ordered tuple of shader hashes.
func programHash(shaders *[ShaderStageCount]*Shader) uint64 {
	h := NewHasher()
	for i := 0; i < int(ShaderStageCount); i++ {
		if shaders[i] != nil {
			h.U64(shaders[i].Hash())
		} else {
			h.U64(0)
		}
	}
	return h.Get()
}

// combineResourceLayouts merges each stage's reflected layout into the
// program-wide combined layout: role masks and stage masks OR together,
// array-size disagreements across stages are reported and resolved in favor
// of the first stage that declared the binding.
func combineResourceLayouts(shaders *[ShaderStageCount]*Shader) CombinedResourceLayout {
	var combined CombinedResourceLayout
	var pcSize uint32
	var pcStages vk.ShaderStageFlags

	for stage := 0; stage < int(ShaderStageCount); stage++ {
		shader := shaders[stage]
		if shader == nil {
			continue
		}
		stageFlag := vk.ShaderStageFlags(ShaderStage(stage).Flag())
		layout := &shader.layout

		if stage == int(ShaderStageVertex) {
			combined.AttributeMask = layout.InputMask
		}
		if stage == int(ShaderStageFragment) {
			combined.RenderTargetMask = layout.OutputMask
		}

		for set := 0; set < VulkanNumDescriptorSets; set++ {
			src := &layout.Sets[set]
			dst := &combined.Sets[set]
			activeMask := src.ActiveMask()
			if activeMask == 0 {
				continue
			}
			for role := 0; role < int(RoleCount); role++ {
				dst.RoleMasks[role] |= src.RoleMasks[role]
			}
			for b := 0; b < VulkanNumBindings; b++ {
				if activeMask&(1<<b) == 0 {
					continue
				}
				combined.StagesForBindings[set][b] |= stageFlag
				if dst.ArraySize[b] == 0 {
					dst.ArraySize[b] = src.ArraySize[b]
				} else if dst.ArraySize[b] != src.ArraySize[b] {
					logger().Error("mismatched array sizes between stages",
						"set", set, "binding", b,
						"have", dst.ArraySize[b], "got", src.ArraySize[b])
				}
			}
			combined.StagesForSets[set] |= stageFlag
			if layout.BindlessSetMask&(1<<set) != 0 {
				dst.IsBindless = true
				combined.BindlessSetMask |= 1 << set
			}
		}

		if layout.PushConstantSize > 0 {
			pcStages |= stageFlag
			pcSize = maxU32(pcSize, layout.PushConstantSize)
		}
	}

	for set := 0; set < VulkanNumDescriptorSets; set++ {
		if combined.Sets[set].ActiveMask() != 0 {
			combined.DescriptorSetMask |= 1 << set
		}
	}

	combined.PushConstantRange = vk.PushConstantRange{
		StageFlags: pcStages,
		Offset:     0,
		Size:       pcSize,
	}
	h := NewHasher()
	h.U32(pcSize).U32(uint32(pcStages))
	combined.PushConstantHash = h.Get()
	return combined
}

func newShaderProgram(device *CoreDevice, shaders [ShaderStageCount]*Shader) *ShaderProgram {
	program := &ShaderProgram{
		device:    device,
		shaders:   shaders,
		cookie:    NewCookie(),
		hash:      programHash(&shaders),
		pipelines: NewVulkanCache[pipelineEntry](),
	}
	combined := combineResourceLayouts(&shaders)
	program.pipelineLayout = device.requestPipelineLayout(&combined)
	return program
}
