package neptunevk

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
)

func fakeShader(stage ShaderStage, mutate func(layout *ShaderResourceLayout)) *Shader {
	s := &Shader{
		stage:  stage,
		cookie: NewCookie(),
		hash:   NewCookie(),
	}
	if mutate != nil {
		mutate(&s.layout)
	}
	return s
}

func TestCombineResourceLayoutsStageMasks(t *testing.T) {
	var shaders [ShaderStageCount]*Shader
	shaders[ShaderStageVertex] = fakeShader(ShaderStageVertex, func(l *ShaderResourceLayout) {
		l.Sets[0].RoleMasks[RoleUniformBuffer] = 1 << 0
		l.Sets[0].ArraySize[0] = 1
		l.InputMask = 0b111
	})
	shaders[ShaderStageFragment] = fakeShader(ShaderStageFragment, func(l *ShaderResourceLayout) {
		l.Sets[0].RoleMasks[RoleUniformBuffer] = 1 << 0
		l.Sets[0].ArraySize[0] = 1
		l.Sets[1].RoleMasks[RoleSampledImage] = 1 << 3
		l.Sets[1].ArraySize[3] = 1
		l.OutputMask = 0b11
	})

	combined := combineResourceLayouts(&shaders)

	wantShared := vk.ShaderStageFlags(vk.ShaderStageVertexBit) | vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
	assert.Equal(t, wantShared, combined.StagesForBindings[0][0])
	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageFragmentBit), combined.StagesForBindings[1][3])
	assert.Equal(t, uint32(0b11), combined.DescriptorSetMask)
	assert.Equal(t, uint32(0b111), combined.AttributeMask)
	assert.Equal(t, uint32(0b11), combined.RenderTargetMask)
}

func TestCombineResourceLayoutsPushConstants(t *testing.T) {
	var shaders [ShaderStageCount]*Shader
	shaders[ShaderStageVertex] = fakeShader(ShaderStageVertex, func(l *ShaderResourceLayout) {
		l.PushConstantSize = 64
	})
	shaders[ShaderStageFragment] = fakeShader(ShaderStageFragment, func(l *ShaderResourceLayout) {
		l.PushConstantSize = 96
	})

	combined := combineResourceLayouts(&shaders)
	assert.Equal(t, uint32(96), combined.PushConstantRange.Size)
	wantStages := vk.ShaderStageFlags(vk.ShaderStageVertexBit) | vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
	assert.Equal(t, wantStages, combined.PushConstantRange.StageFlags)
}

func TestCombineResourceLayoutsBindless(t *testing.T) {
	var shaders [ShaderStageCount]*Shader
	shaders[ShaderStageFragment] = fakeShader(ShaderStageFragment, func(l *ShaderResourceLayout) {
		l.Sets[2].RoleMasks[RoleSeparateImage] = 1 << 0
		l.Sets[2].ArraySize[0] = UnsizedArray
		l.BindlessSetMask = 1 << 2
	})
	combined := combineResourceLayouts(&shaders)
	assert.Equal(t, uint32(1<<2), combined.BindlessSetMask)
	assert.True(t, combined.Sets[2].IsBindless)
}

func TestProgramHashOrderSensitive(t *testing.T) {
	a := fakeShader(ShaderStageVertex, nil)
	b := fakeShader(ShaderStageFragment, nil)

	var ab, ba [ShaderStageCount]*Shader
	ab[ShaderStageVertex] = a
	ab[ShaderStageFragment] = b
	ba[ShaderStageVertex] = b
	ba[ShaderStageFragment] = a

	assert.NotEqual(t, programHash(&ab), programHash(&ba))
	assert.Equal(t, programHash(&ab), programHash(&ab))
}

func TestDescriptorSetLayoutHashSensitivity(t *testing.T) {
	var a, b DescriptorSetLayout
	a.RoleMasks[RoleUniformBuffer] = 1
	a.ArraySize[0] = 1
	b = a
	assert.Equal(t, a.hash(), b.hash())

	b.ArraySize[0] = 4
	assert.NotEqual(t, a.hash(), b.hash())

	c := a
	c.IsBindless = true
	assert.NotEqual(t, a.hash(), c.hash())
}

func TestDescriptorSetAllocatorHashIncludesStages(t *testing.T) {
	var layout DescriptorSetLayout
	layout.RoleMasks[RoleUniformBuffer] = 1
	layout.ArraySize[0] = 1

	var vertexOnly, both [VulkanNumBindings]vk.ShaderStageFlags
	vertexOnly[0] = vk.ShaderStageFlags(vk.ShaderStageVertexBit)
	both[0] = vk.ShaderStageFlags(vk.ShaderStageVertexBit) | vk.ShaderStageFlags(vk.ShaderStageFragmentBit)

	assert.NotEqual(t,
		descriptorSetAllocatorHash(&layout, &vertexOnly),
		descriptorSetAllocatorHash(&layout, &both))
}
