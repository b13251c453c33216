package neptunevk

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spvAssemble builds a minimal valid module from instruction words.
func spvAssemble(instructions ...[]uint32) []byte {
	words := []uint32{spirvMagic, 0x00010000, 0, 100, 0}
	for _, ins := range instructions {
		words = append(words, ins...)
	}
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

func ins(op uint32, args ...uint32) []uint32 {
	words := []uint32{op | uint32(len(args)+1)<<16}
	return append(words, args...)
}

const (
	idFloat    = 1
	idVec4     = 2
	idUBOType  = 3
	idUBOPtr   = 4
	idUBOVar   = 5
	idPCType   = 6
	idPCPtr    = 7
	idPCVar    = 8
	idInPtr    = 9
	idInVar    = 10
	idImage    = 11
	idSampled  = 12
	idRuntime  = 13
	idArrPtr   = 14
	idArrVar   = 15
)

func testModule() []byte {
	return spvAssemble(
		// Decorations.
		ins(spvOpDecorate, idUBOVar, spvDecorationDescriptorSet, 0),
		ins(spvOpDecorate, idUBOVar, spvDecorationBinding, 1),
		ins(spvOpDecorate, idUBOType, spvDecorationBlock),
		ins(spvOpMemberDecorate, idPCType, 0, spvDecorationOffset, 0),
		ins(spvOpMemberDecorate, idPCType, 1, spvDecorationOffset, 16),
		ins(spvOpDecorate, idInVar, spvDecorationLocation, 2),
		ins(spvOpDecorate, idArrVar, spvDecorationDescriptorSet, 1),
		ins(spvOpDecorate, idArrVar, spvDecorationBinding, 0),
		// Types.
		ins(spvOpTypeFloat, idFloat, 32),
		ins(spvOpTypeVector, idVec4, idFloat, 4),
		ins(spvOpTypeStruct, idUBOType, idVec4),
		ins(spvOpTypePointer, idUBOPtr, spvStorageClassUniform, idUBOType),
		ins(spvOpTypeStruct, idPCType, idVec4, idFloat),
		ins(spvOpTypePointer, idPCPtr, spvStorageClassPushConstant, idPCType),
		ins(spvOpTypePointer, idInPtr, spvStorageClassInput, idVec4),
		ins(spvOpTypeImage, idImage, idFloat, 1, 0, 0, 0, 1, 0),
		ins(spvOpTypeSampledImage, idSampled, idImage),
		ins(spvOpTypeRuntimeArray, idRuntime, idSampled),
		ins(spvOpTypePointer, idArrPtr, spvStorageClassUniformConstant, idRuntime),
		// Variables.
		ins(spvOpVariable, idUBOPtr, idUBOVar, spvStorageClassUniform),
		ins(spvOpVariable, idPCPtr, idPCVar, spvStorageClassPushConstant),
		ins(spvOpVariable, idInPtr, idInVar, spvStorageClassInput),
		ins(spvOpVariable, idArrPtr, idArrVar, spvStorageClassUniformConstant),
	)
}

func TestReflectUniformBufferBinding(t *testing.T) {
	var layout ShaderResourceLayout
	require.NoError(t, reflectSpirv(testModule(), &layout))

	assert.Equal(t, uint32(1<<1), layout.Sets[0].RoleMasks[RoleUniformBuffer])
	assert.Equal(t, uint32(1), layout.Sets[0].ArraySize[1])
}

func TestReflectPushConstantSize(t *testing.T) {
	var layout ShaderResourceLayout
	require.NoError(t, reflectSpirv(testModule(), &layout))

	// Last member at offset 16, a 4-byte float.
	assert.Equal(t, uint32(20), layout.PushConstantSize)
}

func TestReflectInputMask(t *testing.T) {
	var layout ShaderResourceLayout
	require.NoError(t, reflectSpirv(testModule(), &layout))
	assert.Equal(t, uint32(1<<2), layout.InputMask)
}

func TestReflectBindlessRuntimeArray(t *testing.T) {
	var layout ShaderResourceLayout
	require.NoError(t, reflectSpirv(testModule(), &layout))

	assert.Equal(t, uint32(1<<0), layout.Sets[1].RoleMasks[RoleSampledImage])
	assert.Equal(t, UnsizedArray, layout.Sets[1].ArraySize[0])
	assert.True(t, layout.Sets[1].IsBindless)
	assert.Equal(t, uint32(1<<1), layout.BindlessSetMask)
}

func TestReflectRejectsGarbage(t *testing.T) {
	var layout ShaderResourceLayout
	assert.Error(t, reflectSpirv([]byte{1, 2, 3}, &layout))
	assert.Error(t, reflectSpirv(make([]byte, 64), &layout))
}
