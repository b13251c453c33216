package neptunevk

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Minimal SPIR-V walk extracting what the resource layout needs: descriptor
// bindings classified by role, array sizes (runtime arrays mark the set
// bindless), push-constant block size, and the stage input/output masks.

const spirvMagic = 0x07230203

const (
	spvOpTypeInt          = 21
	spvOpTypeFloat        = 22
	spvOpTypeVector       = 23
	spvOpTypeMatrix       = 24
	spvOpTypeImage        = 25
	spvOpTypeSampler      = 26
	spvOpTypeSampledImage = 27
	spvOpTypeArray        = 28
	spvOpTypeRuntimeArray = 29
	spvOpTypeStruct       = 30
	spvOpTypePointer      = 32
	spvOpConstant         = 43
	spvOpVariable         = 59
	spvOpDecorate         = 71
	spvOpMemberDecorate   = 72
)

const (
	spvDecorationBlock         = 2
	spvDecorationBufferBlock   = 3
	spvDecorationArrayStride   = 6
	spvDecorationLocation      = 30
	spvDecorationBinding       = 33
	spvDecorationDescriptorSet = 34
	spvDecorationOffset        = 35
)

const (
	spvStorageClassUniformConstant = 0
	spvStorageClassInput           = 1
	spvStorageClassUniform         = 2
	spvStorageClassOutput          = 3
	spvStorageClassPushConstant    = 9
	spvStorageClassStorageBuffer   = 12
)

const (
	spvDimBuffer      = 5
	spvDimSubpassData = 6
)

type spvType struct {
	op          uint32
	width       uint32 // scalar bit width
	component   uint32 // vector/matrix component type or array element
	count       uint32 // vector size / matrix columns / array length id
	dim         uint32 // image dim
	sampled     uint32 // image sampled flag
	storage     uint32 // pointer storage class
	pointee     uint32 // pointer target type
	members     []uint32
	arrayStride uint32
}

type spvDecorations struct {
	set         uint32
	binding     uint32
	location    uint32
	hasSet      bool
	hasBinding  bool
	hasLocation bool
	block       bool
	bufferBlock bool
}

type spvMemberOffsets map[uint32][]uint32

// reflectSpirv fills layout from the module's declarations.
func reflectSpirv(spirv []byte, layout *ShaderResourceLayout) error {
	if len(spirv) < 20 || len(spirv)%4 != 0 {
		return errors.New("spirv: truncated module")
	}
	words := make([]uint32, len(spirv)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(spirv[i*4:])
	}
	if words[0] != spirvMagic {
		return errors.New("spirv: bad magic")
	}

	types := map[uint32]*spvType{}
	constants := map[uint32]uint32{}
	decorations := map[uint32]*spvDecorations{}
	memberOffsets := spvMemberOffsets{}

	deco := func(id uint32) *spvDecorations {
		d := decorations[id]
		if d == nil {
			d = &spvDecorations{}
			decorations[id] = d
		}
		return d
	}

	type variable struct {
		id      uint32
		typeID  uint32
		storage uint32
	}
	var variables []variable

	for at := 5; at < len(words); {
		op := words[at] & 0xffff
		count := int(words[at] >> 16)
		if count == 0 || at+count > len(words) {
			return errors.New("spirv: malformed instruction stream")
		}
		args := words[at+1 : at+count]
		switch op {
		case spvOpTypeInt, spvOpTypeFloat:
			types[args[0]] = &spvType{op: op, width: args[1]}
		case spvOpTypeVector, spvOpTypeMatrix:
			types[args[0]] = &spvType{op: op, component: args[1], count: args[2]}
		case spvOpTypeImage:
			types[args[0]] = &spvType{op: op, dim: args[2], sampled: args[6]}
		case spvOpTypeSampler:
			types[args[0]] = &spvType{op: op}
		case spvOpTypeSampledImage:
			types[args[0]] = &spvType{op: op, component: args[1]}
		case spvOpTypeArray:
			types[args[0]] = &spvType{op: op, component: args[1], count: args[2]}
		case spvOpTypeRuntimeArray:
			types[args[0]] = &spvType{op: op, component: args[1]}
		case spvOpTypeStruct:
			types[args[0]] = &spvType{op: op, members: append([]uint32(nil), args[1:]...)}
		case spvOpTypePointer:
			types[args[0]] = &spvType{op: op, storage: args[1], pointee: args[2]}
		case spvOpConstant:
			if len(args) >= 3 {
				constants[args[1]] = args[2]
			}
		case spvOpDecorate:
			if len(args) >= 2 {
				d := deco(args[0])
				switch args[1] {
				case spvDecorationDescriptorSet:
					d.set, d.hasSet = args[2], true
				case spvDecorationBinding:
					d.binding, d.hasBinding = args[2], true
				case spvDecorationLocation:
					d.location, d.hasLocation = args[2], true
				case spvDecorationBlock:
					d.block = true
				case spvDecorationBufferBlock:
					d.bufferBlock = true
				case spvDecorationArrayStride:
					if t := types[args[0]]; t != nil {
						t.arrayStride = args[2]
					}
				}
			}
		case spvOpMemberDecorate:
			if len(args) >= 4 && args[2] == spvDecorationOffset {
				offsets := memberOffsets[args[0]]
				member := args[1]
				for uint32(len(offsets)) <= member {
					offsets = append(offsets, 0)
				}
				offsets[member] = args[3]
				memberOffsets[args[0]] = offsets
			}
		case spvOpVariable:
			variables = append(variables, variable{id: args[1], typeID: args[0], storage: args[2]})
		}
		at += count
	}

	for _, v := range variables {
		ptr := types[v.typeID]
		if ptr == nil || ptr.op != spvOpTypePointer {
			continue
		}
		d := decorations[v.id]

		switch v.storage {
		case spvStorageClassInput:
			if d != nil && d.hasLocation {
				layout.InputMask |= 1 << d.location
			}
			continue
		case spvStorageClassOutput:
			if d != nil && d.hasLocation {
				layout.OutputMask |= 1 << d.location
			}
			continue
		case spvStorageClassPushConstant:
			layout.PushConstantSize = structSize(ptr.pointee, types, constants, memberOffsets)
			continue
		}

		if d == nil || !d.hasSet || !d.hasBinding {
			continue
		}
		if d.set >= VulkanNumDescriptorSets || d.binding >= VulkanNumBindings {
			logger().Error("spirv: binding out of range", "set", d.set, "binding", d.binding)
			continue
		}

		arraySize := uint32(1)
		inner := types[ptr.pointee]
		for inner != nil && (inner.op == spvOpTypeArray || inner.op == spvOpTypeRuntimeArray) {
			if inner.op == spvOpTypeRuntimeArray {
				arraySize = UnsizedArray
				layout.BindlessSetMask |= 1 << d.set
			} else if size, ok := constants[inner.count]; ok {
				arraySize = size
			}
			inner = types[inner.component]
		}
		if inner == nil {
			continue
		}

		role, ok := classifyBinding(v.storage, inner, types, decorations)
		if !ok {
			continue
		}
		set := &layout.Sets[d.set]
		set.RoleMasks[role] |= 1 << d.binding
		set.ArraySize[d.binding] = arraySize
		if arraySize == UnsizedArray {
			set.IsBindless = true
		}
	}
	return nil
}

func classifyBinding(storage uint32, t *spvType, types map[uint32]*spvType, decorations map[uint32]*spvDecorations) (DescriptorRole, bool) {
	switch t.op {
	case spvOpTypeSampledImage:
		img := types[t.component]
		if img != nil && img.dim == spvDimBuffer {
			return RoleSampledBuffer, true
		}
		return RoleSampledImage, true
	case spvOpTypeImage:
		switch {
		case t.dim == spvDimSubpassData:
			return RoleInputAttachment, true
		case t.sampled == 2:
			return RoleStorageImage, true
		case t.dim == spvDimBuffer:
			return RoleSampledBuffer, true
		default:
			return RoleSeparateImage, true
		}
	case spvOpTypeSampler:
		return RoleSampler, true
	case spvOpTypeStruct:
		// SSBO either by storage class (SPIR-V 1.3+) or by the legacy
		// BufferBlock decoration.
		if storage == spvStorageClassStorageBuffer {
			return RoleStorageBuffer, true
		}
		if d := findStructDecoration(t, decorations, types); d != nil {
			if d.bufferBlock {
				return RoleStorageBuffer, true
			}
			if d.block && storage == spvStorageClassUniform {
				return RoleUniformBuffer, true
			}
		}
		if storage == spvStorageClassUniform {
			return RoleUniformBuffer, true
		}
	}
	return RoleCount, false
}

func findStructDecoration(t *spvType, decorations map[uint32]*spvDecorations, types map[uint32]*spvType) *spvDecorations {
	for id, typ := range types {
		if typ == t {
			return decorations[id]
		}
	}
	return nil
}

// structSize computes offset-of-last-member + size-of-last-member for a
// push-constant block.
func structSize(id uint32, types map[uint32]*spvType, constants map[uint32]uint32, offsets spvMemberOffsets) uint32 {
	t := types[id]
	if t == nil {
		return 0
	}
	switch t.op {
	case spvOpTypeInt, spvOpTypeFloat:
		return t.width / 8
	case spvOpTypeVector, spvOpTypeMatrix:
		return t.count * structSize(t.component, types, constants, offsets)
	case spvOpTypeArray:
		length := constants[t.count]
		if t.arrayStride != 0 {
			return length * t.arrayStride
		}
		return length * structSize(t.component, types, constants, offsets)
	case spvOpTypeStruct:
		if len(t.members) == 0 {
			return 0
		}
		last := uint32(len(t.members) - 1)
		var offset uint32
		if memberList := offsets[id]; uint32(len(memberList)) > last {
			offset = memberList[last]
		}
		return offset + structSize(t.members[last], types, constants, offsets)
	}
	return 0
}
