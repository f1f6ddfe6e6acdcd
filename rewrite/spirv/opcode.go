// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spirv

// Opcode is a SPIR-V instruction opcode. Only the subset vkguard's
// passes actually emit or inspect is named here; an instrumented
// module may carry any other opcode as an opaque Instruction and it
// passes through untouched.
type Opcode uint16

const (
	OpNop Opcode = iota

	OpSource
	OpSourceContinued
	OpExtension
	OpExtInstImport
	OpExtInst
	OpCapability

	OpTypeVoid
	OpTypeBool
	OpTypeInt
	OpTypeFloat
	OpTypeVector
	OpTypeStruct
	OpTypePointer
	OpTypeRuntimeArray
	OpTypeArray
	OpTypeImage

	OpConstant
	OpConstantNull
	OpConstantTrue
	OpConstantFalse

	OpVariable
	OpLoad
	OpStore
	OpAccessChain
	OpAtomicIAdd
	OpAtomicLoad
	OpAtomicOr
	OpAtomicAnd

	OpFunction
	OpFunctionParameter
	OpFunctionEnd
	OpLabel
	OpBranch
	OpBranchConditional
	OpSelectionMerge
	OpLoopMerge
	OpPhi
	OpReturn
	OpReturnValue

	OpCompositeExtract
	OpCompositeConstruct
	OpIAdd
	OpUGreaterThanEqual
	OpULessThan
	OpIEqual
	OpINotEqual
	OpUMod
	OpBitwiseOr
	OpBitwiseAnd
	OpShiftLeftLogical
	OpLogicalAnd
	OpLogicalOr
	OpAny
	OpIsNan
	OpIsInf
	OpSelect
	OpBitcast

	OpImageRead
	OpImageWrite
	OpImageFetch
	OpImageQuerySize
	OpImageQuerySizeLod
	OpArrayLength

	OpDecorate
	OpMemberDecorate
)

// String names a handful of opcodes for log/diagnostic output; it is
// not a complete disassembler.
func (op Opcode) String() string {
	switch op {
	case OpImageRead:
		return "OpImageRead"
	case OpImageWrite:
		return "OpImageWrite"
	case OpImageFetch:
		return "OpImageFetch"
	case OpLoad:
		return "OpLoad"
	case OpStore:
		return "OpStore"
	case OpBranch:
		return "OpBranch"
	case OpBranchConditional:
		return "OpBranchConditional"
	case OpPhi:
		return "OpPhi"
	case OpArrayLength:
		return "OpArrayLength"
	default:
		return "Op(?)"
	}
}
