// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spirv

import "fmt"

// StorageClass mirrors the handful of SPIR-V storage classes vkguard
// needs to name when declaring a pointer type.
type StorageClass uint32

const (
	StorageUniformConstant StorageClass = iota
	StorageUniform
	StorageStorageBuffer
	StoragePushConstant
	StorageFunction
)

// TypeManager de-duplicates type declarations by structural key,
// mirroring spvtools' analysis::TypeManager::GetRegisteredType: two
// requests for "the same shape" return the same ID instead of
// emitting a second OpType* instruction.
type TypeManager struct {
	m    *Module
	byKey map[string]ID
}

// NewTypeManager creates a type manager that allocates new type IDs
// from m and records their declaring instructions as globals.
func NewTypeManager(m *Module) *TypeManager {
	return &TypeManager{m: m, byKey: make(map[string]ID)}
}

func (tm *TypeManager) intern(key string, op Opcode, operands ...Operand) ID {
	if id, ok := tm.byKey[key]; ok {
		return id
	}
	id := tm.m.TakeNextID()
	tm.m.AddGlobal(&Instruction{Op: op, ResultID: id, Operands: operands})
	tm.byKey[key] = id
	return id
}

// Bool returns (creating if needed) the module's OpTypeBool.
func (tm *TypeManager) Bool() ID {
	return tm.intern("bool", OpTypeBool)
}

// UInt returns the module's n-bit unsigned OpTypeInt.
func (tm *TypeManager) UInt(width uint32) ID {
	key := fmt.Sprintf("uint%d", width)
	return tm.intern(key, OpTypeInt, Lit(width), Lit(0))
}

// Vector returns a vector of count elements of elemType.
func (tm *TypeManager) Vector(elemType ID, count uint32) ID {
	key := fmt.Sprintf("vec:%d:%d", elemType, count)
	return tm.intern(key, OpTypeVector, Ref(elemType), Lit(count))
}

// RuntimeArray returns a runtime-length array of elemType, with the
// given byte stride recorded as an ArrayStride decoration.
func (tm *TypeManager) RuntimeArray(elemType ID, strideBytes uint32) ID {
	key := fmt.Sprintf("rtarr:%d:%d", elemType, strideBytes)
	if id, ok := tm.byKey[key]; ok {
		return id
	}
	id := tm.intern(key, OpTypeRuntimeArray, Ref(elemType))
	tm.m.AddDecoration(&Decoration{Target: OpDecorate, ID: id, Kind: decorationArrayStride, Values: []uint32{strideBytes}})
	return id
}

// Struct returns a struct type over the given member types. Structs
// are deduplicated by the exact member-type sequence; callers that
// need two structurally identical but independently-decorated structs
// (as DiagnosticPass.cpp does for the merged push-constant block) must
// vary the key via forceNew.
func (tm *TypeManager) Struct(forceNew bool, members ...ID) ID {
	key := fmt.Sprintf("struct:%v", members)
	if forceNew {
		id := tm.m.TakeNextID()
		ops := make([]Operand, len(members))
		for i, m := range members {
			ops[i] = Ref(m)
		}
		tm.m.AddGlobal(&Instruction{Op: OpTypeStruct, ResultID: id, Operands: ops})
		return id
	}
	if id, ok := tm.byKey[key]; ok {
		return id
	}
	ops := make([]Operand, len(members))
	for i, m := range members {
		ops[i] = Ref(m)
	}
	id := tm.intern(key, OpTypeStruct, ops...)
	return id
}

// UintConst returns (creating if needed) a 32-bit unsigned OpConstant
// of value, mirroring spvtools' ConstantManager::GetUintConstantId:
// every pass asking for the same literal gets the same constant
// instruction instead of a fresh one per call site.
func (tm *TypeManager) UintConst(value uint32) ID {
	key := fmt.Sprintf("uintconst:%d", value)
	if id, ok := tm.byKey[key]; ok {
		return id
	}
	ty := tm.UInt(32)
	id := tm.m.TakeNextID()
	tm.m.AddGlobal(&Instruction{Op: OpConstant, TypeID: ty, ResultID: id, Operands: []Operand{Lit(value)}})
	tm.byKey[key] = id
	return id
}

// NullConst returns (creating if needed) an OpConstantNull of ty, used
// as the value an injected early return hands back on a non-void
// function.
func (tm *TypeManager) NullConst(ty ID) ID {
	key := fmt.Sprintf("nullconst:%d", ty)
	if id, ok := tm.byKey[key]; ok {
		return id
	}
	id := tm.m.TakeNextID()
	tm.m.AddGlobal(&Instruction{Op: OpConstantNull, TypeID: ty, ResultID: id})
	tm.byKey[key] = id
	return id
}

// Pointer returns a pointer-to-pointee in the given storage class.
func (tm *TypeManager) Pointer(pointee ID, class StorageClass) ID {
	key := fmt.Sprintf("ptr:%d:%d", pointee, class)
	return tm.intern(key, OpTypePointer, Lit(uint32(class)), Ref(pointee))
}

// decorationArrayStride is SPIR-V's Decoration enumerant value for
// ArrayStride (6); named here rather than imported from a constants
// package since spirv declares no general decoration enum.
const decorationArrayStride = 6
