// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rewrite

import (
	"github.com/vkguard/vkguard/diag"
	"github.com/vkguard/vkguard/registry"
	"github.com/vkguard/vkguard/rewrite/spirv"
)

// SourceDebugInfo is what the rewriter can recover from a source
// module's debug instructions before any instrumentation pass runs:
// the file name (if the frontend preserved it) and the preprocessed
// source text (if the frontend preserved that too). Either may be
// empty.
type SourceDebugInfo struct {
	File   string
	Source string
}

// reflectSourceExtracts registers every source file the module's
// debug info names with the location registry and records the
// returned file UIDs, keyed by the path RegisterSourceExtract
// reported. A module with no debug info (both fields empty) leaves
// SourceFileUIDs empty; later extract lookups simply fail closed.
func reflectSourceExtracts(st *State, loc *registry.Registry, debug SourceDebugInfo) {
	if debug.Source == "" {
		return
	}
	mappings := loc.RegisterSourceExtract(st.DebugName, debug.File, debug.Source)
	for _, m := range mappings {
		st.SourceFileUIDs[m.Path] = m.File
	}
}

// ensureCapabilities adds the capabilities and extensions every
// instrumented module needs regardless of which features are active:
// image-query (for the resource-bounds size check), the storage
// buffer storage class extension (the export buffer and per-feature
// descriptors), atomic-counter ops (the export buffer's claim
// counter), and the GLSL.std.450 extended instruction set (NaN/Inf
// checks used by export-stability).
func ensureCapabilities(st *State) {
	mod := st.Module
	mod.AddCapability("ImageQuery")
	mod.AddCapability("Shader")
	mod.AddCapability("SampledBuffer")
	mod.AddExtension("SPV_KHR_storage_buffer_storage_class")
	mod.AddExtension("SPV_KHR_shader_atomic_counter_ops")
	st.ExtendedGLSLStd450Set = mod.ExtInstSet("GLSL.std.450")
}

// ExistingPushConstant describes a push-constant block already
// present in the source module, if any.
type ExistingPushConstant struct {
	VarID        spirv.ID
	MemberTypes  []spirv.ID
	MemberOffset []uint32 // parallel to MemberTypes
}

// buildPushConstantBlock builds the merged push-constant struct: the
// application's own push constants (if any) followed by one 4-byte
// aligned member per feature-declared push constant, and records
// where each feature's member landed. If the source had no push
// constants, the merged struct contains only the feature members.
func buildPushConstantBlock(st *State, diagReg *diag.Registry, existing *ExistingPushConstant) {
	members := diagReg.EnumeratePushConstants()

	var memberTypes []spirv.ID
	offset := uint32(0)
	if existing != nil {
		memberTypes = append(memberTypes, existing.MemberTypes...)
		for i, off := range existing.MemberOffset {
			end := off + typeSizeBytes(existing.MemberTypes[i])
			if end > offset {
				offset = end
			}
		}
	}

	for _, pc := range members {
		idx := uint32(len(memberTypes))
		ty := st.Types.UInt(32)
		memberTypes = append(memberTypes, ty)
		st.PushConstants[pc.UID] = PushConstantMember{ElementIndex: idx, TypeID: ty}

		offset = align4(offset)
		st.Module.AddDecoration(&spirv.Decoration{
			Target: spirv.OpMemberDecorate,
			ID:     0, // filled in once the struct ID is known, below
			Member: idx,
			Kind:   decorationOffset,
			Values: []uint32{offset},
		})
		offset += pc.SizeBytes
	}

	structID := st.Types.Struct(true, memberTypes...)
	for _, d := range st.Module.Decorations {
		if d.Target == spirv.OpMemberDecorate && d.ID == 0 {
			d.ID = structID
		}
	}
	st.Module.AddDecoration(&spirv.Decoration{Target: spirv.OpDecorate, ID: structID, Kind: decorationBlock})

	st.PushConstantVarTypeID = structID
	ptrID := st.Types.Pointer(structID, spirv.StoragePushConstant)
	st.PushConstantVarID = st.Module.TakeNextID()
	instr := &spirv.Instruction{
		Op:       spirv.OpVariable,
		TypeID:   ptrID,
		ResultID: st.PushConstantVarID,
		Operands: []spirv.Operand{spirv.Lit(uint32(spirv.StoragePushConstant))},
	}
	instr.MarkInjected()
	st.Module.AddGlobal(instr)

	if existing != nil && existing.VarID != 0 {
		st.Module.ReplaceAllUses(existing.VarID, st.PushConstantVarID)
	}
}

// buildDescriptors builds one descriptor variable per feature-declared
// descriptor, for every descriptor set the module actually uses,
// bound beyond the highest application binding in that set.
func buildDescriptors(st *State, diagReg *diag.Registry) {
	descs := diagReg.EnumerateDescriptors()

	// the block type is identical for every set a descriptor appears
	// in; only its variable and binding differ per set, so the type is
	// built once and shared, per the type re-use requirement every
	// other Setup step already follows.
	blockTypes := make(map[uint32]spirv.ID, len(descs))
	for _, d := range descs {
		elemTy := st.Types.UInt(32)
		arrTy := st.Types.RuntimeArray(elemTy, 4)
		blockTy := st.Types.Struct(true, arrTy)
		st.Module.AddDecoration(&spirv.Decoration{Target: spirv.OpDecorate, ID: blockTy, Kind: decorationBlock})
		st.Module.AddDecoration(&spirv.Decoration{Target: spirv.OpMemberDecorate, ID: blockTy, Member: 0, Kind: decorationOffset, Values: []uint32{0}})
		blockTypes[d.UID] = blockTy
	}

	for set := uint32(0); set <= st.LastDescriptorSet; set++ {
		for _, d := range descs {
			blockTy := blockTypes[d.UID]
			ptrTy := st.Types.Pointer(blockTy, spirv.StorageStorageBuffer)
			varID := st.Module.TakeNextID()
			instr := &spirv.Instruction{
				Op:       spirv.OpVariable,
				TypeID:   ptrTy,
				ResultID: varID,
				Operands: []spirv.Operand{spirv.Lit(uint32(spirv.StorageStorageBuffer))},
			}
			instr.MarkInjected()
			st.Module.AddGlobal(instr)

			binding := st.DescriptorBindingUsed[set] + d.UID
			st.Module.AddDecoration(&spirv.Decoration{Target: spirv.OpDecorate, ID: varID, Kind: decorationDescriptorSet, Values: []uint32{set}})
			st.Module.AddDecoration(&spirv.Decoration{Target: spirv.OpDecorate, ID: varID, Kind: decorationBinding, Values: []uint32{binding}})

			st.Descriptors[descriptorKey(d.UID, set)] = DescriptorMember{VarID: varID, TypeID: blockTy}
		}
	}
}

// buildExportBuffer declares the export buffer's storage-buffer
// variable: a counter word followed by a runtime-sized dword array,
// bound at set (LastDescriptorSet+1), binding 0, conventionally one
// past the application's last-known descriptor set.
func buildExportBuffer(st *State) {
	uintTy := st.Types.UInt(32)
	arrTy := st.Types.RuntimeArray(uintTy, 4)
	blockTy := st.Types.Struct(true, uintTy, arrTy)

	st.Module.AddDecoration(&spirv.Decoration{Target: spirv.OpDecorate, ID: blockTy, Kind: decorationBlock})
	st.Module.AddDecoration(&spirv.Decoration{Target: spirv.OpMemberDecorate, ID: blockTy, Member: 0, Kind: decorationOffset, Values: []uint32{0}})
	st.Module.AddDecoration(&spirv.Decoration{Target: spirv.OpMemberDecorate, ID: blockTy, Member: 1, Kind: decorationOffset, Values: []uint32{4}})

	ptrTy := st.Types.Pointer(blockTy, spirv.StorageStorageBuffer)
	varID := st.Module.TakeNextID()
	instr := &spirv.Instruction{
		Op:       spirv.OpVariable,
		TypeID:   ptrTy,
		ResultID: varID,
		Operands: []spirv.Operand{spirv.Lit(uint32(spirv.StorageStorageBuffer))},
	}
	instr.MarkInjected()
	st.Module.AddGlobal(instr)

	set := st.LastDescriptorSet + 1
	st.Module.AddDecoration(&spirv.Decoration{Target: spirv.OpDecorate, ID: varID, Kind: decorationDescriptorSet, Values: []uint32{set}})
	st.Module.AddDecoration(&spirv.Decoration{Target: spirv.OpDecorate, ID: varID, Kind: decorationBinding, Values: []uint32{0}})

	st.ExportBufferVarID = varID
	st.ExportBufferTypeID = blockTy
	st.ExportBufferSet = set
	st.ExportBufferBinding = 0
}

// Setup performs the rewriter's once-per-module work: reflecting
// source debug info, ensuring capabilities, and building the merged
// push-constant block, the per-feature descriptors, and the export
// buffer declaration. Per-block instrumentation (feature passes) runs
// after Setup returns.
func Setup(mod *spirv.Module, diagReg *diag.Registry, debugName string, debug SourceDebugInfo, lastDescriptorSet uint32, descriptorBindingUsed map[uint32]uint32, existingPC *ExistingPushConstant) *State {
	st := NewState(mod, debugName)
	st.LastDescriptorSet = lastDescriptorSet
	for set, used := range descriptorBindingUsed {
		st.DescriptorBindingUsed[set] = used
	}

	reflectSourceExtracts(st, diagReg.LocationRegistry(), debug)
	ensureCapabilities(st)
	buildPushConstantBlock(st, diagReg, existingPC)
	buildDescriptors(st, diagReg)
	buildExportBuffer(st)

	return st
}

func align4(v uint32) uint32 {
	if rem := v % 4; rem != 0 {
		return v + (4 - rem)
	}
	return v
}

// typeSizeBytes is a minimal stand-in for GetTypeSize: vkguard only
// ever needs the size of existing push-constant members to compute
// where to append its own, and every type it constructs itself is a
// 4-byte scalar.
func typeSizeBytes(spirv.ID) uint32 {
	return 4
}

// SPIR-V Decoration enumerant values vkguard's rewriter emits.
const (
	decorationBlock         = 2
	decorationOffset        = 35
	decorationArrayStrideAt = 6 // unused alias kept for readability at call sites
	decorationDescriptorSet = 34
	decorationBinding       = 33
)
