// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rewrite

import "github.com/vkguard/vkguard/rewrite/spirv"

// PushConstantMember records where one feature-declared push-constant
// field landed in the merged block.
type PushConstantMember struct {
	ElementIndex uint32
	TypeID       spirv.ID
}

// DescriptorMember records the variable a feature-declared descriptor
// was given in one descriptor set.
type DescriptorMember struct {
	VarID  spirv.ID
	TypeID spirv.ID
}

// State is the per-module bookkeeping the rewriter accumulates during
// Setup and that every per-block pass consults afterward: file UIDs
// for source spans, the merged push-constant/descriptor layout, and
// the export buffer's variable IDs.
type State struct {
	Module *spirv.Module
	Types  *spirv.TypeManager

	DebugName string

	// path (as seen in a #line directive or OpSource file operand) to
	// the Location Registry's file UID for that path
	SourceFileUIDs map[string]uint16

	LastDescriptorSet     uint32
	DescriptorBindingUsed map[uint32]uint32 // set -> one past the highest application binding

	PushConstantVarID     spirv.ID
	PushConstantVarTypeID spirv.ID
	PushConstants         map[uint32]PushConstantMember // keyed by diag descriptor UID

	// keyed by (descriptor UID | set<<16), mirrors the original's
	// packed lookup key for "this feature descriptor in this set"
	Descriptors map[uint32]DescriptorMember

	ExportBufferVarID      spirv.ID
	ExportBufferTypeID     spirv.ID
	ExportBufferSet        uint32
	ExportBufferBinding    uint32
	ExtendedGLSLStd450Set  spirv.ID
}

// NewState creates an empty state for building mod.
func NewState(mod *spirv.Module, debugName string) *State {
	return &State{
		Module:                mod,
		Types:                 spirv.NewTypeManager(mod),
		DebugName:             debugName,
		SourceFileUIDs:        make(map[string]uint16),
		DescriptorBindingUsed: make(map[uint32]uint32),
		PushConstants:         make(map[uint32]PushConstantMember),
		Descriptors:           make(map[uint32]DescriptorMember),
	}
}

// descriptorKey packs a descriptor UID and set index the same way the
// original's RegistryDescriptorMergedLUT does, so a pass can look up
// "my descriptor, in this set" with one map access.
func descriptorKey(uid uint32, set uint32) uint32 {
	return uid | (set << 16)
}

// DescriptorFor looks up the variable Setup built for a feature's
// descriptor in a given set.
func (st *State) DescriptorFor(uid uint32, set uint32) (DescriptorMember, bool) {
	m, ok := st.Descriptors[descriptorKey(uid, set)]
	return m, ok
}
