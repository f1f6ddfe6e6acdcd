// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rewrite

import "github.com/vkguard/vkguard/rewrite/spirv"

// InstructionSet tracks which instructions one feature pass has
// already rewritten in the current module. A pass consults it before
// instrumenting an instruction and marks the instruction once it has;
// combined with Instruction.Injected (which every other pass and this
// pass's own later visits respect), this keeps a pass from
// instrumenting the same opcode twice after a block split moves it.
type InstructionSet struct {
	seen map[*spirv.Instruction]struct{}
}

// NewInstructionSet creates an empty set.
func NewInstructionSet() *InstructionSet {
	return &InstructionSet{seen: make(map[*spirv.Instruction]struct{})}
}

// Mark records in as rewritten.
func (s *InstructionSet) Mark(in *spirv.Instruction) {
	s.seen[in] = struct{}{}
}

// Seen reports whether in has already been rewritten by this pass, or
// was injected by any pass (injected instructions are never
// candidates for instrumentation).
func (s *InstructionSet) Seen(in *spirv.Instruction) bool {
	if in.Injected() {
		return true
	}
	_, ok := s.seen[in]
	return ok
}
