// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkguard/vkguard/rewrite/spirv"
)

func TestEmitGuardSplitsAndMerges(t *testing.T) {
	mod := spirv.NewModule(0)
	tm := spirv.NewTypeManager(mod)
	uintTy := tm.UInt(32)

	interest := &spirv.Instruction{Op: spirv.OpImageFetch, TypeID: uintTy, ResultID: 42}
	after := &spirv.Instruction{Op: spirv.OpStore}
	block := &spirv.BasicBlock{Label: mod.TakeNextID(), Instructions: []*spirv.Instruction{interest, after}}
	fn := &spirv.Function{Blocks: []*spirv.BasicBlock{block}}

	neutral := mod.TakeNextID()
	condSeen := false
	errorRan := false

	result := EmitGuard(mod, fn, block, 0,
		func(pre *spirv.BasicBlock) spirv.ID {
			condSeen = true
			condID := mod.TakeNextID()
			cmp := &spirv.Instruction{Op: spirv.OpUGreaterThanEqual, TypeID: tm.Bool(), ResultID: condID}
			cmp.MarkInjected()
			pre.Instructions = append(pre.Instructions, cmp)
			return condID
		},
		func(errBlock *spirv.BasicBlock) {
			errorRan = true
			msg := &spirv.Instruction{Op: spirv.OpStore}
			msg.MarkInjected()
			errBlock.Instructions = append(errBlock.Instructions, msg)
		},
		true, uintTy, neutral,
	)

	assert.True(t, condSeen)
	assert.True(t, errorRan)

	require.Len(t, fn.Blocks, 4, "pre, offending, error, post")
	assert.Same(t, block, fn.Blocks[0])
	assert.Same(t, result.Offending, fn.Blocks[1])
	assert.Same(t, result.Error, fn.Blocks[2])
	assert.Same(t, result.Post, fn.Blocks[3])

	// pre block ends in a conditional branch to error-then-offending,
	// preceded by a selection merge naming post as the convergence
	// point (required on a structured-CFG dialect like SPIR-V).
	lastPre := block.Instructions[len(block.Instructions)-1]
	assert.Equal(t, spirv.OpBranchConditional, lastPre.Op)
	assert.Equal(t, result.Error.Label, lastPre.Operands[1].ID)
	assert.Equal(t, result.Offending.Label, lastPre.Operands[2].ID)

	mergePre := block.Instructions[len(block.Instructions)-2]
	assert.Equal(t, spirv.OpSelectionMerge, mergePre.Op)
	assert.Equal(t, result.Post.Label, mergePre.Operands[0].ID)
	assert.Equal(t, uint32(spirv.SelectionControlNone), mergePre.Operands[1].Literal)

	// offending block holds the (re-id'd) instruction of interest then a branch to post
	require.Len(t, result.Offending.Instructions, 2)
	assert.Equal(t, spirv.OpImageFetch, result.Offending.Instructions[0].Op)
	assert.NotEqual(t, spirv.ID(42), result.Offending.Instructions[0].ResultID, "re-id'd for phi routing")
	assert.Equal(t, spirv.OpBranch, result.Offending.Instructions[1].Op)

	// error block holds the injected message store then a branch to post
	require.Len(t, result.Error.Instructions, 2)
	assert.Equal(t, spirv.OpBranch, result.Error.Instructions[1].Op)

	// post starts with a phi merging offending's result and the neutral constant, under the original ID
	require.NotEmpty(t, result.Post.Instructions)
	phi := result.Post.Instructions[0]
	assert.Equal(t, spirv.OpPhi, phi.Op)
	assert.Equal(t, spirv.ID(42), phi.ResultID)
	assert.Equal(t, result.Offending.Instructions[0].ResultID, phi.Operands[0].ID)
	assert.Equal(t, result.Offending.Label, phi.Operands[1].ID)
	assert.Equal(t, neutral, phi.Operands[2].ID)
	assert.Equal(t, result.Error.Label, phi.Operands[3].ID)

	// the trailing instruction from the original block rides along in post
	assert.Same(t, after, result.Post.Instructions[1])
}

func TestEmitGuardWithoutResultSkipsPhi(t *testing.T) {
	mod := spirv.NewModule(0)
	block := &spirv.BasicBlock{Label: mod.TakeNextID(), Instructions: []*spirv.Instruction{
		{Op: spirv.OpImageWrite},
		{Op: spirv.OpReturn},
	}}
	fn := &spirv.Function{Blocks: []*spirv.BasicBlock{block}}

	result := EmitGuard(mod, fn, block, 0,
		func(pre *spirv.BasicBlock) spirv.ID { return mod.TakeNextID() },
		func(errBlock *spirv.BasicBlock) {},
		false, 0, 0,
	)

	require.Len(t, result.Post.Instructions, 1, "no phi prepended when the instruction has no result; only the trailing OpReturn rides along")
	assert.Equal(t, spirv.OpReturn, result.Post.Instructions[0].Op)
}

func TestInstructionSetTracksOwnAndInjected(t *testing.T) {
	set := NewInstructionSet()
	a := &spirv.Instruction{Op: spirv.OpLoad}
	b := &spirv.Instruction{Op: spirv.OpStore}
	b.MarkInjected()

	assert.False(t, set.Seen(a))
	set.Mark(a)
	assert.True(t, set.Seen(a))
	assert.True(t, set.Seen(b), "injected instructions are always already-seen")
}
