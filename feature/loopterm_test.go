// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package feature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkguard/vkguard/diag"
	"github.com/vkguard/vkguard/registry"
	"github.com/vkguard/vkguard/rewrite"
	"github.com/vkguard/vkguard/rewrite/spirv"
)

func TestLoopTerminationInstrumentsHeader(t *testing.T) {
	diagReg := diag.New(registry.New())
	pass := NewLoopTermination()
	pass.Install(diagReg)

	mod := spirv.NewModule(0)
	st := rewrite.Setup(mod, diagReg, "test", rewrite.SourceDebugInfo{}, 0, nil, nil)

	header := &spirv.BasicBlock{Label: mod.TakeNextID()}
	entry := &spirv.BasicBlock{Label: mod.TakeNextID(), Instructions: []*spirv.Instruction{{Op: spirv.OpBranch, Operands: []spirv.Operand{spirv.Ref(header.Label)}}}}

	merge := &spirv.Instruction{Op: spirv.OpLoopMerge}
	condBr := &spirv.Instruction{Op: spirv.OpBranchConditional}
	header.Instructions = []*spirv.Instruction{merge, condBr}

	fn := &spirv.Function{ResultID: mod.TakeNextID(), Blocks: []*spirv.BasicBlock{entry, header}}
	mod.Functions = append(mod.Functions, fn)

	pass.Instrument(st, diagReg.LocationRegistry(), "main", mod)

	require.Len(t, fn.Blocks, 5, "entry, header, check, term, rest")

	var hasCounterVar, hasAtomicAnd, hasAtomicOr, hasReturn bool
	for _, b := range fn.Blocks {
		for _, in := range b.Instructions {
			switch in.Op {
			case spirv.OpVariable:
				hasCounterVar = true
			case spirv.OpAtomicAnd:
				hasAtomicAnd = true
			case spirv.OpAtomicOr:
				hasAtomicOr = true
			case spirv.OpReturn:
				hasReturn = true
			}
		}
	}
	assert.True(t, hasCounterVar, "per-function counter declared in the entry block")
	assert.True(t, hasAtomicAnd, "periodic read of the termination signal")
	assert.True(t, hasAtomicOr, "broadcast on termination")
	assert.True(t, hasReturn, "void function returns early with OpReturn")

	// the original loop-merge instruction survived into rest, unmutated.
	rest := fn.Blocks[len(fn.Blocks)-1]
	require.Contains(t, rest.Instructions, merge)

	// both injected conditional branches (the periodic-check gate in
	// header, the terminate-or-continue gate in check) carry a
	// preceding selection merge naming rest as the convergence point.
	headerInstrs := fn.Blocks[1].Instructions
	require.GreaterOrEqual(t, len(headerInstrs), 2)
	assert.Equal(t, spirv.OpSelectionMerge, headerInstrs[len(headerInstrs)-2].Op)
	assert.Equal(t, spirv.OpBranchConditional, headerInstrs[len(headerInstrs)-1].Op)
	assert.Equal(t, spirv.Ref(rest.Label), headerInstrs[len(headerInstrs)-2].Operands[0])

	checkInstrs := fn.Blocks[2].Instructions
	require.GreaterOrEqual(t, len(checkInstrs), 2)
	assert.Equal(t, spirv.OpSelectionMerge, checkInstrs[len(checkInstrs)-2].Op)
	assert.Equal(t, spirv.OpBranchConditional, checkInstrs[len(checkInstrs)-1].Op)
	assert.Equal(t, spirv.Ref(rest.Label), checkInstrs[len(checkInstrs)-2].Operands[0])
}

func TestLoopTerminationSkipsFunctionsWithoutLoops(t *testing.T) {
	diagReg := diag.New(registry.New())
	pass := NewLoopTermination()
	pass.Install(diagReg)

	mod := spirv.NewModule(0)
	st := rewrite.Setup(mod, diagReg, "test", rewrite.SourceDebugInfo{}, 0, nil, nil)

	fn := &spirv.Function{ResultID: mod.TakeNextID(), Blocks: []*spirv.BasicBlock{{Label: mod.TakeNextID()}}}
	mod.Functions = append(mod.Functions, fn)

	pass.Instrument(st, diagReg.LocationRegistry(), "main", mod)
	require.Len(t, fn.Blocks, 1)
}

func TestLoopTerminationHandleMergesByGUID(t *testing.T) {
	diagReg := diag.New(registry.New())
	pass := NewLoopTermination()
	pass.Install(diagReg)
	rewrite.Setup(spirv.NewModule(0), diagReg, "test", rewrite.SourceDebugInfo{}, 0, nil, nil)

	handled := pass.Handle([]diag.Message{{Chunks: []uint32{1}}, {Chunks: []uint32{1}}, {Chunks: []uint32{2}}}, nil)
	assert.Equal(t, 3, handled)

	var report Report
	pass.Step(&report)
	pass.Report(&report)
	require.Len(t, report.Messages, 2)
	assert.Equal(t, uint32(3), report.ErrorCounts["loop-terminated"])
}
