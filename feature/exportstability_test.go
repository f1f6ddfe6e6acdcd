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

func TestExportStabilityGuardsStoreButAlwaysExecutesIt(t *testing.T) {
	diagReg := diag.New(registry.New())
	pass := NewExportStability()
	pass.Install(diagReg)

	mod := spirv.NewModule(0)
	st := rewrite.Setup(mod, diagReg, "test", rewrite.SourceDebugInfo{}, 0, nil, nil)

	ptr := mod.TakeNextID()
	value := st.Types.UintConst(99)
	store := &spirv.Instruction{Op: spirv.OpStore, Operands: []spirv.Operand{spirv.Ref(ptr), spirv.Ref(value)}}

	fn := &spirv.Function{ResultID: mod.TakeNextID(), Blocks: []*spirv.BasicBlock{{Label: mod.TakeNextID(), Instructions: []*spirv.Instruction{store}}}}
	mod.Functions = append(mod.Functions, fn)

	pass.Instrument(st, diagReg.LocationRegistry(), "main", mod)

	require.Len(t, fn.Blocks, 3, "pre/error/post")

	post := fn.Blocks[len(fn.Blocks)-1]
	var foundStore bool
	for _, in := range post.Instructions {
		if in == store {
			foundStore = true
		}
	}
	assert.True(t, foundStore, "the original store is unconditional in post, not guarded away")

	var isNan, isInf, branches int
	for _, b := range fn.Blocks {
		for _, in := range b.Instructions {
			switch in.Op {
			case spirv.OpIsNan:
				isNan++
			case spirv.OpIsInf:
				isInf++
			case spirv.OpBranchConditional:
				branches++
			}
		}
	}
	assert.Equal(t, 1, isNan)
	assert.Equal(t, 1, isInf)
	assert.Equal(t, 1, branches)

	pre := fn.Blocks[0]
	require.GreaterOrEqual(t, len(pre.Instructions), 2)
	merge, br := pre.Instructions[len(pre.Instructions)-2], pre.Instructions[len(pre.Instructions)-1]
	assert.Equal(t, spirv.OpSelectionMerge, merge.Op, "a conditional branch on a structured-CFG dialect needs a preceding selection merge")
	assert.Equal(t, spirv.OpBranchConditional, br.Op)
	assert.Equal(t, spirv.Ref(post.Label), merge.Operands[0])
}

func TestDescribeStabilityMask(t *testing.T) {
	assert.Equal(t, "NaN", describeStabilityMask(exportStabilityNaN))
	assert.Equal(t, "Inf", describeStabilityMask(exportStabilityInf))
	assert.Equal(t, "NaN & Inf", describeStabilityMask(exportStabilityNaN|exportStabilityInf))
}

func TestExportStabilityHandleMergesByGUID(t *testing.T) {
	diagReg := diag.New(registry.New())
	pass := NewExportStability()
	pass.Install(diagReg)
	rewrite.Setup(spirv.NewModule(0), diagReg, "test", rewrite.SourceDebugInfo{}, 0, nil, nil)

	handled := pass.Handle([]diag.Message{
		{Body: exportStabilityNaN, Chunks: []uint32{5}},
		{Body: exportStabilityInf, Chunks: []uint32{5}},
	}, nil)
	assert.Equal(t, 2, handled)

	var report Report
	pass.Report(&report)
	require.Len(t, report.Messages, 1, "same GUID merges regardless of which bit fired first")
	assert.Equal(t, uint32(2), report.Messages[0].MergedCount)
}
