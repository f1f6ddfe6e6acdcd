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

func TestBoundsCheckGuardsImageFetch(t *testing.T) {
	diagReg := diag.New(registry.New())
	pass := NewBoundsCheck()
	pass.Install(diagReg)

	mod := spirv.NewModule(0)
	st := rewrite.Setup(mod, diagReg, "test", rewrite.SourceDebugInfo{}, 0, nil, nil)

	image := mod.TakeNextID()
	addr := st.Types.UintConst(4)
	fetch := &spirv.Instruction{Op: spirv.OpImageFetch, TypeID: st.Types.UInt(32), ResultID: mod.TakeNextID(), Operands: []spirv.Operand{spirv.Ref(image), spirv.Ref(addr)}}

	fn := &spirv.Function{ResultID: mod.TakeNextID(), Blocks: []*spirv.BasicBlock{{Label: mod.TakeNextID(), Instructions: []*spirv.Instruction{fetch}}}}
	mod.Functions = append(mod.Functions, fn)

	pass.Instrument(st, diagReg.LocationRegistry(), "main", mod)

	var branches, sizeQueries, phis int
	for _, b := range fn.Blocks {
		for _, in := range b.Instructions {
			switch in.Op {
			case spirv.OpBranchConditional:
				branches++
			case spirv.OpImageQuerySize:
				sizeQueries++
			case spirv.OpPhi:
				phis++
			}
		}
	}
	assert.Equal(t, 1, branches)
	assert.Equal(t, 1, sizeQueries)
	assert.Equal(t, 1, phis, "fetch produces a value, so the guard merges via phi")
	require.Len(t, fn.Blocks, 4, "pre/offending/error/post")

	head := fn.Blocks[0]
	require.Len(t, head.Instructions, 4, "size query, comparison, selection merge, conditional branch")
	assert.Equal(t, spirv.OpSelectionMerge, head.Instructions[len(head.Instructions)-2].Op)
	assert.Equal(t, spirv.OpBranchConditional, head.Instructions[len(head.Instructions)-1].Op)
	assert.Equal(t, spirv.Ref(fn.Blocks[3].Label), head.Instructions[len(head.Instructions)-2].Operands[0], "selection merge must name the post block")
}

func TestBoundsCheckGuardsEveryImageOpInABlock(t *testing.T) {
	diagReg := diag.New(registry.New())
	pass := NewBoundsCheck()
	pass.Install(diagReg)

	mod := spirv.NewModule(0)
	st := rewrite.Setup(mod, diagReg, "test", rewrite.SourceDebugInfo{}, 0, nil, nil)

	image := mod.TakeNextID()
	addr := st.Types.UintConst(4)
	fetch1 := &spirv.Instruction{Op: spirv.OpImageFetch, TypeID: st.Types.UInt(32), ResultID: mod.TakeNextID(), Operands: []spirv.Operand{spirv.Ref(image), spirv.Ref(addr)}}
	fetch2 := &spirv.Instruction{Op: spirv.OpImageFetch, TypeID: st.Types.UInt(32), ResultID: mod.TakeNextID(), Operands: []spirv.Operand{spirv.Ref(image), spirv.Ref(addr)}}

	fn := &spirv.Function{ResultID: mod.TakeNextID(), Blocks: []*spirv.BasicBlock{{Label: mod.TakeNextID(), Instructions: []*spirv.Instruction{fetch1, fetch2}}}}
	mod.Functions = append(mod.Functions, fn)

	pass.Instrument(st, diagReg.LocationRegistry(), "main", mod)

	var branches, sizeQueries int
	for _, b := range fn.Blocks {
		for _, in := range b.Instructions {
			switch in.Op {
			case spirv.OpBranchConditional:
				branches++
			case spirv.OpImageQuerySize:
				sizeQueries++
			}
		}
	}
	assert.Equal(t, 2, branches, "a second image fetch trailing the first in the same original block must also be guarded")
	assert.Equal(t, 2, sizeQueries)
}

func TestBoundsCheckHandleMergesByGUIDAndResourceType(t *testing.T) {
	diagReg := diag.New(registry.New())
	pass := NewBoundsCheck()
	pass.Install(diagReg)
	rewrite.Setup(spirv.NewModule(0), diagReg, "test", rewrite.SourceDebugInfo{}, 0, nil, nil)

	msgs := []diag.Message{
		{Body: resourceTypeImage, Chunks: []uint32{42}},
		{Body: resourceTypeImage, Chunks: []uint32{42}},
		{Body: resourceTypeBuffer, Chunks: []uint32{42}},
	}
	handled := pass.Handle(msgs, nil)
	assert.Equal(t, 3, handled)

	var report Report
	pass.Report(&report)
	require.Len(t, report.Messages, 2, "image and buffer accesses at the same GUID are distinct findings")

	for _, f := range report.Messages {
		if f.MergedCount == 2 {
			assert.Contains(t, f.Message, "image")
		} else {
			assert.Equal(t, uint32(1), f.MergedCount)
		}
	}
}
