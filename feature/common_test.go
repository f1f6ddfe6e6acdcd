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

func TestSetInstrumentsEveryPass(t *testing.T) {
	diagReg := diag.New(registry.New())
	set := NewSet()
	set.Install(diagReg)

	mod := spirv.NewModule(0)
	st := rewrite.Setup(mod, diagReg, "test", rewrite.SourceDebugInfo{}, 0, nil, nil)

	fetch := &spirv.Instruction{Op: spirv.OpImageFetch, TypeID: st.Types.UInt(32), ResultID: mod.TakeNextID(), Operands: []spirv.Operand{spirv.Ref(mod.TakeNextID()), spirv.Ref(st.Types.UintConst(1))}}
	fn := &spirv.Function{ResultID: mod.TakeNextID(), Blocks: []*spirv.BasicBlock{{Label: mod.TakeNextID(), Instructions: []*spirv.Instruction{fetch}}}}
	mod.Functions = append(mod.Functions, fn)

	set.Instrument(st, diagReg.LocationRegistry(), "main", mod, MaskAll)

	require.Greater(t, len(fn.Blocks), 1, "at least the bounds-check pass should have split the block")
}

func TestSetInstrumentHonorsMask(t *testing.T) {
	diagReg := diag.New(registry.New())
	set := NewSet()
	set.Install(diagReg)

	mod := spirv.NewModule(0)
	st := rewrite.Setup(mod, diagReg, "test", rewrite.SourceDebugInfo{}, 0, nil, nil)

	fetch := &spirv.Instruction{Op: spirv.OpImageFetch, TypeID: st.Types.UInt(32), ResultID: mod.TakeNextID(), Operands: []spirv.Operand{spirv.Ref(mod.TakeNextID()), spirv.Ref(st.Types.UintConst(1))}}
	fn := &spirv.Function{ResultID: mod.TakeNextID(), Blocks: []*spirv.BasicBlock{{Label: mod.TakeNextID(), Instructions: []*spirv.Instruction{fetch}}}}
	mod.Functions = append(mod.Functions, fn)

	set.Instrument(st, diagReg.LocationRegistry(), "main", mod, 1<<FeatureArrayBounds)

	assert.Len(t, fn.Blocks, 1, "only the array-bounds pass is enabled and this module has nothing for it to guard")
}

func TestSetReportAggregatesAcrossPasses(t *testing.T) {
	diagReg := diag.New(registry.New())
	set := NewSet()
	set.Install(diagReg)

	set.BoundsCheck.Handle([]diag.Message{{Body: resourceTypeImage, Chunks: []uint32{1}}}, nil)
	set.ArrayBounds.Handle([]diag.Message{{Chunks: []uint32{2}}}, nil)

	var report Report
	set.Step(&report)
	set.Report(&report)

	assert.Len(t, report.Messages, 2)
	assert.Equal(t, uint32(1), report.ErrorCounts["resource-address-out-of-bounds"])
	assert.Equal(t, uint32(1), report.ErrorCounts["descriptor-array-index-out-of-bounds"])

	set.Flush()
	report2 := Report{}
	set.Report(&report2)
	assert.Empty(t, report2.Messages)
}
