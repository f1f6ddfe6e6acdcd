// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package guard

import (
	"context"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkguard/vkguard/compiler"
	"github.com/vkguard/vkguard/config"
	"github.com/vkguard/vkguard/export"
	"github.com/vkguard/vkguard/pipeline"
	"github.com/vkguard/vkguard/rewrite"
	"github.com/vkguard/vkguard/rewrite/spirv"
	"github.com/vkguard/vkguard/state"
	vkg "github.com/vkguard/vkguard/vk"
)

type stubShaderBuilder struct{}

func (stubShaderBuilder) Build(mod *spirv.Module, debugName string) (state.Handle, error) {
	return 1, nil
}

type stubPipelineBuilder struct{}

func (stubPipelineBuilder) Build(typ state.PipelineType, descriptor any, stageHandles []state.Handle) (state.Handle, error) {
	return 2, nil
}

type stubDescriptor struct{ N int }

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	opts := &config.Options{
		ShaderConnectionObjectThreshold: 4096,
		ExportBufferCapacity:            1024,
	}
	return New(opts, stubShaderBuilder{}, stubPipelineBuilder{}, 2)
}

func fakeSegment(capacity uint32, words []uint32) *export.Segment {
	buf := make([]uint32, capacity+1)
	copy(buf, words)
	return &export.Segment{
		Buff:     &vkg.Buff{Size: int(capacity+1) * 4, HostPtr: unsafe.Pointer(&buf[0])},
		Capacity: capacity,
	}
}

func TestGuardCreateShaderModuleRegistersInTable(t *testing.T) {
	g := newTestGuard(t)

	src := spirv.NewModule(0)
	mod, handle := g.CreateShaderModule("test.frag", src, rewrite.SourceDebugInfo{})
	require.NotZero(t, handle)

	got, ok := g.Tables.Shader(handle)
	require.True(t, ok)
	assert.Same(t, mod, got)
	assert.Equal(t, 1, g.Tables.ShaderCount())
}

func TestGuardCreatePipelineDeepCopiesAndRegisters(t *testing.T) {
	g := newTestGuard(t)

	desc := &stubDescriptor{N: 3}
	p, handle, err := g.CreatePipeline(state.PipelineGraphics, desc, nil, 0)
	require.NoError(t, err)
	require.NotZero(t, handle)

	got, ok := g.Tables.Pipeline(handle)
	require.True(t, ok)
	assert.Same(t, p, got)

	desc.N = 99
	assert.Equal(t, 3, got.Descriptor.(*stubDescriptor).N, "pipeline creation must deep-copy the descriptor")
}

func TestGuardConnectionUsesConfigDefaultThreshold(t *testing.T) {
	g := newTestGuard(t)
	src := spirv.NewModule(0)
	g.CreateShaderModule("a.frag", src, rewrite.SourceDebugInfo{})
	g.CreateShaderModule("b.frag", src, rewrite.SourceDebugInfo{})

	conns, truncated := g.Connection(0)
	require.False(t, truncated)
	assert.Len(t, conns, 2)
}

func TestGuardCompileShaderVariantsPublishesInstrument(t *testing.T) {
	g := newTestGuard(t)

	src := spirv.NewModule(0)
	mod, _ := g.CreateShaderModule("test.frag", src, rewrite.SourceDebugInfo{})

	seq := g.CompileShaderVariants(context.Background(), []compiler.Job{{Module: mod, FeatureMask: 1}})
	assert.EqualValues(t, 1, seq)

	inst, ok := mod.GetInstrument(1)
	require.True(t, ok)
	require.NoError(t, inst.Err)
	assert.EqualValues(t, 1, inst.APIHandle)
}

func TestGuardBuildPipelinesMissingShaderKey(t *testing.T) {
	g := newTestGuard(t)

	p, _, err := g.CreatePipeline(state.PipelineCompute, &stubDescriptor{}, nil, 0)
	require.NoError(t, err)

	stage := state.NewShaderModule("stage", nil, rewrite.SourceDebugInfo{})
	counts, results := g.BuildPipelines(context.Background(), []pipeline.Job{
		{Pipeline: p, CombinedHash: 1, Stages: []pipeline.StageKey{{Module: stage, Mask: 1}}},
	})
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, pipeline.ErrMissingShaderKey)
	assert.Equal(t, 1, counts.Failed)
}

func TestGuardDrainSegmentDispatchesAndNeverPanics(t *testing.T) {
	g := newTestGuard(t)

	seg := fakeSegment(8, nil)
	err := g.DrainSegment(seg)
	assert.NoError(t, err)

	g.Step()
	report := g.Report()
	assert.NotNil(t, report.ErrorCounts)
}

func TestGuardShutdownBeforeAttachDeviceIsNoop(t *testing.T) {
	g := newTestGuard(t)
	assert.NotPanics(t, func() { g.Shutdown() })
}
