// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkguard/vkguard/rewrite"
	"github.com/vkguard/vkguard/state"
)

type stubDescriptor struct {
	StageCount int
}

type stubBuilder struct {
	fail bool
}

func (b stubBuilder) Build(typ state.PipelineType, descriptor any, stageHandles []state.Handle) (state.Handle, error) {
	if b.fail {
		return 0, errors.New("driver rejected descriptor")
	}
	return state.Handle(len(stageHandles) + 1000), nil
}

func newStageModule(t *testing.T, mask uint32, handle state.Handle, instrumented bool) *state.ShaderModule {
	t.Helper()
	m := state.NewShaderModule("stage", nil, rewrite.SourceDebugInfo{})
	if instrumented {
		m.SetInstrument(mask, &state.Instrumented{APIHandle: handle})
	}
	return m
}

func TestPipelineSubmitBuildsSuccessfully(t *testing.T) {
	c := New(stubBuilder{}, 2)

	p, err := state.NewPipeline(state.PipelineGraphics, &stubDescriptor{StageCount: 2}, nil, 1)
	require.NoError(t, err)

	stage := newStageModule(t, 1, 42, true)
	job := Job{Pipeline: p, CombinedHash: 77, Stages: []StageKey{{Module: stage, Mask: 1}}}

	counts, results := c.Submit(context.Background(), []Job{job})
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, BatchCounts{Total: 1, Passed: 1, Failed: 0}, counts)

	handle, ok := p.GetInstrument(77)
	require.True(t, ok)
	assert.EqualValues(t, 1001, handle)
}

func TestPipelineSubmitMissingShaderKey(t *testing.T) {
	c := New(stubBuilder{}, 1)

	p, err := state.NewPipeline(state.PipelineCompute, &stubDescriptor{}, nil, 1)
	require.NoError(t, err)

	stage := newStageModule(t, 1, 0, false)
	job := Job{Pipeline: p, CombinedHash: 1, Stages: []StageKey{{Module: stage, Mask: 1}}}

	counts, results := c.Submit(context.Background(), []Job{job})
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrMissingShaderKey)
	assert.Equal(t, 1, counts.Failed)

	_, ok := p.GetInstrument(1)
	assert.False(t, ok)
}

func TestPipelineSubmitCreationFailed(t *testing.T) {
	c := New(stubBuilder{fail: true}, 1)

	p, err := state.NewPipeline(state.PipelineGraphics, &stubDescriptor{}, nil, 1)
	require.NoError(t, err)

	stage := newStageModule(t, 1, 5, true)
	job := Job{Pipeline: p, CombinedHash: 1, Stages: []StageKey{{Module: stage, Mask: 1}}}

	_, results := c.Submit(context.Background(), []Job{job})
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrPipelineCreationFailed)
}

func TestBatchSizeFormula(t *testing.T) {
	assert.Equal(t, 1, batchSize(3, 8))
	assert.Equal(t, 2, batchSize(16, 8))
	assert.Equal(t, 64, batchSize(10000, 1))
	assert.Equal(t, 1, batchSize(0, 4))
}
