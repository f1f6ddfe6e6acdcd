// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkguard/vkguard/rewrite"
	"github.com/vkguard/vkguard/rewrite/spirv"
)

func TestTablesShaderSwapRemove(t *testing.T) {
	tables := NewTables()

	a := NewShaderModule("a.frag", spirv.NewModule(0), rewrite.SourceDebugInfo{})
	b := NewShaderModule("b.frag", spirv.NewModule(0), rewrite.SourceDebugInfo{})
	c := NewShaderModule("c.frag", spirv.NewModule(0), rewrite.SourceDebugInfo{})

	tables.AddShader(1, a)
	tables.AddShader(2, b)
	tables.AddShader(3, c)
	require.Equal(t, 3, tables.ShaderCount())

	removed, ok := tables.RemoveShader(1)
	require.True(t, ok)
	assert.Same(t, a, removed)
	assert.Equal(t, 2, tables.ShaderCount())

	// the swap-with-back should have moved c (the last slot) into 1's
	// old position without disturbing b's own lookup.
	got, ok := tables.Shader(3)
	require.True(t, ok)
	assert.Same(t, c, got)

	got, ok = tables.Shader(2)
	require.True(t, ok)
	assert.Same(t, b, got)

	_, ok = tables.Shader(1)
	assert.False(t, ok)
}

func TestShaderRefCounting(t *testing.T) {
	s := NewShaderModule("x.frag", spirv.NewModule(0), rewrite.SourceDebugInfo{})
	assert.EqualValues(t, 1, s.RefCount())
	assert.EqualValues(t, 2, s.Retain())
	assert.EqualValues(t, 1, s.Release())
	assert.EqualValues(t, 0, s.Release())
}

func TestShaderInstrumentLifecycle(t *testing.T) {
	s := NewShaderModule("x.frag", spirv.NewModule(0), rewrite.SourceDebugInfo{})

	_, ok := s.GetInstrument(1)
	assert.False(t, ok)

	inst := &Instrumented{Key: 42, Module: spirv.NewModule(0)}
	s.SetInstrument(1, inst)

	got, ok := s.GetInstrument(1)
	require.True(t, ok)
	assert.Same(t, inst, got)
}

func TestConnectionEnumerationTruncates(t *testing.T) {
	tables := NewTables()
	for i := Handle(1); i <= 5; i++ {
		tables.AddShader(i, NewShaderModule("s", spirv.NewModule(0), rewrite.SourceDebugInfo{}))
	}

	infos, truncated := tables.Connection(3)
	assert.Len(t, infos, 3)
	assert.True(t, truncated)

	infos, truncated = tables.Connection(10)
	assert.Len(t, infos, 5)
	assert.False(t, truncated)
}

func TestCombineHashStableForSameInputs(t *testing.T) {
	keys := []InstrumentationKey{1, 2, 3}
	libs := []PipelineLibraryKey{7}

	h1 := CombineHash(keys, libs)
	h2 := CombineHash(keys, libs)
	assert.Equal(t, h1, h2)

	h3 := CombineHash([]InstrumentationKey{1, 2, 4}, libs)
	assert.NotEqual(t, h1, h3)
}

func TestPipelineDeepCopiesDescriptor(t *testing.T) {
	type desc struct {
		Name  string
		Stage []int
	}
	src := &desc{Name: "orig", Stage: []int{1, 2, 3}}

	p, err := NewPipeline(PipelineGraphics, src, nil, 100)
	require.NoError(t, err)

	src.Stage[0] = 999
	got := p.Descriptor.(*desc)
	assert.Equal(t, 1, got.Stage[0], "mutating the caller's descriptor must not affect the stored copy")
}

func TestPipelineInstrumentAndRefCount(t *testing.T) {
	p, err := NewPipeline(PipelineCompute, nil, nil, 1)
	require.NoError(t, err)

	_, ok := p.GetInstrument(5)
	assert.False(t, ok)

	p.AddInstrument(5, 200)
	h, ok := p.GetInstrument(5)
	require.True(t, ok)
	assert.EqualValues(t, 200, h)

	assert.EqualValues(t, 2, p.Retain())
	assert.EqualValues(t, 1, p.Release())
}
