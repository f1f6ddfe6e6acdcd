// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compiler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkguard/vkguard/diag"
	"github.com/vkguard/vkguard/feature"
	"github.com/vkguard/vkguard/registry"
	"github.com/vkguard/vkguard/rewrite"
	"github.com/vkguard/vkguard/rewrite/spirv"
	"github.com/vkguard/vkguard/state"
)

// countingBuilder stands in for the graphics-API module constructor:
// it hands out sequential fake handles and counts how many times it
// was actually invoked, so tests can assert on deduplication.
type countingBuilder struct {
	calls atomic.Int32
	next  atomic.Uint64
}

func (b *countingBuilder) Build(mod *spirv.Module, debugName string) (state.Handle, error) {
	b.calls.Add(1)
	return state.Handle(b.next.Add(1)), nil
}

type failingBuilder struct{}

func (failingBuilder) Build(mod *spirv.Module, debugName string) (state.Handle, error) {
	return 0, errors.New("boom")
}

func newTestCompiler(t *testing.T, builder Builder, workers int) (*Compiler, *state.ShaderModule) {
	t.Helper()
	diagReg := diag.New(registry.New())
	set := feature.NewSet()
	set.Install(diagReg)

	src := spirv.NewModule(0)
	image := src.TakeNextID()
	fetch := &spirv.Instruction{Op: spirv.OpImageFetch, TypeID: src.TakeNextID(), ResultID: src.TakeNextID(), Operands: []spirv.Operand{spirv.Ref(image), spirv.Lit(4)}}
	fn := &spirv.Function{ResultID: src.TakeNextID(), Blocks: []*spirv.BasicBlock{{Label: src.TakeNextID(), Instructions: []*spirv.Instruction{fetch}}}}
	src.Functions = append(src.Functions, fn)

	mod := state.NewShaderModule("test.frag", src, rewrite.SourceDebugInfo{})
	return New(diagReg, set, builder, workers), mod
}

func TestCompilerSubmitBuildsAndPublishes(t *testing.T) {
	builder := &countingBuilder{}
	c, mod := newTestCompiler(t, builder, 2)

	seq := c.Submit(context.Background(), []Job{{Module: mod, FeatureMask: 1}})
	assert.EqualValues(t, 1, seq)
	assert.EqualValues(t, 1, builder.calls.Load())

	inst, ok := mod.GetInstrument(1)
	require.True(t, ok)
	require.NoError(t, inst.Err)
	assert.NotNil(t, inst.Module)
	assert.NotSame(t, mod.Source, inst.Module, "instrumentation must run on a clone, never the shared source")
}

func TestCompilerSkipsAlreadyInstrumented(t *testing.T) {
	builder := &countingBuilder{}
	c, mod := newTestCompiler(t, builder, 2)

	c.Submit(context.Background(), []Job{{Module: mod, FeatureMask: 1}})
	assert.EqualValues(t, 1, builder.calls.Load())

	c.Submit(context.Background(), []Job{{Module: mod, FeatureMask: 1}})
	assert.EqualValues(t, 1, builder.calls.Load(), "a mask already compiled must not rebuild")
}

func TestCompilerRecordsBuildFailure(t *testing.T) {
	c, mod := newTestCompiler(t, failingBuilder{}, 1)

	c.Submit(context.Background(), []Job{{Module: mod, FeatureMask: 1}})

	inst, ok := mod.GetInstrument(1)
	require.True(t, ok)
	assert.ErrorIs(t, inst.Err, ErrShaderCompileFailure)
	assert.Nil(t, inst.Module)
}

func TestCompilerCommitSequenceMonotonic(t *testing.T) {
	builder := &countingBuilder{}
	c, mod := newTestCompiler(t, builder, 1)

	before := c.CommitSequence()
	seq := c.Submit(context.Background(), []Job{{Module: mod, FeatureMask: 1}})
	assert.Greater(t, seq, before)
	assert.Equal(t, seq, c.CommitSequence())
}

func TestSourceHashStableAcrossCalls(t *testing.T) {
	mod := spirv.NewModule(0)
	fn := &spirv.Function{ResultID: mod.TakeNextID(), Blocks: []*spirv.BasicBlock{{Label: mod.TakeNextID()}}}
	mod.Functions = append(mod.Functions, fn)

	assert.Equal(t, sourceHash(mod), sourceHash(mod))
}
