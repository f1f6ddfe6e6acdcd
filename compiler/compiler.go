// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compiler

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vkguard/vkguard/diag"
	"github.com/vkguard/vkguard/feature"
	"github.com/vkguard/vkguard/logx"
	"github.com/vkguard/vkguard/rewrite"
	"github.com/vkguard/vkguard/rewrite/spirv"
	"github.com/vkguard/vkguard/state"
)

// ErrShaderCompileFailure wraps any error the rewrite-then-build step
// raised. A wrapped failure leaves the module's instrumented slot for
// that feature mask holding only this error; the slot itself stays
// empty.
var ErrShaderCompileFailure = errors.New("compiler: shader compile failed")

// Builder invokes the underlying graphics-API module constructor on a
// rewritten module, returning the handle it creates. This is the
// concrete, out-of-scope API call; production wiring supplies one backed by
// vkCreateShaderModule (or the DX12 equivalent), tests supply a stub.
type Builder interface {
	Build(mod *spirv.Module, debugName string) (state.Handle, error)
}

// Job is one (source module, feature mask) request, plus the layout
// parameters rewrite.Setup needs to place the merged push-constant
// block and per-feature descriptors beyond the application's own.
type Job struct {
	Module                *state.ShaderModule
	FeatureMask           uint32
	LastDescriptorSet     uint32
	DescriptorBindingUsed map[uint32]uint32
	ExistingPushConstant  *rewrite.ExistingPushConstant
}

// Compiler is the async shader compiler: a
// concurrency-limited worker pool that rewrites and builds
// instrumented module variants, deduplicating concurrent requests for
// the same (source-hash, feature-mask) pair via singleflight.
type Compiler struct {
	diagReg     *diag.Registry
	features    *feature.Set
	builder     Builder
	workerCount int

	dedup     singleflight.Group
	commitSeq atomic.Uint64
}

// New creates a compiler that dispatches up to workerCount jobs
// concurrently, rewriting against diagReg/features and invoking
// builder to realize each instrumented module.
func New(diagReg *diag.Registry, features *feature.Set, builder Builder, workerCount int) *Compiler {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Compiler{
		diagReg:     diagReg,
		features:    features,
		builder:     builder,
		workerCount: workerCount,
	}
}

// CommitSequence reads the compiler's monotonic commit counter. A
// client captures this before calling Submit and later compares a
// fresh read against the value Submit returned to know "has my commit
// been processed?"
func (c *Compiler) CommitSequence() uint64 {
	return c.commitSeq.Load()
}

// Submit runs every job, bounded to c.workerCount in flight, and
// returns the commit sequence number this batch advanced to once all
// jobs have either published an instrumented variant or recorded a
// failure. Submit itself never returns an error: a worker tolerates a
// rewrite failure by recording it on that job's own module, and never
// blocks or fails the rest of the batch.
func (c *Compiler) Submit(ctx context.Context, jobs []Job) uint64 {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workerCount)

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			c.runJob(ctx, job)
			return nil
		})
	}
	_ = g.Wait()

	return c.commitSeq.Add(1)
}

// runJob builds job's instrumented variant (deduplicating against any
// concurrent identical request) and publishes the result — success or
// failure — onto job.Module.
func (c *Compiler) runJob(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	if _, ok := job.Module.GetInstrument(job.FeatureMask); ok {
		return
	}

	key := dedupKey(job.Module, job.FeatureMask)
	v, err, _ := c.dedup.Do(key, func() (any, error) {
		return c.build(job)
	})
	if err != nil {
		logx.Default.Warn("shader compile failed", "module", job.Module.DebugName, "mask", job.FeatureMask, "err", err)
		job.Module.SetInstrument(job.FeatureMask, &state.Instrumented{
			Err: fmt.Errorf("%w: %v", ErrShaderCompileFailure, err),
		})
		return
	}
	job.Module.SetInstrument(job.FeatureMask, v.(*state.Instrumented))
}

// build clones the module's source IR (so the shared source is never
// mutated), runs the rewriter's module-level setup and every feature
// pass over the clone, then invokes the builder to realize it.
func (c *Compiler) build(job Job) (*state.Instrumented, error) {
	mod := job.Module
	clone := mod.Source.Clone()

	st := rewrite.Setup(clone, c.diagReg, mod.DebugName, mod.Debug, job.LastDescriptorSet, job.DescriptorBindingUsed, job.ExistingPushConstant)
	c.features.Instrument(st, c.diagReg.LocationRegistry(), mod.DebugName, clone, job.FeatureMask)

	handle, err := c.builder.Build(clone, mod.DebugName)
	if err != nil {
		return nil, err
	}

	key := state.InstrumentationKey(sourceHash(mod.Source) ^ uint64(job.FeatureMask)<<1)
	return &state.Instrumented{Key: key, Module: clone, APIHandle: handle}, nil
}

// dedupKey packs a source-hash and feature-mask into the singleflight
// key two concurrent requests for the same instrumented variant share.
func dedupKey(mod *state.ShaderModule, mask uint32) string {
	return fmt.Sprintf("%016x:%08x", sourceHash(mod.Source), mask)
}

// sourceHash is a lightweight structural content hash over mod's
// shape (function count, block sizes), standing in for a hash of the
// serialized module words since this toy IR has no binary encoder;
// grounded on the same blake2b call the location registry's own
// source-hash uses (registry.go's sourceHash).
func sourceHash(mod *spirv.Module) uint64 {
	h, _ := blake2b.New(8, nil)

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(len(mod.Functions)))
	h.Write(buf[:])

	for _, fn := range mod.Functions {
		binary.LittleEndian.PutUint32(buf[:], uint32(fn.ResultID))
		h.Write(buf[:])
		for _, b := range fn.Blocks {
			binary.LittleEndian.PutUint32(buf[:], uint32(len(b.Instructions)))
			h.Write(buf[:])
		}
	}

	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum)
}
