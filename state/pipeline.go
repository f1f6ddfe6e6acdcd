// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package state

import (
	"encoding/binary"
	"hash/fnv"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/jinzhu/copier"
)

// PipelineType distinguishes the three pipeline shapes the pipeline
// compiler batches jobs by.
type PipelineType uint32

const (
	PipelineGraphics PipelineType = iota
	PipelineCompute
	PipelineRayTracing
)

// PipelineLibraryKey identifies one reusable pipeline-library
// sub-object (VK_KHR_pipeline_library / DX12 CD3DX12_PIPELINE_STATE_STREAM
// sub-objects). It participates in the combined-hash tuple alongside
// per-stage instrumentation keys.
type PipelineLibraryKey uint64

// CombinedHash selects a pipeline's cached instrumented variant; it is
// the hash of the tuple (per-stage InstrumentationKeys, pipeline-library
// keys).
type CombinedHash uint64

// CombineHash computes the combined hash for a pipeline built from
// stageKeys (in stage order) and libraryKeys.
func CombineHash(stageKeys []InstrumentationKey, libraryKeys []PipelineLibraryKey) CombinedHash {
	h := fnv.New64a()
	var buf [8]byte
	for _, k := range stageKeys {
		binary.LittleEndian.PutUint64(buf[:], uint64(k))
		h.Write(buf[:])
	}
	for _, k := range libraryKeys {
		binary.LittleEndian.PutUint64(buf[:], uint64(k))
		h.Write(buf[:])
	}
	return CombinedHash(h.Sum64())
}

// Pipeline is the process-wide wrapper around one application pipeline
// handle: its type, a deep copy of the creation descriptor (so it
// survives the application freeing its own inputs), the constituent
// shader-module states, the source (uninstrumented) pipeline object,
// and the combined-hash -> instrumented-handle map a successful build
// populates.
type Pipeline struct {
	refCount int32

	Type        PipelineType
	Descriptor  any
	Stages      []*ShaderModule
	LibraryKeys []PipelineLibraryKey
	Source      Handle

	mu           sync.Mutex
	instrumented map[CombinedHash]Handle
}

// NewPipeline deep-copies descriptor (via jinzhu/copier, so the
// stored copy is never mutated through the caller's original) and
// wraps it alongside its
// constituent shader stages, with one reference already held by the
// caller.
// descriptor, when non-nil, must be a pointer to the creation-info
// struct the underlying graphics API defines for typ (as every real
// API exposes pipeline creation through a pointer-to-struct).
func NewPipeline(typ PipelineType, descriptor any, stages []*ShaderModule, source Handle) (*Pipeline, error) {
	p := &Pipeline{
		refCount:     1,
		Type:         typ,
		Stages:       append([]*ShaderModule(nil), stages...),
		Source:       source,
		instrumented: make(map[CombinedHash]Handle),
	}
	if descriptor != nil {
		dst, err := DeepCopyDescriptor(descriptor)
		if err != nil {
			return nil, err
		}
		p.Descriptor = dst
	}
	return p, nil
}

// DeepCopyDescriptor returns a deep copy of descriptor, a pointer to a
// graphics-API creation-info struct, via jinzhu/copier. Both
// NewPipeline (the descriptor a Pipeline wrapper stores) and the
// pipeline compiler (each job's own working copy) use this so the
// application can free its own inputs, and concurrent
// rebuild jobs, without disturbing each other.
func DeepCopyDescriptor(descriptor any) (any, error) {
	dst := reflect.New(reflect.TypeOf(descriptor).Elem()).Interface()
	if err := copier.CopyWithOption(dst, descriptor, copier.Option{DeepCopy: true}); err != nil {
		return nil, err
	}
	return dst, nil
}

// Retain bumps the reference count and returns the new value.
func (p *Pipeline) Retain() int32 {
	return atomic.AddInt32(&p.refCount, 1)
}

// Release drops the reference count and returns the new value.
func (p *Pipeline) Release() int32 {
	return atomic.AddInt32(&p.refCount, -1)
}

// RefCount reads the current reference count.
func (p *Pipeline) RefCount() int32 {
	return atomic.LoadInt32(&p.refCount)
}

// GetInstrument looks up the instrumented pipeline object built for
// hash, if the pipeline compiler has published it yet.
func (p *Pipeline) GetInstrument(hash CombinedHash) (Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.instrumented[hash]
	return h, ok
}

// AddInstrument publishes handle as hash's instrumented pipeline
// object.
func (p *Pipeline) AddInstrument(hash CombinedHash, handle Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instrumented[hash] = handle
}
