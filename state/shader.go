// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package state

import (
	"sync"
	"sync/atomic"

	"github.com/vkguard/vkguard/rewrite"
	"github.com/vkguard/vkguard/rewrite/spirv"
)

// InstrumentationKey is an opaque stable identifier for "this source
// module compiled under this feature mask". Two keys compare equal iff
// the compiler
// considers the resulting modules interchangeable for validation
// purposes; vkguard assigns one per (ShaderModule, feature mask) pair
// the first time the compiler builds that variant, see
// github.com/vkguard/vkguard/compiler.
type InstrumentationKey uint64

// Instrumented is one feature-mask's compiled variant of a shader
// module: the rewritten IR, the key other components compare it by,
// the API handle the graphics-API module constructor returned, and
// (on a failed build) the error that left Module/APIHandle zero.
type Instrumented struct {
	Key       InstrumentationKey
	Module    *spirv.Module
	APIHandle Handle
	Err       error
}

// ShaderModule is the process-wide wrapper around one application
// shader handle: its raw source IR and debug info, a reference count
// surviving in-flight compilation jobs, and the lazily populated
// feature-mask -> Instrumented map.
type ShaderModule struct {
	refCount int32

	DebugName string
	Source    *spirv.Module
	Debug     rewrite.SourceDebugInfo

	mu           sync.Mutex
	instrumented map[uint32]*Instrumented
}

// NewShaderModule wraps source (the application's own, uninstrumented
// module) under debugName, with one reference already held by the
// caller.
func NewShaderModule(debugName string, source *spirv.Module, debug rewrite.SourceDebugInfo) *ShaderModule {
	return &ShaderModule{
		refCount:     1,
		DebugName:    debugName,
		Source:       source,
		Debug:        debug,
		instrumented: make(map[uint32]*Instrumented),
	}
}

// Retain bumps the reference count and returns the new value.
func (s *ShaderModule) Retain() int32 {
	return atomic.AddInt32(&s.refCount, 1)
}

// Release drops the reference count and returns the new value. A
// caller observing 0 owns the last reference and may destroy s; that
// is only safe once no in-flight compilation job still references it
// either.
func (s *ShaderModule) Release() int32 {
	return atomic.AddInt32(&s.refCount, -1)
}

// RefCount reads the current reference count.
func (s *ShaderModule) RefCount() int32 {
	return atomic.LoadInt32(&s.refCount)
}

// GetInstrument looks up the instrumented variant built for mask, if
// any compiler has populated it yet.
func (s *ShaderModule) GetInstrument(mask uint32) (*Instrumented, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instrumented[mask]
	return inst, ok
}

// SetInstrument publishes inst as mask's instrumented variant. Called
// once by the compiler worker that built it; a later call for the
// same mask (a feature-mask change re-triggering a rebuild) replaces
// the entry. Nothing here destroys the replaced variant.
func (s *ShaderModule) SetInstrument(mask uint32, inst *Instrumented) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instrumented[mask] = inst
}
