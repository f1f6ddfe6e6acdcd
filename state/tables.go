// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package state

import "sync"

// Tables is the process-wide (in practice, per-device) state: the
// handle -> ShaderModule and handle -> Pipeline maps, protected by a
// single per-device mutex.
type Tables struct {
	mu sync.Mutex

	shaders   swapTable[ShaderModule]
	pipelines swapTable[Pipeline]
}

// NewTables creates an empty pair of tables for one device.
func NewTables() *Tables {
	return &Tables{
		shaders:   newSwapTable[ShaderModule](),
		pipelines: newSwapTable[Pipeline](),
	}
}

// AddShader records s under handle.
func (t *Tables) AddShader(handle Handle, s *ShaderModule) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shaders.insert(handle, s)
}

// Shader looks up the wrapper for handle.
func (t *Tables) Shader(handle Handle) (*ShaderModule, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shaders.get(handle)
}

// RemoveShader removes and returns handle's wrapper. The caller is
// responsible for releasing the reference the table itself did not
// hold (the table only stores the pointer; lifetime is reference
// counted, not table-owned).
func (t *Tables) RemoveShader(handle Handle) (*ShaderModule, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shaders.remove(handle)
}

// ShaderCount reports how many shader modules are currently tracked.
func (t *Tables) ShaderCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shaders.len()
}

// AddPipeline records p under handle.
func (t *Tables) AddPipeline(handle Handle, p *Pipeline) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pipelines.insert(handle, p)
}

// Pipeline looks up the wrapper for handle.
func (t *Tables) Pipeline(handle Handle) (*Pipeline, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pipelines.get(handle)
}

// RemovePipeline removes and returns handle's wrapper.
func (t *Tables) RemovePipeline(handle Handle) (*Pipeline, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pipelines.remove(handle)
}

// PipelineCount reports how many pipelines are currently tracked.
func (t *Tables) PipelineCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pipelines.len()
}
