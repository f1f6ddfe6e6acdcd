// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package guard

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vkguard/vkguard/compiler"
	"github.com/vkguard/vkguard/config"
	"github.com/vkguard/vkguard/diag"
	"github.com/vkguard/vkguard/export"
	"github.com/vkguard/vkguard/feature"
	"github.com/vkguard/vkguard/heartbeat"
	"github.com/vkguard/vkguard/logx"
	"github.com/vkguard/vkguard/pipeline"
	"github.com/vkguard/vkguard/proxy"
	"github.com/vkguard/vkguard/registry"
	"github.com/vkguard/vkguard/rewrite"
	"github.com/vkguard/vkguard/rewrite/spirv"
	"github.com/vkguard/vkguard/state"
	vkg "github.com/vkguard/vkguard/vk"
)

// handleCounter mints the process-wide state.Handle values Guard
// assigns its own shader/pipeline table entries, the same
// never-reuse atomic-counter idiom vk.NextPUID uses for resource IDs.
var handleCounter uint64

func nextHandle() state.Handle {
	return state.Handle(atomic.AddUint64(&handleCounter, 1))
}

// Guard is the installed instrumentation session: the registries,
// feature passes, state tables and async compilers every shader and
// pipeline creation call flows through. The device-bound half
// (command-buffer interception and the heart-beat thread) is attached
// separately via AttachDevice once a real device is available, so the
// rest of Guard stays usable — and testable — without one.
type Guard struct {
	Config   *config.Options
	Location *registry.Registry
	Diag     *diag.Registry
	Features *feature.Set
	Tables   *state.Tables

	Shaders   *compiler.Compiler
	Pipelines *pipeline.Compiler

	// Exports, Tracker, Proxy and Heartbeat stay nil until AttachDevice
	// is called.
	Exports   *export.Allocator
	Tracker   *vkg.SubmissionTracker
	Proxy     *proxy.Proxy
	Heartbeat *heartbeat.Scheduler

	mu     sync.Mutex
	report feature.Report
}

// New installs a Guard: it builds the location and diagnostic
// registries, constructs and installs the full feature-pass set, and
// wires the shader and pipeline compilers to shaderBuilder/pipelineBuilder.
// opts.StripFolders is applied to the location registry, and a non-nil
// opts.LogCallback is installed on logx.Default behind opts.LogSeverityMask.
func New(opts *config.Options, shaderBuilder compiler.Builder, pipelineBuilder pipeline.Builder, workerCount int) *Guard {
	loc := registry.New()
	loc.StripFolders = opts.StripFolders
	if opts.LogCallback != nil {
		logx.SetCallback(opts.LogSeverityMask, opts.LogCallback)
	}
	diagReg := diag.New(loc)
	features := feature.NewSet()
	features.Install(diagReg)

	return &Guard{
		Config:    opts,
		Location:  loc,
		Diag:      diagReg,
		Features:  features,
		Tables:    state.NewTables(),
		Shaders:   compiler.New(diagReg, features, shaderBuilder, workerCount),
		Pipelines: pipeline.New(pipelineBuilder, workerCount),
		report:    feature.Report{ErrorCounts: make(map[string]uint32)},
	}
}

// AttachDevice wires the command-buffer proxy and heart-beat thread
// to a real device: an export-segment allocator sized by
// g.Config.ExportBufferCapacity, a submission tracker, and the proxy
// itself. lookup resolves instrumented handles to real pipeline
// objects; writer stages the heart-beat's termination signal. Call
// once, after the device and its queue are ready.
func (g *Guard) AttachDevice(dev *vkg.Device, gpu *vkg.GPU, lookup proxy.PipelineLookup, writer heartbeat.TerminationWriter) {
	g.Exports = export.NewAllocator(gpu, dev.Device, g.Config.ExportBufferCapacity)
	g.Tracker = vkg.NewSubmissionTracker(dev)
	g.Proxy = proxy.New(dev, g.Exports, lookup)
	g.Heartbeat = heartbeat.New(g.Tracker, writer)
}

// Start launches the heart-beat thread. A no-op before AttachDevice.
func (g *Guard) Start(ctx context.Context) {
	if g.Heartbeat != nil {
		g.Heartbeat.Start(ctx)
	}
}

// Shutdown tears Guard down in order: stop the heart-beat thread, wait
// for every outstanding submission to complete, then release the
// proxy's and allocator's device resources.
func (g *Guard) Shutdown() {
	if g.Heartbeat != nil {
		g.Heartbeat.Stop()
	}
	if g.Tracker != nil {
		g.Tracker.WaitForCompletion()
	}
	if g.Proxy != nil {
		g.Proxy.Destroy()
	}
	if g.Exports != nil {
		g.Exports.Destroy()
	}
}

// CreateShaderModule wraps source under debugName, registers it in the
// shader table under a freshly minted handle, and returns both the
// wrapper and its handle (the application-visible identity it is
// tracked under).
func (g *Guard) CreateShaderModule(debugName string, source *spirv.Module, debug rewrite.SourceDebugInfo) (*state.ShaderModule, state.Handle) {
	mod := state.NewShaderModule(debugName, source, debug)
	h := nextHandle()
	g.Tables.AddShader(h, mod)
	return mod, h
}

// CreatePipeline deep-copies descriptor, wraps it alongside stages
// under a freshly minted handle in the pipeline table, and returns
// both the wrapper and its handle.
func (g *Guard) CreatePipeline(typ state.PipelineType, descriptor any, stages []*state.ShaderModule, source state.Handle) (*state.Pipeline, state.Handle, error) {
	p, err := state.NewPipeline(typ, descriptor, stages, source)
	if err != nil {
		return nil, 0, err
	}
	h := nextHandle()
	g.Tables.AddPipeline(h, p)
	return p, h, nil
}

// CompileShaderVariants submits jobs to the shader compiler.
func (g *Guard) CompileShaderVariants(ctx context.Context, jobs []compiler.Job) uint64 {
	return g.Shaders.Submit(ctx, jobs)
}

// BuildPipelines submits jobs to the pipeline compiler.
func (g *Guard) BuildPipelines(ctx context.Context, jobs []pipeline.Job) (pipeline.BatchCounts, []pipeline.Result) {
	return g.Pipelines.Submit(ctx, jobs)
}

// Connection enumerates up to threshold tracked shader modules for the
// shader-connection surface. threshold 0 falls
// back to g.Config.ShaderConnectionObjectThreshold.
func (g *Guard) Connection(threshold uint32) ([]state.ShaderHandleInfo, bool) {
	if threshold == 0 {
		threshold = g.Config.ShaderConnectionObjectThreshold
	}
	infos, truncated := g.Tables.Connection(threshold)
	if truncated {
		logx.Default.Warn("shader connection enumeration truncated", "threshold", threshold)
	}
	return infos, truncated
}

// DrainSegment decodes seg's shader-export words into diagnostic
// messages and dispatches them to every feature's handler. Every
// message's storage entry is nil: this facade tracks no
// per-command-buffer descriptor-set version a handler could resolve a
// bound resource through, so no handler fills Finding.Binding.
func (g *Guard) DrainSegment(seg *export.Segment) error {
	messages, err := seg.Drain(g.Diag)
	storage := make([]any, len(messages))
	g.Diag.Dispatch(messages, storage)
	return err
}

// Step folds the current step's per-feature occurrence tallies into
// the running report.
func (g *Guard) Step() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Features.Step(&g.report)
}

// Report returns every feature's accumulated findings since the last
// Report call, concatenating each feature's queue into the returned
// report's message vector, and resets their per-session state.
func (g *Guard) Report() feature.Report {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := feature.Report{ErrorCounts: make(map[string]uint32)}
	g.Features.Report(&out)
	for k, v := range g.report.ErrorCounts {
		out.ErrorCounts[k] = v
	}
	g.Features.Flush()
	g.report = feature.Report{ErrorCounts: make(map[string]uint32)}
	return out
}
