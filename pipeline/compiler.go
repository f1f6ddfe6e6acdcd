// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vkguard/vkguard/logx"
	"github.com/vkguard/vkguard/state"
)

// ErrMissingShaderKey means a
// stage's instrumented variant was asked for by feature mask and the
// shader module had not built one, so the pipeline stays
// uninstrumented.
var ErrMissingShaderKey = errors.New("pipeline: stage has no instrumented variant for the requested feature mask")

// ErrPipelineCreationFailed means the underlying graphics API rejected the instrumented creation
// descriptor.
var ErrPipelineCreationFailed = errors.New("pipeline: underlying API rejected the instrumented descriptor")

// Builder drives the underlying graphics API to build a new pipeline
// object from a deep-copied, stage-substituted descriptor. Clearing
// caching-related fields and writing each stage's instrumented module
// handle into the descriptor is API- and descriptor-shape-specific, so it is the Builder's job; the compiler
// only guarantees descriptor is this job's own deep copy, never the
// pipeline's shared one.
type Builder interface {
	Build(typ state.PipelineType, descriptor any, stageHandles []state.Handle) (state.Handle, error)
}

// StageKey names one pipeline stage's shader module and the feature
// mask selecting which of its instrumented variants this job wants.
type StageKey struct {
	Module *state.ShaderModule
	Mask   uint32
}

// Job is one pipeline (re)build request: the pipeline-state pointer,
// the combined hash identifying the instrumented variant being built,
// and the per-stage shader instrumentation keys.
type Job struct {
	Pipeline     *state.Pipeline
	CombinedHash state.CombinedHash
	Stages       []StageKey
}

// Result records one job's outcome for the diagnostic bucket threaded
// through a batch, so per-pipeline failures stay attributable.
type Result struct {
	Job Job
	Err error
}

// BatchCounts tallies a Submit call's total, passed and failed counts.
type BatchCounts struct {
	Total  int
	Passed int
	Failed int
}

// Compiler is the async pipeline compiler.
type Compiler struct {
	builder     Builder
	workerCount int
}

// New creates a pipeline compiler driving builder with up to
// workerCount jobs in flight at once.
func New(builder Builder, workerCount int) *Compiler {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Compiler{builder: builder, workerCount: workerCount}
}

// batchSize implements the batching formula: jobs are
// submitted to the thread-pool in batches sized to
// max(1, min(total/worker_count, 64)).
func batchSize(total, workers int) int {
	if workers < 1 {
		workers = 1
	}
	size := total / workers
	if size > 64 {
		size = 64
	}
	if size < 1 {
		size = 1
	}
	return size
}

// Submit partitions jobs by pipeline type, batches each partition per
// batchSize, and runs every job bounded to c.workerCount in flight.
// Every job's outcome (success or one of the two pipeline-specific
// sentinel errors) is reported in the returned Result slice; a failed
// job never blocks or fails its batch-mates.
func (c *Compiler) Submit(ctx context.Context, jobs []Job) (BatchCounts, []Result) {
	byType := make(map[state.PipelineType][]Job)
	for _, j := range jobs {
		byType[j.Pipeline.Type] = append(byType[j.Pipeline.Type], j)
	}

	var (
		mu      sync.Mutex
		results []Result
		counts  BatchCounts
	)

	record := func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, r)
		counts.Total++
		if r.Err != nil {
			counts.Failed++
		} else {
			counts.Passed++
		}
	}

	for _, typeJobs := range byType {
		size := batchSize(len(typeJobs), c.workerCount)
		for start := 0; start < len(typeJobs); start += size {
			end := start + size
			if end > len(typeJobs) {
				end = len(typeJobs)
			}
			batch := typeJobs[start:end]

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(c.workerCount)
			for _, job := range batch {
				job := job
				g.Go(func() error {
					err := c.runJob(gctx, job)
					record(Result{Job: job, Err: err})
					return nil
				})
			}
			_ = g.Wait()
		}
	}

	return counts, results
}

// runJob rewrites, substitutes stages into, and builds one job's
// instrumented pipeline.
func (c *Compiler) runJob(ctx context.Context, job Job) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// step 1: deep-copy the stored creation descriptor, never mutate
	// the shared copy.
	descriptor, err := state.DeepCopyDescriptor(job.Pipeline.Descriptor)
	if err != nil {
		return err
	}

	// step 2: resolve every stage's instrumented variant.
	stageHandles := make([]state.Handle, len(job.Stages))
	for i, stage := range job.Stages {
		inst, ok := stage.Module.GetInstrument(stage.Mask)
		if !ok || inst.Err != nil {
			logx.Default.Warn("pipeline build missing shader key", "module", stage.Module.DebugName, "mask", stage.Mask)
			return ErrMissingShaderKey
		}
		stageHandles[i] = inst.APIHandle
	}

	// steps 3-4: substitute stage handles and build, via the Builder.
	handle, err := c.builder.Build(job.Pipeline.Type, descriptor, stageHandles)
	if err != nil {
		logx.Default.Warn("pipeline creation failed", "err", err)
		return fmt.Errorf("%w: %v", ErrPipelineCreationFailed, err)
	}

	// step 5: publish under AddInstrument(combined_hash, new_pipeline).
	job.Pipeline.AddInstrument(job.CombinedHash, handle)
	return nil
}
