// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command vkguard-demo walks a handful of shader modules and a
// graphics pipeline through the device-independent half of Guard:
// installation, shader creation, async variant compilation, pipeline
// building, and the shader-connection surface. It deliberately stops
// short of a real device, for the same reason the vk package itself
// carries no test files: the physical device and instance are always
// owned by the host application (see vk.GPU's own doc comment), and
// vkguard never creates one on its own. A host
// wiring vkguard against a live device attaches it afterward via
// Guard.AttachDevice, following guard.Guard's own doc comment.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/vkguard/vkguard/compiler"
	"github.com/vkguard/vkguard/config"
	"github.com/vkguard/vkguard/guard"
	"github.com/vkguard/vkguard/logx"
	"github.com/vkguard/vkguard/pipeline"
	"github.com/vkguard/vkguard/rewrite"
	"github.com/vkguard/vkguard/rewrite/spirv"
	"github.com/vkguard/vkguard/state"
)

func main() {
	configPath := flag.String("config", "", "path to a vkguard TOML config; defaults to env-derived options")
	workers := flag.Int("workers", 2, "worker count for the async shader and pipeline compilers")
	flag.Parse()

	logx.SetCallback(logx.SeverityMask(^uint32(0)), func(sev logx.Severity, file string, line int, msg string) {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", sev, msg)
	})

	opts, err := loadOptions(*configPath)
	if err != nil {
		slog.Error("loading options", "err", err)
		os.Exit(1)
	}

	g := guard.New(opts, demoShaderBuilder{}, demoPipelineBuilder{}, *workers)

	vert, vertHandle := g.CreateShaderModule("demo.vert", sampleModule(), rewrite.SourceDebugInfo{File: "demo.vert"})
	frag, fragHandle := g.CreateShaderModule("demo.frag", sampleModule(), rewrite.SourceDebugInfo{File: "demo.frag"})
	fmt.Printf("created shader modules: vert=%d frag=%d\n", vertHandle, fragHandle)

	ctx := context.Background()
	seq := g.CompileShaderVariants(ctx, []compiler.Job{
		{Module: vert, FeatureMask: uint32(opts.FeatureMask)},
		{Module: frag, FeatureMask: uint32(opts.FeatureMask)},
	})
	fmt.Printf("compiled shader variants, commit sequence %d\n", seq)

	desc := &struct{ Stages int }{Stages: 2}
	p, pipelineHandle, err := g.CreatePipeline(state.PipelineGraphics, desc, []*state.ShaderModule{vert, frag}, 0)
	if err != nil {
		slog.Error("creating pipeline", "err", err)
		os.Exit(1)
	}
	fmt.Printf("created pipeline handle=%d\n", pipelineHandle)

	counts, results := g.BuildPipelines(ctx, []pipeline.Job{
		{
			Pipeline:     p,
			CombinedHash: 1,
			Stages: []pipeline.StageKey{
				{Module: vert, Mask: uint32(opts.FeatureMask)},
				{Module: frag, Mask: uint32(opts.FeatureMask)},
			},
		},
	})
	fmt.Printf("pipeline build: total=%d passed=%d failed=%d\n", counts.Total, counts.Passed, counts.Failed)
	for _, r := range results {
		if r.Err != nil {
			fmt.Printf("  pipeline %d failed: %v\n", r.Job.Pipeline.Type, r.Err)
		}
	}

	conns, truncated := g.Connection(0)
	fmt.Printf("shader connection: %d module(s), truncated=%v\n", len(conns), truncated)
	for _, c := range conns {
		fmt.Printf("  handle=%d debugName=%s\n", c.Handle, c.DebugName)
	}

	report := g.Report()
	fmt.Printf("report: %d message(s), %d error bucket(s)\n", len(report.Messages), len(report.ErrorCounts))
}

// loadOptions reads a TOML config from path when given, falling back
// to FromEnv's VKGUARD_-prefixed overrides for a zero-setup run.
func loadOptions(path string) (*config.Options, error) {
	if path == "" {
		return config.FromEnv()
	}
	return config.Load(path)
}

// sampleModule stands in for a real application shader's SPIR-V IR: a
// source-language-agnostic placeholder with no functions, just enough
// for the rewriter's module-level setup to run over.
func sampleModule() *spirv.Module {
	return spirv.NewModule(1)
}

// demoShaderBuilder and demoPipelineBuilder stand in for the
// out-of-scope vkCreateShaderModule/vkCreateGraphicsPipelines calls a
// host application supplies; this demo has no device to call them
// against, so it mints handles the same way compiler_test.go's and
// guard_test.go's stub builders do, logging instead of calling
// through to an API.
type demoShaderBuilder struct{}

var demoHandleCounter uint64

func (demoShaderBuilder) Build(mod *spirv.Module, debugName string) (state.Handle, error) {
	h := state.Handle(atomic.AddUint64(&demoHandleCounter, 1))
	slog.Info("built instrumented shader module", "debugName", debugName, "handle", h)
	return h, nil
}

type demoPipelineBuilder struct{}

func (demoPipelineBuilder) Build(typ state.PipelineType, descriptor any, stageHandles []state.Handle) (state.Handle, error) {
	h := state.Handle(atomic.AddUint64(&demoHandleCounter, 1))
	slog.Info("built instrumented pipeline", "type", typ, "stages", len(stageHandles), "handle", h)
	return h, nil
}
