// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package feature

import (
	"sync"

	"github.com/vkguard/vkguard/diag"
	"github.com/vkguard/vkguard/registry"
	"github.com/vkguard/vkguard/rewrite"
	"github.com/vkguard/vkguard/rewrite/spirv"
)

// Feature IDs identify which pass produced a Finding or owns a
// descriptor/push-constant slot, independent of the UIDs the
// diagnostic registry hands out (those are allocation-order, these
// are stable identities a report consumer can switch on).
const (
	FeatureBoundsCheck uint32 = iota
	FeatureArrayBounds
	FeatureExportStability
	FeatureLoopTermination
	FeatureResourceInit
)

// Finding is one merged, human-readable diagnostic ready for the host
// report sink: a feature identity, an error classification, composed
// message text, how many GPU-side occurrences it merged, and (when
// resolvable) the source extract and descriptor binding it points at.
type Finding struct {
	Feature     uint32
	ErrorType   string
	Message     string
	MergedCount uint32

	SourceExtract *registry.Extract
	Binding       *registry.Binding
}

// Report is the outbound queue every pass appends to on Report and a
// step's per-feature error tally on Step.
type Report struct {
	Messages    []Finding
	ErrorCounts map[string]uint32
}

// Pass is the shape every feature pass implements, mirroring the
// install/instrument/handle/step/report/flush lifecycle: Install
// allocates UIDs and binds the message handler, Instrument rewrites
// every function in mod, Handle (via diag.Handler) turns a dispatched
// run of drained messages into merged findings, Step folds this
// step's occurrence count into a report, Report appends accumulated
// findings to a report, and Flush clears per-session state between
// instrumentation runs.
type Pass interface {
	Step(report *Report)
	Report(report *Report)
	Flush()
}

// batchAccumulator is the merge-by-key bookkeeping every pass's Handle
// performs: group drained messages under a feature-chosen key,
// increment a merge counter on a repeat, and track how many
// occurrences landed since the last Step.
type batchAccumulator struct {
	mu              sync.Mutex
	messages        []Finding
	lut             map[uint64]int
	accumulatedStep uint32
}

// insert merges count occurrences under key, building a fresh Finding
// via build only the first time key is seen.
func (b *batchAccumulator) insert(key uint64, count uint32, build func() Finding) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.accumulatedStep += count
	if b.lut == nil {
		b.lut = make(map[uint64]int)
	}
	if idx, ok := b.lut[key]; ok {
		b.messages[idx].MergedCount += count
		return
	}

	f := build()
	f.MergedCount = count
	b.lut[key] = len(b.messages)
	b.messages = append(b.messages, f)
}

func (b *batchAccumulator) step(errorType string, report *Report) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if report.ErrorCounts == nil {
		report.ErrorCounts = make(map[string]uint32)
	}
	report.ErrorCounts[errorType] += b.accumulatedStep
	b.accumulatedStep = 0
}

func (b *batchAccumulator) report(report *Report) {
	b.mu.Lock()
	defer b.mu.Unlock()
	report.Messages = append(report.Messages, b.messages...)
}

func (b *batchAccumulator) flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = nil
	b.lut = nil
	b.accumulatedStep = 0
}

// resolveExtract looks up guid in loc, returning nil when it is
// registry.NoExtract or otherwise unresolvable.
func resolveExtract(loc *registry.Registry, guid uint32) *registry.Extract {
	if guid == registry.NoExtract {
		return nil
	}
	ex, ok := loc.GetExtract(guid)
	if !ok {
		return nil
	}
	return &ex
}

// mergeKey packs a 32-bit GUID and a small discriminant into the
// 64-bit key batchAccumulator groups on, mirroring the original's
// (extract-GUID, resource-type) and plain extract-GUID merge keys.
func mergeKey(guid uint32, discriminant uint32) uint64 {
	return uint64(guid) | uint64(discriminant)<<32
}

// Set is the full complement of feature passes a compiler wires into
// one instrumentation run. It exists so callers driving many shaders
// through the same diagnostic registry (the compiler and pipeline
// packages) install, instrument, and report across every pass without
// enumerating them by hand at each call site.
type Set struct {
	BoundsCheck     *BoundsCheck
	ArrayBounds     *ArrayBounds
	ExportStability *ExportStability
	LoopTermination *LoopTermination
	ResourceInit    *ResourceInit
}

// NewSet creates an uninstalled set of all five passes.
func NewSet() *Set {
	return &Set{
		BoundsCheck:     NewBoundsCheck(),
		ArrayBounds:     NewArrayBounds(),
		ExportStability: NewExportStability(),
		LoopTermination: NewLoopTermination(),
		ResourceInit:    NewResourceInit(),
	}
}

// passes returns every pass in a stable order, for the methods below.
func (s *Set) passes() []Pass {
	return []Pass{s.BoundsCheck, s.ArrayBounds, s.ExportStability, s.LoopTermination, s.ResourceInit}
}

// Install binds every pass's message (and descriptor/push-constant)
// UIDs to diagReg. Call once per process, before any module is
// rewritten.
func (s *Set) Install(diagReg *diag.Registry) {
	s.BoundsCheck.Install(diagReg)
	s.ArrayBounds.Install(diagReg)
	s.ExportStability.Install(diagReg)
	s.LoopTermination.Install(diagReg)
	s.ResourceInit.Install(diagReg)
}

// Has reports whether mask enables feature id, per the bit-per-feature
// layout config.FeatureMask uses (bit i selects the pass whose Feature
// ID is i).
func Has(mask uint32, id uint32) bool {
	return mask&(1<<id) != 0
}

// MaskAll enables every pass, mirroring config.FeatureMaskAll's bit
// layout without importing config from this package.
const MaskAll uint32 = 1<<FeatureBoundsCheck | 1<<FeatureArrayBounds | 1<<FeatureExportStability | 1<<FeatureLoopTermination | 1<<FeatureResourceInit

// Instrument runs every pass enabled in mask's IR rewrite over mod. A
// pass whose bit is clear is skipped entirely, so a mask naming a
// single feature produces a module instrumented for that feature
// alone.
func (s *Set) Instrument(st *rewrite.State, loc *registry.Registry, fnName string, mod *spirv.Module, mask uint32) {
	if Has(mask, FeatureBoundsCheck) {
		s.BoundsCheck.Instrument(st, loc, fnName, mod)
	}
	if Has(mask, FeatureArrayBounds) {
		s.ArrayBounds.Instrument(st, loc, fnName, mod)
	}
	if Has(mask, FeatureExportStability) {
		s.ExportStability.Instrument(st, loc, fnName, mod)
	}
	if Has(mask, FeatureLoopTermination) {
		s.LoopTermination.Instrument(st, loc, fnName, mod)
	}
	if Has(mask, FeatureResourceInit) {
		s.ResourceInit.Instrument(st, loc, fnName, mod)
	}
}

// Step folds this step's per-feature error tallies into report.
func (s *Set) Step(report *Report) {
	for _, p := range s.passes() {
		p.Step(report)
	}
}

// Report appends every pass's accumulated findings to report.
func (s *Set) Report(report *Report) {
	for _, p := range s.passes() {
		p.Report(report)
	}
}

// Flush clears every pass's per-session accumulator.
func (s *Set) Flush() {
	for _, p := range s.passes() {
		p.Flush()
	}
}
