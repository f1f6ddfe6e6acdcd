// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config holds vkguard's host-supplied entry-point options:
// which validation features run, how logs are routed, and the sizes
// and thresholds that bound the export buffer, the location registry
// and the connection layer.
package config

import (
	"github.com/vkguard/vkguard/logx"
)

// Feature is a bit position in a FeatureMask, one per validation pass.
type Feature uint32

const (
	FeatureResourceBounds Feature = 1 << iota
	FeatureArrayBounds
	FeatureExportStability
	FeatureLoopTermination
	FeatureResourceInitialization
)

// FeatureMask gates which validation features run on the next
// compiled shader.
type FeatureMask uint32

// Has reports whether f is enabled in m.
func (m FeatureMask) Has(f Feature) bool {
	return m&FeatureMask(f) != 0
}

// FeatureMaskAll enables every feature.
const FeatureMaskAll FeatureMask = FeatureMask(FeatureResourceBounds | FeatureArrayBounds |
	FeatureExportStability | FeatureLoopTermination | FeatureResourceInitialization)

// LoopOptions holds the loop-termination settings as loaded. The
// loop-termination pass in package feature does not read them: it
// always checks every 16 loop-header visits and always caps a loop at
// 1<<20 iterations (its loopCheckInterval and loopIterationLimit).
type LoopOptions struct {
	// UseIterationLimits turns on the iteration-limit check; without it,
	// only the heart-beat-driven termination signal is honored.
	UseIterationLimits bool `toml:"use_iteration_limits" default:"true"`

	// IterationLimit is the maximum loop-body iteration count before
	// the instrumented loop self-terminates.
	IterationLimit uint32 `toml:"iteration_limit" default:"1048576"`

	// AtomicIterationInterval is how many iterations elapse between
	// the loop's atomic reads of the termination flag.
	AtomicIterationInterval uint32 `toml:"atomic_iteration_interval" default:"64"`
}

// InitializationOptions holds the resource-initialization settings as
// loaded.
type InitializationOptions struct {
	// Detail is not read by the resource-initialization pass: its
	// messages always carry the packed resource token in word0's body
	// and the extract GUID as their one chunk, whatever Detail says.
	Detail bool `toml:"detail" default:"true"`
}

// Options is the full set of host entry-point options vkguard reads at
// install time.
type Options struct {
	// FeatureMask selects which validation features are active.
	FeatureMask FeatureMask `toml:"feature_mask" default:"31"`

	// LogSeverityMask gates which internal log severities reach LogCallback.
	LogSeverityMask logx.SeverityMask `toml:"log_severity_mask" default:"15"`

	// LogCallback is the host-owned sink for internal diagnostics. Not
	// set from TOML; a host wires this up in code after Load.
	LogCallback logx.Callback `toml:"-"`

	// StripFolders, if true, reduces module/file paths to basenames
	// before they are reported.
	StripFolders bool `toml:"strip_folders" default:"false"`

	// ShaderConnectionObjectThreshold bounds how many shader
	// connection objects the connection layer will enumerate before
	// refusing further requests.
	ShaderConnectionObjectThreshold uint32 `toml:"shader_connection_object_threshold" default:"4096"`

	// ExportBufferCapacity is the size, in dwords, of the shader-export buffer.
	ExportBufferCapacity uint32 `toml:"export_buffer_capacity" default:"65536"`

	Loop           LoopOptions            `toml:"loop"`
	Initialization InitializationOptions `toml:"initialization"`
}
