// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package state holds vkguard's process-wide shader-module and
// pipeline state tables: handle-to-wrapper maps, reference counting,
// and the per-feature-mask / per-combined-hash instrumented-variant
// maps the async compilers populate.
package state
