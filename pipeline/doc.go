// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pipeline is vkguard's async pipeline compiler: given a
// pipeline's already-instrumented shader stages, it
// deep-copies the stored creation descriptor, substitutes the
// instrumented module handles, and drives the underlying graphics API
// to build a new pipeline object. Jobs are partitioned by pipeline
// type and batched across a worker pool.
package pipeline
