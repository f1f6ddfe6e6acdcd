// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compiler is vkguard's async shader compiler: a worker pool
// that rewrites a source shader module under a feature
// mask, runs the result through the feature passes, and invokes the
// graphics-API module constructor to produce an instrumented module
// object. Concurrent requests for the same (source hash, mask) pair are
// deduplicated so only one rewrite+build runs.
package compiler
