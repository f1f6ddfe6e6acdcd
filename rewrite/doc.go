// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rewrite is the IR rewriter: the once-per-module setup that
// reflects source debug info and builds the merged push-constant
// block, per-feature descriptors, and export buffer declaration
// (Setup), and the block-splitting + guard-emission transform every
// feature pass in package feature reuses to inject its check
// (EmitGuard). The IR it operates on is the minimal model in
// rewrite/spirv, not a binary SPIR-V codec.
package rewrite
