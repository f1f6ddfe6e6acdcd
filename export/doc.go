// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package export manages the shader-export ring buffer: allocating
// and recycling the device-local/host-readable buffer pairs
// instrumented shaders write diagnostic messages into, and draining a
// finished one back into diag.Message values for dispatch.
package export
