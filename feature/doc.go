// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package feature implements the independent instrumentation passes:
// resource-address bounds, descriptor-array bounds, export stability,
// loop termination, and resource initialization. Each pass allocates
// its own message (and, where needed, descriptor or push-constant)
// UIDs from a diag.Registry, instruments a module's IR through
// rewrite.EmitGuard, and doubles as the diag.Handler that turns
// drained shader-export messages back into human-readable findings.
package feature
