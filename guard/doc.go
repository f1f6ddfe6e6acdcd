// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package guard is vkguard's top-level facade: the installed
// device-state object whose lifecycle is install -> use -> teardown.
// It wires the location/diagnostic registries, the feature
// passes, the shader and pipeline state tables, the two async
// compilers, the command-buffer proxy, and the heart-beat scheduler
// into one entry point a host application's interception layer calls
// through.
package guard
