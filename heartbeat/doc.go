// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package heartbeat is vkguard's scheduler and heart-beat thread: a
// host-side ticker that watches in-flight
// command-buffer submissions and, once one has been outstanding
// longer than its termination distance, stages a termination signal
// into the loop-termination feature's per-submission flag buffer so
// the next iteration of an instrumented loop observes it and exits
// early.
package heartbeat
