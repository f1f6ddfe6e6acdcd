// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package diag owns the three UID spaces a feature pass needs at
// instrumentation time (message, descriptor, push-constant) and
// dispatches drained shader-export messages to the handler each UID
// was registered under.
package diag
