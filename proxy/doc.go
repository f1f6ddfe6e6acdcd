// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package proxy is vkguard's command-buffer interception proxy. It
// sits between the application and the real
// graphics API entry points: at Begin it resets a command buffer's
// shader-export descriptor, at BindPipeline it substitutes the
// instrumented pipeline for the currently active feature mask and
// re-pushes merged push constants, at Draw/Dispatch it flushes any
// descriptor writes backing the export buffer and the per-feature
// resources, and at End it records a follow-up command buffer that
// reads the export counter back into host memory.
package proxy
