// Copyright (c) 2023, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package logx provides vkguard's internal logging: a package-level
// slog.Logger (Default) whose handler forwards records to a
// host-supplied Callback, gated by a SeverityMask, plus a colorized
// Print family for the standalone demo binary's own console output.
package logx
