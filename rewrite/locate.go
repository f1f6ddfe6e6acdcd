// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rewrite

import (
	"github.com/vkguard/vkguard/registry"
	"github.com/vkguard/vkguard/rewrite/spirv"
)

// SourceExtractGUID registers (or finds the existing) extract for in's
// source position within fnName, using the file UID st recorded for
// file during Setup's source-debug reflection. It returns
// registry.NoExtract when the module carries no debug info for file or
// registration fails for any other reason, letting a feature pass
// compose its message without a resolved extract rather than fail the
// whole instrumentation.
func (st *State) SourceExtractGUID(loc *registry.Registry, file string, fnName string, in *spirv.Instruction) uint32 {
	fileUID, ok := st.SourceFileUIDs[file]
	if !ok {
		return registry.NoExtract
	}
	guid, err := loc.RegisterLineExtract(fileUID, fnName, in.Line, in.Column)
	if err != nil {
		return registry.NoExtract
	}
	return guid
}
