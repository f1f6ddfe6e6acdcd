// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkguard/vkguard/diag"
	"github.com/vkguard/vkguard/registry"
	"github.com/vkguard/vkguard/rewrite/spirv"
)

func TestEmitExportWriteSimpleMessage(t *testing.T) {
	diagReg := diag.New(registry.New())
	mod := spirv.NewModule(0)
	st := Setup(mod, diagReg, "test", SourceDebugInfo{}, 0, nil, nil)

	block := &spirv.BasicBlock{Label: mod.TakeNextID()}
	bodyConst := st.Types.UintConst(7)

	EmitExportWrite(mod, block, st, 3, bodyConst, nil)

	var stores int
	for _, in := range block.Instructions {
		if in.Op == spirv.OpStore {
			stores++
		}
	}
	assert.Equal(t, 1, stores, "one dword, one store")

	var atomics int
	for _, in := range block.Instructions {
		if in.Op == spirv.OpAtomicIAdd {
			atomics++
		}
	}
	assert.Equal(t, 1, atomics, "single claim regardless of dword count")
}

func TestEmitExportWriteChunkedMessage(t *testing.T) {
	diagReg := diag.New(registry.New())
	mod := spirv.NewModule(0)
	st := Setup(mod, diagReg, "test", SourceDebugInfo{}, 0, nil, nil)

	block := &spirv.BasicBlock{Label: mod.TakeNextID()}
	bodyConst := st.Types.UintConst(1)
	chunk := st.Types.UintConst(0xdead)

	EmitExportWrite(mod, block, st, 9, bodyConst, []spirv.ID{chunk})

	var stores int
	for _, in := range block.Instructions {
		if in.Op == spirv.OpStore {
			stores++
		}
	}
	require.Equal(t, 2, stores, "word0 plus one chunk dword")
}
