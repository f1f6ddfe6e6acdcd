// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spirv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeManagerDeduplicates(t *testing.T) {
	mod := NewModule(0)
	tm := NewTypeManager(mod)

	u1 := tm.UInt(32)
	u2 := tm.UInt(32)
	assert.Equal(t, u1, u2)

	b := tm.Bool()
	v1 := tm.Vector(b, 4)
	v2 := tm.Vector(b, 4)
	assert.Equal(t, v1, v2)

	v3 := tm.Vector(b, 3)
	assert.NotEqual(t, v1, v3)

	assert.Len(t, mod.Globals, 4, "uint32, bool, vec4<bool>, vec3<bool>")
}

func TestStructForceNewAllocatesDistinctIDs(t *testing.T) {
	mod := NewModule(0)
	tm := NewTypeManager(mod)
	u := tm.UInt(32)

	s1 := tm.Struct(true, u)
	s2 := tm.Struct(true, u)
	assert.NotEqual(t, s1, s2)
}

func TestModuleTakeNextIDStartsAboveSourceIDs(t *testing.T) {
	mod := NewModule(100)
	assert.EqualValues(t, 101, mod.TakeNextID())
	assert.EqualValues(t, 102, mod.TakeNextID())
}

func TestUintConstDeduplicates(t *testing.T) {
	mod := NewModule(0)
	tm := NewTypeManager(mod)

	c1 := tm.UintConst(42)
	c2 := tm.UintConst(42)
	assert.Equal(t, c1, c2)

	c3 := tm.UintConst(7)
	assert.NotEqual(t, c1, c3)
}

func TestReplaceAllUses(t *testing.T) {
	mod := NewModule(0)
	fn := &Function{ResultID: 1}
	block := &BasicBlock{Label: 2, Instructions: []*Instruction{
		{Op: OpLoad, ResultID: 3, Operands: []Operand{Ref(10)}},
	}}
	fn.Blocks = append(fn.Blocks, block)
	mod.Functions = append(mod.Functions, fn)

	mod.ReplaceAllUses(10, 20)
	assert.Equal(t, ID(20), block.Instructions[0].Operands[0].ID)
}
