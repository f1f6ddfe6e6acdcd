// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rewrite

import "github.com/vkguard/vkguard/rewrite/spirv"

// SplitBasicBlock moves block's instructions at index at and after
// into a new block inserted immediately after block in fn, leaving
// block holding only the instructions before at (and no terminator;
// the caller replaces that with a branch into the split flow). It
// returns the new block.
func SplitBasicBlock(mod *spirv.Module, fn *spirv.Function, block *spirv.BasicBlock, at int) *spirv.BasicBlock {
	tail := append([]*spirv.Instruction(nil), block.Instructions[at:]...)
	block.Instructions = block.Instructions[:at:at]

	post := &spirv.BasicBlock{Label: mod.TakeNextID(), Instructions: tail}
	insertAfter(fn, block, post)
	return post
}

// AllocBlock creates a new, empty block inserted immediately after
// after in fn.
func AllocBlock(mod *spirv.Module, fn *spirv.Function, after *spirv.BasicBlock) *spirv.BasicBlock {
	b := &spirv.BasicBlock{Label: mod.TakeNextID()}
	insertAfter(fn, after, b)
	return b
}

func insertAfter(fn *spirv.Function, after, newBlock *spirv.BasicBlock) {
	for i, b := range fn.Blocks {
		if b != after {
			continue
		}
		fn.Blocks = append(fn.Blocks, nil)
		copy(fn.Blocks[i+2:], fn.Blocks[i+1:])
		fn.Blocks[i+1] = newBlock
		return
	}
}

func branchTo(target spirv.ID) *spirv.Instruction {
	in := &spirv.Instruction{Op: spirv.OpBranch, Operands: []spirv.Operand{spirv.Ref(target)}}
	in.MarkInjected()
	return in
}

// GuardResult carries the three blocks a guard emission produced, for
// a pass that needs to keep instrumenting past the guard (e.g. a
// nested array-bounds check inside the same original block).
type GuardResult struct {
	Offending *spirv.BasicBlock
	Error     *spirv.BasicBlock
	Post      *spirv.BasicBlock
}

// EmitGuard implements the rewriter's block-splitting + guard
// emission transform. block's instruction at index at is the
// instruction of interest; everything from at onward is split into a
// new "offending" block, and everything after the instruction of
// interest within that into a new "post" block. buildCond appends the
// bounds-check instructions to the original block (now just the
// pre-guard head) and returns the boolean condition ID that selects
// error over offending. buildError appends message-compose and export
// instructions to the new error block.
//
// If the instruction of interest produces a value used later in the
// function (hasResult), EmitGuard reassigns it a fresh result ID on
// the offending path, and prepends a phi to post under the
// instruction's original result ID selecting between the offending
// path's real value and neutralConst on the error path — any
// downstream use of the original ID sees the merged value.
func EmitGuard(
	mod *spirv.Module, fn *spirv.Function, block *spirv.BasicBlock, at int,
	buildCond func(pre *spirv.BasicBlock) spirv.ID,
	buildError func(errBlock *spirv.BasicBlock),
	hasResult bool, resultTypeID spirv.ID, neutralConst spirv.ID,
) GuardResult {
	interest := block.Instructions[at]
	originalResultID := interest.ResultID

	offending := SplitBasicBlock(mod, fn, block, at)
	post := SplitBasicBlock(mod, fn, offending, 1)
	errBlock := AllocBlock(mod, fn, offending)

	if hasResult {
		interest.ResultID = mod.TakeNextID()
	}

	condID := buildCond(block)
	merge := &spirv.Instruction{
		Op:       spirv.OpSelectionMerge,
		Operands: []spirv.Operand{spirv.Ref(post.Label), spirv.Lit(spirv.SelectionControlNone)},
	}
	merge.MarkInjected()
	block.Instructions = append(block.Instructions, merge)

	br := &spirv.Instruction{
		Op:       spirv.OpBranchConditional,
		Operands: []spirv.Operand{spirv.Ref(condID), spirv.Ref(errBlock.Label), spirv.Ref(offending.Label)},
	}
	br.MarkInjected()
	block.Instructions = append(block.Instructions, br)

	offending.Instructions = append(offending.Instructions, branchTo(post.Label))

	buildError(errBlock)
	errBlock.Instructions = append(errBlock.Instructions, branchTo(post.Label))

	if hasResult {
		phi := &spirv.Instruction{
			Op:       spirv.OpPhi,
			TypeID:   resultTypeID,
			ResultID: originalResultID,
			Operands: []spirv.Operand{
				spirv.Ref(interest.ResultID), spirv.Ref(offending.Label),
				spirv.Ref(neutralConst), spirv.Ref(errBlock.Label),
			},
		}
		phi.MarkInjected()
		post.Instructions = append([]*spirv.Instruction{phi}, post.Instructions...)
	}

	return GuardResult{Offending: offending, Error: errBlock, Post: post}
}
