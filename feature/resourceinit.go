// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package feature

import (
	"github.com/vkguard/vkguard/diag"
	"github.com/vkguard/vkguard/registry"
	"github.com/vkguard/vkguard/rewrite"
	"github.com/vkguard/vkguard/rewrite/spirv"
)

// ResourceInit instruments every descriptor-bound write (Store,
// ImageWrite) to mark that resource's slot in a per-resource
// initialization mask, and every descriptor-bound read (Load,
// ImageRead, ImageFetch) to check the slot first: writes are never
// suppressed, and neither are reads — a miss only exports a diagnostic
// before the read runs, mirroring ExportStability's
// check-then-always-continue shape rather than BoundsCheck's
// mutually-exclusive guard.
type ResourceInit struct {
	errorUID      uint16
	descriptorUID uint32
	reg           *diag.Registry
	acc           batchAccumulator
}

// NewResourceInit creates an uninstalled resource-initialization pass.
func NewResourceInit() *ResourceInit {
	return &ResourceInit{}
}

// Install allocates this pass's message and descriptor UIDs.
func (p *ResourceInit) Install(diagReg *diag.Registry) {
	p.reg = diagReg
	p.errorUID = diagReg.AllocateMessageUID()
	p.descriptorUID = diagReg.AllocateDescriptorUID(FeatureResourceInit)
	diagReg.SetMessageHandler(p.errorUID, p)
	diagReg.SetMessageSizer(p.errorUID, func(uint32) int { return 1 })
}

// Instrument guards every qualifying read and marks every qualifying
// write, in every function of mod.
func (p *ResourceInit) Instrument(st *rewrite.State, loc *registry.Registry, fnName string, mod *spirv.Module) {
	for _, fn := range mod.Functions {
		for _, block := range fn.Blocks {
			p.instrumentBlock(st, loc, fnName, mod, fn, block)
		}
	}
}

func (p *ResourceInit) instrumentBlock(st *rewrite.State, loc *registry.Registry, fnName string, mod *spirv.Module, fn *spirv.Function, block *spirv.BasicBlock) {
	seen := rewrite.NewInstructionSet()

	for i := 0; i < len(block.Instructions); i++ {
		in := block.Instructions[i]
		if seen.Seen(in) || len(in.Operands) == 0 {
			continue
		}

		switch in.Op {
		case spirv.OpStore, spirv.OpImageWrite:
			seen.Mark(in)
			if !p.markWrite(st, mod, block, in) {
				continue
			}
		case spirv.OpLoad, spirv.OpImageRead, spirv.OpImageFetch:
			if post := p.guardRead(st, loc, fnName, mod, fn, block, i, in); post != nil {
				// the read now lives at the head of a new post block;
				// resume scanning there, just past it, for any further
				// candidates the original block held after it.
				block, i = post, 0
			}
		}
	}
}

// markWrite inserts an unconditional AtomicOr setting the resource's
// init slot right before a write, returning false if the write's
// target doesn't resolve to a descriptor-bound resource.
func (p *ResourceInit) markWrite(st *rewrite.State, mod *spirv.Module, block *spirv.BasicBlock, in *spirv.Instruction) bool {
	desc, token, ok := p.resolveSlot(st, mod, block, in.Operands[0].ID)
	if !ok {
		return false
	}

	uintTy := st.Types.UInt(32)
	storagePtrUint := st.Types.Pointer(uintTy, spirv.StorageStorageBuffer)

	slot := &spirv.Instruction{Op: spirv.OpAccessChain, TypeID: storagePtrUint, ResultID: mod.TakeNextID(), Operands: []spirv.Operand{spirv.Ref(desc.VarID), spirv.Ref(st.Types.UintConst(0)), spirv.Ref(st.Types.UintConst(token))}}
	slot.MarkInjected()
	insertBefore(block, in, slot)

	mark := &spirv.Instruction{Op: spirv.OpAtomicOr, TypeID: uintTy, ResultID: mod.TakeNextID(), Operands: []spirv.Operand{spirv.Ref(slot.ResultID), spirv.Ref(st.Types.UintConst(1))}}
	mark.MarkInjected()
	insertBefore(block, in, mark)

	return true
}

// guardRead splits block at in, checking the resource's init slot
// before in and exporting a diagnostic on a miss, but always letting
// in execute afterward. It returns the post block in now heads, or nil
// if in's target doesn't resolve to a descriptor-bound resource.
func (p *ResourceInit) guardRead(st *rewrite.State, loc *registry.Registry, fnName string, mod *spirv.Module, fn *spirv.Function, block *spirv.BasicBlock, i int, in *spirv.Instruction) *spirv.BasicBlock {
	desc, token, ok := p.resolveSlot(st, mod, block, in.Operands[0].ID)
	if !ok {
		return nil
	}

	guid := st.SourceExtractGUID(loc, st.DebugName, fnName, in)

	uintTy := st.Types.UInt(32)
	boolTy := st.Types.Bool()
	storagePtrUint := st.Types.Pointer(uintTy, spirv.StorageStorageBuffer)

	post := rewrite.SplitBasicBlock(mod, fn, block, i)
	mismatch := rewrite.AllocBlock(mod, fn, block)

	slot := emit(mod, block, spirv.OpAccessChain, storagePtrUint, spirv.Ref(desc.VarID), spirv.Ref(st.Types.UintConst(0)), spirv.Ref(st.Types.UintConst(token)))
	mask := emit(mod, block, spirv.OpAtomicAnd, uintTy, spirv.Ref(slot.ResultID), spirv.Ref(st.Types.UintConst(0xFFFFFFFF)))
	uninitialized := emit(mod, block, spirv.OpIEqual, boolTy, spirv.Ref(mask.ResultID), spirv.Ref(st.Types.UintConst(0)))

	merge := &spirv.Instruction{Op: spirv.OpSelectionMerge, Operands: []spirv.Operand{spirv.Ref(post.Label), spirv.Lit(spirv.SelectionControlNone)}}
	merge.MarkInjected()
	block.Instructions = append(block.Instructions, merge)

	br := &spirv.Instruction{Op: spirv.OpBranchConditional, Operands: []spirv.Operand{spirv.Ref(uninitialized.ResultID), spirv.Ref(mismatch.Label), spirv.Ref(post.Label)}}
	br.MarkInjected()
	block.Instructions = append(block.Instructions, br)

	rewrite.EmitExportWrite(mod, mismatch, st, p.errorUID, st.Types.UintConst(token), []spirv.ID{st.Types.UintConst(guid)})
	mismatchBranch := &spirv.Instruction{Op: spirv.OpBranch, Operands: []spirv.Operand{spirv.Ref(post.Label)}}
	mismatchBranch.MarkInjected()
	mismatch.Instructions = append(mismatch.Instructions, mismatchBranch)

	return post
}

// resolveSlot resolves ptrID to the descriptor variable it (directly,
// or through an access chain in the same block) targets, returning the
// descriptor's set/binding packed into a per-resource token this
// pass's mask array is indexed by.
func (p *ResourceInit) resolveSlot(st *rewrite.State, mod *spirv.Module, block *spirv.BasicBlock, ptrID spirv.ID) (rewrite.DescriptorMember, uint32, bool) {
	set, binding, ok := bindingOf(mod, ptrID)
	if !ok {
		if chain := findByResultID(block, ptrID); chain != nil && chain.Op == spirv.OpAccessChain && len(chain.Operands) > 0 {
			set, binding, ok = bindingOf(mod, chain.Operands[0].ID)
		}
	}
	if !ok {
		return rewrite.DescriptorMember{}, 0, false
	}

	desc, ok := st.DescriptorFor(p.descriptorUID, set)
	if !ok {
		return rewrite.DescriptorMember{}, 0, false
	}
	return desc, set<<16 | binding, true
}

// insertBefore inserts in immediately before target in block.
func insertBefore(block *spirv.BasicBlock, target, in *spirv.Instruction) {
	for i, existing := range block.Instructions {
		if existing != target {
			continue
		}
		block.Instructions = append(block.Instructions, nil)
		copy(block.Instructions[i+1:], block.Instructions[i:])
		block.Instructions[i] = in
		return
	}
}

// Handle implements diag.Handler: messages merge by (extract-GUID,
// resource token), since the same call site can fire for different
// resources when used behind a descriptor-array index.
func (p *ResourceInit) Handle(messages []diag.Message, storage []any) int {
	handled := 0
	for _, msg := range messages {
		if len(msg.Chunks) == 0 {
			continue
		}
		guid := msg.Chunks[0]
		token := msg.Body

		p.acc.insert(mergeKey(guid, token), 1, func() Finding {
			return Finding{
				Feature:       FeatureResourceInit,
				ErrorType:     "uninitialized-resource",
				Message:       "resource read before it was written this frame",
				SourceExtract: resolveExtract(p.reg.LocationRegistry(), guid),
			}
		})
		handled++
	}
	return handled
}

func (p *ResourceInit) Step(report *Report)   { p.acc.step("uninitialized-resource", report) }
func (p *ResourceInit) Report(report *Report) { p.acc.report(report) }
func (p *ResourceInit) Flush()                { p.acc.flush() }
