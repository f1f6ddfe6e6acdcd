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

// loopCheckInterval is how many loop-header visits pass between
// atomic checks against the termination signal; checking every
// iteration would make the atomic read the loop's bottleneck.
const loopCheckInterval uint32 = 16

// loopIterationLimit is the hard iteration cap a loop hits even if the
// host never raises the termination signal, guarding against a loop
// the host's heartbeat watcher hasn't noticed yet.
const loopIterationLimit uint32 = 1 << 20

// LoopTermination instruments every loop header with a per-function
// iteration counter and a periodic check against a host-raised
// termination signal: on either the signal or the iteration cap, the
// function broadcasts the signal onward (so nested/sibling loops exit
// too) and returns early.
type LoopTermination struct {
	errorUID      uint16
	descriptorUID uint32
	reg           *diag.Registry
	acc           batchAccumulator
}

// NewLoopTermination creates an uninstalled loop-termination pass.
func NewLoopTermination() *LoopTermination {
	return &LoopTermination{}
}

// Install allocates this pass's message and descriptor UIDs.
func (p *LoopTermination) Install(diagReg *diag.Registry) {
	p.reg = diagReg
	p.errorUID = diagReg.AllocateMessageUID()
	p.descriptorUID = diagReg.AllocateDescriptorUID(FeatureLoopTermination)
	diagReg.SetMessageHandler(p.errorUID, p)
	diagReg.SetMessageSizer(p.errorUID, func(uint32) int { return 1 })
}

// Instrument finds every loop header (a block ending in OpLoopMerge)
// in every function of mod and guards it with a counter and
// termination check.
func (p *LoopTermination) Instrument(st *rewrite.State, loc *registry.Registry, fnName string, mod *spirv.Module) {
	for _, fn := range mod.Functions {
		var headers []*spirv.BasicBlock
		var merges []*spirv.Instruction
		for _, block := range fn.Blocks {
			for _, in := range block.Instructions {
				if in.Op == spirv.OpLoopMerge {
					headers = append(headers, block)
					merges = append(merges, in)
					break
				}
			}
		}
		if len(headers) == 0 {
			continue
		}

		desc, ok := st.DescriptorFor(p.descriptorUID, 0)
		if !ok {
			continue
		}

		uintTy := st.Types.UInt(32)
		counterVar := declareCounter(mod, fn, st, uintTy)

		for i, header := range headers {
			p.instrumentHeader(st, loc, fnName, mod, fn, header, merges[i], counterVar, desc, uintTy)
		}
	}
}

// declareCounter prepends a zero-initialized, function-storage uint32
// variable to fn's entry block, per SPIR-V's rule that function
// variables must be the entry block's leading instructions.
func declareCounter(mod *spirv.Module, fn *spirv.Function, st *rewrite.State, uintTy spirv.ID) spirv.ID {
	entry := fn.Blocks[0]
	ptrTy := st.Types.Pointer(uintTy, spirv.StorageFunction)

	varID := mod.TakeNextID()
	decl := &spirv.Instruction{Op: spirv.OpVariable, TypeID: ptrTy, ResultID: varID, Operands: []spirv.Operand{spirv.Lit(uint32(spirv.StorageFunction))}}
	decl.MarkInjected()

	init := &spirv.Instruction{Op: spirv.OpStore, Operands: []spirv.Operand{spirv.Ref(varID), spirv.Ref(st.Types.UintConst(0))}}
	init.MarkInjected()

	entry.Instructions = append([]*spirv.Instruction{decl, init}, entry.Instructions...)
	return varID
}

func (p *LoopTermination) instrumentHeader(
	st *rewrite.State, loc *registry.Registry, fnName string, mod *spirv.Module, fn *spirv.Function,
	header *spirv.BasicBlock, mergeInstr *spirv.Instruction, counterVar spirv.ID, desc rewrite.DescriptorMember, uintTy spirv.ID,
) {
	boolTy := st.Types.Bool()
	storagePtrUint := st.Types.Pointer(uintTy, spirv.StorageStorageBuffer)

	// split first, while header still holds exactly its original
	// content: the counter increment and periodic check become the new
	// header, everything that was here (the real OpLoopMerge +
	// conditional branch) becomes rest.
	rest := rewrite.SplitBasicBlock(mod, fn, header, 0)
	check := rewrite.AllocBlock(mod, fn, header)
	term := rewrite.AllocBlock(mod, fn, check)

	load := emit(mod, header, spirv.OpLoad, uintTy, spirv.Ref(counterVar))
	next := emit(mod, header, spirv.OpIAdd, uintTy, spirv.Ref(load.ResultID), spirv.Ref(st.Types.UintConst(1)))
	store := &spirv.Instruction{Op: spirv.OpStore, Operands: []spirv.Operand{spirv.Ref(counterVar), spirv.Ref(next.ResultID)}}
	store.MarkInjected()
	header.Instructions = append(header.Instructions, store)

	mod16 := emit(mod, header, spirv.OpUMod, uintTy, spirv.Ref(next.ResultID), spirv.Ref(st.Types.UintConst(loopCheckInterval)))
	isDue := emit(mod, header, spirv.OpIEqual, boolTy, spirv.Ref(mod16.ResultID), spirv.Ref(st.Types.UintConst(0)))

	dueMerge := &spirv.Instruction{Op: spirv.OpSelectionMerge, Operands: []spirv.Operand{spirv.Ref(rest.Label), spirv.Lit(spirv.SelectionControlNone)}}
	dueMerge.MarkInjected()
	header.Instructions = append(header.Instructions, dueMerge)

	dueBr := &spirv.Instruction{Op: spirv.OpBranchConditional, Operands: []spirv.Operand{spirv.Ref(isDue.ResultID), spirv.Ref(check.Label), spirv.Ref(rest.Label)}}
	dueBr.MarkInjected()
	header.Instructions = append(header.Instructions, dueBr)

	sigChain := emit(mod, check, spirv.OpAccessChain, storagePtrUint, spirv.Ref(desc.VarID), spirv.Ref(st.Types.UintConst(0)))
	sig := emit(mod, check, spirv.OpAtomicAnd, uintTy, spirv.Ref(sigChain.ResultID), spirv.Ref(st.Types.UintConst(0xFFFFFFFF)))
	sigSet := emit(mod, check, spirv.OpINotEqual, boolTy, spirv.Ref(sig.ResultID), spirv.Ref(st.Types.UintConst(0)))
	limitHit := emit(mod, check, spirv.OpUGreaterThanEqual, boolTy, spirv.Ref(next.ResultID), spirv.Ref(st.Types.UintConst(loopIterationLimit)))
	shouldTerm := emit(mod, check, spirv.OpLogicalOr, boolTy, spirv.Ref(sigSet.ResultID), spirv.Ref(limitHit.ResultID))

	termMerge := &spirv.Instruction{Op: spirv.OpSelectionMerge, Operands: []spirv.Operand{spirv.Ref(rest.Label), spirv.Lit(spirv.SelectionControlNone)}}
	termMerge.MarkInjected()
	check.Instructions = append(check.Instructions, termMerge)

	termBr := &spirv.Instruction{Op: spirv.OpBranchConditional, Operands: []spirv.Operand{spirv.Ref(shouldTerm.ResultID), spirv.Ref(term.Label), spirv.Ref(rest.Label)}}
	termBr.MarkInjected()
	check.Instructions = append(check.Instructions, termBr)

	broadcastChain := emit(mod, term, spirv.OpAccessChain, storagePtrUint, spirv.Ref(desc.VarID), spirv.Ref(st.Types.UintConst(0)))
	broadcast := &spirv.Instruction{Op: spirv.OpAtomicOr, TypeID: uintTy, ResultID: mod.TakeNextID(), Operands: []spirv.Operand{spirv.Ref(broadcastChain.ResultID), spirv.Ref(st.Types.UintConst(1))}}
	broadcast.MarkInjected()
	term.Instructions = append(term.Instructions, broadcast)

	guid := st.SourceExtractGUID(loc, st.DebugName, fnName, mergeInstr)
	rewrite.EmitExportWrite(mod, term, st, p.errorUID, st.Types.UintConst(0), []spirv.ID{st.Types.UintConst(guid)})

	var ret *spirv.Instruction
	if fn.ReturnTypeID == 0 {
		ret = &spirv.Instruction{Op: spirv.OpReturn}
	} else {
		ret = &spirv.Instruction{Op: spirv.OpReturnValue, Operands: []spirv.Operand{spirv.Ref(st.Types.NullConst(fn.ReturnTypeID))}}
	}
	ret.MarkInjected()
	term.Instructions = append(term.Instructions, ret)
}

// emit appends a single injected instruction of op to block, using a
// fresh result ID, and returns it.
func emit(mod *spirv.Module, block *spirv.BasicBlock, op spirv.Opcode, typeID spirv.ID, operands ...spirv.Operand) *spirv.Instruction {
	in := &spirv.Instruction{Op: op, TypeID: typeID, ResultID: mod.TakeNextID(), Operands: operands}
	in.MarkInjected()
	block.Instructions = append(block.Instructions, in)
	return in
}

// Handle implements diag.Handler: a termination event merges by
// extract-GUID, one per loop header that actually fired.
func (p *LoopTermination) Handle(messages []diag.Message, storage []any) int {
	handled := 0
	for _, msg := range messages {
		if len(msg.Chunks) == 0 {
			continue
		}
		guid := msg.Chunks[0]

		p.acc.insert(mergeKey(guid, 0), 1, func() Finding {
			return Finding{
				Feature:       FeatureLoopTermination,
				ErrorType:     "loop-terminated",
				Message:       "loop terminated by the host watchdog",
				SourceExtract: resolveExtract(p.reg.LocationRegistry(), guid),
			}
		})
		handled++
	}
	return handled
}

func (p *LoopTermination) Step(report *Report)   { p.acc.step("loop-terminated", report) }
func (p *LoopTermination) Report(report *Report) { p.acc.report(report) }
func (p *LoopTermination) Flush()                { p.acc.flush() }
