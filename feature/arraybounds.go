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

// decorationDescriptorSet/decorationBinding mirror the rewriter's own
// decoration Kind values; duplicated here rather than exported from
// rewrite. bindingOf uses them to read decorations back out of the
// module after Setup wrote them, for this pass and for ResourceInit.
const (
	decorationDescriptorSet = 34
	decorationBinding       = 33
)

// ArrayBounds instruments Load instructions whose access chain bottoms
// out in a descriptor-set variable: it fetches that binding's element
// count from a per-set count buffer (one entry per binding) and guards
// the chain's index against it. On the failing path the load is
// skipped and its result is the constant 0; the load is not re-issued
// at index 0. No code in this module writes the count buffer's
// entries.
type ArrayBounds struct {
	errorUID      uint16
	descriptorUID uint32
	reg           *diag.Registry
	acc           batchAccumulator
}

// NewArrayBounds creates an uninstalled descriptor-array-bounds pass.
func NewArrayBounds() *ArrayBounds {
	return &ArrayBounds{}
}

// Install allocates this pass's message and descriptor UIDs.
func (p *ArrayBounds) Install(diagReg *diag.Registry) {
	p.reg = diagReg
	p.errorUID = diagReg.AllocateMessageUID()
	p.descriptorUID = diagReg.AllocateDescriptorUID(FeatureArrayBounds)
	diagReg.SetMessageHandler(p.errorUID, p)
	diagReg.SetMessageSizer(p.errorUID, func(uint32) int { return 1 })
}

// Instrument guards every qualifying Load in every function of mod.
func (p *ArrayBounds) Instrument(st *rewrite.State, loc *registry.Registry, fnName string, mod *spirv.Module) {
	for _, fn := range mod.Functions {
		for _, block := range fn.Blocks {
			p.instrumentBlock(st, loc, fnName, mod, fn, block)
		}
	}
}

func (p *ArrayBounds) instrumentBlock(st *rewrite.State, loc *registry.Registry, fnName string, mod *spirv.Module, fn *spirv.Function, block *spirv.BasicBlock) {
	seen := rewrite.NewInstructionSet()

	for i := 0; i < len(block.Instructions); i++ {
		in := block.Instructions[i]
		if in.Injected() || seen.Seen(in) || in.Op != spirv.OpLoad || len(in.Operands) == 0 {
			continue
		}

		chain := findByResultID(block, in.Operands[0].ID)
		if chain == nil || chain.Op != spirv.OpAccessChain || len(chain.Operands) < 2 {
			continue
		}

		baseID := chain.Operands[0].ID
		set, binding, ok := bindingOf(mod, baseID)
		if !ok {
			continue
		}

		desc, ok := st.DescriptorFor(p.descriptorUID, set)
		if !ok {
			continue
		}
		seen.Mark(in)

		index := chain.Operands[len(chain.Operands)-1]
		guid := st.SourceExtractGUID(loc, st.DebugName, fnName, in)

		uintTy := st.Types.UInt(32)
		boolTy := st.Types.Bool()
		storagePtrUint := st.Types.Pointer(uintTy, spirv.StorageStorageBuffer)

		result := rewrite.EmitGuard(mod, fn, block, i,
			func(pre *spirv.BasicBlock) spirv.ID {
				countPtr := &spirv.Instruction{
					Op: spirv.OpAccessChain, TypeID: storagePtrUint, ResultID: mod.TakeNextID(),
					Operands: []spirv.Operand{spirv.Ref(desc.VarID), spirv.Ref(st.Types.UintConst(0)), spirv.Ref(st.Types.UintConst(binding))},
				}
				countPtr.MarkInjected()
				pre.Instructions = append(pre.Instructions, countPtr)

				count := &spirv.Instruction{Op: spirv.OpLoad, TypeID: uintTy, ResultID: mod.TakeNextID(), Operands: []spirv.Operand{spirv.Ref(countPtr.ResultID)}}
				count.MarkInjected()
				pre.Instructions = append(pre.Instructions, count)

				cmp := &spirv.Instruction{Op: spirv.OpUGreaterThanEqual, TypeID: boolTy, ResultID: mod.TakeNextID(), Operands: []spirv.Operand{index, spirv.Ref(count.ResultID)}}
				cmp.MarkInjected()
				pre.Instructions = append(pre.Instructions, cmp)
				return cmp.ResultID
			},
			func(errBlock *spirv.BasicBlock) {
				body := st.Types.UintConst(0)
				sguid := st.Types.UintConst(guid)
				rewrite.EmitExportWrite(mod, errBlock, st, p.errorUID, body, []spirv.ID{sguid})
			},
			true, in.TypeID, st.Types.UintConst(0),
		)

		// any instructions of interest that trailed in in the original
		// block now live in result.Post; recurse there and stop scanning
		// this block, mirroring ExportStability.
		p.instrumentBlock(st, loc, fnName, mod, fn, result.Post)
		return
	}
}

// findByResultID finds the instruction producing id within block, or
// nil if none does (the load's source came from outside the block).
func findByResultID(block *spirv.BasicBlock, id spirv.ID) *spirv.Instruction {
	for _, in := range block.Instructions {
		if in.ResultID == id {
			return in
		}
	}
	return nil
}

// bindingOf reads the DescriptorSet/Binding decorations the rewriter
// attached to a descriptor variable.
func bindingOf(mod *spirv.Module, varID spirv.ID) (set, binding uint32, ok bool) {
	var haveSet, haveBinding bool
	for _, d := range mod.Decorations {
		if d.Target != spirv.OpDecorate || d.ID != varID || len(d.Values) == 0 {
			continue
		}
		switch d.Kind {
		case decorationDescriptorSet:
			set = d.Values[0]
			haveSet = true
		case decorationBinding:
			binding = d.Values[0]
			haveBinding = true
		}
	}
	return set, binding, haveSet && haveBinding
}

// Handle implements diag.Handler: messages merge purely by
// extract-GUID, per the original's descriptor-array-bounds merge key.
func (p *ArrayBounds) Handle(messages []diag.Message, storage []any) int {
	handled := 0
	for _, msg := range messages {
		if len(msg.Chunks) == 0 {
			continue
		}
		guid := msg.Chunks[0]

		p.acc.insert(mergeKey(guid, 0), 1, func() Finding {
			return Finding{
				Feature:       FeatureArrayBounds,
				ErrorType:     "descriptor-array-index-out-of-bounds",
				Message:       "descriptor array index beyond bound array length",
				SourceExtract: resolveExtract(p.reg.LocationRegistry(), guid),
			}
		})
		handled++
	}
	return handled
}

func (p *ArrayBounds) Step(report *Report) {
	p.acc.step("descriptor-array-index-out-of-bounds", report)
}
func (p *ArrayBounds) Report(report *Report) { p.acc.report(report) }
func (p *ArrayBounds) Flush()                { p.acc.flush() }
