// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package feature

import (
	"strings"

	"github.com/vkguard/vkguard/diag"
	"github.com/vkguard/vkguard/registry"
	"github.com/vkguard/vkguard/rewrite"
	"github.com/vkguard/vkguard/rewrite/spirv"
)

const (
	exportStabilityNaN uint32 = 1 << 0
	exportStabilityInf uint32 = 1 << 1
)

// ExportStability instruments every Store and ImageWrite instruction
// that carries a value operand (the store target's storage class is
// not checked, so stores to any pointer qualify): it validates the value being exported for
// NaN/Inf before the write executes and exports an ExportStability
// message carrying the offending bit mask, but never suppresses the
// write itself — the original store always runs, matching a validated
// program's behavior bit-for-bit on the non-failing path.
type ExportStability struct {
	errorUID uint16
	reg      *diag.Registry
	acc      batchAccumulator
}

// NewExportStability creates an uninstalled export-stability pass.
func NewExportStability() *ExportStability {
	return &ExportStability{}
}

// Install allocates this pass's message UID.
func (p *ExportStability) Install(diagReg *diag.Registry) {
	p.reg = diagReg
	p.errorUID = diagReg.AllocateMessageUID()
	diagReg.SetMessageHandler(p.errorUID, p)
	diagReg.SetMessageSizer(p.errorUID, func(uint32) int { return 1 })
}

// Instrument guards every qualifying Store/ImageWrite in every
// function of mod.
func (p *ExportStability) Instrument(st *rewrite.State, loc *registry.Registry, fnName string, mod *spirv.Module) {
	for _, fn := range mod.Functions {
		for _, block := range fn.Blocks {
			p.instrumentBlock(st, loc, fnName, mod, fn, block)
		}
	}
}

func (p *ExportStability) instrumentBlock(st *rewrite.State, loc *registry.Registry, fnName string, mod *spirv.Module, fn *spirv.Function, block *spirv.BasicBlock) {
	for i := 0; i < len(block.Instructions); i++ {
		in := block.Instructions[i]
		if in.Injected() {
			continue
		}

		var value spirv.Operand
		switch in.Op {
		case spirv.OpStore:
			if len(in.Operands) < 2 {
				continue
			}
			value = in.Operands[1]
		case spirv.OpImageWrite:
			if len(in.Operands) < 2 {
				continue
			}
			value = in.Operands[1]
		default:
			continue
		}

		guid := st.SourceExtractGUID(loc, st.DebugName, fnName, in)

		post := rewrite.SplitBasicBlock(mod, fn, block, i)
		errBlock := rewrite.AllocBlock(mod, fn, block)

		boolTy := st.Types.Bool()
		mask := emitNanInfMask(mod, block, st, value)

		notZero := &spirv.Instruction{Op: spirv.OpINotEqual, TypeID: boolTy, ResultID: mod.TakeNextID(), Operands: []spirv.Operand{spirv.Ref(mask), spirv.Ref(st.Types.UintConst(0))}}
		notZero.MarkInjected()
		block.Instructions = append(block.Instructions, notZero)

		merge := &spirv.Instruction{Op: spirv.OpSelectionMerge, Operands: []spirv.Operand{spirv.Ref(post.Label), spirv.Lit(spirv.SelectionControlNone)}}
		merge.MarkInjected()
		block.Instructions = append(block.Instructions, merge)

		br := &spirv.Instruction{Op: spirv.OpBranchConditional, Operands: []spirv.Operand{spirv.Ref(notZero.ResultID), spirv.Ref(errBlock.Label), spirv.Ref(post.Label)}}
		br.MarkInjected()
		block.Instructions = append(block.Instructions, br)

		rewrite.EmitExportWrite(mod, errBlock, st, p.errorUID, mask, []spirv.ID{st.Types.UintConst(guid)})
		errBranch := &spirv.Instruction{Op: spirv.OpBranch, Operands: []spirv.Operand{spirv.Ref(post.Label)}}
		errBranch.MarkInjected()
		errBlock.Instructions = append(errBlock.Instructions, errBranch)

		// the original write now lives at the head of post,
		// unconditionally; any further candidates that trailed it in the
		// original block live there too, so continue scanning post just
		// past the write.
		block, i = post, 0
	}
}

// emitNanInfMask appends the NaN/Inf check for value to block and
// returns the resulting bit mask's ID.
func emitNanInfMask(mod *spirv.Module, block *spirv.BasicBlock, st *rewrite.State, value spirv.Operand) spirv.ID {
	uintTy := st.Types.UInt(32)
	boolTy := st.Types.Bool()

	isNan := &spirv.Instruction{Op: spirv.OpIsNan, TypeID: boolTy, ResultID: mod.TakeNextID(), Operands: []spirv.Operand{value}}
	isNan.MarkInjected()
	block.Instructions = append(block.Instructions, isNan)

	nanBit := &spirv.Instruction{Op: spirv.OpSelect, TypeID: uintTy, ResultID: mod.TakeNextID(), Operands: []spirv.Operand{spirv.Ref(isNan.ResultID), spirv.Ref(st.Types.UintConst(exportStabilityNaN)), spirv.Ref(st.Types.UintConst(0))}}
	nanBit.MarkInjected()
	block.Instructions = append(block.Instructions, nanBit)

	isInf := &spirv.Instruction{Op: spirv.OpIsInf, TypeID: boolTy, ResultID: mod.TakeNextID(), Operands: []spirv.Operand{value}}
	isInf.MarkInjected()
	block.Instructions = append(block.Instructions, isInf)

	infBit := &spirv.Instruction{Op: spirv.OpSelect, TypeID: uintTy, ResultID: mod.TakeNextID(), Operands: []spirv.Operand{spirv.Ref(isInf.ResultID), spirv.Ref(st.Types.UintConst(exportStabilityInf)), spirv.Ref(st.Types.UintConst(0))}}
	infBit.MarkInjected()
	block.Instructions = append(block.Instructions, infBit)

	mask := &spirv.Instruction{Op: spirv.OpBitwiseOr, TypeID: uintTy, ResultID: mod.TakeNextID(), Operands: []spirv.Operand{spirv.Ref(nanBit.ResultID), spirv.Ref(infBit.ResultID)}}
	mask.MarkInjected()
	block.Instructions = append(block.Instructions, mask)

	return mask.ResultID
}

// Handle implements diag.Handler: messages merge by extract-GUID, the
// mask is folded into the merged entry's text the first time the GUID
// is seen.
func (p *ExportStability) Handle(messages []diag.Message, storage []any) int {
	handled := 0
	for _, msg := range messages {
		if len(msg.Chunks) == 0 {
			continue
		}
		guid := msg.Chunks[0]
		mask := msg.Body

		p.acc.insert(mergeKey(guid, 0), 1, func() Finding {
			return Finding{
				Feature:       FeatureExportStability,
				ErrorType:     "export-unstable",
				Message:       "fragment export is " + describeStabilityMask(mask),
				SourceExtract: resolveExtract(p.reg.LocationRegistry(), guid),
			}
		})
		handled++
	}
	return handled
}

func describeStabilityMask(mask uint32) string {
	var parts []string
	if mask&exportStabilityNaN != 0 {
		parts = append(parts, "NaN")
	}
	if mask&exportStabilityInf != 0 {
		parts = append(parts, "Inf")
	}
	if len(parts) == 0 {
		return "unstable"
	}
	return strings.Join(parts, " & ")
}

func (p *ExportStability) Step(report *Report)   { p.acc.step("export-unstable", report) }
func (p *ExportStability) Report(report *Report) { p.acc.report(report) }
func (p *ExportStability) Flush()                { p.acc.flush() }
