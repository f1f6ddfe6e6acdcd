// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rewrite

import "github.com/vkguard/vkguard/rewrite/spirv"

// EmitExportWrite appends the instructions that claim space in the
// module's export buffer and write one diagnostic message: word0
// packs uid in the low 16 bits and bodyID's value in the high 16 (the
// layout diag.DecodeWord0 expects on the host side), followed by any
// chunk dwords. One atomic claim against the buffer's leading counter
// member reserves the whole run, mirroring the original's
// ExportMessage/CompositeStaticMessage pattern of a single atomic
// add followed by per-dword stores.
func EmitExportWrite(mod *spirv.Module, block *spirv.BasicBlock, st *State, uid uint16, bodyID spirv.ID, chunks []spirv.ID) *spirv.BasicBlock {
	uintTy := st.Types.UInt(32)
	storagePtrUint := st.Types.Pointer(uintTy, spirv.StorageStorageBuffer)

	dwords := uint32(1 + len(chunks))

	shifted := emit(mod, block, spirv.OpShiftLeftLogical, uintTy, spirv.Ref(bodyID), spirv.Ref(st.Types.UintConst(16)))
	word0 := emit(mod, block, spirv.OpBitwiseOr, uintTy, spirv.Ref(st.Types.UintConst(uint32(uid))), spirv.Ref(shifted.ResultID))

	counterChain := emit(mod, block, spirv.OpAccessChain, storagePtrUint, spirv.Ref(st.ExportBufferVarID), spirv.Ref(st.Types.UintConst(0)))
	claim := emit(mod, block, spirv.OpAtomicIAdd, uintTy, spirv.Ref(counterChain.ResultID), spirv.Ref(st.Types.UintConst(dwords)))

	words := append([]spirv.ID{word0.ResultID}, chunks...)
	for i, w := range words {
		index := claim.ResultID
		if i > 0 {
			add := emit(mod, block, spirv.OpIAdd, uintTy, spirv.Ref(claim.ResultID), spirv.Ref(st.Types.UintConst(uint32(i))))
			index = add.ResultID
		}

		slot := emit(mod, block, spirv.OpAccessChain, storagePtrUint, spirv.Ref(st.ExportBufferVarID), spirv.Ref(st.Types.UintConst(1)), spirv.Ref(index))
		store := &spirv.Instruction{Op: spirv.OpStore, Operands: []spirv.Operand{spirv.Ref(slot.ResultID), spirv.Ref(w)}}
		store.MarkInjected()
		block.Instructions = append(block.Instructions, store)
	}

	return block
}

// emit appends a single injected instruction of op to block, using a
// fresh result ID, and returns it.
func emit(mod *spirv.Module, block *spirv.BasicBlock, op spirv.Opcode, typeID spirv.ID, operands ...spirv.Operand) *spirv.Instruction {
	in := &spirv.Instruction{Op: op, TypeID: typeID, ResultID: mod.TakeNextID(), Operands: operands}
	in.MarkInjected()
	block.Instructions = append(block.Instructions, in)
	return in
}
