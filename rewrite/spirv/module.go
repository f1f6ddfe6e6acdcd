// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package spirv is a minimal, in-package model of a SPIR-V-shaped
// intermediate representation: just enough instruction, block,
// function, and type structure for vkguard's rewriter to reflect
// source debug info, inject capabilities/types/globals, and split
// basic blocks around a guard. It is not a SPIR-V assembler,
// validator, or binary codec; it exists to give the rewrite package
// somewhere to apply the same block-splitting transform regardless of
// which real IR library eventually parses the binary.
package spirv

// ID is a SPIR-V result/type ID. 0 means "none".
type ID uint32

// Operand is one instruction operand: either a literal word or a
// reference to another instruction's result ID.
type Operand struct {
	IsID    bool
	ID      ID
	Literal uint32
}

// Lit builds a literal operand.
func Lit(v uint32) Operand { return Operand{Literal: v} }

// SelectionControlNone is the "no hint" Selection Control mask
// OpSelectionMerge carries when the rewriter has no preference between
// flatten and don't-flatten.
const SelectionControlNone uint32 = 0

// Ref builds an ID-reference operand.
func Ref(id ID) Operand { return Operand{IsID: true, ID: id} }

// Instruction is one SPIR-V-shaped instruction: an opcode, an
// optional result type and result ID, and its operand list.
type Instruction struct {
	Op       Opcode
	TypeID   ID
	ResultID ID
	Operands []Operand

	// Line and Column carry the source position a debug-info-aware
	// frontend attached to this instruction (both zero if unknown), so
	// a feature pass can register a source extract for the instruction
	// it instruments without its own line-table walk.
	Line, Column uint32

	// injected marks an instruction created by vkguard's own
	// rewriter, so a later pass (or the same pass visiting the same
	// block again after a split) skips it instead of re-instrumenting
	// its own guard code.
	injected bool
}

// Injected reports whether this instruction was created by the
// rewriter rather than present in the source module.
func (in *Instruction) Injected() bool { return in.injected }

// MarkInjected flags in as rewriter-owned.
func (in *Instruction) MarkInjected() { in.injected = true }

// BasicBlock is a label followed by a straight-line instruction list
// ending in a branch, conditional branch, or return.
type BasicBlock struct {
	Label        ID
	Instructions []*Instruction
}

// Terminator returns the block's final instruction, or nil if the
// block is empty (only valid transiently, mid-construction).
func (b *BasicBlock) Terminator() *Instruction {
	if len(b.Instructions) == 0 {
		return nil
	}
	return b.Instructions[len(b.Instructions)-1]
}

// Function is a sequence of basic blocks. The first block is the
// entry block.
type Function struct {
	ResultID ID
	Name     string
	Blocks   []*BasicBlock

	// ReturnTypeID is the function's declared return type, 0 for void.
	// A pass that injects an early return (loop termination) needs this
	// to know whether to emit OpReturn or OpReturnValue.
	ReturnTypeID ID
}

// Global is a module-scope OpVariable, OpCapability, OpExtension,
// OpExtInstImport, or type/constant declaration.
type Global struct {
	Instr *Instruction
}

// Decoration is an OpDecorate/OpMemberDecorate applied to a target ID.
type Decoration struct {
	Target Opcode // OpDecorate or OpMemberDecorate
	ID     ID
	Member uint32 // only meaningful for OpMemberDecorate
	Kind   uint32 // SpvDecoration* value
	Values []uint32
}

// Module is the full unit the rewriter transforms: one shader stage's
// worth of types, globals, decorations, and functions.
type Module struct {
	Capabilities []string
	Extensions   []string
	ExtInstSets  map[string]ID

	Globals     []*Global
	Decorations []*Decoration
	Functions   []*Function

	nextID ID
}

// NewModule creates an empty module with its ID allocator starting
// just above startID (the source module's highest used ID, so newly
// minted IDs never collide with it).
func NewModule(startID ID) *Module {
	return &Module{
		ExtInstSets: make(map[string]ID),
		nextID:      startID + 1,
	}
}

// TakeNextID allocates and returns a fresh, module-unique ID.
func (m *Module) TakeNextID() ID {
	id := m.nextID
	m.nextID++
	return id
}

// AddCapability records cap if it is not already present.
func (m *Module) AddCapability(cap string) {
	for _, c := range m.Capabilities {
		if c == cap {
			return
		}
	}
	m.Capabilities = append(m.Capabilities, cap)
}

// AddExtension records ext if it is not already present.
func (m *Module) AddExtension(ext string) {
	for _, e := range m.Extensions {
		if e == ext {
			return
		}
	}
	m.Extensions = append(m.Extensions, ext)
}

// ExtInstSet returns the ID bound to the named extended-instruction
// set (e.g. "GLSL.std.450"), importing it if this is the first
// request.
func (m *Module) ExtInstSet(name string) ID {
	if id, ok := m.ExtInstSets[name]; ok {
		return id
	}
	id := m.TakeNextID()
	m.ExtInstSets[name] = id
	return id
}

// AddGlobal appends a global declaration.
func (m *Module) AddGlobal(instr *Instruction) {
	m.Globals = append(m.Globals, &Global{Instr: instr})
}

// AddDecoration appends a decoration.
func (m *Module) AddDecoration(d *Decoration) {
	m.Decorations = append(m.Decorations, d)
}

// ReplaceAllUses rewrites every operand across every function and
// global referencing oldID to refer to newID instead. Used when the
// rewriter replaces an existing push-constant variable with the
// merged one.
func (m *Module) ReplaceAllUses(oldID, newID ID) {
	replace := func(ops []Operand) {
		for i := range ops {
			if ops[i].IsID && ops[i].ID == oldID {
				ops[i].ID = newID
			}
		}
	}
	for _, fn := range m.Functions {
		for _, b := range fn.Blocks {
			for _, in := range b.Instructions {
				if in.TypeID == oldID {
					in.TypeID = newID
				}
				replace(in.Operands)
			}
		}
	}
	for _, g := range m.Globals {
		replace(g.Instr.Operands)
	}
}

// Clone deep-copies m: every instruction, block, function, global and
// decoration is a distinct pointer from the source, so instrumenting
// the clone never mutates m, and an unmodified block's identity
// comparisons against the source's instructions only ever hold within
// one copy. nextID carries over so IDs minted into the clone never
// collide with m's.
//
// This is hand-rolled rather than routed through jinzhu/copier (used
// elsewhere in this repository for descriptor deep copies) because
// Module's ID allocator is an unexported field reflection-based
// copying cannot see.
func (m *Module) Clone() *Module {
	out := &Module{
		Capabilities: append([]string(nil), m.Capabilities...),
		Extensions:   append([]string(nil), m.Extensions...),
		ExtInstSets:  make(map[string]ID, len(m.ExtInstSets)),
		nextID:       m.nextID,
	}
	for k, v := range m.ExtInstSets {
		out.ExtInstSets[k] = v
	}

	cloneInstr := func(in *Instruction) *Instruction {
		c := *in
		c.Operands = append([]Operand(nil), in.Operands...)
		return &c
	}

	for _, g := range m.Globals {
		out.Globals = append(out.Globals, &Global{Instr: cloneInstr(g.Instr)})
	}
	for _, d := range m.Decorations {
		c := *d
		c.Values = append([]uint32(nil), d.Values...)
		out.Decorations = append(out.Decorations, &c)
	}
	for _, fn := range m.Functions {
		cf := &Function{ResultID: fn.ResultID, Name: fn.Name, ReturnTypeID: fn.ReturnTypeID}
		for _, b := range fn.Blocks {
			cb := &BasicBlock{Label: b.Label}
			for _, in := range b.Instructions {
				cb.Instructions = append(cb.Instructions, cloneInstr(in))
			}
			cf.Blocks = append(cf.Blocks, cb)
		}
		out.Functions = append(out.Functions, cf)
	}

	return out
}
