// Package wasmtest assembles small module binaries for tests.
package wasmtest

import (
	"maps"
	"slices"

	"github.com/wippyai/wasm2ir/internal/binary"
	"github.com/wippyai/wasm2ir/wasm"
)

// Builder accumulates module definitions. Imports must be added before
// functions so returned function indices stay stable.
type Builder struct {
	types   []wasm.FuncType
	imports []wasm.Import
	funcs   []body
	table   *wasm.Limits
	memory  *wasm.Limits
	globals []wasm.Global
	exports []wasm.Export
	elems   []wasm.ElementSegment
	data    []wasm.DataSegment
	names   map[uint32]string
	customs []custom
	start   *uint32
}

type body struct {
	typeIdx uint32
	locals  []wasm.ValType
	code    []wasm.Instruction
}

type custom struct {
	name    string
	payload []byte
}

// New returns an empty builder.
func New() *Builder {
	return &Builder{names: make(map[uint32]string)}
}

// Type adds a function type and returns its index. Equal types are shared.
func (b *Builder) Type(params, results []wasm.ValType) uint32 {
	ft := wasm.FuncType{Params: params, Results: results}
	for i, t := range b.types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	b.types = append(b.types, ft)
	return uint32(len(b.types) - 1)
}

// ImportFunc adds a function import and returns its function index.
func (b *Builder) ImportFunc(module, name string, typeIdx uint32) uint32 {
	n := b.numImportedFuncs()
	b.imports = append(b.imports, wasm.Import{Module: module, Name: name, Kind: wasm.KindFunc, TypeIdx: typeIdx})
	return uint32(n)
}

// ImportMemory adds a memory import with the given minimum page count.
func (b *Builder) ImportMemory(module, name string, min uint32) {
	b.imports = append(b.imports, wasm.Import{Module: module, Name: name, Kind: wasm.KindMemory, Limits: wasm.Limits{Min: min}})
}

// ImportGlobal adds an immutable global import.
func (b *Builder) ImportGlobal(module, name string, t wasm.ValType) {
	b.imports = append(b.imports, wasm.Import{Module: module, Name: name, Kind: wasm.KindGlobal, Global: &wasm.GlobalType{ValType: t}})
}

// Func adds a function body and returns its function index. A trailing
// end is appended to code.
func (b *Builder) Func(typeIdx uint32, locals []wasm.ValType, code ...wasm.Instruction) uint32 {
	b.funcs = append(b.funcs, body{typeIdx: typeIdx, locals: locals, code: code})
	return uint32(b.numImportedFuncs() + len(b.funcs) - 1)
}

// Export exports a function under name.
func (b *Builder) Export(name string, funcIdx uint32) {
	b.exports = append(b.exports, wasm.Export{Name: name, Kind: wasm.KindFunc, Index: funcIdx})
}

// ExportKind exports any definition under name.
func (b *Builder) ExportKind(name string, kind byte, idx uint32) {
	b.exports = append(b.exports, wasm.Export{Name: name, Kind: kind, Index: idx})
}

// Memory declares the module memory. An optional max is encoded when given.
func (b *Builder) Memory(min uint32, max ...uint32) {
	l := wasm.Limits{Min: min}
	if len(max) > 0 {
		l.Max, l.HasMax = max[0], true
	}
	b.memory = &l
}

// Table declares the funcref table.
func (b *Builder) Table(min uint32) {
	b.table = &wasm.Limits{Min: min}
}

// Global adds a global with a constant initializer and returns its index.
func (b *Builder) Global(t wasm.ValType, mutable bool, bits uint64) uint32 {
	b.globals = append(b.globals, wasm.Global{
		Type: wasm.GlobalType{ValType: t, Mutable: mutable},
		Init: wasm.ConstExpr{Type: t, Bits: bits},
	})
	return uint32(len(b.globals) - 1)
}

// Elem places funcs into the table starting at offset.
func (b *Builder) Elem(offset uint32, funcs ...uint32) {
	b.elems = append(b.elems, wasm.ElementSegment{Offset: offset, Funcs: funcs})
}

// Data adds an active data segment.
func (b *Builder) Data(offset uint32, init []byte) {
	b.data = append(b.data, wasm.DataSegment{Offset: offset, Init: init})
}

// Name records a function name for the name section.
func (b *Builder) Name(funcIdx uint32, name string) {
	b.names[funcIdx] = name
}

// Custom adds a raw custom section.
func (b *Builder) Custom(name string, payload []byte) {
	b.customs = append(b.customs, custom{name: name, payload: payload})
}

// Start sets the start function.
func (b *Builder) Start(funcIdx uint32) {
	b.start = &funcIdx
}

func (b *Builder) numImportedFuncs() int {
	n := 0
	for _, imp := range b.imports {
		if imp.Kind == wasm.KindFunc {
			n++
		}
	}
	return n
}

// Bytes encodes the module.
func (b *Builder) Bytes() []byte {
	w := binary.NewWriter()
	w.WriteU32LE(wasm.Magic)
	w.WriteU32LE(wasm.Version)

	if len(b.types) > 0 {
		Section(w, wasm.SectionType, func(s *binary.Writer) {
			s.WriteU32(uint32(len(b.types)))
			for _, t := range b.types {
				s.Byte(wasm.FuncTypeForm)
				writeValTypes(s, t.Params)
				writeValTypes(s, t.Results)
			}
		})
	}

	if len(b.imports) > 0 {
		Section(w, wasm.SectionImport, func(s *binary.Writer) {
			s.WriteU32(uint32(len(b.imports)))
			for _, imp := range b.imports {
				s.WriteName(imp.Module)
				s.WriteName(imp.Name)
				s.Byte(imp.Kind)
				switch imp.Kind {
				case wasm.KindFunc:
					s.WriteU32(imp.TypeIdx)
				case wasm.KindTable:
					s.Byte(byte(wasm.ValFuncRef))
					writeLimits(s, imp.Limits)
				case wasm.KindMemory:
					writeLimits(s, imp.Limits)
				case wasm.KindGlobal:
					s.Byte(byte(imp.Global.ValType))
					s.Byte(0)
				}
			}
		})
	}

	if len(b.funcs) > 0 {
		Section(w, wasm.SectionFunction, func(s *binary.Writer) {
			s.WriteU32(uint32(len(b.funcs)))
			for _, f := range b.funcs {
				s.WriteU32(f.typeIdx)
			}
		})
	}

	if b.table != nil {
		Section(w, wasm.SectionTable, func(s *binary.Writer) {
			s.WriteU32(1)
			s.Byte(byte(wasm.ValFuncRef))
			writeLimits(s, *b.table)
		})
	}

	if b.memory != nil {
		Section(w, wasm.SectionMemory, func(s *binary.Writer) {
			s.WriteU32(1)
			writeLimits(s, *b.memory)
		})
	}

	if len(b.globals) > 0 {
		Section(w, wasm.SectionGlobal, func(s *binary.Writer) {
			s.WriteU32(uint32(len(b.globals)))
			for _, g := range b.globals {
				s.Byte(byte(g.Type.ValType))
				if g.Type.Mutable {
					s.Byte(1)
				} else {
					s.Byte(0)
				}
				writeConst(s, g.Init)
			}
		})
	}

	if len(b.exports) > 0 {
		Section(w, wasm.SectionExport, func(s *binary.Writer) {
			s.WriteU32(uint32(len(b.exports)))
			for _, e := range b.exports {
				s.WriteName(e.Name)
				s.Byte(e.Kind)
				s.WriteU32(e.Index)
			}
		})
	}

	if b.start != nil {
		Section(w, wasm.SectionStart, func(s *binary.Writer) {
			s.WriteU32(*b.start)
		})
	}

	if len(b.elems) > 0 {
		Section(w, wasm.SectionElement, func(s *binary.Writer) {
			s.WriteU32(uint32(len(b.elems)))
			for _, e := range b.elems {
				s.WriteU32(0)
				writeConst(s, wasm.ConstExpr{Type: wasm.ValI32, Bits: uint64(e.Offset)})
				s.WriteU32(uint32(len(e.Funcs)))
				for _, f := range e.Funcs {
					s.WriteU32(f)
				}
			}
		})
	}

	if len(b.funcs) > 0 {
		Section(w, wasm.SectionCode, func(s *binary.Writer) {
			s.WriteU32(uint32(len(b.funcs)))
			for _, f := range b.funcs {
				fb := binary.NewWriter()
				writeLocals(fb, f.locals)
				for _, instr := range f.code {
					wasm.EncodeInstruction(fb, instr)
				}
				fb.Byte(wasm.OpEnd)
				s.WriteU32(uint32(fb.Len()))
				s.WriteBytes(fb.Bytes())
			}
		})
	}

	if len(b.data) > 0 {
		Section(w, wasm.SectionData, func(s *binary.Writer) {
			s.WriteU32(uint32(len(b.data)))
			for _, d := range b.data {
				s.WriteU32(0)
				writeConst(s, wasm.ConstExpr{Type: wasm.ValI32, Bits: uint64(d.Offset)})
				s.WriteU32(uint32(len(d.Init)))
				s.WriteBytes(d.Init)
			}
		})
	}

	if len(b.names) > 0 {
		Section(w, wasm.SectionCustom, func(s *binary.Writer) {
			s.WriteName("name")
			sub := binary.NewWriter()
			sub.WriteU32(uint32(len(b.names)))
			for _, idx := range slices.Sorted(maps.Keys(b.names)) {
				sub.WriteU32(idx)
				sub.WriteName(b.names[idx])
			}
			s.Byte(1)
			s.WriteU32(uint32(sub.Len()))
			s.WriteBytes(sub.Bytes())
		})
	}

	for _, c := range b.customs {
		Section(w, wasm.SectionCustom, func(s *binary.Writer) {
			s.WriteName(c.name)
			s.WriteBytes(c.payload)
		})
	}

	return w.Bytes()
}

// Section writes a section with a length prefix computed from fill.
func Section(w *binary.Writer, id byte, fill func(s *binary.Writer)) {
	s := binary.NewWriter()
	fill(s)
	w.Byte(id)
	w.WriteU32(uint32(s.Len()))
	w.WriteBytes(s.Bytes())
}

// Header returns the eight byte module header.
func Header() []byte {
	w := binary.NewWriter()
	w.WriteU32LE(wasm.Magic)
	w.WriteU32LE(wasm.Version)
	return w.Bytes()
}

func writeValTypes(w *binary.Writer, types []wasm.ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func writeLimits(w *binary.Writer, l wasm.Limits) {
	if l.HasMax {
		w.Byte(1)
		w.WriteU32(l.Min)
		w.WriteU32(l.Max)
		return
	}
	w.Byte(0)
	w.WriteU32(l.Min)
}

func writeConst(w *binary.Writer, c wasm.ConstExpr) {
	switch c.Type {
	case wasm.ValI32:
		w.Byte(wasm.OpI32Const)
		w.WriteS32(int32(c.Bits))
	case wasm.ValI64:
		w.Byte(wasm.OpI64Const)
		w.WriteS64(int64(c.Bits))
	case wasm.ValF32:
		w.Byte(wasm.OpF32Const)
		w.WriteU32LE(uint32(c.Bits))
	case wasm.ValF64:
		w.Byte(wasm.OpF64Const)
		w.WriteU64LE(c.Bits)
	}
	w.Byte(wasm.OpEnd)
}

// writeLocals run-length encodes local declarations.
func writeLocals(w *binary.Writer, locals []wasm.ValType) {
	type group struct {
		n uint32
		t wasm.ValType
	}
	var groups []group
	for _, t := range locals {
		if len(groups) > 0 && groups[len(groups)-1].t == t {
			groups[len(groups)-1].n++
			continue
		}
		groups = append(groups, group{n: 1, t: t})
	}
	w.WriteU32(uint32(len(groups)))
	for _, g := range groups {
		w.WriteU32(g.n)
		w.Byte(byte(g.t))
	}
}
