package wasm

import (
	"fmt"
	"strings"
)

// Module is the catalog built while scanning a module's sections.
//
// Code bodies and the element section are not decoded during the first
// pass. Their byte ranges are recorded as bookmarks so the translator can
// seek back to them once every function handle exists.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // type index per declared function
	Table    *TableType
	Memory   *Limits
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Data     []DataSegment
	Names    map[uint32]string
	Bodies   []Bookmark
	Element  *Bookmark
	Sections []Bookmark

	// MemoryImported is set when Memory came from an import.
	MemoryImported bool
	// TableImported is set when Table came from an import.
	TableImported bool

	// NameSectionErr records why a malformed name section was ignored.
	NameSectionErr error
}

// FuncType is a function signature with at most one result.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Result returns the single result type, or 0 for none.
func (f FuncType) Result() ValType {
	if len(f.Results) == 0 {
		return 0
	}
	return f.Results[0]
}

// Equal reports structural equality.
func (f FuncType) Equal(o FuncType) bool {
	if len(f.Params) != len(o.Params) || len(f.Results) != len(o.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

func (f FuncType) String() string {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = p.String()
	}
	s := "(" + strings.Join(params, ", ") + ")"
	if len(f.Results) > 0 {
		s += " -> " + f.Results[0].String()
	}
	return s
}

// ValType is a value type encoding.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValFuncRef:
		return "funcref"
	case 0:
		return "void"
	default:
		return fmt.Sprintf("valtype(0x%02x)", byte(v))
	}
}

// IsNumeric reports whether v is one of the four number types.
func (v ValType) IsNumeric() bool {
	return v == ValI32 || v == ValI64 || v == ValF32 || v == ValF64
}

// Import is an imported function, table, memory or global.
type Import struct {
	Module  string
	Name    string
	Kind    byte
	TypeIdx uint32      // KindFunc
	Limits  Limits      // KindTable, KindMemory
	Global  *GlobalType // KindGlobal
}

// Limits is a min/max pair in pages or table elements.
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
}

// TableType describes the single funcref table.
type TableType struct {
	ElemType ValType
	Limits   Limits
}

// GlobalType is the declared type of a global.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global is a module-defined global with its constant initializer.
type Global struct {
	Type GlobalType
	Init ConstExpr
}

// ConstExpr is a constant expression of the form `<type>.const v; end`.
// Bits holds the raw value: sign-extended integers, IEEE-754 bit patterns for floats.
type ConstExpr struct {
	Type ValType
	Bits uint64
}

// I32 returns the expression value as an i32.
func (c ConstExpr) I32() int32 {
	return int32(c.Bits)
}

// Export maps an external name to an index in one of the index spaces.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// DataSegment is an active segment copied into memory at instantiation.
type DataSegment struct {
	Memory uint32
	Offset uint32
	Init   []byte
}

// ElementSegment is an active segment placing functions into the table.
type ElementSegment struct {
	Table  uint32
	Offset uint32
	Funcs  []uint32
}

// Bookmark is a byte range in the module binary.
type Bookmark struct {
	ID     byte
	Offset int
	Size   int
}

// End returns the offset one past the range.
func (b Bookmark) End() int {
	return b.Offset + b.Size
}

// FunctionDecl describes one entry of the function index space.
type FunctionDecl struct {
	Index   uint32
	TypeIdx uint32
	Name    string
	// Synthetic is set when Name is the generated Func<N> placeholder.
	Synthetic bool
	// Import is the import entry for imported functions, nil otherwise.
	Import *Import
}

// NumImportedFuncs returns the number of imported functions.
func (m *Module) NumImportedFuncs() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindFunc {
			n++
		}
	}
	return n
}

// NumImportedGlobals returns the number of imported globals.
func (m *Module) NumImportedGlobals() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindGlobal {
			n++
		}
	}
	return n
}

// NumFuncs returns the size of the function index space.
func (m *Module) NumFuncs() int {
	return m.NumImportedFuncs() + len(m.Funcs)
}

// FuncTypeIdx returns the type index of any function in the index space.
func (m *Module) FuncTypeIdx(funcIdx uint32) (uint32, bool) {
	for _, imp := range m.Imports {
		if imp.Kind != KindFunc {
			continue
		}
		if funcIdx == 0 {
			return imp.TypeIdx, true
		}
		funcIdx--
	}
	if int(funcIdx) < len(m.Funcs) {
		return m.Funcs[funcIdx], true
	}
	return 0, false
}

// FuncType returns the signature of any function in the index space.
func (m *Module) FuncType(funcIdx uint32) *FuncType {
	typeIdx, ok := m.FuncTypeIdx(funcIdx)
	if !ok || int(typeIdx) >= len(m.Types) {
		return nil
	}
	return &m.Types[typeIdx]
}

// Functions returns the declarations of the whole function index space,
// imports first, with public names resolved.
//
// Name precedence: name section, then the first export naming the function,
// then Func<N>.
func (m *Module) Functions() []FunctionDecl {
	exports := make(map[uint32]string)
	for _, e := range m.Exports {
		if e.Kind != KindFunc {
			continue
		}
		if _, seen := exports[e.Index]; !seen {
			exports[e.Index] = e.Name
		}
	}

	decls := make([]FunctionDecl, 0, m.NumFuncs())
	for i := range m.Imports {
		imp := &m.Imports[i]
		if imp.Kind != KindFunc {
			continue
		}
		decls = append(decls, FunctionDecl{TypeIdx: imp.TypeIdx, Import: imp})
	}
	for _, typeIdx := range m.Funcs {
		decls = append(decls, FunctionDecl{TypeIdx: typeIdx})
	}

	for i := range decls {
		idx := uint32(i)
		decls[i].Index = idx
		switch {
		case m.Names[idx] != "":
			decls[i].Name = m.Names[idx]
		case exports[idx] != "":
			decls[i].Name = exports[idx]
		default:
			decls[i].Name = fmt.Sprintf("Func%d", idx)
			decls[i].Synthetic = true
		}
	}
	return decls
}

// ExportedFunc returns the function index exported under name.
func (m *Module) ExportedFunc(name string) (uint32, bool) {
	for _, e := range m.Exports {
		if e.Kind == KindFunc && e.Name == name {
			return e.Index, true
		}
	}
	return 0, false
}
