package il

import (
	"fmt"
	"strings"
)

// Type is an il value type.
type Type uint8

const (
	Void Type = iota
	I32
	I64
	F32
	F64
)

func (t Type) String() string {
	switch t {
	case Void:
		return "void"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Signature is a function type with at most one result.
type Signature struct {
	Params []Type
	Result Type
}

// Equal reports structural equality.
func (s Signature) Equal(o Signature) bool {
	if s.Result != o.Result || len(s.Params) != len(o.Params) {
		return false
	}
	for i := range s.Params {
		if s.Params[i] != o.Params[i] {
			return false
		}
	}
	return true
}

func (s Signature) String() string {
	parts := make([]string, len(s.Params))
	for i, p := range s.Params {
		parts[i] = p.String()
	}
	return "(" + strings.Join(parts, ", ") + ") " + s.Result.String()
}

// FunctionKind distinguishes translated bodies from import placeholders.
type FunctionKind uint8

const (
	// KindDefined is a translated module function.
	KindDefined FunctionKind = iota
	// KindHostThunk forwards its arguments to a host function.
	KindHostThunk
	// KindStub traps with "not implemented" when called.
	KindStub
)

func (k FunctionKind) String() string {
	switch k {
	case KindDefined:
		return "defined"
	case KindHostThunk:
		return "host"
	case KindStub:
		return "stub"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Function is one entry of the output function space.
type Function struct {
	Name      string
	Synthetic bool
	Kind      FunctionKind
	Type      uint32 // index into Module.Types
	Params    []Type
	Result    Type
	Locals    []Type
	Labels    uint32
	Code      []Instr
	Host      uint32 // index into Module.Hosts for KindHostThunk
}

// Signature returns the function's signature.
func (f *Function) Signature() Signature {
	return Signature{Params: f.Params, Result: f.Result}
}

// Export maps a public name to a function index.
type Export struct {
	Name string
	Func uint32
}

// Field is a static field backing one global.
type Field struct {
	Name    string
	Type    Type
	Mutable bool
}

// HostRef names a host function bound at instantiation.
type HostRef struct {
	Module       string
	Name         string
	Params       []Type
	Result       Type
	NeedsContext bool
}

// Key returns "module.name".
func (h HostRef) Key() string {
	return h.Module + "." + h.Name
}

// Memory describes the linear memory allocated by the initializer.
type Memory struct {
	Pages    uint32
	Max      uint32
	HasMax   bool
	Present  bool
	Imported bool
}

// Table describes the indirect-call table.
type Table struct {
	Size    uint32
	Present bool
}

// Module is the translated program.
type Module struct {
	Types     []Signature
	Functions []*Function
	Exports   []Export
	Globals   []Field
	Data      [][]byte
	Hosts     []HostRef
	Strings   []string
	Init      *Function
	Memory    Memory
	Table     Table
}

// Export returns the function exported under name.
func (m *Module) Export(name string) (*Function, bool) {
	for _, e := range m.Exports {
		if e.Name == name && int(e.Func) < len(m.Functions) {
			return m.Functions[e.Func], true
		}
	}
	return nil, false
}

// Intern adds s to the string table and returns its index.
func (m *Module) Intern(s string) uint64 {
	for i, existing := range m.Strings {
		if existing == s {
			return uint64(i)
		}
	}
	m.Strings = append(m.Strings, s)
	return uint64(len(m.Strings) - 1)
}
