package handler

import (
	"github.com/wippyai/wasm2ir/il"
	"github.com/wippyai/wasm2ir/wasm"
)

// Locals maps WASM local indices onto il arguments and locals, and hands
// out scratch locals for spills.
//
// WASM indices below len(params) are il arguments; the rest are il locals
// starting at zero. Scratch locals are appended after the declared ones and
// recycled per type once released.
type Locals struct {
	params   []wasm.ValType
	types    []wasm.ValType // declared locals followed by scratch
	declared int
	free     map[wasm.ValType][]uint32
}

// NewLocals creates a Locals manager for a body.
func NewLocals(params, declared []wasm.ValType) *Locals {
	types := make([]wasm.ValType, len(declared))
	copy(types, declared)
	return &Locals{
		params:   params,
		types:    types,
		declared: len(declared),
		free:     make(map[wasm.ValType][]uint32),
	}
}

// Lookup resolves a WASM local index. Scratch locals are not addressable
// from WASM. isArg reports whether slot is an il
// argument index rather than an il local index.
func (l *Locals) Lookup(idx uint32) (t wasm.ValType, slot uint32, isArg, ok bool) {
	if int(idx) < len(l.params) {
		return l.params[idx], idx, true, true
	}
	local := idx - uint32(len(l.params))
	if int(local) < l.declared {
		return l.types[local], local, false, true
	}
	return 0, 0, false, false
}

// Count returns the size of the WASM local index space.
func (l *Locals) Count() int {
	return len(l.params) + l.declared
}

// Alloc returns a scratch il local of type t.
func (l *Locals) Alloc(t wasm.ValType) uint32 {
	if free := l.free[t]; len(free) > 0 {
		idx := free[len(free)-1]
		l.free[t] = free[:len(free)-1]
		return idx
	}
	l.types = append(l.types, t)
	return uint32(len(l.types) - 1)
}

// Release returns a scratch local for reuse.
func (l *Locals) Release(idx uint32) {
	t := l.types[idx]
	l.free[t] = append(l.free[t], idx)
}

// ILTypes returns the il local declarations.
func (l *Locals) ILTypes() []il.Type {
	if len(l.types) == 0 {
		return nil
	}
	out := make([]il.Type, len(l.types))
	for i, t := range l.types {
		out[i] = ILType(t)
	}
	return out
}

// ILType maps a WASM value type to its il type. Zero maps to il.Void.
func ILType(t wasm.ValType) il.Type {
	switch t {
	case wasm.ValI32:
		return il.I32
	case wasm.ValI64:
		return il.I64
	case wasm.ValF32:
		return il.F32
	case wasm.ValF64:
		return il.F64
	default:
		return il.Void
	}
}

// ILTypes maps a list of WASM value types.
func ILTypes(types []wasm.ValType) []il.Type {
	if len(types) == 0 {
		return nil
	}
	out := make([]il.Type, len(types))
	for i, t := range types {
		out[i] = ILType(t)
	}
	return out
}

// Signature converts a WASM function type.
func Signature(ft wasm.FuncType) il.Signature {
	return il.Signature{Params: ILTypes(ft.Params), Result: ILType(ft.Result())}
}
