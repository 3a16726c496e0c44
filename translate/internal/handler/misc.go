package handler

import (
	"github.com/wippyai/wasm2ir/il"
	"github.com/wippyai/wasm2ir/wasm"
)

// RegisterMiscHandlers registers the 0xFC prefix: saturating truncation
// and the bulk memory operations that work on active memory only.
// memory.init and data.drop need passive segments and stay unregistered.
func RegisterMiscHandlers(r *Registry) {
	i32, i64, f32, f64 := wasm.ValI32, wasm.ValI64, wasm.ValF32, wasm.ValF64

	m := NewMiscHandler()
	sat := []struct {
		sub      uint32
		fn       il.Fn
		from, to wasm.ValType
	}{
		{wasm.MiscI32TruncSatF32S, il.FnTruncSatS, f32, i32},
		{wasm.MiscI32TruncSatF32U, il.FnTruncSatU, f32, i32},
		{wasm.MiscI32TruncSatF64S, il.FnTruncSatS, f64, i32},
		{wasm.MiscI32TruncSatF64U, il.FnTruncSatU, f64, i32},
		{wasm.MiscI64TruncSatF32S, il.FnTruncSatS, f32, i64},
		{wasm.MiscI64TruncSatF32U, il.FnTruncSatU, f32, i64},
		{wasm.MiscI64TruncSatF64S, il.FnTruncSatS, f64, i64},
		{wasm.MiscI64TruncSatF64U, il.FnTruncSatU, f64, i64},
	}
	for _, s := range sat {
		m.Register(s.sub, ConvIntrinsicHandler{Fn: s.fn, From: s.from, To: s.to})
	}
	m.Register(wasm.MiscMemoryCopy, Func(handleMemoryCopy))
	m.Register(wasm.MiscMemoryFill, Func(handleMemoryFill))

	r.Register(wasm.OpPrefixMisc, m, "misc")
}
