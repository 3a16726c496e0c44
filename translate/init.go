package translate

import (
	"maps"
	"slices"

	"github.com/wippyai/wasm2ir/il"
	"github.com/wippyai/wasm2ir/translate/internal/handler"
	"github.com/wippyai/wasm2ir/wasm"
)

// buildInit emits the module initializer:
//
//	const.i64 bytes; newarr; stmem              memory
//	const; stsfld g                             per global
//	const.i32 offset; initmem seg               per data segment
//	const.i32 size; newtab; sttab               table
//	ldtab; const.i32 slot; ldftn f; stelem      per element entry
//	ret
func (t *translator) buildInit() *il.Function {
	b := il.NewBuilder()

	if t.out.Memory.Present {
		b.Const(il.I64, uint64(t.out.Memory.Pages)*wasm.PageSize)
		b.Op(il.OpNewarr, il.Void).Op(il.OpStMem, il.Void)
	}

	for i, g := range t.src.Globals {
		typ := handler.ILType(g.Type.ValType)
		b.Const(typ, g.Init.Bits).Stsfld(typ, uint32(i))
	}

	for i, seg := range t.src.Data {
		b.Const(il.I32, uint64(seg.Offset)).OpArg(il.OpInitMem, il.Void, uint64(i))
	}

	if t.out.Table.Present {
		b.Const(il.I32, uint64(t.out.Table.Size))
		b.Op(il.OpNewtab, il.Void).Op(il.OpStTab, il.Void)
		for _, slot := range slices.Sorted(maps.Keys(t.slots)) {
			b.Op(il.OpLdTab, il.Void).Const(il.I32, uint64(slot))
			b.Ldftn(t.slots[slot]).Op(il.OpStelem, il.Void)
		}
	}

	b.Ret(il.Void)
	return &il.Function{
		Name:      InitName,
		Synthetic: true,
		Kind:      il.KindDefined,
		Code:      b.Code(),
		Labels:    b.Labels(),
	}
}
