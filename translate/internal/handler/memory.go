package handler

import (
	"fmt"

	"github.com/wippyai/wasm2ir/errors"
	"github.com/wippyai/wasm2ir/il"
	"github.com/wippyai/wasm2ir/wasm"
)

// maxPages bounds memory.grow; a larger request yields -1.
const maxPages = wasm.MaxPages

// pageShift converts between bytes and pages.
const pageShift = 16

func (c *Context) requireMemory() error {
	if c.Module.Memory == nil {
		return c.fail(errors.KindInvalidData, "memory instruction in module without memory")
	}
	return nil
}

// effectiveAddress adds a static offset to the i32 address on top of the
// stack. The sum is computed in i64 so it cannot wrap.
func (c *Context) effectiveAddress(offset uint32) {
	if offset == 0 {
		return
	}
	c.Emit.Conv(il.ConvExtendU, il.I32, il.I64)
	c.Emit.Const(il.I64, uint64(offset))
	c.Emit.Op(il.OpAdd, il.I64)
}

// LoadHandler handles the load family.
//
// Op loads a value of the raw type (i32 for every narrow form) from the
// module memory at the effective address. Narrow loads that produce an i64
// are widened afterwards with Extend.
//
// Emitted code pattern for i64.load8_u offset=4:
//
//	conv.extend_u i32->i64
//	const.i64 0x4
//	add.i64
//	ldind.u1
//	conv.extend_u i32->i64
type LoadHandler struct {
	Op     il.Op
	Type   wasm.ValType
	Extend il.Conv
	Narrow bool
}

func (h LoadHandler) Handle(ctx *Context, instr wasm.Instruction) error {
	if err := ctx.requireMemory(); err != nil {
		return err
	}
	if err := ctx.PopExpect(wasm.ValI32); err != nil {
		return err
	}
	ctx.effectiveAddress(instr.Imm.(wasm.MemoryImm).Offset)

	raw := ILType(h.Type)
	if h.Narrow {
		raw = il.I32
	}
	ctx.Emit.Op(h.Op, raw)
	if h.Narrow && h.Type == wasm.ValI64 {
		ctx.Emit.Conv(h.Extend, il.I32, il.I64)
	}
	ctx.Push(h.Type)
	return nil
}

// StoreHandler handles the store family.
//
// Narrow stores of an i64 wrap the value to i32 first. With a non-zero
// offset the value is spilled so the address arithmetic can run on the
// address below it.
type StoreHandler struct {
	Op     il.Op
	Type   wasm.ValType
	Narrow bool
}

func (h StoreHandler) Handle(ctx *Context, instr wasm.Instruction) error {
	if err := ctx.requireMemory(); err != nil {
		return err
	}
	if err := ctx.PopArgs([]wasm.ValType{wasm.ValI32, h.Type}); err != nil {
		return err
	}

	stored := h.Type
	if h.Narrow && h.Type == wasm.ValI64 {
		ctx.Emit.Conv(il.ConvWrap, il.I64, il.I32)
		stored = wasm.ValI32
	}
	if offset := instr.Imm.(wasm.MemoryImm).Offset; offset != 0 {
		tmp := ctx.Spill(stored)
		ctx.effectiveAddress(offset)
		ctx.Reload(stored, tmp)
	}
	ctx.Emit.Op(h.Op, ILType(stored))
	return nil
}

func (c *Context) checkMemIdx(instr wasm.Instruction) error {
	if imm, ok := instr.Imm.(wasm.MemoryIdxImm); ok && imm.MemIdx != 0 {
		return c.unsupported(fmt.Sprintf("memory index %d", imm.MemIdx))
	}
	return nil
}

// handleMemorySize pushes the current page count:
//
//	ldmem; ldlen; const.i64 16; shr.un.i64; conv.wrap
func handleMemorySize(ctx *Context, instr wasm.Instruction) error {
	if err := ctx.requireMemory(); err != nil {
		return err
	}
	if err := ctx.checkMemIdx(instr); err != nil {
		return err
	}
	emitPages(ctx)
	ctx.Emit.Conv(il.ConvWrap, il.I64, il.I32)
	ctx.Push(wasm.ValI32)
	return nil
}

func emitPages(ctx *Context) {
	ctx.Emit.Op(il.OpLdMem, il.Void).Op(il.OpLdlen, il.I64)
	ctx.Emit.Const(il.I64, pageShift).Op(il.OpShrUn, il.I64)
}

// handleMemoryGrow replaces the memory with a larger copy and pushes the
// old page count, or -1 when the new size exceeds the addressable limit.
// The old buffer is never reused.
func handleMemoryGrow(ctx *Context, instr wasm.Instruction) error {
	if err := ctx.requireMemory(); err != nil {
		return err
	}
	if err := ctx.checkMemIdx(instr); err != nil {
		return err
	}
	if err := ctx.PopExpect(wasm.ValI32); err != nil {
		return err
	}

	delta := ctx.Locals.Alloc(wasm.ValI64)
	old := ctx.Locals.Alloc(wasm.ValI64)
	pages := ctx.Locals.Alloc(wasm.ValI64)
	grow := ctx.Emit.NewLabel()
	done := ctx.Emit.NewLabel()

	e := ctx.Emit
	e.Conv(il.ConvExtendU, il.I32, il.I64).Stloc(il.I64, delta)
	emitPages(ctx)
	e.Stloc(il.I64, old)
	e.Ldloc(il.I64, old).Ldloc(il.I64, delta).Op(il.OpAdd, il.I64).Stloc(il.I64, pages)

	e.Ldloc(il.I64, pages).Const(il.I64, maxPages).Op(il.OpCgtUn, il.I64).Brfalse(grow)
	e.Const(il.I32, 0xFFFFFFFF).Br(done)

	e.Mark(grow)
	e.Ldloc(il.I64, pages).Const(il.I64, pageShift).Op(il.OpShl, il.I64)
	e.Op(il.OpNewarr, il.Void)
	e.Op(il.OpLdMem, il.Void).Op(il.OpCpblk, il.Void).Op(il.OpStMem, il.Void)
	e.Ldloc(il.I64, old).Conv(il.ConvWrap, il.I64, il.I32)
	e.Mark(done)

	ctx.Locals.Release(pages)
	ctx.Locals.Release(old)
	ctx.Locals.Release(delta)
	ctx.Push(wasm.ValI32)
	return nil
}

// handleMemoryCopy lowers memory.copy to the copy intrinsic, which pops
// (dst, src, n) and handles overlap.
func handleMemoryCopy(ctx *Context, instr wasm.Instruction) error {
	if err := ctx.requireMemory(); err != nil {
		return err
	}
	for _, m := range instr.Imm.(wasm.MiscImm).Operands {
		if m != 0 {
			return ctx.unsupported(fmt.Sprintf("memory index %d", m))
		}
	}
	if err := ctx.PopArgs([]wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32}); err != nil {
		return err
	}
	ctx.Emit.Intrinsic(il.FnMemCopy, il.I32)
	return nil
}

// handleMemoryFill lowers memory.fill to the fill intrinsic, which pops
// (dst, val, n).
func handleMemoryFill(ctx *Context, instr wasm.Instruction) error {
	if err := ctx.requireMemory(); err != nil {
		return err
	}
	for _, m := range instr.Imm.(wasm.MiscImm).Operands {
		if m != 0 {
			return ctx.unsupported(fmt.Sprintf("memory index %d", m))
		}
	}
	if err := ctx.PopArgs([]wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32}); err != nil {
		return err
	}
	ctx.Emit.Intrinsic(il.FnMemFill, il.I32)
	return nil
}

// RegisterMemoryHandlers registers loads, stores, memory.size and
// memory.grow.
func RegisterMemoryHandlers(r *Registry) {
	i32, i64, f32, f64 := wasm.ValI32, wasm.ValI64, wasm.ValF32, wasm.ValF64

	r.Register(wasm.OpI32Load, LoadHandler{Op: il.OpLdindI4, Type: i32}, "i32.load")
	r.Register(wasm.OpI64Load, LoadHandler{Op: il.OpLdindI8, Type: i64}, "i64.load")
	r.Register(wasm.OpF32Load, LoadHandler{Op: il.OpLdindR4, Type: f32}, "f32.load")
	r.Register(wasm.OpF64Load, LoadHandler{Op: il.OpLdindR8, Type: f64}, "f64.load")
	r.Register(wasm.OpI32Load8S, LoadHandler{Op: il.OpLdindI1, Type: i32, Narrow: true}, "i32.load8_s")
	r.Register(wasm.OpI32Load8U, LoadHandler{Op: il.OpLdindU1, Type: i32, Narrow: true}, "i32.load8_u")
	r.Register(wasm.OpI32Load16S, LoadHandler{Op: il.OpLdindI2, Type: i32, Narrow: true}, "i32.load16_s")
	r.Register(wasm.OpI32Load16U, LoadHandler{Op: il.OpLdindU2, Type: i32, Narrow: true}, "i32.load16_u")
	r.Register(wasm.OpI64Load8S, LoadHandler{Op: il.OpLdindI1, Type: i64, Narrow: true, Extend: il.ConvExtendS}, "i64.load8_s")
	r.Register(wasm.OpI64Load8U, LoadHandler{Op: il.OpLdindU1, Type: i64, Narrow: true, Extend: il.ConvExtendU}, "i64.load8_u")
	r.Register(wasm.OpI64Load16S, LoadHandler{Op: il.OpLdindI2, Type: i64, Narrow: true, Extend: il.ConvExtendS}, "i64.load16_s")
	r.Register(wasm.OpI64Load16U, LoadHandler{Op: il.OpLdindU2, Type: i64, Narrow: true, Extend: il.ConvExtendU}, "i64.load16_u")
	r.Register(wasm.OpI64Load32S, LoadHandler{Op: il.OpLdindI4, Type: i64, Narrow: true, Extend: il.ConvExtendS}, "i64.load32_s")
	r.Register(wasm.OpI64Load32U, LoadHandler{Op: il.OpLdindU4, Type: i64, Narrow: true, Extend: il.ConvExtendU}, "i64.load32_u")

	r.Register(wasm.OpI32Store, StoreHandler{Op: il.OpStindI4, Type: i32}, "i32.store")
	r.Register(wasm.OpI64Store, StoreHandler{Op: il.OpStindI8, Type: i64}, "i64.store")
	r.Register(wasm.OpF32Store, StoreHandler{Op: il.OpStindR4, Type: f32}, "f32.store")
	r.Register(wasm.OpF64Store, StoreHandler{Op: il.OpStindR8, Type: f64}, "f64.store")
	r.Register(wasm.OpI32Store8, StoreHandler{Op: il.OpStindI1, Type: i32, Narrow: true}, "i32.store8")
	r.Register(wasm.OpI32Store16, StoreHandler{Op: il.OpStindI2, Type: i32, Narrow: true}, "i32.store16")
	r.Register(wasm.OpI64Store8, StoreHandler{Op: il.OpStindI1, Type: i64, Narrow: true}, "i64.store8")
	r.Register(wasm.OpI64Store16, StoreHandler{Op: il.OpStindI2, Type: i64, Narrow: true}, "i64.store16")
	r.Register(wasm.OpI64Store32, StoreHandler{Op: il.OpStindI4, Type: i64, Narrow: true}, "i64.store32")

	r.RegisterFunc(wasm.OpMemorySize, handleMemorySize, "memory.size")
	r.RegisterFunc(wasm.OpMemoryGrow, handleMemoryGrow, "memory.grow")
}
