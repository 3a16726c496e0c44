package handler

import (
	"github.com/wippyai/wasm2ir/errors"
	"github.com/wippyai/wasm2ir/il"
	"github.com/wippyai/wasm2ir/wasm"
)

// LocalHandler handles local.get, local.set and local.tee.
//
// Parameters map to il arguments and declared locals to il locals, so a
// local access is a single Ldarg/Starg or Ldloc/Stloc. local.tee
// duplicates the value before storing it.
type LocalHandler struct {
	Opcode byte
}

func (h LocalHandler) Handle(ctx *Context, instr wasm.Instruction) error {
	idx := instr.Imm.(wasm.LocalImm).LocalIdx
	t, slot, isArg, ok := ctx.Locals.Lookup(idx)
	if !ok {
		return ctx.outOfBounds("local", int(idx), ctx.Locals.Count())
	}
	lt := ILType(t)

	if h.Opcode == wasm.OpLocalGet {
		if isArg {
			ctx.Emit.Ldarg(lt, slot)
		} else {
			ctx.Emit.Ldloc(lt, slot)
		}
		ctx.Push(t)
		return nil
	}

	if err := ctx.PopExpect(t); err != nil {
		return err
	}
	if h.Opcode == wasm.OpLocalTee {
		ctx.Emit.Dup(lt)
		ctx.Push(t)
	}
	if isArg {
		ctx.Emit.Starg(lt, slot)
	} else {
		ctx.Emit.Stloc(lt, slot)
	}
	return nil
}

// GlobalHandler handles global.get and global.set. Each global is one
// static field with the same index.
type GlobalHandler struct {
	Opcode byte
}

func (h GlobalHandler) Handle(ctx *Context, instr wasm.Instruction) error {
	idx := instr.Imm.(wasm.GlobalImm).GlobalIdx
	if int(idx) >= len(ctx.Module.Globals) {
		return ctx.outOfBounds("global", int(idx), len(ctx.Module.Globals))
	}
	g := ctx.Module.Globals[idx].Type
	t := ILType(g.ValType)

	if h.Opcode == wasm.OpGlobalGet {
		ctx.Emit.Ldsfld(t, idx)
		ctx.Push(g.ValType)
		return nil
	}
	if !g.Mutable {
		return ctx.fail(errors.KindInvalidData, "global.set on immutable global %d", idx)
	}
	if err := ctx.PopExpect(g.ValType); err != nil {
		return err
	}
	ctx.Emit.Stsfld(t, idx)
	return nil
}

// ConstHandler pushes a literal by bit pattern.
type ConstHandler struct {
	Type wasm.ValType
}

func (h ConstHandler) Handle(ctx *Context, instr wasm.Instruction) error {
	var bits uint64
	switch imm := instr.Imm.(type) {
	case wasm.I32Imm:
		bits = uint64(uint32(imm.Value))
	case wasm.I64Imm:
		bits = uint64(imm.Value)
	case wasm.F32Imm:
		bits = uint64(imm.Bits)
	case wasm.F64Imm:
		bits = imm.Bits
	}
	ctx.Emit.Const(ILType(h.Type), bits)
	ctx.Push(h.Type)
	return nil
}

func handleDrop(ctx *Context, _ wasm.Instruction) error {
	t, err := ctx.Pop()
	if err != nil {
		return err
	}
	ctx.Emit.Pop(ILType(t))
	return nil
}

// handleSelect keeps the first operand when the selector is non-zero and
// the second otherwise:
//
//	stloc c; stloc v2; ldloc c; brtrue keep; pop; ldloc v2; keep:
func handleSelect(ctx *Context, instr wasm.Instruction) error {
	if err := ctx.PopExpect(wasm.ValI32); err != nil {
		return err
	}
	t2, err := ctx.Pop()
	if err != nil {
		return err
	}
	t1, err := ctx.Pop()
	if err != nil {
		return err
	}
	if t1 != t2 {
		return ctx.typeMismatch("select operands", t1.String(), t2.String())
	}
	if imm, ok := instr.Imm.(wasm.SelectTypeImm); ok {
		if len(imm.Types) != 1 {
			return ctx.unsupported("select with multiple result types")
		}
		if imm.Types[0] != t1 {
			return ctx.typeMismatch("typed select", imm.Types[0].String(), t1.String())
		}
	}

	lt := ILType(t1)
	cond := ctx.Locals.Alloc(wasm.ValI32)
	second := ctx.Locals.Alloc(t1)
	keep := ctx.Emit.NewLabel()

	ctx.Emit.Stloc(il.I32, cond).Stloc(lt, second)
	ctx.Emit.Ldloc(il.I32, cond).Brtrue(keep)
	ctx.Emit.Pop(lt).Ldloc(lt, second)
	ctx.Emit.Mark(keep)

	ctx.Locals.Release(second)
	ctx.Locals.Release(cond)
	ctx.Push(t1)
	return nil
}

// RegisterVariableHandlers registers local, global, constant and
// parametric handlers.
func RegisterVariableHandlers(r *Registry) {
	r.Register(wasm.OpLocalGet, LocalHandler{Opcode: wasm.OpLocalGet}, "local.get")
	r.Register(wasm.OpLocalSet, LocalHandler{Opcode: wasm.OpLocalSet}, "local.set")
	r.Register(wasm.OpLocalTee, LocalHandler{Opcode: wasm.OpLocalTee}, "local.tee")
	r.Register(wasm.OpGlobalGet, GlobalHandler{Opcode: wasm.OpGlobalGet}, "global.get")
	r.Register(wasm.OpGlobalSet, GlobalHandler{Opcode: wasm.OpGlobalSet}, "global.set")

	r.Register(wasm.OpI32Const, ConstHandler{Type: wasm.ValI32}, "i32.const")
	r.Register(wasm.OpI64Const, ConstHandler{Type: wasm.ValI64}, "i64.const")
	r.Register(wasm.OpF32Const, ConstHandler{Type: wasm.ValF32}, "f32.const")
	r.Register(wasm.OpF64Const, ConstHandler{Type: wasm.ValF64}, "f64.const")

	r.RegisterFunc(wasm.OpDrop, handleDrop, "drop")
	r.RegisterBulk([]byte{wasm.OpSelect, wasm.OpSelectType}, Func(handleSelect), "select")
}
