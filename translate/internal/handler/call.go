package handler

import (
	stderrors "errors"
	"fmt"

	"github.com/wippyai/wasm2ir/errors"
	"github.com/wippyai/wasm2ir/il"
	"github.com/wippyai/wasm2ir/wasm"
)

// handleCall emits a direct call.
//
// Defined functions and stubs are called with Call. Host-bound imports use
// CallHost; when the host function takes the context handle, the
// arguments are spilled in reverse so LdCtx can be placed beneath them.
func handleCall(ctx *Context, instr wasm.Instruction) error {
	idx := instr.Imm.(wasm.CallImm).FuncIdx
	callee, err := ctx.Resolver.Callee(idx)
	if err != nil {
		var e *errors.Error
		if stderrors.As(err, &e) && len(e.Path) == 0 {
			return e.WithPath(ctx.path()...)
		}
		return err
	}
	ft := callee.Type
	if err := ctx.PopArgs(ft.Params); err != nil {
		return err
	}

	switch {
	case callee.Host < 0:
		ctx.Emit.Call(callee.Func)
	case callee.NeedsContext:
		ctx.withLeading(ft.Params, func() {
			ctx.Emit.Op(il.OpLdCtx, il.Void)
		})
		ctx.Emit.CallHost(uint32(callee.Host))
	default:
		ctx.Emit.CallHost(uint32(callee.Host))
	}

	if r := ft.Result(); r != 0 {
		ctx.Push(r)
	}
	return nil
}

// withLeading spills the call arguments on top of the il stack, runs emit
// to push leading operands, then reloads the arguments in order.
func (c *Context) withLeading(params []wasm.ValType, emit func()) {
	tmps := make([]uint32, len(params))
	for i := len(params) - 1; i >= 0; i-- {
		tmps[i] = c.Spill(params[i])
	}
	emit()
	for i, t := range params {
		c.Reload(t, tmps[i])
	}
}

// handleCallIndirect emits a typed call through the function table:
//
//	ldtab; ldloc idx; ldelem; castfn type; ldloc args...; calli type
//
// Castfn traps when the slot is empty or holds a function of another
// signature. The site is logged so the populated table can be checked
// once elements are known.
func handleCallIndirect(ctx *Context, instr wasm.Instruction) error {
	imm := instr.Imm.(wasm.CallIndirectImm)
	if imm.TableIdx != 0 {
		return ctx.unsupported(fmt.Sprintf("table index %d", imm.TableIdx))
	}
	if ctx.Module.Table == nil {
		return ctx.fail(errors.KindInvalidData, "call_indirect in module without table")
	}
	if int(imm.TypeIdx) >= len(ctx.Module.Types) {
		return ctx.outOfBounds("type", int(imm.TypeIdx), len(ctx.Module.Types))
	}
	ft := ctx.Module.Types[imm.TypeIdx]

	if err := ctx.PopExpect(wasm.ValI32); err != nil {
		return err
	}
	if err := ctx.PopArgs(ft.Params); err != nil {
		return err
	}

	sel := ctx.Spill(wasm.ValI32)
	ctx.withLeading(ft.Params, func() {
		ctx.Emit.Op(il.OpLdTab, il.Void)
		ctx.Reload(wasm.ValI32, sel)
		ctx.Emit.Op(il.OpLdelem, il.Void)
		ctx.Emit.Castfn(imm.TypeIdx)
	})
	ctx.Emit.Calli(imm.TypeIdx)

	ctx.Sites = append(ctx.Sites, IndirectSite{Func: ctx.FuncIdx, TypeIdx: imm.TypeIdx, Pos: instr.Pos})
	if r := ft.Result(); r != 0 {
		ctx.Push(r)
	}
	return nil
}

// RegisterCallHandlers registers call and call_indirect.
func RegisterCallHandlers(r *Registry) {
	r.RegisterFunc(wasm.OpCall, handleCall, "call")
	r.RegisterFunc(wasm.OpCallIndirect, handleCallIndirect, "call_indirect")
}
