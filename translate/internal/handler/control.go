package handler

import (
	"fmt"

	"github.com/wippyai/wasm2ir/errors"
	"github.com/wippyai/wasm2ir/il"
	"github.com/wippyai/wasm2ir/wasm"
)

// FrameKind identifies the construct that opened a control frame.
type FrameKind uint8

const (
	FrameFunction FrameKind = iota
	FrameBlock
	FrameLoop
	FrameIf
)

func (k FrameKind) String() string {
	switch k {
	case FrameFunction:
		return "function"
	case FrameBlock:
		return "block"
	case FrameLoop:
		return "loop"
	case FrameIf:
		return "if"
	default:
		return fmt.Sprintf("frame(%d)", uint8(k))
	}
}

// Frame is one open structured construct.
type Frame struct {
	Kind   FrameKind
	Result wasm.ValType // 0 when the frame yields nothing
	Height int          // stack height at entry

	End   il.Label // forward target for block, if
	Start il.Label // backward target for loop
	Else  il.Label // false branch of if

	HasElse bool
	// Unreachable is set after an unconditional transfer until the frame
	// closes or, for if, reaches else.
	Unreachable bool
}

// Arity returns the number of values the frame leaves on the stack.
func (f *Frame) Arity() int {
	if f.Result == 0 {
		return 0
	}
	return 1
}

// BranchArity returns the number of values a branch to f carries.
// Branches to a loop re-enter it and carry its (empty) parameters.
func (f *Frame) BranchArity() int {
	if f.Kind == FrameLoop {
		return 0
	}
	return f.Arity()
}

// BranchType returns the type carried by a branch to f, or 0.
func (f *Frame) BranchType() wasm.ValType {
	if f.Kind == FrameLoop {
		return 0
	}
	return f.Result
}

// Target returns the label a branch to f jumps to.
func (f *Frame) Target() il.Label {
	if f.Kind == FrameLoop {
		return f.Start
	}
	return f.End
}

// Control is the stack of open frames, innermost last.
type Control struct {
	frames []Frame
}

// NewControl creates an empty Control stack.
func NewControl() *Control {
	return &Control{}
}

// Push opens a frame.
func (c *Control) Push(f Frame) {
	c.frames = append(c.frames, f)
}

// Pop closes the innermost frame.
func (c *Control) Pop() (Frame, bool) {
	if len(c.frames) == 0 {
		return Frame{}, false
	}
	f := c.frames[len(c.frames)-1]
	c.frames = c.frames[:len(c.frames)-1]
	return f, true
}

// Top returns the innermost frame, or nil.
func (c *Control) Top() *Frame {
	if len(c.frames) == 0 {
		return nil
	}
	return &c.frames[len(c.frames)-1]
}

// At resolves a relative branch depth (0 is the innermost frame).
func (c *Control) At(depth uint32) (*Frame, bool) {
	i := len(c.frames) - 1 - int(depth)
	if i < 0 {
		return nil, false
	}
	return &c.frames[i], true
}

// Depth returns the number of open frames.
func (c *Control) Depth() int {
	return len(c.frames)
}

// blockResult resolves a block type to its single optional result.
func blockResult(ctx *Context, bt int64) (wasm.ValType, error) {
	switch {
	case bt == wasm.BlockVoid:
		return 0, nil
	case bt < 0 && bt >= wasm.BlockF64:
		return wasm.ValType(bt + 0x80), nil
	case bt >= 0:
		if int(bt) >= len(ctx.Module.Types) {
			return 0, ctx.outOfBounds("block type", int(bt), len(ctx.Module.Types))
		}
		ft := ctx.Module.Types[bt]
		if len(ft.Params) > 0 || len(ft.Results) > 1 {
			return 0, ctx.unsupported(fmt.Sprintf("block type %s", ft))
		}
		return ft.Result(), nil
	default:
		return 0, ctx.fail(errors.KindInvalidData, "invalid block type %d", bt)
	}
}

func handleBlock(ctx *Context, instr wasm.Instruction) error {
	result, err := blockResult(ctx, instr.Imm.(wasm.BlockImm).Type)
	if err != nil {
		return err
	}
	ctx.Control.Push(Frame{
		Kind:   FrameBlock,
		Result: result,
		Height: ctx.Stack.Len(),
		End:    ctx.Emit.NewLabel(),
	})
	return nil
}

func handleLoop(ctx *Context, instr wasm.Instruction) error {
	result, err := blockResult(ctx, instr.Imm.(wasm.BlockImm).Type)
	if err != nil {
		return err
	}
	f := Frame{
		Kind:   FrameLoop,
		Result: result,
		Height: ctx.Stack.Len(),
		Start:  ctx.Emit.NewLabel(),
		End:    ctx.Emit.NewLabel(),
	}
	ctx.Emit.Mark(f.Start)
	ctx.Control.Push(f)
	return nil
}

func handleIf(ctx *Context, instr wasm.Instruction) error {
	result, err := blockResult(ctx, instr.Imm.(wasm.BlockImm).Type)
	if err != nil {
		return err
	}
	if err := ctx.PopExpect(wasm.ValI32); err != nil {
		return err
	}
	f := Frame{
		Kind:   FrameIf,
		Result: result,
		Height: ctx.Stack.Len(),
		Else:   ctx.Emit.NewLabel(),
		End:    ctx.Emit.NewLabel(),
	}
	ctx.Emit.Brfalse(f.Else)
	ctx.Control.Push(f)
	return nil
}

func handleElse(ctx *Context, _ wasm.Instruction) error {
	f := ctx.Control.Top()
	if f == nil || f.Kind != FrameIf || f.HasElse {
		return ctx.fail(errors.KindInvalidData, "else without matching if")
	}
	if !f.Unreachable {
		if err := ctx.checkFrameEnd(f); err != nil {
			return err
		}
		ctx.Emit.Br(f.End)
	}
	ctx.Emit.Mark(f.Else)
	f.HasElse = true
	f.Unreachable = false
	ctx.Stack.Truncate(f.Height)
	return nil
}

func handleEnd(ctx *Context, _ wasm.Instruction) error {
	f := ctx.Control.Top()
	if f == nil {
		return ctx.fail(errors.KindInvalidData, "end without open frame")
	}
	if !f.Unreachable {
		if err := ctx.checkFrameEnd(f); err != nil {
			return err
		}
	}
	if f.Kind == FrameIf && !f.HasElse {
		if f.Result != 0 {
			return ctx.typeMismatch("if without else", f.Result.String(), "none")
		}
		ctx.Emit.Mark(f.Else)
	}

	frame, _ := ctx.Control.Pop()
	ctx.Stack.Truncate(frame.Height)
	if frame.Result != 0 {
		ctx.Stack.Push(frame.Result)
	}

	if frame.Kind == FrameFunction {
		last, ok := ctx.Emit.Last()
		if !ok || last.Op != il.OpRet {
			ctx.Emit.Ret(ILType(frame.Result))
		}
		return nil
	}
	ctx.Emit.Mark(frame.End)
	return nil
}

// checkFrameEnd asserts the stack holds exactly the frame's result above
// its entry height.
func (c *Context) checkFrameEnd(f *Frame) error {
	want := f.Height + f.Arity()
	if got := c.Stack.Len(); got != want {
		return c.fail(errors.KindTypeMismatch,
			"%s ends with stack height %d, expected %d", f.Kind, got-f.Height, f.Arity())
	}
	if f.Result != 0 {
		if top, _ := c.Stack.Peek(0); top != f.Result {
			return c.typeMismatch(f.Kind.String()+" result", f.Result.String(), top.String())
		}
	}
	return nil
}

// checkBranch validates the operands carried by a branch to f and returns
// the number of extra operands between the carried values and f's height.
// Carried values must come from the innermost frame.
func (c *Context) checkBranch(f *Frame) (extras int, err error) {
	arity := f.BranchArity()
	avail := c.Stack.Len() - c.Control.Top().Height
	if avail < arity {
		return 0, c.fail(errors.KindTypeMismatch, "branch to %s needs %d value(s), frame has %d",
			f.Kind, arity, avail)
	}
	if arity == 1 {
		if top, _ := c.Stack.Peek(0); top != f.BranchType() {
			return 0, c.typeMismatch("branch value", f.BranchType().String(), top.String())
		}
	}
	if f.Kind == FrameFunction {
		// Ret discards whatever lies below the returned value.
		return 0, nil
	}
	return c.Stack.Len() - f.Height - arity, nil
}

// emitBranch emits the transfer to f: a return for the function frame,
// otherwise an unwind of extra operands followed by Br.
// It does not change the type stack.
func (c *Context) emitBranch(f *Frame, extras int) {
	if f.Kind == FrameFunction {
		c.Emit.Ret(ILType(f.Result))
		return
	}
	if extras > 0 {
		arity := f.BranchArity()
		var tmp uint32
		if arity == 1 {
			tmp = c.Locals.Alloc(f.BranchType())
			c.Emit.Stloc(ILType(f.BranchType()), tmp)
		}
		for i := 0; i < extras; i++ {
			t, _ := c.Stack.Peek(arity + i)
			c.Emit.Pop(ILType(t))
		}
		if arity == 1 {
			c.Emit.Ldloc(ILType(f.BranchType()), tmp)
			c.Locals.Release(tmp)
		}
	}
	c.Emit.Br(f.Target())
}

// needsTrampoline reports whether a conditional branch to f cannot jump
// straight to its label.
func needsTrampoline(f *Frame, extras int) bool {
	return f.Kind == FrameFunction || extras > 0
}

func (c *Context) frameAt(depth uint32) (*Frame, error) {
	f, ok := c.Control.At(depth)
	if !ok {
		return nil, c.outOfBounds("branch depth", int(depth), c.Control.Depth())
	}
	return f, nil
}

func handleBr(ctx *Context, instr wasm.Instruction) error {
	f, err := ctx.frameAt(instr.Imm.(wasm.BranchImm).LabelIdx)
	if err != nil {
		return err
	}
	extras, err := ctx.checkBranch(f)
	if err != nil {
		return err
	}
	ctx.emitBranch(f, extras)
	ctx.SetUnreachable()
	return nil
}

func handleBrIf(ctx *Context, instr wasm.Instruction) error {
	if err := ctx.PopExpect(wasm.ValI32); err != nil {
		return err
	}
	f, err := ctx.frameAt(instr.Imm.(wasm.BranchImm).LabelIdx)
	if err != nil {
		return err
	}
	extras, err := ctx.checkBranch(f)
	if err != nil {
		return err
	}
	if !needsTrampoline(f, extras) {
		ctx.Emit.Brtrue(f.Target())
		return nil
	}
	skip := ctx.Emit.NewLabel()
	ctx.Emit.Brfalse(skip)
	ctx.emitBranch(f, extras)
	ctx.Emit.Mark(skip)
	return nil
}

func handleBrTable(ctx *Context, instr wasm.Instruction) error {
	imm := instr.Imm.(wasm.BrTableImm)
	if err := ctx.PopExpect(wasm.ValI32); err != nil {
		return err
	}

	def, err := ctx.frameAt(imm.Default)
	if err != nil {
		return err
	}
	defExtras, err := ctx.checkBranch(def)
	if err != nil {
		return err
	}

	type trampoline struct {
		label  il.Label
		frame  *Frame
		extras int
	}
	var tramps []trampoline
	byDepth := make(map[uint32]il.Label)

	targets := make([]il.Label, len(imm.Labels))
	for i, depth := range imm.Labels {
		f, err := ctx.frameAt(depth)
		if err != nil {
			return err
		}
		if f.BranchArity() != def.BranchArity() || f.BranchType() != def.BranchType() {
			return ctx.typeMismatch(fmt.Sprintf("br_table target %d", i),
				def.BranchType().String(), f.BranchType().String())
		}
		extras, err := ctx.checkBranch(f)
		if err != nil {
			return err
		}
		if !needsTrampoline(f, extras) {
			targets[i] = f.Target()
			continue
		}
		if l, ok := byDepth[depth]; ok {
			targets[i] = l
			continue
		}
		l := ctx.Emit.NewLabel()
		byDepth[depth] = l
		tramps = append(tramps, trampoline{label: l, frame: f, extras: extras})
		targets[i] = l
	}

	ctx.Emit.Switch(targets)
	ctx.emitBranch(def, defExtras)
	for _, t := range tramps {
		ctx.Emit.Mark(t.label)
		ctx.emitBranch(t.frame, t.extras)
	}
	ctx.SetUnreachable()
	return nil
}

func handleReturn(ctx *Context, _ wasm.Instruction) error {
	fn, _ := ctx.Control.At(uint32(ctx.Control.Depth() - 1))
	if _, err := ctx.checkBranch(fn); err != nil {
		return err
	}
	ctx.emitBranch(fn, 0)
	ctx.SetUnreachable()
	return nil
}

func handleUnreachable(ctx *Context, _ wasm.Instruction) error {
	ctx.Emit.Trap(ctx.Out.Intern("unreachable"))
	ctx.SetUnreachable()
	return nil
}

// RegisterControlHandlers registers structured control and branch handlers.
func RegisterControlHandlers(r *Registry) {
	r.RegisterFunc(wasm.OpUnreachable, handleUnreachable, "unreachable")
	r.RegisterFunc(wasm.OpNop, func(*Context, wasm.Instruction) error { return nil }, "nop")
	r.RegisterFunc(wasm.OpBlock, handleBlock, "block")
	r.RegisterFunc(wasm.OpLoop, handleLoop, "loop")
	r.RegisterFunc(wasm.OpIf, handleIf, "if")
	r.RegisterFunc(wasm.OpElse, handleElse, "else")
	r.RegisterFunc(wasm.OpEnd, handleEnd, "end")
	r.RegisterFunc(wasm.OpBr, handleBr, "br")
	r.RegisterFunc(wasm.OpBrIf, handleBrIf, "br_if")
	r.RegisterFunc(wasm.OpBrTable, handleBrTable, "br_table")
	r.RegisterFunc(wasm.OpReturn, handleReturn, "return")
}
