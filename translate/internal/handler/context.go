package handler

import (
	"fmt"

	"github.com/wippyai/wasm2ir/errors"
	"github.com/wippyai/wasm2ir/il"
	"github.com/wippyai/wasm2ir/wasm"
)

// Callee describes how a direct call to a function index is emitted.
type Callee struct {
	Type wasm.FuncType
	// Func is the il function index.
	Func uint32
	// Host is the il host reference index, or -1 when the call goes to
	// an il function.
	Host int
	// NeedsContext prepends the host context handle to the arguments.
	NeedsContext bool
}

// Resolver binds function indices to call targets.
type Resolver interface {
	Callee(funcIdx uint32) (Callee, error)
}

// IndirectSite records a call_indirect for the table check that runs once
// elements are populated.
type IndirectSite struct {
	Func    uint32
	TypeIdx uint32
	Pos     int
}

// Context provides shared state for handlers while translating one body.
//
// The catalog, output module, resolver and site log live for the whole
// module; Begin replaces the per-body state.
type Context struct {
	Emit     *il.Builder
	Stack    *Stack
	Control  *Control
	Locals   *Locals
	Module   *wasm.Module
	Out      *il.Module
	Resolver Resolver
	Sites    []IndirectSite

	// FuncIdx and Pos locate the instruction being translated.
	FuncIdx uint32
	Pos     int

	skipDepth int
}

// NewContext creates a Context for a module.
func NewContext(m *wasm.Module, out *il.Module, r Resolver) *Context {
	return &Context{
		Emit:     il.NewBuilder(),
		Stack:    NewStack(),
		Control:  NewControl(),
		Locals:   NewLocals(nil, nil),
		Module:   m,
		Out:      out,
		Resolver: r,
	}
}

// Begin starts a function body and opens its function frame.
func (c *Context) Begin(funcIdx uint32, ft wasm.FuncType, locals []wasm.ValType) {
	c.Emit = il.NewBuilder()
	c.Stack.Clear()
	c.Control = NewControl()
	c.Locals = NewLocals(ft.Params, locals)
	c.FuncIdx = funcIdx
	c.Pos = 0
	c.skipDepth = 0
	c.Control.Push(Frame{Kind: FrameFunction, Result: ft.Result()})
}

// Done reports whether the function frame has been closed.
func (c *Context) Done() bool {
	return c.Control.Depth() == 0
}

// Push records a value of type t on the stack.
func (c *Context) Push(t wasm.ValType) {
	c.Stack.Push(t)
}

// Pop removes an operand, failing when the innermost frame has none.
func (c *Context) Pop() (wasm.ValType, error) {
	if top := c.Control.Top(); top != nil && c.Stack.Len() <= top.Height {
		return 0, c.fail(errors.KindTypeMismatch, "operand stack underflow")
	}
	t, ok := c.Stack.Pop()
	if !ok {
		return 0, c.fail(errors.KindTypeMismatch, "operand stack underflow")
	}
	return t, nil
}

// PopExpect pops an operand that must be of type want.
func (c *Context) PopExpect(want wasm.ValType) error {
	got, err := c.Pop()
	if err != nil {
		return err
	}
	if got != want {
		return c.typeMismatch("operand", want.String(), got.String())
	}
	return nil
}

// PopArgs pops call arguments in reverse order, checking each type.
func (c *Context) PopArgs(params []wasm.ValType) error {
	for i := len(params) - 1; i >= 0; i-- {
		got, err := c.Pop()
		if err != nil {
			return err
		}
		if got != params[i] {
			return c.typeMismatch(fmt.Sprintf("argument %d", i), params[i].String(), got.String())
		}
	}
	return nil
}

// SetUnreachable marks the rest of the innermost frame as dead code.
func (c *Context) SetUnreachable() {
	top := c.Control.Top()
	top.Unreachable = true
	c.Stack.Truncate(top.Height)
}

// Spill pops the il top of stack of type t into a fresh scratch local.
func (c *Context) Spill(t wasm.ValType) uint32 {
	tmp := c.Locals.Alloc(t)
	c.Emit.Stloc(ILType(t), tmp)
	return tmp
}

// Reload pushes a spilled value and releases its scratch local.
func (c *Context) Reload(t wasm.ValType, tmp uint32) {
	c.Emit.Ldloc(ILType(t), tmp)
	c.Locals.Release(tmp)
}

func (c *Context) path() []string {
	return []string{fmt.Sprintf("func[%d]", c.FuncIdx), fmt.Sprintf("offset 0x%x", c.Pos)}
}

func (c *Context) fail(kind errors.Kind, format string, args ...any) error {
	return errors.New(errors.PhaseTranslate, kind).Path(c.path()...).Detail(format, args...).Build()
}

func (c *Context) typeMismatch(what, want, got string) error {
	return errors.New(errors.PhaseTranslate, errors.KindTypeMismatch).
		Path(c.path()...).Want(want).Got(got).Detail("%s", what).Build()
}

func (c *Context) outOfBounds(what string, idx, n int) error {
	return errors.New(errors.PhaseTranslate, errors.KindOutOfBounds).
		Path(c.path()...).Value(idx).Detail("%s %d out of range [0, %d)", what, idx, n).Build()
}

func (c *Context) unsupported(what string) error {
	return errors.New(errors.PhaseTranslate, errors.KindUnsupported).
		Path(c.path()...).Detail("unsupported: %s", what).Build()
}
