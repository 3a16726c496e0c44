package handler

import (
	"fmt"

	"github.com/wippyai/wasm2ir/wasm"
)

// Handler translates one instruction into il.
//
// Handlers are stateless and can be shared across bodies and modules.
// All mutable state is passed via Context. A handler must keep
// ctx.Stack in lockstep with the il it emits.
type Handler interface {
	Handle(ctx *Context, instr wasm.Instruction) error
}

// Func is an adapter to use ordinary functions as Handlers.
type Func func(ctx *Context, instr wasm.Instruction) error

// Handle implements Handler.
func (f Func) Handle(ctx *Context, instr wasm.Instruction) error {
	return f(ctx, instr)
}

// Registry maps opcodes to their handlers.
//
// Lookup is a direct array index. The 0xFC prefix is served by a single
// MiscHandler that dispatches on the sub-opcode.
type Registry struct {
	handlers [256]Handler
	names    [256]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Default returns a Registry with every supported opcode registered.
func Default() *Registry {
	r := NewRegistry()
	RegisterControlHandlers(r)
	RegisterVariableHandlers(r)
	RegisterMemoryHandlers(r)
	RegisterArithmeticHandlers(r)
	RegisterConversionHandlers(r)
	RegisterCallHandlers(r)
	RegisterMiscHandlers(r)
	return r
}

// Register adds a handler for a single opcode, replacing any previous one.
// The name is used in diagnostics.
func (r *Registry) Register(opcode byte, h Handler, name string) {
	r.handlers[opcode] = h
	r.names[opcode] = name
}

// RegisterFunc registers a function as a handler for an opcode.
func (r *Registry) RegisterFunc(opcode byte, fn func(*Context, wasm.Instruction) error, name string) {
	r.Register(opcode, Func(fn), name)
}

// RegisterBulk registers the same handler for multiple opcodes.
func (r *Registry) RegisterBulk(opcodes []byte, h Handler, name string) {
	for _, op := range opcodes {
		r.Register(op, h, name)
	}
}

// Get returns the handler for an opcode, or nil if not registered.
func (r *Registry) Get(opcode byte) Handler {
	return r.handlers[opcode]
}

// Has returns true if a handler is registered for the opcode.
func (r *Registry) Has(opcode byte) bool {
	return r.handlers[opcode] != nil
}

// Name returns the name of the handler for an opcode.
func (r *Registry) Name(opcode byte) string {
	return r.names[opcode]
}

// MissingHandlers returns opcodes that have no registered handler.
func (r *Registry) MissingHandlers(opcodes []byte) []byte {
	var missing []byte
	for _, op := range opcodes {
		if r.handlers[op] == nil {
			missing = append(missing, op)
		}
	}
	return missing
}

// Dispatch translates instr with its registered handler.
//
// While the innermost frame is unreachable, instructions are consumed
// without emitting anything. Nested block, loop and if are depth-counted
// so only the else or end closing the dead frame is handled.
func (r *Registry) Dispatch(ctx *Context, instr wasm.Instruction) error {
	ctx.Pos = instr.Pos
	if top := ctx.Control.Top(); top != nil && top.Unreachable {
		switch instr.Opcode {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			ctx.skipDepth++
			return nil
		case wasm.OpElse:
			if ctx.skipDepth > 0 {
				return nil
			}
		case wasm.OpEnd:
			if ctx.skipDepth > 0 {
				ctx.skipDepth--
				return nil
			}
		default:
			return nil
		}
	}

	h := r.handlers[instr.Opcode]
	if h == nil {
		return ctx.unsupported(fmt.Sprintf("opcode 0x%02x", instr.Opcode))
	}
	return h.Handle(ctx, instr)
}

// MiscHandler dispatches the 0xFC prefix by sub-opcode.
type MiscHandler struct {
	handlers map[uint32]Handler
}

// NewMiscHandler creates an empty MiscHandler.
func NewMiscHandler() *MiscHandler {
	return &MiscHandler{handlers: make(map[uint32]Handler)}
}

// Register adds a handler for a sub-opcode.
func (m *MiscHandler) Register(sub uint32, h Handler) {
	m.handlers[sub] = h
}

// Has reports whether a sub-opcode is handled.
func (m *MiscHandler) Has(sub uint32) bool {
	return m.handlers[sub] != nil
}

func (m *MiscHandler) Handle(ctx *Context, instr wasm.Instruction) error {
	imm, ok := instr.Imm.(wasm.MiscImm)
	if !ok {
		return ctx.unsupported("0xfc prefix without sub-opcode")
	}
	h := m.handlers[imm.SubOpcode]
	if h == nil {
		return ctx.unsupported(fmt.Sprintf("opcode 0xfc %d", imm.SubOpcode))
	}
	return h.Handle(ctx, instr)
}
