package il

// Builder appends instructions to a function body and allocates labels.
//
// Methods return the builder so short sequences can be chained:
//
//	b.Ldarg(I32, 0).Ldarg(I32, 1).Op(OpAdd, I32).Ret(I32)
type Builder struct {
	code   []Instr
	labels uint32
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Len returns the number of emitted instructions.
func (b *Builder) Len() int {
	return len(b.code)
}

// Reset discards emitted code and label allocations.
func (b *Builder) Reset() {
	b.code = b.code[:0]
	b.labels = 0
}

// Code returns the emitted instructions.
func (b *Builder) Code() []Instr {
	return b.code
}

// Labels returns the number of allocated labels.
func (b *Builder) Labels() uint32 {
	return b.labels
}

// Last returns the most recently emitted instruction, including label marks.
func (b *Builder) Last() (Instr, bool) {
	if len(b.code) == 0 {
		return Instr{}, false
	}
	return b.code[len(b.code)-1], true
}

// NewLabel allocates a label. It must be marked exactly once.
func (b *Builder) NewLabel() Label {
	l := Label(b.labels)
	b.labels++
	return l
}

// Mark binds l to the current position.
func (b *Builder) Mark(l Label) *Builder {
	return b.Emit(Instr{Op: OpLabel, Arg: uint64(l)})
}

// Emit appends in.
func (b *Builder) Emit(in Instr) *Builder {
	b.code = append(b.code, in)
	return b
}

// Op appends an instruction with no immediate.
func (b *Builder) Op(op Op, t Type) *Builder {
	return b.Emit(Instr{Op: op, Type: t})
}

// OpArg appends an instruction carrying an index immediate.
func (b *Builder) OpArg(op Op, t Type, arg uint64) *Builder {
	return b.Emit(Instr{Op: op, Type: t, Arg: arg})
}

// Const pushes a constant given by its bit pattern. I32 bits are stored
// zero-extended.
func (b *Builder) Const(t Type, bits uint64) *Builder {
	if t == I32 {
		bits = uint64(uint32(bits))
	}
	return b.Emit(Instr{Op: OpConst, Type: t, Arg: bits})
}

func (b *Builder) Ldarg(t Type, idx uint32) *Builder { return b.OpArg(OpLdarg, t, uint64(idx)) }
func (b *Builder) Starg(t Type, idx uint32) *Builder { return b.OpArg(OpStarg, t, uint64(idx)) }
func (b *Builder) Ldloc(t Type, idx uint32) *Builder { return b.OpArg(OpLdloc, t, uint64(idx)) }
func (b *Builder) Stloc(t Type, idx uint32) *Builder { return b.OpArg(OpStloc, t, uint64(idx)) }
func (b *Builder) Ldsfld(t Type, idx uint32) *Builder {
	return b.OpArg(OpLdsfld, t, uint64(idx))
}
func (b *Builder) Stsfld(t Type, idx uint32) *Builder {
	return b.OpArg(OpStsfld, t, uint64(idx))
}

func (b *Builder) Dup(t Type) *Builder { return b.Op(OpDup, t) }
func (b *Builder) Pop(t Type) *Builder { return b.Op(OpPop, t) }

// Conv converts the top of stack from one type to another.
func (b *Builder) Conv(kind Conv, from, to Type) *Builder {
	return b.Emit(Instr{Op: OpConv, Type: to, From: from, Arg: uint64(kind)})
}

// Intrinsic invokes a library routine on operands of type t.
func (b *Builder) Intrinsic(fn Fn, t Type) *Builder {
	return b.Emit(Instr{Op: OpIntrinsic, Type: t, Arg: uint64(fn)})
}

// IntrinsicConv invokes a converting library routine.
func (b *Builder) IntrinsicConv(fn Fn, from, to Type) *Builder {
	return b.Emit(Instr{Op: OpIntrinsic, Type: to, From: from, Arg: uint64(fn)})
}

func (b *Builder) Br(l Label) *Builder      { return b.OpArg(OpBr, Void, uint64(l)) }
func (b *Builder) Brtrue(l Label) *Builder  { return b.OpArg(OpBrtrue, Void, uint64(l)) }
func (b *Builder) Brfalse(l Label) *Builder { return b.OpArg(OpBrfalse, Void, uint64(l)) }

// Switch pops an i32 selector and jumps to targets[selector], falling
// through when it is out of range.
func (b *Builder) Switch(targets []Label) *Builder {
	return b.Emit(Instr{Op: OpSwitch, Targets: append([]Label(nil), targets...)})
}

// Ret returns the top of stack when t is not Void.
func (b *Builder) Ret(t Type) *Builder { return b.Op(OpRet, t) }

// Trap raises a fault with the message at Module.Strings[msg].
func (b *Builder) Trap(msg uint64) *Builder { return b.OpArg(OpTrap, Void, msg) }

func (b *Builder) Call(fn uint32) *Builder       { return b.OpArg(OpCall, Void, uint64(fn)) }
func (b *Builder) CallHost(host uint32) *Builder { return b.OpArg(OpCallHost, Void, uint64(host)) }
func (b *Builder) Calli(typ uint32) *Builder     { return b.OpArg(OpCalli, Void, uint64(typ)) }
func (b *Builder) Castfn(typ uint32) *Builder    { return b.OpArg(OpCastfn, Void, uint64(typ)) }
func (b *Builder) Ldftn(fn uint32) *Builder      { return b.OpArg(OpLdftn, Void, uint64(fn)) }
