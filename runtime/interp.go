package runtime

import (
	"context"
	"encoding/binary"

	"github.com/wippyai/wasm2ir/errors"
	"github.com/wippyai/wasm2ir/host"
	"github.com/wippyai/wasm2ir/il"
)

var le = binary.LittleEndian

// table holds function indices; -1 marks an empty slot.
type table []int32

// funcRef is a function handle pushed by ldftn and ldelem.
type funcRef uint32

// stack is the evaluation stack. Numeric values and references live on
// separate stacks; every op knows which kind each operand is.
type stack struct {
	nums []uint64
	refs []any
}

func (s *stack) push(v uint64) { s.nums = append(s.nums, v) }

func (s *stack) pop() uint64 {
	v := s.nums[len(s.nums)-1]
	s.nums = s.nums[:len(s.nums)-1]
	return v
}

func (s *stack) top() uint64 { return s.nums[len(s.nums)-1] }

// popN removes the top n values and returns them in push order.
func (s *stack) popN(n int) []uint64 {
	at := len(s.nums) - n
	out := append([]uint64(nil), s.nums[at:]...)
	s.nums = s.nums[:at]
	return out
}

func (s *stack) pushRef(r any) { s.refs = append(s.refs, r) }

func (s *stack) popRef() any {
	r := s.refs[len(s.refs)-1]
	s.refs = s.refs[:len(s.refs)-1]
	return r
}

func (s *stack) topRef() any { return s.refs[len(s.refs)-1] }

// invoke runs c and converts a panic caused by malformed code into an
// error.
func (i *Instance) invoke(ctx context.Context, c *compiled, args []uint64) (result uint64, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = 0, errors.New(errors.PhaseRuntime, errors.KindInvalidData).
				Path(c.fn.Name).
				Detail("malformed il: %v", r).
				Build()
		}
	}()
	return i.run(ctx, c, args, 0)
}

func trapIn(c *compiled, t *Trap) *Trap {
	if t.Func == "" {
		t.Func = c.fn.Name
	}
	return t
}

// run executes one function body. args is owned by the callee.
func (i *Instance) run(ctx context.Context, c *compiled, args []uint64, depth int) (uint64, error) {
	if depth >= i.maxDepth {
		return 0, trapIn(c, newTrap(TrapCallStackExhausted))
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f := c.fn
	locals := make([]uint64, len(f.Locals))
	s := stack{nums: make([]uint64, 0, 16)}
	code := f.Code

	for pc := 0; pc < len(code); pc++ {
		in := &code[pc]
		switch in.Op {
		case il.OpNop, il.OpLabel:

		case il.OpConst:
			s.push(in.Arg)
		case il.OpLdarg:
			s.push(args[in.Arg])
		case il.OpStarg:
			args[in.Arg] = s.pop()
		case il.OpLdloc:
			s.push(locals[in.Arg])
		case il.OpStloc:
			locals[in.Arg] = s.pop()
		case il.OpDup:
			s.push(s.top())
		case il.OpPop:
			s.pop()
		case il.OpLdsfld:
			s.push(i.globals[in.Arg])
		case il.OpStsfld:
			i.globals[in.Arg] = s.pop()

		case il.OpAdd, il.OpSub, il.OpMul, il.OpDiv, il.OpDivUn, il.OpRem, il.OpRemUn,
			il.OpAnd, il.OpOr, il.OpXor, il.OpShl, il.OpShr, il.OpShrUn:
			b, a := s.pop(), s.pop()
			r, trap := binaryOp(in.Op, in.Type, a, b)
			if trap != nil {
				return 0, trapIn(c, trap)
			}
			s.push(r)

		case il.OpCeq, il.OpCne, il.OpClt, il.OpCltUn, il.OpCgt, il.OpCgtUn,
			il.OpCle, il.OpCleUn, il.OpCge, il.OpCgeUn:
			b, a := s.pop(), s.pop()
			s.push(boolValue(compare(in.Op, in.Type, a, b)))

		case il.OpConv:
			s.push(convert(il.Conv(in.Arg), in.From, in.Type, s.pop()))

		case il.OpIntrinsic:
			if trap := i.intrinsic(&s, in); trap != nil {
				return 0, trapIn(c, trap)
			}

		case il.OpLdindI1, il.OpLdindU1, il.OpLdindI2, il.OpLdindU2, il.OpLdindI4,
			il.OpLdindU4, il.OpLdindI8, il.OpLdindR4, il.OpLdindR8:
			v, trap := i.load(in.Op, s.pop())
			if trap != nil {
				return 0, trapIn(c, trap)
			}
			s.push(v)

		case il.OpStindI1, il.OpStindI2, il.OpStindI4, il.OpStindI8, il.OpStindR4, il.OpStindR8:
			v := s.pop()
			if trap := i.store(in.Op, s.pop(), v); trap != nil {
				return 0, trapIn(c, trap)
			}

		case il.OpLdMem:
			s.pushRef(i.mem)
		case il.OpStMem:
			i.mem = s.popRef().([]byte)
		case il.OpLdlen:
			s.push(uint64(len(s.popRef().([]byte))))
		case il.OpNewarr:
			s.pushRef(make([]byte, s.pop()))
		case il.OpCpblk:
			src := s.popRef().([]byte)
			copy(s.topRef().([]byte), src)
		case il.OpInitMem:
			if trap := i.initMem(in.Arg, s.pop()); trap != nil {
				return 0, trapIn(c, trap)
			}

		case il.OpLdTab:
			s.pushRef(i.table)
		case il.OpStTab:
			i.table = s.popRef().(table)
		case il.OpNewtab:
			t := make(table, s.pop())
			for j := range t {
				t[j] = -1
			}
			s.pushRef(t)
		case il.OpLdftn:
			s.pushRef(funcRef(in.Arg))
		case il.OpStelem:
			fn := s.popRef().(funcRef)
			idx := s.pop()
			t := s.popRef().(table)
			if idx >= uint64(len(t)) {
				return 0, trapIn(c, newTrap(TrapUndefinedElement))
			}
			t[idx] = int32(fn)
		case il.OpLdelem:
			idx := s.pop()
			t := s.popRef().(table)
			if idx >= uint64(len(t)) {
				return 0, trapIn(c, newTrap(TrapUndefinedElement))
			}
			if t[idx] < 0 {
				s.pushRef(nil)
			} else {
				s.pushRef(funcRef(t[idx]))
			}
		case il.OpCastfn:
			fn, ok := s.topRef().(funcRef)
			if !ok {
				return 0, trapIn(c, newTrap(TrapUninitializedElement))
			}
			if !i.funcs[fn].fn.Signature().Equal(i.module.Types[in.Arg]) {
				return 0, trapIn(c, newTrap(TrapIndirectCallTypeMismatch))
			}

		case il.OpCall:
			if err := i.call(ctx, &s, i.funcs[in.Arg], depth); err != nil {
				return 0, err
			}
		case il.OpCalli:
			sig := i.module.Types[in.Arg]
			callArgs := s.popN(len(sig.Params))
			callee := i.funcs[s.popRef().(funcRef)]
			r, err := i.run(ctx, callee, callArgs, depth+1)
			if err != nil {
				return 0, err
			}
			if sig.Result != il.Void {
				s.push(r)
			}
		case il.OpCallHost:
			if err := i.callHost(&s, uint32(in.Arg)); err != nil {
				return 0, err
			}
		case il.OpLdCtx:
			s.pushRef(i.hc)

		case il.OpBr:
			next, err := jump(ctx, c, pc, in.Arg)
			if err != nil {
				return 0, err
			}
			pc = next
		case il.OpBrtrue, il.OpBrfalse:
			if (s.pop() != 0) == (in.Op == il.OpBrtrue) {
				next, err := jump(ctx, c, pc, in.Arg)
				if err != nil {
					return 0, err
				}
				pc = next
			}
		case il.OpSwitch:
			if sel := s.pop(); sel < uint64(len(in.Targets)) {
				next, err := jump(ctx, c, pc, uint64(in.Targets[sel]))
				if err != nil {
					return 0, err
				}
				pc = next
			}
		case il.OpRet:
			if in.Type == il.Void {
				return 0, nil
			}
			return s.pop(), nil
		case il.OpTrap:
			return 0, trapIn(c, trapFromMessage(i.module.Strings[in.Arg]))
		}
	}

	if f.Result != il.Void && len(s.nums) > 0 {
		return s.pop(), nil
	}
	return 0, nil
}

// jump returns the position of label l. Backward jumps check ctx so a
// canceled call cannot loop forever.
func jump(ctx context.Context, c *compiled, pc int, l uint64) (int, error) {
	target := c.labels[l]
	if target <= pc {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}
	return target, nil
}

func (i *Instance) call(ctx context.Context, s *stack, callee *compiled, depth int) error {
	args := s.popN(len(callee.fn.Params))
	r, err := i.run(ctx, callee, args, depth+1)
	if err != nil {
		return err
	}
	if callee.fn.Result != il.Void {
		s.push(r)
	}
	return nil
}

func (i *Instance) callHost(s *stack, idx uint32) error {
	ref := i.module.Hosts[idx]
	f := i.hosts[idx]
	args := s.popN(len(ref.Params))
	hc := i.hc
	if ref.NeedsContext {
		hc = s.popRef().(*host.Context)
	}
	r, err := f.Impl(hc, args)
	if err != nil {
		return err
	}
	switch ref.Result {
	case il.Void:
	case il.I32, il.F32:
		s.push(uint64(uint32(r)))
	default:
		s.push(r)
	}
	return nil
}

func (i *Instance) intrinsic(s *stack, in *il.Instr) *Trap {
	fn := il.Fn(in.Arg)
	switch fn.Arity() {
	case 1:
		r, trap := unary(fn, in.From, in.Type, s.pop())
		if trap != nil {
			return trap
		}
		s.push(r)
	case 2:
		b, a := s.pop(), s.pop()
		r, trap := binaryIntrinsic(fn, in.Type, a, b)
		if trap != nil {
			return trap
		}
		s.push(r)
	default:
		n, v, dst := uint64(uint32(s.pop())), s.pop(), uint64(uint32(s.pop()))
		if dst+n > uint64(len(i.mem)) {
			return newTrap(TrapOutOfBounds)
		}
		switch fn {
		case il.FnMemCopy:
			src := uint64(uint32(v))
			if src+n > uint64(len(i.mem)) {
				return newTrap(TrapOutOfBounds)
			}
			copy(i.mem[dst:dst+n], i.mem[src:src+n])
		case il.FnMemFill:
			b := byte(v)
			for j := dst; j < dst+n; j++ {
				i.mem[j] = b
			}
		default:
			return &Trap{Code: TrapUnreachable, Message: "invalid intrinsic " + fn.String()}
		}
	}
	return nil
}

func accessSize(op il.Op) uint64 {
	switch op {
	case il.OpLdindI1, il.OpLdindU1, il.OpStindI1:
		return 1
	case il.OpLdindI2, il.OpLdindU2, il.OpStindI2:
		return 2
	case il.OpLdindI8, il.OpLdindR8, il.OpStindI8, il.OpStindR8:
		return 8
	default:
		return 4
	}
}

// load reads from memory at addr. Narrow integer loads produce an i32.
func (i *Instance) load(op il.Op, addr uint64) (uint64, *Trap) {
	if addr+accessSize(op) > uint64(len(i.mem)) {
		return 0, newTrap(TrapOutOfBounds)
	}
	b := i.mem[addr:]
	switch op {
	case il.OpLdindI1:
		return uint64(uint32(int32(int8(b[0])))), nil
	case il.OpLdindU1:
		return uint64(b[0]), nil
	case il.OpLdindI2:
		return uint64(uint32(int32(int16(le.Uint16(b))))), nil
	case il.OpLdindU2:
		return uint64(le.Uint16(b)), nil
	case il.OpLdindI8, il.OpLdindR8:
		return le.Uint64(b), nil
	default:
		return uint64(le.Uint32(b)), nil
	}
}

func (i *Instance) store(op il.Op, addr, v uint64) *Trap {
	if addr+accessSize(op) > uint64(len(i.mem)) {
		return newTrap(TrapOutOfBounds)
	}
	b := i.mem[addr:]
	switch op {
	case il.OpStindI1:
		b[0] = byte(v)
	case il.OpStindI2:
		le.PutUint16(b, uint16(v))
	case il.OpStindI8, il.OpStindR8:
		le.PutUint64(b, v)
	default:
		le.PutUint32(b, uint32(v))
	}
	return nil
}

// initMem copies data segment seg into memory at off.
func (i *Instance) initMem(seg, off uint64) *Trap {
	data := i.module.Data[seg]
	off = uint64(uint32(off))
	if off+uint64(len(data)) > uint64(len(i.mem)) {
		return newTrap(TrapOutOfBounds)
	}
	copy(i.mem[off:], data)
	return nil
}
