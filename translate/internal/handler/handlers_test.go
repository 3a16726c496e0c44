package handler

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/wippyai/wasm2ir/errors"
	"github.com/wippyai/wasm2ir/il"
	"github.com/wippyai/wasm2ir/wasm"
)

var (
	errTypeMismatch = errors.New(errors.PhaseTranslate, errors.KindTypeMismatch).Build()
	errUnsupported  = errors.New(errors.PhaseTranslate, errors.KindUnsupported).Build()
	errInvalidData  = errors.New(errors.PhaseTranslate, errors.KindInvalidData).Build()
)

type testResolver map[uint32]Callee

func (r testResolver) Callee(idx uint32) (Callee, error) {
	c, ok := r[idx]
	if !ok {
		return Callee{}, errors.NotFound(errors.PhaseTranslate, "function", fmt.Sprint(idx))
	}
	return c, nil
}

func sig(params []wasm.ValType, result wasm.ValType) wasm.FuncType {
	ft := wasm.FuncType{Params: params}
	if result != 0 {
		ft.Results = []wasm.ValType{result}
	}
	return ft
}

func newTestModule() *wasm.Module {
	return &wasm.Module{
		Types:  []wasm.FuncType{sig([]wasm.ValType{wasm.ValI32}, wasm.ValI32)},
		Memory: &wasm.Limits{Min: 1},
		Table:  &wasm.TableType{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 2}},
		Globals: []wasm.Global{
			{Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true}},
			{Type: wasm.GlobalType{ValType: wasm.ValI64}},
		},
	}
}

func newTestContext(ft wasm.FuncType, locals ...wasm.ValType) *Context {
	ctx := NewContext(newTestModule(), &il.Module{}, testResolver{})
	ctx.Begin(0, ft, locals)
	return ctx
}

func in(op byte, imm any) wasm.Instruction {
	return wasm.Instruction{Opcode: op, Imm: imm}
}

func i32c(v int32) wasm.Instruction { return in(wasm.OpI32Const, wasm.I32Imm{Value: v}) }
func i64c(v int64) wasm.Instruction { return in(wasm.OpI64Const, wasm.I64Imm{Value: v}) }
func op(code byte) wasm.Instruction { return in(code, nil) }

func block(code byte, bt int64) wasm.Instruction {
	return in(code, wasm.BlockImm{Type: bt})
}

func run(ctx *Context, instrs ...wasm.Instruction) error {
	r := Default()
	for i, instr := range instrs {
		instr.Pos = i
		if err := r.Dispatch(ctx, instr); err != nil {
			return err
		}
	}
	return nil
}

func ops(ctx *Context) []il.Op {
	var out []il.Op
	for _, in := range ctx.Emit.Code() {
		out = append(out, in.Op)
	}
	return out
}

func TestDefaultRegistryCoverage(t *testing.T) {
	r := Default()

	var want []byte
	for op := 0x45; op <= 0xC4; op++ {
		want = append(want, byte(op))
	}
	for op := wasm.OpI32Load; op <= wasm.OpF64Const; op++ {
		want = append(want, op)
	}
	want = append(want,
		wasm.OpUnreachable, wasm.OpNop, wasm.OpBlock, wasm.OpLoop, wasm.OpIf, wasm.OpElse,
		wasm.OpEnd, wasm.OpBr, wasm.OpBrIf, wasm.OpBrTable, wasm.OpReturn, wasm.OpCall,
		wasm.OpCallIndirect, wasm.OpDrop, wasm.OpSelect, wasm.OpSelectType,
		wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalTee, wasm.OpGlobalGet, wasm.OpGlobalSet,
		wasm.OpPrefixMisc,
	)

	if missing := r.MissingHandlers(want); len(missing) > 0 {
		t.Errorf("missing handlers: %x", missing)
	}
	if r.Name(wasm.OpI32Add) != "i32.add" {
		t.Errorf("Name(i32.add) = %q", r.Name(wasm.OpI32Add))
	}
	if r.Has(0x06) {
		t.Error("0x06 should not be handled")
	}
	for _, code := range []byte{wasm.OpSelect, wasm.OpSelectType} {
		if got := r.Name(code); got != "select" {
			t.Errorf("Name(%#x) = %q, want select", code, got)
		}
	}
}

func TestRegisterBulk(t *testing.T) {
	r := NewRegistry()
	r.RegisterBulk([]byte{wasm.OpNop, wasm.OpDrop}, Func(func(*Context, wasm.Instruction) error { return nil }), "noop")

	for _, code := range []byte{wasm.OpNop, wasm.OpDrop} {
		if !r.Has(code) {
			t.Errorf("Has(%#x) = false", code)
		}
		if got := r.Name(code); got != "noop" {
			t.Errorf("Name(%#x) = %q, want noop", code, got)
		}
	}
	if r.Has(wasm.OpUnreachable) {
		t.Error("unreachable should not be handled")
	}
}

func TestNumericHandlers(t *testing.T) {
	tests := []struct {
		name      string
		instrs    []wasm.Instruction
		want      []il.Op
		wantStack wasm.ValType
	}{
		{
			name:      "i32.add",
			instrs:    []wasm.Instruction{i32c(1), i32c(2), op(wasm.OpI32Add)},
			want:      []il.Op{il.OpConst, il.OpConst, il.OpAdd},
			wantStack: wasm.ValI32,
		},
		{
			name:      "i64.div_u",
			instrs:    []wasm.Instruction{i64c(1), i64c(2), op(wasm.OpI64DivU)},
			want:      []il.Op{il.OpConst, il.OpConst, il.OpDivUn},
			wantStack: wasm.ValI64,
		},
		{
			name:      "i64.lt_u yields i32",
			instrs:    []wasm.Instruction{i64c(1), i64c(2), op(wasm.OpI64LtU)},
			want:      []il.Op{il.OpConst, il.OpConst, il.OpCltUn},
			wantStack: wasm.ValI32,
		},
		{
			name:      "i64.eqz",
			instrs:    []wasm.Instruction{i64c(0), op(wasm.OpI64Eqz)},
			want:      []il.Op{il.OpConst, il.OpConst, il.OpCeq},
			wantStack: wasm.ValI32,
		},
		{
			name:      "i32.rotl",
			instrs:    []wasm.Instruction{i32c(1), i32c(2), op(wasm.OpI32Rotl)},
			want:      []il.Op{il.OpConst, il.OpConst, il.OpIntrinsic},
			wantStack: wasm.ValI32,
		},
		{
			name:      "i64.extend_i32_u",
			instrs:    []wasm.Instruction{i32c(-1), op(wasm.OpI64ExtendI32U)},
			want:      []il.Op{il.OpConst, il.OpConv},
			wantStack: wasm.ValI64,
		},
		{
			name:      "i32.trunc_sat_f64_u",
			instrs:    []wasm.Instruction{in(wasm.OpF64Const, wasm.F64Imm{}), in(wasm.OpPrefixMisc, wasm.MiscImm{SubOpcode: wasm.MiscI32TruncSatF64U})},
			want:      []il.Op{il.OpConst, il.OpIntrinsic},
			wantStack: wasm.ValI32,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := newTestContext(sig(nil, 0))
			if err := run(ctx, tt.instrs...); err != nil {
				t.Fatal(err)
			}
			if got := ops(ctx); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ops = %v, want %v", got, tt.want)
			}
			if ctx.Stack.Len() != 1 {
				t.Fatalf("stack len = %d, want 1", ctx.Stack.Len())
			}
			if top, _ := ctx.Stack.Peek(0); top != tt.wantStack {
				t.Errorf("stack top = %s, want %s", top, tt.wantStack)
			}
		})
	}
}

func TestNumericTypeErrors(t *testing.T) {
	tests := []struct {
		name   string
		instrs []wasm.Instruction
	}{
		{"mixed operands", []wasm.Instruction{i32c(1), i64c(2), op(wasm.OpI32Add)}},
		{"underflow", []wasm.Instruction{i32c(1), op(wasm.OpI32Add)}},
		{"wrong conversion source", []wasm.Instruction{i32c(1), op(wasm.OpI32WrapI64)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(newTestContext(sig(nil, 0)), tt.instrs...)
			if !stderrors.Is(err, errTypeMismatch) {
				t.Errorf("err = %v, want type mismatch", err)
			}
		})
	}
}

func TestVariableHandlers(t *testing.T) {
	t.Run("param and local mapping", func(t *testing.T) {
		ctx := newTestContext(sig([]wasm.ValType{wasm.ValI32}, 0), wasm.ValI64)
		err := run(ctx,
			in(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: 0}),
			in(wasm.OpLocalTee, wasm.LocalImm{LocalIdx: 0}),
			op(wasm.OpDrop),
			i64c(3),
			in(wasm.OpLocalSet, wasm.LocalImm{LocalIdx: 1}),
		)
		if err != nil {
			t.Fatal(err)
		}
		code := ctx.Emit.Code()
		want := []il.Instr{
			{Op: il.OpLdarg, Type: il.I32},
			{Op: il.OpDup, Type: il.I32},
			{Op: il.OpStarg, Type: il.I32},
			{Op: il.OpPop, Type: il.I32},
			{Op: il.OpConst, Type: il.I64, Arg: 3},
			{Op: il.OpStloc, Type: il.I64, Arg: 0},
		}
		if !reflect.DeepEqual(code, want) {
			t.Errorf("code = %v, want %v", code, want)
		}
	})

	t.Run("local out of range", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		err := run(ctx, in(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: 3}))
		if !stderrors.Is(err, errors.New(errors.PhaseTranslate, errors.KindOutOfBounds).Build()) {
			t.Errorf("err = %v, want out of bounds", err)
		}
	})

	t.Run("scratch local not addressable", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		ctx.Locals.Alloc(wasm.ValI32)
		err := run(ctx, in(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: 0}))
		if !stderrors.Is(err, errors.New(errors.PhaseTranslate, errors.KindOutOfBounds).Build()) {
			t.Errorf("err = %v, want out of bounds", err)
		}
	})

	t.Run("global.set immutable", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		err := run(ctx, i64c(1), in(wasm.OpGlobalSet, wasm.GlobalImm{GlobalIdx: 1}))
		if !stderrors.Is(err, errInvalidData) {
			t.Errorf("err = %v, want invalid data", err)
		}
	})

	t.Run("global round trip", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		err := run(ctx,
			in(wasm.OpGlobalGet, wasm.GlobalImm{GlobalIdx: 0}),
			in(wasm.OpGlobalSet, wasm.GlobalImm{GlobalIdx: 0}),
		)
		if err != nil {
			t.Fatal(err)
		}
		if got := ops(ctx); !reflect.DeepEqual(got, []il.Op{il.OpLdsfld, il.OpStsfld}) {
			t.Errorf("ops = %v", got)
		}
	})
}

func TestSelect(t *testing.T) {
	t.Run("emission", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		if err := run(ctx, i64c(1), i64c(2), i32c(0), op(wasm.OpSelect)); err != nil {
			t.Fatal(err)
		}
		want := []il.Op{
			il.OpConst, il.OpConst, il.OpConst,
			il.OpStloc, il.OpStloc, il.OpLdloc, il.OpBrtrue, il.OpPop, il.OpLdloc, il.OpLabel,
		}
		if got := ops(ctx); !reflect.DeepEqual(got, want) {
			t.Errorf("ops = %v, want %v", got, want)
		}
		if top, _ := ctx.Stack.Peek(0); top != wasm.ValI64 || ctx.Stack.Len() != 1 {
			t.Errorf("stack = %d entries, top %s", ctx.Stack.Len(), top)
		}
	})

	t.Run("operand mismatch", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		err := run(ctx, i64c(1), i32c(2), i32c(0), op(wasm.OpSelect))
		if !stderrors.Is(err, errTypeMismatch) {
			t.Errorf("err = %v, want type mismatch", err)
		}
	})

	t.Run("typed select mismatch", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		err := run(ctx, i32c(1), i32c(2), i32c(0),
			in(wasm.OpSelectType, wasm.SelectTypeImm{Types: []wasm.ValType{wasm.ValF32}}))
		if !stderrors.Is(err, errTypeMismatch) {
			t.Errorf("err = %v, want type mismatch", err)
		}
	})
}

func TestMemoryHandlers(t *testing.T) {
	t.Run("narrow load with offset", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		if err := run(ctx, i32c(0), in(wasm.OpI64Load8S, wasm.MemoryImm{Offset: 4})); err != nil {
			t.Fatal(err)
		}
		code := ctx.Emit.Code()
		want := []il.Instr{
			{Op: il.OpConst, Type: il.I32},
			{Op: il.OpConv, Type: il.I64, From: il.I32, Arg: uint64(il.ConvExtendU)},
			{Op: il.OpConst, Type: il.I64, Arg: 4},
			{Op: il.OpAdd, Type: il.I64},
			{Op: il.OpLdindI1, Type: il.I32},
			{Op: il.OpConv, Type: il.I64, From: il.I32, Arg: uint64(il.ConvExtendS)},
		}
		if !reflect.DeepEqual(code, want) {
			t.Errorf("code = %v, want %v", code, want)
		}
	})

	t.Run("load without offset", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		if err := run(ctx, i32c(0), in(wasm.OpF64Load, wasm.MemoryImm{})); err != nil {
			t.Fatal(err)
		}
		if got := ops(ctx); !reflect.DeepEqual(got, []il.Op{il.OpConst, il.OpLdindR8}) {
			t.Errorf("ops = %v", got)
		}
	})

	t.Run("narrow store with offset", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		if err := run(ctx, i32c(0), i64c(1), in(wasm.OpI64Store16, wasm.MemoryImm{Offset: 8})); err != nil {
			t.Fatal(err)
		}
		want := []il.Op{
			il.OpConst, il.OpConst, il.OpConv,
			il.OpStloc, il.OpConv, il.OpConst, il.OpAdd, il.OpLdloc,
			il.OpStindI2,
		}
		if got := ops(ctx); !reflect.DeepEqual(got, want) {
			t.Errorf("ops = %v, want %v", got, want)
		}
		if ctx.Stack.Len() != 0 {
			t.Errorf("stack len = %d, want 0", ctx.Stack.Len())
		}
	})

	t.Run("grow recycles scratch locals", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		err := run(ctx,
			i32c(1), in(wasm.OpMemoryGrow, wasm.MemoryIdxImm{}), op(wasm.OpDrop),
			i32c(1), in(wasm.OpMemoryGrow, wasm.MemoryIdxImm{}),
		)
		if err != nil {
			t.Fatal(err)
		}
		if n := len(ctx.Locals.ILTypes()); n != 3 {
			t.Errorf("scratch locals = %d, want 3", n)
		}
		seen := make(map[il.Op]bool)
		for _, o := range ops(ctx) {
			seen[o] = true
		}
		for _, o := range []il.Op{il.OpNewarr, il.OpCpblk, il.OpStMem, il.OpLdlen, il.OpCgtUn} {
			if !seen[o] {
				t.Errorf("grow did not emit %s", o)
			}
		}
	})

	t.Run("memory.size", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		if err := run(ctx, in(wasm.OpMemorySize, wasm.MemoryIdxImm{})); err != nil {
			t.Fatal(err)
		}
		want := []il.Op{il.OpLdMem, il.OpLdlen, il.OpConst, il.OpShrUn, il.OpConv}
		if got := ops(ctx); !reflect.DeepEqual(got, want) {
			t.Errorf("ops = %v, want %v", got, want)
		}
	})

	t.Run("requires memory", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		ctx.Module.Memory = nil
		err := run(ctx, i32c(0), in(wasm.OpI32Load, wasm.MemoryImm{}))
		if !stderrors.Is(err, errInvalidData) {
			t.Errorf("err = %v, want invalid data", err)
		}
	})

	t.Run("memory.fill", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		err := run(ctx, i32c(0), i32c(7), i32c(16),
			in(wasm.OpPrefixMisc, wasm.MiscImm{SubOpcode: wasm.MiscMemoryFill, Operands: []uint32{0}}))
		if err != nil {
			t.Fatal(err)
		}
		last, _ := ctx.Emit.Last()
		if last.Op != il.OpIntrinsic || il.Fn(last.Arg) != il.FnMemFill {
			t.Errorf("last = %v, want memory.fill intrinsic", last)
		}
	})

	t.Run("memory.init unsupported", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		err := run(ctx, in(wasm.OpPrefixMisc, wasm.MiscImm{SubOpcode: wasm.MiscMemoryInit}))
		if !stderrors.Is(err, errUnsupported) {
			t.Errorf("err = %v, want unsupported", err)
		}
	})
}

func TestCallHandlers(t *testing.T) {
	i32 := wasm.ValI32
	binary := sig([]wasm.ValType{i32, i32}, i32)

	t.Run("defined", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		ctx.Resolver = testResolver{2: {Type: binary, Func: 2, Host: -1}}
		if err := run(ctx, i32c(1), i32c(2), in(wasm.OpCall, wasm.CallImm{FuncIdx: 2})); err != nil {
			t.Fatal(err)
		}
		last, _ := ctx.Emit.Last()
		if last.Op != il.OpCall || last.Arg != 2 {
			t.Errorf("last = %v, want call 2", last)
		}
		if ctx.Stack.Len() != 1 {
			t.Errorf("stack len = %d, want 1", ctx.Stack.Len())
		}
	})

	t.Run("host with context", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		ctx.Resolver = testResolver{0: {Type: binary, Host: 4, NeedsContext: true}}
		if err := run(ctx, i32c(1), i32c(2), in(wasm.OpCall, wasm.CallImm{FuncIdx: 0})); err != nil {
			t.Fatal(err)
		}
		want := []il.Op{
			il.OpConst, il.OpConst,
			il.OpStloc, il.OpStloc, il.OpLdCtx, il.OpLdloc, il.OpLdloc,
			il.OpCallHost,
		}
		if got := ops(ctx); !reflect.DeepEqual(got, want) {
			t.Errorf("ops = %v, want %v", got, want)
		}
		code := ctx.Emit.Code()
		if code[2].Arg != code[6].Arg || code[3].Arg != code[5].Arg {
			t.Error("arguments must be reloaded in declaration order")
		}
	})

	t.Run("argument mismatch", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		ctx.Resolver = testResolver{0: {Type: binary, Host: -1}}
		err := run(ctx, i32c(1), i64c(2), in(wasm.OpCall, wasm.CallImm{FuncIdx: 0}))
		if !stderrors.Is(err, errTypeMismatch) {
			t.Errorf("err = %v, want type mismatch", err)
		}
	})

	t.Run("unknown callee", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		err := run(ctx, in(wasm.OpCall, wasm.CallImm{FuncIdx: 9}))
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("indirect", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		err := run(ctx, i32c(5), i32c(1), in(wasm.OpCallIndirect, wasm.CallIndirectImm{TypeIdx: 0}))
		if err != nil {
			t.Fatal(err)
		}
		want := []il.Op{
			il.OpConst, il.OpConst,
			il.OpStloc, il.OpStloc,
			il.OpLdTab, il.OpLdloc, il.OpLdelem, il.OpCastfn, il.OpLdloc,
			il.OpCalli,
		}
		if got := ops(ctx); !reflect.DeepEqual(got, want) {
			t.Errorf("ops = %v, want %v", got, want)
		}
		if len(ctx.Sites) != 1 || ctx.Sites[0].TypeIdx != 0 {
			t.Errorf("sites = %+v", ctx.Sites)
		}
	})

	t.Run("indirect table index", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		err := run(ctx, i32c(5), i32c(1), in(wasm.OpCallIndirect, wasm.CallIndirectImm{TableIdx: 1}))
		if !stderrors.Is(err, errUnsupported) {
			t.Errorf("err = %v, want unsupported", err)
		}
	})
}

func TestControlHandlers(t *testing.T) {
	i32 := wasm.ValI32

	t.Run("if else", func(t *testing.T) {
		ctx := newTestContext(sig([]wasm.ValType{i32}, i32))
		err := run(ctx,
			in(wasm.OpLocalGet, wasm.LocalImm{}),
			block(wasm.OpIf, wasm.BlockI32),
			i32c(1),
			op(wasm.OpElse),
			i32c(2),
			op(wasm.OpEnd),
			op(wasm.OpEnd),
		)
		if err != nil {
			t.Fatal(err)
		}
		want := []il.Op{
			il.OpLdarg, il.OpBrfalse, il.OpConst, il.OpBr, il.OpLabel, il.OpConst, il.OpLabel, il.OpRet,
		}
		if got := ops(ctx); !reflect.DeepEqual(got, want) {
			t.Errorf("ops = %v, want %v", got, want)
		}
		if !ctx.Done() {
			t.Error("function frame should be closed")
		}
	})

	t.Run("if without else yielding value", func(t *testing.T) {
		ctx := newTestContext(sig([]wasm.ValType{i32}, 0))
		err := run(ctx,
			in(wasm.OpLocalGet, wasm.LocalImm{}),
			block(wasm.OpIf, wasm.BlockI32),
			i32c(1),
			op(wasm.OpEnd),
		)
		if !stderrors.Is(err, errTypeMismatch) {
			t.Errorf("err = %v, want type mismatch", err)
		}
	})

	t.Run("end height", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		err := run(ctx, i32c(1), op(wasm.OpEnd))
		if !stderrors.Is(err, errTypeMismatch) {
			t.Errorf("err = %v, want type mismatch", err)
		}
	})

	t.Run("loop marks start", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		err := run(ctx,
			block(wasm.OpLoop, wasm.BlockVoid),
			in(wasm.OpBr, wasm.BranchImm{LabelIdx: 0}),
			op(wasm.OpEnd),
			op(wasm.OpEnd),
		)
		if err != nil {
			t.Fatal(err)
		}
		code := ctx.Emit.Code()
		if code[0].Op != il.OpLabel || code[1].Op != il.OpBr || code[1].Arg != code[0].Arg {
			t.Errorf("loop br should jump back to its start: %v", code)
		}
	})

	t.Run("br unwinds extras", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		err := run(ctx,
			block(wasm.OpBlock, wasm.BlockI32),
			i64c(7),
			i32c(1),
			in(wasm.OpBr, wasm.BranchImm{LabelIdx: 0}),
			op(wasm.OpEnd),
			op(wasm.OpDrop),
			op(wasm.OpEnd),
		)
		if err != nil {
			t.Fatal(err)
		}
		want := []il.Op{
			il.OpConst, il.OpConst,
			il.OpStloc, il.OpPop, il.OpLdloc, il.OpBr,
			il.OpLabel, il.OpPop, il.OpRet,
		}
		if got := ops(ctx); !reflect.DeepEqual(got, want) {
			t.Errorf("ops = %v, want %v", got, want)
		}
	})

	t.Run("br_if to function returns", func(t *testing.T) {
		ctx := newTestContext(sig([]wasm.ValType{i32}, 0))
		err := run(ctx,
			in(wasm.OpLocalGet, wasm.LocalImm{}),
			in(wasm.OpBrIf, wasm.BranchImm{LabelIdx: 0}),
			op(wasm.OpEnd),
		)
		if err != nil {
			t.Fatal(err)
		}
		want := []il.Op{il.OpLdarg, il.OpBrfalse, il.OpRet, il.OpLabel, il.OpRet}
		if got := ops(ctx); !reflect.DeepEqual(got, want) {
			t.Errorf("ops = %v, want %v", got, want)
		}
	})

	t.Run("br_table", func(t *testing.T) {
		ctx := newTestContext(sig([]wasm.ValType{i32}, 0))
		err := run(ctx,
			block(wasm.OpBlock, wasm.BlockVoid),
			block(wasm.OpBlock, wasm.BlockVoid),
			in(wasm.OpLocalGet, wasm.LocalImm{}),
			in(wasm.OpBrTable, wasm.BrTableImm{Labels: []uint32{0, 1, 0}, Default: 1}),
			op(wasm.OpEnd),
			op(wasm.OpEnd),
			op(wasm.OpEnd),
		)
		if err != nil {
			t.Fatal(err)
		}
		var sw il.Instr
		for _, in := range ctx.Emit.Code() {
			if in.Op == il.OpSwitch {
				sw = in
			}
		}
		if len(sw.Targets) != 3 || sw.Targets[0] != sw.Targets[2] || sw.Targets[0] == sw.Targets[1] {
			t.Errorf("switch targets = %v", sw.Targets)
		}
	})

	t.Run("br_table arity mismatch", func(t *testing.T) {
		ctx := newTestContext(sig([]wasm.ValType{i32}, 0))
		err := run(ctx,
			block(wasm.OpBlock, wasm.BlockI32),
			block(wasm.OpBlock, wasm.BlockVoid),
			i32c(0),
			in(wasm.OpLocalGet, wasm.LocalImm{}),
			in(wasm.OpBrTable, wasm.BrTableImm{Labels: []uint32{0}, Default: 1}),
		)
		if !stderrors.Is(err, errTypeMismatch) {
			t.Errorf("err = %v, want type mismatch", err)
		}
	})

	t.Run("dead code is skipped", func(t *testing.T) {
		ctx := newTestContext(sig(nil, i32))
		err := run(ctx,
			block(wasm.OpBlock, wasm.BlockI32),
			i32c(1),
			in(wasm.OpBr, wasm.BranchImm{LabelIdx: 0}),
			i64c(5),
			op(wasm.OpF32Add),
			block(wasm.OpIf, wasm.BlockVoid),
			op(wasm.OpElse),
			op(wasm.OpEnd),
			op(wasm.OpEnd),
			op(wasm.OpEnd),
		)
		if err != nil {
			t.Fatal(err)
		}
		want := []il.Op{il.OpConst, il.OpBr, il.OpLabel, il.OpRet}
		if got := ops(ctx); !reflect.DeepEqual(got, want) {
			t.Errorf("ops = %v, want %v", got, want)
		}
	})

	t.Run("unreachable traps", func(t *testing.T) {
		ctx := newTestContext(sig(nil, i32))
		if err := run(ctx, op(wasm.OpUnreachable), op(wasm.OpEnd)); err != nil {
			t.Fatal(err)
		}
		code := ctx.Emit.Code()
		if code[0].Op != il.OpTrap || ctx.Out.Strings[code[0].Arg] != "unreachable" {
			t.Errorf("code = %v", code)
		}
	})

	t.Run("block type with params", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		err := run(ctx, block(wasm.OpBlock, 0))
		if !stderrors.Is(err, errUnsupported) {
			t.Errorf("err = %v, want unsupported", err)
		}
	})

	t.Run("error carries location", func(t *testing.T) {
		ctx := newTestContext(sig(nil, 0))
		err := run(ctx, i32c(1), op(wasm.OpI64Add))
		var e *errors.Error
		if !stderrors.As(err, &e) {
			t.Fatalf("err = %v, want *errors.Error", err)
		}
		if len(e.Path) != 2 || e.Path[0] != "func[0]" || e.Path[1] != "offset 0x1" {
			t.Errorf("path = %v", e.Path)
		}
	})
}
