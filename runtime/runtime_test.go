package runtime

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/wippyai/wasm2ir/errors"
	"github.com/wippyai/wasm2ir/host"
	"github.com/wippyai/wasm2ir/host/wasi"
	"github.com/wippyai/wasm2ir/il"
	"github.com/wippyai/wasm2ir/internal/wasmtest"
	"github.com/wippyai/wasm2ir/translate"
	"github.com/wippyai/wasm2ir/wasm"
)

var (
	i32 = wasmtest.I32T
	v   = wasmtest.V
)

func wasiRegistry(t *testing.T) *host.Registry {
	t.Helper()
	reg := host.NewRegistry()
	if err := wasi.Register(reg); err != nil {
		t.Fatalf("wasi.Register: %v", err)
	}
	return reg
}

func instantiate(t *testing.T, b *wasmtest.Builder, reg *host.Registry, hc *host.Context, opts ...Option) *Instance {
	t.Helper()
	m, err := translate.Translate(context.Background(), b.Bytes(), translate.Options{Hosts: reg})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	inst, err := New(reg, opts...).Instantiate(context.Background(), m, hc)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	t.Cleanup(func() { _ = inst.Close() })
	return inst
}

func call(t *testing.T, inst *Instance, name string, args ...uint64) uint64 {
	t.Helper()
	r, err := inst.Call(context.Background(), name, args...)
	if err != nil {
		t.Fatalf("%s%v: %v", name, args, err)
	}
	return r
}

func expectTrap(t *testing.T, err error, code TrapCode) *Trap {
	t.Helper()
	var trap *Trap
	if !stderrors.As(err, &trap) {
		t.Fatalf("got %v, want trap %q", err, code)
	}
	if trap.Code != code {
		t.Fatalf("trap code = %q, want %q", trap.Code, code)
	}
	return trap
}

func TestAdd(t *testing.T) {
	b := wasmtest.New()
	add := b.Func(b.Type(v(i32, i32), v(i32)), nil,
		wasmtest.LocalGet(0), wasmtest.LocalGet(1), wasmtest.Op(wasm.OpI32Add))
	b.Export("add", add)
	inst := instantiate(t, b, nil, nil)

	tests := []struct {
		a, b uint64
		want uint64
	}{
		{2, 3, 5},
		{0x7FFFFFFF, 1, 0x80000000},
		{0xFFFFFFFF, 1, 0},
	}
	for _, tt := range tests {
		if got := call(t, inst, "add", tt.a, tt.b); got != tt.want {
			t.Errorf("add(%#x, %#x) = %#x, want %#x", tt.a, tt.b, got, tt.want)
		}
	}
	if got := Format(il.I32, call(t, inst, "add", 0x7FFFFFFF, 1)); got != "-2147483648" {
		t.Errorf("formatted overflow = %s", got)
	}

	if _, err := inst.Call(context.Background(), "add", 1); !stderrors.Is(err, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).Build()) {
		t.Errorf("arity error = %v", err)
	}
	if _, err := inst.Call(context.Background(), "sub"); !stderrors.Is(err, errors.New(errors.PhaseRuntime, errors.KindNotFound).Build()) {
		t.Errorf("missing export error = %v", err)
	}
}

func TestIntegerTraps(t *testing.T) {
	b := wasmtest.New()
	bin := b.Type(v(i32, i32), v(i32))
	for _, f := range []struct {
		name string
		op   byte
	}{
		{"div_s", wasm.OpI32DivS},
		{"div_u", wasm.OpI32DivU},
		{"rem_s", wasm.OpI32RemS},
	} {
		b.Export(f.name, b.Func(bin, nil, wasmtest.LocalGet(0), wasmtest.LocalGet(1), wasmtest.Op(f.op)))
	}
	inst := instantiate(t, b, nil, nil)

	const minInt32 = 0x80000000
	const minusOne = 0xFFFFFFFF
	tests := []struct {
		fn   string
		a, b uint64
		want uint64
		trap TrapCode
	}{
		{"div_s", 7, minusOne, 0xFFFFFFF9, ""},
		{"div_s", 7, 0, 0, TrapDivideByZero},
		{"div_s", minInt32, minusOne, 0, TrapIntegerOverflow},
		{"div_u", minusOne, 2, 0x7FFFFFFF, ""},
		{"div_u", 1, 0, 0, TrapDivideByZero},
		{"rem_s", minInt32, minusOne, 0, ""},
		{"rem_s", minusOne, 2, minusOne, ""},
	}
	for _, tt := range tests {
		got, err := inst.Call(context.Background(), tt.fn, tt.a, tt.b)
		if tt.trap != "" {
			trap := expectTrap(t, err, tt.trap)
			if trap.Func != tt.fn {
				t.Errorf("trap function = %q, want %q", trap.Func, tt.fn)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s(%#x, %#x): %v", tt.fn, tt.a, tt.b, err)
		}
		if got != tt.want {
			t.Errorf("%s(%#x, %#x) = %#x, want %#x", tt.fn, tt.a, tt.b, got, tt.want)
		}
	}
}

func TestBranches(t *testing.T) {
	b := wasmtest.New()
	// sum(n) adds n, n-1, ..., 1 with a loop that re-enters through br 0
	// and leaves through br_if 1.
	sum := b.Func(b.Type(v(i32), v(i32)), v(i32),
		wasmtest.Block(wasm.BlockVoid),
		wasmtest.Loop(wasm.BlockVoid),
		wasmtest.LocalGet(0), wasmtest.Op(wasm.OpI32Eqz), wasmtest.BrIf(1),
		wasmtest.LocalGet(1), wasmtest.LocalGet(0), wasmtest.Op(wasm.OpI32Add), wasmtest.LocalSet(1),
		wasmtest.LocalGet(0), wasmtest.I32(1), wasmtest.Op(wasm.OpI32Sub), wasmtest.LocalSet(0),
		wasmtest.Br(0),
		wasmtest.End(),
		wasmtest.End(),
		wasmtest.LocalGet(1),
	)
	skip := b.Func(b.Type(nil, v(i32)), nil,
		wasmtest.Block(wasm.BlockVoid),
		wasmtest.Br(0),
		wasmtest.Op(wasm.OpUnreachable),
		wasmtest.End(),
		wasmtest.I32(7),
	)
	pick := b.Func(b.Type(v(i32), v(i32)), nil,
		wasmtest.Block(wasm.BlockVoid),
		wasmtest.Block(wasm.BlockVoid),
		wasmtest.LocalGet(0), wasmtest.BrTable(1, 0),
		wasmtest.End(),
		wasmtest.I32(10), wasmtest.Op(wasm.OpReturn),
		wasmtest.End(),
		wasmtest.I32(20),
	)
	b.Export("sum", sum)
	b.Export("skip", skip)
	b.Export("pick", pick)
	inst := instantiate(t, b, nil, nil)

	if got := call(t, inst, "sum", 10); got != 55 {
		t.Errorf("sum(10) = %d, want 55", got)
	}
	if got := call(t, inst, "sum", 0); got != 0 {
		t.Errorf("sum(0) = %d, want 0", got)
	}
	if got := call(t, inst, "skip"); got != 7 {
		t.Errorf("skip() = %d, want 7", got)
	}
	if got := call(t, inst, "pick", 0); got != 10 {
		t.Errorf("pick(0) = %d, want 10", got)
	}
	if got := call(t, inst, "pick", 5); got != 20 {
		t.Errorf("pick(5) = %d, want 20", got)
	}
}

func TestMemoryGrow(t *testing.T) {
	b := wasmtest.New()
	b.Memory(1)
	b.Data(16, []byte{0xAA, 0xBB})
	store := b.Func(b.Type(v(i32, i32), nil), nil,
		wasmtest.LocalGet(0), wasmtest.LocalGet(1), wasmtest.Mem(wasm.OpI32Store, 4))
	load := b.Func(b.Type(v(i32), v(i32)), nil,
		wasmtest.LocalGet(0), wasmtest.Mem(wasm.OpI32Load, 4))
	grow := b.Func(b.Type(v(i32), v(i32)), nil, wasmtest.LocalGet(0), wasmtest.MemoryGrow())
	size := b.Func(b.Type(nil, v(i32)), nil, wasmtest.MemorySize())
	b.Export("store", store)
	b.Export("load", load)
	b.Export("grow", grow)
	b.Export("size", size)
	inst := instantiate(t, b, nil, nil)

	mem := inst.Memory()
	if mem.Pages() != 1 || !bytes.Equal(mem.Bytes()[16:18], []byte{0xAA, 0xBB}) {
		t.Fatalf("initial memory: %d pages, data %x", mem.Pages(), mem.Bytes()[16:18])
	}

	call(t, inst, "store", 96, 42)
	before := mem.Bytes()

	if got := call(t, inst, "grow", 2); got != 1 {
		t.Errorf("grow(2) = %d, want 1", got)
	}
	if got := call(t, inst, "size"); got != 3 {
		t.Errorf("size() = %d, want 3", got)
	}
	if n := len(mem.Bytes()); n != 3<<16 {
		t.Errorf("memory length = %d", n)
	}
	if &before[0] == &mem.Bytes()[0] {
		t.Error("grow reused the old buffer")
	}
	if got := call(t, inst, "load", 96); got != 42 {
		t.Errorf("load after grow = %d, want 42", got)
	}
	if got := call(t, inst, "grow", 70000); got != 0xFFFFFFFF {
		t.Errorf("grow past limit = %#x, want -1", got)
	}

	_, err := inst.Call(context.Background(), "load", 3<<16-6)
	expectTrap(t, err, TrapOutOfBounds)
	_, err = inst.Call(context.Background(), "store", 0xFFFFFFFF, 1)
	expectTrap(t, err, TrapOutOfBounds)
}

func TestCallIndirect(t *testing.T) {
	b := wasmtest.New()
	konst := b.Type(nil, v(i32))
	unary := b.Type(v(i32), v(i32))
	f0 := b.Func(konst, nil, wasmtest.I32(10))
	f1 := b.Func(konst, nil, wasmtest.I32(11))
	f2 := b.Func(konst, nil, wasmtest.I32(12))
	odd := b.Func(unary, nil, wasmtest.LocalGet(0))
	dispatch := b.Func(unary, nil, wasmtest.LocalGet(0), wasmtest.CallIndirect(konst))
	b.Table(6)
	b.Elem(0, f0, f1, f2)
	b.Elem(3, odd)
	b.Export("dispatch", dispatch)
	inst := instantiate(t, b, nil, nil)

	for i, want := range []uint64{10, 11, 12} {
		if got := call(t, inst, "dispatch", uint64(i)); got != want {
			t.Errorf("dispatch(%d) = %d, want %d", i, got, want)
		}
	}

	tests := []struct {
		idx  uint64
		trap TrapCode
	}{
		{3, TrapIndirectCallTypeMismatch},
		{5, TrapUninitializedElement},
		{6, TrapUndefinedElement},
	}
	for _, tt := range tests {
		_, err := inst.Call(context.Background(), "dispatch", tt.idx)
		expectTrap(t, err, tt.trap)
	}
}

func TestGlobals(t *testing.T) {
	b := wasmtest.New()
	g := b.Global(i32, true, 40)
	inc := b.Func(b.Type(nil, v(i32)), nil,
		wasmtest.GlobalGet(g), wasmtest.I32(1), wasmtest.Op(wasm.OpI32Add), wasmtest.GlobalSet(g),
		wasmtest.GlobalGet(g))
	b.Export("inc", inc)
	inst := instantiate(t, b, nil, nil)

	call(t, inst, "inc")
	if got := call(t, inst, "inc"); got != 42 {
		t.Errorf("inc() = %d, want 42", got)
	}
	if got, ok := inst.Global(g); !ok || got != 42 {
		t.Errorf("Global(%d) = %d, %v", g, got, ok)
	}
}

func TestUnreachableAndStub(t *testing.T) {
	b := wasmtest.New()
	missing := b.ImportFunc("env", "missing", b.Type(nil, v(i32)))
	b.Export("stub", b.Func(b.Type(nil, v(i32)), nil, wasmtest.Call(missing)))
	b.Export("crash", b.Func(b.Type(nil, nil), nil, wasmtest.Op(wasm.OpUnreachable)))
	inst := instantiate(t, b, nil, nil)

	_, err := inst.Call(context.Background(), "stub")
	trap := expectTrap(t, err, TrapNotImplemented)
	if trap.Message != "not implemented: env.missing" {
		t.Errorf("stub message = %q", trap.Message)
	}

	_, err = inst.Call(context.Background(), "crash")
	expectTrap(t, err, TrapUnreachable)
	if !stderrors.Is(err, &Trap{Code: TrapUnreachable}) {
		t.Error("Is does not match by code")
	}
}

func TestWASI(t *testing.T) {
	reg := wasiRegistry(t)
	b := wasmtest.New()
	fdWrite := b.ImportFunc(wasi.ModuleName, "fd_write", b.Type(v(i32, i32, i32, i32), v(i32)))
	procExit := b.ImportFunc(wasi.ModuleName, "proc_exit", b.Type(v(i32), nil))
	b.Memory(1)
	b.Data(0, []byte{8, 0, 0, 0, 3, 0, 0, 0})
	b.Data(8, []byte("hi\n"))
	b.Export("hello", b.Func(b.Type(nil, v(i32)), nil,
		wasmtest.I32(1), wasmtest.I32(0), wasmtest.I32(1), wasmtest.I32(16), wasmtest.Call(fdWrite)))
	b.Export("quit", b.Func(b.Type(v(i32), nil), nil, wasmtest.LocalGet(0), wasmtest.Call(procExit)))

	var stdout bytes.Buffer
	hc := host.NewContext().WithStdio(nil, &stdout, nil)
	inst := instantiate(t, b, reg, hc)

	if errno := call(t, inst, "hello"); errno != 0 {
		t.Fatalf("fd_write errno = %d", errno)
	}
	if stdout.String() != "hi\n" {
		t.Errorf("stdout = %q", stdout.String())
	}
	if n := le.Uint32(inst.Memory().Bytes()[16:]); n != 3 {
		t.Errorf("nwritten = %d", n)
	}

	_, err := inst.Call(context.Background(), "quit", 7)
	var exit *host.ExitError
	if !stderrors.As(err, &exit) || exit.Code != 7 {
		t.Fatalf("quit error = %v", err)
	}
}

func TestMissingHost(t *testing.T) {
	reg := wasiRegistry(t)
	b := wasmtest.New()
	b.ImportFunc(wasi.ModuleName, "fd_write", b.Type(v(i32, i32, i32, i32), v(i32)))
	b.ImportFunc(wasi.ModuleName, "random_get", b.Type(v(i32, i32), v(i32)))
	m, err := translate.Translate(context.Background(), b.Bytes(), translate.Options{Hosts: reg})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}

	_, err = New(host.NewRegistry()).Instantiate(context.Background(), m, nil)
	var missing *errors.MissingImportsError
	if !stderrors.As(err, &missing) {
		t.Fatalf("got %v, want missing imports", err)
	}
	if len(missing.Imports) != 2 || missing.Imports[1].Name != "random_get" {
		t.Errorf("missing = %+v", missing.Imports)
	}

	wrong := host.NewRegistry()
	wrong.MustRegister(&host.Func{Module: wasi.ModuleName, Name: "fd_write", Impl: func(*host.Context, []uint64) (uint64, error) { return 0, nil }})
	wrong.MustRegister(&host.Func{Module: wasi.ModuleName, Name: "random_get", Params: []il.Type{il.I32, il.I32}, Result: il.I32, NeedsContext: true, Impl: func(*host.Context, []uint64) (uint64, error) { return 0, nil }})
	_, err = New(wrong).Instantiate(context.Background(), m, nil)
	if !stderrors.Is(err, errors.New(errors.PhaseLink, errors.KindTypeMismatch).Build()) {
		t.Errorf("signature mismatch error = %v", err)
	}
}

func TestCancellation(t *testing.T) {
	b := wasmtest.New()
	spin := b.Func(b.Type(nil, nil), nil, wasmtest.Loop(wasm.BlockVoid), wasmtest.Br(0), wasmtest.End())
	b.Export("spin", spin)
	inst := instantiate(t, b, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := inst.Call(ctx, "spin"); !stderrors.Is(err, context.DeadlineExceeded) {
		t.Errorf("spin error = %v, want deadline exceeded", err)
	}
}

func TestCallDepth(t *testing.T) {
	b := wasmtest.New()
	ty := b.Type(nil, nil)
	b.Export("recurse", b.Func(ty, nil, wasmtest.Call(0)))
	inst := instantiate(t, b, nil, nil, WithMaxCallDepth(100))

	_, err := inst.Call(context.Background(), "recurse")
	expectTrap(t, err, TrapCallStackExhausted)
}

func TestInstantiateMalformed(t *testing.T) {
	bad := &il.Module{
		Types: []il.Signature{{}},
		Functions: []*il.Function{{
			Name:   "f",
			Labels: 1,
			Code:   []il.Instr{{Op: il.OpBr, Arg: 0}, {Op: il.OpRet}},
		}},
	}
	_, err := New(nil).Instantiate(context.Background(), bad, nil)
	if !stderrors.Is(err, errors.New(errors.PhaseLoad, errors.KindInvalidData).Build()) {
		t.Errorf("unmarked label error = %v", err)
	}

	manyLabels := &il.Module{
		Types: []il.Signature{{}},
		Functions: []*il.Function{{
			Name:   "f",
			Labels: 1 << 30,
			Code:   []il.Instr{{Op: il.OpRet}},
		}},
	}
	_, err = New(nil).Instantiate(context.Background(), manyLabels, nil)
	if !stderrors.Is(err, errors.New(errors.PhaseLoad, errors.KindInvalidData).Build()) {
		t.Errorf("label count error = %v", err)
	}

	underflow := &il.Module{
		Types: []il.Signature{{Result: il.I32}},
		Functions: []*il.Function{{
			Name:   "f",
			Result: il.I32,
			Code:   []il.Instr{{Op: il.OpAdd, Type: il.I32}, {Op: il.OpRet, Type: il.I32}},
		}},
		Exports: []il.Export{{Name: "f", Func: 0}},
	}
	inst, err := New(nil).Instantiate(context.Background(), underflow, nil)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	if _, err := inst.Call(context.Background(), "f"); !stderrors.Is(err, errors.New(errors.PhaseRuntime, errors.KindInvalidData).Build()) {
		t.Errorf("stack underflow error = %v", err)
	}
}
