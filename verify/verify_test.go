package verify

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/tetratelabs/wazero/sys"

	"github.com/wippyai/wasm2ir/errors"
	"github.com/wippyai/wasm2ir/host"
	"github.com/wippyai/wasm2ir/host/wasi"
	"github.com/wippyai/wasm2ir/il"
	"github.com/wippyai/wasm2ir/internal/wasmtest"
	"github.com/wippyai/wasm2ir/runtime"
	"github.com/wippyai/wasm2ir/wasm"
)

var (
	i32 = wasmtest.I32T
	v   = wasmtest.V
)

func arithmetic() []byte {
	b := wasmtest.New()
	binop := b.Type(v(i32, i32), v(i32))
	b.Export("add", b.Func(binop, nil,
		wasmtest.LocalGet(0), wasmtest.LocalGet(1), wasmtest.Op(wasm.OpI32Add)))
	b.Export("div", b.Func(binop, nil,
		wasmtest.LocalGet(0), wasmtest.LocalGet(1), wasmtest.Op(wasm.OpI32DivS)))
	b.Export("trap", b.Func(b.Type(nil, nil), nil, wasmtest.Op(wasm.OpUnreachable)))
	return b.Bytes()
}

func TestRun(t *testing.T) {
	data := arithmetic()

	tests := []struct {
		name string
		fn   string
		args []string
		want string
	}{
		{"add", "add", []string{"2", "3"}, "5"},
		{"add wraps", "add", []string{"0x7FFFFFFF", "1"}, "-2147483648"},
		{"negative", "add", []string{"-5", "2"}, "-3"},
		{"division", "div", []string{"-7", "2"}, "-3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Run(context.Background(), data, tt.fn, tt.args, Options{})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if !res.Match {
				t.Fatalf("mismatch: %s", res.Reason)
			}
			if got := res.Got.String(res.Type); got != tt.want {
				t.Errorf("result = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRunFaults(t *testing.T) {
	data := arithmetic()

	tests := []struct {
		fn   string
		args []string
		code runtime.TrapCode
	}{
		{"div", []string{"1", "0"}, runtime.TrapDivideByZero},
		{"div", []string{"-2147483648", "-1"}, runtime.TrapIntegerOverflow},
		{"trap", nil, runtime.TrapUnreachable},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			res, err := Run(context.Background(), data, tt.fn, tt.args, Options{})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if !res.Match {
				t.Fatalf("mismatch: %s", res.Reason)
			}
			var trap *runtime.Trap
			if !stderrors.As(res.Got.Err, &trap) || trap.Code != tt.code {
				t.Errorf("translated fault = %v, want %q", res.Got.Err, tt.code)
			}
			if res.Want.Err == nil {
				t.Error("reference did not fault")
			}
		})
	}
}

func TestRunStdout(t *testing.T) {
	b := wasmtest.New()
	fdWrite := b.ImportFunc(wasi.ModuleName, "fd_write", b.Type(v(i32, i32, i32, i32), v(i32)))
	procExit := b.ImportFunc(wasi.ModuleName, "proc_exit", b.Type(v(i32), nil))
	b.Memory(1)
	b.Data(0, []byte{8, 0, 0, 0, 6, 0, 0, 0})
	b.Data(8, []byte("hello\n"))
	b.Export("hello", b.Func(b.Type(nil, v(i32)), nil,
		wasmtest.I32(1), wasmtest.I32(0), wasmtest.I32(1), wasmtest.I32(16), wasmtest.Call(fdWrite)))
	b.Export("quit", b.Func(b.Type(v(i32), nil), nil, wasmtest.LocalGet(0), wasmtest.Call(procExit)))
	data := b.Bytes()

	res, err := Run(context.Background(), data, "hello", nil, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Match {
		t.Fatalf("mismatch: %s", res.Reason)
	}
	if res.Got.Stdout != "hello\n" {
		t.Errorf("stdout = %q", res.Got.Stdout)
	}

	res, err = Run(context.Background(), data, "quit", []string{"3"}, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Match {
		t.Fatalf("mismatch: %s", res.Reason)
	}
	var exit *host.ExitError
	if !stderrors.As(res.Got.Err, &exit) || exit.Code != 3 {
		t.Errorf("exit = %v", res.Got.Err)
	}
}

func TestRunErrors(t *testing.T) {
	data := arithmetic()

	_, err := Run(context.Background(), data, "missing", nil, Options{})
	if !stderrors.Is(err, errors.New(errors.PhaseRuntime, errors.KindNotFound).Build()) {
		t.Errorf("missing export error = %v", err)
	}
	_, err = Run(context.Background(), data, "add", []string{"1"}, Options{})
	if !stderrors.Is(err, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).Build()) {
		t.Errorf("arity error = %v", err)
	}
	_, err = Run(context.Background(), data, "add", []string{"1", "x"}, Options{})
	if !stderrors.Is(err, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).Build()) {
		t.Errorf("parse error = %v", err)
	}
	if _, err := Run(context.Background(), []byte("nope"), "add", nil, Options{}); err == nil {
		t.Error("bad module accepted")
	}
}

func TestCompare(t *testing.T) {
	nan1 := uint64(0x7FC00000)
	nan2 := uint64(0x7FC00001)

	tests := []struct {
		name      string
		typ       il.Type
		got, want Outcome
		match     bool
	}{
		{"equal", il.I32, Outcome{Value: 1}, Outcome{Value: 1}, true},
		{"differ", il.I32, Outcome{Value: 1}, Outcome{Value: 2}, false},
		{"nan payloads", il.F32, Outcome{Value: nan1}, Outcome{Value: nan2}, true},
		{"stdout", il.Void, Outcome{Stdout: "a"}, Outcome{Stdout: "b"}, false},
		{"one faults", il.I32, Outcome{Err: wasi.ErrAbort}, Outcome{Value: 1}, false},
		{
			"table access",
			il.I32,
			Outcome{Err: &runtime.Trap{Code: runtime.TrapUninitializedElement}},
			Outcome{Err: stderrors.New("wasm error: invalid table access")},
			true,
		},
		{
			"same exit code",
			il.Void,
			Outcome{Err: &host.ExitError{Code: 3}},
			Outcome{Err: sys.NewExitError(3)},
			true,
		},
		{
			"different exit codes",
			il.Void,
			Outcome{Err: &host.ExitError{Code: 3}},
			Outcome{Err: sys.NewExitError(4)},
			false,
		},
		{
			"exit against trap",
			il.Void,
			Outcome{Err: &host.ExitError{Code: 0}},
			Outcome{Err: stderrors.New("wasm error: unreachable")},
			false,
		},
		{
			"different traps",
			il.I32,
			Outcome{Err: &runtime.Trap{Code: runtime.TrapUnreachable}},
			Outcome{Err: stderrors.New("wasm error: integer divide by zero")},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, reason := compare(tt.typ, tt.got, tt.want)
			if match != tt.match {
				t.Errorf("match = %v (%s), want %v", match, reason, tt.match)
			}
			if !match && reason == "" {
				t.Error("mismatch without reason")
			}
		})
	}
}
