package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseTranslate,
				Kind:   KindTypeMismatch,
				Path:   []string{"func[3]", "select"},
				Want:   "i32",
				Got:    "f64",
				Detail: "operands differ",
			},
			contains: []string{"[translate]", "type_mismatch", "func[3].select", "want i32", "got f64", "operands differ"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDecode,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[decode]", "out_of_bounds"},
		},
		{
			name: "missing got",
			err: &Error{
				Phase: PhaseTranslate,
				Kind:  KindTypeMismatch,
				Want:  "i64",
			},
			contains: []string{"want i64", "got none"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseRuntime,
				Kind:   KindTrap,
				Detail: "memory access",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[runtime]", "trap", "memory access", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseEmit,
		Kind:  KindInvalidData,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not follow the cause chain")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseDecode,
		Kind:  KindUnsupported,
		Path:  []string{"memory"},
	}

	if !err.Is(&Error{Phase: PhaseDecode, Kind: KindUnsupported}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseTranslate, Kind: KindUnsupported}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseDecode, Kind: KindInvalidData}) {
		t.Error("Is should not match different kind")
	}

	var wrapped error = Wrap(PhaseLoad, KindInvalidData, err, "outer")
	if !errors.Is(wrapped, &Error{Phase: PhaseDecode, Kind: KindUnsupported}) {
		t.Error("errors.Is should find the inner error")
	}
}

func TestError_WithPath(t *testing.T) {
	err := InvalidData(PhaseTranslate, []string{"offset 0x10"}, "bad")
	err.WithPath("func[2]")
	if got := strings.Join(err.Path, "."); got != "func[2].offset 0x10" {
		t.Errorf("Path = %q", got)
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseTranslate, KindTypeMismatch).
		Path("func[0]", "call_indirect").
		Want("(i32) -> i32").
		Got("() -> nil").
		Value(7).
		Cause(cause).
		Detail("site %d", 7).
		Build()

	if err.Phase != PhaseTranslate || err.Kind != KindTypeMismatch {
		t.Errorf("Phase/Kind = %v/%v", err.Phase, err.Kind)
	}
	if len(err.Path) != 2 || err.Path[1] != "call_indirect" {
		t.Errorf("Path = %v", err.Path)
	}
	if err.Want != "(i32) -> i32" || err.Got != "() -> nil" {
		t.Errorf("Want/Got = %q/%q", err.Want, err.Got)
	}
	if err.Value != 7 {
		t.Errorf("Value = %v, want 7", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "site 7" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name  string
		err   *Error
		phase Phase
		kind  Kind
	}{
		{"TypeMismatch", TypeMismatch(PhaseTranslate, nil, "i32", "i64"), PhaseTranslate, KindTypeMismatch},
		{"Unsupported", Unsupported(PhaseDecode, "shared memory"), PhaseDecode, KindUnsupported},
		{"OutOfBounds", OutOfBounds(PhaseTranslate, nil, 10, 5), PhaseTranslate, KindOutOfBounds},
		{"InvalidData", InvalidData(PhaseDecode, nil, "bad"), PhaseDecode, KindInvalidData},
		{"Decode", Decode("header", errors.New("eof")), PhaseDecode, KindInvalidData},
		{"NotFound", NotFound(PhaseRuntime, "export", "main"), PhaseRuntime, KindNotFound},
		{"InvalidInput", InvalidInput(PhaseRuntime, "bad args"), PhaseRuntime, KindInvalidInput},
		{"Registration", Registration("env", "f", errors.New("dup")), PhaseHost, KindRegistration},
		{"Instantiation", Instantiation(errors.New("x")), PhaseRuntime, KindInstantiation},
		{"Load", Load("artifact", errors.New("x")), PhaseLoad, KindInvalidData},
		{"NotInitialized", NotInitialized(PhaseRuntime, "instance"), PhaseRuntime, KindNotInitialized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Phase != tt.phase {
				t.Errorf("Phase = %v, want %v", tt.err.Phase, tt.phase)
			}
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
		})
	}

	if v := OutOfBounds(PhaseDecode, nil, 10, 5).Value; v != 10 {
		t.Errorf("OutOfBounds Value = %v, want 10", v)
	}
}

func TestMissingImportsError(t *testing.T) {
	err := NewMissingImportsError([]string{
		"wasi_snapshot_preview1.fd_write",
		"env.print",
		"wasi_snapshot_preview1.fd_read",
	})
	if len(err.Imports) != 3 {
		t.Fatalf("expected 3 imports, got %d", len(err.Imports))
	}
	if err.Imports[1].Module != "env" || err.Imports[1].Name != "print" {
		t.Errorf("Imports[1] = %+v", err.Imports[1])
	}

	msg := err.Error()
	for _, want := range []string{"missing 3", "wasi_snapshot_preview1:", "env:", "fd_read"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}

	if !errors.Is(err, &MissingImportsError{}) {
		t.Error("errors.Is should match MissingImportsError")
	}
	if got := (&MissingImportsError{}).Error(); !strings.Contains(got, "no imports") {
		t.Errorf("empty message = %q", got)
	}
}
