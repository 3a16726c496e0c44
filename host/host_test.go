package host

import (
	stderrors "errors"
	"testing"

	"github.com/spf13/afero"

	"github.com/wippyai/wasm2ir/errors"
	"github.com/wippyai/wasm2ir/il"
)

type sliceMemory []byte

func (m sliceMemory) Bytes() []byte { return m }

func nop(*Context, []uint64) (uint64, error) { return 0, nil }

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&Func{Module: "wasi_snapshot_preview1", Name: "fd_write", Params: []il.Type{il.I32, il.I32, il.I32, il.I32}, Result: il.I32, Impl: nop})
	r.MustRegister(&Func{Module: "env", Name: "abort", Impl: nop})
	r.MustRegister(&Func{Module: "a", Name: "dup", Impl: nop})
	r.MustRegister(&Func{Module: "b", Name: "dup", Impl: nop})

	tests := []struct {
		name   string
		module string
		fn     string
		want   string
		found  bool
	}{
		{"exact", "wasi_snapshot_preview1", "fd_write", "wasi_snapshot_preview1", true},
		{"unique name fallback", "wasi_unstable", "fd_write", "wasi_snapshot_preview1", true},
		{"ambiguous name", "c", "dup", "", false},
		{"exact beats ambiguity", "b", "dup", "b", true},
		{"missing", "env", "memcpy", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Twice to exercise the cache.
			for i := 0; i < 2; i++ {
				f, ok := r.Lookup(tt.module, tt.fn)
				if ok != tt.found {
					t.Fatalf("Lookup(%s, %s) found = %v, want %v", tt.module, tt.fn, ok, tt.found)
				}
				if ok && f.Module != tt.want {
					t.Errorf("resolved module = %s, want %s", f.Module, tt.want)
				}
			}
		})
	}

	if r.Len() != 4 {
		t.Errorf("Len() = %d, want 4", r.Len())
	}
	funcs := r.Funcs()
	if funcs[0].Module != "a" || funcs[len(funcs)-1].Module != "wasi_snapshot_preview1" {
		t.Errorf("Funcs() not sorted: %v", funcs)
	}
}

func TestRegistryRegisterErrors(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Func{Module: "env", Name: "f"}); err == nil {
		t.Error("expected error for missing Impl")
	}
	r.MustRegister(&Func{Module: "env", Name: "f", Impl: nop})
	err := r.Register(&Func{Module: "env", Name: "f", Impl: nop})
	if !stderrors.Is(err, errors.New(errors.PhaseHost, errors.KindRegistration).Build()) {
		t.Errorf("err = %v, want registration error", err)
	}
}

func TestRegistryCacheInvalidation(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("env", "late"); ok {
		t.Fatal("unexpected hit")
	}
	r.MustRegister(&Func{Module: "env", Name: "late", Impl: nop})
	if _, ok := r.Lookup("env", "late"); !ok {
		t.Error("registration must invalidate cached misses")
	}
}

func TestContextMemory(t *testing.T) {
	hc := NewContext().WithMemory(make(sliceMemory, 16))

	if !hc.WriteU32(0, 0xdeadbeef) || !hc.WriteU64(8, 1<<40) {
		t.Fatal("in-bounds writes failed")
	}
	if v, ok := hc.ReadU32(0); !ok || v != 0xdeadbeef {
		t.Errorf("ReadU32 = %x, %v", v, ok)
	}
	if v, ok := hc.ReadU64(8); !ok || v != 1<<40 {
		t.Errorf("ReadU64 = %x, %v", v, ok)
	}
	if hc.WriteU32(13, 1) {
		t.Error("write crossing the end must fail")
	}
	if _, ok := hc.Read(0xFFFFFFFF, 2); ok {
		t.Error("read past 4GiB must fail")
	}
	if !hc.Write(4, []byte("hi")) {
		t.Fatal("Write failed")
	}
	if s, _ := hc.ReadString(4, 2); s != "hi" {
		t.Errorf("ReadString = %q", s)
	}
}

func TestContextExit(t *testing.T) {
	hc := NewContext()
	if _, exited := hc.ExitCode(); exited {
		t.Fatal("fresh context reports exit")
	}
	err := hc.Exit(3)
	var exit *ExitError
	if !stderrors.As(err, &exit) || exit.Code != 3 {
		t.Fatalf("err = %v, want ExitError{3}", err)
	}
	if code, exited := hc.ExitCode(); !exited || code != 3 {
		t.Errorf("ExitCode() = %d, %v", code, exited)
	}
}

func TestFileTable(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll("/data", 0o755); err != nil {
		t.Fatal(err)
	}
	hc := NewContext().WithFs(fs).WithPreopen("/sandbox", "/data")

	dir, ok := hc.Files.Get(3)
	if !ok || !dir.Dir || dir.Preopen != "/sandbox" {
		t.Fatalf("fd 3 = %+v, %v", dir, ok)
	}
	if err := afero.WriteFile(dir.Fs, "/x.txt", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if ok, _ := afero.Exists(fs, "/data/x.txt"); !ok {
		t.Error("preopen must be rooted at the host directory")
	}

	f, err := dir.Fs.Open("/x.txt")
	if err != nil {
		t.Fatal(err)
	}
	fd := hc.Files.Insert(&File{Path: "/x.txt", File: f})
	if fd != 4 {
		t.Errorf("fd = %d, want 4", fd)
	}
	if _, ok := hc.Files.Remove(fd); !ok {
		t.Fatal("Remove failed")
	}
	if fd := hc.Files.Insert(&File{Path: "again"}); fd != 4 {
		t.Errorf("freed descriptor not reused: %d", fd)
	}
	if err := hc.Close(); err != nil {
		t.Fatal(err)
	}
	if hc.Files.Len() != 0 {
		t.Errorf("Len() after Close = %d", hc.Files.Len())
	}
}
