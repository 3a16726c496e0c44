package wasi

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/wippyai/wasm2ir/host"
)

type sliceMemory []byte

func (m sliceMemory) Bytes() []byte { return m }

func newContext() (*host.Context, sliceMemory) {
	mem := make(sliceMemory, 1<<16)
	return host.NewContext().WithMemory(mem), mem
}

func call(t *testing.T, hc *host.Context, name string, args ...uint64) Errno {
	t.Helper()
	for _, f := range Funcs() {
		if f.Name != name {
			continue
		}
		if len(args) != len(f.Params) {
			t.Fatalf("%s takes %d arguments, got %d", name, len(f.Params), len(args))
		}
		res, err := f.Impl(hc, args)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		return Errno(res)
	}
	t.Fatalf("no function %s", name)
	return 0
}

func expectErrno(t *testing.T, what string, got, want Errno) {
	t.Helper()
	if got != want {
		t.Fatalf("%s = %s, want %s", what, ErrnoName(got), ErrnoName(want))
	}
}

// putIovec stores a single iovec at 0 pointing at buf with length n.
func putIovec(mem sliceMemory, buf, n uint32) {
	le.PutUint32(mem[0:], buf)
	le.PutUint32(mem[4:], n)
}

func TestRegister(t *testing.T) {
	reg := host.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if reg.Len() != len(Funcs()) {
		t.Errorf("registered %d functions, want %d", reg.Len(), len(Funcs()))
	}
	if err := Register(reg); err == nil {
		t.Error("second Register succeeded")
	}

	tests := []struct {
		module string
		name   string
		want   string
	}{
		{ModuleName, "fd_write", ModuleName},
		{"wasi_unstable", "fd_write", ModuleName},
		{EnvModule, "abort", EnvModule},
	}
	for _, tt := range tests {
		f, ok := reg.Lookup(tt.module, tt.name)
		if !ok {
			t.Errorf("Lookup(%s, %s) missed", tt.module, tt.name)
			continue
		}
		if f.Module != tt.want {
			t.Errorf("Lookup(%s, %s) resolved to %s", tt.module, tt.name, f.Module)
		}
	}
}

func TestFdWrite(t *testing.T) {
	hc, mem := newContext()
	var stdout bytes.Buffer
	hc.WithStdio(nil, &stdout, nil)

	copy(mem[100:], "hello")
	putIovec(mem, 100, 5)

	expectErrno(t, "fd_write", call(t, hc, "fd_write", 1, 0, 1, 200), ErrnoSuccess)
	if stdout.String() != "hello" {
		t.Errorf("stdout = %q", stdout.String())
	}
	if n := le.Uint32(mem[200:]); n != 5 {
		t.Errorf("nwritten = %d, want 5", n)
	}

	expectErrno(t, "fd_write bad fd", call(t, hc, "fd_write", 99, 0, 1, 200), ErrnoBadf)
	expectErrno(t, "fd_write stdin", call(t, hc, "fd_write", 0, 0, 1, 200), ErrnoBadf)
	putIovec(mem, 1<<16-2, 5)
	expectErrno(t, "fd_write fault", call(t, hc, "fd_write", 1, 0, 1, 200), ErrnoFault)
}

func TestStdioDescriptors(t *testing.T) {
	hc, mem := newContext()
	hc.WithStdio(bytes.NewReader([]byte("input")), nil, nil)

	putIovec(mem, 100, 16)
	expectErrno(t, "fd_read stdin", call(t, hc, "fd_read", 0, 0, 1, 200), ErrnoSuccess)
	if n := le.Uint32(mem[200:]); n != 5 || string(mem[100:105]) != "input" {
		t.Errorf("read %d bytes %q", n, mem[100:105])
	}

	expectErrno(t, "fd_seek stdout", call(t, hc, "fd_seek", 1, 0, 0, 200), ErrnoSpipe)
	expectErrno(t, "fd_fdstat_get", call(t, hc, "fd_fdstat_get", 1, 300), ErrnoSuccess)
	if mem[300] != filetypeCharacterDevice {
		t.Errorf("filetype = %d, want %d", mem[300], filetypeCharacterDevice)
	}
	if r := le.Uint64(mem[308:]); r != allRights {
		t.Errorf("rights = %#x", r)
	}
	expectErrno(t, "fd_prestat_get stdout", call(t, hc, "fd_prestat_get", 1, 300), ErrnoBadf)
	expectErrno(t, "fd_sync", call(t, hc, "fd_sync", 1), ErrnoSuccess)
}

func newSandbox(t *testing.T) (*host.Context, sliceMemory, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	if err := fsys.MkdirAll("/data/sub", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fsys, "/data/in.txt", []byte("abcdef"), 0o644); err != nil {
		t.Fatal(err)
	}
	hc, mem := newContext()
	hc.WithFs(fsys).WithPreopen("/sandbox", "/data")
	return hc, mem, fsys
}

// putPath stores p at 1000 and returns its pointer and length.
func putPath(mem sliceMemory, p string) (uint64, uint64) {
	copy(mem[1000:], p)
	return 1000, uint64(len(p))
}

func TestPrestat(t *testing.T) {
	hc, mem, _ := newSandbox(t)

	expectErrno(t, "fd_prestat_get", call(t, hc, "fd_prestat_get", 3, 0), ErrnoSuccess)
	if tag, n := mem[0], le.Uint32(mem[4:]); tag != 0 || n != 8 {
		t.Fatalf("prestat = tag %d len %d", tag, n)
	}
	expectErrno(t, "fd_prestat_dir_name", call(t, hc, "fd_prestat_dir_name", 3, 16, 8), ErrnoSuccess)
	if name := string(mem[16:24]); name != "/sandbox" {
		t.Errorf("dir name = %q", name)
	}
	expectErrno(t, "fd_prestat_dir_name long", call(t, hc, "fd_prestat_dir_name", 3, 16, 9), ErrnoNametoolong)
	expectErrno(t, "fd_prestat_get missing", call(t, hc, "fd_prestat_get", 4, 0), ErrnoBadf)
	expectErrno(t, "fd_read dir", call(t, hc, "fd_read", 3, 0, 0, 8), ErrnoIsdir)

	expectErrno(t, "fd_fdstat_get dir", call(t, hc, "fd_fdstat_get", 3, 32), ErrnoSuccess)
	if mem[32] != filetypeDirectory {
		t.Errorf("dir filetype = %d", mem[32])
	}
}

func TestPathOpenRead(t *testing.T) {
	hc, mem, _ := newSandbox(t)

	p, n := putPath(mem, "in.txt")
	expectErrno(t, "path_open", call(t, hc, "path_open", 3, 0, p, n, 0, 2, 0, 0, 500), ErrnoSuccess)
	fd := uint64(le.Uint32(mem[500:]))
	if fd != 4 {
		t.Fatalf("fd = %d, want 4", fd)
	}

	putIovec(mem, 100, 3)
	expectErrno(t, "fd_read", call(t, hc, "fd_read", fd, 0, 1, 200), ErrnoSuccess)
	if got := string(mem[100:103]); got != "abc" {
		t.Errorf("read %q", got)
	}

	expectErrno(t, "fd_seek", call(t, hc, "fd_seek", fd, 1, 0, 208), ErrnoSuccess)
	if pos := le.Uint64(mem[208:]); pos != 1 {
		t.Errorf("seek position = %d", pos)
	}
	expectErrno(t, "fd_seek whence", call(t, hc, "fd_seek", fd, 0, 7, 208), ErrnoInval)
	expectErrno(t, "fd_read", call(t, hc, "fd_read", fd, 0, 1, 200), ErrnoSuccess)
	if got := string(mem[100:103]); got != "bcd" {
		t.Errorf("read after seek %q", got)
	}

	expectErrno(t, "fd_filestat_get", call(t, hc, "fd_filestat_get", fd, 600), ErrnoSuccess)
	if mem[616] != filetypeRegularFile || le.Uint64(mem[632:]) != 6 {
		t.Errorf("filestat = type %d size %d", mem[616], le.Uint64(mem[632:]))
	}

	expectErrno(t, "fd_close", call(t, hc, "fd_close", fd), ErrnoSuccess)
	expectErrno(t, "fd_close twice", call(t, hc, "fd_close", fd), ErrnoBadf)
}

func TestPathOpenErrors(t *testing.T) {
	hc, mem, _ := newSandbox(t)

	tests := []struct {
		name   string
		dirfd  uint64
		path   string
		oflags uint64
		want   Errno
	}{
		{"missing", 3, "nope.txt", 0, ErrnoNoent},
		{"not a directory fd", 1, "in.txt", 0, ErrnoNotdir},
		{"bad fd", 9, "in.txt", 0, ErrnoBadf},
		{"directory flag on file", 3, "in.txt", oflagDirectory, ErrnoNotdir},
		{"truncate directory", 3, "sub", oflagTrunc, ErrnoIsdir},
		{"empty path", 3, "", 0, ErrnoNoent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, n := putPath(mem, tt.path)
			got := call(t, hc, "path_open", tt.dirfd, 0, p, n, tt.oflags, 0, 0, 0, 500)
			expectErrno(t, "path_open", got, tt.want)
		})
	}
}

func TestPathOpenCreate(t *testing.T) {
	hc, mem, fsys := newSandbox(t)

	p, n := putPath(mem, "sub/out.txt")
	oflags := uint64(oflagCreat | oflagTrunc)
	expectErrno(t, "path_open", call(t, hc, "path_open", 3, 0, p, n, oflags, rightFdWrite, 0, 0, 500), ErrnoSuccess)
	fd := uint64(le.Uint32(mem[500:]))

	copy(mem[100:], "xyz")
	putIovec(mem, 100, 3)
	expectErrno(t, "fd_write", call(t, hc, "fd_write", fd, 0, 1, 200), ErrnoSuccess)
	expectErrno(t, "fd_close", call(t, hc, "fd_close", fd), ErrnoSuccess)

	data, err := afero.ReadFile(fsys, "/data/sub/out.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "xyz" {
		t.Errorf("file contents = %q", data)
	}
}

func TestPathOpenDirectory(t *testing.T) {
	hc, mem, _ := newSandbox(t)

	p, n := putPath(mem, "sub")
	expectErrno(t, "path_open", call(t, hc, "path_open", 3, 0, p, n, oflagDirectory, 0, 0, 0, 500), ErrnoSuccess)
	fd := le.Uint32(mem[500:])

	f, ok := hc.Files.Get(fd)
	if !ok || !f.Dir || f.Path != "/sandbox/sub" {
		t.Fatalf("opened entry = %+v", f)
	}
	if f.Preopen != "" {
		t.Error("opened directory reported as preopen")
	}
}

func TestPathFilestatAndUnlink(t *testing.T) {
	hc, mem, fsys := newSandbox(t)

	p, n := putPath(mem, "in.txt")
	expectErrno(t, "path_filestat_get", call(t, hc, "path_filestat_get", 3, 0, p, n, 600), ErrnoSuccess)
	if mem[616] != filetypeRegularFile || le.Uint64(mem[632:]) != 6 {
		t.Errorf("filestat = type %d size %d", mem[616], le.Uint64(mem[632:]))
	}

	expectErrno(t, "path_unlink_file", call(t, hc, "path_unlink_file", 3, p, n), ErrnoSuccess)
	if ok, _ := afero.Exists(fsys, "/data/in.txt"); ok {
		t.Error("file still exists after unlink")
	}
	expectErrno(t, "path_filestat_get removed", call(t, hc, "path_filestat_get", 3, 0, p, n, 600), ErrnoNoent)

	p, n = putPath(mem, "sub")
	expectErrno(t, "path_unlink_file dir", call(t, hc, "path_unlink_file", 3, p, n), ErrnoIsdir)
	expectErrno(t, "path_filestat_get dir", call(t, hc, "path_filestat_get", 3, 0, p, n, 600), ErrnoSuccess)
	if mem[616] != filetypeDirectory {
		t.Errorf("dir filetype = %d", mem[616])
	}
}

func TestArgsEnviron(t *testing.T) {
	hc, mem := newContext()
	hc.WithArgs([]string{"prog", "-v"}).WithEnv([]string{"HOME=/"})

	expectErrno(t, "args_sizes_get", call(t, hc, "args_sizes_get", 0, 4), ErrnoSuccess)
	if count, size := le.Uint32(mem[0:]), le.Uint32(mem[4:]); count != 2 || size != 8 {
		t.Errorf("args sizes = %d, %d", count, size)
	}
	expectErrno(t, "args_get", call(t, hc, "args_get", 16, 64), ErrnoSuccess)
	if a, b := le.Uint32(mem[16:]), le.Uint32(mem[20:]); a != 64 || b != 69 {
		t.Errorf("argv = %d, %d", a, b)
	}
	if got := string(mem[64:72]); got != "prog\x00-v\x00" {
		t.Errorf("argv data = %q", got)
	}

	expectErrno(t, "environ_sizes_get", call(t, hc, "environ_sizes_get", 0, 4), ErrnoSuccess)
	if count, size := le.Uint32(mem[0:]), le.Uint32(mem[4:]); count != 1 || size != 7 {
		t.Errorf("environ sizes = %d, %d", count, size)
	}
	expectErrno(t, "environ_get", call(t, hc, "environ_get", 16, 128), ErrnoSuccess)
	if got := string(mem[128:135]); got != "HOME=/\x00" {
		t.Errorf("environ data = %q", got)
	}
	expectErrno(t, "args_get fault", call(t, hc, "args_get", 1<<16-2, 64), ErrnoFault)
}

func TestClockRandom(t *testing.T) {
	hc, mem := newContext()
	hc.Now = func() time.Time { return time.Unix(1, 5) }
	hc.Rand = bytes.NewReader([]byte{1, 2, 3, 4})

	expectErrno(t, "clock_time_get", call(t, hc, "clock_time_get", clockMonotonic, 0, 8), ErrnoSuccess)
	if ns := le.Uint64(mem[8:]); ns != 1_000_000_005 {
		t.Errorf("time = %d", ns)
	}
	expectErrno(t, "clock_time_get unknown", call(t, hc, "clock_time_get", 9, 0, 8), ErrnoInval)

	expectErrno(t, "random_get", call(t, hc, "random_get", 32, 4), ErrnoSuccess)
	if !bytes.Equal(mem[32:36], []byte{1, 2, 3, 4}) {
		t.Errorf("random bytes = %v", mem[32:36])
	}
	expectErrno(t, "random_get exhausted", call(t, hc, "random_get", 32, 4), ErrnoIo)
	expectErrno(t, "sched_yield", call(t, hc, "sched_yield"), ErrnoSuccess)
}

func TestProcExitAbort(t *testing.T) {
	hc, _ := newContext()
	funcs := map[string]*host.Func{}
	for _, f := range Funcs() {
		funcs[f.Name] = f
	}

	_, err := funcs["proc_exit"].Impl(hc, []uint64{3})
	var exit *host.ExitError
	if !stderrors.As(err, &exit) || exit.Code != 3 {
		t.Fatalf("proc_exit error = %v", err)
	}
	if code, ok := hc.ExitCode(); !ok || code != 3 {
		t.Errorf("ExitCode() = %d, %v", code, ok)
	}

	_, err = funcs["abort"].Impl(hc, nil)
	if !stderrors.Is(err, ErrAbort) {
		t.Errorf("abort error = %v", err)
	}
}

func TestErrnoOf(t *testing.T) {
	tests := []struct {
		err  error
		want Errno
	}{
		{nil, ErrnoSuccess},
		{&fs.PathError{Op: "open", Path: "x", Err: fs.ErrNotExist}, ErrnoNoent},
		{os.ErrExist, ErrnoExist},
		{fs.ErrPermission, ErrnoPerm},
		{fs.ErrInvalid, ErrnoInval},
		{fs.ErrClosed, ErrnoBadf},
		{fmt.Errorf("disk on fire"), ErrnoIo},
	}
	for _, tt := range tests {
		if got := errnoOf(tt.err); got != tt.want {
			t.Errorf("errnoOf(%v) = %s, want %s", tt.err, ErrnoName(got), ErrnoName(tt.want))
		}
	}
	if ErrnoName(12345) != "EUNKNOWN" {
		t.Error("unknown errno name")
	}
}
