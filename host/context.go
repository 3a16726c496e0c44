package host

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"
)

// Memory gives host functions access to an instance's linear memory.
// The slice must be fetched again after anything that can grow memory.
type Memory interface {
	Bytes() []byte
}

// ExitError reports that the guest called proc_exit.
type ExitError struct {
	Code uint32
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Context is the per-instance state threaded to host functions that
// declare NeedsContext. Each runtime instance owns exactly one.
type Context struct {
	Memory Memory
	Fs     afero.Fs
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Rand   io.Reader
	Now    func() time.Time
	Files  *FileTable
	Args   []string
	Env    []string

	exitCode uint32
	exited   bool
}

// NewContext creates a Context with empty stdin, discarded output, an
// in-memory filesystem and descriptors 0 to 2 bound to stdio.
func NewContext() *Context {
	hc := &Context{
		Fs:     afero.NewMemMapFs(),
		Stdin:  bytes.NewReader(nil),
		Stdout: io.Discard,
		Stderr: io.Discard,
		Rand:   rand.Reader,
		Now:    time.Now,
		Files:  NewFileTable(),
	}
	hc.bindStdio()
	return hc
}

func (hc *Context) bindStdio() {
	hc.Files.Set(0, &File{Path: "<stdin>", Reader: hc.Stdin})
	hc.Files.Set(1, &File{Path: "<stdout>", Writer: hc.Stdout})
	hc.Files.Set(2, &File{Path: "<stderr>", Writer: hc.Stderr})
}

// WithArgs sets the guest's command-line arguments.
func (hc *Context) WithArgs(args []string) *Context {
	hc.Args = args
	return hc
}

// WithEnv sets the guest's environment as KEY=value pairs.
func (hc *Context) WithEnv(env []string) *Context {
	hc.Env = env
	return hc
}

// WithStdio replaces stdin, stdout and stderr. Nil arguments keep the
// current stream.
func (hc *Context) WithStdio(stdin io.Reader, stdout, stderr io.Writer) *Context {
	if stdin != nil {
		hc.Stdin = stdin
	}
	if stdout != nil {
		hc.Stdout = stdout
	}
	if stderr != nil {
		hc.Stderr = stderr
	}
	hc.bindStdio()
	return hc
}

// WithFs sets the filesystem backing preopened directories.
func (hc *Context) WithFs(fs afero.Fs) *Context {
	hc.Fs = fs
	return hc
}

// WithPreopen exposes dir of the context filesystem to the guest under
// the name guest. The directory gets the next free descriptor.
func (hc *Context) WithPreopen(guest, dir string) *Context {
	hc.Files.Insert(&File{
		Path:    guest,
		Preopen: guest,
		Dir:     true,
		Fs:      afero.NewBasePathFs(hc.Fs, dir),
	})
	return hc
}

// WithMemory attaches the instance memory.
func (hc *Context) WithMemory(m Memory) *Context {
	hc.Memory = m
	return hc
}

// Exit records the exit code and returns the error that unwinds the
// guest.
func (hc *Context) Exit(code uint32) error {
	hc.exitCode = code
	hc.exited = true
	return &ExitError{Code: code}
}

// ExitCode returns the code passed to Exit, if any.
func (hc *Context) ExitCode() (uint32, bool) {
	return hc.exitCode, hc.exited
}

// Close releases every open descriptor.
func (hc *Context) Close() error {
	return hc.Files.Close()
}

func (hc *Context) mem() []byte {
	if hc.Memory == nil {
		return nil
	}
	return hc.Memory.Bytes()
}

// Read returns a view of n bytes of memory at ptr.
func (hc *Context) Read(ptr, n uint32) ([]byte, bool) {
	mem := hc.mem()
	end := uint64(ptr) + uint64(n)
	if end > uint64(len(mem)) {
		return nil, false
	}
	return mem[ptr:end], true
}

// Write copies data into memory at ptr.
func (hc *Context) Write(ptr uint32, data []byte) bool {
	dst, ok := hc.Read(ptr, uint32(len(data)))
	if !ok {
		return false
	}
	copy(dst, data)
	return true
}

// ReadString reads n bytes at ptr as a string.
func (hc *Context) ReadString(ptr, n uint32) (string, bool) {
	b, ok := hc.Read(ptr, n)
	if !ok {
		return "", false
	}
	return string(b), true
}

// ReadU32 reads a little-endian uint32 at ptr.
func (hc *Context) ReadU32(ptr uint32) (uint32, bool) {
	b, ok := hc.Read(ptr, 4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

// ReadU64 reads a little-endian uint64 at ptr.
func (hc *Context) ReadU64(ptr uint32) (uint64, bool) {
	b, ok := hc.Read(ptr, 8)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}

// WriteU8 writes one byte at ptr.
func (hc *Context) WriteU8(ptr uint32, v byte) bool {
	return hc.Write(ptr, []byte{v})
}

// WriteU16 writes a little-endian uint16 at ptr.
func (hc *Context) WriteU16(ptr uint32, v uint16) bool {
	b, ok := hc.Read(ptr, 2)
	if !ok {
		return false
	}
	binary.LittleEndian.PutUint16(b, v)
	return true
}

// WriteU32 writes a little-endian uint32 at ptr.
func (hc *Context) WriteU32(ptr uint32, v uint32) bool {
	b, ok := hc.Read(ptr, 4)
	if !ok {
		return false
	}
	binary.LittleEndian.PutUint32(b, v)
	return true
}

// WriteU64 writes a little-endian uint64 at ptr.
func (hc *Context) WriteU64(ptr uint32, v uint64) bool {
	b, ok := hc.Read(ptr, 8)
	if !ok {
		return false
	}
	binary.LittleEndian.PutUint64(b, v)
	return true
}
