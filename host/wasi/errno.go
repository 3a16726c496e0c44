package wasi

import (
	stderrors "errors"
	"io/fs"
)

// Errno is a WASI preview1 error code, returned as the i32 result of
// every function in this package.
type Errno = uint32

// Error codes used by this package, numbered as in WASI preview1.
const (
	ErrnoSuccess     Errno = 0
	Errno2big        Errno = 1
	ErrnoAcces       Errno = 2
	ErrnoBadf        Errno = 8
	ErrnoExist       Errno = 20
	ErrnoFault       Errno = 21
	ErrnoInval       Errno = 28
	ErrnoIo          Errno = 29
	ErrnoIsdir       Errno = 31
	ErrnoNametoolong Errno = 37
	ErrnoNoent       Errno = 44
	ErrnoNosys       Errno = 52
	ErrnoNotdir      Errno = 54
	ErrnoNotempty    Errno = 55
	ErrnoPerm        Errno = 63
	ErrnoSpipe       Errno = 70
)

var errnoNames = map[Errno]string{
	ErrnoSuccess:     "ESUCCESS",
	Errno2big:        "E2BIG",
	ErrnoAcces:       "EACCES",
	ErrnoBadf:        "EBADF",
	ErrnoExist:       "EEXIST",
	ErrnoFault:       "EFAULT",
	ErrnoInval:       "EINVAL",
	ErrnoIo:          "EIO",
	ErrnoIsdir:       "EISDIR",
	ErrnoNametoolong: "ENAMETOOLONG",
	ErrnoNoent:       "ENOENT",
	ErrnoNosys:       "ENOSYS",
	ErrnoNotdir:      "ENOTDIR",
	ErrnoNotempty:    "ENOTEMPTY",
	ErrnoPerm:        "EPERM",
	ErrnoSpipe:       "ESPIPE",
}

// ErrnoName returns the POSIX name of errno, e.g. "EBADF".
func ErrnoName(errno Errno) string {
	if name, ok := errnoNames[errno]; ok {
		return name
	}
	return "EUNKNOWN"
}

// errnoOf maps a filesystem error to an Errno.
func errnoOf(err error) Errno {
	switch {
	case err == nil:
		return ErrnoSuccess
	case stderrors.Is(err, fs.ErrNotExist):
		return ErrnoNoent
	case stderrors.Is(err, fs.ErrExist):
		return ErrnoExist
	case stderrors.Is(err, fs.ErrPermission):
		return ErrnoPerm
	case stderrors.Is(err, fs.ErrInvalid):
		return ErrnoInval
	case stderrors.Is(err, fs.ErrClosed):
		return ErrnoBadf
	default:
		return ErrnoIo
	}
}
