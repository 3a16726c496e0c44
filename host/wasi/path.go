package wasi

import (
	"os"
	"path"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/wippyai/wasm2ir/host"
)

// Open flags.
const (
	oflagCreat     = 1 << 0
	oflagDirectory = 1 << 1
	oflagExcl      = 1 << 2
	oflagTrunc     = 1 << 3
)

const fdflagAppend = 1 << 0

// rightFdWrite is the fd_write bit of rights_base.
const rightFdWrite = 1 << 6

// dirOf resolves fd to an open directory.
func dirOf(hc *host.Context, fd uint32) (*host.File, Errno) {
	f, ok := hc.Files.Get(fd)
	if !ok {
		return nil, ErrnoBadf
	}
	if !f.Dir || f.Fs == nil {
		return nil, ErrnoNotdir
	}
	return f, ErrnoSuccess
}

// guestPath reads a path relative to a directory descriptor. The result is
// rooted so it cannot leave the directory's filesystem.
func guestPath(hc *host.Context, ptr, n uint32) (string, Errno) {
	p, ok := hc.ReadString(ptr, n)
	if !ok {
		return "", ErrnoFault
	}
	if p == "" {
		return "", ErrnoNoent
	}
	return path.Clean("/" + p), ErrnoSuccess
}

// pathOpen opens a file or directory relative to dirfd and stores the new
// descriptor at fdPtr.
//
//	path_open(dirfd, dirflags, path, path_len, oflags,
//		rights_base i64, rights_inheriting i64, fdflags, fd) -> errno
func pathOpen(hc *host.Context, args []uint64) Errno {
	dirfd := uint32(args[0])
	pathPtr, pathLen := uint32(args[2]), uint32(args[3])
	oflags := uint32(args[4])
	rights := args[5]
	fdflags := uint32(args[7])
	fdPtr := uint32(args[8])

	dir, errno := dirOf(hc, dirfd)
	if errno != ErrnoSuccess {
		return errno
	}
	name, errno := guestPath(hc, pathPtr, pathLen)
	if errno != ErrnoSuccess {
		return errno
	}
	if _, ok := hc.Read(fdPtr, 4); !ok {
		return ErrnoFault
	}

	info, statErr := dir.Fs.Stat(name)
	if oflags&oflagDirectory != 0 {
		if statErr != nil {
			return errnoOf(statErr)
		}
		if !info.IsDir() {
			return ErrnoNotdir
		}
	}

	guest := path.Join(dir.Path, name)
	if statErr == nil && info.IsDir() {
		if oflags&(oflagCreat|oflagTrunc) != 0 || (rights&rightFdWrite != 0 && oflags&oflagDirectory == 0) {
			return ErrnoIsdir
		}
		fd := hc.Files.Insert(&host.File{
			Path: guest,
			Dir:  true,
			Fs:   afero.NewBasePathFs(dir.Fs, name),
		})
		hc.WriteU32(fdPtr, fd)
		return ErrnoSuccess
	}

	flag := os.O_RDONLY
	if rights&rightFdWrite != 0 || oflags&(oflagCreat|oflagTrunc) != 0 {
		flag = os.O_RDWR
	}
	if oflags&oflagCreat != 0 {
		flag |= os.O_CREATE
	}
	if oflags&oflagExcl != 0 {
		flag |= os.O_EXCL
	}
	if oflags&oflagTrunc != 0 {
		flag |= os.O_TRUNC
	}
	if fdflags&fdflagAppend != 0 {
		flag |= os.O_APPEND
	}

	file, err := dir.Fs.OpenFile(name, flag, 0o644)
	if err != nil {
		Logger().Debug("path_open failed", zap.String("path", guest), zap.Error(err))
		return errnoOf(err)
	}
	fd := hc.Files.Insert(&host.File{File: file, Path: guest})
	hc.WriteU32(fdPtr, fd)
	return ErrnoSuccess
}

// pathFilestatGet writes the filestat of a path relative to dirfd.
//
//	path_filestat_get(dirfd, flags, path, path_len, filestat) -> errno
func pathFilestatGet(hc *host.Context, args []uint64) Errno {
	dirfd := uint32(args[0])
	pathPtr, pathLen, ptr := uint32(args[2]), uint32(args[3]), uint32(args[4])

	dir, errno := dirOf(hc, dirfd)
	if errno != ErrnoSuccess {
		return errno
	}
	name, errno := guestPath(hc, pathPtr, pathLen)
	if errno != ErrnoSuccess {
		return errno
	}
	buf, ok := hc.Read(ptr, filestatSize)
	if !ok {
		return ErrnoFault
	}
	info, err := dir.Fs.Stat(name)
	if err != nil {
		return errnoOf(err)
	}
	writeFilestat(buf, filetypeOf(info), info)
	return ErrnoSuccess
}

// pathUnlinkFile removes a file relative to dirfd. Directories are
// rejected with EISDIR.
func pathUnlinkFile(hc *host.Context, args []uint64) Errno {
	dirfd, pathPtr, pathLen := uint32(args[0]), uint32(args[1]), uint32(args[2])

	dir, errno := dirOf(hc, dirfd)
	if errno != ErrnoSuccess {
		return errno
	}
	name, errno := guestPath(hc, pathPtr, pathLen)
	if errno != ErrnoSuccess {
		return errno
	}
	info, err := dir.Fs.Stat(name)
	if err != nil {
		return errnoOf(err)
	}
	if info.IsDir() {
		return ErrnoIsdir
	}
	return errnoOf(dir.Fs.Remove(name))
}
