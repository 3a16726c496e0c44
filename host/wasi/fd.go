package wasi

import (
	"encoding/binary"
	"io"
	"io/fs"
	"math"

	"github.com/wippyai/wasm2ir/host"
)

// File types.
const (
	filetypeUnknown         byte = 0
	filetypeCharacterDevice byte = 2
	filetypeDirectory       byte = 3
	filetypeRegularFile     byte = 4
)

var le = binary.LittleEndian

const (
	fdstatSize   = 24
	filestatSize = 64
	allRights    = math.MaxUint64
)

// iovecs resolves an iovec array into memory views.
func iovecs(hc *host.Context, iovs, count uint32) ([][]byte, Errno) {
	bufs := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		entry := iovs + i*8
		ptr, ok := hc.ReadU32(entry)
		if !ok {
			return nil, ErrnoFault
		}
		n, ok := hc.ReadU32(entry + 4)
		if !ok {
			return nil, ErrnoFault
		}
		buf, ok := hc.Read(ptr, n)
		if !ok {
			return nil, ErrnoFault
		}
		bufs = append(bufs, buf)
	}
	return bufs, ErrnoSuccess
}

func writerOf(f *host.File) io.Writer {
	if f.Writer != nil {
		return f.Writer
	}
	if f.File != nil {
		return f.File
	}
	return nil
}

func readerOf(f *host.File) io.Reader {
	if f.Reader != nil {
		return f.Reader
	}
	if f.File != nil {
		return f.File
	}
	return nil
}

// fdWrite gathers the iovecs and writes them to fd, storing the byte
// count at nwritten.
//
//	fd_write(fd, iovs, iovs_len, nwritten) -> errno
func fdWrite(hc *host.Context, args []uint64) Errno {
	fd, iovs, count, nwritten := uint32(args[0]), uint32(args[1]), uint32(args[2]), uint32(args[3])

	f, ok := hc.Files.Get(fd)
	if !ok {
		return ErrnoBadf
	}
	w := writerOf(f)
	if w == nil {
		return ErrnoBadf
	}
	bufs, errno := iovecs(hc, iovs, count)
	if errno != ErrnoSuccess {
		return errno
	}

	var total uint32
	for _, buf := range bufs {
		n, err := w.Write(buf)
		total += uint32(n)
		if err != nil {
			return errnoOf(err)
		}
	}
	if !hc.WriteU32(nwritten, total) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

// fdRead scatters data from fd into the iovecs, storing the byte count at
// nread. A short read ends the call; EOF is not an error.
//
//	fd_read(fd, iovs, iovs_len, nread) -> errno
func fdRead(hc *host.Context, args []uint64) Errno {
	fd, iovs, count, nread := uint32(args[0]), uint32(args[1]), uint32(args[2]), uint32(args[3])

	f, ok := hc.Files.Get(fd)
	if !ok {
		return ErrnoBadf
	}
	if f.Dir {
		return ErrnoIsdir
	}
	r := readerOf(f)
	if r == nil {
		return ErrnoBadf
	}
	bufs, errno := iovecs(hc, iovs, count)
	if errno != ErrnoSuccess {
		return errno
	}

	var total uint32
	for _, buf := range bufs {
		n, err := r.Read(buf)
		total += uint32(n)
		if err == io.EOF {
			break
		}
		if err != nil {
			return errnoOf(err)
		}
		if n < len(buf) {
			break
		}
	}
	if !hc.WriteU32(nread, total) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

// fdSeek moves the offset of a regular file. Whence uses the io.Seek*
// numbering, which matches WASI.
//
//	fd_seek(fd, offset i64, whence, newoffset) -> errno
func fdSeek(hc *host.Context, args []uint64) Errno {
	fd, offset, whence, result := uint32(args[0]), int64(args[1]), uint32(args[2]), uint32(args[3])

	f, ok := hc.Files.Get(fd)
	if !ok {
		return ErrnoBadf
	}
	if f.File == nil {
		if f.Dir {
			return ErrnoBadf
		}
		return ErrnoSpipe
	}
	if whence > io.SeekEnd {
		return ErrnoInval
	}
	pos, err := f.File.Seek(offset, int(whence))
	if err != nil {
		return errnoOf(err)
	}
	if !hc.WriteU64(result, uint64(pos)) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

func fdClose(hc *host.Context, args []uint64) Errno {
	if _, ok := hc.Files.Remove(uint32(args[0])); !ok {
		return ErrnoBadf
	}
	return ErrnoSuccess
}

func fdSync(hc *host.Context, args []uint64) Errno {
	f, ok := hc.Files.Get(uint32(args[0]))
	if !ok {
		return ErrnoBadf
	}
	if f.File != nil {
		return errnoOf(f.File.Sync())
	}
	return ErrnoSuccess
}

// fdFdstatGet writes the 24-byte fdstat: filetype u8, flags u16 at 2, and
// the base and inheriting rights at 8 and 16. Rights are always full.
func fdFdstatGet(hc *host.Context, args []uint64) Errno {
	fd, ptr := uint32(args[0]), uint32(args[1])

	f, ok := hc.Files.Get(fd)
	if !ok {
		return ErrnoBadf
	}
	buf, ok := hc.Read(ptr, fdstatSize)
	if !ok {
		return ErrnoFault
	}
	clear(buf)

	switch {
	case f.Dir:
		buf[0] = filetypeDirectory
	case f.File != nil:
		buf[0] = filetypeRegularFile
	default:
		buf[0] = filetypeCharacterDevice
	}
	hc.WriteU64(ptr+8, allRights)
	hc.WriteU64(ptr+16, allRights)
	return ErrnoSuccess
}

// fdFilestatGet writes the 64-byte filestat of fd.
func fdFilestatGet(hc *host.Context, args []uint64) Errno {
	fd, ptr := uint32(args[0]), uint32(args[1])

	f, ok := hc.Files.Get(fd)
	if !ok {
		return ErrnoBadf
	}
	buf, ok := hc.Read(ptr, filestatSize)
	if !ok {
		return ErrnoFault
	}

	var info fs.FileInfo
	var err error
	switch {
	case f.File != nil:
		info, err = f.File.Stat()
	case f.Dir:
		info, err = f.Fs.Stat("/")
	default:
		writeFilestat(buf, filetypeCharacterDevice, nil)
		return ErrnoSuccess
	}
	if err != nil {
		return errnoOf(err)
	}
	writeFilestat(buf, filetypeOf(info), info)
	return ErrnoSuccess
}

func filetypeOf(info fs.FileInfo) byte {
	switch mode := info.Mode(); {
	case mode.IsDir():
		return filetypeDirectory
	case mode.IsRegular():
		return filetypeRegularFile
	case mode&fs.ModeCharDevice != 0:
		return filetypeCharacterDevice
	default:
		return filetypeUnknown
	}
}

// writeFilestat fills a filestat: dev, ino, filetype at 16, nlink, size at
// 32 and the three timestamps.
func writeFilestat(buf []byte, filetype byte, info fs.FileInfo) {
	clear(buf)
	buf[16] = filetype
	le.PutUint64(buf[24:], 1)
	if info == nil {
		return
	}
	mtim := uint64(info.ModTime().UnixNano())
	le.PutUint64(buf[32:], uint64(info.Size()))
	le.PutUint64(buf[40:], mtim)
	le.PutUint64(buf[48:], mtim)
	le.PutUint64(buf[56:], mtim)
}

// fdPrestatGet writes the prestat of a preopened directory: tag 0 and the
// length of its guest name.
func fdPrestatGet(hc *host.Context, args []uint64) Errno {
	fd, ptr := uint32(args[0]), uint32(args[1])

	f, ok := hc.Files.Get(fd)
	if !ok || f.Preopen == "" {
		return ErrnoBadf
	}
	buf, ok := hc.Read(ptr, 8)
	if !ok {
		return ErrnoFault
	}
	clear(buf)
	le.PutUint32(buf[4:], uint32(len(f.Preopen)))
	return ErrnoSuccess
}

// fdPrestatDirName copies the guest name of a preopened directory.
func fdPrestatDirName(hc *host.Context, args []uint64) Errno {
	fd, ptr, n := uint32(args[0]), uint32(args[1]), uint32(args[2])

	f, ok := hc.Files.Get(fd)
	if !ok || f.Preopen == "" {
		return ErrnoBadf
	}
	if uint32(len(f.Preopen)) < n {
		return ErrnoNametoolong
	}
	if !hc.Write(ptr, []byte(f.Preopen)[:n]) {
		return ErrnoFault
	}
	return ErrnoSuccess
}
