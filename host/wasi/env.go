package wasi

import (
	"io"
	"runtime"

	"github.com/wippyai/wasm2ir/host"
)

// Clock ids.
const (
	clockRealtime  = 0
	clockMonotonic = 1
)

// writeStrings lays out values as NUL-terminated strings at buf and their
// addresses at offsets, the shared encoding of args_get and environ_get.
func writeStrings(hc *host.Context, values []string, offsets, buf uint32) Errno {
	for i, v := range values {
		if !hc.WriteU32(offsets+uint32(i)*4, buf) {
			return ErrnoFault
		}
		b := append([]byte(v), 0)
		if !hc.Write(buf, b) {
			return ErrnoFault
		}
		buf += uint32(len(b))
	}
	return ErrnoSuccess
}

// writeSizes stores the count of values and their total size including
// terminators.
func writeSizes(hc *host.Context, values []string, countPtr, sizePtr uint32) Errno {
	var size uint32
	for _, v := range values {
		size += uint32(len(v)) + 1
	}
	if !hc.WriteU32(countPtr, uint32(len(values))) || !hc.WriteU32(sizePtr, size) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

func argsGet(hc *host.Context, args []uint64) Errno {
	return writeStrings(hc, hc.Args, uint32(args[0]), uint32(args[1]))
}

func argsSizesGet(hc *host.Context, args []uint64) Errno {
	return writeSizes(hc, hc.Args, uint32(args[0]), uint32(args[1]))
}

func environGet(hc *host.Context, args []uint64) Errno {
	return writeStrings(hc, hc.Env, uint32(args[0]), uint32(args[1]))
}

func environSizesGet(hc *host.Context, args []uint64) Errno {
	return writeSizes(hc, hc.Env, uint32(args[0]), uint32(args[1]))
}

func schedYield(*host.Context, []uint64) Errno {
	runtime.Gosched()
	return ErrnoSuccess
}

// clockTimeGet stores the time in nanoseconds. Both supported clocks read
// the context clock; precision is ignored.
//
//	clock_time_get(id, precision i64, time) -> errno
func clockTimeGet(hc *host.Context, args []uint64) Errno {
	id, ptr := uint32(args[0]), uint32(args[2])
	switch id {
	case clockRealtime, clockMonotonic:
	default:
		return ErrnoInval
	}
	if !hc.WriteU64(ptr, uint64(hc.Now().UnixNano())) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

func randomGet(hc *host.Context, args []uint64) Errno {
	buf, ok := hc.Read(uint32(args[0]), uint32(args[1]))
	if !ok {
		return ErrnoFault
	}
	if _, err := io.ReadFull(hc.Rand, buf); err != nil {
		return ErrnoIo
	}
	return ErrnoSuccess
}
