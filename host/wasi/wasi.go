// Package wasi implements the subset of WASI preview1 used by programs
// built with wasi-libc, as host functions for a host.Registry.
//
// Every function takes the host context handle and reaches guest memory
// through it. Descriptors 0 to 2 are stdio; preopened directories follow
// and are backed by an afero filesystem:
//
//	reg := host.NewRegistry()
//	if err := wasi.Register(reg); err != nil {
//		return err
//	}
//	hc := host.NewContext().
//		WithArgs([]string{"prog"}).
//		WithFs(afero.NewOsFs()).
//		WithPreopen("/tmp", "/var/lib/prog")
package wasi

import (
	"github.com/wippyai/wasm2ir/errors"
	"github.com/wippyai/wasm2ir/host"
	"github.com/wippyai/wasm2ir/il"
)

// ModuleName is the import module of WASI preview1.
const ModuleName = "wasi_snapshot_preview1"

// EnvModule hosts helpers imported from "env".
const EnvModule = "env"

// ErrAbort is returned by env.abort.
var ErrAbort = errors.New(errors.PhaseHost, errors.KindTrap).Detail("abort called").Build()

var (
	i32 = il.I32
	i64 = il.I64
)

// errnoFunc adapts a function returning an Errno to host.Impl.
func errnoFunc(fn func(hc *host.Context, args []uint64) Errno) host.Impl {
	return func(hc *host.Context, args []uint64) (uint64, error) {
		return uint64(fn(hc, args)), nil
	}
}

func newFunc(name string, fn func(*host.Context, []uint64) Errno, params ...il.Type) *host.Func {
	return &host.Func{
		Module:       ModuleName,
		Name:         name,
		Params:       params,
		Result:       il.I32,
		NeedsContext: true,
		Impl:         errnoFunc(fn),
	}
}

// Funcs returns the host functions of this package.
func Funcs() []*host.Func {
	return []*host.Func{
		newFunc("fd_write", fdWrite, i32, i32, i32, i32),
		newFunc("fd_read", fdRead, i32, i32, i32, i32),
		newFunc("fd_seek", fdSeek, i32, i64, i32, i32),
		newFunc("fd_close", fdClose, i32),
		newFunc("fd_sync", fdSync, i32),
		newFunc("fd_fdstat_get", fdFdstatGet, i32, i32),
		newFunc("fd_filestat_get", fdFilestatGet, i32, i32),
		newFunc("fd_prestat_get", fdPrestatGet, i32, i32),
		newFunc("fd_prestat_dir_name", fdPrestatDirName, i32, i32, i32),

		newFunc("path_open", pathOpen, i32, i32, i32, i32, i32, i64, i64, i32, i32),
		newFunc("path_filestat_get", pathFilestatGet, i32, i32, i32, i32, i32),
		newFunc("path_unlink_file", pathUnlinkFile, i32, i32, i32),

		newFunc("environ_get", environGet, i32, i32),
		newFunc("environ_sizes_get", environSizesGet, i32, i32),
		newFunc("args_get", argsGet, i32, i32),
		newFunc("args_sizes_get", argsSizesGet, i32, i32),

		newFunc("sched_yield", schedYield),
		newFunc("clock_time_get", clockTimeGet, i32, i64, i32),
		newFunc("random_get", randomGet, i32, i32),
		{
			Module:       ModuleName,
			Name:         "proc_exit",
			Params:       []il.Type{il.I32},
			NeedsContext: true,
			Impl:         procExit,
		},
		{
			Module: EnvModule,
			Name:   "abort",
			Impl:   abort,
		},
	}
}

// Register adds every function of this package to reg.
func Register(reg *host.Registry) error {
	for _, f := range Funcs() {
		if err := reg.Register(f); err != nil {
			return err
		}
	}
	Logger().Debug("wasi functions registered")
	return nil
}

func procExit(hc *host.Context, args []uint64) (uint64, error) {
	return 0, hc.Exit(uint32(args[0]))
}

func abort(*host.Context, []uint64) (uint64, error) {
	return 0, ErrAbort
}
