package runtime

import (
	"context"
	"fmt"
	"sort"

	"github.com/wippyai/wasm2ir/errors"
	"github.com/wippyai/wasm2ir/host"
	"github.com/wippyai/wasm2ir/il"
)

// Instance is an instantiated module with its own memory, globals, table
// and host context.
type Instance struct {
	module   *il.Module
	funcs    []*compiled
	hosts    []*host.Func
	byName   map[string]uint32
	globals  []uint64
	mem      []byte
	table    table
	hc       *host.Context
	maxDepth int
}

// Memory is a live view of an instance's linear memory. It implements
// host.Memory.
type Memory struct {
	inst *Instance
}

// Bytes returns the current buffer. memory.grow replaces it.
func (m *Memory) Bytes() []byte {
	return m.inst.mem
}

// Pages returns the size in 64 KiB pages.
func (m *Memory) Pages() uint32 {
	return uint32(len(m.inst.mem) >> 16)
}

// Memory returns the instance memory.
func (i *Instance) Memory() *Memory {
	return &Memory{inst: i}
}

// Context returns the host context bound to the instance.
func (i *Instance) Context() *host.Context {
	return i.hc
}

// Module returns the module the instance was created from.
func (i *Instance) Module() *il.Module {
	return i.module
}

// Exports returns the exported function names in sorted order.
func (i *Instance) Exports() []string {
	names := make([]string, 0, len(i.byName))
	for name := range i.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Function returns the exported function called name.
func (i *Instance) Function(name string) (*il.Function, bool) {
	idx, ok := i.byName[name]
	if !ok {
		return nil, false
	}
	return i.module.Functions[idx], true
}

// Global returns the current value of global idx.
func (i *Instance) Global(idx uint32) (uint64, bool) {
	if int(idx) >= len(i.globals) {
		return 0, false
	}
	return i.globals[idx], true
}

// Call invokes the exported function name. Arguments and the result use
// the il value encoding; the result is 0 for void functions.
func (i *Instance) Call(ctx context.Context, name string, args ...uint64) (uint64, error) {
	idx, ok := i.byName[name]
	if !ok {
		return 0, errors.NotFound(errors.PhaseRuntime, "export", name)
	}
	return i.CallIndex(ctx, idx, args...)
}

// CallIndex invokes function idx of the module function space.
func (i *Instance) CallIndex(ctx context.Context, idx uint32, args ...uint64) (uint64, error) {
	if int(idx) >= len(i.funcs) {
		return 0, errors.OutOfBounds(errors.PhaseRuntime, []string{"func"}, int(idx), len(i.funcs))
	}
	f := i.funcs[idx].fn
	if len(args) != len(f.Params) {
		return 0, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Path(f.Name).
			Want(fmt.Sprintf("%d arguments", len(f.Params))).
			Got(fmt.Sprintf("%d arguments", len(args))).
			Build()
	}
	return i.invoke(ctx, i.funcs[idx], append([]uint64(nil), args...))
}

// Close releases the host context's open descriptors.
func (i *Instance) Close() error {
	return i.hc.Close()
}
