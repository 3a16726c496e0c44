package host

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wippyai/wasm2ir/errors"
	"github.com/wippyai/wasm2ir/il"
)

// Impl implements a host function. Arguments and the result use the il
// value encoding: i32 zero-extended, floats as IEEE-754 bits.
type Impl func(hc *Context, args []uint64) (uint64, error)

// Func is one host function.
type Func struct {
	Impl         Impl
	Module       string
	Name         string
	Params       []il.Type
	Result       il.Type
	NeedsContext bool
}

// Signature returns the function's il signature.
func (f *Func) Signature() il.Signature {
	return il.Signature{Params: f.Params, Result: f.Result}
}

// Ref returns the il host reference describing f.
func (f *Func) Ref() il.HostRef {
	return il.HostRef{
		Module:       f.Module,
		Name:         f.Name,
		Params:       f.Params,
		Result:       f.Result,
		NeedsContext: f.NeedsContext,
	}
}

func (f *Func) String() string {
	return fmt.Sprintf("%s.%s%s", f.Module, f.Name, f.Signature())
}

type funcKey struct {
	module string
	name   string
}

// Registry maps (module, name) to host functions.
//
// Lookup tries the exact pair first and then falls back to the name alone
// when exactly one registered function carries it, so a function
// registered under wasi_snapshot_preview1 also resolves under
// wasi_unstable. Results, including misses, are cached.
type Registry struct {
	funcs  map[funcKey]*Func
	byName map[string][]*Func
	cache  map[funcKey]*Func
	mu     sync.Mutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		funcs:  make(map[funcKey]*Func),
		byName: make(map[string][]*Func),
		cache:  make(map[funcKey]*Func),
	}
}

// Register adds f. Registering the same (module, name) twice fails.
func (r *Registry) Register(f *Func) error {
	if f == nil || f.Impl == nil {
		return errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Detail("host function has no implementation").Build()
	}
	k := funcKey{f.Module, f.Name}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.funcs[k]; dup {
		return errors.Registration(f.Module, f.Name, fmt.Errorf("duplicate host function"))
	}
	r.funcs[k] = f
	r.byName[f.Name] = append(r.byName[f.Name], f)
	clear(r.cache)
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(f *Func) {
	if err := r.Register(f); err != nil {
		panic(err)
	}
}

// Lookup resolves an import to a host function.
func (r *Registry) Lookup(module, name string) (*Func, bool) {
	k := funcKey{module, name}

	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.cache[k]; ok {
		return f, f != nil
	}

	f := r.funcs[k]
	if f == nil {
		if candidates := r.byName[name]; len(candidates) == 1 {
			f = candidates[0]
		}
	}
	r.cache[k] = f
	return f, f != nil
}

// Funcs returns the registered functions ordered by module and name.
func (r *Registry) Funcs() []*Func {
	r.mu.Lock()
	out := make([]*Func, 0, len(r.funcs))
	for _, f := range r.funcs {
		out = append(out, f)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.funcs)
}
