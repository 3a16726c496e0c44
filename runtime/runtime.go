package runtime

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasm2ir/config"
	"github.com/wippyai/wasm2ir/errors"
	"github.com/wippyai/wasm2ir/host"
	"github.com/wippyai/wasm2ir/il"
)

// Runtime instantiates translated modules against a host registry.
type Runtime struct {
	hosts        *host.Registry
	maxCallDepth int
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithMaxCallDepth bounds guest recursion. Deeper calls trap with
// TrapCallStackExhausted.
func WithMaxCallDepth(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.maxCallDepth = n
		}
	}
}

// New creates a Runtime. A nil registry resolves no host functions.
func New(hosts *host.Registry, opts ...Option) *Runtime {
	if hosts == nil {
		hosts = host.NewRegistry()
	}
	r := &Runtime{hosts: hosts, maxCallDepth: config.DefaultMaxCallDepth}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Instantiate binds m's host references, attaches hc to the new instance's
// memory and runs the module initializer. A nil hc gets host.NewContext.
func (r *Runtime) Instantiate(ctx context.Context, m *il.Module, hc *host.Context) (*Instance, error) {
	if m == nil {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "nil module")
	}
	if hc == nil {
		hc = host.NewContext()
	}

	hosts, err := r.link(m)
	if err != nil {
		return nil, err
	}

	inst := &Instance{
		module:   m,
		hosts:    hosts,
		globals:  make([]uint64, len(m.Globals)),
		hc:       hc,
		maxDepth: r.maxCallDepth,
		byName:   make(map[string]uint32, len(m.Exports)),
	}
	for _, e := range m.Exports {
		inst.byName[e.Name] = e.Func
	}
	inst.funcs = make([]*compiled, len(m.Functions))
	for i, f := range m.Functions {
		c, err := prepare(f)
		if err != nil {
			return nil, err
		}
		inst.funcs[i] = c
	}
	hc.WithMemory(inst.Memory())

	if m.Memory.HasMax {
		Logger().Debug("memory maximum not enforced",
			zap.Uint32("pages", m.Memory.Pages),
			zap.Uint32("max", m.Memory.Max))
	}

	if m.Init != nil {
		initFn, err := prepare(m.Init)
		if err != nil {
			return nil, err
		}
		if _, err := inst.invoke(ctx, initFn, nil); err != nil {
			return nil, errors.Instantiation(err)
		}
	}
	Logger().Debug("module instantiated",
		zap.Int("functions", len(m.Functions)),
		zap.Int("hosts", len(hosts)),
		zap.Int("memory_bytes", len(inst.mem)))
	return inst, nil
}

// link resolves every host reference of m. All missing functions are
// reported together.
func (r *Runtime) link(m *il.Module) ([]*host.Func, error) {
	hosts := make([]*host.Func, len(m.Hosts))
	var missing []string
	for i, ref := range m.Hosts {
		f, ok := r.hosts.Lookup(ref.Module, ref.Name)
		if !ok {
			missing = append(missing, ref.Key())
			continue
		}
		want := il.Signature{Params: ref.Params, Result: ref.Result}
		if !f.Signature().Equal(want) || f.NeedsContext != ref.NeedsContext {
			return nil, errors.TypeMismatch(errors.PhaseLink, []string{"host", ref.Key()},
				want.String(), f.Signature().String())
		}
		hosts[i] = f
	}
	if len(missing) > 0 {
		Logger().Warn("unresolved host functions", zap.Strings("imports", missing))
		return nil, errors.NewMissingImportsError(missing)
	}
	return hosts, nil
}

// compiled is a function with resolved label positions.
type compiled struct {
	fn     *il.Function
	labels []int
}

func prepare(f *il.Function) (*compiled, error) {
	bad := func(format string, args ...any) error {
		return errors.InvalidData(errors.PhaseLoad, []string{f.Name}, fmt.Sprintf(format, args...))
	}
	// Every label is marked by an instruction.
	if uint64(f.Labels) > uint64(len(f.Code)) {
		return nil, bad("%d labels exceed %d instructions", f.Labels, len(f.Code))
	}
	c := &compiled{fn: f, labels: make([]int, f.Labels)}
	for i := range c.labels {
		c.labels[i] = -1
	}
	for pc, in := range f.Code {
		if !in.Op.Valid() {
			return nil, bad("invalid opcode %d at %d", in.Op, pc)
		}
		if in.Op != il.OpLabel {
			continue
		}
		if in.Arg >= uint64(f.Labels) {
			return nil, bad("label L%d out of range", in.Arg)
		}
		if c.labels[in.Arg] >= 0 {
			return nil, bad("label L%d marked twice", in.Arg)
		}
		c.labels[in.Arg] = pc
	}
	check := func(l uint64) error {
		if l >= uint64(len(c.labels)) || c.labels[l] < 0 {
			return bad("branch to unmarked label L%d", l)
		}
		return nil
	}
	for _, in := range f.Code {
		switch in.Op {
		case il.OpBr, il.OpBrtrue, il.OpBrfalse:
			if err := check(in.Arg); err != nil {
				return nil, err
			}
		case il.OpSwitch:
			for _, l := range in.Targets {
				if err := check(uint64(l)); err != nil {
					return nil, err
				}
			}
		}
	}
	return c, nil
}
