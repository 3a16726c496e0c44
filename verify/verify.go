// Package verify runs an exported function through the translated module
// and through wazero, and compares the outcomes.
//
// Both sides get the same arguments, command-line args and environment.
// Results match when the values are bit-equal (any two NaNs of the same
// width are equal), when both sides fault with the same trap, or when both
// exit with the same proc_exit code. Captured stdout must also match.
package verify

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/wasm2ir/errors"
	"github.com/wippyai/wasm2ir/host"
	"github.com/wippyai/wasm2ir/host/wasi"
	"github.com/wippyai/wasm2ir/il"
	"github.com/wippyai/wasm2ir/runtime"
	"github.com/wippyai/wasm2ir/translate"
)

// Options configures a comparison run.
type Options struct {
	// Hosts backs the translated side. Nil uses a registry with the wasi
	// package functions.
	Hosts *host.Registry
	Args  []string
	Env   []string
}

// Outcome is what one side produced.
type Outcome struct {
	Value  uint64
	Err    error
	Stdout string
}

// String formats the outcome for a result of type t.
func (o Outcome) String(t il.Type) string {
	if o.Err != nil {
		return "error: " + o.Err.Error()
	}
	if t == il.Void {
		return "(void)"
	}
	return runtime.Format(t, o.Value)
}

// Result is the comparison of one call.
type Result struct {
	Func string
	Type il.Type
	// Got is the translated module's outcome, Want is wazero's.
	Got   Outcome
	Want  Outcome
	Match bool
	// Reason says why the outcomes differ.
	Reason string
}

// Run calls fn with args, given as text, on both engines.
func Run(ctx context.Context, data []byte, fn string, args []string, opts Options) (*Result, error) {
	hosts := opts.Hosts
	if hosts == nil {
		hosts = host.NewRegistry()
		if err := wasi.Register(hosts); err != nil {
			return nil, err
		}
	}

	m, err := translate.Translate(ctx, data, translate.Options{Hosts: hosts})
	if err != nil {
		return nil, err
	}
	f, ok := m.Export(fn)
	if !ok {
		return nil, errors.NotFound(errors.PhaseRuntime, "export", fn)
	}
	vals, err := runtime.EncodeArgs(f.Signature(), args)
	if err != nil {
		return nil, err
	}

	res := &Result{Func: fn, Type: f.Result}
	res.Got, err = runTranslated(ctx, m, hosts, fn, vals, opts)
	if err != nil {
		return nil, err
	}
	res.Want, err = runReference(ctx, data, fn, vals, f.Result, opts)
	if err != nil {
		return nil, err
	}
	res.Match, res.Reason = compare(f.Result, res.Got, res.Want)

	Logger().Debug("verified",
		zap.String("func", fn),
		zap.Bool("match", res.Match),
		zap.String("reason", res.Reason))
	return res, nil
}

func runTranslated(ctx context.Context, m *il.Module, hosts *host.Registry, fn string, args []uint64, opts Options) (Outcome, error) {
	var stdout bytes.Buffer
	hc := host.NewContext().
		WithArgs(opts.Args).
		WithEnv(opts.Env).
		WithStdio(nil, &stdout, nil)

	inst, err := runtime.New(hosts).Instantiate(ctx, m, hc)
	if err != nil {
		return Outcome{}, err
	}
	defer inst.Close()

	v, err := inst.Call(ctx, fn, args...)
	return Outcome{Value: v, Err: err, Stdout: stdout.String()}, nil
}

func runReference(ctx context.Context, data []byte, fn string, args []uint64, result il.Type, opts Options) (Outcome, error) {
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	compiled, err := r.CompileModule(ctx, data)
	if err != nil {
		return Outcome{}, errors.Wrap(errors.PhaseRuntime, errors.KindInstantiation, err, "compile reference module")
	}
	if err := instantiateHosts(ctx, r, compiled); err != nil {
		return Outcome{}, err
	}

	var stdout bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions().
		WithStdout(&stdout).
		WithArgs(opts.Args...)
	for _, kv := range opts.Env {
		k, v, _ := strings.Cut(kv, "=")
		cfg = cfg.WithEnv(k, v)
	}

	mod, err := r.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		return Outcome{}, errors.Wrap(errors.PhaseRuntime, errors.KindInstantiation, err, "instantiate reference module")
	}
	defer mod.Close(ctx)

	f := mod.ExportedFunction(fn)
	if f == nil {
		return Outcome{}, errors.NotFound(errors.PhaseRuntime, "reference export", fn)
	}
	out, err := f.Call(ctx, args...)
	o := Outcome{Err: err, Stdout: stdout.String()}
	if err == nil && result != il.Void && len(out) > 0 {
		o.Value = out[0]
		if result == il.I32 || result == il.F32 {
			o.Value = uint64(uint32(o.Value))
		}
	}
	return o, nil
}

// instantiateHosts provides the host modules the reference module imports:
// WASI under both of its import names and env.abort.
func instantiateHosts(ctx context.Context, r wazero.Runtime, compiled wazero.CompiledModule) error {
	needed := make(map[string]bool)
	for _, def := range compiled.ImportedFunctions() {
		module, _, _ := def.Import()
		needed[module] = true
	}

	for _, name := range []string{wasi.ModuleName, "wasi_unstable"} {
		if !needed[name] {
			continue
		}
		b := r.NewHostModuleBuilder(name)
		wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(b)
		if _, err := b.Instantiate(ctx); err != nil {
			return errors.Wrap(errors.PhaseRuntime, errors.KindInstantiation, err, "instantiate "+name)
		}
	}

	if needed[wasi.EnvModule] {
		_, err := r.NewHostModuleBuilder(wasi.EnvModule).
			NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(context.Context, api.Module, []uint64) {
				panic(wasi.ErrAbort)
			}), nil, nil).
			Export("abort").
			Instantiate(ctx)
		if err != nil {
			return errors.Wrap(errors.PhaseRuntime, errors.KindInstantiation, err, "instantiate env")
		}
	}
	return nil
}

// compare decides whether two outcomes agree.
func compare(t il.Type, got, want Outcome) (bool, string) {
	if got.Stdout != want.Stdout {
		return false, fmt.Sprintf("stdout differs: %q vs %q", got.Stdout, want.Stdout)
	}
	switch {
	case got.Err == nil && want.Err == nil:
		if sameValue(t, got.Value, want.Value) {
			return true, ""
		}
		return false, fmt.Sprintf("result %s, reference %s", got.String(t), want.String(t))
	case got.Err != nil && want.Err != nil:
		if sameFault(got.Err, want.Err) {
			return true, ""
		}
		return false, fmt.Sprintf("fault %v, reference %v", got.Err, want.Err)
	case got.Err != nil:
		return false, fmt.Sprintf("fault %v, reference returned %s", got.Err, want.String(t))
	default:
		return false, fmt.Sprintf("returned %s, reference fault %v", got.String(t), want.Err)
	}
}

func sameValue(t il.Type, a, b uint64) bool {
	if a == b {
		return true
	}
	switch t {
	case il.F32:
		return math.IsNaN(float64(math.Float32frombits(uint32(a)))) &&
			math.IsNaN(float64(math.Float32frombits(uint32(b))))
	case il.F64:
		return math.IsNaN(math.Float64frombits(a)) && math.IsNaN(math.Float64frombits(b))
	}
	return false
}

// referenceFaults maps trap codes to the wording of wazero's errors where
// the two differ.
var referenceFaults = map[runtime.TrapCode]string{
	runtime.TrapUndefinedElement:     "invalid table access",
	runtime.TrapUninitializedElement: "invalid table access",
	runtime.TrapCallStackExhausted:   "stack overflow",
}

func sameFault(got, want error) bool {
	var gotExit *host.ExitError
	var wantExit *sys.ExitError
	stderrors.As(got, &gotExit)
	stderrors.As(want, &wantExit)
	if gotExit != nil || wantExit != nil {
		return gotExit != nil && wantExit != nil && gotExit.Code == wantExit.ExitCode()
	}

	var trap *runtime.Trap
	if !stderrors.As(got, &trap) {
		return stderrors.Is(got, wasi.ErrAbort) && strings.Contains(want.Error(), "abort")
	}
	msg := want.Error()
	if alt, ok := referenceFaults[trap.Code]; ok && strings.Contains(msg, alt) {
		return true
	}
	return strings.Contains(msg, string(trap.Code))
}
