package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm2ir"
	"github.com/wippyai/wasm2ir/errors"
	"github.com/wippyai/wasm2ir/host"
	"github.com/wippyai/wasm2ir/il"
	"github.com/wippyai/wasm2ir/runtime"
)

var entryPoints = []string{"_start", "main", "run"}

func getCmdRun(gs *globalState) *cobra.Command {
	var (
		interactive bool
		list        bool
	)

	cmd := &cobra.Command{
		Use:   "run <in.wasm|in.w2ir> [func] [args...]",
		Short: "Run an exported function",
		Long: `Run an exported function of a WebAssembly file or il artifact.

  WebAssembly input is translated first. Without a function name, the first
  of _start, main and run found is called, or the only export.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			m, err := loadModule(gs, args[0])
			if err != nil {
				return err
			}
			if list {
				printExports(gs, m)
				return nil
			}
			if interactive {
				return runInteractive(gs, args[0], m)
			}

			fn := ""
			if len(args) > 1 {
				fn = args[1]
			}
			var fnArgs []string
			if len(args) > 2 {
				fnArgs = args[2:]
			}
			return runFunc(gs, args[0], m, fn, fnArgs)
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "pick the function and arguments in a terminal UI")
	cmd.Flags().BoolVar(&list, "list", false, "list exported functions and exit")
	return cmd
}

// loadModule reads an artifact, or translates a WebAssembly file.
func loadModule(gs *globalState, path string) (*il.Module, error) {
	if filepath.Ext(path) == il.ArtifactExt {
		return il.ReadFile(gs.fs, path)
	}
	data, err := afero.ReadFile(gs.fs, path)
	if err != nil {
		return nil, errors.New(errors.PhaseDecode, errors.KindNotFound).
			Path(path).Detail("read input").Cause(err).Build()
	}
	return wasm2ir.Compile(gs.ctx, data, gs.compileOptions())
}

// newInstance instantiates m with the WASI functions and a context built
// from the configuration.
func newInstance(gs *globalState, path string, m *il.Module, hc *host.Context) (*runtime.Instance, error) {
	reg, err := wasm2ir.DefaultHosts()
	if err != nil {
		return nil, err
	}

	hc.WithArgs(append([]string{filepath.Base(path)}, gs.cfg.Args...)).
		WithEnv(gs.cfg.Env)
	if gs.cfg.PreopenDir != "" {
		hc.WithFs(gs.fs).WithPreopen(gs.cfg.PreopenGuest, gs.cfg.PreopenDir)
	}

	rt := runtime.New(reg, runtime.WithMaxCallDepth(gs.cfg.MaxCallDepth))
	return rt.Instantiate(gs.ctx, m, hc)
}

func runFunc(gs *globalState, path string, m *il.Module, fn string, args []string) error {
	if fn == "" {
		var err error
		if fn, err = defaultEntry(m); err != nil {
			return err
		}
	}
	f, ok := m.Export(fn)
	if !ok {
		return errors.NotFound(errors.PhaseRuntime, "export", fn)
	}
	vals, err := runtime.EncodeArgs(f.Signature(), args)
	if err != nil {
		return err
	}

	hc := host.NewContext().WithStdio(gs.stdin, gs.stdout, gs.stderr)
	inst, err := newInstance(gs, path, m, hc)
	if err != nil {
		return err
	}
	defer inst.Close()

	start := time.Now()
	result, err := inst.Call(gs.ctx, fn, vals...)
	elapsed := time.Since(start)
	gs.log.Debug("call finished", zap.String("func", fn), zap.Duration("elapsed", elapsed))
	if err != nil {
		return err
	}

	if f.Result != il.Void {
		fmt.Fprintf(gs.stdout, "%s\n", runtime.Format(f.Result, result))
	}
	fmt.Fprintf(gs.stderr, "%s finished in %s\n", fn, elapsed.Round(time.Microsecond))
	return nil
}

func defaultEntry(m *il.Module) (string, error) {
	for _, name := range entryPoints {
		if _, ok := m.Export(name); ok {
			return name, nil
		}
	}
	if len(m.Exports) == 1 {
		return m.Exports[0].Name, nil
	}
	return "", errors.InvalidInput(errors.PhaseRuntime,
		"no function given and no entry point among "+strings.Join(entryPoints, ", "))
}

func exportNames(m *il.Module) []string {
	names := make([]string, len(m.Exports))
	for i, e := range m.Exports {
		names[i] = e.Name
	}
	sort.Strings(names)
	return names
}

func printExports(gs *globalState, m *il.Module) {
	for _, name := range exportNames(m) {
		f, _ := m.Export(name)
		fmt.Fprintf(gs.stdout, "%s%s\n", name, f.Signature())
	}
}

func isTerminal(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}
