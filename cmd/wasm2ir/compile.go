package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wippyai/wasm2ir"
	"github.com/wippyai/wasm2ir/errors"
)

func getCmdCompile(gs *globalState) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "compile <in.wasm>...",
		Short: "Translate WebAssembly files into il artifacts",
		Long: `Translate WebAssembly files into il artifacts.

  With one input, -o names the artifact. With several inputs, -o names the
  output directory and the inputs are translated concurrently.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			jobs, err := compileJobs(gs, args, output)
			if err != nil {
				return err
			}

			start := time.Now()
			results, err := wasm2ir.CompileAll(gs.ctx, jobs, gs.compileOptions())
			if err != nil {
				return err
			}
			printCompileSummary(gs, results, time.Since(start))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "artifact path, or output directory for several inputs")
	return cmd
}

func compileJobs(gs *globalState, inputs []string, output string) ([]wasm2ir.Job, error) {
	if len(inputs) == 1 {
		return []wasm2ir.Job{{Input: inputs[0], Output: output}}, nil
	}
	if output != "" {
		if err := gs.fs.MkdirAll(output, 0o755); err != nil {
			return nil, errors.Wrap(errors.PhaseEmit, errors.KindInvalidInput, err, "create "+output)
		}
	}

	jobs := make([]wasm2ir.Job, len(inputs))
	seen := make(map[string]string, len(inputs))
	for i, in := range inputs {
		out := wasm2ir.OutputPath(in)
		if output != "" {
			out = filepath.Join(output, filepath.Base(out))
		}
		if prev, ok := seen[out]; ok {
			return nil, errors.InvalidInput(errors.PhaseEmit,
				fmt.Sprintf("%s and %s both compile to %s", prev, in, out))
		}
		seen[out] = in
		jobs[i] = wasm2ir.Job{Input: in, Output: out}
	}
	return jobs, nil
}

func printCompileSummary(gs *globalState, results []*wasm2ir.Result, elapsed time.Duration) {
	ok := color.New(color.FgGreen).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()

	var stubs int
	for _, r := range results {
		line := fmt.Sprintf("%s %s -> %s  %d functions, %d exports, %s",
			ok("✓"), r.Input, r.Output, r.Functions, r.Exports, formatSize(r.Size))
		if r.Stubs > 0 {
			line += ", " + warn(fmt.Sprintf("%d stubbed imports", r.Stubs))
		}
		fmt.Fprintf(gs.stdout, "%s %s\n", line, faint(r.Elapsed.Round(time.Microsecond)))
		stubs += r.Stubs
	}

	summary := fmt.Sprintf("compiled %d module(s) in %s", len(results), elapsed.Round(time.Millisecond))
	if stubs > 0 {
		summary += warn(fmt.Sprintf(" (%d stubs trap when called)", stubs))
	}
	fmt.Fprintln(gs.stdout, ok(summary))
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
