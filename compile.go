package wasm2ir

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/wasm2ir/config"
	"github.com/wippyai/wasm2ir/errors"
	"github.com/wippyai/wasm2ir/host"
	"github.com/wippyai/wasm2ir/host/wasi"
	"github.com/wippyai/wasm2ir/il"
	"github.com/wippyai/wasm2ir/translate"
)

// Options configures compilation.
type Options struct {
	// Config supplies memory defaults, the compression level and the worker
	// limit. The zero value uses config.Default.
	Config *config.Config
	// Hosts resolves imports. Nil gives every compilation its own registry
	// with the wasi functions.
	Hosts *host.Registry
	// Fs holds inputs and outputs. Nil uses the OS filesystem.
	Fs afero.Fs
}

func (o Options) config() config.Config {
	if o.Config != nil {
		return *o.Config
	}
	return config.Default()
}

func (o Options) fs() afero.Fs {
	if o.Fs != nil {
		return o.Fs
	}
	return afero.NewOsFs()
}

func (o Options) hosts() (*host.Registry, error) {
	if o.Hosts != nil {
		return o.Hosts, nil
	}
	return DefaultHosts()
}

// DefaultHosts returns a registry with the wasi functions.
func DefaultHosts() (*host.Registry, error) {
	reg := host.NewRegistry()
	if err := wasi.Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// Job is one input file and the artifact path it compiles to. An empty
// Output uses OutputPath(Input).
type Job struct {
	Input  string
	Output string
}

// Result summarizes one compiled file.
type Result struct {
	Input     string
	Output    string
	Functions int
	Exports   int
	Hosts     int
	Stubs     int
	Size      int64
	Elapsed   time.Duration
}

// OutputPath replaces the .wasm extension of in with the artifact
// extension.
func OutputPath(in string) string {
	return strings.TrimSuffix(in, filepath.Ext(in)) + il.ArtifactExt
}

// Compile translates a WebAssembly binary.
func Compile(ctx context.Context, data []byte, opts Options) (*il.Module, error) {
	cfg := opts.config()
	hosts, err := opts.hosts()
	if err != nil {
		return nil, err
	}
	return translate.Translate(ctx, data, translate.Options{
		Hosts:              hosts,
		DefaultMemoryPages: cfg.MemoryPages,
	})
}

// CompileFile translates the WebAssembly file at in and writes the
// artifact to out. An empty out uses OutputPath(in).
func CompileFile(ctx context.Context, in, out string, opts Options) (*Result, error) {
	start := time.Now()
	if out == "" {
		out = OutputPath(in)
	}
	fs := opts.fs()

	data, err := afero.ReadFile(fs, in)
	if err != nil {
		return nil, errors.New(errors.PhaseDecode, errors.KindNotFound).
			Path(in).Detail("read input").Cause(err).Build()
	}
	m, err := Compile(ctx, data, opts)
	if err != nil {
		return nil, wrapInput(in, err)
	}
	if err := il.WriteFile(fs, out, m, il.EncodeOptions{Level: opts.config().CompressionLevel}); err != nil {
		return nil, err
	}

	res := &Result{
		Input:     in,
		Output:    out,
		Functions: len(m.Functions),
		Exports:   len(m.Exports),
		Hosts:     len(m.Hosts),
		Elapsed:   time.Since(start),
	}
	for _, f := range m.Functions {
		if f.Kind == il.KindStub {
			res.Stubs++
		}
	}
	if info, err := fs.Stat(out); err == nil {
		res.Size = info.Size()
	}

	Logger().Debug("compiled",
		zap.String("input", in),
		zap.String("output", out),
		zap.Int("functions", res.Functions),
		zap.Int("stubs", res.Stubs),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

// CompileAll compiles jobs concurrently, at most Config.WorkerCount at a
// time. Results are in job order. The first failure cancels the remaining
// jobs and is returned.
func CompileAll(ctx context.Context, jobs []Job, opts Options) ([]*Result, error) {
	results := make([]*Result, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.config().WorkerCount())
	for i, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := CompileFile(ctx, job.Input, job.Output, opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func wrapInput(in string, err error) error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		e.WithPath(in)
	}
	return err
}
