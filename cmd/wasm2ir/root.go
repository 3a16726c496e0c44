package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm2ir"
	"github.com/wippyai/wasm2ir/config"
	"github.com/wippyai/wasm2ir/errors"
	"github.com/wippyai/wasm2ir/host/wasi"
	"github.com/wippyai/wasm2ir/runtime"
	"github.com/wippyai/wasm2ir/translate"
	"github.com/wippyai/wasm2ir/verify"
)

// globalState is shared by every command.
type globalState struct {
	ctx    context.Context
	fs     afero.Fs
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	lookup func(string) (string, bool)

	cfg config.Config
	log *zap.Logger
}

func newGlobalState() *globalState {
	return &globalState{
		ctx:    context.Background(),
		fs:     afero.NewOsFs(),
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		lookup: os.LookupEnv,
		cfg:    config.Default(),
		log:    zap.NewNop(),
	}
}

func newRootCmd(gs *globalState) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "wasm2ir",
		Short: "Translate WebAssembly modules to il and run them",
		Long: `wasm2ir translates WebAssembly modules ahead of time into a typed
stack-machine intermediate language, runs the result with WASI preview1
host functions, and checks it against wazero.

Settings load from defaults, then the --config YAML file, then WASM2IR_*
environment variables, then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(gs.fs, configPath, gs.lookup)
			if err != nil {
				return err
			}
			if err := cfg.ApplyFlags(cmd.Flags()); err != nil {
				return err
			}
			gs.cfg = cfg

			log, err := newLogger(cfg.LogLevel, gs.stderr)
			if err != nil {
				return err
			}
			gs.log = log
			installLogger(log)
			log.Debug("configuration loaded", zap.Stringer("config", cfg))
			return nil
		},
	}
	root.SetOut(gs.stdout)
	root.SetErr(gs.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "YAML configuration file")
	config.RegisterFlags(flags)

	root.AddCommand(
		getCmdCompile(gs),
		getCmdRun(gs),
		getCmdInspect(gs),
		getCmdVerify(gs),
	)
	return root
}

func newLogger(level string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("log_level").Cause(err).Build()
	}
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	if lvl == zapcore.DebugLevel {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(w), lvl)), nil
}

func installLogger(log *zap.Logger) {
	wasm2ir.SetLogger(log.Named("compile"))
	translate.SetLogger(log.Named("translate"))
	runtime.SetLogger(log.Named("runtime"))
	wasi.SetLogger(log.Named("wasi"))
	verify.SetLogger(log.Named("verify"))
}

// compileOptions returns facade options bound to the loaded configuration.
func (gs *globalState) compileOptions() wasm2ir.Options {
	cfg := gs.cfg
	return wasm2ir.Options{Config: &cfg, Fs: gs.fs}
}
