// Package config holds the translator and runtime settings and loads them
// in layers: defaults, then a YAML file, then WASM2IR_* environment
// variables, then command-line flags.
package config

import (
	"fmt"
	"runtime"

	"github.com/mstoykov/envconfig"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm2ir/errors"
)

// Defaults.
const (
	// DefaultMemoryPages sizes the memory of modules that declare none.
	DefaultMemoryPages uint32 = 16

	DefaultCompressionLevel = 3
	DefaultLogLevel         = "info"
	DefaultPreopenGuest     = "/tmp"
	DefaultMaxCallDepth     = 10000
)

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Config is the complete configuration.
type Config struct {
	LogLevel     string   `yaml:"log_level" envconfig:"WASM2IR_LOG_LEVEL"`
	PreopenDir   string   `yaml:"preopen_dir" envconfig:"WASM2IR_PREOPEN_DIR"`
	PreopenGuest string   `yaml:"preopen_guest" envconfig:"WASM2IR_PREOPEN_GUEST"`
	Env          []string `yaml:"env" envconfig:"WASM2IR_ENV"`
	Args         []string `yaml:"args" envconfig:"WASM2IR_ARGS"`

	// MemoryPages sizes the memory of modules without a memory section.
	MemoryPages uint32 `yaml:"memory_pages" envconfig:"WASM2IR_MEMORY_PAGES"`
	// CompressionLevel is the zstd level for artifacts; 0 stores them
	// uncompressed.
	CompressionLevel int `yaml:"compression_level" envconfig:"WASM2IR_COMPRESSION_LEVEL"`
	// Workers bounds concurrent translations; 0 means GOMAXPROCS.
	Workers      int `yaml:"workers" envconfig:"WASM2IR_WORKERS"`
	MaxCallDepth int `yaml:"max_call_depth" envconfig:"WASM2IR_MAX_CALL_DEPTH"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		MemoryPages:      DefaultMemoryPages,
		CompressionLevel: DefaultCompressionLevel,
		LogLevel:         DefaultLogLevel,
		PreopenGuest:     DefaultPreopenGuest,
		MaxCallDepth:     DefaultMaxCallDepth,
	}
}

// Load builds a Config from the defaults, the YAML file at path (skipped
// when path is empty) and the environment. lookup reads environment
// variables; nil uses the process environment.
func Load(fs afero.Fs, path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return cfg, errors.New(errors.PhaseConfig, errors.KindNotFound).
				Path(path).Detail("read config file").Cause(err).Build()
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.New(errors.PhaseConfig, errors.KindInvalidData).
				Path(path).Detail("parse config file").Cause(err).Build()
		}
	}

	var lookups []func(string) (string, bool)
	if lookup != nil {
		lookups = append(lookups, lookup)
	}
	if err := envconfig.Process("", &cfg, lookups...); err != nil {
		return cfg, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("environment").Cause(err).Build()
	}

	return cfg, cfg.Validate()
}

// Validate rejects out-of-range values.
func (c Config) Validate() error {
	invalid := func(field string, format string, args ...any) error {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path(field).Detail(format, args...).Build()
	}
	switch {
	case c.MemoryPages == 0 || c.MemoryPages > 65536:
		return invalid("memory_pages", "must be in [1, 65536], got %d", c.MemoryPages)
	case c.CompressionLevel < 0 || c.CompressionLevel > 22:
		return invalid("compression_level", "must be in [0, 22], got %d", c.CompressionLevel)
	case c.Workers < 0:
		return invalid("workers", "must not be negative, got %d", c.Workers)
	case c.MaxCallDepth <= 0:
		return invalid("max_call_depth", "must be positive, got %d", c.MaxCallDepth)
	case !logLevels[c.LogLevel]:
		return invalid("log_level", "unknown level %q", c.LogLevel)
	case c.PreopenGuest == "":
		return invalid("preopen_guest", "must not be empty")
	}
	return nil
}

// WorkerCount resolves Workers to a concrete limit.
func (c Config) WorkerCount() int {
	if c.Workers == 0 {
		return runtime.GOMAXPROCS(0)
	}
	return c.Workers
}

// Flag names.
const (
	FlagLogLevel     = "log-level"
	FlagMemoryPages  = "memory-pages"
	FlagCompression  = "compression-level"
	FlagWorkers      = "workers"
	FlagPreopenDir   = "dir"
	FlagPreopenGuest = "dir-name"
	FlagMaxCallDepth = "max-call-depth"
	FlagEnv          = "env"
)

// RegisterFlags defines the configuration flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String(FlagLogLevel, d.LogLevel, "log level (debug, info, warn, error)")
	fs.Uint32(FlagMemoryPages, d.MemoryPages, "memory pages for modules without a memory section")
	fs.Int(FlagCompression, d.CompressionLevel, "zstd level for artifacts, 0 disables compression")
	fs.Int(FlagWorkers, d.Workers, "concurrent translations, 0 for GOMAXPROCS")
	fs.String(FlagPreopenDir, d.PreopenDir, "host directory exposed to WASI guests")
	fs.String(FlagPreopenGuest, d.PreopenGuest, "guest path of the preopened directory")
	fs.Int(FlagMaxCallDepth, d.MaxCallDepth, "maximum guest call depth")
	fs.StringSlice(FlagEnv, nil, "guest environment variables (KEY=value)")
}

// ApplyFlags copies every flag explicitly set on fs into c.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case FlagLogLevel:
			c.LogLevel, err = fs.GetString(f.Name)
		case FlagMemoryPages:
			c.MemoryPages, err = fs.GetUint32(f.Name)
		case FlagCompression:
			c.CompressionLevel, err = fs.GetInt(f.Name)
		case FlagWorkers:
			c.Workers, err = fs.GetInt(f.Name)
		case FlagPreopenDir:
			c.PreopenDir, err = fs.GetString(f.Name)
		case FlagPreopenGuest:
			c.PreopenGuest, err = fs.GetString(f.Name)
		case FlagMaxCallDepth:
			c.MaxCallDepth, err = fs.GetInt(f.Name)
		case FlagEnv:
			c.Env, err = fs.GetStringSlice(f.Name)
		}
	})
	if err != nil {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("flags").Cause(err).Build()
	}
	return c.Validate()
}

func (c Config) String() string {
	return fmt.Sprintf("memory_pages=%d compression_level=%d workers=%d log_level=%s preopen=%s:%s",
		c.MemoryPages, c.CompressionLevel, c.Workers, c.LogLevel, c.PreopenGuest, c.PreopenDir)
}
