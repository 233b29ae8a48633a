// Package config loads runtime settings from POLICYMESH_* environment
// variables and turns them into loggers, stores and runner options.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/caarlos0/env/v11"

	"github.com/hupe1980/policymesh/core"
	"github.com/hupe1980/policymesh/logging"
	"github.com/hupe1980/policymesh/runner"
	"github.com/hupe1980/policymesh/store/file"
	"github.com/hupe1980/policymesh/store/memory"
	"github.com/hupe1980/policymesh/store/sqlite"
)

// StoreKind selects the LedgerStore implementation.
type StoreKind string

const (
	StoreMemory StoreKind = "memory"
	StoreFile   StoreKind = "file"
	StoreYAML   StoreKind = "yaml"
	StoreSQLite StoreKind = "sqlite"
)

// Config holds the environment driven settings of a policymesh process.
type Config struct {
	MaxTurns    int `env:"POLICYMESH_MAX_TURNS"    envDefault:"10"`
	MaxParallel int `env:"POLICYMESH_MAX_PARALLEL" envDefault:"0"`
	MaxCalls    int `env:"POLICYMESH_MAX_CALLS"    envDefault:"0"`

	Store     StoreKind `env:"POLICYMESH_STORE"      envDefault:"memory"`
	StorePath string    `env:"POLICYMESH_STORE_PATH"`

	LogLevel   string `env:"POLICYMESH_LOG_LEVEL"   envDefault:"info"`
	LogFormat  string `env:"POLICYMESH_LOG_FORMAT"  envDefault:"json"`
	LogBackend string `env:"POLICYMESH_LOG_BACKEND" envDefault:"slog"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate reports inconsistent settings.
func (c Config) Validate() error {
	var errs []error

	if c.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("max turns must not be negative: %d", c.MaxTurns))
	}
	if c.MaxParallel < 0 {
		errs = append(errs, fmt.Errorf("max parallel must not be negative: %d", c.MaxParallel))
	}
	if c.MaxCalls < 0 {
		errs = append(errs, fmt.Errorf("max calls must not be negative: %d", c.MaxCalls))
	}

	switch c.Store {
	case StoreMemory:
	case StoreFile, StoreYAML, StoreSQLite:
		if c.StorePath == "" {
			errs = append(errs, fmt.Errorf("store %q requires POLICYMESH_STORE_PATH", c.Store))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}

	switch c.LogBackend {
	case "slog", "zap", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown log backend %q", c.LogBackend))
	}

	return errors.Join(errs...)
}

// NewLogger builds the configured logger.
func (c Config) NewLogger() (logging.Logger, error) {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}

	switch c.LogBackend {
	case "none":
		return logging.NoOpLogger{}, nil
	case "zap":
		return logging.NewZapLogger(level, c.LogFormat)
	default:
		return logging.NewLogger(&logging.LoggerConfig{
			Level:  level,
			Format: c.LogFormat,
			Output: os.Stderr,
		}), nil
	}
}

// OpenStore opens the configured LedgerStore. The returned closer releases
// its resources and is never nil.
func (c Config) OpenStore() (core.LedgerStore, io.Closer, error) {
	switch c.Store {
	case StoreMemory, "":
		return memory.New(), nopCloser{}, nil
	case StoreFile, StoreYAML:
		format := file.FormatJSON
		if c.Store == StoreYAML {
			format = file.FormatYAML
		}
		s, err := file.New(c.StorePath, func(o *file.Options) { o.Format = format })
		if err != nil {
			return nil, nil, err
		}
		return s, nopCloser{}, nil
	case StoreSQLite:
		s, err := sqlite.Open(c.StorePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", c.Store)
	}
}

// RunnerOptions applies the limits of c to runner options.
func (c Config) RunnerOptions() func(o *runner.Options) {
	return func(o *runner.Options) {
		o.MaxCalls = c.MaxCalls
		o.MaxParallel = c.MaxParallel
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
