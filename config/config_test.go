package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/policymesh/logging"
	"github.com/hupe1980/policymesh/runner"
	"github.com/hupe1980/policymesh/store/file"
	"github.com/hupe1980/policymesh/store/memory"
	"github.com/hupe1980/policymesh/store/sqlite"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.MaxTurns)
	assert.Equal(t, 0, cfg.MaxParallel)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "slog", cfg.LogBackend)
}

func TestLoad_FromEnv(t *testing.T) {
	dir := t.TempDir()

	t.Setenv("POLICYMESH_MAX_TURNS", "4")
	t.Setenv("POLICYMESH_MAX_PARALLEL", "8")
	t.Setenv("POLICYMESH_MAX_CALLS", "100")
	t.Setenv("POLICYMESH_STORE", "sqlite")
	t.Setenv("POLICYMESH_STORE_PATH", filepath.Join(dir, "ledgers.db"))
	t.Setenv("POLICYMESH_LOG_BACKEND", "none")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.MaxTurns)
	assert.Equal(t, StoreSQLite, cfg.Store)

	var opts runner.Options
	cfg.RunnerOptions()(&opts)
	assert.Equal(t, 8, opts.MaxParallel)
	assert.Equal(t, 100, opts.MaxCalls)

	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.IsType(t, logging.NoOpLogger{}, logger)

	store, closer, err := cfg.OpenStore()
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, store)
	require.NoError(t, closer.Close())
}

func TestLoad_ParseError(t *testing.T) {
	t.Setenv("POLICYMESH_MAX_TURNS", "many")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestValidate(t *testing.T) {
	valid := Config{MaxTurns: 10, Store: StoreMemory, LogLevel: "info", LogFormat: "json", LogBackend: "slog"}

	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "negative turns", mutate: func(c *Config) { c.MaxTurns = -1 }},
		{name: "negative parallel", mutate: func(c *Config) { c.MaxParallel = -1 }},
		{name: "file store without path", mutate: func(c *Config) { c.Store = StoreFile }},
		{name: "unknown store", mutate: func(c *Config) { c.Store = "redis" }},
		{name: "unknown level", mutate: func(c *Config) { c.LogLevel = "loud" }},
		{name: "unknown format", mutate: func(c *Config) { c.LogFormat = "xml" }},
		{name: "unknown backend", mutate: func(c *Config) { c.LogBackend = "zerolog" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestOpenStore(t *testing.T) {
	store, closer, err := Config{Store: StoreMemory}.OpenStore()
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, store)
	assert.NoError(t, closer.Close())

	store, _, err = Config{Store: StoreYAML, StorePath: t.TempDir()}.OpenStore()
	require.NoError(t, err)
	assert.IsType(t, &file.Store{}, store)

	_, _, err = Config{Store: "redis"}.OpenStore()
	assert.Error(t, err)
}

func TestNewLogger_Backends(t *testing.T) {
	logger, err := Config{LogLevel: "debug", LogFormat: "text", LogBackend: "slog"}.NewLogger()
	require.NoError(t, err)
	assert.IsType(t, &logging.StructuredLogger{}, logger)

	logger, err = Config{LogLevel: "warn", LogFormat: "json", LogBackend: "zap"}.NewLogger()
	require.NoError(t, err)
	assert.IsType(t, &logging.ZapAdapter{}, logger)

	_, err = Config{LogLevel: "loud"}.NewLogger()
	assert.Error(t, err)
}
