package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corelane/coreindexer/internal/config"
)

func TestLoadFromYAML(t *testing.T) {
	cfg, err := config.LoadFromYAML("../../config.example.yaml")
	require.NoError(t, err)
	validateConfig(t, cfg, "YAML")
}

func TestLoadFromJSON(t *testing.T) {
	cfg, err := config.LoadFromJSON("../../config.example.json")
	require.NoError(t, err)
	validateConfig(t, cfg, "JSON")
}

func TestLoadFromTOML(t *testing.T) {
	cfg, err := config.LoadFromTOML("../../config.example.toml")
	require.NoError(t, err)
	validateConfig(t, cfg, "TOML")
}

func TestLoadFromFile_AutoDetect(t *testing.T) {
	for _, path := range []string{
		"../../config.example.yaml",
		"../../config.example.json",
		"../../config.example.toml",
	} {
		cfg, err := config.LoadFromFile(path)
		require.NoError(t, err, path)
		validateConfig(t, cfg, path)
	}
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	_, err := config.LoadFromFile("config.txt")
	require.ErrorContains(t, err, "unsupported config file format")
}

func validateConfig(t *testing.T, cfg *config.Config, format string) {
	t.Helper()

	require.Equal(t, "./data", cfg.Storage.Dir, "[%s]", format)
	require.Equal(t, "file", cfg.Storage.Backend, "[%s]", format)
	require.Equal(t, 200, cfg.Batch.MaxSize, "[%s]", format)
	require.False(t, cfg.Batch.Reindex, "[%s]", format)
	require.Equal(t, "binary", cfg.Batch.Encoding, "[%s]", format)

	require.NotNil(t, cfg.Logging, "[%s]", format)
	require.Equal(t, "info", cfg.Logging.DefaultLevel, "[%s]", format)
	require.Equal(t, "debug", cfg.Logging.GetComponentLevel("corestream"), "[%s]", format)
	require.Equal(t, "info", cfg.Logging.GetComponentLevel("indexer"), "[%s]", format)

	require.NotNil(t, cfg.Metrics, "[%s]", format)
	require.True(t, cfg.Metrics.Enabled, "[%s]", format)
	require.Equal(t, ":9090", cfg.Metrics.ListenAddress, "[%s]", format)
}

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Dir: "./data"}}
	cfg.ApplyDefaults()

	require.Equal(t, "file", cfg.Storage.Backend)
	require.Equal(t, 100, cfg.Batch.MaxSize)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Dir: "./data", Backend: "sqlite"}}
	require.ErrorContains(t, cfg.Validate(), "storage.backend")
}

func TestValidateRejectsUnknownComponent(t *testing.T) {
	cfg := &config.Config{
		Storage: config.StorageConfig{Dir: "./data", Backend: "file"},
		Batch:   config.BatchConfig{Encoding: "binary"},
		Logging: &config.LoggingConfig{
			DefaultLevel:    "info",
			ComponentLevels: map[string]string{"downloader": "debug"},
		},
	}
	require.ErrorContains(t, cfg.Validate(), "unknown component")
}
