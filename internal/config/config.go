// Package config describes the on-disk configuration for a coreindexer
// process: where it persists bitfield state, how large its batches are,
// and how logging and metrics are wired up.
package config

import (
	"fmt"
)

// Config is the complete configuration for a coreindexer process.
type Config struct {
	// Storage configures where indexed/in-progress state is persisted.
	Storage StorageConfig `yaml:"storage" json:"storage" toml:"storage"`

	// Batch configures the consumer-facing batching behavior.
	Batch BatchConfig `yaml:"batch" json:"batch" toml:"batch"`

	// Logging contains logging configuration.
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration.
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// StorageConfig configures the storage.Factory backing every core's
// bitfields.
type StorageConfig struct {
	// Dir is the root storage directory. Always required: the file
	// backend stores one file per core under it, and the badger backend
	// opens its database in it.
	Dir string `yaml:"dir" json:"dir" toml:"dir"`

	// Backend selects the storage implementation: "file" or "badger".
	Backend string `yaml:"backend" json:"backend" toml:"backend"`
}

// ApplyDefaults sets default values for optional storage fields.
func (s *StorageConfig) ApplyDefaults() {
	if s.Backend == "" {
		s.Backend = "file"
	}
}

// Validate checks the storage configuration.
func (s *StorageConfig) Validate() error {
	if s.Backend != "file" && s.Backend != "badger" {
		return fmt.Errorf("storage.backend: must be one of: file, badger")
	}
	if s.Dir == "" {
		return fmt.Errorf("storage.dir is required")
	}
	return nil
}

// BatchConfig configures the indexer's consumer-facing batching.
type BatchConfig struct {
	// MaxSize is the output buffer high-water mark, in entries.
	MaxSize int `yaml:"max_size" json:"max_size" toml:"max_size"`

	// Reindex discards prior indexed state for every core added.
	Reindex bool `yaml:"reindex" json:"reindex" toml:"reindex"`

	// Encoding names how raw block bytes are decoded before reaching
	// the batch callback: "binary", "utf8", or "json".
	Encoding string `yaml:"encoding" json:"encoding" toml:"encoding"`
}

// ApplyDefaults sets default values for optional batch fields.
func (b *BatchConfig) ApplyDefaults() {
	if b.MaxSize == 0 {
		b.MaxSize = 100
	}
	if b.Encoding == "" {
		b.Encoding = "binary"
	}
}

// Validate checks the batch configuration.
func (b *BatchConfig) Validate() error {
	if b.MaxSize < 0 {
		return fmt.Errorf("batch.max_size: must not be negative")
	}
	switch b.Encoding {
	case "binary", "utf8", "json":
	default:
		return fmt.Errorf("batch.encoding: must be one of: binary, utf8, json")
	}
	return nil
}

// LoggingConfig configures logging behavior with per-component log
// levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components.
	// Options: "debug", "info", "warn", "error".
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console
	// encoder).
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components.
	// Available components: indexer, corestream, multistream, storage.
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

var validLogLevels = map[string]struct{}{
	"debug": {}, "info": {}, "warn": {}, "error": {},
}

var validComponents = map[string]struct{}{
	"indexer": {}, "corestream": {}, "multistream": {}, "storage": {},
}

// ApplyDefaults sets default values for optional logging fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks the logging configuration.
func (l *LoggingConfig) Validate() error {
	if _, ok := validLogLevels[l.DefaultLevel]; !ok {
		return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
	}
	for component, level := range l.ComponentLevels {
		if _, ok := validComponents[component]; !ok {
			return fmt.Errorf("logging.component_levels: unknown component %q", component)
		}
		if _, ok := validLogLevels[level]; !ok {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}
	return nil
}

// GetComponentLevel returns the log level for a specific component,
// falling back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return level
	}
	return l.DefaultLevel
}

// GetDefaultLevel returns the default log level. Satisfies
// internal/logger.LoggingConfig.
func (l *LoggingConfig) GetDefaultLevel() string {
	return l.DefaultLevel
}

// IsDevelopment reports whether development mode is enabled. Satisfies
// internal/logger.LoggingConfig.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether the metrics HTTP endpoint is active.
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to.
	// Format: "host:port" or ":port".
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed.
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks the metrics configuration.
func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	if m.ListenAddress == "" {
		return fmt.Errorf("metrics.listen_address is required when metrics are enabled")
	}
	if m.Path == "" || m.Path[0] != '/' {
		return fmt.Errorf("metrics.path must start with '/'")
	}
	return nil
}

// ApplyDefaults sets default values across the whole configuration.
func (c *Config) ApplyDefaults() {
	c.Storage.ApplyDefaults()
	c.Batch.ApplyDefaults()
	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}
	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Batch.Validate(); err != nil {
		return err
	}
	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}
	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return err
		}
	}
	return nil
}
