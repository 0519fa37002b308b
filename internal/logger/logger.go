package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// root logger
var log atomic.Pointer[Logger]

// LoggingConfig is the subset of internal/config's LoggingConfig this
// package needs, named here to avoid an import cycle.
type LoggingConfig interface {
	GetComponentLevel(component string) string
	GetDefaultLevel() string
	IsDevelopment() bool
}

// Logger wraps zap.SugaredLogger to provide a consistent logging
// interface across the project. It provides both structured logging
// (with fields) and printf-style logging methods.
type Logger struct {
	*zap.SugaredLogger
	component   string
	atomicLevel zap.AtomicLevel
}

// NewLogger creates a new logger with the specified configuration.
// level can be "debug", "info", "warn", "error". development mode
// enables stack traces and uses a console encoder.
func NewLogger(level string, development bool) (*Logger, error) {
	var config zap.Config

	if development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	atomicLevel := zap.NewAtomicLevelAt(zapLevel)
	config.Level = atomicLevel

	zapLogger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{SugaredLogger: zapLogger.Sugar(), atomicLevel: atomicLevel}, nil
}

// NewComponentLogger builds a logger and immediately scopes it to
// component. Panics if level is invalid, since this is always called
// with a level that has already been through config validation.
func NewComponentLogger(component, level string, development bool) *Logger {
	l, err := NewLogger(level, development)
	if err != nil {
		panic(err)
	}
	return l.WithComponent(component)
}

// NewComponentLoggerFromConfig builds a component logger using cfg's
// per-component level and development flag. A nil cfg falls back to
// info level, production mode.
func NewComponentLoggerFromConfig(component string, cfg LoggingConfig) *Logger {
	level := "info"
	development := false
	if cfg != nil {
		level = cfg.GetComponentLevel(component)
		development = cfg.IsDevelopment()
	}
	return NewComponentLogger(component, level, development)
}

// NewNopLogger creates a no-op logger that discards all logs. Useful
// for testing.
func NewNopLogger() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), atomicLevel: zap.NewAtomicLevelAt(zapcore.InfoLevel)}
}

// WithComponent creates a child logger with a component name field,
// sharing the parent's atomic level.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		SugaredLogger: l.With("component", component),
		component:     component,
		atomicLevel:   l.atomicLevel,
	}
}

// GetComponent returns the component name this logger was scoped to,
// or "" if none.
func (l *Logger) GetComponent() string {
	return l.component
}

// GetLevel returns the current log level as a lowercase string.
func (l *Logger) GetLevel() string {
	return l.atomicLevel.Level().String()
}

// SetLevel changes the log level in place. Every logger sharing this
// one's atomic level (via WithComponent) observes the change. Returns
// an error and leaves the level unchanged if level is invalid.
func (l *Logger) SetLevel(level string) error {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	l.atomicLevel.SetLevel(zapLevel)
	return nil
}

// Close flushes any buffered log entries.
func (l *Logger) Close() error {
	return l.Sync()
}

// GetDefaultLogger returns a process-wide debug-level development
// logger, built once and shared.
func GetDefaultLogger() *Logger {
	if l := log.Load(); l != nil {
		return l
	}
	zapLogger, err := NewLogger("debug", true)
	if err != nil {
		panic(err)
	}
	log.Store(zapLogger)
	return log.Load()
}
