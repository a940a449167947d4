// Package logging builds the zap loggers used across certengine.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects level, encoding and destination.
type Config struct {
	// Level is debug, info, warn or error (default: info).
	Level string `yaml:"level"`
	// Encoding is json or console (default: json).
	Encoding string `yaml:"encoding"`
	// Output paths, "stdout" and "stderr" included (default: stderr).
	Output []string `yaml:"output"`
}

// Logger is a zap logger whose level can be changed at runtime.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// New builds a production logger: JSON encoder, ISO8601 timestamps and a
// "message" key.
func New(name string, cfg Config, opts ...zap.Option) (*Logger, error) {
	level := zap.NewAtomicLevel()
	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "json"
	}
	output := cfg.Output
	if len(output) == 0 {
		output = []string{"stderr"}
	}

	zc := zap.Config{
		Level:            level,
		Encoding:         encoding,
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      output,
		ErrorOutputPaths: []string{"stderr"},
	}
	zc.EncoderConfig.MessageKey = "message"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zl, err := zc.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	l := &Logger{Logger: zl.Named(name), level: level}
	if err := l.ChangeLevel(cfg.Level); err != nil {
		return nil, err
	}
	return l, nil
}

// ChangeLevel sets the minimum enabled level. An empty level means info.
func (l *Logger) ChangeLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug":
		l.level.SetLevel(zap.DebugLevel)
	case "", "info":
		l.level.SetLevel(zap.InfoLevel)
	case "warn":
		l.level.SetLevel(zap.WarnLevel)
	case "error":
		l.level.SetLevel(zap.ErrorLevel)
	default:
		return fmt.Errorf("log level must be debug, info, warn or error, got %q", level)
	}
	return nil
}

// Level returns the current level.
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
