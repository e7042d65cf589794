// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls log output. All fields have working zero-value defaults
// applied by ApplyDefaults.
type Config struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "console" or "json".
	Format string `yaml:"format"`

	// File is an optional log file path. Empty logs to stderr only.
	File string `yaml:"file"`

	// Rotation settings, used only when File is set.
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 100
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = 3
	}
	if c.MaxAgeDays == 0 {
		c.MaxAgeDays = 28
	}
}

// New builds the root logger, tags it with a per-process session id and
// installs it as the zap global.
func New(cfg Config) (*zap.Logger, error) {
	cfg.ApplyDefaults()

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encoder, err := buildEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}

	sink, err := buildSink(cfg)
	if err != nil {
		return nil, err
	}

	logger := zap.New(
		zapcore.NewCore(encoder, sink, level),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
	).With(
		zap.String("session", uuid.NewString()),
	)

	zap.ReplaceGlobals(logger)
	return logger, nil
}

func buildEncoder(format string) (zapcore.Encoder, error) {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder

	switch format {
	case "json":
		return zapcore.NewJSONEncoder(ec), nil
	case "console":
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func buildSink(cfg Config) (zapcore.WriteSyncer, error) {
	stderr := zapcore.Lock(os.Stderr)
	if cfg.File == "" {
		return stderr, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	rotated := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	})
	return zapcore.NewMultiWriteSyncer(stderr, rotated), nil
}
