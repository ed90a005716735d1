// Package logging builds the service zap logger and small adapters that route
// third-party library logs through it.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the encoder preset and minimum level.
type Options struct {
	Development bool
	// Level is a zap level name ("debug", "info", ...). Empty keeps the preset default.
	Level string
}

// New builds a zap.Logger configured for development or production.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = false
	}
	cfg.EncoderConfig.TimeKey = "ts"
	if lvl := strings.TrimSpace(opts.Level); lvl != "" {
		parsed, err := zapcore.ParseLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", lvl, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(parsed)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// Printf adapts a zap logger to libraries that expect Printf/Fatalf (goose).
type Printf struct {
	sugar *zap.SugaredLogger
}

// NewPrintf wraps logger. A nil logger discards output.
func NewPrintf(logger *zap.Logger) Printf {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Printf{sugar: logger.Sugar()}
}

// Printf logs at info level.
func (p Printf) Printf(format string, v ...any) {
	p.sugar.Infof(strings.TrimSuffix(format, "\n"), v...)
}

// Fatalf logs at error level. It does not exit; callers surface the error instead.
func (p Printf) Fatalf(format string, v ...any) {
	p.sugar.Errorf(strings.TrimSuffix(format, "\n"), v...)
}
