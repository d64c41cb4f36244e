// Package logger builds the process-wide zap logger from the log
// configuration.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger for the given level and format.
//
// Format "json" produces sampled production output for log pipelines.
// Format "console" produces colored, human-readable output and enables
// debug conveniences like stack traces on errors.
func New(level, format string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q, must be json or console", format)
	}

	cfg.Level = zap.NewAtomicLevelAt(parsed)
	return cfg.Build()
}
