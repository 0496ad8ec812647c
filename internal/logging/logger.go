// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Service is stamped on every entry so pipeline logs can be told apart in a shared sink.
const Service = "combat-training-ingest"

// Config returns the zap configuration New builds from. Every entry carries the service name
// and, when set, the run ID of this invocation.
func Config(development bool, runID string) zap.Config {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = false
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.InitialFields = map[string]any{"service": Service}
	if runID != "" {
		cfg.InitialFields["run_id"] = runID
	}
	return cfg
}

// New builds a zap.Logger configured for development or production.
func New(development bool, runID string) (*zap.Logger, error) {
	logger, err := Config(development, runID).Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// ForStage returns a child logger named after a pipeline stage. A nil parent yields a no-op logger.
func ForStage(parent *zap.Logger, stage string) *zap.Logger {
	if parent == nil {
		return zap.NewNop()
	}
	return parent.Named(stage).With(zap.String("stage", stage))
}
