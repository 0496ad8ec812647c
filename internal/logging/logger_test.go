// Package logging includes tests for the zap logger helpers.
package logging

import (
	"reflect"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true, "run-1")
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

// TestNewProductionLogger ensures the production logger configuration succeeds.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false, "")
	if err != nil {
		t.Fatalf("New(false) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("production logger ready")
}

// TestConfigStampsRunFields checks the service and run ID land in every entry's initial fields.
func TestConfigStampsRunFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		development bool
		runID       string
		want        map[string]any
	}{
		{"dev with run", true, "run-1", map[string]any{"service": Service, "run_id": "run-1"}},
		{"prod with run", false, "run-2", map[string]any{"service": Service, "run_id": "run-2"}},
		{"no run id", false, "", map[string]any{"service": Service}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Config(tt.development, tt.runID)
			if !reflect.DeepEqual(cfg.InitialFields, tt.want) {
				t.Fatalf("InitialFields = %v, want %v", cfg.InitialFields, tt.want)
			}
			if cfg.EncoderConfig.TimeKey != "ts" {
				t.Fatalf("TimeKey = %q, want ts", cfg.EncoderConfig.TimeKey)
			}
			if cfg.Development != tt.development {
				t.Fatalf("Development = %v, want %v", cfg.Development, tt.development)
			}
		})
	}
}

// TestForStageTagsEntries checks stage loggers carry the stage field and name.
func TestForStageTagsEntries(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	ForStage(zap.New(core), "collect").Info("batch done")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].LoggerName != "collect" {
		t.Fatalf("expected logger name collect, got %q", entries[0].LoggerName)
	}
	if got := entries[0].ContextMap()["stage"]; got != "collect" {
		t.Fatalf("expected stage field, got %v", got)
	}
	ForStage(nil, "review").Info("discarded")
}
