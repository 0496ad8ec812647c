// Package metrics exposes Prometheus collectors for pipeline stages and provider calls.
package metrics

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

var (
	registry *prometheus.Registry

	stageItemsTotal         *prometheus.CounterVec
	stageRunsTotal          *prometheus.CounterVec
	stageDurationSeconds    *prometheus.HistogramVec
	providerRetriesTotal    *prometheus.CounterVec
	stageLastSuccessSeconds *prometheus.GaugeVec
	throttleDelaySeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		registry = prometheus.NewRegistry()
		factory := promauto.With(registry)

		stageItemsTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_stage_items_total",
				Help: "Items handled by a pipeline stage, labeled by stage and outcome.",
			},
			[]string{"stage", "outcome"},
		)

		stageRunsTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_stage_runs_total",
				Help: "Stage invocations, labeled by stage and result (ok, setup_error).",
			},
			[]string{"stage", "result"},
		)

		stageDurationSeconds = factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_stage_duration_seconds",
				Help:    "Histogram of stage wall-clock durations.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"stage"},
		)

		providerRetriesTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_provider_retries_total",
				Help: "Retried provider requests, labeled by host and status (0 for transport errors).",
			},
			[]string{"host", "status"},
		)

		stageLastSuccessSeconds = factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ingest_stage_last_success_timestamp_seconds",
				Help: "Unix time of the last stage run that finished without a setup error.",
			},
			[]string{"stage"},
		)

		throttleDelaySeconds = factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_throttle_delay_seconds",
				Help:    "Histogram of per-provider throttle waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
	})
}

// SanitizeHost reduces a throttle key or URL to a lowercase hostname.
// It returns "unknown" if no hostname can be found.
func SanitizeHost(raw string) string {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObserveStage records the outcome of one stage invocation.
func ObserveStage(stage string, counters ingest.Counters, duration time.Duration, err error) {
	Init()
	for outcome, n := range map[string]int{
		"processed": counters.Processed,
		"created":   counters.Created,
		"updated":   counters.Updated,
		"skipped":   counters.Skipped,
		"failed":    counters.Failed,
		"malformed": counters.Malformed,
	} {
		if n > 0 {
			stageItemsTotal.WithLabelValues(stage, outcome).Add(float64(n))
		}
	}
	for _, key := range counters.ExtraKeys() {
		if n := counters.Extra[key]; n > 0 {
			stageItemsTotal.WithLabelValues(stage, key).Add(float64(n))
		}
	}
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
	if ingest.IsSetupError(err) {
		stageRunsTotal.WithLabelValues(stage, "setup_error").Inc()
		return
	}
	stageRunsTotal.WithLabelValues(stage, "ok").Inc()
	stageLastSuccessSeconds.WithLabelValues(stage).SetToCurrentTime()
}

// ObserveProviderRetry counts one retried provider request. It matches httpx.Config.OnRetry.
func ObserveProviderRetry(key string, status int) {
	Init()
	providerRetriesTotal.WithLabelValues(SanitizeHost(key), fmt.Sprint(status)).Inc()
}

// ObserveThrottleDelay records a throttle wait. It matches ratelimit.DelayObserver.
func ObserveThrottleDelay(key string, waited time.Duration) {
	Init()
	throttleDelaySeconds.WithLabelValues(SanitizeHost(key)).Observe(waited.Seconds())
}

// WriteTextfile dumps every collector in text exposition format for node-exporter's textfile
// collector. An empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	Init()
	if err := prometheus.WriteToTextfile(path, registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Gatherer exposes the registry for tests and custom exporters.
func Gatherer() prometheus.Gatherer {
	Init()
	return registry
}
