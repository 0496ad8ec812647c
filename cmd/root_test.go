package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/combat-training-ingest/internal/app"
	"github.com/JakeFAU/combat-training-ingest/internal/config"
	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

// mockApp mocks the App interface.
type mockApp struct {
	mock.Mock
}

func (m *mockApp) Logger() *zap.Logger { return zap.NewNop() }

func (m *mockApp) Migrate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockApp) counters(args mock.Arguments) (ingest.Counters, error) {
	return args.Get(0).(ingest.Counters), args.Error(1)
}

func (m *mockApp) RunCollect(ctx context.Context) (ingest.Counters, error) {
	return m.counters(m.Called(ctx))
}

func (m *mockApp) RunExtract(ctx context.Context, retryErrors bool) (ingest.Counters, error) {
	return m.counters(m.Called(ctx, retryErrors))
}

func (m *mockApp) RunQueue(ctx context.Context) (ingest.Counters, error) {
	return m.counters(m.Called(ctx))
}

func (m *mockApp) RunReview(ctx context.Context) (ingest.Counters, error) {
	return m.counters(m.Called(ctx))
}

func (m *mockApp) RunPublish(ctx context.Context) (ingest.Counters, error) {
	return m.counters(m.Called(ctx))
}

func (m *mockApp) RunAll(ctx context.Context, retryErrors bool) ([]app.StageResult, error) {
	args := m.Called(ctx, retryErrors)
	return args.Get(0).([]app.StageResult), args.Error(1)
}

func (m *mockApp) Close() error {
	return m.Called().Error(0)
}

// useApp swaps the factories for the duration of a test. Tests using it must not run in parallel.
func useApp(t *testing.T, a App, captured *config.Config) {
	t.Helper()
	origApp, origLogger := newApp, newLogger
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		if captured != nil {
			*captured = cfg
		}
		return a, nil
	}
	newLogger = func(bool, string) (*zap.Logger, error) { return zap.NewNop(), nil }
	t.Cleanup(func() { newApp, newLogger = origApp, origLogger })
}

func run(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var holder appHolder
	root := newRootCmd(&holder)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	code := execute(context.Background(), root, &holder, append([]string{"--store", "memory", "--env-file", ""}, args...))
	return code, out.String()
}

func TestCollectPrintsCounters(t *testing.T) {
	a := &mockApp{}
	a.On("RunCollect", mock.Anything).Return(ingest.Counters{Processed: 3, Created: 2, Failed: 1}, nil)
	a.On("Close").Return(nil)
	useApp(t, a, nil)

	code, out := run(t, "collect")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "collect")
	assert.Contains(t, out, "Processed")
	a.AssertExpectations(t)
}

func TestPerItemFailuresExitZero(t *testing.T) {
	a := &mockApp{}
	counters := ingest.Counters{Processed: 2, Failed: 2}
	counters.Inc("notify_failed")
	a.On("RunPublish", mock.Anything).Return(counters, nil)
	a.On("Close").Return(nil)
	useApp(t, a, nil)

	code, out := run(t, "publish")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "notify_failed=1")
}

func TestSetupErrorExitsNonZero(t *testing.T) {
	a := &mockApp{}
	setupErr := &ingest.SetupError{Stage: "extract", Err: ingest.ErrMissingTool}
	a.On("RunExtract", mock.Anything, true).Return(ingest.Counters{}, setupErr)
	a.On("Close").Return(nil)
	useApp(t, a, nil)

	code, out := run(t, "extract", "--retry-errors")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "missing media tool")
	a.AssertCalled(t, "Close")
}

func TestRunAllRendersEveryStage(t *testing.T) {
	a := &mockApp{}
	results := make([]app.StageResult, 0, len(app.StageOrder))
	for _, stage := range app.StageOrder {
		results = append(results, app.StageResult{Stage: stage})
	}
	a.On("RunAll", mock.Anything, false).Return(results, nil)
	a.On("Close").Return(nil)
	useApp(t, a, nil)

	code, out := run(t, "run-all")
	assert.Equal(t, 0, code)
	for _, stage := range app.StageOrder {
		assert.Contains(t, out, stage)
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	a := &mockApp{}
	a.On("RunReview", mock.Anything).Return(ingest.Counters{}, nil)
	a.On("Close").Return(nil)
	var cfg config.Config
	useApp(t, a, &cfg)

	code, _ := run(t, "review", "--approve-threshold", "0.9", "--review-batch", "7")
	require.Equal(t, 0, code)
	assert.InDelta(t, 0.9, cfg.Thresholds.Approve, 1e-9)
	assert.Equal(t, 7, cfg.Limits.ReviewBatch)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestInvalidConfigExitsNonZero(t *testing.T) {
	useApp(t, &mockApp{}, nil)

	code, out := run(t, "review", "--approve-threshold", "0.2", "--reject-threshold", "0.5")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "thresholds")
}

func TestMigrateError(t *testing.T) {
	a := &mockApp{}
	a.On("Migrate", mock.Anything).Return(errors.New("permission denied"))
	a.On("Close").Return(nil)
	useApp(t, a, nil)

	code, _ := run(t, "migrate")
	assert.Equal(t, 1, code)
}

func TestRenderCountersIncludesErrors(t *testing.T) {
	t.Parallel()

	out := renderCounters([]app.StageResult{{
		Stage:    "collect",
		Counters: ingest.Counters{Malformed: 4},
		Err:      errors.New("boom"),
	}})
	assert.Contains(t, out, "error: boom")
	assert.Contains(t, out, "4")
}
