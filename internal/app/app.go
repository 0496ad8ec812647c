// Package app wires configuration into stores, provider clients, and pipeline stages, and drives
// the composite run-all invocation.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/combat-training-ingest/internal/clock/system"
	"github.com/JakeFAU/combat-training-ingest/internal/collect"
	"github.com/JakeFAU/combat-training-ingest/internal/config"
	"github.com/JakeFAU/combat-training-ingest/internal/extract"
	"github.com/JakeFAU/combat-training-ingest/internal/httpx"
	"github.com/JakeFAU/combat-training-ingest/internal/id/uuid"
	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
	"github.com/JakeFAU/combat-training-ingest/internal/llm"
	"github.com/JakeFAU/combat-training-ingest/internal/logging"
	"github.com/JakeFAU/combat-training-ingest/internal/media"
	"github.com/JakeFAU/combat-training-ingest/internal/metrics"
	"github.com/JakeFAU/combat-training-ingest/internal/moderation"
	notifymemory "github.com/JakeFAU/combat-training-ingest/internal/notify/memory"
	notifypubsub "github.com/JakeFAU/combat-training-ingest/internal/notify/pubsub"
	"github.com/JakeFAU/combat-training-ingest/internal/policy/ratelimit"
	"github.com/JakeFAU/combat-training-ingest/internal/policy/robots"
	"github.com/JakeFAU/combat-training-ingest/internal/publish"
	"github.com/JakeFAU/combat-training-ingest/internal/review"
	"github.com/JakeFAU/combat-training-ingest/internal/storage/gcs"
	"github.com/JakeFAU/combat-training-ingest/internal/storage/local"
	"github.com/JakeFAU/combat-training-ingest/internal/storage/memory"
	"github.com/JakeFAU/combat-training-ingest/internal/storage/postgres"
	"github.com/JakeFAU/combat-training-ingest/internal/transcribe"
)

// Stage names used in logs, metrics, and the counters table.
const (
	StageCollect = "collect"
	StageExtract = "extract"
	StageQueue   = "queue"
	StageReview  = "review"
	StagePublish = "publish"
)

// StageOrder is the run-all order.
var StageOrder = []string{StageCollect, StageExtract, StageQueue, StageReview, StagePublish}

// Notifier publishes catalog events and is closed with the app.
type Notifier interface {
	publish.Publisher
	Close() error
}

// Migrator is implemented by stores with a schema to apply.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Options overrides collaborators, mainly for tests. Zero values build everything from Config.
type Options struct {
	Logger     *zap.Logger
	Store      ingest.Store
	HTTPClient *http.Client
	Runner     media.Runner
	Notifier   Notifier
	Archive    extract.Archiver
	Clock      ingest.Clock
	IDs        ingest.IDGenerator
}

// App holds the long-lived services of one invocation.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	store  ingest.Store

	collect *collect.Stage
	extract *extract.Stage
	queue   *moderation.Stage
	review  *review.Stage
	publish *publish.Stage

	closers []func() error
}

// New builds every collaborator from cfg. It fails fast on store, archive, or notifier
// bootstrap errors; missing provider credentials surface later as stage setup errors.
func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.wire(ctx, opts); err != nil {
		return nil, multierr.Append(err, a.Close())
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, opts Options) (err error) {
	cfg, logger := a.cfg, a.logger
	clock := opts.Clock
	if clock == nil {
		clock = system.New()
	}
	ids := opts.IDs
	if ids == nil {
		ids = uuid.New()
	}

	if a.store, err = a.openStore(ctx, opts.Store); err != nil {
		return err
	}

	throttle := ratelimit.New(metrics.ObserveThrottleDelay)
	client := httpx.New(httpx.Config{
		Policy: httpx.Policy{
			MaxAttempts: cfg.HTTP.MaxAttempts,
			BaseDelay:   time.Duration(cfg.HTTP.BaseDelayMs) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.HTTP.MaxDelayMs) * time.Millisecond,
		},
		Timeout:    cfg.RequestTimeout(),
		UserAgent:  cfg.HTTP.UserAgent,
		HTTPClient: opts.HTTPClient,
		OnRetry:    metrics.ObserveProviderRetry,
	}, throttle, logger.Named("httpx"))
	robotsPolicy := robots.New(cfg.HTTP.RespectRobots, client, cfg.HTTP.UserAgent, logger.Named("robots"))

	interval := cfg.ProviderInterval()
	registry := collect.NewRegistry(client, collect.Options{
		MinInterval:     interval,
		YouTubeAPIKey:   cfg.Providers.YouTubeAPIKey,
		YouTubeBaseURL:  cfg.Providers.YouTubeBaseURL,
		RedditBaseURL:   cfg.Providers.RedditBaseURL,
		BraveAPIKey:     cfg.Providers.BraveAPIKey,
		BraveBaseURL:    cfg.Providers.BraveBaseURL,
		SerpAPIKey:      cfg.Providers.SerpAPIKey,
		SerpAPIBaseURL:  cfg.Providers.SerpAPIBaseURL,
		FeedFallbackURL: cfg.Providers.FeedFallbackURL,
	}, robotsPolicy, logger.Named("collect"))
	a.collect = collect.NewStage(a.store, registry, clock, ids, logging.ForStage(logger, "collect"))

	analyzer := llm.NewClient(client, llm.Config{
		APIKey:      cfg.Providers.OpenAIAPIKey,
		BaseURL:     cfg.Providers.OpenAIBaseURL,
		MinInterval: interval,
	})
	heuristic := extract.NewHeuristic(a.store, cfg.Extract.HeuristicMaxMatches, logger.Named("heuristic"))
	web := extract.NewWebExtractor(analyzer, client, robotsPolicy, heuristic, extract.WebOptions{
		Model:            cfg.Models.Text,
		SnippetMinChars:  cfg.Extract.SnippetMinChars,
		MaxChars:         cfg.Extract.MaxChars,
		RelevanceMin:     cfg.Thresholds.Relevance,
		FetchMinInterval: interval,
	}, logger.Named("web"))

	// A typed nil *VideoExtractor would defeat the stage's nil check.
	var video extract.Preflighter
	if cfg.Video.Enabled {
		archive := opts.Archive
		if archive == nil {
			if archive, err = a.openArchive(ctx); err != nil {
				return err
			}
		}
		video = extract.NewVideoExtractor(extract.VideoDeps{
			Repo: a.store,
			Tools: media.NewTools(opts.Runner, media.Options{
				MaxHeight:            cfg.Video.MaxHeight,
				FrameIntervalSeconds: cfg.Video.FrameIntervalSeconds,
				MaxFrames:            cfg.Video.MaxFrames,
			}),
			Transcriber: transcribe.NewClient(client, transcribe.Config{
				APIKey:      cfg.Providers.OpenAIAPIKey,
				BaseURL:     cfg.Providers.OpenAIBaseURL,
				Model:       cfg.Models.Transcribe,
				MinInterval: interval,
			}),
			Analyzer:  analyzer,
			Workspace: media.NewWorkspace(cfg.Video.ArtifactDir),
			Archive:   archive,
			Clock:     clock,
			IDs:       ids,
		}, extract.VideoOptions{
			Model:         cfg.Models.Vision,
			MaxSeconds:    cfg.Video.MaxSeconds,
			RelevanceMin:  cfg.Thresholds.Relevance,
			KeepArtifacts: cfg.Video.KeepArtifacts,
		}, logger.Named("video"))
	}
	a.extract = extract.NewStage(a.store, video, web, clock, ids, logging.ForStage(logger, "extract"))

	a.queue = moderation.NewStage(a.store, clock, ids, logging.ForStage(logger, "queue"))
	a.review = review.NewStage(a.store, review.Thresholds{
		Approve: cfg.Thresholds.Approve,
		Reject:  cfg.Thresholds.Reject,
	}, clock, logging.ForStage(logger, "review"))

	notifier := opts.Notifier
	if notifier == nil {
		if notifier, err = a.openNotifier(ctx); err != nil {
			return err
		}
	}
	a.closers = append(a.closers, notifier.Close)
	a.publish = publish.NewStage(a.store, notifier, clock, ids, logging.ForStage(logger, "publish"))

	return nil
}

func (a *App) openStore(ctx context.Context, override ingest.Store) (ingest.Store, error) {
	if override != nil {
		return override, nil
	}
	switch a.cfg.Store.Driver {
	case "memory":
		a.logger.Info("using in-memory store; nothing will persist")
		return memory.NewStore(), nil
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{DSN: a.cfg.Store.DSN, MaxConns: a.cfg.Store.MaxConns})
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", a.cfg.Store.Driver)
	}
}

func (a *App) openArchive(ctx context.Context) (extract.Archiver, error) {
	switch a.cfg.Video.Archive {
	case "", "none":
		return nil, nil
	case "local":
		blobs, err := local.New(local.Config{BaseDir: a.cfg.Video.ArchiveDir})
		if err != nil {
			return nil, fmt.Errorf("open local archive: %w", err)
		}
		return blobs, nil
	case "gcs":
		blobs, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Video.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("open gcs archive: %w", err)
		}
		a.closers = append(a.closers, blobs.Close)
		return blobs, nil
	default:
		return nil, fmt.Errorf("unknown archive: %s", a.cfg.Video.Archive)
	}
}

func (a *App) openNotifier(ctx context.Context) (Notifier, error) {
	if a.cfg.Publish.PubSubTopic == "" {
		return notifymemory.New(), nil
	}
	a.logger.Info("publishing notifications to pubsub",
		zap.String("project", a.cfg.Publish.PubSubProject),
		zap.String("topic", a.cfg.Publish.PubSubTopic))
	p, err := notifypubsub.New(ctx, a.cfg.Publish.PubSubProject, a.cfg.Publish.PubSubTopic)
	if err != nil {
		return nil, fmt.Errorf("open notifier: %w", err)
	}
	return p, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the configured store.
func (a *App) Store() ingest.Store { return a.store }

// Migrate applies the store schema when the store has one.
func (a *App) Migrate(ctx context.Context) error {
	m, ok := a.store.(Migrator)
	if !ok {
		a.logger.Info("store has no schema to apply")
		return nil
	}
	return m.Migrate(ctx)
}

// RunCollect runs the Collect stage.
func (a *App) RunCollect(ctx context.Context) (ingest.Counters, error) {
	return a.observe(StageCollect, func() (ingest.Counters, error) {
		return a.collect.Run(ctx, collect.RunOptions{
			SourceLimit:    a.cfg.Limits.Sources,
			ItemsPerSource: a.cfg.Limits.ItemsPerSource,
		})
	})
}

// RunExtract runs the Extract stage.
func (a *App) RunExtract(ctx context.Context, retryErrors bool) (ingest.Counters, error) {
	return a.observe(StageExtract, func() (ingest.Counters, error) {
		return a.extract.Run(ctx, extract.RunOptions{
			Limit:       a.cfg.Limits.ExtractBatch,
			VideoOnly:   a.cfg.Video.Only,
			RetryErrors: retryErrors,
		})
	})
}

// RunQueue runs the Queue stage.
func (a *App) RunQueue(ctx context.Context) (ingest.Counters, error) {
	return a.observe(StageQueue, func() (ingest.Counters, error) {
		return a.queue.Run(ctx, a.cfg.Limits.QueueBatch)
	})
}

// RunReview runs the auto-reviewer.
func (a *App) RunReview(ctx context.Context) (ingest.Counters, error) {
	return a.observe(StageReview, func() (ingest.Counters, error) {
		return a.review.Run(ctx, a.cfg.Limits.ReviewBatch)
	})
}

// RunPublish runs the Publish stage.
func (a *App) RunPublish(ctx context.Context) (ingest.Counters, error) {
	return a.observe(StagePublish, func() (ingest.Counters, error) {
		return a.publish.Run(ctx, publish.RunOptions{
			Limit:        a.cfg.Limits.PublishBatch,
			AutoDrills:   a.cfg.Publish.AutoDrills,
			AutoRoutines: a.cfg.Publish.AutoRoutines,
		})
	})
}

// StageResult is the outcome of one stage within run-all.
type StageResult struct {
	Stage    string
	Counters ingest.Counters
	Err      error
}

// RunAll runs every stage in order. A stage that fails to start does not stop the later stages,
// since each one only reads state the earlier stages already committed. The returned error
// combines every stage error.
func (a *App) RunAll(ctx context.Context, retryErrors bool) ([]StageResult, error) {
	runs := map[string]func(context.Context) (ingest.Counters, error){
		StageCollect: a.RunCollect,
		StageExtract: func(ctx context.Context) (ingest.Counters, error) { return a.RunExtract(ctx, retryErrors) },
		StageQueue:   a.RunQueue,
		StageReview:  a.RunReview,
		StagePublish: a.RunPublish,
	}
	results := make([]StageResult, 0, len(StageOrder))
	var errs error
	for _, stage := range StageOrder {
		if err := ctx.Err(); err != nil {
			return results, multierr.Append(errs, err)
		}
		counters, err := runs[stage](ctx)
		results = append(results, StageResult{Stage: stage, Counters: counters, Err: err})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", stage, err))
		}
	}
	return results, errs
}

func (a *App) observe(stage string, run func() (ingest.Counters, error)) (ingest.Counters, error) {
	start := time.Now()
	counters, err := run()
	metrics.ObserveStage(stage, counters, time.Since(start), err)
	fields := []zap.Field{
		zap.String("stage", stage),
		zap.Int("processed", counters.Processed),
		zap.Int("created", counters.Created),
		zap.Int("updated", counters.Updated),
		zap.Int("skipped", counters.Skipped),
		zap.Int("failed", counters.Failed),
		zap.Int("malformed", counters.Malformed),
		zap.Duration("elapsed", time.Since(start)),
	}
	switch {
	case err == nil:
		a.logger.Info("stage finished", fields...)
	case ingest.IsSetupError(err):
		a.logger.Error("stage setup failed", append(fields, zap.Error(err))...)
	default:
		a.logger.Error("stage failed", append(fields, zap.Error(err))...)
	}
	return counters, err
}

// Close releases every collaborator and dumps the metrics textfile when configured.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, a.closers[i]())
	}
	a.closers = nil
	errs = multierr.Append(errs, metrics.WriteTextfile(a.cfg.Metrics.Textfile))
	if err := a.logger.Sync(); err != nil {
		// stderr sinks report ENOTTY/EINVAL on sync; nothing useful to do with it.
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return errs
}
