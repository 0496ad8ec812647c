// Package cmd defines the CLI commands of the ingest executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/combat-training-ingest/internal/app"
	"github.com/JakeFAU/combat-training-ingest/internal/config"
	"github.com/JakeFAU/combat-training-ingest/internal/id/uuid"
	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
	"github.com/JakeFAU/combat-training-ingest/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the surface the commands use. Tests inject a fake through newApp.
type App interface {
	Logger() *zap.Logger
	Migrate(ctx context.Context) error
	RunCollect(ctx context.Context) (ingest.Counters, error)
	RunExtract(ctx context.Context, retryErrors bool) (ingest.Counters, error)
	RunQueue(ctx context.Context) (ingest.Counters, error)
	RunReview(ctx context.Context) (ingest.Counters, error)
	RunPublish(ctx context.Context) (ingest.Counters, error)
	RunAll(ctx context.Context, retryErrors bool) ([]app.StageResult, error)
	Close() error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, app.Options{Logger: logger})
}

// newLogger is swapped in tests to keep output quiet.
var newLogger = logging.New

// appHolder keeps the app built by the pre-run hook so it is closed even when RunE fails, which
// cobra's post-run hooks would skip.
type appHolder struct {
	app App
}

func (h *appHolder) close() {
	if h.app == nil {
		return
	}
	if err := h.app.Close(); err != nil {
		h.app.Logger().Warn("Error closing application services", zap.Error(err))
	}
	h.app = nil
}

func newRootCmd(holder *appHolder) *cobra.Command {
	var cfgFile, envFile string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Collects and curates combat-sport training content.",
		Long: `ingest pulls combat-sport training content from video, social, web-search,
feed, and direct-URL sources, extracts structured training signals, queues
proposals for moderation, auto-reviews them by confidence, and publishes the
approved ones into the canonical athlete, exercise, and routine catalog.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.Options{Path: cfgFile, EnvFile: envFile, Flags: cmd.Flags()})
			if err != nil {
				return err
			}
			runID, err := uuid.New().NewID()
			if err != nil {
				return fmt.Errorf("allocate run id: %w", err)
			}
			logger, err := newLogger(cfg.Logging.Development, runID)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			holder.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, json, or toml)")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file with provider credentials; ignored when missing")
	flags.String("store", "", "store driver: postgres or memory")
	flags.String("dsn", "", "postgres connection string")
	flags.Bool("dev", false, "development logging")
	flags.Int("items-per-source", 0, "maximum documents collected per source")
	flags.Int("sources", 0, "maximum sources collected per run")
	flags.Int("extract-batch", 0, "documents extracted per run")
	flags.Int("queue-batch", 0, "documents turned into proposals per run")
	flags.Int("review-batch", 0, "pending proposals reviewed per run")
	flags.Int("publish-batch", 0, "approved proposals published per run")
	flags.Float64("approve-threshold", 0, "auto-approve at or above this confidence")
	flags.Float64("reject-threshold", 0, "auto-reject at or below this confidence")
	flags.Float64("relevance-threshold", 0, "discard extractions with relevance below this")
	flags.Bool("video", false, "enable the video sub-pipeline")
	flags.Bool("video-only", false, "extract video documents only")
	flags.Int("max-video-seconds", 0, "skip videos longer than this")
	flags.Bool("keep-artifacts", false, "keep downloaded video artifacts")
	flags.String("vision-model", "", "model for video frame analysis")
	flags.String("text-model", "", "model for text extraction")
	flags.String("transcribe-model", "", "speech-to-text model")
	flags.Bool("auto-drills", false, "publish drills from detected exercise events")
	flags.Bool("auto-routines", false, "publish routines from detected exercise events")
	flags.String("metrics-textfile", "", "write Prometheus metrics to this file on exit")

	cmd.AddCommand(
		newCollectCmd(),
		newExtractCmd(),
		newQueueCmd(),
		newReviewCmd(),
		newPublishCmd(),
		newRunAllCmd(),
		newMigrateCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the CLI and returns the process exit status. Per-item failures only show up in the
// printed counters; setup, configuration, and store bootstrap errors exit non-zero.
func Execute(ctx context.Context) int {
	var holder appHolder
	return execute(ctx, newRootCmd(&holder), &holder, os.Args[1:])
}

func execute(ctx context.Context, root *cobra.Command, holder *appHolder, args []string) int {
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	holder.close()
	if err == nil {
		return 0
	}
	zap.L().Error("Command failed", zap.Error(err))
	fmt.Fprintln(root.ErrOrStderr(), "error:", err)
	return 1
}
