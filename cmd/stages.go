package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/combat-training-ingest/internal/app"
	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

func newStageCmd(use, short string, run func(ctx context.Context, a App) (ingest.Counters, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			counters, err := run(cmd.Context(), a)
			fmt.Fprintln(cmd.OutOrStdout(), renderCounters([]app.StageResult{{Stage: use, Counters: counters, Err: err}}))
			if err != nil {
				return fmt.Errorf("%s: %w", use, err)
			}
			return nil
		},
	}
}

func newCollectCmd() *cobra.Command {
	return newStageCmd(app.StageCollect, "Collect documents from every active source",
		func(ctx context.Context, a App) (ingest.Counters, error) { return a.RunCollect(ctx) })
}

func newExtractCmd() *cobra.Command {
	var retryErrors bool
	cmd := newStageCmd(app.StageExtract, "Extract training signals from collected documents",
		func(ctx context.Context, a App) (ingest.Counters, error) { return a.RunExtract(ctx, retryErrors) })
	cmd.Flags().BoolVar(&retryErrors, "retry-errors", false, "move error documents back to collected first")
	return cmd
}

func newQueueCmd() *cobra.Command {
	return newStageCmd(app.StageQueue, "Turn extracted signals into moderation proposals",
		func(ctx context.Context, a App) (ingest.Counters, error) { return a.RunQueue(ctx) })
}

func newReviewCmd() *cobra.Command {
	return newStageCmd(app.StageReview, "Auto-approve or reject pending proposals by confidence",
		func(ctx context.Context, a App) (ingest.Counters, error) { return a.RunReview(ctx) })
}

func newPublishCmd() *cobra.Command {
	return newStageCmd(app.StagePublish, "Publish approved proposals into the catalog",
		func(ctx context.Context, a App) (ingest.Counters, error) { return a.RunPublish(ctx) })
}

func newRunAllCmd() *cobra.Command {
	var retryErrors bool
	cmd := &cobra.Command{
		Use:   "run-all",
		Short: "Run collect, extract, queue, review, and publish in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			results, err := a.RunAll(cmd.Context(), retryErrors)
			fmt.Fprintln(cmd.OutOrStdout(), renderCounters(results))
			if err != nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&retryErrors, "retry-errors", false, "move error documents back to collected before extracting")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Migrate(cmd.Context()); err != nil {
				return err
			}
			a.Logger().Info("Schema applied")
			return nil
		},
	}
}
