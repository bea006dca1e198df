package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pagelift/pagelift/internal/config"
	"github.com/pagelift/pagelift/internal/observability"
)

// newCapturesCmd creates and configures the `captures` command.
func newCapturesCmd(provider storeProvider) *cobra.Command {
	var limit int

	capturesCmd := &cobra.Command{
		Use:   "captures",
		Short: "Lists archived captures, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runListCaptures(ctx, logger, cfg, cmd.OutOrStdout(), limit, provider)
		},
	}

	capturesCmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of captures to list.")

	return capturesCmd
}

// runListCaptures contains the core, testable logic of the captures command.
func runListCaptures(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	out io.Writer,
	limit int,
	provider storeProvider,
) error {
	archive, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	summaries, err := archive.ListCaptures(ctx, limit)
	if err != nil {
		logger.Error("Failed to list captures.", zap.Error(err))
		return fmt.Errorf("failed to list captures: %w", err)
	}

	if len(summaries) == 0 {
		fmt.Fprintln(out, "No archived captures.")
		return nil
	}
	for _, s := range summaries {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(out, "%s  %s  %s  %s\n", s.ID, s.CapturedAt.Local().Format("2006-01-02 15:04"), title, s.URL)
	}
	return nil
}
