package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pagelift/pagelift/api/schemas"
	"github.com/pagelift/pagelift/internal/browser"
	"github.com/pagelift/pagelift/internal/capture"
	"github.com/pagelift/pagelift/internal/config"
	"github.com/pagelift/pagelift/internal/observability"
)

// newCaptureCmd creates and configures the `capture` command.
func newCaptureCmd(provider storeProvider) *cobra.Command {
	var (
		outputPath string
		archive    bool
		noScroll   bool
		headed     bool
		timeout    time.Duration
	)

	captureCmd := &cobra.Command{
		Use:   "capture <url>",
		Short: "Captures a rendered page into its portable intermediate tree",
		Long: `Loads the page in a headless browser, waits for it to settle and walks
the rendered tree into the intermediate form that build and convert
consume. The result is written as JSON together with page metadata.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			if noScroll {
				cfg.SetCaptureAutoScroll(false)
			}
			if headed {
				cfg.SetBrowserHeadless(false)
			}
			if cmd.Flags().Changed("timeout") {
				cfg.SetCaptureNavigationTimeout(timeout)
			}

			return runCapture(ctx, logger, cfg, normalizeTargetURL(args[0]), outputPath, archive, provider)
		},
	}

	captureCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file for the capture JSON. If unset, prints to stdout.")
	captureCmd.Flags().BoolVar(&archive, "archive", false, "Persist the capture to the archive database (PAGELIFT_DATABASE_URL).")
	captureCmd.Flags().BoolVar(&noScroll, "no-scroll", false, "Skip the scroll pass that triggers lazy-loaded content.")
	captureCmd.Flags().BoolVar(&headed, "headed", false, "Run the browser with a visible window. (Overrides config/env)")
	captureCmd.Flags().DurationVar(&timeout, "timeout", 0, "Navigation timeout, e.g. 30s. (Overrides config/env)")

	return captureCmd
}

// runCapture contains the core, testable logic of the capture command.
func runCapture(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	pageURL, outputPath string,
	archive bool,
	provider storeProvider,
) error {
	result, harvested, err := capturePage(ctx, logger, cfg, pageURL)
	if err != nil {
		return err
	}

	if archive {
		archiveStore, cleanup, err := provider.Create(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		if cleanup != nil {
			defer cleanup()
		}
		if err := archiveStore.SaveCapture(ctx, result, harvested); err != nil {
			return fmt.Errorf("failed to archive capture: %w", err)
		}
	}

	data, err := schemas.EncodeCaptureResult(result)
	if err != nil {
		return err
	}
	if err := writeOutput(outputPath, data); err != nil {
		return err
	}

	logger.Info("Capture complete.",
		zap.String("capture_id", result.ID),
		zap.String("url", result.URL),
		zap.Int("ir_nodes", result.Root.CountNodes()),
		zap.Int("harvested_assets", len(harvested)),
	)
	if archive {
		fmt.Printf("\nCapture archived. Capture ID: %s\n", result.ID)
		fmt.Printf("To rebuild it, run: pagelift build --capture-id %s\n", result.ID)
	}
	return nil
}

// capturePage owns a browser for the duration of one capture and tears it
// down before returning.
func capturePage(ctx context.Context, logger *zap.Logger, cfg config.Interface, pageURL string) (*schemas.CaptureResult, map[string]schemas.HarvestedAsset, error) {
	manager := browser.NewManager(cfg.Browser(), logger)
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Warn("Error during browser shutdown.", zap.Error(err))
		}
	}()

	tab, cancel, err := manager.NewTab()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open browser tab: %w", err)
	}
	defer cancel()

	// The tab context descends from the browser, not from ctx. Tie them
	// together so Ctrl+C interrupts navigation.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	session := capture.NewSession(cfg.Capture(), cfg.Browser().Viewport, logger)
	result, harvested, err := session.Run(tab, pageURL)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			logger.Warn("Capture aborted.", zap.String("url", pageURL))
			return nil, nil, fmt.Errorf("capture aborted by user signal: %w", context.Canceled)
		}
		return nil, nil, fmt.Errorf("capture failed: %w", err)
	}
	return result, harvested, nil
}

// normalizeTargetURL defaults bare hosts to https.
func normalizeTargetURL(target string) string {
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return "https://" + target
	}
	return target
}
