package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pagelift/pagelift/internal/assets"
	"github.com/pagelift/pagelift/internal/config"
	"github.com/pagelift/pagelift/internal/observability"
)

// newConvertCmd creates and configures the `convert` command.
func newConvertCmd(provider storeProvider) *cobra.Command {
	var (
		outputPath   string
		docName      string
		archive      bool
		noScroll     bool
		headed       bool
		timeout      time.Duration
		assetTimeout time.Duration
	)

	convertCmd := &cobra.Command{
		Use:   "convert <url>",
		Short: "Captures a page and rebuilds it as a design document in one pass",
		Long: `Runs capture and build back to back. Images harvested while the page
loaded are reused directly, so the rebuild rarely refetches anything.`,
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
			if cmd.Flags().Changed("asset-timeout") {
				cfg.SetAssetsTimeout(assetTimeout)
			}

			return runConvert(ctx, logger, cfg, normalizeTargetURL(args[0]), outputPath, docName, archive, provider)
		},
	}

	convertCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file for the document JSON. If unset, prints to stdout.")
	convertCmd.Flags().StringVar(&docName, "name", "", "Document name. Defaults to the page title or URL.")
	convertCmd.Flags().BoolVar(&archive, "archive", false, "Persist the capture to the archive database (PAGELIFT_DATABASE_URL).")
	convertCmd.Flags().BoolVar(&noScroll, "no-scroll", false, "Skip the scroll pass that triggers lazy-loaded content.")
	convertCmd.Flags().BoolVar(&headed, "headed", false, "Run the browser with a visible window. (Overrides config/env)")
	convertCmd.Flags().DurationVar(&timeout, "timeout", 0, "Navigation timeout, e.g. 30s. (Overrides config/env)")
	convertCmd.Flags().DurationVar(&assetTimeout, "asset-timeout", 0, "Per-image fetch timeout, e.g. 5s. (Overrides config/env)")

	return convertCmd
}

// runConvert contains the core, testable logic of the convert command.
func runConvert(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	pageURL, outputPath, docName string,
	archive bool,
	provider storeProvider,
) error {
	// 1. Capture.
	result, harvested, err := capturePage(ctx, logger, cfg, pageURL)
	if err != nil {
		return err
	}

	// 2. Archive, when asked to.
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

	if result.Root == nil {
		return fmt.Errorf("nothing visible was captured at %s", pageURL)
	}

	// 3. Rebuild against the harvested assets, falling back to the network.
	resolver, err := newAssetResolver(cfg, logger, nil)
	if err != nil {
		return err
	}
	if len(harvested) > 0 {
		resolver = assets.Chain(assets.NewHarvestResolver(harvested), resolver)
	}

	name := docName
	if name == "" {
		name = documentName(result)
	}
	doc, err := buildDocument(ctx, logger, cfg, resolver, name, result.Root)
	if err != nil {
		return err
	}

	out, err := doc.ExportJSON()
	if err != nil {
		return err
	}
	if err := writeOutput(outputPath, out); err != nil {
		return err
	}

	if archive {
		fmt.Printf("\nCapture archived. Capture ID: %s\n", result.ID)
	}
	return nil
}
