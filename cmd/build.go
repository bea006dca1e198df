package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pagelift/pagelift/api/schemas"
	"github.com/pagelift/pagelift/internal/assets"
	"github.com/pagelift/pagelift/internal/builder"
	"github.com/pagelift/pagelift/internal/canvas"
	"github.com/pagelift/pagelift/internal/config"
	"github.com/pagelift/pagelift/internal/observability"
)

// fallbackDocumentName names documents built from bare trees that carry no
// page metadata.
const fallbackDocumentName = "Imported Page"

// newBuildCmd creates and configures the `build` command.
func newBuildCmd(provider storeProvider) *cobra.Command {
	var (
		inputPath    string
		captureID    string
		outputPath   string
		docName      string
		assetTimeout time.Duration
	)

	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Rebuilds a captured tree into a design document",
		Long: `Reads a capture produced by 'pagelift capture' (or a bare intermediate
tree) and rebuilds it as a design document with auto-layout frames,
text and embedded images. Image references are resolved against the
archived assets first, then fetched over the network.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("asset-timeout") {
				cfg.SetAssetsTimeout(assetTimeout)
			}
			return runBuild(ctx, logger, cfg, inputPath, captureID, outputPath, docName, provider)
		},
	}

	buildCmd.Flags().StringVarP(&inputPath, "input", "i", "", "Capture or tree JSON file to rebuild ('-' reads stdin).")
	buildCmd.Flags().StringVar(&captureID, "capture-id", "", "Archived capture to rebuild (PAGELIFT_DATABASE_URL).")
	buildCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file for the document JSON. If unset, prints to stdout.")
	buildCmd.Flags().StringVar(&docName, "name", "", "Document name. Defaults to the page title or URL.")
	buildCmd.Flags().DurationVar(&assetTimeout, "asset-timeout", 0, "Per-image fetch timeout, e.g. 5s. (Overrides config/env)")
	buildCmd.MarkFlagsOneRequired("input", "capture-id")
	buildCmd.MarkFlagsMutuallyExclusive("input", "capture-id")

	return buildCmd
}

// runBuild contains the core, testable logic of the build command.
func runBuild(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	inputPath, captureID, outputPath, docName string,
	provider storeProvider,
) error {
	var (
		root *schemas.IRNode
		name string
		seed map[string][]byte
	)

	switch {
	case captureID != "":
		archive, cleanup, err := provider.Create(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		if cleanup != nil {
			defer cleanup()
		}

		result, err := archive.GetCapture(ctx, captureID)
		if err != nil {
			return fmt.Errorf("failed to load capture: %w", err)
		}
		if seed, err = archive.LoadAssets(ctx, captureID); err != nil {
			return fmt.Errorf("failed to load archived assets: %w", err)
		}
		root = result.Root
		name = documentName(result)

	default:
		data, err := readInput(inputPath)
		if err != nil {
			return err
		}
		if root, name, err = decodeCaptureInput(data); err != nil {
			return fmt.Errorf("failed to decode %s: %w", inputPath, err)
		}
	}

	if docName != "" {
		name = docName
	}
	if root == nil {
		return fmt.Errorf("capture holds no visible tree to rebuild")
	}

	resolver, err := newAssetResolver(cfg, logger, seed)
	if err != nil {
		return err
	}
	doc, err := buildDocument(ctx, logger, cfg, resolver, name, root)
	if err != nil {
		return err
	}

	out, err := doc.ExportJSON()
	if err != nil {
		return err
	}
	return writeOutput(outputPath, out)
}

// decodeCaptureInput accepts either a full capture result or a bare tree and
// returns the tree plus a document name derived from the metadata.
func decodeCaptureInput(data []byte) (*schemas.IRNode, string, error) {
	var probe struct {
		Root json.RawMessage `json:"root"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && len(probe.Root) > 0 && !bytes.Equal(probe.Root, []byte("null")) {
		result, err := schemas.DecodeCaptureResult(data)
		if err != nil {
			return nil, "", err
		}
		return result.Root, documentName(result), nil
	}

	root, err := schemas.DecodeIR(data)
	if err != nil {
		return nil, "", err
	}
	return root, fallbackDocumentName, nil
}

// documentName picks the most descriptive name a capture offers.
func documentName(result *schemas.CaptureResult) string {
	if result.Title != "" {
		return result.Title
	}
	if result.URL != "" {
		return result.URL
	}
	return fallbackDocumentName
}

// newAssetResolver assembles the build-side resolver chain: seeded bytes
// first, then a cached network fetcher.
func newAssetResolver(cfg config.Interface, logger *zap.Logger, seed map[string][]byte) (assets.Resolver, error) {
	httpResolver, err := assets.NewHTTPResolver(cfg.Assets(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build asset resolver: %w", err)
	}
	resolver := assets.Resolver(assets.NewCachedResolver(httpResolver))
	if len(seed) > 0 {
		resolver = assets.Chain(assets.NewStaticResolver(seed), resolver)
	}
	return resolver, nil
}

// buildDocument runs one reconstruction into a fresh document.
func buildDocument(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	resolver assets.Resolver,
	name string,
	root *schemas.IRNode,
) (*canvas.Document, error) {
	fonts := canvas.NewFontRegistry(nil, canvas.FontName{Family: cfg.Builder().FontFallbackFamily})
	b := builder.New(cfg.Builder(), logger, fonts, resolver)
	b.SetAssetTimeout(cfg.Assets().Timeout)

	doc := canvas.NewDocument(name)
	if err := b.BuildInto(ctx, doc, root); err != nil {
		return nil, fmt.Errorf("build failed: %w", err)
	}

	logger.Info("Build complete.",
		zap.String("document", name),
		zap.Int("canvas_nodes", doc.NodeCount()),
		zap.Int("images", len(doc.Images)),
	)
	return doc, nil
}
