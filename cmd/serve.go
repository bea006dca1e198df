package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pagelift/pagelift/internal/bridge"
	"github.com/pagelift/pagelift/internal/browser"
	"github.com/pagelift/pagelift/internal/config"
	"github.com/pagelift/pagelift/internal/observability"
)

// newServeCmd creates and configures the `serve` command.
func newServeCmd() *cobra.Command {
	var (
		listenAddr string
		noBrowser  bool
	)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the bridge service for editor plugins",
		Long: `Serves the WebSocket build endpoint, the image proxy and the REST
conversion API until interrupted. Editor plugins connect here to turn
captured trees into live canvas documents.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.SetServiceListenAddr(listenAddr)
			}
			return runServe(ctx, logger, cfg, noBrowser)
		},
	}

	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Listen address, e.g. :8787. (Overrides config/env)")
	serveCmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Disable the server-side capture path of /api/v1/convert.")

	return serveCmd
}

// runServe contains the core, testable logic of the serve command.
func runServe(ctx context.Context, logger *zap.Logger, cfg config.Interface, noBrowser bool) error {
	var manager *browser.Manager
	if !noBrowser {
		manager = browser.NewManager(cfg.Browser(), logger)
		defer func() {
			if err := manager.Close(); err != nil {
				logger.Warn("Error during browser manager shutdown.", zap.Error(err))
			}
		}()
	}

	server, err := bridge.NewServer(bridge.Options{
		Config:  cfg,
		Log:     logger,
		Browser: manager,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize bridge server: %w", err)
	}

	logger.Info("Starting bridge service.",
		zap.String("listen_addr", cfg.Service().ListenAddr),
		zap.Bool("server_side_capture", !noBrowser),
	)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("bridge service failed: %w", err)
	}
	return nil
}
