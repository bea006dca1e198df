// Package cmd assembles the pagelift command line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pagelift/pagelift/internal/config"
	"github.com/pagelift/pagelift/internal/observability"
)

// contextKey scopes context values owned by this package.
type contextKey string

// configKey carries the validated configuration from the root command's
// PersistentPreRunE to subcommand RunE functions.
const configKey contextKey = "config"

// NewRootCommand builds the full command tree. Every call returns a fresh
// instance so repeated executions never share flag state.
func NewRootCommand() *cobra.Command {
	var (
		cfgFile     string
		databaseURL string
	)

	rootCmd := &cobra.Command{
		Use:   "pagelift",
		Short: "Pagelift converts rendered web pages into design documents.",
		Long: `Pagelift captures a page in a headless browser, distills the rendered
tree into a portable intermediate form and rebuilds it as an editable
design document of auto-layout frames, text and images.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "pagelift"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Info("Starting pagelift", zap.String("version", Version))

			if cmd.Flags().Changed("database-url") {
				cfg.SetStoreURL(databaseURL)
			}

			// Subcommands read the validated config back out of the context.
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml, then ~/.pagelift/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Archive database URL. (Overrides config/env)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	provider := NewStoreProvider()
	rootCmd.AddCommand(newCaptureCmd(provider))
	rootCmd.AddCommand(newBuildCmd(provider))
	rootCmd.AddCommand(newConvertCmd(provider))
	rootCmd.AddCommand(newCapturesCmd(provider))
	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

// Execute runs the command tree under a signal-aware context and reports
// failures on stderr. The caller decides the exit code.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "Aborted.")
		return err
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return err
}

// initializeConfig wires the config file and PAGELIFT_* environment
// variables into v. A missing config file is fine unless one was named
// explicitly.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		config.AddConfigSearchPaths(v)
	}

	v.SetEnvPrefix("PAGELIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// getConfigFromContext returns the configuration stored by the root command.
func getConfigFromContext(ctx context.Context) (config.Interface, error) {
	cfg, ok := ctx.Value(configKey).(config.Interface)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration missing from command context")
	}
	return cfg, nil
}

// writeOutput writes data to path, or to stdout when path is empty or "-".
func writeOutput(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// readInput reads path, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}
