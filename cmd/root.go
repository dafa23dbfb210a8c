// Package cmd defines the cryptkeeper CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CMoncur/proto-scrape/internal/app"
	"github.com/CMoncur/proto-scrape/internal/config"
	"github.com/CMoncur/proto-scrape/internal/logging"
)

// skipApp marks commands that only need configuration, not live services.
const skipApp = "skip-app"

type ctxKey string

const (
	appKey    ctxKey = "app"
	configKey ctxKey = "config"
	loggerKey ctxKey = "logger"
)

// newApp is the application factory. Tests replace it.
var newApp = app.New

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "cryptkeeper",
		Short: "Harvests ICO listings into a relational store.",
		Long: `cryptkeeper fetches ICO listing sites through per-site adapters, extracts
one record per sale and upserts complete records into the destination table
by natural key, so repeated runs refresh rather than duplicate.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return err
			}
			ctx := context.WithValue(cmd.Context(), configKey, cfg)
			ctx = context.WithValue(ctx, loggerKey, logger)
			if cmd.Annotations[skipApp] == "" {
				a, err := newApp(ctx, cfg, logger)
				if err != nil {
					return fmt.Errorf("initialize application services: %w", err)
				}
				ctx = context.WithValue(ctx, appKey, a)
			}
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				err = a.Close()
			}
			if logger, ok := cmd.Context().Value(loggerKey).(*zap.Logger); ok {
				err = errors.Join(err, logging.Sync(logger))
			}
			return err
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newHarvestCmd())
	cmd.AddCommand(newAdaptersCmd())
	cmd.AddCommand(newSchemaCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "cryptkeeper:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

func resolveConfig(ctx context.Context) config.Config {
	cfg, _ := ctx.Value(configKey).(config.Config)
	return cfg
}

func resolveLogger(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}
