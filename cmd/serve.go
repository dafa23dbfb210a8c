package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CMoncur/proto-scrape/internal/api"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var runTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP trigger API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server := api.NewServer(a.Runner, a.Registry, api.Config{
				APIKey:     a.Config.Server.APIKey,
				RunTimeout: runTimeout,
				Deps:       a.SiteDeps(),
			}, a.Logger.Named("api"))
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
				Handler:           server.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.Logger.Info("http server started", zap.Int("port", a.Config.Server.Port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}
			a.Logger.Info("shutdown initiated")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown: %w", err)
			}
			a.Logger.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().DurationVar(&runTimeout, "run-timeout", 10*time.Minute, "upper bound for one triggered run")
	return cmd
}
