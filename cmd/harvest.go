package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newHarvestCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "harvest [adapter...]",
		Short: "Run adapters once and record their listings",
		Long: `Runs the named adapters, or adapters.enabled from the configuration,
or every registered adapter when neither is given or --all is set. Each run's
summary is written to stdout as one JSON line.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			names := args
			if all {
				names = a.Registry.Names()
			}
			adapters, err := a.Adapters(names)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			summaries, runErr := a.Dispatcher(adapters).Run(ctx)
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, sum := range summaries {
				if err := enc.Encode(sum); err != nil {
					return fmt.Errorf("write summary: %w", err)
				}
			}
			if err := a.PushMetrics(ctx); err != nil {
				a.Logger.Warn("push metrics", zap.Error(err))
			}
			if runErr != nil {
				return errors.Join(errors.New("one or more runs failed"), runErr)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "run every registered adapter")
	return cmd
}
