package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func sweepCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation pass over stuck uploads",
		Long: "Re-enqueue uploads left PENDING, fail those that could not be scheduled, " +
			"and time out uploads stuck PROCESSING. Requires the sqs or redis queue driver.",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			return a.sweepOnce(cmd.Context())
		},
	}
}

func (a *app) sweepOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := a.connectDatabase(ctx); err != nil {
		return err
	}

	r := newRepos()
	dispatcher, _, err := a.queue(ctx, nil)
	if err != nil {
		return err
	}

	result, err := a.newSweeper(r, dispatcher).Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	a.logger.Info("Sweep finished",
		zap.Int("requeued", result.Requeued),
		zap.Int("abandoned", result.Abandoned),
		zap.Int("timed_out", result.TimedOut))
	return nil
}
