package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/evalkit-dev/evalkit-engine/pkg/config"
)

func workerCommand(a *app) *cobra.Command {
	var withSweeper bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume import jobs from the sqs or redis queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			return a.work(cmd.Context(), withSweeper)
		},
	}

	cmd.Flags().BoolVar(&withSweeper, "with-sweeper", false, "Also run the reconciliation sweeper in this process")

	return cmd
}

func (a *app) work(parent context.Context, withSweeper bool) error {
	if a.cfg.Queue.Driver == config.QueueDriverLocal {
		return fmt.Errorf("the local queue driver has no external queue to consume; use the serve command")
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := a.connectDatabase(ctx); err != nil {
		return err
	}
	blobs, err := a.blobStore(ctx)
	if err != nil {
		return err
	}

	r := newRepos()
	dispatcher, consumer, err := a.queue(ctx, a.newImporter(r, blobs))
	if err != nil {
		return err
	}

	if withSweeper && a.cfg.Importer.SweepInterval > 0 {
		stopSweeper := startSweeper(ctx, a.newSweeper(r, dispatcher), a.cfg.Importer.SweepInterval)
		defer stopSweeper()
	}

	a.logger.Info("Import worker started",
		zap.String("driver", a.cfg.Queue.Driver),
		zap.Int("workers", a.cfg.Queue.Workers))
	consumer.Start()

	<-ctx.Done()
	a.logger.Info("Import worker stopping")
	a.shutdownConsumer(consumer)
	return nil
}
