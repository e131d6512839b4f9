package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pkgindex/registry/internal/ingest"
	"github.com/pkgindex/registry/internal/queue"
)

func newWorkerCommand(opts *globalOptions) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Drain the ingestion work queue",
		Long: `Run a pool of workers that pop version and topic messages from the Redis
work queue and ingest them. Messages left in flight by a previous worker
are requeued on start. Runs until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := opts.openApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			if workers <= 0 {
				workers = a.cfg.Queue.Workers
			}
			pool, q, err := startWorkers(ctx, a, a.dispatcher(), workers)
			if err != nil {
				return err
			}
			defer q.Close()

			<-ctx.Done()
			stopWorkers(a.logger, pool)
			return nil
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "number of workers (default queue.workers)")
	return cmd
}

// startWorkers connects to the queue, requeues abandoned messages, and
// starts n workers dispatching to d
func startWorkers(ctx context.Context, a *app, d *ingest.Dispatcher, n int) (*queue.WorkerPool, *queue.RedisQueue, error) {
	q, err := queue.NewRedisQueue(a.cfg.Queue)
	if err != nil {
		return nil, nil, err
	}

	recovered, err := q.Recover(ctx)
	if err != nil {
		q.Close()
		return nil, nil, err
	}
	if recovered > 0 {
		a.logger.Warn("requeued in-flight messages", zap.Int("count", recovered))
	}

	if st, err := q.Stats(ctx); err == nil {
		a.logger.Info("queue depth",
			zap.Int64("pending", st.Pending),
			zap.Int64("processing", st.Processing),
			zap.Int64("dead", st.Dead))
	}

	pool := queue.NewWorkerPool(q, n, a.logger)
	pool.RegisterDispatcher(d)
	pool.Start(ctx)
	return pool, q, nil
}

func stopWorkers(logger *zap.Logger, pool *queue.WorkerPool) {
	pool.Stop()
	for _, s := range pool.Metrics().AllStats() {
		logger.Info("queue totals",
			zap.String("type", s.Type),
			zap.Int64("processed", s.Processed),
			zap.Int64("succeeded", s.Succeeded),
			zap.Int64("duplicates", s.Duplicates),
			zap.Int64("failed", s.Failed),
			zap.Int64("retried", s.Retried),
			zap.Float64("success_rate", s.SuccessRate()),
			zap.Duration("avg_duration", s.AvgDuration))
	}
}
