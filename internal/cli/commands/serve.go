package commands

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pkgindex/registry/internal/stats"
	"github.com/pkgindex/registry/internal/web/api"
	"github.com/pkgindex/registry/internal/web/server"
)

func newServeCommand(opts *globalOptions) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the ingestion and retrieval API until SIGINT or SIGTERM.

With --workers the process also drains the Redis work queue.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts, workers)
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "in-process queue workers (0 disables the queue)")
	return cmd
}

func runServe(cmd *cobra.Command, opts *globalOptions, workers int) error {
	ctx := cmd.Context()
	a, err := opts.openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	dispatcher := a.dispatcher()
	statsClient := stats.NewClient(a.cfg.Stats, stats.WithLogger(a.logger))
	defer statsClient.Close()

	handler := api.NewHandler(api.Config{
		APIPrefix:        a.cfg.Server.APIPrefix,
		ShowErrorDetails: a.cfg.Server.ShowErrorDetails,
		RequestTimeout:   a.cfg.Server.RequestTimeout,
	}, dispatcher, a.reader(), statsClient, a.db, a.logger)

	var stopQueue func(ctx context.Context) error
	if workers > 0 {
		pool, q, err := startWorkers(ctx, a, dispatcher, workers)
		if err != nil {
			return err
		}
		handler.WithQueue(q)
		stopQueue = func(ctx context.Context) error {
			stopWorkers(a.logger, pool)
			return q.Close()
		}
	}

	srvCfg := server.DefaultConfig(handler.Routes())
	srvCfg.Address = a.cfg.Address()
	srv, err := server.New(srvCfg)
	if err != nil {
		if stopQueue != nil {
			stopQueue(ctx)
		}
		return err
	}

	shutdown := server.NewGracefulShutdown(srv, &server.ShutdownConfig{
		Timeout: a.cfg.Server.ShutdownTimeout,
		Logger:  a.logger,
	})
	if stopQueue != nil {
		shutdown.RegisterHook(stopQueue)
	}

	a.logger.Info("starting registry",
		zap.String("address", srvCfg.Address),
		zap.String("api_prefix", a.cfg.Server.APIPrefix),
		zap.Int("workers", workers),
		zap.Bool("tracing", a.tracing.Enabled()))
	return shutdown.Run(ctx)
}
