package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/fundsync/internal/di"
	"github.com/aristath/fundsync/internal/scheduler"
	"github.com/aristath/fundsync/internal/server"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	var noPoll bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the queue worker, scheduled jobs and the HTTP API",
		Long: `Run fundsync as a long-lived worker.

The worker long-polls QUEUE_URL (unless --no-poll is given), runs database
maintenance and dead-letter monitoring on their cron schedules and serves
the operator HTTP API on HTTP_PORT until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, container, log, err := wire(ctx)
			if err != nil {
				return err
			}
			defer container.Close()

			log.Info().Str("version", Version).Msg("Starting fundsync")

			sched := scheduler.New(log)
			if _, err := di.RegisterJobs(container, cfg, sched, log); err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop()

			if container.Poller != nil && !noPoll {
				container.Poller.Start(ctx)
				defer container.Poller.Stop()
			} else {
				log.Info().Msg("Queue polling disabled")
			}

			srv := server.New(server.Config{
				Log:            log,
				DB:             container.DB,
				Records:        container.Repository,
				Syncer:         container.Orchestrator,
				Port:           cfg.HTTPPort,
				RequestTimeout: cfg.Storage.DownloadTimeout + cfg.Queue.VisibilityTimeout,
			})

			serverErr := make(chan error, 1)
			go func() {
				serverErr <- srv.Start()
			}()

			select {
			case <-ctx.Done():
				log.Info().Msg("Shutdown signal received")
			case err := <-serverErr:
				if err != nil {
					return fmt.Errorf("HTTP server stopped: %w", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("HTTP server forced to shutdown")
			}

			log.Info().Msg("Server stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&noPoll, "no-poll", false, "serve the HTTP API without consuming the queue")

	return cmd
}
