// Package main is the fundsync command. It synchronises fund data CSV exports
// from object storage into the relational store, either as a Lambda function
// fed by SQS or as a long-running worker with an operator HTTP surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/fundsync/internal/config"
	"github.com/aristath/fundsync/internal/di"
	"github.com/aristath/fundsync/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fundsync",
		Short:         "Synchronise fund data exports from object storage into the database",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(lambdaCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(dlqCmd())
	rootCmd.AddCommand(migrateCmd())

	return rootCmd
}

// bootstrap loads configuration and builds the process logger.
func bootstrap(ctx context.Context) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		File:   cfg.Log.File,
	})
	logger.SetGlobalLogger(log)

	return cfg, log, nil
}

// wire loads configuration and builds the service graph.
func wire(ctx context.Context) (*config.Config, *di.Container, zerolog.Logger, error) {
	cfg, log, err := bootstrap(ctx)
	if err != nil {
		return nil, nil, log, err
	}

	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		return nil, nil, log, err
	}

	return cfg, container, log, nil
}
