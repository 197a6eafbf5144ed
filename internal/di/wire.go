package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/fundsync/internal/config"
	"github.com/aristath/fundsync/internal/queue"
	"github.com/aristath/fundsync/internal/storage"
)

// Option customises a Container before services are built.
type Option func(*Container)

// WithObjectStore replaces the S3-backed object store.
func WithObjectStore(store storage.ObjectStore) Option {
	return func(c *Container) { c.ObjectStore = store }
}

// WithSQS replaces the SQS client.
func WithSQS(client queue.SQSAPI) Option {
	return func(c *Container) { c.SQS = client }
}

// Wire initializes all dependencies and returns a fully configured container.
// Order of operations:
// 1. Open and migrate the database
// 2. Build repository, parser, object store, orchestrator and consumer
// 3. Build queue components when queue URLs are configured
func Wire(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...Option) (*Container, error) {
	db, err := InitializeDatabase(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	container := &Container{DB: db}
	for _, opt := range opts {
		opt(container)
	}

	if err := InitializeServices(ctx, container, cfg, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := InitializeQueue(ctx, container, cfg, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}

	log.Info().Msg("Dependency injection wiring completed successfully")

	return container, nil
}
