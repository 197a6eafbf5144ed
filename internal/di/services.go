package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/fundsync/internal/config"
	"github.com/aristath/fundsync/internal/consumer"
	"github.com/aristath/fundsync/internal/parser"
	"github.com/aristath/fundsync/internal/pipeline"
	"github.com/aristath/fundsync/internal/queue"
	"github.com/aristath/fundsync/internal/repository"
	"github.com/aristath/fundsync/internal/storage"
)

// InitializeServices builds the sync pipeline on top of an initialized database.
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.Repository = repository.NewFundDataRepository(
		container.DB,
		log,
		repository.WithBatchSize(cfg.UpsertBatchSize),
	)

	p, err := parser.New(parser.Options{Encodings: cfg.Parser.Encodings})
	if err != nil {
		return fmt.Errorf("failed to create parser: %w", err)
	}
	container.Parser = p

	if container.ObjectStore == nil {
		store, err := storage.NewS3Store(ctx, storage.Config{
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			ForcePathStyle:  cfg.Storage.ForcePathStyle,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			DownloadTimeout: cfg.Storage.DownloadTimeout,
			MaxObjectBytes:  cfg.Storage.MaxObjectBytes,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create object store: %w", err)
		}
		container.ObjectStore = store
	}

	container.Orchestrator = pipeline.NewOrchestrator(container.ObjectStore, container.Parser, container.Repository, log)

	container.Consumer = consumer.NewHandler(container.Orchestrator, consumer.Options{
		Concurrency:     cfg.Queue.Concurrency,
		MaxReceiveCount: cfg.Queue.MaxReceiveCount,
		SafetyMargin:    cfg.InvocationSafetyMargin,
	}, log)

	return nil
}

// InitializeQueue builds the queue poller and dead-letter tooling. It does
// nothing when neither queue URL is configured.
func InitializeQueue(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if cfg.Queue.QueueURL == "" && cfg.Queue.DLQURL == "" {
		return nil
	}

	if container.SQS == nil {
		client, err := queue.NewSQSClient(ctx, cfg.Storage.Region, cfg.Queue.Endpoint)
		if err != nil {
			return fmt.Errorf("failed to create SQS client: %w", err)
		}
		container.SQS = client
	}

	if cfg.Queue.QueueURL != "" {
		container.Poller = queue.NewPoller(container.SQS, container.Consumer, queue.PollerConfig{
			QueueURL:          cfg.Queue.QueueURL,
			Workers:           cfg.Queue.Workers,
			WaitTime:          cfg.Queue.PollWait,
			MaxMessages:       cfg.Queue.PollMaxMessages,
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		}, log)
	}

	if cfg.Queue.DLQURL != "" {
		container.DeadLetters = queue.NewDeadLetters(container.SQS, cfg.Queue.DLQURL, cfg.Queue.QueueURL, log)
	}

	return nil
}
