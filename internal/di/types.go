// Package di builds the process-wide service graph once and passes it by reference.
package di

import (
	"github.com/aristath/fundsync/internal/consumer"
	"github.com/aristath/fundsync/internal/database"
	"github.com/aristath/fundsync/internal/parser"
	"github.com/aristath/fundsync/internal/pipeline"
	"github.com/aristath/fundsync/internal/queue"
	"github.com/aristath/fundsync/internal/repository"
	"github.com/aristath/fundsync/internal/storage"
)

// Container holds all dependencies for the application.
//
// Queue components are nil when no queue URLs are configured; the Lambda
// runtime receives messages directly and needs none of them.
type Container struct {
	DB *database.DB

	Repository *repository.FundDataRepository

	Parser       *parser.Parser
	ObjectStore  storage.ObjectStore
	Orchestrator *pipeline.Orchestrator
	Consumer     *consumer.Handler

	SQS         queue.SQSAPI
	Poller      *queue.Poller
	DeadLetters *queue.DeadLetters
}

// Close releases the container's resources.
func (c *Container) Close() error {
	if c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
