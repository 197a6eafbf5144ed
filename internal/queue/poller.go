package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aristath/fundsync/internal/consumer"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
)

const (
	// maxReceiveBatch is the SQS limit for one ReceiveMessage call.
	maxReceiveBatch = 10

	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// BatchHandler processes one batch of messages.
type BatchHandler interface {
	HandleBatch(ctx context.Context, msgs []consumer.Message) consumer.BatchReport
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	QueueURL    string
	Workers     int
	WaitTime    time.Duration
	MaxMessages int
	// VisibilityTimeout is requested on receive and also bounds the time
	// spent handling one batch.
	VisibilityTimeout time.Duration
}

// Poller long-polls an SQS queue and deletes messages the handler reports
// as successful. Failed messages are left to become visible again.
type Poller struct {
	client  SQSAPI
	handler BatchHandler
	cfg     PollerConfig
	log     zerolog.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewPoller creates a new queue poller.
func NewPoller(client SQSAPI, handler BatchHandler, cfg PollerConfig, log zerolog.Logger) *Poller {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxMessages <= 0 || cfg.MaxMessages > maxReceiveBatch {
		cfg.MaxMessages = maxReceiveBatch
	}
	return &Poller{
		client:  client,
		handler: handler,
		cfg:     cfg,
		log:     log.With().Str("component", "queue_poller").Logger(),
	}
}

// Start launches the poll workers. It returns immediately.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			p.run(ctx, worker)
		}(i)
	}

	p.log.Info().
		Str("queue_url", p.cfg.QueueURL).
		Int("workers", p.cfg.Workers).
		Msg("Queue poller started")
}

// Stop stops receiving and waits for in-flight batches to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info().Msg("Queue poller stopped")
}

func (p *Poller) run(ctx context.Context, worker int) {
	log := p.log.With().Int("worker", worker).Logger()
	backoff := minBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		if _, err := p.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Dur("backoff", backoff).Msg("Failed to poll queue")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff
	}
}

// PollOnce receives one batch, hands it to the handler and deletes the
// messages that succeeded. It returns the number of messages received.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	out, err := p.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(p.cfg.QueueURL),
		MaxNumberOfMessages:         int32(p.cfg.MaxMessages),
		WaitTimeSeconds:             int32(p.cfg.WaitTime / time.Second),
		VisibilityTimeout:           int32(p.cfg.VisibilityTimeout / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to receive messages: %w", err)
	}
	if len(out.Messages) == 0 {
		return 0, nil
	}

	msgs := make([]consumer.Message, len(out.Messages))
	receipts := make(map[string]string, len(out.Messages))
	for i, m := range out.Messages {
		msgs[i] = fromSQS(m)
		receipts[msgs[i].ID] = aws.ToString(m.ReceiptHandle)
	}

	// Shutdown must not abandon a batch that is already being processed.
	batchCtx := context.WithoutCancel(ctx)
	if p.cfg.VisibilityTimeout > 0 {
		var cancel context.CancelFunc
		batchCtx, cancel = context.WithTimeout(batchCtx, p.cfg.VisibilityTimeout)
		defer cancel()
	}

	report := p.handler.HandleBatch(batchCtx, msgs)

	if err := p.deleteSucceeded(context.WithoutCancel(ctx), report.Succeeded(), receipts); err != nil {
		return len(msgs), err
	}
	return len(msgs), nil
}

func (p *Poller) deleteSucceeded(ctx context.Context, ids []string, receipts map[string]string) error {
	if len(ids) == 0 {
		return nil
	}

	entries := make([]types.DeleteMessageBatchRequestEntry, 0, len(ids))
	for i, id := range ids {
		entries = append(entries, types.DeleteMessageBatchRequestEntry{
			Id:            aws.String(strconv.Itoa(i)),
			ReceiptHandle: aws.String(receipts[id]),
		})
	}

	out, err := p.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(p.cfg.QueueURL),
		Entries:  entries,
	})
	if err != nil {
		return fmt.Errorf("failed to delete processed messages: %w", err)
	}

	for _, failed := range out.Failed {
		// The message will be redelivered and re-applied idempotently.
		p.log.Warn().
			Str("entry", aws.ToString(failed.Id)).
			Str("code", aws.ToString(failed.Code)).
			Str("message", aws.ToString(failed.Message)).
			Msg("Failed to delete processed message")
	}
	return nil
}

func fromSQS(m types.Message) consumer.Message {
	count, _ := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	return consumer.Message{
		ID:           aws.ToString(m.MessageId),
		Body:         aws.ToString(m.Body),
		ReceiveCount: count,
	}
}
