package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aristath/fundsync/internal/consumer"
	"github.com/aristath/fundsync/internal/domain"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
)

const (
	// inspectVisibility hides an inspected message only long enough for the
	// next receive to return different messages.
	inspectVisibility = time.Second
	// replayVisibility hides a dead letter while it is being replayed.
	replayVisibility = 30 * time.Second
)

// DeadLetter is one message held in the dead-letter queue.
type DeadLetter struct {
	MessageID    string             `json:"message_id"`
	Body         string             `json:"body"`
	ReceiveCount int                `json:"receive_count"`
	SentAt       time.Time          `json:"sent_at,omitempty"`
	Objects      []domain.ObjectRef `json:"objects,omitempty"`
	DecodeError  string             `json:"decode_error,omitempty"`
}

// DeadLetters inspects and replays the dead-letter queue.
type DeadLetters struct {
	client   SQSAPI
	dlqURL   string
	queueURL string
	log      zerolog.Logger
}

// NewDeadLetters creates a dead-letter queue helper. Replayed messages are
// sent to queueURL.
func NewDeadLetters(client SQSAPI, dlqURL, queueURL string, log zerolog.Logger) *DeadLetters {
	return &DeadLetters{
		client:   client,
		dlqURL:   dlqURL,
		queueURL: queueURL,
		log:      log.With().Str("component", "dead_letters").Logger(),
	}
}

// Inspect returns up to limit dead letters without removing them. Inspected
// messages become visible again after about a second.
//
// Each peek is a real receive and increments the message's
// ApproximateReceiveCount. If the dead-letter queue has its own redrive
// policy, repeated inspections can move messages on to its target.
func (d *DeadLetters) Inspect(ctx context.Context, limit int) ([]DeadLetter, error) {
	seen := make(map[string]bool)
	var letters []DeadLetter

	for len(letters) < limit {
		msgs, err := d.receive(ctx, min(limit-len(letters), maxReceiveBatch), inspectVisibility)
		if err != nil {
			return letters, err
		}

		fresh := 0
		for _, m := range msgs {
			id := aws.ToString(m.MessageId)
			if seen[id] {
				continue
			}
			seen[id] = true
			fresh++
			letters = append(letters, toDeadLetter(m))
		}
		if fresh == 0 {
			break
		}
	}

	return letters, nil
}

// Replay moves up to limit dead letters back to the main queue, body
// unchanged. Each message is deleted from the dead-letter queue only after
// it has been sent. It returns the number of messages replayed.
func (d *DeadLetters) Replay(ctx context.Context, limit int) (int, error) {
	if d.queueURL == "" {
		return 0, fmt.Errorf("main queue URL is not configured")
	}

	replayed := 0
	for replayed < limit {
		msgs, err := d.receive(ctx, min(limit-replayed, maxReceiveBatch), replayVisibility)
		if err != nil {
			return replayed, err
		}
		if len(msgs) == 0 {
			break
		}

		for _, m := range msgs {
			if _, err := d.client.SendMessage(ctx, &sqs.SendMessageInput{
				QueueUrl:    aws.String(d.queueURL),
				MessageBody: m.Body,
			}); err != nil {
				return replayed, fmt.Errorf("failed to resend message %s: %w", aws.ToString(m.MessageId), err)
			}

			if _, err := d.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(d.dlqURL),
				ReceiptHandle: m.ReceiptHandle,
			}); err != nil {
				// Already resent; a duplicate delivery is harmless.
				return replayed + 1, fmt.Errorf("failed to delete replayed message %s: %w", aws.ToString(m.MessageId), err)
			}

			replayed++
			d.log.Info().Str("message_id", aws.ToString(m.MessageId)).Msg("Dead letter replayed")
		}
	}

	return replayed, nil
}

// Depth returns the approximate number of visible messages in the dead-letter queue.
func (d *DeadLetters) Depth(ctx context.Context) (int, error) {
	out, err := d.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(d.dlqURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get dead-letter queue attributes: %w", err)
	}

	raw := out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)]
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid queue depth %q: %w", raw, err)
	}
	return n, nil
}

func (d *DeadLetters) receive(ctx context.Context, n int, visibility time.Duration) ([]types.Message, error) {
	out, err := d.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(d.dlqURL),
		MaxNumberOfMessages: int32(n),
		VisibilityTimeout:   int32(visibility / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
			types.MessageSystemAttributeNameSentTimestamp,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive from dead-letter queue: %w", err)
	}
	return out.Messages, nil
}

func toDeadLetter(m types.Message) DeadLetter {
	msg := fromSQS(m)
	letter := DeadLetter{
		MessageID:    msg.ID,
		Body:         msg.Body,
		ReceiveCount: msg.ReceiveCount,
	}

	if ms, err := strconv.ParseInt(m.Attributes[string(types.MessageSystemAttributeNameSentTimestamp)], 10, 64); err == nil {
		letter.SentAt = time.UnixMilli(ms).UTC()
	}

	refs, err := consumer.DecodeBody(msg.Body)
	if err != nil {
		letter.DecodeError = err.Error()
	}
	letter.Objects = refs
	return letter
}
