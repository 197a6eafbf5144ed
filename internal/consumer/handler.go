// Package consumer processes batches of queue messages that reference newly
// landed objects, and reports which messages must be redelivered.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/aristath/fundsync/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Status is the outcome of one message.
type Status string

const (
	// StatusSuccess means the message may be deleted from the queue.
	StatusSuccess Status = "success"
	// StatusRetry means the message must stay in the queue for redelivery.
	StatusRetry Status = "retry"
)

// Message is one queue message.
type Message struct {
	ID   string
	Body string
	// ReceiveCount is the approximate number of deliveries, including this one.
	ReceiveCount int
}

// ItemResult reports the outcome of one message.
type ItemResult struct {
	MessageID string      `json:"message_id"`
	Status    Status      `json:"status"`
	Error     string      `json:"error,omitempty"`
	Kind      domain.Kind `json:"kind,omitempty"`
}

// BatchReport lists one ItemResult per input message, in input order.
type BatchReport struct {
	Items []ItemResult `json:"items"`
}

// Failed returns the IDs of messages to leave in the queue.
func (r BatchReport) Failed() []string {
	var ids []string
	for _, item := range r.Items {
		if item.Status == StatusRetry {
			ids = append(ids, item.MessageID)
		}
	}
	return ids
}

// Succeeded returns the IDs of messages that may be deleted.
func (r BatchReport) Succeeded() []string {
	var ids []string
	for _, item := range r.Items {
		if item.Status == StatusSuccess {
			ids = append(ids, item.MessageID)
		}
	}
	return ids
}

// Syncer syncs one object.
type Syncer interface {
	SyncObject(ctx context.Context, ref domain.ObjectRef) (*domain.SyncResult, error)
}

// Options configures a Handler.
type Options struct {
	// Concurrency bounds the messages processed at once.
	Concurrency int
	// MaxReceiveCount is the queue's redrive threshold.
	MaxReceiveCount int
	// SafetyMargin is reserved before the caller's deadline.
	SafetyMargin time.Duration
}

// Handler turns message batches into partial-batch reports.
type Handler struct {
	syncer Syncer
	opts   Options
	log    zerolog.Logger
}

// NewHandler creates a new batch handler.
func NewHandler(syncer Syncer, opts Options, log zerolog.Logger) *Handler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Handler{
		syncer: syncer,
		opts:   opts,
		log:    log.With().Str("component", "consumer").Logger(),
	}
}

// HandleBatch processes every message independently and reports each
// outcome. A failing message never affects the outcome of its siblings.
func (h *Handler) HandleBatch(ctx context.Context, msgs []Message) BatchReport {
	ctx, cancel := h.budget(ctx)
	defer cancel()

	items := make([]ItemResult, len(msgs))

	var g errgroup.Group
	g.SetLimit(h.opts.Concurrency)
	for i, msg := range msgs {
		g.Go(func() error {
			items[i] = h.handleMessage(ctx, msg)
			return nil
		})
	}
	_ = g.Wait()

	report := BatchReport{Items: items}
	h.log.Info().
		Int("messages", len(msgs)).
		Int("failed", len(report.Failed())).
		Msg("Batch processed")

	return report
}

// budget stops work SafetyMargin before the caller's deadline so that
// statuses can still be reported.
func (h *Handler) budget(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok || h.opts.SafetyMargin <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline.Add(-h.opts.SafetyMargin))
}

func (h *Handler) handleMessage(ctx context.Context, msg Message) (result ItemResult) {
	log := h.log.With().
		Str("message_id", msg.ID).
		Int("receive_count", msg.ReceiveCount).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Panic while processing message")
			result = h.retry(log, msg, fmt.Errorf("panic while processing message: %v", r))
		}
	}()

	refs, err := DecodeBody(msg.Body)
	if err != nil {
		return h.retry(log, msg, err)
	}
	if len(refs) == 0 {
		log.Debug().Msg("Message references no objects")
		return ItemResult{MessageID: msg.ID, Status: StatusSuccess}
	}

	var errs []error
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, domain.NewTransientError("sync "+ref.String(), err))
			break
		}
		if _, err := h.syncer.SyncObject(ctx, ref); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return h.retry(log, msg, errors.Join(errs...))
	}

	return ItemResult{MessageID: msg.ID, Status: StatusSuccess}
}

func (h *Handler) retry(log zerolog.Logger, msg Message, err error) ItemResult {
	kind := domain.Classify(err)

	if h.opts.MaxReceiveCount > 0 && msg.ReceiveCount >= h.opts.MaxReceiveCount {
		log.Error().Err(err).Str("kind", string(kind)).Msg("Message failed on its last delivery, it will be dead-lettered")
	} else {
		log.Warn().Err(err).Str("kind", string(kind)).Msg("Message failed, leaving it for redelivery")
	}

	return ItemResult{
		MessageID: msg.ID,
		Status:    StatusRetry,
		Error:     err.Error(),
		Kind:      kind,
	}
}
