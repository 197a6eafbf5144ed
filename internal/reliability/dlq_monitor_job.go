package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DepthReader reports the approximate number of messages in a queue.
type DepthReader interface {
	Depth(ctx context.Context) (int, error)
}

// DLQMonitorJob warns when messages are waiting in the dead-letter queue.
type DLQMonitorJob struct {
	dlq     DepthReader
	timeout time.Duration
	log     zerolog.Logger

	lastDepth int
}

// NewDLQMonitorJob creates a new dead-letter queue monitor
func NewDLQMonitorJob(dlq DepthReader, log zerolog.Logger) *DLQMonitorJob {
	return &DLQMonitorJob{
		dlq:     dlq,
		timeout: 30 * time.Second,
		log:     log.With().Str("job", "dlq_monitor").Logger(),
	}
}

// Name returns the job name
func (j *DLQMonitorJob) Name() string {
	return "dlq_monitor"
}

// Run reads the dead-letter queue depth once.
func (j *DLQMonitorJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	depth, err := j.dlq.Depth(ctx)
	if err != nil {
		return fmt.Errorf("failed to read dead-letter queue depth: %w", err)
	}

	switch {
	case depth > 0:
		j.log.Warn().
			Int("depth", depth).
			Int("previous_depth", j.lastDepth).
			Msg("Messages waiting in dead-letter queue")
	case j.lastDepth > 0:
		j.log.Info().Msg("Dead-letter queue drained")
	default:
		j.log.Debug().Msg("Dead-letter queue empty")
	}

	j.lastDepth = depth
	return nil
}

// LastDepth returns the depth seen by the most recent successful run.
func (j *DLQMonitorJob) LastDepth() int {
	return j.lastDepth
}
