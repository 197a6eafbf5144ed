// Package reliability provides scheduled health and maintenance jobs.
package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// MaintainedDB is the subset of database.DB used by maintenance.
type MaintainedDB interface {
	Name() string
	HealthCheck(ctx context.Context) error
	WALCheckpoint(ctx context.Context, mode string) error
}

// MaintenanceJob checks the fund data store and truncates the SQLite WAL.
type MaintenanceJob struct {
	db      MaintainedDB
	timeout time.Duration
	log     zerolog.Logger
}

// NewMaintenanceJob creates a new maintenance job
func NewMaintenanceJob(db MaintainedDB, timeout time.Duration, log zerolog.Logger) *MaintenanceJob {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &MaintenanceJob{
		db:      db,
		timeout: timeout,
		log:     log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes the maintenance job
func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	j.log.Info().Str("database", j.db.Name()).Msg("Starting maintenance")

	if err := j.db.HealthCheck(ctx); err != nil {
		j.log.Error().Err(err).Str("database", j.db.Name()).Msg("Database health check failed")
		return fmt.Errorf("health check failed: %w", err)
	}

	// A failed checkpoint only delays WAL truncation.
	if err := j.db.WALCheckpoint(ctx, "TRUNCATE"); err != nil {
		j.log.Warn().Err(err).Str("database", j.db.Name()).Msg("WAL checkpoint failed")
	}

	j.log.Info().
		Str("database", j.db.Name()).
		Dur("duration", time.Since(start)).
		Msg("Maintenance completed")
	return nil
}
