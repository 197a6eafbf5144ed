package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/fundsync/internal/config"
	"github.com/aristath/fundsync/internal/reliability"
	"github.com/aristath/fundsync/internal/scheduler"
)

// JobInstances holds the registered background jobs.
type JobInstances struct {
	Maintenance *reliability.MaintenanceJob
	DLQMonitor  *reliability.DLQMonitorJob // nil without a dead-letter queue
}

// RegisterJobs creates the background jobs and registers them with sched.
func RegisterJobs(container *Container, cfg *config.Config, sched *scheduler.Scheduler, log zerolog.Logger) (*JobInstances, error) {
	jobs := &JobInstances{
		Maintenance: reliability.NewMaintenanceJob(container.DB, 0, log),
	}
	if err := sched.AddJob(cfg.MaintenanceSchedule, jobs.Maintenance); err != nil {
		return nil, fmt.Errorf("failed to register maintenance job: %w", err)
	}

	if container.DeadLetters != nil {
		jobs.DLQMonitor = reliability.NewDLQMonitorJob(container.DeadLetters, log)
		if err := sched.AddJob(cfg.DLQCheckSchedule, jobs.DLQMonitor); err != nil {
			return nil, fmt.Errorf("failed to register dead-letter monitor: %w", err)
		}
	}

	log.Info().Msg("Background jobs registered")
	return jobs, nil
}
