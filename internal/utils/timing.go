// Package utils provides small helpers shared across packages.
package utils

import (
	"time"

	"github.com/rs/zerolog"
)

const (
	slowStageThreshold = 30 * time.Second
	slowQueryThreshold = 5 * time.Second
)

// StageTimer provides a defer-friendly way to measure one pipeline stage.
// The returned function logs the duration and returns it.
//
// Usage:
//
//	done := utils.StageTimer("fetch", log)
//	data, err := store.Fetch(ctx, ref)
//	done()
func StageTimer(stage string, log zerolog.Logger) func() time.Duration {
	start := time.Now()

	return func() time.Duration {
		duration := time.Since(start)

		log.Debug().
			Str("stage", stage).
			Dur("duration_ms", duration).
			Msg("Stage completed")

		if duration > slowStageThreshold {
			log.Warn().
				Str("stage", stage).
				Dur("duration", duration).
				Msg("Slow stage detected")
		}

		return duration
	}
}

// MeasureDBQuery measures database query performance
func MeasureDBQuery(queryName string, log zerolog.Logger) func(rowsAffected int64) time.Duration {
	start := time.Now()

	return func(rowsAffected int64) time.Duration {
		duration := time.Since(start)

		log.Debug().
			Str("query", queryName).
			Dur("duration_ms", duration).
			Int64("rows_affected", rowsAffected).
			Msg("Database query completed")

		if duration > slowQueryThreshold {
			log.Warn().
				Str("query", queryName).
				Dur("duration", duration).
				Int64("rows_affected", rowsAffected).
				Msg("Slow database query detected")
		}

		return duration
	}
}
