// Package pipeline coordinates downloading, parsing and storing one object.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/fundsync/internal/domain"
	"github.com/aristath/fundsync/internal/parser"
	"github.com/aristath/fundsync/internal/repository"
	"github.com/aristath/fundsync/internal/storage"
	"github.com/aristath/fundsync/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxLoggedRowErrors caps per-row warnings for a single object.
const maxLoggedRowErrors = 20

// Parser converts object bytes into records.
type Parser interface {
	Parse(data []byte, sourceKey string) (*parser.Result, error)
}

// Repository persists records.
type Repository interface {
	BatchUpsert(ctx context.Context, records []domain.FundDataRecord) (*repository.UpsertReport, error)
}

// Orchestrator syncs one object at a time. It keeps no state between calls,
// so one instance can serve concurrent invocations.
type Orchestrator struct {
	store  storage.ObjectStore
	parser Parser
	repo   Repository
	log    zerolog.Logger
}

// NewOrchestrator creates a new sync orchestrator.
func NewOrchestrator(store storage.ObjectStore, p Parser, repo Repository, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:  store,
		parser: p,
		repo:   repo,
		log:    log.With().Str("component", "sync_orchestrator").Logger(),
	}
}

// SyncObject downloads, parses and upserts the object referenced by ref.
//
// The returned SyncResult is never nil and reflects everything that happened
// before a failure. The error is non-nil when the object could not be fetched
// or parsed, or when any upsert batch failed; rows rejected by the parser or
// skipped for integrity violations alone do not fail the object.
func (o *Orchestrator) SyncObject(ctx context.Context, ref domain.ObjectRef) (*domain.SyncResult, error) {
	start := time.Now()
	result := &domain.SyncResult{
		RunID:     uuid.New(),
		Object:    ref,
		StartedAt: start.UTC(),
	}
	defer func() { result.Duration = time.Since(start) }()

	log := o.log.With().
		Str("run_id", result.RunID.String()).
		Str("bucket", ref.Container).
		Str("key", ref.Key).
		Logger()

	if err := ref.Validate(); err != nil {
		return result, err
	}

	fetched := utils.StageTimer("fetch", log)
	data, err := o.store.Fetch(ctx, ref)
	fetched()
	if err != nil {
		log.Error().Err(err).Str("kind", string(domain.Classify(err))).Msg("Failed to fetch object")
		return result, fmt.Errorf("failed to fetch %s: %w", ref, err)
	}

	parseDone := utils.StageTimer("parse", log)
	parsed, err := o.parser.Parse(data, ref.Key)
	parseDone()
	if parsed != nil {
		result.Encoding = parsed.Encoding
		result.RecordsParsed = len(parsed.Records)
		result.RecordsRejected = len(parsed.Errors)
		result.RowErrors = append(result.RowErrors, parsed.Errors...)
		logRowErrors(log, parsed.Errors)
	}
	if err != nil {
		log.Error().Err(err).Str("kind", string(domain.Classify(err))).Msg("Failed to parse object")
		return result, fmt.Errorf("failed to parse %s: %w", ref, err)
	}

	upsertDone := utils.StageTimer("upsert", log)
	report, upsertErr := o.repo.BatchUpsert(ctx, parsed.Records)
	upsertDone()
	if report != nil {
		result.RecordsUpserted = report.Affected
		result.Batches = report.Batches
		result.FailedBatches = len(report.Failures)
		positions := positionsByKey(parsed)
		for _, skipped := range report.Skipped {
			pos := positions[skipped.Key]
			result.RowErrors = append(result.RowErrors, domain.RowError{
				Row:    pos.Row,
				Line:   pos.Line,
				Value:  skipped.Key.String(),
				Reason: skipped.Err.Error(),
				Kind:   domain.KindIntegrity,
			})
		}
		result.RecordsRejected += len(report.Skipped)
	}

	event := log.Info()
	if upsertErr != nil {
		event = log.Error().Err(upsertErr).Str("kind", string(domain.Classify(upsertErr)))
	}
	event.
		Str("encoding", result.Encoding).
		Int("parsed", result.RecordsParsed).
		Int64("upserted", result.RecordsUpserted).
		Int("rejected", result.RecordsRejected).
		Int("batches", result.Batches).
		Int("failed_batches", result.FailedBatches).
		Dur("duration", time.Since(start)).
		Msg("Object sync finished")

	if upsertErr != nil {
		return result, fmt.Errorf("failed to upsert records from %s: %w", ref, upsertErr)
	}
	return result, nil
}

// positionsByKey maps each key to the last row that carried it, which is the
// row the repository writes.
func positionsByKey(parsed *parser.Result) map[domain.RecordKey]parser.Position {
	positions := make(map[domain.RecordKey]parser.Position, len(parsed.Records))
	for i, rec := range parsed.Records {
		if i < len(parsed.Positions) {
			positions[rec.Key()] = parsed.Positions[i]
		}
	}
	return positions
}

func logRowErrors(log zerolog.Logger, rowErrors []domain.RowError) {
	for i, rowErr := range rowErrors {
		if i == maxLoggedRowErrors {
			log.Warn().Int("remaining", len(rowErrors)-i).Msg("Further row errors not logged")
			return
		}
		log.Warn().
			Int("row", rowErr.Row).
			Int("line", rowErr.Line).
			Str("field", rowErr.Field).
			Str("reason", rowErr.Reason).
			Msg("Row rejected")
	}
}
