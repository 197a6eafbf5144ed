// Package repository persists fund data records.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/fundsync/internal/database"
	"github.com/aristath/fundsync/internal/domain"
	"github.com/aristath/fundsync/internal/utils"
	"github.com/rs/zerolog"
)

const (
	// DefaultBatchSize bounds the rows written by one upsert statement.
	DefaultBatchSize = 1000
	// MaxBatchSize keeps one statement under SQLite's bind variable limit.
	MaxBatchSize = 4000
)

const selectColumns = "trade_date, stock, ticker, col_code, value_numeric, value_text, source_object_key, synced_at"

const upsertConflict = ` ON CONFLICT (trade_date, stock, ticker, col_code) DO UPDATE SET
	value_numeric = excluded.value_numeric,
	value_text = excluded.value_text,
	source_object_key = excluded.source_object_key,
	synced_at = excluded.synced_at`

// columnsPerRow is the number of bind parameters per upserted record.
const columnsPerRow = 8

// UpsertReport describes the outcome of one BatchUpsert call.
type UpsertReport struct {
	// Batches is the number of upsert statements attempted.
	Batches int
	// Affected is the number of rows inserted or updated across committed batches.
	Affected int64
	// Skipped holds records rejected by a constraint other than the unique key.
	Skipped []domain.IntegrityError
	// Failures holds batches that were rolled back.
	Failures []BatchFailure
}

// BatchFailure describes a batch that was not written.
type BatchFailure struct {
	Index int
	Size  int
	Err   error
}

// FundDataRepository handles fund data persistence.
type FundDataRepository struct {
	db        *database.DB
	batchSize int
	now       func() time.Time
	log       zerolog.Logger
}

// Option configures a FundDataRepository.
type Option func(*FundDataRepository)

// WithBatchSize overrides DefaultBatchSize. Values outside 1..MaxBatchSize are ignored.
func WithBatchSize(n int) Option {
	return func(r *FundDataRepository) {
		if n > 0 && n <= MaxBatchSize {
			r.batchSize = n
		}
	}
}

// WithClock overrides the clock used for synced_at.
func WithClock(now func() time.Time) Option {
	return func(r *FundDataRepository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewFundDataRepository creates a new fund data repository.
func NewFundDataRepository(db *database.DB, log zerolog.Logger, opts ...Option) *FundDataRepository {
	r := &FundDataRepository{
		db:        db,
		batchSize: DefaultBatchSize,
		now:       time.Now,
		log:       log.With().Str("component", "fund_data_repository").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BatchSize returns the configured batch size.
func (r *FundDataRepository) BatchSize() int {
	return r.batchSize
}

// BatchUpsert writes records in batches of BatchSize, one transaction per
// batch. A record whose key already exists replaces the stored value and
// synced_at. When the same key appears more than once, the later record wins.
//
// A failing batch is rolled back and reported in the returned UpsertReport;
// later batches are still attempted. The returned error joins all batch
// failures and is nil when every batch committed.
func (r *FundDataRepository) BatchUpsert(ctx context.Context, records []domain.FundDataRecord) (*UpsertReport, error) {
	report := &UpsertReport{}
	if len(records) == 0 {
		return report, nil
	}

	syncedAt := r.now().UTC()
	var errs []error

	for start, index := 0, 0; start < len(records); start, index = start+r.batchSize, index+1 {
		end := min(start+r.batchSize, len(records))
		batch := dedupeByKey(records[start:end])

		if err := ctx.Err(); err != nil {
			failure := BatchFailure{Index: index, Size: len(batch), Err: domain.NewTransientError("upsert batch", err)}
			report.Failures = append(report.Failures, failure)
			errs = append(errs, fmt.Errorf("batch %d: %w", index, failure.Err))
			continue
		}

		report.Batches++
		measured := utils.MeasureDBQuery("fund_data_upsert", r.log)
		affected, skipped, err := r.upsertBatch(ctx, batch, syncedAt)
		measured(affected)
		if err != nil {
			r.log.Error().
				Err(err).
				Int("batch", index).
				Int("size", len(batch)).
				Str("kind", string(domain.Classify(err))).
				Msg("Batch upsert failed, rolled back")
			report.Failures = append(report.Failures, BatchFailure{Index: index, Size: len(batch), Err: err})
			errs = append(errs, fmt.Errorf("batch %d: %w", index, err))
			continue
		}

		report.Affected += affected
		report.Skipped = append(report.Skipped, skipped...)

		r.log.Debug().
			Int("batch", index).
			Int("size", len(batch)).
			Int64("affected", affected).
			Int("skipped", len(skipped)).
			Msg("Batch upserted")
	}

	return report, errors.Join(errs...)
}

// upsertBatch writes one batch as a single statement. On a constraint
// violation the batch is replayed row by row so that only the offending
// records are skipped.
func (r *FundDataRepository) upsertBatch(ctx context.Context, batch []domain.FundDataRecord, syncedAt time.Time) (int64, []domain.IntegrityError, error) {
	query, args := r.buildUpsert(batch, syncedAt)
	expected := int64(len(batch))

	var affected int64
	err := database.WithTransaction(ctx, r.db.Conn(), func(tx *sql.Tx) error {
		n, err := execAffected(ctx, tx, query, args)
		if err != nil {
			return err
		}
		if n != expected {
			return &domain.SilentWriteError{Expected: expected, Actual: n}
		}
		affected = n
		return nil
	})
	if err == nil {
		return affected, nil, nil
	}

	if database.IsIntegrityViolation(err) {
		r.log.Warn().Err(err).Int("size", len(batch)).Msg("Constraint violation in batch, retrying row by row")
		return r.upsertRowByRow(ctx, batch, syncedAt)
	}

	return 0, nil, classifyWriteError(err)
}

func (r *FundDataRepository) upsertRowByRow(ctx context.Context, batch []domain.FundDataRecord, syncedAt time.Time) (int64, []domain.IntegrityError, error) {
	var (
		affected int64
		skipped  []domain.IntegrityError
	)

	err := database.WithTransaction(ctx, r.db.Conn(), func(tx *sql.Tx) error {
		affected, skipped = 0, nil

		for _, rec := range batch {
			if _, err := tx.ExecContext(ctx, "SAVEPOINT fund_data_row"); err != nil {
				return fmt.Errorf("failed to create savepoint: %w", err)
			}

			query, args := r.buildUpsert([]domain.FundDataRecord{rec}, syncedAt)
			n, err := execAffected(ctx, tx, query, args)
			if err != nil {
				if !database.IsIntegrityViolation(err) {
					return err
				}
				if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT fund_data_row"); rbErr != nil {
					return fmt.Errorf("failed to roll back savepoint: %w", rbErr)
				}
				skipped = append(skipped, domain.IntegrityError{Key: rec.Key(), Err: err})
				r.log.Warn().Err(err).Str("key", rec.Key().String()).Msg("Skipping record that violates a constraint")
			} else if n != 1 {
				return &domain.SilentWriteError{Expected: 1, Actual: n}
			} else {
				affected += n
			}

			if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT fund_data_row"); err != nil {
				return fmt.Errorf("failed to release savepoint: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, nil, classifyWriteError(err)
	}
	return affected, skipped, nil
}

func execAffected(ctx context.Context, tx *sql.Tx, query string, args []any) (int64, error) {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

// buildUpsert renders one multi-row INSERT ... ON CONFLICT statement.
func (r *FundDataRepository) buildUpsert(batch []domain.FundDataRecord, syncedAt time.Time) (string, []any) {
	dialect := r.db.Dialect()
	args := make([]any, 0, len(batch)*columnsPerRow)

	var b strings.Builder
	b.WriteString("INSERT INTO fund_data (")
	b.WriteString(selectColumns)
	b.WriteString(") VALUES ")

	for i, rec := range batch {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 0; c < columnsPerRow; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString(dialect.Placeholder(len(args) + c + 1))
		}
		b.WriteByte(')')

		args = append(args,
			dialect.DateArg(rec.TradeDate.Time),
			rec.Stock,
			rec.Ticker,
			rec.ColCode,
			rec.ValueNumeric,
			nullString(rec.ValueText),
			rec.SourceObjectKey,
			dialect.TimeArg(syncedAt),
		)
	}
	b.WriteString(upsertConflict)

	return b.String(), args
}

// dedupeByKey collapses records sharing a key to the last occurrence,
// keeping the position of the first.
func dedupeByKey(records []domain.FundDataRecord) []domain.FundDataRecord {
	seen := make(map[domain.RecordKey]int, len(records))
	out := make([]domain.FundDataRecord, 0, len(records))
	for _, rec := range records {
		key := rec.Key()
		if i, ok := seen[key]; ok {
			out[i] = rec
			continue
		}
		seen[key] = len(out)
		out = append(out, rec)
	}
	return out
}

// classifyWriteError marks retryable driver failures as transient.
func classifyWriteError(err error) error {
	var silent *domain.SilentWriteError
	if errors.As(err, &silent) {
		return err
	}
	if database.IsTransient(err) {
		return domain.NewTransientError("upsert batch", err)
	}
	return err
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// GetByKey retrieves the record stored under key. Returns nil if not found.
func (r *FundDataRepository) GetByKey(ctx context.Context, key domain.RecordKey) (*domain.FundDataRecord, error) {
	d := r.db.Dialect()
	query := fmt.Sprintf(`SELECT %s FROM fund_data
		WHERE trade_date = %s AND stock = %s AND ticker = %s AND col_code = %s`,
		selectColumns, d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4))

	row := r.db.Conn().QueryRowContext(ctx, query, d.DateArg(key.TradeDate.Time), key.Stock, key.Ticker, key.ColCode)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fund data %s: %w", key, err)
	}
	return rec, nil
}

// GetBySourceObject returns every record whose latest write came from the
// given object, ordered by key.
func (r *FundDataRepository) GetBySourceObject(ctx context.Context, sourceObjectKey string) ([]domain.FundDataRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM fund_data WHERE source_object_key = %s
		ORDER BY trade_date, stock, ticker, col_code`, selectColumns, r.db.Dialect().Placeholder(1))

	rows, err := r.db.Conn().QueryContext(ctx, query, sourceObjectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query fund data by source object: %w", err)
	}
	defer rows.Close()

	var records []domain.FundDataRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fund data: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fund data: %w", err)
	}
	return records, nil
}

// Count returns the number of stored records.
func (r *FundDataRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.Conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM fund_data").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count fund data: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (*domain.FundDataRecord, error) {
	var (
		rec       domain.FundDataRecord
		tradeDate dateValue
		text      sql.NullString
		syncedAt  timeValue
	)

	err := s.Scan(&tradeDate, &rec.Stock, &rec.Ticker, &rec.ColCode,
		&rec.ValueNumeric, &text, &rec.SourceObjectKey, &syncedAt)
	if err != nil {
		return nil, err
	}

	rec.TradeDate = tradeDate.date
	rec.SyncedAt = syncedAt.t
	if text.Valid {
		rec.ValueText = &text.String
	}
	return &rec, nil
}
