package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aristath/fundsync/internal/database"
	"github.com/aristath/fundsync/internal/domain"
	testdb "github.com/aristath/fundsync/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDay = domain.NewDate(2024, 1, 31)

func numericRecord(stock, colCode, value, source string) domain.FundDataRecord {
	return domain.FundDataRecord{
		TradeDate:       testDay,
		Stock:           stock,
		Ticker:          strings.ToUpper(stock),
		ColCode:         colCode,
		ValueNumeric:    decimal.NewNullDecimal(decimal.RequireFromString(value)),
		SourceObjectKey: source,
	}
}

func textRecord(stock, colCode, value, source string) domain.FundDataRecord {
	return domain.FundDataRecord{
		TradeDate:       testDay,
		Stock:           stock,
		Ticker:          strings.ToUpper(stock),
		ColCode:         colCode,
		ValueText:       &value,
		SourceObjectKey: source,
	}
}

func setupRepo(t *testing.T, opts ...Option) (*FundDataRepository, *database.DB) {
	t.Helper()
	db := testdb.NewTestDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	return NewFundDataRepository(db, log, opts...), db
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestBatchUpsert_RoundTrip(t *testing.T) {
	synced := time.Date(2024, 2, 1, 9, 30, 0, 123456789, time.UTC)
	repo, _ := setupRepo(t, WithClock(fixedClock(synced)))
	ctx := context.Background()

	records := []domain.FundDataRecord{
		numericRecord("fa", "NAV", "10234.567800000000000001", "a.csv"),
		textRecord("fa", "RATING", "AA+", "a.csv"),
		textRecord("fa", "NOTE", "", "a.csv"),
	}

	report, err := repo.BatchUpsert(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Batches)
	assert.Equal(t, int64(3), report.Affected)
	assert.Empty(t, report.Skipped)
	assert.Empty(t, report.Failures)

	for _, want := range records {
		got, err := repo.GetByKey(ctx, want.Key())
		require.NoError(t, err)
		require.NotNil(t, got)

		assert.Equal(t, want.Key(), got.Key())
		assert.Equal(t, want.ValueNumeric.Valid, got.ValueNumeric.Valid)
		if want.ValueNumeric.Valid {
			assert.True(t, want.ValueNumeric.Decimal.Equal(got.ValueNumeric.Decimal),
				"want %s, got %s", want.ValueNumeric.Decimal, got.ValueNumeric.Decimal)
		} else {
			require.NotNil(t, got.ValueText)
			assert.Equal(t, *want.ValueText, *got.ValueText)
		}
		assert.Equal(t, "a.csv", got.SourceObjectKey)
		assert.Equal(t, synced, got.SyncedAt)
	}
}

func TestBatchUpsert_Idempotent(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	records := []domain.FundDataRecord{
		numericRecord("fa", "NAV", "100", "a.csv"),
		numericRecord("fb", "NAV", "200", "a.csv"),
	}

	for i := 0; i < 3; i++ {
		_, err := repo.BatchUpsert(ctx, records)
		require.NoError(t, err)
	}

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	stored, err := repo.GetBySourceObject(ctx, "a.csv")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "100", stored[0].ValueString())
	assert.Equal(t, "200", stored[1].ValueString())
}

func TestBatchUpsert_LastWriteWins(t *testing.T) {
	first := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	now := first
	repo, _ := setupRepo(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := repo.BatchUpsert(ctx, []domain.FundDataRecord{numericRecord("fa", "NAV", "10", "a.csv")})
	require.NoError(t, err)

	now = first.Add(time.Hour)
	_, err = repo.BatchUpsert(ctx, []domain.FundDataRecord{textRecord("fa", "NAV", "suspended", "b.csv")})
	require.NoError(t, err)

	got, err := repo.GetByKey(ctx, numericRecord("fa", "NAV", "0", "").Key())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.ValueNumeric.Valid)
	require.NotNil(t, got.ValueText)
	assert.Equal(t, "suspended", *got.ValueText)
	assert.Equal(t, "b.csv", got.SourceObjectKey)
	assert.Equal(t, now, got.SyncedAt)

	fromA, err := repo.GetBySourceObject(ctx, "a.csv")
	require.NoError(t, err)
	assert.Empty(t, fromA)
}

func TestBatchUpsert_DuplicateKeyInBatch(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	report, err := repo.BatchUpsert(ctx, []domain.FundDataRecord{
		numericRecord("fa", "NAV", "1", "a.csv"),
		numericRecord("fb", "NAV", "5", "a.csv"),
		numericRecord("fa", "NAV", "2", "a.csv"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Affected)

	got, err := repo.GetByKey(ctx, numericRecord("fa", "NAV", "0", "").Key())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "2", got.ValueString())
}

func TestBatchUpsert_BatchBoundary(t *testing.T) {
	const batchSize = 5
	repo, _ := setupRepo(t, WithBatchSize(batchSize))
	ctx := context.Background()

	var records []domain.FundDataRecord
	for i := 0; i < batchSize+1; i++ {
		records = append(records, numericRecord("fund"+string(rune('a'+i)), "NAV", "1", "a.csv"))
	}

	report, err := repo.BatchUpsert(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Batches)
	assert.Equal(t, int64(batchSize+1), report.Affected)
}

func TestBatchUpsert_IntegrityViolationSkipsRecord(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	oversized := numericRecord("fa", strings.Repeat("X", 65), "1", "a.csv")
	records := []domain.FundDataRecord{
		numericRecord("fa", "NAV", "1", "a.csv"),
		oversized,
		numericRecord("fb", "NAV", "2", "a.csv"),
	}

	report, err := repo.BatchUpsert(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Affected)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, oversized.Key(), report.Skipped[0].Key)
	assert.True(t, database.IsIntegrityViolation(report.Skipped[0].Err))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestBatchUpsert_SilentWriteRollsBackBatch(t *testing.T) {
	repo, db := setupRepo(t, WithBatchSize(2))
	ctx := context.Background()

	// Swallow inserts for one stock without raising an error.
	_, err := db.Conn().Exec(`CREATE TRIGGER swallow_ghost BEFORE INSERT ON fund_data
		WHEN NEW.stock = 'ghost' BEGIN SELECT RAISE(IGNORE); END`)
	require.NoError(t, err)

	report, err := repo.BatchUpsert(ctx, []domain.FundDataRecord{
		numericRecord("fa", "NAV", "1", "a.csv"),
		numericRecord("ghost", "NAV", "1", "a.csv"),
		numericRecord("fb", "NAV", "2", "a.csv"),
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindSilentWrite, domain.Classify(err))

	var silent *domain.SilentWriteError
	require.True(t, errors.As(err, &silent))
	assert.Equal(t, int64(2), silent.Expected)
	assert.Equal(t, int64(1), silent.Actual)

	assert.Equal(t, 2, report.Batches)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, 0, report.Failures[0].Index)
	assert.Equal(t, int64(1), report.Affected)

	// First batch rolled back, second batch still written.
	first, err := repo.GetByKey(ctx, numericRecord("fa", "NAV", "0", "").Key())
	require.NoError(t, err)
	assert.Nil(t, first)
	second, err := repo.GetByKey(ctx, numericRecord("fb", "NAV", "0", "").Key())
	require.NoError(t, err)
	assert.NotNil(t, second)
}

func TestBatchUpsert_CanceledContext(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := repo.BatchUpsert(ctx, []domain.FundDataRecord{numericRecord("fa", "NAV", "1", "a.csv")})
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.Equal(t, 0, report.Batches)
	assert.Len(t, report.Failures, 1)
}

func TestBatchUpsert_Empty(t *testing.T) {
	repo, _ := setupRepo(t)

	report, err := repo.BatchUpsert(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Batches)
}

func TestGetByKey_NotFound(t *testing.T) {
	repo, _ := setupRepo(t)

	got, err := repo.GetByKey(context.Background(), domain.RecordKey{TradeDate: testDay, Stock: "x", Ticker: "y", ColCode: "z"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetBySourceObject_Ordered(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	later := numericRecord("fa", "NAV", "3", "a.csv")
	later.TradeDate = domain.NewDate(2024, 2, 1)

	_, err := repo.BatchUpsert(ctx, []domain.FundDataRecord{
		later,
		numericRecord("fb", "NAV", "2", "a.csv"),
		numericRecord("fa", "VOL", "1", "a.csv"),
		numericRecord("fa", "NAV", "9", "other.csv"),
	})
	require.NoError(t, err)

	got, err := repo.GetBySourceObject(ctx, "a.csv")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "fa", got[0].Stock)
	assert.Equal(t, "VOL", got[0].ColCode)
	assert.Equal(t, "fb", got[1].Stock)
	assert.Equal(t, domain.NewDate(2024, 2, 1), got[2].TradeDate)
}

func TestWithBatchSize_IgnoresInvalid(t *testing.T) {
	repo, _ := setupRepo(t, WithBatchSize(0), WithBatchSize(MaxBatchSize+1))
	assert.Equal(t, DefaultBatchSize, repo.BatchSize())
}

func TestBuildUpsert_Placeholders(t *testing.T) {
	repo, _ := setupRepo(t)

	query, args := repo.buildUpsert([]domain.FundDataRecord{
		numericRecord("fa", "NAV", "1", "a.csv"),
		textRecord("fb", "NOTE", "x", "a.csv"),
	}, time.Now())

	assert.Len(t, args, 2*columnsPerRow)
	assert.Equal(t, 2*columnsPerRow, strings.Count(query, "?"))
	assert.Contains(t, query, "ON CONFLICT (trade_date, stock, ticker, col_code) DO UPDATE")
}
