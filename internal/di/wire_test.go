package di

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/fundsync/internal/config"
	"github.com/aristath/fundsync/internal/domain"
	"github.com/aristath/fundsync/internal/scheduler"
)

type memoryStore map[string]string

func (m memoryStore) Fetch(_ context.Context, ref domain.ObjectRef) ([]byte, error) {
	return []byte(m[ref.Key]), nil
}

func testConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()

	base := map[string]string{
		"DB_DSN":     filepath.Join(t.TempDir(), "fundsync.db"),
		"AWS_REGION": "ap-northeast-1",
	}
	for k, v := range env {
		base[k] = v
	}

	cfg, err := config.LoadFrom(context.Background(), envconfig.MapLookuper(base))
	require.NoError(t, err)
	return cfg
}

func TestWire(t *testing.T) {
	cfg := testConfig(t, nil)
	store := memoryStore{
		"daily/a.csv": "trade_date,stock,ticker,col_code,value\n2024-01-31,7203,TM,nav,1234.5\n",
	}

	container, err := Wire(context.Background(), cfg, zerolog.Nop(), WithObjectStore(store))
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.DB)
	assert.NotNil(t, container.Repository)
	assert.NotNil(t, container.Parser)
	assert.NotNil(t, container.Orchestrator)
	assert.NotNil(t, container.Consumer)
	assert.Nil(t, container.Poller)
	assert.Nil(t, container.DeadLetters)

	result, err := container.Orchestrator.SyncObject(context.Background(), domain.ObjectRef{Container: "exports", Key: "daily/a.csv"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.RecordsUpserted)

	count, err := container.Repository.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestWire_WithQueues(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"QUEUE_URL":    "https://sqs.ap-northeast-1.amazonaws.com/123456789012/fund-sync",
		"DLQ_URL":      "https://sqs.ap-northeast-1.amazonaws.com/123456789012/fund-sync-dlq",
		"SQS_ENDPOINT": "http://localhost:4566",
	})

	container, err := Wire(context.Background(), cfg, zerolog.Nop(), WithObjectStore(memoryStore{}))
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.SQS)
	assert.NotNil(t, container.Poller)
	assert.NotNil(t, container.DeadLetters)

	sched := scheduler.New(zerolog.Nop())
	jobs, err := RegisterJobs(container, cfg, sched, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, jobs.Maintenance)
	assert.NotNil(t, jobs.DLQMonitor)
}

func TestRegisterJobs_InvalidSchedule(t *testing.T) {
	cfg := testConfig(t, map[string]string{"MAINTENANCE_SCHEDULE": "every tuesday"})

	container, err := Wire(context.Background(), cfg, zerolog.Nop(), WithObjectStore(memoryStore{}))
	require.NoError(t, err)
	defer container.Close()

	_, err = RegisterJobs(container, cfg, scheduler.New(zerolog.Nop()), zerolog.Nop())
	assert.Error(t, err)
}

func TestWire_BadDatabase(t *testing.T) {
	cfg := testConfig(t, nil)
	cfg.Database.Driver = "oracle"

	_, err := Wire(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}
