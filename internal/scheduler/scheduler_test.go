package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	err   error
	block chan struct{}
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run() error {
	j.runs.Add(1)
	if j.block != nil {
		<-j.block
	}
	return j.err
}

func newTestScheduler() *Scheduler {
	return New(zerolog.New(nil).Level(zerolog.Disabled))
}

func TestAddJob_InvalidSchedule(t *testing.T) {
	s := newTestScheduler()
	err := s.AddJob("not a schedule", &countingJob{name: "bad"})
	assert.Error(t, err)
}

func TestScheduler_RunsJobs(t *testing.T) {
	s := newTestScheduler()
	ok := &countingJob{name: "ok"}
	failing := &countingJob{name: "failing", err: errors.New("boom")}

	require.NoError(t, s.AddJob("@every 1s", ok))
	require.NoError(t, s.AddJob("@every 1s", failing))

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return ok.runs.Load() >= 1 && failing.runs.Load() >= 1
	}, 3*time.Second, 50*time.Millisecond)
}

func TestRunJob_SkipsOverlappingRun(t *testing.T) {
	s := newTestScheduler()
	job := &countingJob{name: "slow", block: make(chan struct{})}

	done := make(chan struct{})
	go func() {
		s.runJob(job)
		close(done)
	}()

	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	s.runJob(job)
	assert.Equal(t, int32(1), job.runs.Load())

	close(job.block)
	<-done

	job.block = nil
	s.runJob(job)
	assert.Equal(t, int32(2), job.runs.Load())
}

func TestRunNow(t *testing.T) {
	s := newTestScheduler()
	job := &countingJob{name: "now", err: errors.New("boom")}

	assert.Error(t, s.RunNow(job))
	assert.Equal(t, int32(1), job.runs.Load())
}
