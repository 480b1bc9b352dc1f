package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/festalink/backend/internal/config"
	"github.com/festalink/backend/internal/ledger"
)

type fakeSweeps struct {
	bonus, subs, reminders atomic.Int32
	limit                  atomic.Int32
	bonusRes               ledger.SweepResult
	err                    error
}

func (f *fakeSweeps) SweepExpiredBonuses(context.Context) (ledger.SweepResult, error) {
	f.bonus.Add(1)
	return f.bonusRes, f.err
}

func (f *fakeSweeps) SweepLapsedSubscriptions(context.Context) (int, error) {
	f.subs.Add(1)
	return 0, f.err
}

func (f *fakeSweeps) SendDueReminders(_ context.Context, limit int) (int, error) {
	f.reminders.Add(1)
	f.limit.Store(int32(limit))
	return 0, f.err
}

func TestJobsRunOnInterval(t *testing.T) {
	f := &fakeSweeps{}
	cfg := config.JobsConfig{
		BonusSweepInterval:        10 * time.Millisecond,
		SubscriptionSweepInterval: 10 * time.Millisecond,
		ReviewReminderInterval:    10 * time.Millisecond,
		ReviewReminderBatch:       25,
	}
	s, err := New(nil, Jobs(cfg, f, f, f)...)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())

	s.Start()
	require.Eventually(t, func() bool {
		return f.bonus.Load() >= 2 && f.subs.Load() >= 2 && f.reminders.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Shutdown())
	assert.EqualValues(t, 25, f.limit.Load())
}

func TestDisabledJobsAreSkipped(t *testing.T) {
	f := &fakeSweeps{}
	s, err := New(nil, Jobs(config.JobsConfig{BonusSweepInterval: time.Hour}, f, f, f)...)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
	require.NoError(t, s.Shutdown())
}

func TestFailingJobKeepsRunning(t *testing.T) {
	var calls atomic.Int32
	s, err := New(nil, Job{
		Name:     "flaky",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			calls.Add(1)
			return errors.New("boom")
		},
	})
	require.NoError(t, err)
	s.Start()
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Shutdown())
}

func TestBonusJobReportsPartialFailure(t *testing.T) {
	f := &fakeSweeps{bonusRes: ledger.SweepResult{Vendors: 4, Expired: 3, Failed: 1}}
	jobs := Jobs(config.JobsConfig{}, f, f, f)
	err := jobs[0].Run(context.Background())
	assert.ErrorContains(t, err, "1 of 4 vendors failed")

	f.err = errors.New("db down")
	assert.EqualError(t, jobs[1].Run(context.Background()), "db down")
}

func TestShutdownCancelsRunningJob(t *testing.T) {
	s, err := New(nil)
	require.NoError(t, err)

	started := make(chan struct{})
	done := make(chan error, 1)
	go s.run(Job{Name: "slow", Interval: time.Hour, Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	}})
	<-started
	require.NoError(t, s.Shutdown())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("job was not cancelled")
	}
}
