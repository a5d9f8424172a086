package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleRejectsBadSpec(t *testing.T) {
	s := NewScheduler(0)
	err := s.Schedule("bad", "every now and then", func(context.Context) (int, error) { return 0, nil })
	assert.Error(t, err)
	assert.Error(t, s.RunNow("bad"))
}

func TestRunNow(t *testing.T) {
	s := NewScheduler(time.Second)
	var runs atomic.Int32
	var hadDeadline atomic.Bool
	require.NoError(t, s.Schedule("count", "@every 1h", func(ctx context.Context) (int, error) {
		_, ok := ctx.Deadline()
		hadDeadline.Store(ok)
		runs.Add(1)
		return 1, nil
	}))

	require.NoError(t, s.RunNow("count"))
	assert.EqualValues(t, 1, runs.Load())
	assert.True(t, hadDeadline.Load())
}

func TestScheduleReplacesJob(t *testing.T) {
	s := NewScheduler(time.Second)
	var first, second atomic.Int32
	require.NoError(t, s.Schedule("job", "@every 1h", func(context.Context) (int, error) {
		first.Add(1)
		return 0, ErrNothingToDo
	}))
	require.NoError(t, s.Schedule("job", "@every 1h", func(context.Context) (int, error) {
		second.Add(1)
		return 0, errors.New("boom")
	}))

	require.NoError(t, s.RunNow("job"))
	assert.Zero(t, first.Load())
	assert.EqualValues(t, 1, second.Load())
	assert.Len(t, s.cron.Entries(), 1)
}

func TestSchedulerRunsAndStops(t *testing.T) {
	s := NewScheduler(time.Second)
	var runs atomic.Int32
	require.NoError(t, s.Schedule("tick", "@every 1s", func(context.Context) (int, error) {
		runs.Add(1)
		return 1, nil
	}))
	s.Start()
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	after := runs.Load()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}
