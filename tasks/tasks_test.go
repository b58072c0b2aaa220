package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	var ran int
	require.NoError(t, r.Register("b:second", "second", func(context.Context) error { ran++; return nil }))
	require.NoError(t, r.Register("a:first", "first", func(context.Context) error { return errors.New("boom") }))

	err := r.Register("a:first", "again", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrDuplicateTask)
	assert.Error(t, r.Register("", "nameless", func(context.Context) error { return nil }))
	assert.Error(t, r.Register("nil", "no func", nil))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a:first", list[0].Name)
	assert.Equal(t, "b:second", list[1].Name)

	require.NoError(t, r.Run(context.Background(), "b:second"))
	assert.Equal(t, 1, ran)

	err = r.Run(context.Background(), "a:first")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a:first")

	assert.ErrorIs(t, r.Run(context.Background(), "missing"), ErrUnknownTask)
}

func TestSchedulerRunsUntilCancelled(t *testing.T) {
	s := NewScheduler(nil)
	var ok, failing, panicking atomic.Int32
	require.NoError(t, s.Every("ok", 5*time.Millisecond, func(context.Context) error {
		ok.Add(1)
		return nil
	}))
	require.NoError(t, s.Every("failing", 5*time.Millisecond, func(context.Context) error {
		failing.Add(1)
		return errors.New("nope")
	}))
	require.NoError(t, s.Every("panicking", 5*time.Millisecond, func(context.Context) error {
		panicking.Add(1)
		panic("bad job")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	assert.ErrorIs(t, s.Start(ctx), ErrSchedulerStarted)
	assert.ErrorIs(t, s.Every("late", time.Second, func(context.Context) error { return nil }), ErrSchedulerStarted)

	require.Eventually(t, func() bool {
		return ok.Load() >= 3 && failing.Load() >= 3 && panicking.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond, "failing jobs keep their schedule")

	cancel()
	s.Wait()
}

func TestSchedulerRejectsBadJobs(t *testing.T) {
	s := NewScheduler(nil)
	assert.Error(t, s.Every("zero", 0, func(context.Context) error { return nil }))
	assert.Error(t, s.Every("nil", time.Second, nil))
}
