package tick

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/offboard/internal/timeutil"
)

// advanceUntil moves the mock clock forward one period at a time until cond
// holds or the deadline passes.
func advanceUntil(t *testing.T, c *timeutil.MockClock, period time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		c.Advance(period)
		time.Sleep(time.Millisecond)
	}
}

func TestScheduler_StepsOncePerTick(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	s := &Scheduler{Period: 100 * time.Millisecond, Clock: clock}

	var steps atomic.Uint64
	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background(), func(_ context.Context, n uint64) error {
			steps.Store(n)
			if n == 5 {
				s.Stop()
			}
			return nil
		})
	}()

	for clock.Tickers() == 0 {
		time.Sleep(time.Millisecond)
	}
	advanceUntil(t, clock, s.Period, func() bool { return steps.Load() >= 5 })

	err := <-done
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, uint64(5), steps.Load(), "stop is honoured after the current tick")
}

func TestScheduler_StepErrorEndsRun(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	s := &Scheduler{Period: time.Second, Clock: clock}
	boom := errors.New("publish failed")

	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background(), func(context.Context, uint64) error { return boom })
	}()
	for clock.Tickers() == 0 {
		time.Sleep(time.Millisecond)
	}

	var err error
	advanceUntil(t, clock, s.Period, func() bool {
		select {
		case err = <-done:
			return true
		default:
			return false
		}
	})
	assert.ErrorIs(t, err, boom)
}

func TestScheduler_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{Period: time.Hour, Clock: timeutil.NewMockClock(time.Unix(0, 0))}
	cancel()
	err := s.Run(ctx, func(context.Context, uint64) error {
		t.Fatal("step must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScheduler_InvalidPeriod(t *testing.T) {
	s := New(0)
	require.Error(t, s.Run(context.Background(), nil))
}
