// Package tick runs a step function at a fixed period.
package tick

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/offboard/internal/timeutil"
)

// ErrStopped is returned by Run after Stop was called.
var ErrStopped = errors.New("scheduler stopped")

// StepFunc runs one tick. n counts ticks from 1.
type StepFunc func(ctx context.Context, n uint64) error

// Scheduler calls a StepFunc once per Period. Ticks never overlap; a step
// that overruns the period causes the missed ticks to be dropped, not
// queued.
type Scheduler struct {
	Period time.Duration
	Clock  timeutil.Clock

	mu      sync.Mutex
	stopped bool
}

// New returns a scheduler on the real clock.
func New(period time.Duration) *Scheduler {
	return &Scheduler{Period: period, Clock: timeutil.RealClock{}}
}

// Stop asks Run to return after the tick in progress completes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *Scheduler) stopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Run blocks until ctx is done, Stop is called, or step fails. The stop
// request and ctx are checked once per tick, after the step, so a started
// tick always completes.
func (s *Scheduler) Run(ctx context.Context, step StepFunc) error {
	if s.Period <= 0 {
		return fmt.Errorf("invalid tick period %v", s.Period)
	}
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ticker := clock.NewTicker(s.Period)
	defer ticker.Stop()

	var n uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}

		n++
		if err := step(ctx, n); err != nil {
			return fmt.Errorf("tick %d: %w", n, err)
		}

		if s.stopRequested() {
			return ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
