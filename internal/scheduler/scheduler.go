// Package scheduler drives a periodic tick at a fixed rate without letting
// processing latency accumulate into drift.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// TickFunc handles one tick. A non-nil error ends the run.
type TickFunc func(now time.Time) error

type Scheduler struct {
	period time.Duration
	clock  Clock

	stopped atomic.Bool

	mu        sync.Mutex
	onOverrun func(lag time.Duration)
}

func New(rateHz float64, clock Clock) (*Scheduler, error) {
	if !(rateHz > 0) || math.IsInf(rateHz, 0) {
		return nil, fmt.Errorf("scheduler: invalid rate %v", rateHz)
	}
	period := time.Duration(float64(time.Second) / rateHz)
	if period <= 0 {
		return nil, fmt.Errorf("scheduler: rate %v too high", rateHz)
	}
	if clock == nil {
		clock = RealClock()
	}
	return &Scheduler{period: period, clock: clock}, nil
}

func (s *Scheduler) Period() time.Duration { return s.period }

// SetOverrunHook registers fn to be called with the lag whenever a tick
// finishes after its successor was due.
func (s *Scheduler) SetOverrunHook(fn func(lag time.Duration)) {
	s.mu.Lock()
	s.onOverrun = fn
	s.mu.Unlock()
}

// Stop asks Run to return before the next tick. It is safe to call from
// any goroutine and more than once. A stopped Scheduler cannot be rerun.
func (s *Scheduler) Stop() { s.stopped.Store(true) }

// Run calls tick once per period until Stop is called, ctx is done, or tick
// fails. The deadline advances by one period per tick; when a tick
// overruns, the deadline is moved to now and missed ticks are dropped.
// Run returns nil after Stop, ctx.Err() on cancellation and the tick's
// error, wrapped, otherwise.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	next := s.clock.Now()
	for {
		if s.stopped.Load() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := tick(s.clock.Now()); err != nil {
			return fmt.Errorf("scheduler tick: %w", err)
		}

		next = next.Add(s.period)
		now := s.clock.Now()
		if wait := next.Sub(now); wait > 0 {
			if err := s.clock.Sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}
		if lag := now.Sub(next); lag > 0 {
			s.overrun(lag)
		}
		next = now
	}
}

func (s *Scheduler) overrun(lag time.Duration) {
	s.mu.Lock()
	fn := s.onOverrun
	s.mu.Unlock()
	if fn != nil {
		fn(lag)
	}
}
