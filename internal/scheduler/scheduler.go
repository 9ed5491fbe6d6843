package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc runs one poll cycle. It reports false when the cycle was dropped
// because the previous one was still in flight.
type TickFunc func(ctx context.Context, firedAt time.Time) bool

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
}

// Scheduler drives the periodic poll loop. Ticks fire on a fixed interval
// regardless of how long a cycle takes; overlap control lives in the tick
// function itself.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, firing an immediate first tick and then one per interval until
// ctx is cancelled. Every dispatch runs in its own goroutine so a slow cycle
// never delays the ticker; Run waits for in-flight cycles before returning.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	s.dispatch(ctx, &wg, tick, time.Now().UTC())

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case firedAt := <-ticker.C:
			s.dispatch(ctx, &wg, tick, firedAt.UTC())
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, wg *sync.WaitGroup, tick TickFunc, firedAt time.Time) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Debug().Time("fired_at", firedAt).Msg("executing scheduled tick")
		if !tick(ctx, firedAt) {
			s.logger.Debug().Time("fired_at", firedAt).Msg("tick dropped, previous cycle still running")
		}
	}()
}
