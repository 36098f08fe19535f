package scheduler

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// TickFunc runs one full polling pass across all watched instruments.
type TickFunc func(ctx context.Context, now time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
}

// Scheduler drives the polling loop on a fixed interval. The first tick
// runs immediately after the startup delay; subsequent ticks follow each
// completed pass. Cancellation is observed during sleep and between
// ticks, so shutdown never interrupts an in-flight pass.
type Scheduler struct {
	opts   Options
	clk    clock.Clock
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, clk clock.Clock, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{opts: opts, clk: clk, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking tick on each interval until ctx is cancelled. Tick
// errors are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := s.sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	for {
		now := s.clk.Now().UTC()
		s.logger.Info().Time("tick", now).Msg("executing polling tick")
		if err := tick(ctx, now); err != nil {
			s.logger.Error().Err(err).Time("tick", now).Msg("tick execution failed")
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		s.logger.Debug().Dur("interval", s.opts.Interval).Msg("sleeping until next tick")
		if err := s.sleep(ctx, s.opts.Interval); err != nil {
			return err
		}
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	timer := s.clk.Timer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
