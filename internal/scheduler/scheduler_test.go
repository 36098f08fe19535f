package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

func TestSchedulerTicksOnInterval(t *testing.T) {
	mock := clock.NewMock()
	s := New(Options{Interval: time.Hour}, mock, zerolog.Nop())

	var ticks int64
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, now time.Time) error {
			atomic.AddInt64(&ticks, 1)
			return nil
		})
	}()

	// First tick fires immediately, before any simulated time passes.
	waitFor(t, func() bool { return atomic.LoadInt64(&ticks) == 1 })

	settle()
	mock.Add(time.Hour)
	waitFor(t, func() bool { return atomic.LoadInt64(&ticks) == 2 })

	settle()
	mock.Add(time.Hour)
	waitFor(t, func() bool { return atomic.LoadInt64(&ticks) == 3 })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run should return the cancellation cause, got %v", err)
	}
}

func TestSchedulerTickErrorDoesNotStopLoop(t *testing.T) {
	mock := clock.NewMock()
	s := New(Options{Interval: time.Minute}, mock, zerolog.Nop())

	var ticks int64
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = s.Run(ctx, func(ctx context.Context, now time.Time) error {
			atomic.AddInt64(&ticks, 1)
			return errors.New("tick failed")
		})
	}()

	waitFor(t, func() bool { return atomic.LoadInt64(&ticks) == 1 })
	settle()
	mock.Add(time.Minute)
	waitFor(t, func() bool { return atomic.LoadInt64(&ticks) == 2 })
}

func TestSchedulerStartupDelay(t *testing.T) {
	mock := clock.NewMock()
	s := New(Options{Interval: time.Minute, StartupDelay: 10 * time.Second}, mock, zerolog.Nop())

	var ticks int64
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = s.Run(ctx, func(ctx context.Context, now time.Time) error {
			atomic.AddInt64(&ticks, 1)
			return nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt64(&ticks) != 0 {
		t.Fatal("no tick may run before the startup delay elapses")
	}

	mock.Add(10 * time.Second)
	waitFor(t, func() bool { return atomic.LoadInt64(&ticks) == 1 })
}

func TestSchedulerCancellationDuringSleep(t *testing.T) {
	mock := clock.NewMock()
	s := New(Options{Interval: time.Hour}, mock, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, now time.Time) error { return nil })
	}()

	// Let the first tick complete and the loop park on its sleep timer.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("scheduler did not observe cancellation during sleep")
	}
}

// settle gives the scheduler goroutine a moment to park on its next
// timer before the mock clock advances past it.
func settle() {
	time.Sleep(20 * time.Millisecond)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
