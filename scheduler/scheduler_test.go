package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunNowRunsImmediately(t *testing.T) {
	s := New(nil)

	var calls int32
	done := make(chan struct{})

	s.Start([]Job{{
		Name:   "once",
		RunNow: true,
		Fn: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			close(done)
			return nil
		},
	}})
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("job never ran")
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestIntervalJobTicksRepeatedly(t *testing.T) {
	s := New(nil)

	var calls int32
	s.Start([]Job{{
		Name:     "ticking",
		Interval: 10 * time.Millisecond,
		Fn: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	}})
	defer s.Stop()

	time.Sleep(55 * time.Millisecond)

	if got := atomic.LoadInt32(&calls); got < 2 {
		t.Fatalf("calls = %d, want at least 2", got)
	}
}

func TestTickSkipsWhilePreviousRunInProgress(t *testing.T) {
	s := New(nil)

	var calls int32
	release := make(chan struct{})

	s.Start([]Job{{
		Name:     "slow",
		RunNow:   true,
		Interval: 5 * time.Millisecond,
		Fn: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			<-release
			return nil
		},
	}})

	time.Sleep(40 * time.Millisecond)
	close(release)
	s.Stop()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want exactly 1 (later ticks should have been skipped)", got)
	}
}

func TestStopWaitsForRunningJobsAndStopsTicking(t *testing.T) {
	s := New(nil)

	var calls int32
	s.Start([]Job{{
		Name:     "job",
		Interval: 5 * time.Millisecond,
		Fn: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	}})

	time.Sleep(25 * time.Millisecond)
	s.Stop()

	after := atomic.LoadInt32(&calls)
	time.Sleep(30 * time.Millisecond)

	if got := atomic.LoadInt32(&calls); got != after {
		t.Fatalf("job kept running after Stop: before=%d after=%d", after, got)
	}
}

func TestJobErrorDoesNotStopScheduler(t *testing.T) {
	s := New(nil)

	var calls int32
	s.Start([]Job{{
		Name:     "failing",
		RunNow:   true,
		Interval: 10 * time.Millisecond,
		Fn: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return context.DeadlineExceeded
		},
	}})
	defer s.Stop()

	time.Sleep(35 * time.Millisecond)

	if got := atomic.LoadInt32(&calls); got < 2 {
		t.Fatalf("calls = %d, want scheduler to keep ticking past a job error", got)
	}
}
