package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestWaitForNextElapsesNormally(t *testing.T) {
	s := New()
	ticks := 0
	reason := s.WaitForNext(context.Background(), 2*time.Second, func(remaining time.Duration, due time.Time) {
		ticks++
	})
	if reason != ElapsedNormally {
		t.Errorf("reason = %v, want ElapsedNormally", reason)
	}
	if ticks < 1 {
		t.Error("expected at least one tick observation")
	}
}

func TestWakeNowCancelsEarly(t *testing.T) {
	s := New()
	go func() {
		time.Sleep(50 * time.Millisecond)
		s.WakeNow()
	}()
	reason := s.WaitForNext(context.Background(), 10*time.Second, nil)
	if reason != CancelledEarly {
		t.Errorf("reason = %v, want CancelledEarly", reason)
	}
}

func TestAbortEndsImmediately(t *testing.T) {
	s := New()
	go func() {
		time.Sleep(50 * time.Millisecond)
		s.Abort()
	}()
	reason := s.WaitForNext(context.Background(), 10*time.Second, nil)
	if reason != Aborted {
		t.Errorf("reason = %v, want Aborted", reason)
	}
}

func TestContextCancellationReportsAborted(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	reason := s.WaitForNext(ctx, 10*time.Second, nil)
	if reason != Aborted {
		t.Errorf("reason = %v, want Aborted", reason)
	}
}

func TestOverrideDurationShortensRest(t *testing.T) {
	s := New()
	go func() {
		time.Sleep(50 * time.Millisecond)
		s.OverrideDuration(0)
	}()
	reason := s.WaitForNext(context.Background(), time.Minute, nil)
	if reason != OverriddenFinished {
		t.Errorf("reason = %v, want OverriddenFinished", reason)
	}
}
