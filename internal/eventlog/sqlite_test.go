package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/opscoredev/core/pkg/model"
)

func mustSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(DefaultSQLiteConfig(":memory:"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreRoundTripsByIteration(t *testing.T) {
	s := mustSQLiteStore(t)
	ctx := context.Background()

	s.Emit(ctx, model.Event{Sequence: 1, ID: "a", Type: model.EventIterationStarted, Time: time.Now(), IterationNumber: 1})
	s.Emit(ctx, model.Event{Sequence: 2, ID: "b", Type: model.EventIterationCompleted, Time: time.Now(), IterationNumber: 1})
	s.Emit(ctx, model.Event{Sequence: 3, ID: "c", Type: model.EventIterationStarted, Time: time.Now(), IterationNumber: 2})

	got, err := s.ByIteration(ctx, 1)
	if err != nil {
		t.Fatalf("ByIteration: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events for iteration 1, got %d", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("expected ordered [a b], got %v", got)
	}
}

func TestSQLiteStoreSinceReplaysTail(t *testing.T) {
	s := mustSQLiteStore(t)
	ctx := context.Background()

	for i := uint64(1); i <= 5; i++ {
		s.Emit(ctx, model.Event{Sequence: i, ID: "e", Type: model.EventCommentary, Time: time.Now()})
	}

	got, err := s.Since(ctx, 3)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events after seq 3, got %d", len(got))
	}
}

func TestSQLiteStoreByType(t *testing.T) {
	s := mustSQLiteStore(t)
	ctx := context.Background()

	s.Emit(ctx, model.Event{Sequence: 1, ID: "a", Type: model.EventManagerError, Time: time.Now()})
	s.Emit(ctx, model.Event{Sequence: 2, ID: "b", Type: model.EventCommentary, Time: time.Now()})

	got, err := s.ByType(ctx, model.EventManagerError)
	if err != nil {
		t.Fatalf("ByType: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("expected [a], got %v", got)
	}
}
