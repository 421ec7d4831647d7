package eventlog

import (
	"context"
	"testing"

	"github.com/opscoredev/core/pkg/model"
)

func mustLog(t *testing.T, cfg Config) *Log {
	t.Helper()
	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func TestEmitAppendsAndRetrievesAll(t *testing.T) {
	l := mustLog(t, Config{Retention: 10})
	l.Emit(context.Background(), model.Event{ID: "1", Type: model.EventCommentary})
	l.Emit(context.Background(), model.Event{ID: "2", Type: model.EventCommentary})

	all := l.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}
}

func TestRetentionDropsOldestNonSticky(t *testing.T) {
	l := mustLog(t, Config{Retention: 3})
	for i := 0; i < 5; i++ {
		l.Emit(context.Background(), model.Event{ID: string(rune('a' + i)), Type: model.EventCommentary})
	}
	all := l.All()
	if len(all) != 3 {
		t.Fatalf("expected retention to cap at 3, got %d", len(all))
	}
	if all[0].ID != "c" {
		t.Errorf("expected oldest surviving entry to be 'c', got %q", all[0].ID)
	}
}

func TestRetentionNeverDropsSticky(t *testing.T) {
	l := mustLog(t, Config{Retention: 2})
	l.Emit(context.Background(), model.Event{ID: "phase-1", Type: model.EventPhaseChanged})
	l.Emit(context.Background(), model.Event{ID: "c1", Type: model.EventCommentary})
	l.Emit(context.Background(), model.Event{ID: "c2", Type: model.EventCommentary})
	l.Emit(context.Background(), model.Event{ID: "c3", Type: model.EventCommentary})

	all := l.All()
	foundSticky := false
	for _, e := range all {
		if e.ID == "phase-1" {
			foundSticky = true
		}
	}
	if !foundSticky {
		t.Error("sticky phase-change entry must never be dropped by retention")
	}
}

func TestByIterationAndByType(t *testing.T) {
	l := mustLog(t, Config{Retention: 10})
	l.Emit(context.Background(), model.Event{ID: "1", Type: model.EventTaskCreated, IterationNumber: 1})
	l.Emit(context.Background(), model.Event{ID: "2", Type: model.EventTaskCreated, IterationNumber: 2})
	l.Emit(context.Background(), model.Event{ID: "3", Type: model.EventCommentary, IterationNumber: 1})

	if got := l.ByIteration(1); len(got) != 2 {
		t.Errorf("ByIteration(1) = %d entries, want 2", len(got))
	}
	if got := l.ByType(model.EventTaskCreated); len(got) != 2 {
		t.Errorf("ByType(EventTaskCreated) = %d entries, want 2", len(got))
	}
}

func TestSchedulingOnly(t *testing.T) {
	l := mustLog(t, Config{Retention: 10})
	l.Emit(context.Background(), model.Event{ID: "1", Type: model.EventTaskQueued})
	l.Emit(context.Background(), model.Event{ID: "2", Type: model.EventCommentary})

	got := l.SchedulingOnly()
	if len(got) != 1 || got[0].ID != "1" {
		t.Errorf("SchedulingOnly() = %v, want only the task.queued event", got)
	}
}

func TestNewWithEmptyOutputHasNoDurableWriter(t *testing.T) {
	l := mustLog(t, Config{Retention: 5, Output: ""})
	l.Emit(context.Background(), model.Event{ID: "1", Type: model.EventCommentary})
	if l.Len() != 1 {
		t.Fatalf("expected in-memory retention to still work, got len %d", l.Len())
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close() with no durable writer should be a no-op, got %v", err)
	}
}
