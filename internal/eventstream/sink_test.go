package eventstream

import (
	"context"
	"testing"
	"time"

	"github.com/opscoredev/core/pkg/model"
)

func TestStreamEmitFanOut(t *testing.T) {
	s := NewStream(DefaultReaderConfig())
	r1 := s.Subscribe("r1")
	r2 := s.Subscribe("r2")
	defer s.Unsubscribe("r1")
	defer s.Unsubscribe("r2")

	if got := s.ReaderCount(); got != 2 {
		t.Fatalf("ReaderCount() = %d, want 2", got)
	}

	s.Emit(context.Background(), model.Event{Type: model.EventManagerStarted})

	for _, r := range []*Reader{r1, r2} {
		select {
		case ev := <-r.C():
			if ev.Type != model.EventManagerStarted {
				t.Errorf("got event type %q, want %q", ev.Type, model.EventManagerStarted)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out delivery")
		}
	}
}

func TestReaderDropsLowPriUnderPressure(t *testing.T) {
	r := NewReader("slow", ReaderConfig{HighPriBuffer: 1, LowPriBuffer: 1})
	defer r.Close()

	ctx := context.Background()
	// Fill the low-pri lane then force an overflow.
	r.Emit(ctx, model.Event{Type: model.EventAssistantProgress, Sequence: 1})
	r.Emit(ctx, model.Event{Type: model.EventAssistantProgress, Sequence: 2})
	r.Emit(ctx, model.Event{Type: model.EventAssistantProgress, Sequence: 3})

	if got := r.DroppedCount(); got == 0 {
		t.Fatalf("DroppedCount() = 0, want > 0 after overflowing a 1-deep low-pri buffer")
	}
}

func TestReaderNeverDropsHighPri(t *testing.T) {
	r := NewReader("r", ReaderConfig{HighPriBuffer: 2, LowPriBuffer: 1})
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	r.Emit(ctx, model.Event{Type: model.EventPhaseChanged, Sequence: 1})
	r.Emit(ctx, model.Event{Type: model.EventPhaseChanged, Sequence: 2})

	count := 0
	for i := 0; i < 2; i++ {
		select {
		case <-r.C():
			count++
		case <-time.After(time.Second):
			t.Fatal("timed out draining high-pri events")
		}
	}
	if count != 2 {
		t.Fatalf("received %d high-priority events, want 2 (none dropped)", count)
	}
}

func TestMultiSinkDispatchesToAll(t *testing.T) {
	var a, b int
	ma := NewCallbackSink(func(context.Context, model.Event) { a++ })
	mb := NewCallbackSink(func(context.Context, model.Event) { b++ })
	m := NewMultiSink(ma, mb, nil)

	m.Emit(context.Background(), model.Event{Type: model.EventCommentary})

	if a != 1 || b != 1 {
		t.Fatalf("a=%d b=%d, want both 1", a, b)
	}
}
