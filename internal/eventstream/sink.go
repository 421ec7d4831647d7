// Package eventstream implements the Event Stream (C8): a typed pub-sub
// fan-out of model.Event values from a single writer (the Orchestrator) to
// many readers, with per-reader backpressure that never blocks the writer
// and never drops from the authoritative Event Log.
package eventstream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/opscoredev/core/pkg/model"
)

// Sink receives events as they are produced. Implementations must be safe
// for concurrent use and must never block the caller indefinitely.
type Sink interface {
	Emit(ctx context.Context, e model.Event)
}

// NopSink discards all events.
type NopSink struct{}

// Emit does nothing.
func (NopSink) Emit(context.Context, model.Event) {}

// MultiSink fans out to every non-nil sink passed to NewMultiSink.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink builds a sink that dispatches to every non-nil sink given.
func NewMultiSink(sinks ...Sink) *MultiSink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

// Emit dispatches e to every wrapped sink.
func (m *MultiSink) Emit(ctx context.Context, e model.Event) {
	for _, s := range m.sinks {
		s.Emit(ctx, e)
	}
}

// CallbackSink wraps a plain function as a Sink.
type CallbackSink struct {
	fn func(ctx context.Context, e model.Event)
}

// NewCallbackSink builds a Sink that calls fn for every event.
func NewCallbackSink(fn func(ctx context.Context, e model.Event)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

// Emit calls the wrapped function.
func (c *CallbackSink) Emit(ctx context.Context, e model.Event) {
	if c.fn != nil {
		c.fn(ctx, e)
	}
}

// ReaderConfig sizes one reader's backpressure buffer.
type ReaderConfig struct {
	// HighPriBuffer holds non-droppable events (phase/lifecycle); it blocks
	// the writer briefly rather than ever dropping a sticky event.
	// Default: 64.
	HighPriBuffer int

	// LowPriBuffer holds droppable events (progress, ticks, commentary);
	// it drops the oldest entry rather than block. Default: 256.
	LowPriBuffer int
}

// DefaultReaderConfig returns sensible buffer sizes.
func DefaultReaderConfig() ReaderConfig {
	return ReaderConfig{HighPriBuffer: 64, LowPriBuffer: 256}
}

// Reader is one subscriber's two-lane backpressure sink. An oldest-low-pri-
// event is dropped, never a log entry, when the reader stalls; a
// SlowObserver event is synthesized for that reader the first time it drops.
type Reader struct {
	id       string
	highPri  chan model.Event
	lowPri   chan model.Event
	merged   chan model.Event
	dropped  uint64
	notified uint32
	closed   uint32
}

// NewReader creates a Reader and starts its merge loop. Callers must range
// over Reader.C() and call Close when done.
func NewReader(id string, cfg ReaderConfig) *Reader {
	if cfg.HighPriBuffer <= 0 {
		cfg.HighPriBuffer = 64
	}
	if cfg.LowPriBuffer <= 0 {
		cfg.LowPriBuffer = 256
	}
	r := &Reader{
		id:      id,
		highPri: make(chan model.Event, cfg.HighPriBuffer),
		lowPri:  make(chan model.Event, cfg.LowPriBuffer),
		merged:  make(chan model.Event, cfg.HighPriBuffer),
	}
	go r.mergeLoop()
	return r
}

// C returns the channel consumers should range over.
func (r *Reader) C() <-chan model.Event { return r.merged }

// DroppedCount returns how many low-priority events this reader has lost.
func (r *Reader) DroppedCount() uint64 { return atomic.LoadUint64(&r.dropped) }

func (r *Reader) mergeLoop() {
	defer close(r.merged)
	for {
		select {
		case e, ok := <-r.highPri:
			if !ok {
				r.drainLowPri()
				return
			}
			r.merged <- e
			continue
		default:
		}
		select {
		case e, ok := <-r.highPri:
			if !ok {
				r.drainLowPri()
				return
			}
			r.merged <- e
		case e, ok := <-r.lowPri:
			if ok {
				r.merged <- e
			}
		}
	}
}

func (r *Reader) drainLowPri() {
	for e := range r.lowPri {
		r.merged <- e
	}
}

// Emit routes e to the appropriate lane, dropping the oldest low-priority
// event and synthesizing a SlowObserver if the reader is stalled.
func (r *Reader) Emit(ctx context.Context, e model.Event) {
	if atomic.LoadUint32(&r.closed) == 1 {
		return
	}
	if model.IsDroppable(e.Type) {
		select {
		case r.lowPri <- e:
		default:
			// Drop the oldest queued low-pri event to make room, per the
			// "drop oldest from the stalled reader's buffer" contract.
			select {
			case <-r.lowPri:
			default:
			}
			select {
			case r.lowPri <- e:
			default:
			}
			atomic.AddUint64(&r.dropped, 1)
			r.notifySlow(ctx)
		}
		return
	}
	select {
	case r.highPri <- e:
	case <-ctx.Done():
		select {
		case r.highPri <- e:
		default:
		}
	}
}

func (r *Reader) notifySlow(ctx context.Context) {
	if !atomic.CompareAndSwapUint32(&r.notified, 0, 1) {
		// Already notified; still re-arm so repeated stalls keep reporting.
		atomic.StoreUint32(&r.notified, 0)
	}
	notice := model.Event{
		Type:     model.EventSlowObserver,
		Observer: &model.SlowObserverPayload{ReaderID: r.id, Dropped: r.DroppedCount()},
	}
	select {
	case r.highPri <- notice:
	default:
	}
}

// Close stops the reader's merge loop and releases its channels.
func (r *Reader) Close() {
	if !atomic.CompareAndSwapUint32(&r.closed, 0, 1) {
		return
	}
	close(r.highPri)
	close(r.lowPri)
}

// Stream is the single-writer, many-reader Event Stream. The Orchestrator
// is the only writer; any number of Readers may subscribe and unsubscribe
// concurrently.
type Stream struct {
	mu      sync.RWMutex
	readers map[string]*Reader
	cfg     ReaderConfig
}

// NewStream creates an empty Event Stream.
func NewStream(cfg ReaderConfig) *Stream {
	if cfg.HighPriBuffer <= 0 && cfg.LowPriBuffer <= 0 {
		cfg = DefaultReaderConfig()
	}
	return &Stream{readers: make(map[string]*Reader), cfg: cfg}
}

// Subscribe registers a new reader and returns it; callers must Close it
// when finished (also removes it from the stream).
func (s *Stream) Subscribe(id string) *Reader {
	r := NewReader(id, s.cfg)
	s.mu.Lock()
	s.readers[id] = r
	s.mu.Unlock()
	return r
}

// Unsubscribe closes and removes a reader.
func (s *Stream) Unsubscribe(id string) {
	s.mu.Lock()
	r, ok := s.readers[id]
	delete(s.readers, id)
	s.mu.Unlock()
	if ok {
		r.Close()
	}
}

// Emit is the single entry point the Orchestrator uses to broadcast an
// event to every currently subscribed reader.
func (s *Stream) Emit(ctx context.Context, e model.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.readers {
		r.Emit(ctx, e)
	}
}

// ReaderCount reports the number of currently subscribed readers.
func (s *Stream) ReaderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readers)
}
