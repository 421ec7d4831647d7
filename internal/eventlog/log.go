// Package eventlog implements the Event Log (C2): an append-only, retained
// record of every Event the Orchestrator emits, queryable by iteration,
// event type, or scheduling relevance. It is the authoritative record —
// unlike the Event Stream's per-reader buffers, it never drops a sticky
// event and only trims non-sticky entries once the retention bound is hit.
package eventlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/opscoredev/core/pkg/model"
)

// DefaultRetention is the number of non-sticky entries the log retains.
const DefaultRetention = 500

// Config configures the Log's retention bound and its durable side-channel
// writer.
type Config struct {
	Retention int
	Output    string // "stdout", "stderr", "file:/path", or "" to disable
	Format    string // "json" or "text"; defaults to json
}

// DefaultConfig returns the Event Log's default retention and an stdout
// JSON side-channel writer.
func DefaultConfig() Config {
	return Config{Retention: DefaultRetention, Output: "stdout", Format: "json"}
}

// Log is the append-only, retained Event Log. It implements
// eventstream.Sink so an Emitter can dispatch directly into it.
type Log struct {
	mu        sync.RWMutex
	entries   []model.Event
	retention int

	output  io.WriteCloser
	slogger *slog.Logger
}

// New builds a Log per cfg. If cfg.Output is empty, entries are retained in
// memory only and nothing is written to a durable side channel.
func New(cfg Config) (*Log, error) {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}

	l := &Log{retention: cfg.Retention}

	var output io.WriteCloser
	switch cfg.Output {
	case "":
		return l, nil
	case "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		if len(cfg.Output) > 5 && cfg.Output[:5] == "file:" {
			f, err := os.OpenFile(cfg.Output[5:], os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, fmt.Errorf("eventlog: open output: %w", err)
			}
			output = f
		} else {
			return nil, fmt.Errorf("eventlog: unsupported output %q", cfg.Output)
		}
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(output, nil)
	} else {
		handler = slog.NewJSONHandler(output, nil)
	}

	l.output = output
	l.slogger = slog.New(handler).With("component", "eventlog")
	return l, nil
}

// Close releases the durable output, if any.
func (l *Log) Close() error {
	if l.output == nil || l.output == io.WriteCloser(os.Stdout) || l.output == io.WriteCloser(os.Stderr) {
		return nil
	}
	return l.output.Close()
}

// Emit appends e to the log, applying the retention policy, and writes it
// to the durable side channel if one is configured. It satisfies
// eventstream.Sink.
func (l *Log) Emit(_ context.Context, e model.Event) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.trimLocked()
	l.mu.Unlock()

	if l.slogger != nil {
		l.writeEvent(e)
	}
}

// trimLocked drops the oldest non-sticky entries once len(entries) exceeds
// retention. Sticky entries (phase transitions, iteration boundaries) are
// never dropped, so the log may briefly exceed retention if sticky entries
// dominate the tail.
func (l *Log) trimLocked() {
	if len(l.entries) <= l.retention {
		return
	}
	overflow := len(l.entries) - l.retention
	kept := l.entries[:0]
	dropped := 0
	for _, e := range l.entries {
		if dropped < overflow && !model.IsSticky(e.Type) {
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
}

func (l *Log) writeEvent(e model.Event) {
	attrs := []any{
		"event_id", e.ID,
		"event_type", e.Type,
		"seq", e.Sequence,
		"iteration", e.IterationNumber,
		"time", e.Time.Format(time.RFC3339Nano),
	}
	l.slogger.Info("event", attrs...)
}

// All returns every retained event, oldest first.
func (l *Log) All() []model.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]model.Event(nil), l.entries...)
}

// ByIteration returns every retained event stamped with the given iteration
// number.
func (l *Log) ByIteration(n int) []model.Event {
	return l.filter(func(e model.Event) bool { return e.IterationNumber == n })
}

// ByType returns every retained event of the given type.
func (l *Log) ByType(t model.EventType) []model.Event {
	return l.filter(func(e model.Event) bool { return e.Type == t })
}

// SchedulingOnly returns every retained event that originated from a
// SchedulingDecision.
func (l *Log) SchedulingOnly() []model.Event {
	return l.filter(func(e model.Event) bool { return model.IsSchedulingEvent(e.Type) })
}

func (l *Log) filter(pred func(model.Event) bool) []model.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Event, 0, len(l.entries))
	for _, e := range l.entries {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
