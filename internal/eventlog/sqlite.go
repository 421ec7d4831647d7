package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	_ "modernc.org/sqlite"

	"github.com/opscoredev/core/internal/observability"
	"github.com/opscoredev/core/pkg/model"
)

// SQLiteConfig configures a SQLiteStore connection.
type SQLiteConfig struct {
	// Path is the database file path, or ":memory:" for an ephemeral store.
	Path            string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DefaultSQLiteConfig returns sane pool sizing for a single-process
// Orchestrator talking to its own local database file.
func DefaultSQLiteConfig(path string) *SQLiteConfig {
	return &SQLiteConfig{Path: path, MaxOpenConns: 4, ConnMaxLifetime: 5 * time.Minute}
}

// SQLiteStore is the optional durable persistence adapter for the Event Log:
// every event the in-memory Log retains is also appended here, so an
// Orchestrator's history survives a process restart. It satisfies
// eventstream.Sink directly, the same as Log, so it can be wired in as an
// additional destination in an eventstream.MultiSink alongside the in-memory
// Log rather than replacing it.
type SQLiteStore struct {
	db     *sql.DB
	tracer *observability.Tracer
}

// WithTracer attaches a Tracer each read-through query is spanned with.
// Optional: nil leaves query behavior unchanged.
func (s *SQLiteStore) WithTracer(tracer *observability.Tracer) *SQLiteStore {
	s.tracer = tracer
	return s
}

// NewSQLiteStore opens (and, if needed, migrates) the events table at
// cfg.Path.
func NewSQLiteStore(cfg *SQLiteConfig) (*SQLiteStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("eventlog: sqlite config is required")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("eventlog: sqlite path is required")
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open sqlite: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("eventlog: ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("eventlog: migrate: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS events (
	seq              INTEGER PRIMARY KEY,
	id               TEXT NOT NULL,
	type             TEXT NOT NULL,
	time             TEXT NOT NULL,
	iteration_number INTEGER NOT NULL DEFAULT 0,
	payload          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS events_type_idx ON events(type);
CREATE INDEX IF NOT EXISTS events_iteration_idx ON events(iteration_number);
`

// Close releases the underlying database connection pool.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Emit persists e. It satisfies eventstream.Sink; persistence failures are
// swallowed into a log line rather than propagated, since a durable-history
// write must never block or fail the emitting call the way the in-memory
// Log's retention bound never does.
func (s *SQLiteStore) Emit(ctx context.Context, e model.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	_, _ = s.db.ExecContext(ctx,
		`INSERT INTO events (seq, id, type, time, iteration_number, payload) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(seq) DO NOTHING`,
		e.Sequence, e.ID, string(e.Type), e.Time.Format(time.RFC3339Nano), e.IterationNumber, string(payload),
	)
}

// ByIteration returns every persisted event stamped with the given iteration
// number, oldest first, reading through to disk rather than the in-memory
// Log's bounded retention window.
func (s *SQLiteStore) ByIteration(ctx context.Context, n int) ([]model.Event, error) {
	return s.query(ctx, "by_iteration", `SELECT payload FROM events WHERE iteration_number = ? ORDER BY seq ASC`, n)
}

// ByType returns every persisted event of the given type, oldest first.
func (s *SQLiteStore) ByType(ctx context.Context, t model.EventType) ([]model.Event, error) {
	return s.query(ctx, "by_type", `SELECT payload FROM events WHERE type = ? ORDER BY seq ASC`, string(t))
}

// Since returns every persisted event with sequence strictly greater than
// afterSeq, oldest first — the replay query a restarted process uses to
// catch a reader up on history the in-memory Log no longer holds.
func (s *SQLiteStore) Since(ctx context.Context, afterSeq uint64) ([]model.Event, error) {
	return s.query(ctx, "since", `SELECT payload FROM events WHERE seq > ? ORDER BY seq ASC`, afterSeq)
}

func (s *SQLiteStore) query(ctx context.Context, operation, q string, arg any) (out []model.Event, err error) {
	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.TraceEventLogQuery(ctx, operation)
		defer func() {
			if err != nil {
				s.tracer.RecordError(span, err)
			}
			span.End()
		}()
	}

	rows, queryErr := s.db.QueryContext(ctx, q, arg)
	if queryErr != nil {
		err = fmt.Errorf("eventlog: query: %w", queryErr)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}
		var e model.Event
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("eventlog: decode: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
