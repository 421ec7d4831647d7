// Package pool implements the Assistant Pool (C5): a bounded-concurrency
// dispatcher that runs a batch of AssistantTasks against ephemeral Assistant
// sessions, retrying transient failures with backoff and recording a
// scheduling decision for every queue/assign/retry/cancel transition.
package pool

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/opscoredev/core/internal/assistant"
	"github.com/opscoredev/core/internal/backoff"
	"github.com/opscoredev/core/internal/eventstream"
	"github.com/opscoredev/core/internal/observability"
	"github.com/opscoredev/core/pkg/model"
)

// Config bounds one ExecuteBatch call.
type Config struct {
	MaxAssistants    int
	MaxQueueDepth    int
	AssistantModel   string
	WorkingDirectory string
	EnabledTools     []string
	AssistantTimeout time.Duration
	MaxRetries       int
	RetryPolicy      backoff.BackoffPolicy
}

// DefaultConfig returns sane pool bounds for a single iteration.
func DefaultConfig() Config {
	return Config{
		MaxAssistants:    4,
		MaxQueueDepth:    64,
		AssistantTimeout: 10 * time.Minute,
		MaxRetries:       2,
		RetryPolicy:      backoff.AssistantRetryPolicy(),
	}
}

// Pool dispatches AssistantTasks to a bounded set of concurrent Assistant
// runs. It holds no task state between batches; every ExecuteBatch call is
// independent.
type Pool struct {
	cfg     Config
	runner  *assistant.Runner
	emit    *eventstream.Emitter
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	active  int32
}

// New builds a Pool backed by runner for executing individual tasks.
func New(cfg Config, runner *assistant.Runner, emit *eventstream.Emitter, logger *slog.Logger) *Pool {
	if cfg.MaxAssistants <= 0 {
		cfg.MaxAssistants = 1
	}
	if logger == nil {
		logger = slog.Default().With("component", "pool")
	}
	return &Pool{cfg: cfg, runner: runner, emit: emit, logger: logger}
}

// WithMetrics attaches a Metrics instance the Pool reports queue depth and
// active-assistant counts to. Optional: nil leaves ExecuteBatch unchanged.
func (p *Pool) WithMetrics(metrics *observability.Metrics) *Pool {
	p.metrics = metrics
	return p
}

// WithTracer attaches a Tracer the Pool spans each dispatched task with.
// Optional: nil leaves ExecuteBatch unchanged.
func (p *Pool) WithTracer(tracer *observability.Tracer) *Pool {
	p.tracer = tracer
	return p
}

// decisionSink records scheduling decisions in the order they occur.
type decisionSink struct {
	mu  sync.Mutex
	log []model.SchedulingDecision
}

func (s *decisionSink) record(d model.SchedulingDecision) {
	s.mu.Lock()
	s.log = append(s.log, d)
	s.mu.Unlock()
}

func (s *decisionSink) snapshot() []model.SchedulingDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.SchedulingDecision(nil), s.log...)
}

// ExecuteBatch runs tasks to completion (or cancellation) under the Pool's
// concurrency bound, returning every result in the order tasks completed and
// the full scheduling log for the batch. Cancelling ctx aborts in-flight
// Assistants and cancels everything still queued.
func (p *Pool) ExecuteBatch(ctx context.Context, tasks []model.AssistantTask) ([]model.AssistantResult, []model.SchedulingDecision) {
	ordered := sortedByPriorityThenAge(tasks)
	decisions := &decisionSink{}

	runnable, overflow := p.applyQueueDepthLimit(ordered)
	for _, t := range overflow {
		decisions.record(model.SchedulingDecision{
			Time:                      time.Now(),
			TaskID:                    t.TaskID,
			TaskTitle:                 t.Title,
			Action:                    model.ActionCancelled,
			Reason:                    "queue depth limit",
			QueuePositionAtTime:       0,
			AvailableAssistantsAtTime: p.cfg.MaxAssistants,
		})
	}

	if p.metrics != nil {
		p.metrics.SetQueueDepth(len(runnable))
	}

	sem := make(chan struct{}, p.cfg.MaxAssistants)
	indices := make(chan int, p.cfg.MaxAssistants)
	for i := 1; i <= p.cfg.MaxAssistants; i++ {
		indices <- i
	}

	results := make([]model.AssistantResult, len(runnable))
	var wg sync.WaitGroup

	for i, task := range runnable {
		var wasQueued bool

		// Try to acquire a slot immediately; only fall back to recording a
		// queued-pending decision (and blocking) if none is free right now.
		select {
		case <-ctx.Done():
			decisions.record(model.SchedulingDecision{
				Time: time.Now(), TaskID: task.TaskID, TaskTitle: task.Title,
				Action: model.ActionCancelled, Reason: "batch cancelled",
			})
			results[i] = model.AssistantResult{TaskID: task.TaskID, TaskTitle: task.Title, Success: false, ErrorMessage: "cancelled", Category: "Cancelled"}
			continue
		case sem <- struct{}{}:
		default:
			wasQueued = true
			decisions.record(model.SchedulingDecision{
				Time: time.Now(), TaskID: task.TaskID, TaskTitle: task.Title,
				Action:                    model.ActionQueuedPending,
				QueuePositionAtTime:       i,
				AvailableAssistantsAtTime: p.cfg.MaxAssistants,
			})

			select {
			case <-ctx.Done():
				decisions.record(model.SchedulingDecision{
					Time: time.Now(), TaskID: task.TaskID, TaskTitle: task.Title,
					Action: model.ActionCancelled, Reason: "batch cancelled",
				})
				results[i] = model.AssistantResult{TaskID: task.TaskID, TaskTitle: task.Title, Success: false, ErrorMessage: "cancelled", Category: "Cancelled"}
				continue
			case sem <- struct{}{}:
			}
		}

		wg.Add(1)
		go func(idx int, task model.AssistantTask, wasQueued bool) {
			defer wg.Done()
			defer func() { <-sem }()

			assistantIndex := <-indices
			defer func() { indices <- assistantIndex }()

			action := model.ActionAssignedImmediate
			if wasQueued {
				action = model.ActionDequeuedAndAssigned
			}
			decisions.record(model.SchedulingDecision{
				Time: time.Now(), TaskID: task.TaskID, TaskTitle: task.Title,
				Action:                 action,
				AssignedAssistantIndex: &assistantIndex,
			})

			if p.metrics != nil {
				p.metrics.SetActiveAssistants(int(atomic.AddInt32(&p.active, 1)))
				defer func() { p.metrics.SetActiveAssistants(int(atomic.AddInt32(&p.active, -1))) }()
			}

			results[idx] = p.runWithRetry(ctx, task, assistantIndex, decisions)
		}(i, task, wasQueued)
	}

	wg.Wait()
	return results, decisions.snapshot()
}

// runWithRetry executes task, retrying on failure up to MaxRetries with
// backoff, carrying the previous attempt's error and response into the
// retry prompt.
func (p *Pool) runWithRetry(ctx context.Context, task model.AssistantTask, assistantIndex int, decisions *decisionSink) model.AssistantResult {
	var retry *assistant.RetryContext
	var result model.AssistantResult

	if p.tracer != nil {
		var span trace.Span
		ctx, span = p.tracer.TraceAssistantTask(ctx, task.TaskID, assistantIndex)
		defer span.End()
	}

	if p.emit != nil {
		p.emit.AssistantSpawned(ctx, assistantIndex, task.TaskID)
	}

retryLoop:
	for attempt := 1; ; attempt++ {
		result = p.runner.Run(ctx, task, assistant.Params{
			AssistantIndex:   assistantIndex,
			Model:            p.cfg.AssistantModel,
			WorkingDirectory: p.cfg.WorkingDirectory,
			EnabledTools:     p.cfg.EnabledTools,
			Timeout:          p.cfg.AssistantTimeout,
			RetryContext:     retry,
		}, func(delta string) {
			if p.emit != nil {
				p.emit.AssistantProgress(ctx, assistantIndex, task.TaskID, delta)
			}
		})

		if result.Success || result.Category == "Cancelled" || attempt > p.cfg.MaxRetries || ctx.Err() != nil {
			break
		}

		decisions.record(model.SchedulingDecision{
			Time: time.Now(), TaskID: task.TaskID, TaskTitle: task.Title,
			Action: model.ActionRetried,
			Reason: result.ErrorMessage,
		})
		if p.metrics != nil {
			p.metrics.AssistantRetried()
		}

		retry = &assistant.RetryContext{PreviousError: result.ErrorMessage, PreviousResponse: result.Response}

		wait := backoff.ComputeBackoff(p.cfg.RetryPolicy, attempt)
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			break retryLoop
		}
	}

	if p.emit != nil {
		p.emit.AssistantCompleted(ctx, result)
		p.emit.AssistantDisposed(ctx, assistantIndex)
	}
	return result
}

// applyQueueDepthLimit caps the batch at MaxQueueDepth *waiting* slots plus
// MaxAssistants *running* slots, dropping the lowest-priority (tail, given
// ordered is priority-sorted) overflow beyond that.
func (p *Pool) applyQueueDepthLimit(ordered []model.AssistantTask) (runnable, overflow []model.AssistantTask) {
	if p.cfg.MaxQueueDepth <= 0 {
		return ordered, nil
	}
	limit := p.cfg.MaxQueueDepth + p.cfg.MaxAssistants
	if len(ordered) <= limit {
		return ordered, nil
	}
	return ordered[:limit], ordered[limit:]
}

// sortedByPriorityThenAge orders tasks highest-priority first, breaking ties
// by earlier creation time, without mutating the input slice.
func sortedByPriorityThenAge(tasks []model.AssistantTask) []model.AssistantTask {
	out := append([]model.AssistantTask(nil), tasks...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
