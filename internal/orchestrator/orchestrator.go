// Package orchestrator implements the Manager Orchestrator (C7): the
// eleven-state machine driving one operations run through
// Clarifying -> Planning -> AwaitingApproval -> an indefinite cycle of
// FetchingEvents -> Scheduling -> Executing -> Aggregating -> Resting,
// with Stop (cooperative drain) and Reset (hard cancel) as the two ways
// out, and Error as the terminal state a Manager session failure forces.
//
// The state machine runs as a single cooperative goroutine bound to one
// cancellation signal, mirroring the teacher's heartbeat runner's run-loop
// shape generalized to eleven states instead of one.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opscoredev/core/internal/assistant"
	"github.com/opscoredev/core/internal/brief"
	"github.com/opscoredev/core/internal/eventstream"
	"github.com/opscoredev/core/internal/gateway"
	"github.com/opscoredev/core/internal/manager"
	"github.com/opscoredev/core/internal/observability"
	"github.com/opscoredev/core/internal/pool"
	"github.com/opscoredev/core/internal/scheduler"
	"github.com/opscoredev/core/pkg/model"
)

const maxManagerReconnectAttempts = 2

// approval is what ApprovePlan/RejectPlan deliver to the Planning wait point.
type approval struct {
	approved bool
	feedback string
}

// Orchestrator owns the eleven-state machine for one operations run. A
// single Orchestrator is reused across Start/Stop/Reset cycles; Reset
// returns it to Idle so Start can be called again.
type Orchestrator struct {
	gw     gateway.Gateway
	mgr    *manager.Manager
	runner *assistant.Runner
	sched  *scheduler.Scheduler
	briefs  *brief.Store
	emit    *eventstream.Emitter
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	mu                sync.RWMutex
	cfg               model.Config
	mctx              model.ManagerContext
	phase             model.Phase
	stopping          bool
	restStartedAt     time.Time
	reconnectAttempts int
	clarityRounds     int
	clarityRoundText  string

	masterCancel context.CancelFunc
	loopDone     chan struct{}
	stopCh       chan struct{}

	clarifyAnswers chan string
	approvals      chan approval
}

// New builds an idle Orchestrator. The Pool is rebuilt from the current
// config at the start of every iteration, so there is no persistent Pool
// field: the Pool holds no state between batches, and config mutations
// (UpdatePoolSize) take effect on the very next iteration without rebuilding
// anything else.
func New(cfg model.Config, gw gateway.Gateway, log eventstream.Sink, stream eventstream.Sink, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default().With("component", "orchestrator")
	}
	o := &Orchestrator{
		gw:     gw,
		cfg:    cfg,
		phase:  model.PhaseIdle,
		sched:  scheduler.New(),
		briefs: brief.NewStore(),
		logger: logger,
	}
	o.mgr = manager.New(gw, cfg.ManagerModel, cfg.WorkingDirectory, cfg.ManagerLLMTimeout, logger.With("subcomponent", "manager"))
	o.runner = assistant.NewRunner(gw, logger.With("subcomponent", "assistant"))
	o.emit = eventstream.NewEmitter(log, stream, o.iterationNumber, nil)
	return o
}

// WithMetrics attaches a Metrics instance the state machine reports to.
// Optional: every call site is a no-op when metrics is nil, so an
// Orchestrator built without it behaves exactly as before.
func (o *Orchestrator) WithMetrics(metrics *observability.Metrics) *Orchestrator {
	o.metrics = metrics
	return o
}

// WithTracer attaches a Tracer the state machine spans Manager calls and
// iterations with. Optional: every call site is a no-op when tracer is nil.
func (o *Orchestrator) WithTracer(tracer *observability.Tracer) *Orchestrator {
	o.tracer = tracer
	return o
}

func (o *Orchestrator) iterationNumber() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.mctx.CompletedIterations + 1
}

// Phase returns the current state.
func (o *Orchestrator) Phase() model.Phase {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.phase
}

// Status is a read-only snapshot of the run for a CLI or UI surface.
type Status struct {
	Phase               model.Phase
	CompletedIterations int
	NextIterationDue     time.Time
	Interval             time.Duration
	MaxAssistants        int
	Learnings            []string
}

// Status returns a snapshot of the current run, safe to call from any phase.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Status{
		Phase:                o.phase,
		CompletedIterations:  o.mctx.CompletedIterations,
		NextIterationDue:     o.mctx.NextIterationDue,
		Interval:             o.cfg.Interval,
		MaxAssistants:        o.cfg.MaxAssistants,
		Learnings:            append([]string(nil), o.mctx.Learnings...),
	}
}

func (o *Orchestrator) setPhase(ctx context.Context, p model.Phase) {
	o.mu.Lock()
	from := o.phase
	o.phase = p
	o.mu.Unlock()
	if from != p {
		o.emit.PhaseChanged(ctx, from, p)
		if o.metrics != nil {
			o.metrics.PhaseChanged(string(from), string(p))
		}
	}
}

// recordManagerCall is a no-op when metrics is nil. status is derived from
// err so call sites don't need to spell "success"/"error" themselves.
func (o *Orchestrator) recordManagerCall(operation string, err error, started time.Time) {
	if o.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	o.metrics.ManagerCall(operation, status, time.Since(started).Seconds())
}

// traceManagerCall starts a span for a Manager Gateway round-trip if a
// tracer is attached, returning a no-op end func otherwise.
func (o *Orchestrator) traceManagerCall(ctx context.Context, operation string) (context.Context, func(error)) {
	if o.tracer == nil {
		return ctx, func(error) {}
	}
	spanCtx, span := o.tracer.TraceManagerCall(ctx, operation)
	return spanCtx, func(err error) {
		if err != nil {
			o.tracer.RecordError(span, err)
		}
		span.End()
	}
}

// traceIteration starts a span covering one full iteration if a tracer is
// attached, returning a no-op end func otherwise.
func (o *Orchestrator) traceIteration(ctx context.Context, iterationNum int) (context.Context, func()) {
	if o.tracer == nil {
		return ctx, func() {}
	}
	spanCtx, span := o.tracer.TraceIteration(ctx, iterationNum)
	return spanCtx, span.End
}

func (o *Orchestrator) isStopping() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stopping
}

func (o *Orchestrator) interval() time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg.Interval
}

func (o *Orchestrator) intervalCron() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg.IntervalCron
}

// Start begins a run from Idle with the given objective. It returns once
// the Manager session is created; the state machine then runs on its own
// goroutine until Stop drains it or Reset cancels it.
func (o *Orchestrator) Start(ctx context.Context, objective string) error {
	o.mu.Lock()
	if o.phase != model.PhaseIdle {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: cannot start from phase %s", o.phase)
	}
	o.mctx = model.ManagerContext{OriginalPrompt: objective, EffectivePrompt: objective}
	o.stopping = false
	o.reconnectAttempts = 0
	o.clarifyAnswers = make(chan string, 1)
	o.approvals = make(chan approval, 1)
	o.stopCh = make(chan struct{})
	o.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.masterCancel = cancel
	o.loopDone = make(chan struct{})
	loopDone := o.loopDone
	o.mu.Unlock()

	sessionID := "manager-" + uuid.NewString()
	if err := o.mgr.Start(ctx, sessionID, buildManagerSystemPrompt(o.cfg)); err != nil {
		cancel()
		return fmt.Errorf("orchestrator: starting manager session: %w", err)
	}
	o.emit.ManagerStarted(runCtx)

	go func() {
		defer close(loopDone)
		o.runLoop(runCtx)
	}()
	return nil
}

func buildManagerSystemPrompt(cfg model.Config) string {
	return fmt.Sprintf(
		"You are the Manager agent for an autonomous operations run. Working directory: %s. "+
			"Enabled tool providers: %v. You discover work, plan how to address it, and aggregate "+
			"results from assistant agents across repeated iterations.",
		cfg.WorkingDirectory, cfg.EnabledToolProviders,
	)
}
