package orchestrator

import (
	"context"
	"time"

	"github.com/opscoredev/core/internal/manager"
	"github.com/opscoredev/core/internal/pool"
	"github.com/opscoredev/core/pkg/model"
)

// runIteration drives one FetchingEvents -> Scheduling -> Executing ->
// Aggregating pass. A Manager session error during FetchEvents or Aggregate
// triggers a reconnect; if reconnect succeeds the iteration is abandoned as
// a zero-event pass (the run continues into Resting), and if reconnect
// attempts are exhausted the run transitions to Error.
func (o *Orchestrator) runIteration(ctx context.Context) {
	o.mu.Lock()
	drained := o.mctx.DrainInjectedInstructions()
	iterationNum := o.mctx.CompletedIterations + 1
	existingLearnings := append([]string(nil), o.mctx.Learnings...)
	o.mctx.LastIterationStart = time.Now()
	o.mu.Unlock()

	started := time.Now()
	o.setPhase(ctx, model.PhaseFetchingEvents)
	o.emit.IterationStarted(ctx)

	var endIterationSpan func()
	ctx, endIterationSpan = o.traceIteration(ctx, iterationNum)
	defer endIterationSpan()

	if len(drained) > 0 {
		instrStart := time.Now()
		instrCtx, endSpan := o.traceManagerCall(ctx, "incorporate_instructions")
		_, err := o.mgr.IncorporateInstructions(instrCtx, drained)
		endSpan(err)
		o.recordManagerCall("incorporate_instructions", err, instrStart)
		if err != nil {
			o.handleManagerError(ctx, err)
			return
		}
	}

	fetchStart := time.Now()
	fetchCtx, endFetchSpan := o.traceManagerCall(ctx, "fetch_events")
	fetch, err := o.mgr.FetchEvents(fetchCtx, iterationNum)
	endFetchSpan(err)
	o.recordManagerCall("fetch_events", err, fetchStart)
	if err != nil {
		o.handleManagerError(ctx, err)
		return
	}
	if fetch.Commentary != "" {
		o.emit.Commentary(ctx, fetch.Commentary)
	}

	if !fetch.EventsFound || len(fetch.Events) == 0 {
		o.emit.NoEventsFound(ctx)
		o.completeIteration(ctx, iterationNum, started, nil, nil, "", nil)
		return
	}
	o.emit.EventsFetched(ctx, len(fetch.Events))

	o.setPhase(ctx, model.PhaseScheduling)
	tasks := buildTasks(fetch.Events, iterationNum)
	for _, t := range tasks {
		o.emit.TaskLifecycle(ctx, model.EventTaskCreated, t)
	}

	o.setPhase(ctx, model.PhaseExecuting)
	p := o.buildPool()
	results, decisions := p.ExecuteBatch(ctx, tasks)
	for _, d := range decisions {
		o.emit.SchedulingDecisionMade(ctx, d)
	}
	if ctx.Err() != nil {
		return
	}

	o.setPhase(ctx, model.PhaseAggregating)
	o.emit.AggregationStarted(ctx)
	aggStart := time.Now()
	aggCtx, endAggSpan := o.traceManagerCall(ctx, "aggregate")
	agg, err := o.mgr.Aggregate(aggCtx, iterationNum, results, existingLearnings)
	endAggSpan(err)
	o.recordManagerCall("aggregate", err, aggStart)
	if err != nil {
		o.handleManagerError(ctx, err)
		return
	}

	o.completeIteration(ctx, iterationNum, started, results, decisions, agg.NarrativeSummary, &agg)
}

func (o *Orchestrator) buildPool() *pool.Pool {
	o.mu.RLock()
	cfg := pool.Config{
		MaxAssistants:    o.cfg.MaxAssistants,
		MaxQueueDepth:    o.cfg.MaxQueueDepth,
		AssistantModel:   o.cfg.AssistantModel,
		WorkingDirectory: o.cfg.WorkingDirectory,
		EnabledTools:     o.cfg.EnabledToolProviders,
		AssistantTimeout: o.cfg.AssistantTimeout,
		MaxRetries:       o.cfg.MaxRetries,
		RetryPolicy:      pool.DefaultConfig().RetryPolicy,
	}
	o.mu.RUnlock()
	return pool.New(cfg, o.runner, o.emit, o.logger.With("subcomponent", "pool")).WithMetrics(o.metrics).WithTracer(o.tracer)
}

func (o *Orchestrator) completeIteration(
	ctx context.Context,
	iterationNum int,
	started time.Time,
	results []model.AssistantResult,
	decisions []model.SchedulingDecision,
	narrative string,
	agg *manager.AggregationResult,
) {
	var succeeded, failed, cancelled int
	for _, r := range results {
		switch {
		case r.Success:
			succeeded++
			if o.metrics != nil {
				o.metrics.AssistantTaskFinished("succeeded", r.Duration.Seconds())
			}
		case r.Category == "Cancelled":
			cancelled++
			if o.metrics != nil {
				o.metrics.AssistantTaskFinished("cancelled", r.Duration.Seconds())
			}
		default:
			failed++
			if o.metrics != nil {
				o.metrics.AssistantTaskFinished("failed", r.Duration.Seconds())
			}
		}
	}

	report := model.IterationReport{
		IterationNumber:  iterationNum,
		StartedAt:        started,
		CompletedAt:      time.Now(),
		EventsDiscovered: len(results),
		TasksCreated:     len(results),
		TasksSucceeded:   succeeded,
		TasksFailed:      failed,
		TasksCancelled:   cancelled,
		DetailedResults:  results,
		NarrativeSummary: narrative,
		SchedulingLog:    decisions,
	}

	var newLearnings []string
	if agg != nil {
		report.Recommendations = agg.Recommendations
		newLearnings = agg.NewLearnings
	}

	o.mu.Lock()
	o.mctx.CompletedIterations = iterationNum
	o.mctx.Learnings = dedupAppend(o.mctx.Learnings, newLearnings)
	o.mctx.PreviousIterationSummary = narrative
	o.mctx.NextIterationDue = time.Now().Add(o.cfg.Interval)
	o.reconnectAttempts = 0
	o.mu.Unlock()

	if narrative != "" {
		briefStart := time.Now()
		briefCtx, endBriefSpan := o.traceManagerCall(ctx, "brief")
		briefResult, err := o.mgr.Brief(briefCtx, narrative, newLearnings)
		endBriefSpan(err)
		o.recordManagerCall("brief", err, briefStart)
		if err == nil {
			o.briefs.Update(briefResult.ExecutiveSummary, newLearnings, briefResult.OpenQuestions)
		} else {
			o.logger.Warn("knowledge brief update failed", "error", err)
		}
	}

	o.emit.ReportGenerated(ctx, report)
	o.emit.IterationCompleted(ctx, report)

	if o.metrics != nil {
		o.metrics.IterationCompleted("completed")
		o.metrics.IterationDuration.Observe(report.Duration().Seconds())
		for range newLearnings {
			o.metrics.LearningRecorded()
		}
	}
}

// handleManagerError attempts to reconnect the Manager session, replaying
// the approved plan and last iteration summary. If attempts are exhausted it
// transitions to Error; otherwise the current iteration is abandoned (as a
// zero-event pass) and the run proceeds to Resting.
func (o *Orchestrator) handleManagerError(ctx context.Context, cause error) {
	o.mu.Lock()
	o.reconnectAttempts++
	attempt := o.reconnectAttempts
	plan := o.mctx.ApprovedPlan
	summary := o.mctx.PreviousIterationSummary
	cfg := o.cfg
	o.mu.Unlock()

	if attempt > maxManagerReconnectAttempts {
		if o.metrics != nil {
			o.metrics.ManagerReconnect("error")
			o.metrics.IterationCompleted("error")
		}
		o.enterError(ctx, cause)
		return
	}

	o.logger.Warn("manager session error, reconnecting", "attempt", attempt, "error", cause)
	o.emit.ManagerError(ctx, cause.Error(), false)

	_ = o.mgr.Terminate(ctx)
	if err := o.mgr.Start(ctx, "manager-reconnect-"+time.Now().Format("150405.000"), buildManagerSystemPrompt(cfg)); err != nil {
		if o.metrics != nil {
			o.metrics.ManagerReconnect("error")
		}
		o.enterError(ctx, err)
		return
	}
	if _, err := o.mgr.Prime(ctx, plan, summary); err != nil {
		if o.metrics != nil {
			o.metrics.ManagerReconnect("error")
		}
		o.enterError(ctx, err)
		return
	}
	if o.metrics != nil {
		o.metrics.ManagerReconnect("success")
	}
}
