package orchestrator

import (
	"context"
	"time"

	"github.com/opscoredev/core/internal/manager"
	"github.com/opscoredev/core/internal/scheduler"
	"github.com/opscoredev/core/pkg/model"
)

// runLoop drives Clarifying through the indefinite Resting cycle. It returns
// when ctx is cancelled (Reset), when Stop has drained the run to Stopped,
// or when a Manager error exhausts reconnect attempts (Error).
func (o *Orchestrator) runLoop(ctx context.Context) {
	if !o.runClarifying(ctx) {
		return
	}
	if !o.runPlanning(ctx) {
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if o.isStopping() {
			o.setPhase(ctx, model.PhaseStopped)
			o.emit.ManagerStopped(ctx)
			return
		}

		o.runIteration(ctx)
		if ctx.Err() != nil {
			return
		}
		if o.isStopping() {
			o.setPhase(ctx, model.PhaseStopped)
			o.emit.ManagerStopped(ctx)
			return
		}

		o.setPhase(ctx, model.PhaseResting)
		o.emit.RestStarted(ctx)
		o.mu.Lock()
		o.restStartedAt = time.Now()
		o.mu.Unlock()

		restDuration, err := scheduler.ResolveInterval(o.interval(), o.intervalCron(), time.Now())
		if err != nil {
			o.logger.Error("cron interval expression invalid, falling back to fixed interval", "error", err)
			restDuration = o.interval()
		}
		reason := o.sched.WaitForNext(ctx, restDuration, func(remaining time.Duration, due time.Time) {
			o.emit.RestTick(ctx, remaining, due)
		})
		if reason == scheduler.Aborted {
			return
		}
		if o.metrics != nil {
			o.mu.RLock()
			elapsed := time.Since(o.restStartedAt)
			o.mu.RUnlock()
			o.metrics.RestEnded(elapsed.Seconds())
		}
		o.emit.RestCompleted(ctx)
	}
}

// runClarifying drives the Clarifying phase's question/answer loop until the
// Manager declares readiness. Returns false if the loop should end (Reset or
// forced Stop mid-clarification).
func (o *Orchestrator) runClarifying(ctx context.Context) bool {
	o.setPhase(ctx, model.PhaseClarifying)
	o.mu.RLock()
	prompt := o.mctx.EffectivePrompt
	o.mu.RUnlock()

	for {
		callStart := time.Now()
		spanCtx, endSpan := o.traceManagerCall(ctx, "clarify")
		ready, question, err := o.mgr.Clarify(spanCtx, prompt)
		endSpan(err)
		o.recordManagerCall("clarify", err, callStart)
		if err != nil {
			o.enterError(ctx, err)
			return false
		}
		if ready {
			return true
		}

		o.emit.ClarificationRequested(ctx, question)
		answer, ok := o.waitForClarifyAnswer(ctx)
		if !ok {
			return o.handleDrainedWait(ctx)
		}

		o.mu.Lock()
		o.mctx.ClarificationHistory = append(o.mctx.ClarificationHistory, model.ClarificationExchange{
			Question: question, Answer: answer, Time: time.Now(),
		})
		o.mctx.EffectivePrompt = o.mctx.EffectivePrompt + "\nQ: " + question + "\nA: " + answer
		prompt = o.mctx.EffectivePrompt
		o.mu.Unlock()
		o.emit.ChatMessageAdded(ctx, model.ChatMessage{Role: "user", Content: answer, Time: time.Now(), Phase: model.PhaseClarifying})
	}
}

// runPlanning drives Planning -> AwaitingApproval -> (Planning on reject)*
// until a plan is approved. Returns false if the loop should end.
func (o *Orchestrator) runPlanning(ctx context.Context) bool {
	o.setPhase(ctx, model.PhasePlanning)
	callStart := time.Now()
	spanCtx, endSpan := o.traceManagerCall(ctx, "plan")
	plan, err := o.mgr.Plan(spanCtx)
	endSpan(err)
	o.recordManagerCall("plan", err, callStart)
	if err != nil {
		o.enterError(ctx, err)
		return false
	}

	for {
		if o.autoApprove() {
			o.mu.Lock()
			o.mctx.ApprovedPlan = plan
			o.mu.Unlock()
			return true
		}

		o.setPhase(ctx, model.PhaseAwaitingApproval)
		dec, ok := o.waitForApproval(ctx)
		if !ok {
			return o.handleDrainedWait(ctx)
		}
		if dec.approved {
			o.mu.Lock()
			o.mctx.ApprovedPlan = plan
			o.mu.Unlock()
			return true
		}

		o.setPhase(ctx, model.PhasePlanning)
		replanStart := time.Now()
		replanCtx, endReplanSpan := o.traceManagerCall(ctx, "replan")
		plan, err = o.mgr.ReplanWithFeedback(replanCtx, dec.feedback)
		endReplanSpan(err)
		o.recordManagerCall("replan", err, replanStart)
		if err != nil {
			o.enterError(ctx, err)
			return false
		}
	}
}

func (o *Orchestrator) autoApprove() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg.AutoApprovePlan
}

// handleDrainedWait distinguishes a wait that ended because ctx was
// cancelled (Reset; caller should just return) from one that ended because
// Stop closed stopCh (caller should land in Stopped).
func (o *Orchestrator) handleDrainedWait(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	o.setPhase(ctx, model.PhaseStopped)
	o.emit.ManagerStopped(ctx)
	return false
}

func (o *Orchestrator) waitForClarifyAnswer(ctx context.Context) (string, bool) {
	select {
	case a := <-o.clarifyAnswers:
		return a, true
	case <-o.stopCh:
		return "", false
	case <-ctx.Done():
		return "", false
	}
}

func (o *Orchestrator) waitForApproval(ctx context.Context) (approval, bool) {
	select {
	case d := <-o.approvals:
		return d, true
	case <-o.stopCh:
		return approval{}, false
	case <-ctx.Done():
		return approval{}, false
	}
}

func (o *Orchestrator) enterError(ctx context.Context, err error) {
	o.logger.Error("manager session failed, entering error phase", "error", err)
	o.emit.ManagerError(ctx, err.Error(), true)
	o.setPhase(ctx, model.PhaseError)
}

// buildTasks converts Manager-discovered events into dispatchable
// AssistantTasks for the given iteration, stamping creation time and initial
// status so the Pool's priority/age sort and status lattice both apply.
func buildTasks(events []manager.DiscoveredEvent, iterationNumber int) []model.AssistantTask {
	now := time.Now()
	tasks := make([]model.AssistantTask, 0, len(events))
	for _, e := range events {
		tasks = append(tasks, model.AssistantTask{
			TaskID:          e.EventID,
			Title:           e.Title,
			Prompt:          taskPrompt(e),
			Priority:        e.Priority,
			SourceEventID:   e.EventID,
			Category:        e.Category,
			Metadata:        e.Metadata,
			IterationNumber: iterationNumber,
			CreatedAt:       now,
			Status:          model.TaskPending,
		})
	}
	return tasks
}

func taskPrompt(e manager.DiscoveredEvent) string {
	if e.Description != "" {
		return e.Title + "\n\n" + e.Description
	}
	return e.Title
}
