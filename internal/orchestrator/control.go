package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/opscoredev/core/internal/manager"
	"github.com/opscoredev/core/pkg/model"
)

// UserResponse delivers the user's answer during the initial Clarifying
// dialog. It is a no-op error if the run isn't currently waiting on one.
func (o *Orchestrator) UserResponse(answer string) error {
	if o.Phase() != model.PhaseClarifying {
		return errors.New("orchestrator: not awaiting a clarification answer")
	}
	select {
	case o.clarifyAnswers <- answer:
		return nil
	default:
		return errors.New("orchestrator: a clarification answer is already pending")
	}
}

// ApprovePlan accepts the plan currently awaiting approval.
func (o *Orchestrator) ApprovePlan() error {
	return o.decidePlan(approval{approved: true})
}

// RejectPlan sends the plan back to Planning with feedback for the Manager
// to incorporate into a revision.
func (o *Orchestrator) RejectPlan(feedback string) error {
	return o.decidePlan(approval{approved: false, feedback: feedback})
}

func (o *Orchestrator) decidePlan(dec approval) error {
	if o.Phase() != model.PhaseAwaitingApproval {
		return errors.New("orchestrator: no plan is awaiting approval")
	}
	select {
	case o.approvals <- dec:
		return nil
	default:
		return errors.New("orchestrator: an approval decision is already pending")
	}
}

// InjectInstruction evaluates a mid-run instruction for clarity, per §5's
// rule that this is only permitted while Executing or Resting (the two
// phases where the Manager session itself is idle). A CLEAR verdict queues
// the instruction verbatim for the next iteration's drain; a CLARIFY verdict
// returns the Manager's question for the caller to put back through
// InjectInstruction as the next round, up to a third round which force-
// queues the accumulated text rather than asking again indefinitely.
func (o *Orchestrator) InjectInstruction(ctx context.Context, text string) (clarifyQuestion string, queued bool, err error) {
	phase := o.Phase()
	if phase != model.PhaseExecuting && phase != model.PhaseResting {
		o.queueInstruction(ctx, text)
		return "", true, nil
	}

	verdict, err := o.mgr.EvaluateClarity(ctx, text)
	if err != nil {
		return "", false, err
	}

	o.mu.Lock()
	if verdict.Clear {
		o.mu.Unlock()
		o.resetClarityRound()
		o.queueInstruction(ctx, text)
		return "", true, nil
	}
	o.clarityRoundText = appendClarityText(o.clarityRoundText, text)
	o.clarityRounds++
	rounds := o.clarityRounds
	accumulated := o.clarityRoundText
	o.mu.Unlock()

	if rounds >= maxClarityRounds {
		o.resetClarityRound()
		o.queueInstruction(ctx, accumulated)
		return "", true, nil
	}

	o.emit.ClarificationRequested(ctx, verdict.Question)
	return verdict.Question, false, nil
}

const maxClarityRounds = 3

func appendClarityText(existing, next string) string {
	if existing == "" {
		return next
	}
	return existing + "\n" + next
}

func (o *Orchestrator) resetClarityRound() {
	o.mu.Lock()
	o.clarityRounds = 0
	o.clarityRoundText = ""
	o.mu.Unlock()
}

func (o *Orchestrator) queueInstruction(ctx context.Context, text string) {
	o.mu.Lock()
	o.mctx.InjectedInstructions = append(o.mctx.InjectedInstructions, text)
	o.mu.Unlock()
	o.emit.InstructionInjected(ctx, text)
}

// FollowUp answers a post-Stop question against the Knowledge Brief rather
// than a live Manager session. Only valid once the run has reached Stopped.
func (o *Orchestrator) FollowUp(ctx context.Context, question string) (string, error) {
	if o.Phase() != model.PhaseStopped {
		return "", errors.New("orchestrator: follow-up is only available after stop")
	}
	return o.mgr.AnswerFollowUp(ctx, o.briefs.Render(), question)
}

// MetaQuestion answers a synchronous status question from local state,
// without a Manager session round-trip, when phase is one of the five where
// that's meaningful (Executing, Scheduling, FetchingEvents, Aggregating,
// Resting).
func (o *Orchestrator) MetaQuestion() (string, bool) {
	phase := o.Phase()
	switch phase {
	case model.PhaseExecuting, model.PhaseScheduling, model.PhaseFetchingEvents, model.PhaseAggregating, model.PhaseResting:
	default:
		return "", false
	}
	st := o.Status()
	eta := time.Until(st.NextIterationDue)
	if eta < 0 {
		eta = 0
	}
	controls := []string{"pause", "resume", "stop", "reset", "inject_instruction", "update_interval", "update_pool_size"}
	return manager.MetaQuestionReply(phase, st.CompletedIterations, eta, controls), true
}

// Pause overrides the Interval Scheduler's current or next rest period to d
// (or an effectively indefinite wait if d <= 0), taking effect immediately
// if currently Resting and at the start of the next Resting period
// otherwise, since OverrideDuration's write is buffered until WaitForNext
// reads it.
func (o *Orchestrator) Pause(d time.Duration) {
	if d <= 0 {
		d = 365 * 24 * time.Hour
	}
	o.sched.OverrideDuration(d)
	o.emit.PauseRequested(context.Background())
}

// Resume ends the current rest period immediately via WakeNow.
func (o *Orchestrator) Resume() {
	o.sched.WakeNow()
	o.emit.ResumeRequested(context.Background())
}

// UpdateInterval changes the base rest duration to a fixed countdown,
// clearing any configured cron expression (an explicit duration request
// overrides a calendar cadence rather than being silently superseded by it
// on the next cycle). If currently Resting, the remaining rest is shortened
// or lengthened live to max(0, new_interval - elapsed_rest); otherwise the
// new interval takes effect starting with the next Resting entry.
func (o *Orchestrator) UpdateInterval(d time.Duration) error {
	if d <= 0 {
		return errors.New("orchestrator: interval must be > 0")
	}
	o.mu.Lock()
	o.cfg.Interval = d
	o.cfg.IntervalCron = ""
	resting := o.phase == model.PhaseResting
	elapsed := time.Since(o.restStartedAt)
	o.mu.Unlock()

	if resting {
		remaining := d - elapsed
		if remaining < 0 {
			remaining = 0
		}
		o.sched.OverrideDuration(remaining)
	}
	o.emit.IntervalChanged(context.Background(), d)
	return nil
}

// UpdatePoolSize changes the Assistant Pool's concurrency bound, effective
// on the next iteration's ExecuteBatch call (the Pool is rebuilt fresh from
// config every iteration).
func (o *Orchestrator) UpdatePoolSize(n int) error {
	if n < 1 {
		return errors.New("orchestrator: pool size must be >= 1")
	}
	o.mu.Lock()
	o.cfg.MaxAssistants = n
	o.mu.Unlock()
	return nil
}

// Stop cooperatively drains the run: no new iteration begins, an in-flight
// iteration is allowed to finish (Assistants are NOT aborted), and Resting
// is skipped in favor of a direct transition to Stopped. If currently
// Resting, the rest period is woken early so the loop can observe stopping.
func (o *Orchestrator) Stop() error {
	switch o.Phase() {
	case model.PhaseIdle, model.PhaseStopped, model.PhaseError:
		return errors.New("orchestrator: cannot stop from this phase")
	}
	o.mu.Lock()
	already := o.stopping
	o.stopping = true
	stopCh := o.stopCh
	o.mu.Unlock()
	if already {
		return nil
	}
	close(stopCh)
	o.sched.WakeNow()
	return nil
}

// Reset hard-cancels the run: the Pool's in-flight Assistants are aborted
// (via ctx cancellation), the Manager session is aborted and terminated, the
// Scheduler's rest is aborted, and the run returns to Idle with a cleared
// ManagerContext. Reset is the only way out of Error, and also works from
// any other non-Idle phase.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	if o.phase == model.PhaseIdle {
		o.mu.Unlock()
		return nil
	}
	cancel := o.masterCancel
	loopDone := o.loopDone
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.sched.Abort()
	if loopDone != nil {
		<-loopDone
	}

	bg := context.Background()
	_ = o.mgr.Abort(bg)
	_ = o.mgr.Terminate(bg)
	o.emit.ManagerReset(bg)

	o.mu.Lock()
	o.phase = model.PhaseIdle
	o.mctx = model.ManagerContext{}
	o.stopping = false
	o.reconnectAttempts = 0
	o.clarityRounds = 0
	o.clarityRoundText = ""
	o.mu.Unlock()
	return nil
}
