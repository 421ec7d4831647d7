package eventstream

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opscoredev/core/pkg/model"
)

// Emitter assigns a monotonically increasing sequence number and an ID to
// every event, stamps the current iteration number, and forwards the event
// to both the Event Log and the Event Stream sinks. It is the single choke
// point through which the Orchestrator and Assistant Pool produce events.
type Emitter struct {
	seq       uint64
	log       Sink
	stream    Sink
	iteration func() int
	now       func() time.Time
}

// NewEmitter builds an Emitter. log is typically the Event Log adapter,
// stream the live subscriber fan-out; either may be nil. iteration supplies
// the current iteration number for stamping (nil means always 0); now
// defaults to time.Now.
func NewEmitter(log, stream Sink, iteration func() int, now func() time.Time) *Emitter {
	if now == nil {
		now = time.Now
	}
	if iteration == nil {
		iteration = func() int { return 0 }
	}
	return &Emitter{log: log, stream: stream, iteration: iteration, now: now}
}

func (e *Emitter) base(t model.EventType) model.Event {
	return model.Event{
		Version:         1,
		ID:              uuid.NewString(),
		Type:            t,
		Time:            e.now(),
		Sequence:        atomic.AddUint64(&e.seq, 1),
		IterationNumber: e.iteration(),
	}
}

func (e *Emitter) dispatch(ctx context.Context, ev model.Event) model.Event {
	if e.log != nil {
		e.log.Emit(ctx, ev)
	}
	if e.stream != nil {
		e.stream.Emit(ctx, ev)
	}
	return ev
}

// PhaseChanged emits an EventPhaseChanged.
func (e *Emitter) PhaseChanged(ctx context.Context, from, to model.Phase) model.Event {
	ev := e.base(model.EventPhaseChanged)
	ev.Phase = &model.PhaseChangedPayload{From: from, To: to}
	return e.dispatch(ctx, ev)
}

// IterationStarted emits an EventIterationStarted.
func (e *Emitter) IterationStarted(ctx context.Context) model.Event {
	return e.dispatch(ctx, e.base(model.EventIterationStarted))
}

// IterationCompleted emits an EventIterationCompleted carrying the report.
func (e *Emitter) IterationCompleted(ctx context.Context, report model.IterationReport) model.Event {
	ev := e.base(model.EventIterationCompleted)
	ev.Report = &report
	return e.dispatch(ctx, ev)
}

// EventsFetched emits an EventEventsFetched with the discovered count.
func (e *Emitter) EventsFetched(ctx context.Context, count int) model.Event {
	ev := e.base(model.EventEventsFetched)
	ev.Text = &model.TextEventPayload{Text: strconv.Itoa(count)}
	return e.dispatch(ctx, ev)
}

// NoEventsFound emits an EventNoEventsFound.
func (e *Emitter) NoEventsFound(ctx context.Context) model.Event {
	return e.dispatch(ctx, e.base(model.EventNoEventsFound))
}

// TaskLifecycle emits a task lifecycle event (created/assigned/queued/
// dequeued/cancelled) carrying the task payload.
func (e *Emitter) TaskLifecycle(ctx context.Context, t model.EventType, task model.AssistantTask) model.Event {
	ev := e.base(t)
	ev.Task = &model.TaskEventPayload{TaskID: task.TaskID, Title: task.Title, Priority: task.Priority}
	return e.dispatch(ctx, ev)
}

// SchedulingDecisionMade emits an event matching the decision's action.
func (e *Emitter) SchedulingDecisionMade(ctx context.Context, d model.SchedulingDecision) model.Event {
	t := schedulingActionEventType(d.Action)
	ev := e.base(t)
	ev.Scheduling = &d
	return e.dispatch(ctx, ev)
}

func schedulingActionEventType(a model.SchedulingAction) model.EventType {
	switch a {
	case model.ActionAssignedImmediate:
		return model.EventTaskAssigned
	case model.ActionQueuedPending:
		return model.EventTaskQueued
	case model.ActionDequeuedAndAssigned:
		return model.EventTaskDequeued
	case model.ActionCancelled:
		return model.EventTaskCancelled
	default:
		return model.EventTaskCreated
	}
}

// AssistantSpawned emits an EventAssistantSpawned.
func (e *Emitter) AssistantSpawned(ctx context.Context, idx int, taskID string) model.Event {
	ev := e.base(model.EventAssistantSpawned)
	ev.Assistant = &model.AssistantEventPayload{AssistantIndex: idx, TaskID: taskID}
	return e.dispatch(ctx, ev)
}

// AssistantProgress emits a droppable EventAssistantProgress text delta.
func (e *Emitter) AssistantProgress(ctx context.Context, idx int, taskID, delta string) model.Event {
	ev := e.base(model.EventAssistantProgress)
	ev.Assistant = &model.AssistantEventPayload{AssistantIndex: idx, TaskID: taskID, Delta: delta}
	return e.dispatch(ctx, ev)
}

// AssistantCompleted emits an EventAssistantCompleted or EventAssistantFailed
// depending on result.Success.
func (e *Emitter) AssistantCompleted(ctx context.Context, result model.AssistantResult) model.Event {
	t := model.EventAssistantCompleted
	if !result.Success {
		t = model.EventAssistantFailed
	}
	ev := e.base(t)
	ev.Assistant = &model.AssistantEventPayload{
		AssistantIndex: result.AssistantIndex,
		TaskID:         result.TaskID,
		Success:        result.Success,
	}
	return e.dispatch(ctx, ev)
}

// AssistantDisposed emits an EventAssistantDisposed.
func (e *Emitter) AssistantDisposed(ctx context.Context, idx int) model.Event {
	ev := e.base(model.EventAssistantDisposed)
	ev.Assistant = &model.AssistantEventPayload{AssistantIndex: idx}
	return e.dispatch(ctx, ev)
}

// AggregationStarted emits an EventAggregationStarted.
func (e *Emitter) AggregationStarted(ctx context.Context) model.Event {
	return e.dispatch(ctx, e.base(model.EventAggregationStarted))
}

// ReportGenerated emits an EventReportGenerated carrying the report.
func (e *Emitter) ReportGenerated(ctx context.Context, report model.IterationReport) model.Event {
	ev := e.base(model.EventReportGenerated)
	ev.Report = &report
	return e.dispatch(ctx, ev)
}

// RestStarted emits an EventRestStarted.
func (e *Emitter) RestStarted(ctx context.Context) model.Event {
	return e.dispatch(ctx, e.base(model.EventRestStarted))
}

// RestTick emits a droppable EventRestCountdownTick.
func (e *Emitter) RestTick(ctx context.Context, remaining time.Duration, due time.Time) model.Event {
	ev := e.base(model.EventRestCountdownTick)
	ev.Tick = &model.RestTickPayload{Remaining: remaining, NextIterationDue: due}
	return e.dispatch(ctx, ev)
}

// RestCompleted emits an EventRestCompleted.
func (e *Emitter) RestCompleted(ctx context.Context) model.Event {
	return e.dispatch(ctx, e.base(model.EventRestCompleted))
}

// InstructionInjected emits an EventInstructionInjected with the raw text.
func (e *Emitter) InstructionInjected(ctx context.Context, text string) model.Event {
	ev := e.base(model.EventInstructionInjected)
	ev.Text = &model.TextEventPayload{Text: text}
	return e.dispatch(ctx, ev)
}

// IntervalChanged emits an EventIntervalChanged.
func (e *Emitter) IntervalChanged(ctx context.Context, d time.Duration) model.Event {
	ev := e.base(model.EventIntervalChanged)
	ev.Text = &model.TextEventPayload{Text: d.String()}
	return e.dispatch(ctx, ev)
}

// PauseRequested emits an EventPauseRequested.
func (e *Emitter) PauseRequested(ctx context.Context) model.Event {
	return e.dispatch(ctx, e.base(model.EventPauseRequested))
}

// ResumeRequested emits an EventResumeRequested.
func (e *Emitter) ResumeRequested(ctx context.Context) model.Event {
	return e.dispatch(ctx, e.base(model.EventResumeRequested))
}

// ChatMessageAdded emits an EventChatMessageAdded carrying the message.
func (e *Emitter) ChatMessageAdded(ctx context.Context, msg model.ChatMessage) model.Event {
	ev := e.base(model.EventChatMessageAdded)
	ev.Chat = &msg
	return e.dispatch(ctx, ev)
}

// ClarificationRequested emits an EventClarificationRequested with the question.
func (e *Emitter) ClarificationRequested(ctx context.Context, question string) model.Event {
	ev := e.base(model.EventClarificationRequested)
	ev.Text = &model.TextEventPayload{Text: question}
	return e.dispatch(ctx, ev)
}

// Commentary emits a droppable EventCommentary line.
func (e *Emitter) Commentary(ctx context.Context, text string) model.Event {
	ev := e.base(model.EventCommentary)
	ev.Text = &model.TextEventPayload{Text: text}
	return e.dispatch(ctx, ev)
}

// ManagerStarted emits an EventManagerStarted.
func (e *Emitter) ManagerStarted(ctx context.Context) model.Event {
	return e.dispatch(ctx, e.base(model.EventManagerStarted))
}

// ManagerStopped emits an EventManagerStopped.
func (e *Emitter) ManagerStopped(ctx context.Context) model.Event {
	return e.dispatch(ctx, e.base(model.EventManagerStopped))
}

// ManagerReset emits an EventManagerReset.
func (e *Emitter) ManagerReset(ctx context.Context) model.Event {
	return e.dispatch(ctx, e.base(model.EventManagerReset))
}

// ManagerError emits an EventManagerError; fatal indicates the error forced
// a transition to PhaseError.
func (e *Emitter) ManagerError(ctx context.Context, message string, fatal bool) model.Event {
	ev := e.base(model.EventManagerError)
	ev.Error = &model.ErrorEventPayload{Message: message, Fatal: fatal}
	return e.dispatch(ctx, ev)
}
