package model

import "time"

// EventType identifies the kind of observable event the core emits. Every
// event named in the component design for the Event Stream (C8) has exactly
// one constant here; the Event Log (C2) stores the same Event values.
type EventType string

const (
	EventPhaseChanged           EventType = "phase.changed"
	EventIterationStarted       EventType = "iteration.started"
	EventIterationCompleted     EventType = "iteration.completed"
	EventEventsFetched          EventType = "events.fetched"
	EventNoEventsFound          EventType = "events.none_found"
	EventTaskCreated            EventType = "task.created"
	EventTaskAssigned           EventType = "task.assigned"
	EventTaskQueued             EventType = "task.queued"
	EventTaskDequeued           EventType = "task.dequeued"
	EventTaskCancelled          EventType = "task.cancelled"
	EventAssistantSpawned       EventType = "assistant.spawned"
	EventAssistantProgress      EventType = "assistant.progress"
	EventAssistantCompleted     EventType = "assistant.completed"
	EventAssistantFailed        EventType = "assistant.failed"
	EventAssistantDisposed      EventType = "assistant.disposed"
	EventAggregationStarted     EventType = "aggregation.started"
	EventReportGenerated        EventType = "report.generated"
	EventRestStarted            EventType = "rest.started"
	EventRestCountdownTick      EventType = "rest.tick"
	EventRestCompleted          EventType = "rest.completed"
	EventInstructionInjected    EventType = "instruction.injected"
	EventIntervalChanged        EventType = "interval.changed"
	EventPauseRequested         EventType = "pause.requested"
	EventResumeRequested        EventType = "resume.requested"
	EventChatMessageAdded       EventType = "chat.message_added"
	EventClarificationRequested EventType = "clarification.requested"
	EventCommentary             EventType = "commentary"
	EventManagerStarted         EventType = "manager.started"
	EventManagerStopped         EventType = "manager.stopped"
	EventManagerReset           EventType = "manager.reset"
	EventManagerError           EventType = "manager.error"
	EventSlowObserver           EventType = "observer.slow"
)

// schedulingEventTypes is the subset of EventTypes that originate in the
// Assistant Pool's scheduling decisions; used for the Event Log's
// scheduling-only query mode.
var schedulingEventTypes = map[EventType]bool{
	EventTaskCreated:   true,
	EventTaskAssigned:  true,
	EventTaskQueued:    true,
	EventTaskDequeued:  true,
	EventTaskCancelled: true,
}

// IsSchedulingEvent reports whether t originates from a SchedulingDecision.
func IsSchedulingEvent(t EventType) bool {
	return schedulingEventTypes[t]
}

// sticky event types are never evicted by the Event Log's retention policy:
// phase transitions and iteration boundaries.
var stickyEventTypes = map[EventType]bool{
	EventPhaseChanged:       true,
	EventIterationStarted:   true,
	EventIterationCompleted: true,
	EventManagerStarted:     true,
	EventManagerStopped:     true,
	EventManagerReset:       true,
	EventManagerError:       true,
}

// IsSticky reports whether t must never be dropped by the Event Log's
// retention policy.
func IsSticky(t EventType) bool {
	return stickyEventTypes[t]
}

// droppable event types may be dropped from a stalled Event Stream reader's
// buffer under backpressure; all other types are delivered lossless.
var droppableEventTypes = map[EventType]bool{
	EventAssistantProgress: true,
	EventRestCountdownTick: true,
	EventCommentary:        true,
}

// IsDroppable reports whether t may be dropped under Event Stream backpressure.
func IsDroppable(t EventType) bool {
	return droppableEventTypes[t]
}

// Event is the unified, totally-ordered-within-one-iteration record the
// Orchestrator appends to the Event Log and broadcasts on the Event Stream.
// Exactly one payload field should be populated for a given Type; the rest
// stay nil. Versioned so fields are added, never renamed or removed.
type Event struct {
	Version         int       `json:"version"`
	ID              string    `json:"id"`
	Type            EventType `json:"type"`
	Time            time.Time `json:"time"`
	Sequence        uint64    `json:"seq"`
	IterationNumber int       `json:"iteration_number,omitempty"`

	Phase       *PhaseChangedPayload       `json:"phase,omitempty"`
	Task        *TaskEventPayload          `json:"task,omitempty"`
	Assistant   *AssistantEventPayload     `json:"assistant,omitempty"`
	Scheduling  *SchedulingDecision        `json:"scheduling,omitempty"`
	Report      *IterationReport           `json:"report,omitempty"`
	Tick        *RestTickPayload           `json:"tick,omitempty"`
	Text        *TextEventPayload          `json:"text,omitempty"`
	Chat        *ChatMessage               `json:"chat,omitempty"`
	Error       *ErrorEventPayload         `json:"error,omitempty"`
	Observer    *SlowObserverPayload       `json:"observer,omitempty"`
}

// PhaseChangedPayload describes an Orchestrator phase transition.
type PhaseChangedPayload struct {
	From Phase `json:"from"`
	To   Phase `json:"to"`
}

// TaskEventPayload carries task lifecycle and scheduling event data.
type TaskEventPayload struct {
	TaskID   string `json:"task_id"`
	Title    string `json:"title"`
	Priority int    `json:"priority,omitempty"`
}

// AssistantEventPayload carries Assistant lifecycle event data.
type AssistantEventPayload struct {
	AssistantIndex int    `json:"assistant_index"`
	TaskID         string `json:"task_id"`
	Delta          string `json:"delta,omitempty"`
	Success        bool   `json:"success,omitempty"`
}

// RestTickPayload carries the Interval Scheduler's per-second observation.
type RestTickPayload struct {
	Remaining        time.Duration `json:"remaining"`
	NextIterationDue time.Time     `json:"next_iteration_due"`
}

// TextEventPayload is generic human-readable text (commentary, clarification
// questions, status messages).
type TextEventPayload struct {
	Text string `json:"text"`
}

// ErrorEventPayload standardizes non-fatal and fatal error reporting.
type ErrorEventPayload struct {
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

// SlowObserverPayload is synthesized for an Event Stream reader that stalled
// and had events dropped from its buffer.
type SlowObserverPayload struct {
	ReaderID string `json:"reader_id"`
	Dropped  uint64 `json:"dropped"`
}
