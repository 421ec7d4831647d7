// Package model defines the data types shared across the operations core:
// configuration, the Manager's phase and context, and the task/result/report
// records that flow between the Orchestrator, the Assistant Pool, and the
// Manager.
package model

import "time"

// Config is the immutable-per-session configuration for one operations run.
// Pool and Interval may be mutated in place via control operations; every
// other field is fixed for the lifetime of a run.
type Config struct {
	MasterPrompt         string            `json:"master_prompt" yaml:"master_prompt"`
	ManagerModel         string            `json:"manager_model" yaml:"manager_model"`
	AssistantModel       string            `json:"assistant_model" yaml:"assistant_model"`
	MaxAssistants        int               `json:"max_assistants" yaml:"max_assistants"`
	Interval             time.Duration     `json:"interval" yaml:"interval"`
	IntervalCron         string            `json:"interval_cron,omitempty" yaml:"interval_cron,omitempty"`
	WorkingDirectory     string            `json:"working_directory" yaml:"working_directory"`
	EnabledToolProviders []string          `json:"enabled_tool_providers" yaml:"enabled_tool_providers"`
	DisabledSkills       []string          `json:"disabled_skills" yaml:"disabled_skills"`
	AssistantTimeout     time.Duration     `json:"assistant_timeout" yaml:"assistant_timeout"`
	MaxRetries           int               `json:"max_retries" yaml:"max_retries"`
	AutoApprovePlan      bool              `json:"auto_approve_plan" yaml:"auto_approve_plan"`
	MaxQueueDepth        int               `json:"max_queue_depth" yaml:"max_queue_depth"`
	ManagerLLMTimeout    time.Duration     `json:"manager_llm_timeout" yaml:"manager_llm_timeout"`
	RetryDelay           time.Duration     `json:"retry_delay" yaml:"retry_delay"`
	Metadata             map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// DefaultConfig returns a Config with the defaults named in the component design.
func DefaultConfig() Config {
	return Config{
		ManagerModel:     "manager-default",
		AssistantModel:   "assistant-default",
		MaxAssistants:    3,
		Interval:         5 * time.Minute,
		AssistantTimeout: 10 * time.Minute,
		MaxRetries:       1,
		MaxQueueDepth:    0,
		ManagerLLMTimeout: 120 * time.Second,
		RetryDelay:       2 * time.Second,
	}
}

// Validate rejects configurations that would break the invariants of the
// Orchestrator and Assistant Pool.
func (c Config) Validate() error {
	if c.MaxAssistants < 1 {
		return errConfig("max_assistants must be >= 1")
	}
	if c.Interval <= 0 {
		return errConfig("interval must be > 0")
	}
	if c.MaxRetries < 0 {
		return errConfig("max_retries must be >= 0")
	}
	if c.MaxQueueDepth < 0 {
		return errConfig("max_queue_depth must be >= 0 (0 = unlimited)")
	}
	return nil
}

type configError string

func (e configError) Error() string { return string(e) }

func errConfig(msg string) error { return configError(msg) }

// Phase is one of the eleven states of the Orchestrator state machine.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseClarifying       Phase = "clarifying"
	PhasePlanning         Phase = "planning"
	PhaseAwaitingApproval Phase = "awaiting_approval"
	PhaseFetchingEvents   Phase = "fetching_events"
	PhaseScheduling       Phase = "scheduling"
	PhaseExecuting        Phase = "executing"
	PhaseAggregating      Phase = "aggregating"
	PhaseResting          Phase = "resting"
	PhaseError            Phase = "error"
	PhaseStopped          Phase = "stopped"
)

// ClarificationExchange records one question/answer round during Clarifying
// or during a mid-run clarity-evaluation sub-dialog.
type ClarificationExchange struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	Time     time.Time `json:"time"`
}

// ManagerContext is owned exclusively by the Orchestrator and mutated only on
// the Orchestrator's cooperative task, at phase boundaries.
type ManagerContext struct {
	OriginalPrompt          string                   `json:"original_prompt"`
	EffectivePrompt         string                   `json:"effective_prompt"`
	InjectedInstructions    []string                 `json:"injected_instructions,omitempty"`
	ApprovedPlan            string                   `json:"approved_plan,omitempty"`
	CompletedIterations     int                      `json:"completed_iterations"`
	LastIterationStart      time.Time                `json:"last_iteration_start,omitempty"`
	NextIterationDue        time.Time                `json:"next_iteration_due,omitempty"`
	ClarificationHistory    []ClarificationExchange  `json:"clarification_history,omitempty"`
	Learnings               []string                 `json:"learnings,omitempty"`
	PreviousIterationSummary string                  `json:"previous_iteration_summary,omitempty"`
}

// DrainInjectedInstructions atomically moves accumulated injected instructions
// into the effective prompt and learnings, then clears the queue. It must be
// called exactly once at the top of every iteration.
func (c *ManagerContext) DrainInjectedInstructions() []string {
	if len(c.InjectedInstructions) == 0 {
		return nil
	}
	drained := c.InjectedInstructions
	c.InjectedInstructions = nil
	for _, instr := range drained {
		c.EffectivePrompt = appendInstruction(c.EffectivePrompt, instr)
	}
	return drained
}

func appendInstruction(prompt, instr string) string {
	if prompt == "" {
		return instr
	}
	return prompt + "\n" + instr
}

// TaskStatus is a task's position in the status lattice:
// Pending -> (Queued|Assigned) -> InProgress -> (Completed|Failed|Cancelled),
// with Failed -> Assigned permitted while retry_count < max_retries.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskQueued     TaskStatus = "queued"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether the status is one of the three terminal states.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// AssistantTask is one unit of work dispatched to the Assistant Pool.
type AssistantTask struct {
	TaskID          string            `json:"task_id"`
	Title           string            `json:"title"`
	Prompt          string            `json:"prompt"`
	Priority        int               `json:"priority"`
	SourceEventID   string            `json:"source_event_id,omitempty"`
	Category        string            `json:"category,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	IterationNumber int               `json:"iteration_number"`
	CreatedAt       time.Time         `json:"created_at"`
	Status          TaskStatus        `json:"status"`
	RetryCount      int               `json:"retry_count"`
}

// AssistantResult is the outcome of one Assistant's run against one task.
type AssistantResult struct {
	TaskID          string        `json:"task_id"`
	TaskTitle       string        `json:"task_title"`
	Success         bool          `json:"success"`
	Response        string        `json:"response"`
	Summary         string        `json:"summary"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	AssistantIndex  int           `json:"assistant_index"`
	Duration        time.Duration `json:"duration"`
	CompletedAt     time.Time     `json:"completed_at"`
	Category        string        `json:"category,omitempty"`
	ActionsTaken    []string      `json:"actions_taken,omitempty"`
}

// SchedulingAction is the kind of decision the Pool recorded about a task.
type SchedulingAction string

const (
	ActionAssignedImmediate  SchedulingAction = "assigned_immediate"
	ActionQueuedPending      SchedulingAction = "queued_pending"
	ActionDequeuedAndAssigned SchedulingAction = "dequeued_and_assigned"
	ActionRetried            SchedulingAction = "retried"
	ActionCancelled          SchedulingAction = "cancelled"
	ActionSkippedDuplicate   SchedulingAction = "skipped_duplicate"
)

// SchedulingDecision is a structured log entry recording why/when a task was
// assigned, queued, dequeued, retried, or cancelled.
type SchedulingDecision struct {
	Time                      time.Time        `json:"time"`
	TaskID                    string           `json:"task_id"`
	TaskTitle                 string           `json:"task_title"`
	Action                    SchedulingAction `json:"action"`
	Reason                    string           `json:"reason,omitempty"`
	AssignedAssistantIndex    *int             `json:"assigned_assistant_index,omitempty"`
	QueuePositionAtTime       int              `json:"queue_position_at_time"`
	AvailableAssistantsAtTime int              `json:"available_assistants_at_time"`
}

// IterationReport summarizes one complete FetchingEvents->...->Resting pass.
type IterationReport struct {
	IterationNumber  int                  `json:"iteration_number"`
	StartedAt        time.Time            `json:"started_at"`
	CompletedAt      time.Time            `json:"completed_at"`
	EventsDiscovered int                  `json:"events_discovered"`
	TasksCreated     int                  `json:"tasks_created"`
	TasksSucceeded   int                  `json:"tasks_succeeded"`
	TasksFailed      int                  `json:"tasks_failed"`
	TasksCancelled   int                  `json:"tasks_cancelled"`
	DetailedResults  []AssistantResult    `json:"detailed_results"`
	NarrativeSummary string               `json:"narrative_summary"`
	Recommendations  string               `json:"recommendations,omitempty"`
	SchedulingLog    []SchedulingDecision `json:"scheduling_log"`
}

// Duration returns the wall time the iteration took.
func (r IterationReport) Duration() time.Duration {
	if r.CompletedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// ChatMessage is a pure UI-surface record derived from the event stream; it
// holds no authoritative state.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Time      time.Time `json:"time"`
	Phase     Phase     `json:"phase,omitempty"`
}

// LiveCommentary is a pure UI-surface record derived from the event stream.
type LiveCommentary struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}
