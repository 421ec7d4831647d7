// Package manager implements the Manager Agent (C6): a role, not a process,
// expressed as a set of prompt templates and parsing rules executed against
// one long-lived Gateway session. Every exported method sends exactly one
// prompt and parses exactly one response; the Orchestrator decides when
// each is appropriate to call.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/opscoredev/core/internal/gateway"
	"github.com/opscoredev/core/pkg/model"
)

const readyToPlanMarker = "READY_TO_PLAN"

var learningLine = regexp.MustCompile(`(?m)^LEARNING:\s*(.+)$`)

// DiscoveredEvent is one unit of work the Manager reports finding during
// event fetching.
type DiscoveredEvent struct {
	EventID     string            `json:"event_id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Priority    int               `json:"priority"`
	Category    string            `json:"category"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// FetchResult is the parsed response to the Event fetching prompt.
type FetchResult struct {
	EventsFound bool              `json:"events_found"`
	Events      []DiscoveredEvent `json:"events"`
	Commentary  string            `json:"commentary"`
}

// AggregationResult is the parsed response to the Aggregation prompt.
type AggregationResult struct {
	NarrativeSummary string
	Recommendations  string
	NewLearnings     []string
}

// Manager wraps one long-lived Gateway session and exposes the seven
// prompt/parse operations the Orchestrator drives it through.
type Manager struct {
	gw               gateway.Gateway
	handle           gateway.Handle
	model            string
	workingDirectory string
	timeout          time.Duration
	logger           *slog.Logger

	mu sync.Mutex // serializes calls onto the single Manager session handle
}

// New builds a Manager bound to gw. Start must be called before any prompt
// method.
func New(gw gateway.Gateway, modelName, workingDirectory string, timeout time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default().With("component", "manager")
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Manager{gw: gw, model: modelName, workingDirectory: workingDirectory, timeout: timeout, logger: logger}
}

// Start creates the long-lived Manager session.
func (m *Manager) Start(ctx context.Context, sessionID, systemPrompt string) error {
	h, err := m.gw.Create(ctx, gateway.CreateParams{
		SessionID:        sessionID,
		Model:            m.model,
		WorkingDirectory: m.workingDirectory,
		SystemPrompt:     systemPrompt,
	})
	if err != nil {
		return err
	}
	m.handle = h
	return nil
}

// Terminate ends the Manager session. Safe to call on a nil handle.
func (m *Manager) Terminate(ctx context.Context) error {
	if m.handle == nil {
		return nil
	}
	return m.gw.Terminate(ctx, m.handle)
}

// Abort cancels an in-flight send on the Manager session, used on Reset.
func (m *Manager) Abort(ctx context.Context) error {
	if m.handle == nil {
		return nil
	}
	return m.gw.Abort(ctx, m.handle)
}

// send is the single call site that issues a prompt against the Manager
// session. TryLock enforces §5's rule that a concurrent send on the same
// handle is a caller programming error, not something to queue or retry.
func (m *Manager) send(ctx context.Context, prompt string) (string, error) {
	if !m.mu.TryLock() {
		return "", errors.New("manager: session is already mid-send")
	}
	defer m.mu.Unlock()

	if m.handle == nil {
		return "", errors.New("manager: session not started")
	}

	stream, err := m.gw.Send(ctx, m.handle, prompt, m.timeout)
	if err != nil {
		return "", err
	}

	var response strings.Builder
	for ev := range stream {
		switch ev.Kind {
		case gateway.EventTextDelta:
			response.WriteString(ev.Text)
		case gateway.EventStreamError:
			return response.String(), ev.Err
		case gateway.EventIdle:
			return response.String(), nil
		}
	}
	return response.String(), nil
}

// Clarify issues the Clarification prompt. ready=true means the Manager
// declared READY_TO_PLAN; otherwise question holds the text to surface to
// the user.
func (m *Manager) Clarify(ctx context.Context, objective string) (ready bool, question string, err error) {
	prompt := fmt.Sprintf(
		"User objective: %s. BEGIN CLARIFICATION. Ask questions needed to fully understand the objective. "+
			"If none, respond exactly: %s.", objective, readyToPlanMarker,
	)
	resp, err := m.send(ctx, prompt)
	if err != nil {
		return false, "", err
	}
	if strings.Contains(resp, readyToPlanMarker) {
		return true, "", nil
	}
	return false, strings.TrimSpace(resp), nil
}

// Plan issues the Planning prompt and returns the full response as the plan.
func (m *Manager) Plan(ctx context.Context) (string, error) {
	resp, err := m.send(ctx, "CREATE EXECUTION PLAN. Describe step-by-step how each iteration will work using your tools and the user objective.")
	return strings.TrimSpace(resp), err
}

// ReplanWithFeedback re-issues the Planning prompt with rejection feedback
// appended, per the AwaitingApproval --reject(feedback)--> Planning edge.
func (m *Manager) ReplanWithFeedback(ctx context.Context, feedback string) (string, error) {
	prompt := fmt.Sprintf(
		"CREATE EXECUTION PLAN. Describe step-by-step how each iteration will work using your tools and the user objective.\n\n"+
			"The previous plan was rejected with this feedback: %s", feedback,
	)
	resp, err := m.send(ctx, prompt)
	return strings.TrimSpace(resp), err
}

// IncorporateInstructions tells the Manager about instructions drained from
// the injection queue at the top of an iteration, so a CLEAR-verdict
// instruction actually changes what FetchEvents/Aggregate do next rather
// than sitting unused once queued.
func (m *Manager) IncorporateInstructions(ctx context.Context, instructions []string) (string, error) {
	if len(instructions) == 0 {
		return "", nil
	}
	prompt := fmt.Sprintf(
		"NEW USER INSTRUCTIONS for subsequent iterations: %s. Acknowledge briefly and incorporate them into your ongoing approach.",
		strings.Join(instructions, "; "),
	)
	return m.send(ctx, prompt)
}

// FetchEvents issues the Event fetching prompt for iteration n, extracting
// the JSON object from the response. On a parse failure it retries once
// with a clarification; a second failure reports zero events rather than
// erroring the iteration.
func (m *Manager) FetchEvents(ctx context.Context, iteration int) (FetchResult, error) {
	prompt := fmt.Sprintf(
		"CHECK FOR EVENTS. Iteration #%d. Use your tools to query for work. Respond in this JSON shape: "+
			`{events_found: bool, events: [{event_id, title, description, priority (1..5), category, metadata}], commentary: str}.`,
		iteration,
	)
	resp, err := m.send(ctx, prompt)
	if err != nil {
		return FetchResult{}, err
	}

	if result, ok := parseFetchResult(resp); ok {
		return result, nil
	}

	retryResp, err := m.send(ctx, "Return ONLY the JSON object described above")
	if err != nil {
		return FetchResult{}, err
	}
	if result, ok := parseFetchResult(retryResp); ok {
		return result, nil
	}

	m.logger.Error("event fetch JSON parse failed twice", "iteration", iteration)
	return FetchResult{EventsFound: false}, nil
}

func parseFetchResult(text string) (FetchResult, bool) {
	obj, ok := extractJSONObject(text)
	if !ok {
		return FetchResult{}, false
	}
	var result FetchResult
	if err := json.Unmarshal([]byte(obj), &result); err != nil {
		return FetchResult{}, false
	}
	return result, true
}

// extractJSONObject returns the first balanced {...} block in text.
func extractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// inside a string literal, braces don't count
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// Aggregate issues the Aggregation prompt for iteration n, parsing out the
// narrative summary, a Recommendations section if present, and any new
// LEARNING lines (deduped against existingLearnings).
func (m *Manager) Aggregate(ctx context.Context, iteration int, results []model.AssistantResult, existingLearnings []string) (AggregationResult, error) {
	prompt := fmt.Sprintf(
		"AGGREGATE RESULTS for Iteration #%d. Here are the assistant results: %s. Previous learnings: %s. "+
			"Produce a Markdown report with per-task summary, statistics, recommendations, and any new learnings on a line beginning `LEARNING:`.",
		iteration, serializeResults(results), strings.Join(existingLearnings, "; "),
	)
	resp, err := m.send(ctx, prompt)
	if err != nil {
		return AggregationResult{}, err
	}

	seen := make(map[string]bool, len(existingLearnings))
	for _, l := range existingLearnings {
		seen[strings.TrimSpace(l)] = true
	}

	var newLearnings []string
	for _, match := range learningLine.FindAllStringSubmatch(resp, -1) {
		l := strings.TrimSpace(match[1])
		if l != "" && !seen[l] {
			seen[l] = true
			newLearnings = append(newLearnings, l)
		}
	}

	narrative := strings.TrimSpace(learningLine.ReplaceAllString(resp, ""))
	recommendations := extractSection(narrative, "Recommendations")

	return AggregationResult{
		NarrativeSummary: narrative,
		Recommendations:  recommendations,
		NewLearnings:     newLearnings,
	}, nil
}

func serializeResults(results []model.AssistantResult) string {
	b, err := json.Marshal(results)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func extractSection(text, heading string) string {
	re := regexp.MustCompile(`(?is)#+\s*` + regexp.QuoteMeta(heading) + `\s*\n(.*?)(\n#+\s|\z)`)
	if m := re.FindStringSubmatch(text); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// ClarityVerdict is the parsed response to the clarity-evaluation prompt.
type ClarityVerdict struct {
	Clear    bool
	Question string
}

// EvaluateClarity issues the mid-run clarity-evaluation prompt for an
// injected user instruction. Callers must only invoke this while the
// current phase is Executing or Resting, per §5.
func (m *Manager) EvaluateClarity(ctx context.Context, instruction string) (ClarityVerdict, error) {
	prompt := fmt.Sprintf("USER INSTRUCTION: %s. Respond CLEAR if actionable as-is, else respond CLARIFY: {question}.", instruction)
	resp, err := m.send(ctx, prompt)
	if err != nil {
		return ClarityVerdict{}, err
	}
	resp = strings.TrimSpace(resp)
	if strings.HasPrefix(resp, "CLEAR") {
		return ClarityVerdict{Clear: true}, nil
	}
	if idx := strings.Index(resp, "CLARIFY:"); idx >= 0 {
		return ClarityVerdict{Clear: false, Question: strings.TrimSpace(resp[idx+len("CLARIFY:"):])}, nil
	}
	return ClarityVerdict{Clear: false, Question: resp}, nil
}

// BriefResult is the parsed response to the Knowledge Brief prompt.
type BriefResult struct {
	ExecutiveSummary string
	OpenQuestions    []string
}

var openQuestionLine = regexp.MustCompile(`(?m)^\s*[-*]\s+(.+\?)\s*$`)

// Brief asks the Manager to compress the latest iteration's outcome into an
// executive summary plus a bullet list of open questions, for the Knowledge
// Brief Store (C9).
func (m *Manager) Brief(ctx context.Context, iterationSummary string, learnings []string) (BriefResult, error) {
	prompt := fmt.Sprintf(
		"Compress the following iteration summary and learnings into a brief: an executive summary in 2000 tokens "+
			"or fewer, and a bullet list of open questions (each ending in '?'). Iteration summary: %s. Learnings: %s.",
		iterationSummary, strings.Join(learnings, "; "),
	)
	resp, err := m.send(ctx, prompt)
	if err != nil {
		return BriefResult{}, err
	}

	var questions []string
	for _, match := range openQuestionLine.FindAllStringSubmatch(resp, -1) {
		questions = append(questions, strings.TrimSpace(match[1]))
	}
	summary := strings.TrimSpace(openQuestionLine.ReplaceAllString(resp, ""))
	return BriefResult{ExecutiveSummary: summary, OpenQuestions: questions}, nil
}

// AnswerFollowUp answers a post-Stop user question against the Knowledge
// Brief rather than the full transcript, per §4.6's Follow-up Q&A rule.
func (m *Manager) AnswerFollowUp(ctx context.Context, brief, question string) (string, error) {
	prompt := fmt.Sprintf(
		"Using only the following knowledge brief as context, answer the user's question.\n\nBrief:\n%s\n\nQuestion: %s",
		brief, question,
	)
	resp, err := m.send(ctx, prompt)
	return strings.TrimSpace(resp), err
}

// MetaQuestionReply answers a status-request meta-question synchronously
// from local orchestrator state, without an LLM call.
func MetaQuestionReply(phase model.Phase, turn int, eta time.Duration, controls []string) string {
	return fmt.Sprintf(
		"Current phase: %s. Turn: %d. ETA to next iteration: %s. Available controls: %s.",
		phase, turn, eta.Round(time.Second), strings.Join(controls, ", "),
	)
}
