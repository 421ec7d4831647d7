// Package assistant implements the Assistant Agent (C4): a single-shot
// worker with lifecycle Spawned -> Working -> (Completed | Failed) ->
// Disposed, grounded in the teacher's AgentExecutor session/process/collect
// pattern but adapted to the Gateway's explicit stream-of-events contract.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opscoredev/core/internal/gateway"
	"github.com/opscoredev/core/pkg/model"
)

// fatalErrorPattern flags responses that look like a fatal-error indicator
// rather than a genuine result, per the success-determination rule.
var fatalErrorPattern = regexp.MustCompile(`(?i)^\s*(error|failed|fatal|exception)\b`)

// summaryHeading finds an explicit "## Summary" section.
var summaryHeading = regexp.MustCompile(`(?is)##\s*Summary\s*\n(.*?)(\n##|\z)`)

// bulletLine matches a markdown bullet for actions_taken extraction.
var bulletLine = regexp.MustCompile(`(?m)^\s*[-*]\s+(.*)$`)

const maxTruncatedResponse = 2000

// Runner executes one AssistantTask against the Gateway and produces an
// AssistantResult. It is stateless and safe to reuse across tasks.
type Runner struct {
	gw     gateway.Gateway
	logger *slog.Logger
}

// NewRunner builds a Runner.
func NewRunner(gw gateway.Gateway, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default().With("component", "assistant")
	}
	return &Runner{gw: gw, logger: logger}
}

// Params carries the per-run configuration a Runner needs beyond the task
// itself: the model and environment every Assistant session is pinned to,
// and the previous failure context on a retry attempt.
type Params struct {
	AssistantIndex   int
	Model            string
	WorkingDirectory string
	EnabledTools     []string
	Timeout          time.Duration
	RetryContext     *RetryContext
}

// RetryContext carries the previous attempt's failure into a retry prompt.
type RetryContext struct {
	PreviousError    string
	PreviousResponse string
}

// Run executes task to completion, always terminating its session before
// returning — even on timeout, cancellation, or panic recovery.
func (r *Runner) Run(ctx context.Context, task model.AssistantTask, params Params, onProgress func(delta string)) (result model.AssistantResult) {
	started := time.Now()
	result = model.AssistantResult{
		TaskID:         task.TaskID,
		TaskTitle:      task.Title,
		AssistantIndex: params.AssistantIndex,
		Category:       task.Category,
	}

	defer func() {
		result.Duration = time.Since(started)
		result.CompletedAt = time.Now()
		if rec := recover(); rec != nil {
			r.logger.Error("assistant panicked", "task_id", task.TaskID, "recover", rec)
			result.Success = false
			result.ErrorMessage = fmt.Sprintf("panic: %v", rec)
			result.Category = "Panic"
		}
	}()

	sessionID := "assistant-" + uuid.NewString()
	systemPrompt := buildSystemPrompt(params.AssistantIndex, task)

	handle, err := r.gw.Create(ctx, gateway.CreateParams{
		SessionID:        sessionID,
		Model:            params.Model,
		WorkingDirectory: params.WorkingDirectory,
		SystemPrompt:     systemPrompt,
		EnabledTools:     params.EnabledTools,
	})
	if err != nil {
		result.Success = false
		result.ErrorMessage = err.Error()
		result.Category = categorizeGatewayError(err)
		return result
	}

	defer func() {
		// Always terminate on exit; failure to terminate is a soft warning.
		termCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.gw.Terminate(termCtx, handle); err != nil {
			r.logger.Warn("failed to terminate assistant session", "task_id", task.TaskID, "error", err)
		}
	}()

	prompt := task.Prompt
	if params.RetryContext != nil {
		prompt = buildRetryPreamble(*params.RetryContext) + "\n\n" + prompt
	}

	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stream, err := r.gw.Send(sendCtx, handle, prompt, timeout)
	if err != nil {
		result.Success = false
		result.ErrorMessage = err.Error()
		result.Category = categorizeGatewayError(err)
		return result
	}

	var response strings.Builder
	var actionsTaken []string
	var streamErr error
	openTools := map[string]bool{}

consume:
	for {
		select {
		case <-ctx.Done():
			_ = r.gw.Abort(context.Background(), handle)
			result.Success = false
			result.ErrorMessage = "cancelled"
			result.Category = "Cancelled"
			return result
		case ev, ok := <-stream:
			if !ok {
				break consume
			}
			switch ev.Kind {
			case gateway.EventTextDelta:
				response.WriteString(ev.Text)
				if onProgress != nil {
					onProgress(ev.Text)
				}
			case gateway.EventToolStart:
				openTools[ev.ToolID] = true
				actionsTaken = append(actionsTaken, "used tool: "+ev.ToolName)
			case gateway.EventToolEnd:
				delete(openTools, ev.ToolID)
			case gateway.EventStreamError:
				streamErr = ev.Err
			case gateway.EventIdle:
				break consume
			}
		}
	}

	if sendCtx.Err() != nil {
		_ = r.gw.Abort(context.Background(), handle)
		result.Success = false
		result.ErrorMessage = fmt.Sprintf("assistant timed out after %s", timeout)
		result.Category = "Timeout"
		return result
	}

	if streamErr != nil {
		result.Success = false
		result.ErrorMessage = streamErr.Error()
		result.Category = categorizeGatewayError(streamErr)
		result.Response = truncate(response.String(), maxTruncatedResponse)
		return result
	}

	text := response.String()
	result.Response = text
	if bullets := extractActionsFromBullets(text); len(bullets) > 0 {
		actionsTaken = append(actionsTaken, bullets...)
	}
	result.ActionsTaken = actionsTaken
	result.Summary = extractSummary(text)

	if fatalErrorPattern.MatchString(text) {
		result.Success = false
		result.ErrorMessage = "response matched fatal-error indicator pattern"
		result.Category = "AgentReportedFailure"
		return result
	}

	result.Success = true
	return result
}

func buildSystemPrompt(index int, task model.AssistantTask) string {
	var meta strings.Builder
	first := true
	for k, v := range task.Metadata {
		if !first {
			meta.WriteString(", ")
		}
		fmt.Fprintf(&meta, "%s=%s", k, v)
		first = false
	}
	return fmt.Sprintf(
		"You are Assistant #%d in an autonomous operations center. "+
			"Your task: %s. Category: %s. Context: %s. "+
			"Complete the task and report: findings, actions taken, outcome, recommendations.",
		index, task.Title, task.Category, meta.String(),
	)
}

func buildRetryPreamble(rc RetryContext) string {
	return fmt.Sprintf(
		"RETRY CONTEXT: the previous attempt failed with error: %s\nPrevious response (truncated): %s",
		rc.PreviousError, truncate(rc.PreviousResponse, maxTruncatedResponse),
	)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

func extractSummary(text string) string {
	if m := summaryHeading.FindStringSubmatch(text); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	paragraphs := strings.SplitN(strings.TrimSpace(text), "\n\n", 2)
	if len(paragraphs) > 0 {
		return strings.TrimSpace(paragraphs[0])
	}
	return ""
}

func extractActionsFromBullets(text string) []string {
	matches := bulletLine.FindAllStringSubmatch(text, -1)
	actions := make([]string, 0, len(matches))
	for _, m := range matches {
		actions = append(actions, strings.TrimSpace(m[1]))
	}
	return actions
}

func categorizeGatewayError(err error) string {
	switch {
	case gateway.IsTransient(err):
		return "TransientGatewayError"
	case gateway.IsFatal(err):
		return "FatalGatewayError"
	default:
		return "Unknown"
	}
}
