package assistant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opscoredev/core/internal/gateway"
	"github.com/opscoredev/core/pkg/model"
)

func TestRunSuccess(t *testing.T) {
	gw := gateway.NewFakeGateway(gateway.ScriptedResponse{
		Text:      "Investigated the alert.\n\n## Summary\nNo action needed.\n- checked logs\n- verified metrics",
		ToolCalls: []string{"search_logs"},
	})
	runner := NewRunner(gw, nil)

	task := model.AssistantTask{TaskID: "t1", Title: "Investigate alert", Category: "ops"}
	result := runner.Run(context.Background(), task, Params{AssistantIndex: 1, Timeout: time.Second}, nil)

	if !result.Success {
		t.Fatalf("expected success, got error: %s", result.ErrorMessage)
	}
	if result.Summary != "No action needed." {
		t.Errorf("Summary = %q, want %q", result.Summary, "No action needed.")
	}
	if len(result.ActionsTaken) == 0 {
		t.Error("expected actions_taken to be populated")
	}
	if got := gw.TerminatedSessions(); len(got) != 1 {
		t.Errorf("expected exactly one terminated session, got %d", len(got))
	}
}

func TestRunFatalErrorPatternFails(t *testing.T) {
	gw := gateway.NewFakeGateway(gateway.ScriptedResponse{Text: "Error: could not reach the service"})
	runner := NewRunner(gw, nil)

	result := runner.Run(context.Background(), model.AssistantTask{TaskID: "t1"}, Params{Timeout: time.Second}, nil)

	if result.Success {
		t.Fatal("expected failure for a response matching the fatal-error pattern")
	}
	if result.Category != "AgentReportedFailure" {
		t.Errorf("Category = %q, want AgentReportedFailure", result.Category)
	}
}

func TestRunStreamErrorFails(t *testing.T) {
	gw := gateway.NewFakeGateway(gateway.ScriptedResponse{StreamErr: errors.New("rate_limit exceeded")})
	runner := NewRunner(gw, nil)

	result := runner.Run(context.Background(), model.AssistantTask{TaskID: "t1"}, Params{Timeout: time.Second}, nil)

	if result.Success {
		t.Fatal("expected failure on stream error")
	}
	if result.Category != "Unknown" && result.Category != "TransientGatewayError" {
		t.Errorf("Category = %q, want a gateway-error category", result.Category)
	}
}

func TestRunTimeoutCancelsAndMarksFailed(t *testing.T) {
	gw := gateway.NewFakeGateway(gateway.ScriptedResponse{Text: "slow", Delay: 200 * time.Millisecond})
	runner := NewRunner(gw, nil)

	result := runner.Run(context.Background(), model.AssistantTask{TaskID: "t1"}, Params{Timeout: 20 * time.Millisecond}, nil)

	if result.Success {
		t.Fatal("expected timeout failure")
	}
	if result.Category != "Timeout" {
		t.Errorf("Category = %q, want Timeout", result.Category)
	}
	if got := gw.AbortedSessions(); len(got) != 1 {
		t.Errorf("expected abort to be called on timeout, got %d aborts", len(got))
	}
}

func TestRunAlwaysTerminatesEvenOnFailure(t *testing.T) {
	gw := gateway.NewFakeGateway(gateway.ScriptedResponse{StreamErr: errors.New("boom")})
	runner := NewRunner(gw, nil)

	_ = runner.Run(context.Background(), model.AssistantTask{TaskID: "t1"}, Params{Timeout: time.Second}, nil)

	if got := gw.TerminatedSessions(); len(got) != 1 {
		t.Errorf("expected termination even on failure, got %d", len(got))
	}
}

func TestRunReportsProgressDeltas(t *testing.T) {
	gw := gateway.NewFakeGateway(gateway.ScriptedResponse{Text: "partial output"})
	runner := NewRunner(gw, nil)

	var deltas []string
	runner.Run(context.Background(), model.AssistantTask{TaskID: "t1"}, Params{Timeout: time.Second}, func(d string) {
		deltas = append(deltas, d)
	})

	if len(deltas) == 0 {
		t.Error("expected at least one progress delta")
	}
}

func TestSystemPromptIncludesIndexTitleAndCategory(t *testing.T) {
	prompt := buildSystemPrompt(3, model.AssistantTask{Title: "Patch CVE", Category: "security"})
	if !contains(prompt, "Assistant #3") || !contains(prompt, "Patch CVE") || !contains(prompt, "security") {
		t.Errorf("system prompt missing expected fields: %s", prompt)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (len(needle) == 0 || indexOf(haystack, needle) >= 0)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
