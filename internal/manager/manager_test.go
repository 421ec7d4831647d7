package manager

import (
	"context"
	"testing"
	"time"

	"github.com/opscoredev/core/internal/gateway"
	"github.com/opscoredev/core/pkg/model"
)

func newTestManager(t *testing.T, responses ...gateway.ScriptedResponse) (*Manager, *gateway.FakeGateway) {
	t.Helper()
	gw := gateway.NewFakeGateway(responses...)
	m := New(gw, "manager-test", "", time.Second, nil)
	if err := m.Start(context.Background(), "mgr-1", "system"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return m, gw
}

func TestClarifyReadyToPlan(t *testing.T) {
	m, _ := newTestManager(t, gateway.ScriptedResponse{Text: "READY_TO_PLAN"})
	ready, _, err := m.Clarify(context.Background(), "investigate outages")
	if err != nil {
		t.Fatalf("Clarify: %v", err)
	}
	if !ready {
		t.Error("expected ready=true")
	}
}

func TestClarifyAsksQuestion(t *testing.T) {
	m, _ := newTestManager(t, gateway.ScriptedResponse{Text: "Which environment should I focus on?"})
	ready, question, err := m.Clarify(context.Background(), "investigate outages")
	if err != nil {
		t.Fatalf("Clarify: %v", err)
	}
	if ready {
		t.Error("expected ready=false")
	}
	if question == "" {
		t.Error("expected a clarification question")
	}
}

func TestFetchEventsParsesJSON(t *testing.T) {
	m, _ := newTestManager(t, gateway.ScriptedResponse{
		Text: `Sure, here you go: {"events_found": true, "events": [{"event_id": "e1", "title": "disk full", "priority": 3}], "commentary": "found one"}`,
	})
	result, err := m.FetchEvents(context.Background(), 1)
	if err != nil {
		t.Fatalf("FetchEvents: %v", err)
	}
	if !result.EventsFound || len(result.Events) != 1 || result.Events[0].EventID != "e1" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestFetchEventsRetriesOnceThenGivesZero(t *testing.T) {
	m, _ := newTestManager(t,
		gateway.ScriptedResponse{Text: "not json at all"},
		gateway.ScriptedResponse{Text: "still not json"},
	)
	result, err := m.FetchEvents(context.Background(), 1)
	if err != nil {
		t.Fatalf("FetchEvents: %v", err)
	}
	if result.EventsFound {
		t.Error("expected zero events after two parse failures")
	}
}

func TestAggregateExtractsLearningsAndDedupes(t *testing.T) {
	m, _ := newTestManager(t, gateway.ScriptedResponse{
		Text: "Report body.\n\n## Recommendations\nScale up workers.\n\nLEARNING: disk alerts need lower threshold\nLEARNING: existing learning repeated",
	})
	results := []model.AssistantResult{{TaskID: "t1", Success: true}}
	agg, err := m.Aggregate(context.Background(), 1, results, []string{"existing learning repeated"})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(agg.NewLearnings) != 1 || agg.NewLearnings[0] != "disk alerts need lower threshold" {
		t.Errorf("expected exactly one deduped new learning, got %v", agg.NewLearnings)
	}
	if agg.Recommendations == "" {
		t.Error("expected a Recommendations section to be extracted")
	}
}

func TestEvaluateClarityParsesClearAndClarify(t *testing.T) {
	m, _ := newTestManager(t, gateway.ScriptedResponse{Text: "CLEAR"})
	v, err := m.EvaluateClarity(context.Background(), "restart the service")
	if err != nil {
		t.Fatalf("EvaluateClarity: %v", err)
	}
	if !v.Clear {
		t.Error("expected clear=true")
	}
}

func TestEvaluateClarityAsksForClarification(t *testing.T) {
	m, _ := newTestManager(t, gateway.ScriptedResponse{Text: "CLARIFY: which service do you mean?"})
	v, err := m.EvaluateClarity(context.Background(), "restart it")
	if err != nil {
		t.Fatalf("EvaluateClarity: %v", err)
	}
	if v.Clear {
		t.Error("expected clear=false")
	}
	if v.Question == "" {
		t.Error("expected a clarifying question")
	}
}

func TestSendRejectsConcurrentCalls(t *testing.T) {
	m, _ := newTestManager(t, gateway.ScriptedResponse{Text: "ok", Delay: 100 * time.Millisecond})
	go m.Plan(context.Background())
	time.Sleep(10 * time.Millisecond)
	if _, err := m.Plan(context.Background()); err == nil {
		t.Error("expected a concurrent send to be rejected as a programming error")
	}
}

func TestExtractJSONObjectIgnoresBracesInsideStrings(t *testing.T) {
	text := `prefix {"a": "contains a { brace"} suffix`
	obj, ok := extractJSONObject(text)
	if !ok {
		t.Fatal("expected to find a JSON object")
	}
	if obj != `{"a": "contains a { brace"}` {
		t.Errorf("got %q", obj)
	}
}

func TestMetaQuestionReplyIsSynchronous(t *testing.T) {
	reply := MetaQuestionReply(model.PhaseExecuting, 3, 90*time.Second, []string{"pause", "stop"})
	if reply == "" {
		t.Fatal("expected a non-empty reply")
	}
}
