package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/opscoredev/core/internal/gateway"
	"github.com/opscoredev/core/pkg/model"
)

func testConfig() model.Config {
	cfg := model.DefaultConfig()
	cfg.Interval = 20 * time.Millisecond
	cfg.MaxAssistants = 1
	cfg.ManagerLLMTimeout = 2 * time.Second
	cfg.AssistantTimeout = 2 * time.Second
	cfg.AutoApprovePlan = true
	return cfg
}

// scriptedGateway returns a FakeGateway whose Responder recognizes the
// Manager's distinct prompt shapes and replies accordingly, falling back to
// a generic successful Assistant result for anything else (i.e. task
// prompts, which don't match any Manager keyword).
func scriptedGateway(eventsOnFirstIteration bool) *gateway.FakeGateway {
	gw := gateway.NewFakeGateway()
	fetchCalls := 0
	gw.Responder = func(sessionID, prompt string) gateway.ScriptedResponse {
		switch {
		case strings.Contains(prompt, "BEGIN CLARIFICATION"):
			return gateway.ScriptedResponse{Text: "READY_TO_PLAN"}
		case strings.Contains(prompt, "CREATE EXECUTION PLAN"):
			return gateway.ScriptedResponse{Text: "Step 1: look for problems. Step 2: fix them."}
		case strings.Contains(prompt, "CHECK FOR EVENTS"):
			fetchCalls++
			if fetchCalls == 1 && eventsOnFirstIteration {
				return gateway.ScriptedResponse{Text: `{"events_found": true, "events": [{"event_id": "e1", "title": "disk full", "priority": 3}]}`}
			}
			return gateway.ScriptedResponse{Text: `{"events_found": false, "events": []}`}
		case strings.Contains(prompt, "AGGREGATE RESULTS"):
			return gateway.ScriptedResponse{Text: "All tasks handled.\n\nLEARNING: disk alerts need a lower threshold"}
		case strings.Contains(prompt, "Compress the following"):
			return gateway.ScriptedResponse{Text: "Summary done.\n- any open question?"}
		case strings.Contains(prompt, "NEW USER INSTRUCTIONS"):
			return gateway.ScriptedResponse{Text: "Acknowledged."}
		case strings.Contains(prompt, "Respond CLEAR"):
			return gateway.ScriptedResponse{Text: "CLEAR"}
		default:
			return gateway.ScriptedResponse{Text: "## Summary\nHandled it."}
		}
	}
	return gw
}

func waitForPhase(t *testing.T, o *Orchestrator, want model.Phase, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if o.Phase() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("phase never reached %s, last seen %s", want, o.Phase())
}

func TestRunReachesRestingAfterOneIteration(t *testing.T) {
	gw := scriptedGateway(true)
	o := New(testConfig(), gw, nil, nil, nil)

	if err := o.Start(context.Background(), "find problems"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitForPhase(t, o, model.PhaseResting, 2*time.Second)

	st := o.Status()
	if st.CompletedIterations != 1 {
		t.Errorf("expected 1 completed iteration, got %d", st.CompletedIterations)
	}
	if len(st.Learnings) != 1 {
		t.Errorf("expected 1 learning recorded, got %v", st.Learnings)
	}
}

func TestStopDrainsToStoppedAndSkipsResting(t *testing.T) {
	gw := scriptedGateway(true)
	o := New(testConfig(), gw, nil, nil, nil)

	if err := o.Start(context.Background(), "find problems"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForPhase(t, o, model.PhaseResting, 2*time.Second)

	if err := o.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitForPhase(t, o, model.PhaseStopped, 2*time.Second)
}

func TestResetReturnsToIdleAndClearsContext(t *testing.T) {
	gw := scriptedGateway(true)
	o := New(testConfig(), gw, nil, nil, nil)

	if err := o.Start(context.Background(), "find problems"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForPhase(t, o, model.PhaseResting, 2*time.Second)

	if err := o.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if o.Phase() != model.PhaseIdle {
		t.Fatalf("expected Idle after reset, got %s", o.Phase())
	}
	if st := o.Status(); st.CompletedIterations != 0 {
		t.Errorf("expected cleared context, got %d completed iterations", st.CompletedIterations)
	}
}

func TestClarifyingAsksThenProceedsOnAnswer(t *testing.T) {
	gw := gateway.NewFakeGateway()
	asked := false
	gw.Responder = func(_, prompt string) gateway.ScriptedResponse {
		switch {
		case strings.Contains(prompt, "BEGIN CLARIFICATION") && !asked:
			asked = true
			return gateway.ScriptedResponse{Text: "Which environment?"}
		case strings.Contains(prompt, "BEGIN CLARIFICATION"):
			return gateway.ScriptedResponse{Text: "READY_TO_PLAN"}
		case strings.Contains(prompt, "CREATE EXECUTION PLAN"):
			return gateway.ScriptedResponse{Text: "plan"}
		case strings.Contains(prompt, "CHECK FOR EVENTS"):
			return gateway.ScriptedResponse{Text: `{"events_found": false}`}
		default:
			return gateway.ScriptedResponse{Text: "ok"}
		}
	}
	o := New(testConfig(), gw, nil, nil, nil)
	if err := o.Start(context.Background(), "investigate"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && asked == false {
		time.Sleep(2 * time.Millisecond)
	}
	if !asked {
		t.Fatal("expected a clarification question to be asked")
	}

	if err := o.UserResponse("staging"); err != nil {
		t.Fatalf("UserResponse: %v", err)
	}
	waitForPhase(t, o, model.PhaseResting, 2*time.Second)
}

func TestRejectPlanReturnsToPlanning(t *testing.T) {
	gw := gateway.NewFakeGateway()
	planCalls := 0
	gw.Responder = func(_, prompt string) gateway.ScriptedResponse {
		switch {
		case strings.Contains(prompt, "BEGIN CLARIFICATION"):
			return gateway.ScriptedResponse{Text: "READY_TO_PLAN"}
		case strings.Contains(prompt, "CREATE EXECUTION PLAN"):
			planCalls++
			return gateway.ScriptedResponse{Text: "plan v" + string(rune('0'+planCalls))}
		case strings.Contains(prompt, "CHECK FOR EVENTS"):
			return gateway.ScriptedResponse{Text: `{"events_found": false}`}
		default:
			return gateway.ScriptedResponse{Text: "ok"}
		}
	}
	cfg := testConfig()
	cfg.AutoApprovePlan = false
	o := New(cfg, gw, nil, nil, nil)
	if err := o.Start(context.Background(), "investigate"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitForPhase(t, o, model.PhaseAwaitingApproval, 2*time.Second)
	if err := o.RejectPlan("too vague"); err != nil {
		t.Fatalf("RejectPlan: %v", err)
	}
	waitForPhase(t, o, model.PhaseAwaitingApproval, 2*time.Second)
	if err := o.ApprovePlan(); err != nil {
		t.Fatalf("ApprovePlan: %v", err)
	}
	waitForPhase(t, o, model.PhaseResting, 2*time.Second)

	if planCalls < 2 {
		t.Errorf("expected at least 2 planning rounds, got %d", planCalls)
	}
}

func TestInjectInstructionWhileRestingQueuesImmediately(t *testing.T) {
	gw := scriptedGateway(false)
	o := New(testConfig(), gw, nil, nil, nil)
	if err := o.Start(context.Background(), "find problems"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForPhase(t, o, model.PhaseResting, 2*time.Second)

	_, queued, err := o.InjectInstruction(context.Background(), "also check the database")
	if err != nil {
		t.Fatalf("InjectInstruction: %v", err)
	}
	if !queued {
		t.Fatal("expected a CLEAR verdict to queue immediately")
	}

	o.mu.RLock()
	pending := len(o.mctx.InjectedInstructions)
	o.mu.RUnlock()
	if pending != 1 {
		t.Errorf("expected 1 pending injected instruction, got %d", pending)
	}
}

func TestMetaQuestionDuringRestingIsSynchronous(t *testing.T) {
	gw := scriptedGateway(false)
	o := New(testConfig(), gw, nil, nil, nil)
	if err := o.Start(context.Background(), "find problems"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForPhase(t, o, model.PhaseResting, 2*time.Second)

	reply, ok := o.MetaQuestion()
	if !ok || reply == "" {
		t.Fatal("expected a synchronous meta-question reply while Resting")
	}
}

func TestPauseThenResumeWakesRestEarly(t *testing.T) {
	cfg := testConfig()
	cfg.Interval = 5 * time.Second // long enough that only Resume ends it
	gw := scriptedGateway(false)
	o := New(cfg, gw, nil, nil, nil)
	if err := o.Start(context.Background(), "find problems"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForPhase(t, o, model.PhaseResting, 2*time.Second)

	before := o.Status().CompletedIterations
	o.Pause(0)
	o.Resume()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && o.Status().CompletedIterations == before {
		time.Sleep(2 * time.Millisecond)
	}
	if o.Status().CompletedIterations == before {
		t.Fatal("expected Resume to wake the rest period and start another iteration")
	}
}
