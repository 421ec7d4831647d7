package pool

import (
	"context"
	"testing"
	"time"

	"github.com/opscoredev/core/internal/assistant"
	"github.com/opscoredev/core/internal/backoff"
	"github.com/opscoredev/core/internal/gateway"
	"github.com/opscoredev/core/pkg/model"
)

func TestExecuteBatchRunsAllTasksConcurrently(t *testing.T) {
	gw := gateway.NewFakeGateway(gateway.ScriptedResponse{Text: "done"})
	runner := assistant.NewRunner(gw, nil)
	cfg := DefaultConfig()
	cfg.MaxAssistants = 2
	p := New(cfg, runner, nil, nil)

	tasks := []model.AssistantTask{
		{TaskID: "a", Title: "A", Priority: 1, CreatedAt: time.Now()},
		{TaskID: "b", Title: "B", Priority: 1, CreatedAt: time.Now().Add(time.Millisecond)},
		{TaskID: "c", Title: "C", Priority: 5, CreatedAt: time.Now().Add(2 * time.Millisecond)},
	}

	results, decisions := p.ExecuteBatch(context.Background(), tasks)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Success {
			t.Errorf("task %s expected success, got error %s", r.TaskID, r.ErrorMessage)
		}
	}
	if len(decisions) == 0 {
		t.Error("expected a non-empty scheduling log")
	}
}

func TestExecuteBatchRetriesOnFailureThenSucceeds(t *testing.T) {
	gw := gateway.NewFakeGateway(
		gateway.ScriptedResponse{Text: "Error: transient hiccup"},
		gateway.ScriptedResponse{Text: "recovered fine"},
	)
	runner := assistant.NewRunner(gw, nil)
	cfg := DefaultConfig()
	cfg.MaxAssistants = 1
	cfg.MaxRetries = 2
	cfg.RetryPolicy = backoff.BackoffPolicy{InitialMs: 1, MaxMs: 2, Factor: 1, Jitter: 0}
	p := New(cfg, runner, nil, nil)

	task := model.AssistantTask{TaskID: "retry-me", Title: "Retry", CreatedAt: time.Now()}
	results, decisions := p.ExecuteBatch(context.Background(), []model.AssistantTask{task})

	if len(results) != 1 || !results[0].Success {
		t.Fatalf("expected eventual success, got %+v", results)
	}

	foundRetry := false
	for _, d := range decisions {
		if d.Action == model.ActionRetried {
			foundRetry = true
		}
	}
	if !foundRetry {
		t.Error("expected a retried scheduling decision")
	}
}

// TestExecuteBatchAppliesQueueDepthLimit exercises the boundary in terms of
// running (MaxAssistants) plus waiting (MaxQueueDepth) slots combined: with
// MaxAssistants=2 and MaxQueueDepth=2 the batch accommodates 4 tasks, so a
// 5-task batch must cancel exactly the single lowest-priority overflow task.
func TestExecuteBatchAppliesQueueDepthLimit(t *testing.T) {
	gw := gateway.NewFakeGateway(gateway.ScriptedResponse{Text: "done"})
	runner := assistant.NewRunner(gw, nil)
	cfg := DefaultConfig()
	cfg.MaxAssistants = 2
	cfg.MaxQueueDepth = 2
	p := New(cfg, runner, nil, nil)

	tasks := []model.AssistantTask{
		{TaskID: "p1", Title: "P1", Priority: 10, CreatedAt: time.Now()},
		{TaskID: "p2", Title: "P2", Priority: 8, CreatedAt: time.Now().Add(time.Millisecond)},
		{TaskID: "p3", Title: "P3", Priority: 6, CreatedAt: time.Now().Add(2 * time.Millisecond)},
		{TaskID: "p4", Title: "P4", Priority: 4, CreatedAt: time.Now().Add(3 * time.Millisecond)},
		{TaskID: "low", Title: "Low", Priority: 1, CreatedAt: time.Now().Add(4 * time.Millisecond)},
	}

	results, decisions := p.ExecuteBatch(context.Background(), tasks)
	if len(results) != 4 {
		t.Fatalf("expected queue depth to cap results at MaxQueueDepth+MaxAssistants=4, got %d", len(results))
	}

	foundOverflowCancel := false
	for _, d := range decisions {
		if d.TaskID == "low" && d.Action == model.ActionCancelled && d.Reason == "queue depth limit" {
			foundOverflowCancel = true
		}
	}
	if !foundOverflowCancel {
		t.Error("expected the lowest-priority task to be cancelled for exceeding queue depth")
	}
}

// TestExecuteBatchWithinQueueDepthLimitRunsAll confirms a batch that fits
// within MaxQueueDepth+MaxAssistants produces zero cancellations, even
// though the task count exceeds MaxQueueDepth alone.
func TestExecuteBatchWithinQueueDepthLimitRunsAll(t *testing.T) {
	gw := gateway.NewFakeGateway(gateway.ScriptedResponse{Text: "done"})
	runner := assistant.NewRunner(gw, nil)
	cfg := DefaultConfig()
	cfg.MaxAssistants = 2
	cfg.MaxQueueDepth = 2
	p := New(cfg, runner, nil, nil)

	tasks := []model.AssistantTask{
		{TaskID: "a", Title: "A", Priority: 3, CreatedAt: time.Now()},
		{TaskID: "b", Title: "B", Priority: 2, CreatedAt: time.Now().Add(time.Millisecond)},
		{TaskID: "c", Title: "C", Priority: 1, CreatedAt: time.Now().Add(2 * time.Millisecond)},
	}

	results, decisions := p.ExecuteBatch(context.Background(), tasks)
	if len(results) != 3 {
		t.Fatalf("expected all 3 tasks to run (3 <= MaxQueueDepth+MaxAssistants=4), got %d results", len(results))
	}
	for _, d := range decisions {
		if d.Action == model.ActionCancelled && d.Reason == "queue depth limit" {
			t.Errorf("did not expect a queue depth cancellation, got one for task %s", d.TaskID)
		}
	}
}

// TestExecuteBatchEmitsAssignedImmediateWhenSlotsFree confirms tasks that
// never have to wait for a free assistant slot are logged as
// ActionAssignedImmediate rather than the queued/dequeued pair.
func TestExecuteBatchEmitsAssignedImmediateWhenSlotsFree(t *testing.T) {
	gw := gateway.NewFakeGateway(gateway.ScriptedResponse{Text: "done"})
	runner := assistant.NewRunner(gw, nil)
	cfg := DefaultConfig()
	cfg.MaxAssistants = 2
	p := New(cfg, runner, nil, nil)

	tasks := []model.AssistantTask{
		{TaskID: "a", Title: "A", Priority: 2, CreatedAt: time.Now()},
		{TaskID: "b", Title: "B", Priority: 1, CreatedAt: time.Now().Add(time.Millisecond)},
	}

	_, decisions := p.ExecuteBatch(context.Background(), tasks)

	immediate := map[string]bool{}
	for _, d := range decisions {
		if d.Action == model.ActionAssignedImmediate {
			immediate[d.TaskID] = true
		}
		if d.Action == model.ActionQueuedPending || d.Action == model.ActionDequeuedAndAssigned {
			t.Errorf("task %s should not have queued, since both slots were free; got action %v", d.TaskID, d.Action)
		}
	}
	if !immediate["a"] || !immediate["b"] {
		t.Errorf("expected both tasks assigned immediately, got decisions %+v", decisions)
	}
}

func TestExecuteBatchCancelsOnContextCancellation(t *testing.T) {
	gw := gateway.NewFakeGateway(gateway.ScriptedResponse{Text: "slow", Delay: 200 * time.Millisecond})
	runner := assistant.NewRunner(gw, nil)
	cfg := DefaultConfig()
	cfg.MaxAssistants = 1
	p := New(cfg, runner, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := []model.AssistantTask{
		{TaskID: "t1", Title: "T1", CreatedAt: time.Now()},
	}
	results, _ := p.ExecuteBatch(ctx, tasks)
	if len(results) != 1 || results[0].Success {
		t.Fatalf("expected cancelled task to fail, got %+v", results)
	}
}

func TestSortedByPriorityThenAge(t *testing.T) {
	now := time.Now()
	tasks := []model.AssistantTask{
		{TaskID: "old-low", Priority: 1, CreatedAt: now},
		{TaskID: "new-high", Priority: 9, CreatedAt: now.Add(time.Second)},
		{TaskID: "new-low", Priority: 1, CreatedAt: now.Add(time.Millisecond)},
	}
	sorted := sortedByPriorityThenAge(tasks)
	if sorted[0].TaskID != "new-high" {
		t.Errorf("expected highest priority first, got %s", sorted[0].TaskID)
	}
	if sorted[1].TaskID != "old-low" || sorted[2].TaskID != "new-low" {
		t.Errorf("expected ties broken by creation time, got order %s, %s", sorted[1].TaskID, sorted[2].TaskID)
	}
}
