package gateway

import (
	"context"
	"sync"
	"time"
)

// FakeHandle is the Handle implementation FakeGateway hands out.
type FakeHandle struct {
	sessionID string
}

// ID returns the session identifier.
func (h *FakeHandle) ID() string { return h.sessionID }

// ScriptedResponse describes one canned reply FakeGateway returns from Send,
// in the order FakeGateway.Script was populated (or, with Responder set, the
// Responder computes the reply dynamically from the most recent prompt).
type ScriptedResponse struct {
	Text      string
	StreamErr error
	CreateErr error
	ToolCalls []string
	Delay     time.Duration
}

// FakeGateway is a deterministic, in-memory Gateway used by tests across the
// Assistant, Pool, Manager, and Orchestrator packages so they can be
// exercised without a live LLM backend.
type FakeGateway struct {
	mu         sync.Mutex
	script     []ScriptedResponse
	next       int
	Responder  func(sessionID, prompt string) ScriptedResponse
	created    []CreateParams
	aborted    []string
	terminated []string
}

// NewFakeGateway returns a FakeGateway that replies with the given script,
// one entry per Send call; once exhausted, further calls replay the last
// entry, or return a plain "Idle" success if Script is empty.
func NewFakeGateway(script ...ScriptedResponse) *FakeGateway {
	return &FakeGateway{script: script}
}

// Create records the request and returns a FakeHandle.
func (g *FakeGateway) Create(_ context.Context, params CreateParams) (Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, params)
	return &FakeHandle{sessionID: params.SessionID}, nil
}

// Send replays the next scripted response, or asks Responder for one.
func (g *FakeGateway) Send(ctx context.Context, handle Handle, prompt string, _ time.Duration) (<-chan StreamEvent, error) {
	h, _ := handle.(*FakeHandle)
	sessionID := ""
	if h != nil {
		sessionID = h.ID()
	}

	g.mu.Lock()
	var resp ScriptedResponse
	if g.Responder != nil {
		resp = g.Responder(sessionID, prompt)
	} else if len(g.script) > 0 {
		idx := g.next
		if idx >= len(g.script) {
			idx = len(g.script) - 1
		} else {
			g.next++
		}
		resp = g.script[idx]
	}
	g.mu.Unlock()

	if resp.CreateErr != nil {
		return nil, resp.CreateErr
	}

	out := make(chan StreamEvent, len(resp.ToolCalls)+2)
	go func() {
		defer close(out)
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-ctx.Done():
				out <- StreamEvent{Kind: EventStreamError, Err: ctx.Err()}
				return
			}
		}
		for _, name := range resp.ToolCalls {
			out <- StreamEvent{Kind: EventToolStart, ToolName: name, ToolID: name}
			out <- StreamEvent{Kind: EventToolEnd, ToolName: name, ToolID: name}
		}
		if resp.Text != "" {
			out <- StreamEvent{Kind: EventTextDelta, Text: resp.Text}
		}
		if resp.StreamErr != nil {
			out <- StreamEvent{Kind: EventStreamError, Err: resp.StreamErr}
			return
		}
		out <- StreamEvent{Kind: EventIdle}
	}()
	return out, nil
}

// Abort records the abort call; FakeGateway sends are synchronous enough
// that aborting rarely changes behavior, but callers can assert on it.
func (g *FakeGateway) Abort(_ context.Context, handle Handle) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if h, ok := handle.(*FakeHandle); ok {
		g.aborted = append(g.aborted, h.ID())
	}
	return nil
}

// Terminate records the terminate call.
func (g *FakeGateway) Terminate(_ context.Context, handle Handle) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if h, ok := handle.(*FakeHandle); ok {
		g.terminated = append(g.terminated, h.ID())
	}
	return nil
}

// Created returns a copy of every Create call observed so far.
func (g *FakeGateway) Created() []CreateParams {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]CreateParams(nil), g.created...)
}

// TerminatedSessions returns every session ID Terminate was called with.
func (g *FakeGateway) TerminatedSessions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.terminated...)
}

// AbortedSessions returns every session ID Abort was called with.
func (g *FakeGateway) AbortedSessions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.aborted...)
}
