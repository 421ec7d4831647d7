package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures an AnthropicGateway.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
}

// anthropicHandle pins a session to an Anthropic model and accumulates the
// message history the SDK needs for multi-turn context, since the Anthropic
// API is stateless per call.
type anthropicHandle struct {
	id               string
	model            anthropic.Model
	workingDirectory string
	systemPrompt     string

	mu       sync.Mutex
	history  []anthropic.MessageParam
	cancel   context.CancelFunc
	inFlight bool
}

// ID returns the session identifier.
func (h *anthropicHandle) ID() string { return h.id }

// AnthropicGateway implements Gateway against the Anthropic Messages API.
type AnthropicGateway struct {
	client anthropic.Client
}

// NewAnthropicGateway builds a Gateway backed by the Anthropic SDK.
func NewAnthropicGateway(cfg AnthropicConfig) (*AnthropicGateway, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gateway: anthropic API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicGateway{client: anthropic.NewClient(opts...)}, nil
}

// Create opens a new Anthropic-backed session handle. The Anthropic API is
// stateless, so Create only validates parameters and primes local state;
// the actual API call happens on the first Send.
func (g *AnthropicGateway) Create(_ context.Context, params CreateParams) (Handle, error) {
	if params.SessionID == "" {
		return nil, &FatalError{Cause: errors.New("session_id is required")}
	}
	model := params.Model
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}
	return &anthropicHandle{
		id:               params.SessionID,
		model:            anthropic.Model(model),
		workingDirectory: params.WorkingDirectory,
		systemPrompt:     params.SystemPrompt,
	}, nil
}

// Send issues prompt against the session and streams back TextDelta events
// terminated by Idle or StreamError, per the Gateway contract.
func (g *AnthropicGateway) Send(ctx context.Context, handle Handle, prompt string, timeout time.Duration) (<-chan StreamEvent, error) {
	h, ok := handle.(*anthropicHandle)
	if !ok {
		return nil, &FatalError{Cause: errors.New("handle is not an anthropic session")}
	}

	h.mu.Lock()
	if h.inFlight {
		h.mu.Unlock()
		return nil, &FatalError{Cause: errors.New("send already in flight on this handle")}
	}
	h.inFlight = true
	h.history = append(h.history, anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))
	messages := append([]anthropic.MessageParam(nil), h.history...)
	h.mu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()

	params := anthropic.MessageNewParams{
		Model:     h.model,
		Messages:  messages,
		MaxTokens: 4096,
	}
	if h.systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: h.systemPrompt}}
	}

	stream := g.client.Messages.NewStreaming(sendCtx, params)

	out := make(chan StreamEvent, 16)
	go func() {
		defer cancel()
		defer close(out)
		defer func() {
			h.mu.Lock()
			h.inFlight = false
			h.mu.Unlock()
		}()

		var response strings.Builder
		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if text := variant.Delta.Text; text != "" {
					response.WriteString(text)
					out <- StreamEvent{Kind: EventTextDelta, Text: text}
				}
			case anthropic.ContentBlockStartEvent:
				if variant.ContentBlock.AsAny() != nil {
					if tu, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
						out <- StreamEvent{Kind: EventToolStart, ToolName: tu.Name, ToolID: tu.ID}
					}
				}
			case anthropic.ContentBlockStopEvent:
				// Tool-use completion is signalled without a distinct ID in this
				// event; ToolEnd correlation for streamed tool calls is handled
				// by the Assistant Agent via its own accumulation if needed.
			}
		}
		if err := stream.Err(); err != nil {
			out <- StreamEvent{Kind: EventStreamError, Err: classifyAnthropicError(err)}
			return
		}

		h.mu.Lock()
		h.history = append(h.history, anthropic.NewAssistantMessage(anthropic.NewTextBlock(response.String())))
		h.mu.Unlock()

		out <- StreamEvent{Kind: EventIdle}
	}()

	return out, nil
}

// Abort cancels the in-flight send on handle, if any.
func (g *AnthropicGateway) Abort(_ context.Context, handle Handle) error {
	h, ok := handle.(*anthropicHandle)
	if !ok {
		return &FatalError{Cause: errors.New("handle is not an anthropic session")}
	}
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Terminate releases the session. Idempotent: the Anthropic API holds no
// server-side session state to release.
func (g *AnthropicGateway) Terminate(_ context.Context, handle Handle) error {
	h, ok := handle.(*anthropicHandle)
	if !ok {
		return &FatalError{Cause: errors.New("handle is not an anthropic session")}
	}
	h.mu.Lock()
	h.history = nil
	h.mu.Unlock()
	return nil
}

// classifyAnthropicError maps SDK errors into the Gateway's Transient/Fatal
// taxonomy using the same substring classification the teacher's provider
// layer uses ahead of a structured error type being available.
func classifyAnthropicError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	retryable := strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused")
	if retryable {
		return &TransientError{Cause: err}
	}
	return &FatalError{Cause: fmt.Errorf("anthropic: %w", err)}
}
