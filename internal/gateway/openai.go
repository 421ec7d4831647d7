package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAIGateway.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

// openaiHandle pins a session to an OpenAI model and accumulates the
// message history the Chat Completions API needs for multi-turn context.
type openaiHandle struct {
	id           string
	model        string
	systemPrompt string

	mu       sync.Mutex
	history  []openai.ChatCompletionMessage
	cancel   context.CancelFunc
	inFlight bool
}

// ID returns the session identifier.
func (h *openaiHandle) ID() string { return h.id }

// OpenAIGateway implements Gateway against the OpenAI Chat Completions API.
type OpenAIGateway struct {
	client *openai.Client
}

// NewOpenAIGateway builds a Gateway backed by the go-openai SDK.
func NewOpenAIGateway(cfg OpenAIConfig) (*OpenAIGateway, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gateway: openai API key is required")
	}
	conf := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		conf.BaseURL = cfg.BaseURL
	}
	return &OpenAIGateway{client: openai.NewClientWithConfig(conf)}, nil
}

// Create opens a new OpenAI-backed session handle. The Chat Completions API
// is stateless, so Create only validates parameters and primes local state.
func (g *OpenAIGateway) Create(_ context.Context, params CreateParams) (Handle, error) {
	if params.SessionID == "" {
		return nil, &FatalError{Cause: errors.New("session_id is required")}
	}
	model := params.Model
	if model == "" {
		model = openai.GPT4o
	}
	h := &openaiHandle{id: params.SessionID, model: model, systemPrompt: params.SystemPrompt}
	if params.SystemPrompt != "" {
		h.history = append(h.history, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: params.SystemPrompt,
		})
	}
	return h, nil
}

// Send issues prompt against the session and streams back TextDelta events
// terminated by Idle or StreamError, per the Gateway contract.
func (g *OpenAIGateway) Send(ctx context.Context, handle Handle, prompt string, timeout time.Duration) (<-chan StreamEvent, error) {
	h, ok := handle.(*openaiHandle)
	if !ok {
		return nil, &FatalError{Cause: errors.New("handle is not an openai session")}
	}

	h.mu.Lock()
	if h.inFlight {
		h.mu.Unlock()
		return nil, &FatalError{Cause: errors.New("send already in flight on this handle")}
	}
	h.inFlight = true
	h.history = append(h.history, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})
	messages := append([]openai.ChatCompletionMessage(nil), h.history...)
	h.mu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()

	stream, err := g.client.CreateChatCompletionStream(sendCtx, openai.ChatCompletionRequest{
		Model:    h.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		cancel()
		h.mu.Lock()
		h.inFlight = false
		h.mu.Unlock()
		return nil, classifyOpenAIError(err)
	}

	out := make(chan StreamEvent, 16)
	go func() {
		defer cancel()
		defer close(out)
		defer stream.Close()
		defer func() {
			h.mu.Lock()
			h.inFlight = false
			h.mu.Unlock()
		}()

		var response strings.Builder
		for {
			resp, err := stream.Recv()
			if err != nil {
				if err == io.EOF {
					break
				}
				out <- StreamEvent{Kind: EventStreamError, Err: classifyOpenAIError(err)}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if delta := resp.Choices[0].Delta.Content; delta != "" {
				response.WriteString(delta)
				out <- StreamEvent{Kind: EventTextDelta, Text: delta}
			}
			for _, tc := range resp.Choices[0].Delta.ToolCalls {
				if tc.Function.Name != "" {
					out <- StreamEvent{Kind: EventToolStart, ToolName: tc.Function.Name, ToolID: tc.ID}
				}
			}
		}

		h.mu.Lock()
		h.history = append(h.history, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: response.String(),
		})
		h.mu.Unlock()

		out <- StreamEvent{Kind: EventIdle}
	}()

	return out, nil
}

// Abort cancels the in-flight send on handle, if any.
func (g *OpenAIGateway) Abort(_ context.Context, handle Handle) error {
	h, ok := handle.(*openaiHandle)
	if !ok {
		return &FatalError{Cause: errors.New("handle is not an openai session")}
	}
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Terminate releases the session. Idempotent.
func (g *OpenAIGateway) Terminate(_ context.Context, handle Handle) error {
	h, ok := handle.(*openaiHandle)
	if !ok {
		return &FatalError{Cause: errors.New("handle is not an openai session")}
	}
	h.mu.Lock()
	h.history = nil
	h.mu.Unlock()
	return nil
}

func classifyOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	retryable := strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded")
	if retryable {
		return &TransientError{Cause: err}
	}
	return &FatalError{Cause: fmt.Errorf("openai: %w", err)}
}
