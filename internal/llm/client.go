// Package llm defines the chat client interface used by agents and the
// Ollama HTTP implementation behind it.
package llm

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Role constants for messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to a Complete or Stream call.
type CompletionRequest struct {
	Model       string    `json:"model,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"maxTokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	ContextSize int       `json:"contextSize,omitempty"` // context window in tokens; 0 keeps the runtime default
}

// CompletionResponse is the result of a non-streaming completion.
type CompletionResponse struct {
	Content    string        `json:"content"`
	StopReason string        `json:"stopReason,omitempty"`
	Usage      Usage         `json:"usage"`
	Model      string        `json:"model,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// StreamEvent is a chunk from a streaming completion.
type StreamEvent struct {
	Type    string `json:"type"`              // "delta", "done", "error"
	Content string `json:"content,omitempty"` // text delta
	Error   string `json:"error,omitempty"`   // error message (type="error")

	// Final fields (type="done")
	Response *CompletionResponse `json:"response,omitempty"`
}

// Client is the interface all LLM providers must implement.
type Client interface {
	// Complete sends a request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Stream sends a request and returns a channel of streaming events.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)

	// Name returns the provider name (e.g., "ollama").
	Name() string
}

// Collect drains a stream, passing each delta to onDelta (which may be nil),
// and returns the final response. A stream that closes without a "done"
// event is an error.
func Collect(ctx context.Context, ch <-chan StreamEvent, onDelta func(string)) (*CompletionResponse, error) {
	var text strings.Builder
	for ev := range ch {
		switch ev.Type {
		case "delta":
			text.WriteString(ev.Content)
			if onDelta != nil {
				onDelta(ev.Content)
			}
		case "error":
			return nil, errors.New("stream: " + ev.Error)
		case "done":
			if ev.Response == nil {
				return &CompletionResponse{Content: text.String()}, nil
			}
			return ev.Response, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("stream closed before completion")
}
