package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/hyperloop/internal/version"
)

// DefaultOllamaURL is the address Ollama listens on by default.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaClient talks to the Ollama chat API (POST /api/chat).
type OllamaClient struct {
	baseURL      string
	defaultModel string
	client       *http.Client
}

// NewOllamaClient creates a client for the Ollama server at baseURL.
// defaultModel is used when a request names no model. Request deadlines
// come from the caller's context.
func NewOllamaClient(baseURL, defaultModel string) *OllamaClient {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &OllamaClient{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{},
	}
}

// Name returns the provider name.
func (o *OllamaClient) Name() string { return "ollama" }


type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	DoneReason      string  `json:"done_reason,omitempty"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
	Error           string  `json:"error,omitempty"`
}

func (o *OllamaClient) buildRequest(req CompletionRequest, stream bool) ollamaChatRequest {
	model := req.Model
	if model == "" {
		model = o.defaultModel
	}

	msgs := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: req.System})
	}
	msgs = append(msgs, req.Messages...)

	opts := map[string]any{}
	if req.ContextSize > 0 {
		opts["num_ctx"] = req.ContextSize
	}
	if req.Temperature != nil {
		opts["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if len(opts) == 0 {
		opts = nil
	}

	return ollamaChatRequest{Model: model, Messages: msgs, Stream: stream, Options: opts}
}

func (o *OllamaClient) post(ctx context.Context, body ollamaChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &ProviderError{Provider: o.Name(), Code: resp.StatusCode, Message: apiErrorMessage(respBody)}
	}
	return resp, nil
}

// apiErrorMessage extracts {"error": "..."} from an error body, falling back
// to the raw text.
func apiErrorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

// Complete sends a non-streaming chat request.
func (o *OllamaClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	body := o.buildRequest(req, false)
	resp, err := o.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if result.Error != "" {
		return nil, &ProviderError{Provider: o.Name(), Message: result.Error}
	}

	model := result.Model
	if model == "" {
		model = body.Model
	}
	return &CompletionResponse{
		Content:    result.Message.Content,
		StopReason: result.DoneReason,
		Model:      model,
		Usage:      Usage{InputTokens: result.PromptEvalCount, OutputTokens: result.EvalCount},
		Duration:   time.Since(start),
	}, nil
}

// Stream sends a streaming chat request. The channel carries "delta" events
// followed by one "done" or "error" event, then closes.
func (o *OllamaClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	body := o.buildRequest(req, true)
	resp, err := o.post(ctx, body)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent, 64)
	go o.streamResponse(ctx, resp, body.Model, ch)
	return ch, nil
}

func (o *OllamaClient) streamResponse(ctx context.Context, resp *http.Response, model string, ch chan<- StreamEvent) {
	defer close(ch)
	defer resp.Body.Close()

	start := time.Now()
	send := func(ev StreamEvent) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var chunk ollamaChatResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			send(StreamEvent{Type: "error", Error: chunk.Error})
			return
		}
		if chunk.Message.Content != "" {
			full.WriteString(chunk.Message.Content)
			if !send(StreamEvent{Type: "delta", Content: chunk.Message.Content}) {
				return
			}
		}
		if chunk.Done {
			if chunk.Model != "" {
				model = chunk.Model
			}
			send(StreamEvent{Type: "done", Response: &CompletionResponse{
				Content:    full.String(),
				StopReason: chunk.DoneReason,
				Model:      model,
				Usage:      Usage{InputTokens: chunk.PromptEvalCount, OutputTokens: chunk.EvalCount},
				Duration:   time.Since(start),
			}})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		send(StreamEvent{Type: "error", Error: fmt.Sprintf("reading stream: %v", err)})
		return
	}
	send(StreamEvent{Type: "error", Error: "stream ended before completion"})
}
