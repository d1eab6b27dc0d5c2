package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soyeahso/hyperloop/internal/config"
	"github.com/soyeahso/hyperloop/internal/llm"
	"github.com/soyeahso/hyperloop/internal/logging"
	"github.com/soyeahso/hyperloop/internal/model"
	"github.com/soyeahso/hyperloop/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func noSleep(context.Context, time.Duration) error { return nil }

var testSel = model.NewSelection("mistral", []string{"--n_ctx", "8192"}, false)

func TestNew_Validation(t *testing.T) {
	_, err := New("", testSel, &llm.MockClient{}, Options{}, silentLog())
	assert.Error(t, err)

	_, err = New("Scout", testSel, nil, Options{}, silentLog())
	assert.Error(t, err)

	a, err := New("Scout", testSel, &llm.MockClient{}, Options{Persona: "You find things."}, silentLog())
	require.NoError(t, err)
	assert.Equal(t, "Scout", a.Info().Name)
	assert.Equal(t, "mistral", a.Info().Model)
	assert.Contains(t, a.SystemPrompt(), "You are Scout")
	assert.Contains(t, a.SystemPrompt(), "You find things.")
}

func TestAgentRun(t *testing.T) {
	client := &llm.MockClient{
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Content: "on it", Model: req.Model}, nil
		},
	}
	temp := 0.3
	a, err := New("Scout", testSel, client, Options{MaxTokens: 256, Temperature: &temp}, silentLog())
	require.NoError(t, err)

	chat := NewGroupChat()
	out, err := a.Run(context.Background(), chat, "Task for Scout")
	require.NoError(t, err)
	assert.Equal(t, "on it", out)

	msgs := chat.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, SystemSender, msgs[0].Sender)
	assert.Equal(t, "Task for Scout", msgs[0].Content)
	assert.Equal(t, "Scout", msgs[1].Sender)
	assert.Equal(t, llm.RoleAssistant, msgs[1].Role)

	reqs := client.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "mistral", reqs[0].Model)
	assert.Equal(t, 8192, reqs[0].ContextSize)
	assert.Equal(t, 256, reqs[0].MaxTokens)
	assert.Equal(t, &temp, reqs[0].Temperature)
	assert.Equal(t, []llm.Message{{Role: llm.RoleUser, Content: "Task for Scout"}}, reqs[0].Messages)
}

func TestAgentRun_RetriesTransientErrors(t *testing.T) {
	calls := 0
	client := &llm.MockClient{
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			calls++
			if calls == 1 {
				return nil, &llm.ProviderError{Provider: "ollama", Code: 503, Message: "loading model"}
			}
			return &llm.CompletionResponse{Content: "done"}, nil
		},
	}
	a, err := New("Editor", testSel, client, Options{
		Retry: retry.Policy{MaxAttempts: 3, Sleep: noSleep},
	}, silentLog())
	require.NoError(t, err)

	out, err := a.Run(context.Background(), NewGroupChat(), "Task for Editor")
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, 2, calls)
}

func TestAgentRun_PermanentError(t *testing.T) {
	client := &llm.MockClient{
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return nil, &llm.ProviderError{Provider: "ollama", Code: 404, Message: "model not found"}
		},
	}
	a, err := New("Editor", testSel, client, Options{
		Retry: retry.Policy{MaxAttempts: 3, Sleep: noSleep},
	}, silentLog())
	require.NoError(t, err)

	chat := NewGroupChat()
	_, err = a.Run(context.Background(), chat, "Task for Editor")
	require.Error(t, err)

	var pe *llm.ProviderError
	assert.True(t, errors.As(err, &pe))
	assert.Len(t, client.Requests(), 1)
	assert.Equal(t, 1, chat.Len())
}

func TestAgentRun_StreamOption(t *testing.T) {
	client := &llm.MockClient{
		StreamFunc: func(_ context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			ch := make(chan llm.StreamEvent, 3)
			ch <- llm.StreamEvent{Type: "delta", Content: "on "}
			ch <- llm.StreamEvent{Type: "delta", Content: "it"}
			ch <- llm.StreamEvent{Type: "done", Response: &llm.CompletionResponse{Content: "on it", Model: req.Model}}
			close(ch)
			return ch, nil
		},
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return nil, errors.New("complete must not be called")
		},
	}
	a, err := New("Scout", testSel, client, Options{Stream: true}, silentLog())
	require.NoError(t, err)

	chat := NewGroupChat()
	out, err := a.Run(context.Background(), chat, "Task for Scout")
	require.NoError(t, err)
	assert.Equal(t, "on it", out)
	assert.Equal(t, 2, chat.Len())
	assert.Equal(t, 8192, client.Requests()[0].ContextSize)
}

func TestAgentRunStreaming_Deltas(t *testing.T) {
	a, err := New("Scout", testSel, &llm.MockClient{}, Options{}, silentLog())
	require.NoError(t, err)

	var deltas []string
	out, err := a.RunStreaming(context.Background(), NewGroupChat(), "Task for Scout", func(d string) {
		deltas = append(deltas, d)
	})
	require.NoError(t, err)
	assert.Equal(t, "mock stream response", out)
	assert.Equal(t, []string{"mock "}, deltas)
}

func TestAgentRunStreaming_ErrorEvent(t *testing.T) {
	client := &llm.MockClient{
		StreamFunc: func(context.Context, llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			ch := make(chan llm.StreamEvent, 1)
			ch <- llm.StreamEvent{Type: "error", Error: "model unloaded"}
			close(ch)
			return ch, nil
		},
	}
	a, err := New("Scout", testSel, client, Options{}, silentLog())
	require.NoError(t, err)

	chat := NewGroupChat()
	_, err = a.RunStreaming(context.Background(), chat, "Task for Scout", nil)
	assert.ErrorContains(t, err, "model unloaded")
	assert.Equal(t, 1, chat.Len())
}

func TestNewFactory(t *testing.T) {
	client := &llm.MockClient{ProviderName: "ollama"}
	reg := llm.NewRegistry(silentLog())
	reg.Register("ollama", client)
	reg.SetFallback("ollama")

	cfg := config.Defaults().Swarm
	cfg.Personas = map[string]string{"Clicker": "You click."}
	factory := NewFactory(reg, cfg, silentLog())

	a, err := factory("Clicker", testSel)
	require.NoError(t, err)
	assert.Equal(t, testSel, a.Selection)
	assert.Equal(t, "You click.", a.Info().Persona)
	assert.Contains(t, a.SystemPrompt(), "Other agents: Scout, Editor, Uploader, Transaction")

	_, err = factory("", testSel)
	assert.Error(t, err)
}

func TestNewFactory_NoProvider(t *testing.T) {
	factory := NewFactory(llm.NewRegistry(silentLog()), config.Defaults().Swarm, silentLog())
	_, err := factory("Scout", testSel)
	assert.Error(t, err)
}

func TestBuildSystemPrompt(t *testing.T) {
	prompt := BuildSystemPrompt(PromptConfig{
		AgentName: "Uploader",
		Model:     "mistral:Q4_0",
		Roster:    []string{"Uploader"},
	})
	assert.Contains(t, prompt, "You are Uploader")
	assert.Contains(t, prompt, "Model: mistral:Q4_0")
	assert.NotContains(t, prompt, "Other agents")
}
