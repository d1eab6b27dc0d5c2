// Package agent builds the named swarm agents and runs them concurrently
// against one shared group conversation.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/hyperloop/internal/config"
	"github.com/soyeahso/hyperloop/internal/domain"
	"github.com/soyeahso/hyperloop/internal/llm"
	"github.com/soyeahso/hyperloop/internal/logging"
	"github.com/soyeahso/hyperloop/internal/model"
	"github.com/soyeahso/hyperloop/internal/retry"
)

// Options are the per-agent completion settings.
type Options struct {
	MaxTokens   int
	Temperature *float64
	Persona     string
	Roster      []string

	// Stream requests the reply as a stream; deltas are logged at trace
	// level.
	Stream bool

	// Retry applies to a single chat call within a task. A zero
	// MaxAttempts makes one attempt.
	Retry retry.Policy
}

// Agent is a named conversational participant bound to one model selection.
type Agent struct {
	Name      string
	Selection model.Selection

	client llm.Client
	opts   Options
	system string
	log    *logging.Logger
}

// New creates an agent. The name must be non-empty and client non-nil.
func New(name string, sel model.Selection, client llm.Client, opts Options, log *logging.Logger) (*Agent, error) {
	if name == "" {
		return nil, errors.New("agent name is empty")
	}
	if client == nil {
		return nil, fmt.Errorf("agent %s: no LLM client", name)
	}
	return &Agent{
		Name:      name,
		Selection: sel,
		client:    client,
		opts:      opts,
		system: BuildSystemPrompt(PromptConfig{
			AgentName: name,
			Model:     sel.ID,
			Roster:    opts.Roster,
			Persona:   opts.Persona,
		}),
		log: log.Sub("agent." + name),
	}, nil
}

// Info describes the agent for listings and run records.
func (a *Agent) Info() domain.Agent {
	return domain.Agent{Name: a.Name, Model: a.Selection.ID, Persona: a.opts.Persona}
}

// SystemPrompt returns the prompt sent with every request.
func (a *Agent) SystemPrompt() string { return a.system }

// Run posts task to the group conversation, asks the model for a reply with
// the conversation so far as context, and appends the reply.
func (a *Agent) Run(ctx context.Context, chat *GroupChat, task string) (string, error) {
	return a.run(ctx, chat, task, a.opts.Stream, nil)
}

// RunStreaming is Run with the reply streamed; onDelta receives each chunk
// as it arrives.
func (a *Agent) RunStreaming(ctx context.Context, chat *GroupChat, task string, onDelta func(string)) (string, error) {
	return a.run(ctx, chat, task, true, onDelta)
}

func (a *Agent) run(ctx context.Context, chat *GroupChat, task string, stream bool, onDelta func(string)) (string, error) {
	start := time.Now()
	chat.Append(SystemSender, llm.RoleUser, task)

	a.log.Debug().
		Str("model", a.Selection.ID).
		Int("historyLen", chat.Len()).
		Msg("running task")

	policy := a.opts.Retry
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = 1
	}
	if policy.Retryable == nil {
		policy.Retryable = llm.IsRetryable
	}
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		a.log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("chat call failed, retrying")
	}

	var resp *llm.CompletionResponse
	err := retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		req := llm.CompletionRequest{
			Model:       a.Selection.ID,
			System:      a.system,
			Messages:    chat.History(a.Name),
			MaxTokens:   a.opts.MaxTokens,
			Temperature: a.opts.Temperature,
			ContextSize: a.Selection.ContextSize(),
		}
		var r *llm.CompletionResponse
		var err error
		if stream {
			r, err = a.stream(ctx, req, onDelta)
		} else {
			r, err = a.client.Complete(ctx, req)
		}
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("LLM completion: %w", err)
	}

	chat.Append(a.Name, llm.RoleAssistant, resp.Content)

	a.log.Info().
		Str("model", resp.Model).
		Int("inputTokens", resp.Usage.InputTokens).
		Int("outputTokens", resp.Usage.OutputTokens).
		Dur("duration", time.Since(start)).
		Msg("response generated")

	return resp.Content, nil
}

func (a *Agent) stream(ctx context.Context, req llm.CompletionRequest, onDelta func(string)) (*llm.CompletionResponse, error) {
	ch, err := a.client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return llm.Collect(ctx, ch, func(delta string) {
		a.log.Trace().Str("delta", delta).Msg("stream")
		if onDelta != nil {
			onDelta(delta)
		}
	})
}

// Factory constructs the agent with the given name bound to sel.
type Factory func(name string, sel model.Selection) (*Agent, error)

// NewFactory returns a Factory that resolves each agent's client from reg
// and applies the swarm's completion settings.
func NewFactory(reg *llm.Registry, cfg config.SwarmConfig, log *logging.Logger) Factory {
	roster := append([]string(nil), cfg.Agents...)
	return func(name string, sel model.Selection) (*Agent, error) {
		if name == "" {
			return nil, errors.New("agent name is empty")
		}
		client, err := reg.Resolve(sel.ID)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", name, err)
		}
		return New(name, sel, client, Options{
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Persona:     cfg.Personas[name],
			Roster:      roster,
			Stream:      cfg.Stream,
			Retry: retry.Policy{
				MaxAttempts: 2,
				Delay:       time.Second,
			},
		}, log)
	}
}
