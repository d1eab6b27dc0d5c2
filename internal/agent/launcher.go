package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/hyperloop/internal/config"
	"github.com/soyeahso/hyperloop/internal/domain"
	"github.com/soyeahso/hyperloop/internal/hooks"
	"github.com/soyeahso/hyperloop/internal/logging"
	"github.com/soyeahso/hyperloop/internal/metrics"
	"github.com/soyeahso/hyperloop/internal/model"
	"github.com/soyeahso/hyperloop/internal/retry"
	"github.com/soyeahso/hyperloop/internal/store"
)

// ErrNoAgents aborts a swarm when not a single agent could be constructed.
var ErrNoAgents = errors.New("no agents created")

// SwarmError is returned when every swarm attempt failed.
type SwarmError struct {
	Attempts int
	Report   *Report // the last attempt
	Err      error
}

func (e *SwarmError) Error() string {
	return fmt.Sprintf("swarm failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *SwarmError) Unwrap() error { return e.Err }

// Report is the result of one swarm attempt.
type Report struct {
	RunID      string
	Attempt    int
	Model      string
	Tasks      []domain.TaskResult
	Transcript []domain.Message
	StartedAt  time.Time
	FinishedAt time.Time
}

// OK reports whether every task completed.
func (r *Report) OK() bool {
	return r != nil && len(r.Tasks) > 0 && len(r.Failed()) == 0
}

// Failed returns the tasks that did not complete.
func (r *Report) Failed() []domain.TaskResult {
	var out []domain.TaskResult
	for _, t := range r.Tasks {
		if !t.OK() {
			out = append(out, t)
		}
	}
	return out
}

// Succeeded returns the names of agents whose task completed.
func (r *Report) Succeeded() []string {
	var out []string
	for _, t := range r.Tasks {
		if t.OK() {
			out = append(out, t.Agent)
		}
	}
	return out
}

func (r *Report) run(outcome domain.RunOutcome, err error) *domain.Run {
	run := &domain.Run{
		ID:         r.RunID,
		Model:      r.Model,
		Attempt:    r.Attempt,
		Outcome:    outcome,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Tasks:      r.Tasks,
		Transcript: r.Transcript,
	}
	if err != nil {
		run.Error = err.Error()
	}
	return run
}

// Launcher creates the configured agents and runs the swarm.
type Launcher struct {
	names       []string
	task        *template.Template
	taskTimeout time.Duration
	policy      retry.Policy
	factory     Factory

	runs    store.RunStore
	hooks   *hooks.Manager
	metrics *metrics.Metrics
	log     *logging.Logger
}

// NewLauncher creates a launcher for cfg. The task template is parsed here
// so a bad template fails before any agent runs.
func NewLauncher(cfg config.SwarmConfig, factory Factory, log *logging.Logger) (*Launcher, error) {
	text := cfg.TaskTemplate
	if text == "" {
		text = "Task for {{.Name}}"
	}
	tmpl, err := template.New("task").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing task template: %w", err)
	}
	return &Launcher{
		names:       append([]string(nil), cfg.Agents...),
		task:        tmpl,
		taskTimeout: cfg.TaskTimeout.Std(),
		policy:      retry.FromConfig(cfg.Retry),
		factory:     factory,
		runs:        store.Discard,
		log:         log.Sub("swarm"),
	}, nil
}

// WithStore records every attempt in rs.
func (l *Launcher) WithStore(rs store.RunStore) *Launcher {
	if rs != nil {
		l.runs = rs
	}
	return l
}

// WithHooks emits swarm_start, task_done and swarm_done through h.
func (l *Launcher) WithHooks(h *hooks.Manager) *Launcher {
	l.hooks = h
	return l
}

// WithMetrics records agent, task and swarm counts in m.
func (l *Launcher) WithMetrics(m *metrics.Metrics) *Launcher {
	l.metrics = m
	return l
}

// WithSleep replaces the wait between swarm attempts.
func (l *Launcher) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Launcher {
	l.policy.Sleep = sleep
	return l
}

// Names returns the configured agent names.
func (l *Launcher) Names() []string {
	return append([]string(nil), l.names...)
}

// CreateAgents constructs one agent per configured name, all bound to sel.
// Names whose construction fails are logged and left out.
func (l *Launcher) CreateAgents(sel model.Selection) []*Agent {
	l.log.Info().Str("model", sel.ID).Int("count", len(l.names)).Msg("creating agents")

	agents := make([]*Agent, 0, len(l.names))
	for _, name := range l.names {
		a, err := l.build(name, sel)
		if err != nil {
			l.log.Error().Err(err).Str("agent", name).Msg("failed to create agent")
			l.metrics.ObserveAgentCreate(false)
			continue
		}
		l.metrics.ObserveAgentCreate(true)
		agents = append(agents, a)
	}
	return agents
}

// build calls the factory for one name. A panic or a nil agent counts as a
// construction failure.
func (l *Launcher) build(name string, sel model.Selection) (a *Agent, err error) {
	defer func() {
		if r := recover(); r != nil {
			a, err = nil, fmt.Errorf("factory panic: %v", r)
			l.log.Debug().Str("agent", name).Str("stack", string(debug.Stack())).Msg("factory panic")
		}
	}()
	a, err = l.factory(name, sel)
	if err == nil && a == nil {
		err = errors.New("factory returned no agent")
	}
	return a, err
}

// RunSwarm runs the swarm with sel until one attempt completes every task,
// the retry policy gives up, or ctx is done. Each attempt starts over with
// freshly created agents and an empty group conversation.
func (l *Launcher) RunSwarm(ctx context.Context, sel model.Selection) (*Report, error) {
	var last *Report

	policy := l.policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		l.log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("swarm failed, restarting")
	}

	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		rep, err := l.runOnce(ctx, sel, attempt)
		if rep != nil {
			last = rep
		}
		return err
	})

	var ex *retry.ExhaustedError
	switch {
	case err == nil:
		return last, nil
	case errors.As(err, &ex):
		l.log.Error().Err(ex.Last).Int("attempts", ex.Attempts).Msg("swarm gave up")
		return last, &SwarmError{Attempts: ex.Attempts, Report: last, Err: ex.Last}
	default:
		return last, err
	}
}

func (l *Launcher) runOnce(ctx context.Context, sel model.Selection, attempt int) (rep *Report, err error) {
	rep = &Report{
		RunID:     uuid.New().String(),
		Attempt:   attempt,
		Model:     sel.ID,
		StartedAt: time.Now(),
	}

	agents := l.CreateAgents(sel)
	if len(agents) == 0 {
		l.log.Error().Str("model", sel.ID).Msg("no agents created, aborting swarm")
		rep.FinishedAt = time.Now()
		l.record(ctx, rep, domain.RunAborted, ErrNoAgents)
		return rep, retry.Permanent(ErrNoAgents)
	}

	chat := NewGroupChat()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("swarm panic: %v", r)
			l.log.Error().Str("stack", string(debug.Stack())).Msg("swarm panic")
		}
		rep.Transcript = chat.Messages()
		rep.FinishedAt = time.Now()
		outcome := domain.RunSucceeded
		if err != nil {
			outcome = domain.RunFailed
		}
		l.record(ctx, rep, outcome, err)
	}()

	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = a.Name
	}
	l.emit(ctx, hooks.EventSwarmStart, map[string]any{
		"runId":   rep.RunID,
		"attempt": attempt,
		"model":   sel.ID,
		"agents":  names,
	})

	l.log.Info().Int("agents", len(agents)).Int("attempt", attempt).Msg("running agents")
	rep.Tasks = l.dispatch(ctx, agents, chat)

	if failed := rep.Failed(); len(failed) > 0 {
		for _, t := range failed {
			l.log.Error().Str("agent", t.Agent).Str("status", string(t.Status)).Str("error", t.Error).Msg("task failed")
		}
		return rep, fmt.Errorf("%d of %d agent tasks failed", len(failed), len(rep.Tasks))
	}
	return rep, nil
}

// dispatch runs one task per agent concurrently and waits for all of them.
// Results are in agent order.
func (l *Launcher) dispatch(ctx context.Context, agents []*Agent, chat *GroupChat) []domain.TaskResult {
	results := make([]domain.TaskResult, len(agents))
	var wg sync.WaitGroup
	for i, a := range agents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = l.runTask(ctx, a, chat)
		}()
	}
	wg.Wait()
	return results
}

func (l *Launcher) runTask(ctx context.Context, a *Agent, chat *GroupChat) (res domain.TaskResult) {
	start := time.Now()
	res.Agent = a.Name

	defer func() {
		if r := recover(); r != nil {
			res.Status = domain.TaskError
			res.Error = fmt.Sprintf("panic: %v", r)
			l.log.Error().Str("agent", a.Name).Str("stack", string(debug.Stack())).Msg("task panic")
		}
		res.Duration = time.Since(start)
		l.metrics.ObserveTask(a.Name, string(res.Status), res.Duration)
		data := map[string]any{
			"agent":    res.Agent,
			"model":    a.Selection.ID,
			"status":   string(res.Status),
			"duration": res.Duration.String(),
		}
		if res.Error != "" {
			data["error"] = res.Error
		}
		l.emit(ctx, hooks.EventTaskDone, data)
	}()

	task, err := l.renderTask(a)
	if err != nil {
		res.Status = domain.TaskError
		res.Error = err.Error()
		return res
	}

	taskCtx := ctx
	if l.taskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, l.taskTimeout)
		defer cancel()
	}

	out, err := a.Run(taskCtx, chat, task)
	switch {
	case err == nil:
		res.Status = domain.TaskOK
		res.Output = out
		l.log.Info().Str("agent", a.Name).Dur("duration", time.Since(start)).Msg("task completed")
	case errors.Is(taskCtx.Err(), context.DeadlineExceeded):
		res.Status = domain.TaskTimeout
		res.Error = err.Error()
	default:
		res.Status = domain.TaskError
		res.Error = err.Error()
	}
	return res
}

func (l *Launcher) renderTask(a *Agent) (string, error) {
	var buf bytes.Buffer
	err := l.task.Execute(&buf, struct {
		Name  string
		Model string
	}{a.Name, a.Selection.ID})
	if err != nil {
		return "", fmt.Errorf("rendering task: %w", err)
	}
	return buf.String(), nil
}

func (l *Launcher) record(ctx context.Context, rep *Report, outcome domain.RunOutcome, err error) {
	run := rep.run(outcome, err)
	// The attempt may have ended because ctx was cancelled; still keep the record.
	if saveErr := l.runs.SaveRun(context.WithoutCancel(ctx), run); saveErr != nil {
		l.log.Warn().Err(saveErr).Str("runId", rep.RunID).Msg("failed to record run")
	}
	l.metrics.ObserveSwarm(string(outcome))
	if outcome != domain.RunAborted {
		data := map[string]any{
			"runId":     rep.RunID,
			"attempt":   rep.Attempt,
			"model":     rep.Model,
			"outcome":   string(outcome),
			"succeeded": rep.Succeeded(),
		}
		if err != nil {
			data["error"] = err.Error()
		}
		l.emit(ctx, hooks.EventSwarmDone, data)
	}
}

func (l *Launcher) emit(ctx context.Context, event string, data map[string]any) {
	if l.hooks != nil {
		l.hooks.Emit(context.WithoutCancel(ctx), event, data)
	}
}
