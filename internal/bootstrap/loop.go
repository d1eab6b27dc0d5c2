// Package bootstrap sequences dependency installation, runtime start-up,
// model readiness and the agent swarm into one bounded retry loop.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/hyperloop/internal/agent"
	"github.com/soyeahso/hyperloop/internal/config"
	"github.com/soyeahso/hyperloop/internal/execx"
	"github.com/soyeahso/hyperloop/internal/hooks"
	"github.com/soyeahso/hyperloop/internal/logging"
	"github.com/soyeahso/hyperloop/internal/metrics"
	"github.com/soyeahso/hyperloop/internal/model"
	"github.com/soyeahso/hyperloop/internal/retry"
	"github.com/soyeahso/hyperloop/internal/status"
)

// ErrExhausted is returned when the model never loaded within the attempt bound.
var ErrExhausted = errors.New("model never loaded")

// Installer installs the required packages.
type Installer interface {
	Install(ctx context.Context) error
}

// Runtime controls the model-serving process.
type Runtime interface {
	Stop(ctx context.Context)
	Start(ctx context.Context)
	IsModelLoaded(ctx context.Context, ids ...string) bool
	Launch(ctx context.Context, sel model.Selection) (*execx.Process, error)
}

// Swarm runs the agents against a loaded model.
type Swarm interface {
	RunSwarm(ctx context.Context, sel model.Selection) (*agent.Report, error)
}

// Outcome describes how a Run ended.
type Outcome struct {
	Attempts   int             // loop attempts started
	Model      model.Selection // selection in effect at the end
	Downgraded bool
	Loaded     bool // the model reported loaded and the swarm ran
	Exhausted  bool // every attempt failed the readiness check
	Report     *agent.Report
}

// Loop is the top-level bootstrap state machine.
type Loop struct {
	plan        model.Plan
	maxAttempts int
	startupWait time.Duration
	retryDelay  time.Duration
	launch      bool

	installer Installer
	runtime   Runtime
	swarm     Swarm

	sleep   func(ctx context.Context, d time.Duration) error
	hooks   *hooks.Manager
	metrics *metrics.Metrics
	tracker *status.Tracker
	log     *logging.Logger
}

// New creates a Loop from cfg.
func New(cfg config.Config, inst Installer, rt Runtime, swarm Swarm, log *logging.Logger) *Loop {
	return &Loop{
		plan:        model.FromConfig(cfg.Models),
		maxAttempts: cfg.Loop.MaxAttempts,
		startupWait: cfg.Loop.StartupWait.Std(),
		retryDelay:  cfg.Loop.RetryDelay.Std(),
		launch:      cfg.Runtime.LaunchOnStart,
		installer:   inst,
		runtime:     rt,
		swarm:       swarm,
		sleep:       retry.Sleep,
		log:         log.Sub("bootstrap"),
	}
}

// WithSleep replaces the fixed waits.
func (l *Loop) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Loop {
	l.sleep = sleep
	return l
}

// WithHooks emits lifecycle events through h.
func (l *Loop) WithHooks(h *hooks.Manager) *Loop {
	l.hooks = h
	return l
}

// WithMetrics records loop counters in m.
func (l *Loop) WithMetrics(m *metrics.Metrics) *Loop {
	l.metrics = m
	return l
}

// WithTracker publishes progress to t.
func (l *Loop) WithTracker(t *status.Tracker) *Loop {
	l.tracker = t
	return l
}

// Plan returns the model plan the loop follows.
func (l *Loop) Plan() model.Plan { return l.plan }

// Run installs dependencies, then starts the runtime until the model loads
// and runs the swarm once. It returns the swarm's error when the swarm ran,
// ErrExhausted when the model never loaded, or the context's error.
func (l *Loop) Run(ctx context.Context) (Outcome, error) {
	sel := l.plan.Primary
	out := Outcome{Model: sel}

	l.tracker.Update(func(s *status.Snapshot) {
		s.Phase = status.PhaseInstalling
		s.MaxAttempts = l.maxAttempts
		s.Model = sel.ID
		s.Quantized = sel.Quantized
	})

	if err := l.installer.Install(ctx); err != nil {
		return out, l.fail(ctx, fmt.Errorf("installing dependencies: %w", err))
	}
	l.emit(ctx, hooks.EventInstallDone, nil)

	l.runtime.Stop(ctx)

	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return out, l.fail(ctx, err)
		}
		out.Attempts = attempt + 1

		l.log.Info().
			Int("attempt", attempt+1).
			Int("maxAttempts", l.maxAttempts).
			Str("model", sel.ID).
			Msg("initializing system")
		l.tracker.Update(func(s *status.Snapshot) {
			s.Phase = status.PhaseStarting
			s.Attempt = attempt
		})
		l.metrics.ObserveLoopAttempt(sel.ID)

		l.runtime.Start(ctx)
		l.emit(ctx, hooks.EventRuntimeStart, map[string]any{"attempt": attempt, "model": sel.ID})

		if err := l.sleep(ctx, l.startupWait); err != nil {
			return out, l.fail(ctx, err)
		}

		if l.launch {
			l.log.Info().Str("model", sel.ID).Strs("args", sel.Args).Msg("launching model")
			if _, err := l.runtime.Launch(ctx, sel); err != nil {
				l.log.Warn().Err(err).Str("model", sel.ID).Msg("model launch failed")
			}
		}

		loaded := l.runtime.IsModelLoaded(ctx, l.plan.Identifiers(sel)...)
		l.metrics.ObserveReadiness(loaded)

		if loaded {
			l.log.Info().Str("model", sel.ID).Int("attempt", attempt+1).Msg("model loaded")
			l.emit(ctx, hooks.EventModelLoaded, map[string]any{"attempt": attempt, "model": sel.ID})
			l.tracker.Update(func(s *status.Snapshot) { s.Phase = status.PhaseSwarm })

			out.Loaded = true
			rep, err := l.swarm.RunSwarm(ctx, sel)
			out.Report = rep
			if rep != nil {
				l.tracker.Update(func(s *status.Snapshot) { s.LastRunID = rep.RunID })
			}
			if err != nil {
				return out, l.fail(ctx, fmt.Errorf("running swarm: %w", err))
			}
			l.log.Info().Str("runId", rep.RunID).Int("swarmAttempt", rep.Attempt).Msg("task completed successfully")
			l.tracker.Update(func(s *status.Snapshot) {
				s.Phase = status.PhaseSucceeded
				s.LastError = ""
			})
			return out, nil
		}

		l.log.Warn().Str("model", sel.ID).Int("attempt", attempt+1).Msg("model failed to load, retrying")
		l.runtime.Stop(ctx)
		if err := l.sleep(ctx, l.retryDelay); err != nil {
			return out, l.fail(ctx, err)
		}

		if l.plan.ShouldDowngrade(attempt, sel) {
			sel = l.downgrade(ctx, attempt)
			out.Model = sel
			out.Downgraded = true
		}
	}

	out.Exhausted = true
	l.log.Error().Int("attempts", out.Attempts).Str("model", sel.ID).Msg("model never loaded, giving up")
	l.tracker.Update(func(s *status.Snapshot) {
		s.Phase = status.PhaseExhausted
		s.LastError = ErrExhausted.Error()
	})
	l.emit(ctx, hooks.EventLoopExhausted, map[string]any{"attempts": out.Attempts, "model": sel.ID})
	return out, ErrExhausted
}

func (l *Loop) downgrade(ctx context.Context, attempt int) model.Selection {
	from, to := l.plan.Primary, l.plan.Fallback
	l.log.Info().Str("from", from.ID).Str("to", to.ID).Msg("switching to quantized model")
	l.metrics.ObserveDowngrade()
	l.tracker.Update(func(s *status.Snapshot) {
		s.Model = to.ID
		s.Quantized = to.Quantized
		s.Downgraded = true
	})
	l.emit(ctx, hooks.EventModelDowngrade, map[string]any{
		"attempt": attempt,
		"from":    from.ID,
		"to":      to.ID,
	})
	return to
}

// fail records err in the tracker and returns it.
func (l *Loop) fail(ctx context.Context, err error) error {
	phase := status.PhaseFailed
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		phase = status.PhaseCancelled
	}
	l.tracker.Update(func(s *status.Snapshot) {
		s.Phase = phase
		s.LastError = err.Error()
	})
	return err
}

func (l *Loop) emit(ctx context.Context, event string, data map[string]any) {
	if l.hooks != nil {
		l.hooks.Emit(context.WithoutCancel(ctx), event, data)
	}
}
