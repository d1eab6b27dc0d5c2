package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/soyeahso/hyperloop/internal/agent"
	"github.com/soyeahso/hyperloop/internal/bootstrap"
	"github.com/soyeahso/hyperloop/internal/execx"
	"github.com/soyeahso/hyperloop/internal/hooks"
	"github.com/soyeahso/hyperloop/internal/installer"
	"github.com/soyeahso/hyperloop/internal/llm"
	"github.com/soyeahso/hyperloop/internal/metrics"
	"github.com/soyeahso/hyperloop/internal/runtime"
	"github.com/soyeahso/hyperloop/internal/status"
	"github.com/soyeahso/hyperloop/internal/store"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var statusAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bootstrap loop (same as running hyperloop with no subcommand)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if statusAddr != "" {
				overrideStatusAddr = statusAddr
			}
			return runBootstrap(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "serve /healthz, /status and /metrics on this address")
	return cmd
}

var overrideStatusAddr string

// runBootstrap wires every component and runs the loop until it ends or a
// signal arrives.
func runBootstrap(parent context.Context) error {
	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}
	if overrideStatusAddr != "" {
		cfg.Status.Addr = overrideStatusAddr
	}
	if err := openLogger(cfg); err != nil {
		return err
	}
	if err := paths.EnsureDirs(); err != nil {
		return fmt.Errorf("creating directories: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := execx.OSRunner{}
	m := metrics.New()

	hookMgr := hooks.NewManager(log)
	if n := hookMgr.RegisterCommands(cfg.Hooks, runner); n > 0 {
		log.Info().Int("hooks", n).Msg("command hooks registered")
	}

	runs, closer, err := store.New(cfg.Store, paths.History, log)
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}
	defer closer.Close()

	tracker := status.NewTracker()
	stopServer := startStatusServer(ctx, cfg.Status.Addr, tracker, m, runs, hookMgr)
	defer stopServer()

	if events := hookMgr.Events(); len(events) > 0 {
		log.Debug().Strs("events", events).Msg("hook events bound")
	}

	inst := installer.New(cfg.Install, runner, m, log)

	rt := runtime.NewController(cfg.Runtime, runner, log)
	defer rt.Close()

	registry := llm.NewRegistryFromConfig(cfg.Runtime, cfg.Models, log)
	launcher, err := agent.NewLauncher(cfg.Swarm, agent.NewFactory(registry, cfg.Swarm, log), log)
	if err != nil {
		return err
	}
	launcher.WithStore(runs).WithHooks(hookMgr).WithMetrics(m)

	loop := bootstrap.New(cfg, inst, rt, launcher, log).
		WithHooks(hookMgr).
		WithMetrics(m).
		WithTracker(tracker)

	out, err := loop.Run(ctx)
	hookMgr.Wait()
	stopServer()

	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err)
	}
	ev.Int("attempts", out.Attempts).
		Str("model", out.Model.ID).
		Bool("downgraded", out.Downgraded).
		Bool("exhausted", out.Exhausted).
		Msg("bootstrap finished")

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		log.Info().Msg("interrupted")
	}
	return err
}

// startStatusServer serves the status endpoints and the /events feed on
// addr. The returned func stops the server, waits for in-flight requests
// and closes event subscribers; it is safe to call more than once.
func startStatusServer(ctx context.Context, addr string, tracker *status.Tracker, m *metrics.Metrics, runs store.RunStore, hookMgr *hooks.Manager) func() {
	if addr == "" {
		return func() {}
	}

	hub := status.NewHub(log)
	hub.Attach(hookMgr)
	srv := status.New(addr, tracker, log,
		status.WithMetrics(m),
		status.WithRuns(runs),
		status.WithEvents(hub))

	srvCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Start(srvCtx); err != nil {
			log.Error().Err(err).Msg("status server failed")
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
			hub.Close()
		})
	}
}
