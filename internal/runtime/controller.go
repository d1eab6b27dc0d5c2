// Package runtime controls the external model-serving process.
package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/hyperloop/internal/config"
	"github.com/soyeahso/hyperloop/internal/execx"
	"github.com/soyeahso/hyperloop/internal/logging"
	"github.com/soyeahso/hyperloop/internal/model"
)

// stopGrace is how long a detached launch gets to exit after SIGTERM.
const stopGrace = 2 * time.Second

// Controller issues stop/start/list/run commands to the runtime binary.
// Stop, Start and IsModelLoaded never fail; problems are logged and the
// readiness check is the only signal the caller gets.
type Controller struct {
	bin     string
	timeout time.Duration
	runner  execx.Runner
	procs   *execx.ProcManager
	log     *logging.Logger
}

// NewController creates a Controller for the configured runtime binary.
func NewController(cfg config.RuntimeConfig, runner execx.Runner, log *logging.Logger) *Controller {
	return &Controller{
		bin:     cfg.Binary,
		timeout: cfg.CommandTimeout.Std(),
		runner:  runner,
		procs:   execx.NewProcManager(),
		log:     log.Sub("runtime"),
	}
}

func (c *Controller) cmd(args ...string) execx.Cmd {
	return execx.Cmd{Path: c.bin, Args: args}
}

func (c *Controller) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Stop asks the runtime to stop and terminates any model it launched.
func (c *Controller) Stop(ctx context.Context) {
	c.log.Info().Msg("stopping runtime")

	ctx, cancel := c.bounded(ctx)
	defer cancel()
	if err := c.runner.Run(ctx, c.cmd("stop")); err != nil {
		c.log.Debug().Err(err).Msg("runtime stop failed")
	}
	if n := len(c.procs.Running()); n > 0 {
		c.log.Info().Int("count", n).Msg("stopping launched models")
	}
	if err := c.procs.StopAll(stopGrace); err != nil {
		c.log.Debug().Err(err).Msg("stopping launched models")
	}
}

// Start asks the runtime to start.
func (c *Controller) Start(ctx context.Context) {
	c.log.Info().Msg("starting runtime")

	ctx, cancel := c.bounded(ctx)
	defer cancel()
	if err := c.runner.Run(ctx, c.cmd("start")); err != nil {
		c.log.Debug().Err(err).Msg("runtime start failed")
	}
}

// IsModelLoaded reports whether any of ids appears in the runtime's model
// list. A failed query counts as not loaded.
func (c *Controller) IsModelLoaded(ctx context.Context, ids ...string) bool {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	out, err := c.runner.Output(ctx, c.cmd("list"))
	if err != nil {
		c.log.Debug().Err(err).Msg("listing models failed")
		return false
	}

	listing := string(out)
	for _, id := range ids {
		if id != "" && strings.Contains(listing, id) {
			c.log.Debug().Str("model", id).Msg("model is loaded")
			return true
		}
	}
	return false
}

// Launch starts "<bin> run <model> <args...>" detached. Its output is
// captured but never read synchronously; the process is stopped by the next
// Stop or Close.
func (c *Controller) Launch(ctx context.Context, sel model.Selection) (*execx.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.log.Info().Str("model", sel.ID).Strs("args", sel.Args).Msg("launching model")
	p, err := c.runner.Start(c.cmd(sel.RunArgs()...))
	if err != nil {
		return nil, fmt.Errorf("launching %s: %w", sel.ID, err)
	}
	c.procs.Add(p)
	return p, nil
}

// Close terminates any model this controller launched.
func (c *Controller) Close() error {
	return c.procs.StopAll(stopGrace)
}
