// Package installer makes sure the packages the runtime needs are present.
package installer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/soyeahso/hyperloop/internal/config"
	"github.com/soyeahso/hyperloop/internal/execx"
	"github.com/soyeahso/hyperloop/internal/logging"
	"github.com/soyeahso/hyperloop/internal/metrics"
	"github.com/soyeahso/hyperloop/internal/retry"
)

// Error reports a package that could not be installed.
type Error struct {
	Package  string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("installing %s failed after %d attempts: %v", e.Package, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Installer runs the install command once per package under a retry policy.
type Installer struct {
	command  []string
	packages []string
	policy   retry.Policy
	runner   execx.Runner
	metrics  *metrics.Metrics
	log      *logging.Logger
}

// New creates an Installer from the install section.
func New(cfg config.InstallConfig, runner execx.Runner, m *metrics.Metrics, log *logging.Logger) *Installer {
	return &Installer{
		command:  slices.Clone(cfg.Command),
		packages: slices.Clone(cfg.Packages),
		policy:   retry.FromConfig(cfg.Retry),
		runner:   runner,
		metrics:  m,
		log:      log.Sub("installer"),
	}
}

// WithSleep replaces the wait between attempts.
func (i *Installer) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Installer {
	i.policy.Sleep = sleep
	return i
}

// Packages returns the packages this installer ensures.
func (i *Installer) Packages() []string {
	return slices.Clone(i.packages)
}

// Install installs every package in order, retrying each one. It stops at
// the first package that exhausts its attempts.
func (i *Installer) Install(ctx context.Context) error {
	if len(i.command) == 0 {
		return errors.New("installer: no install command configured")
	}

	for _, pkg := range i.packages {
		if err := i.installOne(ctx, pkg); err != nil {
			return err
		}
	}
	return nil
}

func (i *Installer) installOne(ctx context.Context, pkg string) error {
	cmd := execx.Cmd{
		Path: i.command[0],
		Args: append(slices.Clone(i.command[1:]), pkg),
	}

	policy := i.policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		i.log.Warn().
			Str("package", pkg).
			Int("attempt", attempt).
			Dur("retryIn", wait).
			Err(err).
			Msg("failed to install package, retrying")
	}

	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		i.log.Info().Str("package", pkg).Int("attempt", attempt).Msg("installing package")
		err := i.runner.Run(ctx, cmd)
		i.metrics.ObserveInstall(pkg, err == nil)
		return err
	})
	if err == nil {
		i.log.Info().Str("package", pkg).Msg("package installed")
		return nil
	}

	var ex *retry.ExhaustedError
	if errors.As(err, &ex) {
		i.log.Error().Str("package", pkg).Int("attempts", ex.Attempts).Err(ex.Last).Msg("giving up on package")
		return &Error{Package: pkg, Attempts: ex.Attempts, Err: ex.Last}
	}
	return fmt.Errorf("installing %s: %w", pkg, err)
}
