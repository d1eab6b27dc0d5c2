// Package execx runs external commands: blocking, output-capturing and
// detached, with a tracker for cleaning up detached processes.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Cmd describes a command to run.
type Cmd struct {
	Path string
	Args []string
	Env  map[string]string // additional env vars
	Dir  string            // working directory
}

// String renders the command line for logs.
func (c Cmd) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}
	return c.Path + " " + strings.Join(c.Args, " ")
}

// Runner executes commands. OSRunner is the real implementation and
// FakeRunner records calls for tests.
type Runner interface {
	// Run executes the command to completion, discarding stdout.
	Run(ctx context.Context, c Cmd) error
	// Output executes the command to completion and returns its stdout.
	Output(ctx context.Context, c Cmd) ([]byte, error)
	// Start launches the command detached from ctx and returns immediately.
	Start(c Cmd) (*Process, error)
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Cmd    string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited %d", e.Cmd, e.Code)
	}
	return fmt.Sprintf("%s exited %d: %s", e.Cmd, e.Code, e.Stderr)
}

// OSRunner runs commands as real subprocesses.
type OSRunner struct {
	// WaitDelay bounds how long a command's I/O is drained after the
	// process exits or its context is cancelled. Zero means one second.
	WaitDelay time.Duration
}

func (r OSRunner) waitDelay() time.Duration {
	if r.WaitDelay == 0 {
		return time.Second
	}
	return r.WaitDelay
}

func (r OSRunner) command(ctx context.Context, c Cmd) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.WaitDelay = r.waitDelay()
	applyEnv(cmd, c)
	return cmd
}

func applyEnv(cmd *exec.Cmd, c Cmd) {
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	// inherit environment
	cmd.Env = os.Environ()
	for k, v := range c.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
}

// Run implements Runner.
func (r OSRunner) Run(ctx context.Context, c Cmd) error {
	cmd := r.command(ctx, c)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	return wrapErr(c, cmd.Run(), stderr.String())
}

// Output implements Runner.
func (r OSRunner) Output(ctx context.Context, c Cmd) ([]byte, error) {
	cmd := r.command(ctx, c)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	return out, wrapErr(c, err, stderr.String())
}

// Start implements Runner. Stdout and stderr are captured into buffers.
func (r OSRunner) Start(c Cmd) (*Process, error) {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.WaitDelay = r.waitDelay()
	applyEnv(cmd, c)
	p := newProcess(c)
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", c.Path, err)
	}
	p.cmd = cmd
	p.pid = cmd.Process.Pid
	go func() {
		p.finish(cmd.Wait())
	}()
	return p, nil
}

func wrapErr(c Cmd, err error, stderr string) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Cmd: c.String(), Code: exitErr.ExitCode(), Stderr: strings.TrimSpace(stderr)}
	}
	return fmt.Errorf("%s: %w", c.Path, err)
}

// syncBuffer is a bytes.Buffer safe for a writer goroutine and concurrent readers.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

// Process is a detached command started by a Runner.
type Process struct {
	Cmd     Cmd
	Started time.Time

	cmd    *exec.Cmd
	pid    int
	stdout *syncBuffer
	stderr *syncBuffer

	done     chan struct{}
	doneOnce sync.Once
	err      error
}

func newProcess(c Cmd) *Process {
	return &Process{
		Cmd:     c,
		Started: time.Now(),
		stdout:  &syncBuffer{},
		stderr:  &syncBuffer{},
		done:    make(chan struct{}),
	}
}

func (p *Process) finish(err error) {
	p.doneOnce.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Pid returns the OS process id, or 0 for processes that never ran.
func (p *Process) Pid() int { return p.pid }

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Err returns the wait error once the process has exited.
func (p *Process) Err() error {
	if !p.Exited() {
		return nil
	}
	return p.err
}

// Stdout returns what the process has written to stdout so far.
func (p *Process) Stdout() string { return p.stdout.String() }

// Stderr returns what the process has written to stderr so far.
func (p *Process) Stderr() string { return p.stderr.String() }

// Stop sends SIGTERM and waits up to grace before killing the process.
func (p *Process) Stop(grace time.Duration) error {
	if p.Exited() {
		return nil
	}
	if p.cmd == nil || p.cmd.Process == nil {
		p.finish(nil)
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return p.kill()
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
		return p.kill()
	}
}

func (p *Process) kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	<-p.done
	return nil
}
