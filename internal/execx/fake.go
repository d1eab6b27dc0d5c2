package execx

import (
	"context"
	"sync"
)

// FakeRunner is a Runner for tests. It records every call and delegates to
// the optional funcs; a nil func succeeds with empty output.
type FakeRunner struct {
	RunFunc    func(ctx context.Context, c Cmd) error
	OutputFunc func(ctx context.Context, c Cmd) ([]byte, error)
	StartFunc  func(c Cmd) error

	mu    sync.Mutex
	calls []Cmd
}

func (f *FakeRunner) record(c Cmd) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

// Run implements Runner.
func (f *FakeRunner) Run(ctx context.Context, c Cmd) error {
	f.record(c)
	if f.RunFunc != nil {
		return f.RunFunc(ctx, c)
	}
	return nil
}

// Output implements Runner.
func (f *FakeRunner) Output(ctx context.Context, c Cmd) ([]byte, error) {
	f.record(c)
	if f.OutputFunc != nil {
		return f.OutputFunc(ctx, c)
	}
	return nil, nil
}

// Start implements Runner. The returned process stays running until Stop.
func (f *FakeRunner) Start(c Cmd) (*Process, error) {
	f.record(c)
	if f.StartFunc != nil {
		if err := f.StartFunc(c); err != nil {
			return nil, err
		}
	}
	return newProcess(c), nil
}

// Calls returns a copy of every recorded command.
func (f *FakeRunner) Calls() []Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Cmd(nil), f.calls...)
}

// Count returns how many recorded commands had sub as their first argument.
func (f *FakeRunner) Count(sub string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c.Args) > 0 && c.Args[0] == sub {
			n++
		}
	}
	return n
}
