package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/soyeahso/hyperloop/internal/config"
	"github.com/soyeahso/hyperloop/internal/execx"
)

// defaultCommandTimeout bounds a shell hook with no configured timeout.
const defaultCommandTimeout = 10 * time.Second

// CommandHandler returns a Handler that runs a shell command. The event
// name and the JSON-encoded payload data are passed as HYPERLOOP_EVENT and
// HYPERLOOP_PAYLOAD.
func CommandHandler(runner execx.Runner, entry config.HookEntry) Handler {
	timeout := time.Duration(entry.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return func(ctx context.Context, p Payload) error {
		data, err := json.Marshal(p.Data)
		if err != nil {
			return fmt.Errorf("encoding hook payload: %w", err)
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return runner.Run(ctx, execx.Cmd{
			Path: "sh",
			Args: []string{"-c", entry.Command},
			Env: map[string]string{
				"HYPERLOOP_EVENT":   p.Event,
				"HYPERLOOP_PAYLOAD": string(data),
			},
		})
	}
}

// RegisterCommands registers every configured shell hook as an async
// handler and returns how many were added.
func (m *Manager) RegisterCommands(cfg config.HooksConfig, runner execx.Runner) int {
	n := 0
	for _, b := range cfg.Bindings() {
		for i, entry := range b.Entries {
			if entry.Command == "" {
				continue
			}
			m.OnAsync(b.Event, fmt.Sprintf("%s.%d", b.Key, i), CommandHandler(runner, entry))
			n++
		}
	}
	return n
}
