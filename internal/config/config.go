package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// DefaultAgents is the fixed roster launched in every swarm run.
var DefaultAgents = []string{"Scout", "Editor", "Uploader", "Clicker", "Transaction"}

const (
	defaultRuntimeBinary = "ollama"
	defaultRuntimeHost   = "http://localhost:11434"
	defaultPrimaryModel  = "mistral"
	defaultFallbackModel = "mistral:Q4_0"
	defaultSwitchAt      = 5
	defaultLoopAttempts  = 1000
	defaultTaskTemplate  = "Task for {{.Name}}"
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Runtime: RuntimeConfig{
			Binary:         defaultRuntimeBinary,
			Host:           defaultRuntimeHost,
			CommandTimeout: Duration(30 * time.Second),
		},
		Models: ModelsConfig{
			Primary: ModelEntry{
				ID:   defaultPrimaryModel,
				Args: []string{"--n_ctx", "8192", "--flash-attn", "1", "--offload", "1"},
			},
			Fallback: ModelEntry{
				ID:   defaultFallbackModel,
				Args: []string{"--n_ctx", "4096"},
			},
			SwitchAt: defaultSwitchAt,
		},
		Install: InstallConfig{
			Command: []string{defaultRuntimeBinary, "pull"},
			Retry: RetryConfig{
				MaxAttempts: 10,
				Delay:       Duration(5 * time.Second),
			},
		},
		Loop: LoopConfig{
			MaxAttempts: defaultLoopAttempts,
			StartupWait: Duration(5 * time.Second),
			RetryDelay:  Duration(3 * time.Second),
		},
		Swarm: SwarmConfig{
			Agents:       append([]string(nil), DefaultAgents...),
			TaskTemplate: defaultTaskTemplate,
			TaskTimeout:  Duration(5 * time.Minute),
			Retry: RetryConfig{
				MaxAttempts: 5,
				Delay:       Duration(3 * time.Second),
			},
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
	}
}
