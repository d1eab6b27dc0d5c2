package config

import "time"

// Config is the root configuration for hyperloop.
type Config struct {
	EnvFile string        `yaml:"envFile,omitempty" toml:"envFile" json:"envFile,omitempty"` // extra dotenv file loaded before the run
	Runtime RuntimeConfig `yaml:"runtime,omitempty" toml:"runtime" json:"runtime,omitempty"`
	Models  ModelsConfig  `yaml:"models,omitempty" toml:"models" json:"models,omitempty"`
	Install InstallConfig `yaml:"install,omitempty" toml:"install" json:"install,omitempty"`
	Loop    LoopConfig    `yaml:"loop,omitempty" toml:"loop" json:"loop,omitempty"`
	Swarm   SwarmConfig   `yaml:"swarm,omitempty" toml:"swarm" json:"swarm,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty" toml:"logging" json:"logging,omitempty"`
	Store   StoreConfig   `yaml:"store,omitempty" toml:"store" json:"store,omitempty"`
	Status  StatusConfig  `yaml:"status,omitempty" toml:"status" json:"status,omitempty"`
	Hooks   HooksConfig   `yaml:"hooks,omitempty" toml:"hooks" json:"hooks,omitempty"`
}

// RuntimeConfig controls the external model-serving binary.
type RuntimeConfig struct {
	Binary         string   `yaml:"binary,omitempty" toml:"binary" json:"binary,omitempty"`
	Host           string   `yaml:"host,omitempty" toml:"host" json:"host,omitempty"` // HTTP endpoint used by agents
	CommandTimeout Duration `yaml:"commandTimeout,omitempty" toml:"commandTimeout" json:"commandTimeout,omitempty"`
	LaunchOnStart  bool     `yaml:"launchOnStart,omitempty" toml:"launchOnStart" json:"launchOnStart,omitempty"`
}

// ModelsConfig defines the primary model and its quantized fallback.
type ModelsConfig struct {
	Primary  ModelEntry `yaml:"primary,omitempty" toml:"primary" json:"primary,omitempty"`
	Fallback ModelEntry `yaml:"fallback,omitempty" toml:"fallback" json:"fallback,omitempty"`
	SwitchAt int        `yaml:"switchAt,omitempty" toml:"switchAt" json:"switchAt,omitempty"` // attempt index that triggers the downgrade
}

// ModelEntry is a model identifier with its runtime launch arguments.
type ModelEntry struct {
	ID   string   `yaml:"id" toml:"id" json:"id"`
	Args []string `yaml:"args,omitempty" toml:"args" json:"args,omitempty"`
}

// InstallConfig defines the dependency installer.
type InstallConfig struct {
	Command  []string    `yaml:"command,omitempty" toml:"command" json:"command,omitempty"`
	Packages []string    `yaml:"packages,omitempty" toml:"packages" json:"packages,omitempty"`
	Retry    RetryConfig `yaml:"retry,omitempty" toml:"retry" json:"retry,omitempty"`
}

// LoopConfig controls the top-level retry loop.
type LoopConfig struct {
	MaxAttempts int      `yaml:"maxAttempts,omitempty" toml:"maxAttempts" json:"maxAttempts,omitempty"`
	StartupWait Duration `yaml:"startupWait,omitempty" toml:"startupWait" json:"startupWait,omitempty"`
	RetryDelay  Duration `yaml:"retryDelay,omitempty" toml:"retryDelay" json:"retryDelay,omitempty"`
}

// SwarmConfig controls agent construction and the inner swarm loop.
type SwarmConfig struct {
	Agents       []string          `yaml:"agents,omitempty" toml:"agents" json:"agents,omitempty"`
	Personas     map[string]string `yaml:"personas,omitempty" toml:"personas" json:"personas,omitempty"` // agent name → extra system prompt
	TaskTemplate string            `yaml:"taskTemplate,omitempty" toml:"taskTemplate" json:"taskTemplate,omitempty"`
	TaskTimeout  Duration          `yaml:"taskTimeout,omitempty" toml:"taskTimeout" json:"taskTimeout,omitempty"`
	MaxTokens    int               `yaml:"maxTokens,omitempty" toml:"maxTokens" json:"maxTokens,omitempty"`
	Temperature  *float64          `yaml:"temperature,omitempty" toml:"temperature" json:"temperature,omitempty"`
	Stream       bool              `yaml:"stream,omitempty" toml:"stream" json:"stream,omitempty"` // stream replies from the runtime
	Retry        RetryConfig       `yaml:"retry,omitempty" toml:"retry" json:"retry,omitempty"`
}

// RetryConfig is a bounded retry policy. MaxAttempts 0 means unbounded.
type RetryConfig struct {
	MaxAttempts int      `yaml:"maxAttempts,omitempty" toml:"maxAttempts" json:"maxAttempts,omitempty"`
	Delay       Duration `yaml:"delay,omitempty" toml:"delay" json:"delay,omitempty"`
	Multiplier  float64  `yaml:"multiplier,omitempty" toml:"multiplier" json:"multiplier,omitempty"`
	MaxDelay    Duration `yaml:"maxDelay,omitempty" toml:"maxDelay" json:"maxDelay,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty" toml:"level" json:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty" toml:"file" json:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty" toml:"consoleStyle" json:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}

// StoreConfig selects where swarm run history is kept.
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty" toml:"driver" json:"driver,omitempty"` // "sqlite" | "memory" | "none"
	Path   string `yaml:"path,omitempty" toml:"path" json:"path,omitempty"`
}

// StatusConfig configures the optional HTTP status server.
type StatusConfig struct {
	Addr string `yaml:"addr,omitempty" toml:"addr" json:"addr,omitempty"` // empty disables the server
}

// HooksConfig maps lifecycle events to shell commands.
type HooksConfig struct {
	InstallDone    []HookEntry `yaml:"installDone,omitempty" toml:"installDone" json:"installDone,omitempty"`
	RuntimeStart   []HookEntry `yaml:"runtimeStart,omitempty" toml:"runtimeStart" json:"runtimeStart,omitempty"`
	ModelLoaded    []HookEntry `yaml:"modelLoaded,omitempty" toml:"modelLoaded" json:"modelLoaded,omitempty"`
	ModelDowngrade []HookEntry `yaml:"modelDowngrade,omitempty" toml:"modelDowngrade" json:"modelDowngrade,omitempty"`
	SwarmStart     []HookEntry `yaml:"swarmStart,omitempty" toml:"swarmStart" json:"swarmStart,omitempty"`
	TaskDone       []HookEntry `yaml:"taskDone,omitempty" toml:"taskDone" json:"taskDone,omitempty"`
	SwarmDone      []HookEntry `yaml:"swarmDone,omitempty" toml:"swarmDone" json:"swarmDone,omitempty"`
	LoopExhausted  []HookEntry `yaml:"loopExhausted,omitempty" toml:"loopExhausted" json:"loopExhausted,omitempty"`
}

// HookBinding pairs a lifecycle event with its configured hook entries.
type HookBinding struct {
	Key     string // config key, e.g. "installDone"
	Event   string // event name, e.g. "install_done"
	Entries []HookEntry
}

// Bindings lists every event with its configured entries, in lifecycle order.
func (h HooksConfig) Bindings() []HookBinding {
	return []HookBinding{
		{"installDone", "install_done", h.InstallDone},
		{"runtimeStart", "runtime_start", h.RuntimeStart},
		{"modelLoaded", "model_loaded", h.ModelLoaded},
		{"modelDowngrade", "model_downgrade", h.ModelDowngrade},
		{"swarmStart", "swarm_start", h.SwarmStart},
		{"taskDone", "task_done", h.TaskDone},
		{"swarmDone", "swarm_done", h.SwarmDone},
		{"loopExhausted", "loop_exhausted", h.LoopExhausted},
	}
}

// HookEntry defines a single hook action.
type HookEntry struct {
	Command string `yaml:"command" toml:"command" json:"command"`
	Timeout int    `yaml:"timeout,omitempty" toml:"timeout" json:"timeout,omitempty"` // milliseconds
}

// Duration is a time.Duration that reads and writes as "5s", "1m30s", ...
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return &ConfigError{Message: "invalid duration " + string(text) + ": " + err.Error()}
	}
	*d = Duration(parsed)
	return nil
}
