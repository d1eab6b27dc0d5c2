package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"text/template"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// Runtime
	if cfg.Runtime.Binary == "" {
		add("runtime.binary", "binary is required")
	}
	if cfg.Runtime.Host != "" {
		u, err := url.Parse(cfg.Runtime.Host)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("runtime.host", "must be an http(s) URL, got %q", cfg.Runtime.Host)
		}
	}
	if cfg.Runtime.CommandTimeout < 0 {
		add("runtime.commandTimeout", "must not be negative")
	}

	// Models
	if cfg.Models.Primary.ID == "" {
		add("models.primary.id", "model id is required")
	}
	if cfg.Models.Fallback.ID == "" {
		add("models.fallback.id", "model id is required")
	}
	if cfg.Models.SwitchAt < 0 {
		add("models.switchAt", "must be >= 0, got %d", cfg.Models.SwitchAt)
	}

	// Installer
	if len(cfg.Install.Command) == 0 || cfg.Install.Command[0] == "" {
		add("install.command", "command is required")
	}
	issues = append(issues, validateRetry("install.retry", cfg.Install.Retry)...)

	// Loop
	if cfg.Loop.MaxAttempts < 1 {
		add("loop.maxAttempts", "must be >= 1, got %d", cfg.Loop.MaxAttempts)
	}
	if cfg.Loop.StartupWait < 0 {
		add("loop.startupWait", "must not be negative")
	}
	if cfg.Loop.RetryDelay < 0 {
		add("loop.retryDelay", "must not be negative")
	}

	// Swarm
	for i, name := range cfg.Swarm.Agents {
		if name == "" {
			add(fmt.Sprintf("swarm.agents.%d", i), "agent name must not be empty")
		}
	}
	if _, err := template.New("task").Parse(cfg.Swarm.TaskTemplate); err != nil {
		add("swarm.taskTemplate", "invalid template: %v", err)
	}
	if cfg.Swarm.TaskTimeout < 0 {
		add("swarm.taskTimeout", "must not be negative")
	}
	if cfg.Swarm.MaxTokens < 0 {
		add("swarm.maxTokens", "must be >= 0, got %d", cfg.Swarm.MaxTokens)
	}
	if t := cfg.Swarm.Temperature; t != nil && (*t < 0 || *t > 2) {
		add("swarm.temperature", "must be between 0 and 2, got %g", *t)
	}
	issues = append(issues, validateRetry("swarm.retry", cfg.Swarm.Retry)...)

	// Logging
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}
	validConsoleStyles := []string{"pretty", "compact", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		add("logging.consoleStyle", "must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle)
	}

	// Store
	validDrivers := []string{"sqlite", "memory", "none"}
	if cfg.Store.Driver != "" && !slices.Contains(validDrivers, cfg.Store.Driver) {
		add("store.driver", "must be one of %v, got %q", validDrivers, cfg.Store.Driver)
	}

	// Status server
	if cfg.Status.Addr != "" {
		if _, _, err := net.SplitHostPort(cfg.Status.Addr); err != nil {
			add("status.addr", "must be host:port, got %q", cfg.Status.Addr)
		}
	}

	// Hooks
	for _, b := range cfg.Hooks.Bindings() {
		for i, h := range b.Entries {
			if h.Command == "" {
				add(fmt.Sprintf("hooks.%s.%d.command", b.Key, i), "command is required")
			}
			if h.Timeout < 0 {
				add(fmt.Sprintf("hooks.%s.%d.timeout", b.Key, i), "must be >= 0, got %d", h.Timeout)
			}
		}
	}

	return issues
}

func validateRetry(path string, r RetryConfig) []ValidationIssue {
	var issues []ValidationIssue
	if r.MaxAttempts < 0 {
		issues = append(issues, ValidationIssue{
			Path:    path + ".maxAttempts",
			Message: fmt.Sprintf("must be >= 0, got %d", r.MaxAttempts),
		})
	}
	if r.Delay < 0 {
		issues = append(issues, ValidationIssue{Path: path + ".delay", Message: "must not be negative"})
	}
	if r.Multiplier != 0 && r.Multiplier < 1 {
		issues = append(issues, ValidationIssue{
			Path:    path + ".multiplier",
			Message: fmt.Sprintf("must be 0 or >= 1, got %g", r.Multiplier),
		})
	}
	if r.MaxDelay < 0 {
		issues = append(issues, ValidationIssue{Path: path + ".maxDelay", Message: "must not be negative"})
	}
	return issues
}
