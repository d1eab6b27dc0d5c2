package agent

import (
	"fmt"
	"strings"
	"time"
)

// PromptConfig controls system prompt generation.
type PromptConfig struct {
	AgentName string
	Model     string
	Roster    []string // every agent taking part in the run
	Persona   string
}

// BuildSystemPrompt constructs the system prompt for one agent in a swarm.
func BuildSystemPrompt(cfg PromptConfig) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, one of several agents working in a shared group chat.\n\n", cfg.AgentName)

	b.WriteString(fmt.Sprintf("Current date: %s\n", time.Now().Format("2006-01-02")))
	if cfg.Model != "" {
		b.WriteString(fmt.Sprintf("Model: %s\n", cfg.Model))
	}

	others := make([]string, 0, len(cfg.Roster))
	for _, name := range cfg.Roster {
		if name != cfg.AgentName {
			others = append(others, name)
		}
	}
	if len(others) > 0 {
		b.WriteString(fmt.Sprintf("Other agents: %s\n", strings.Join(others, ", ")))
	}

	b.WriteString("\n")

	b.WriteString("Guidelines:\n")
	b.WriteString("- Messages from other agents are prefixed with their name.\n")
	b.WriteString("- Answer your own task; do not speak for other agents.\n")

	if cfg.Persona != "" {
		b.WriteString("\n")
		b.WriteString(cfg.Persona)
		b.WriteString("\n")
	}

	return b.String()
}
