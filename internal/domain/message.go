package domain

import "time"

// Message is one entry in a swarm's group conversation.
type Message struct {
	Sender    string    `json:"sender"` // agent name, or "system" for task prompts
	Role      string    `json:"role"`   // "user", "assistant", "system"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
