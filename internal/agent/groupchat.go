package agent

import (
	"sync"
	"time"

	"github.com/soyeahso/hyperloop/internal/domain"
	"github.com/soyeahso/hyperloop/internal/llm"
)

// SystemSender is the sender name used for task prompts.
const SystemSender = "system"

// GroupChat is the append-only conversation shared by every agent in one
// swarm run. It is safe for concurrent use; appends from different agents
// are not ordered relative to each other.
type GroupChat struct {
	mu       sync.RWMutex
	messages []domain.Message
}

// NewGroupChat creates an empty conversation.
func NewGroupChat() *GroupChat {
	return &GroupChat{}
}

// Append adds a message and returns it with its timestamp filled in.
func (g *GroupChat) Append(sender, role, content string) domain.Message {
	msg := domain.Message{
		Sender:    sender,
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
	g.mu.Lock()
	g.messages = append(g.messages, msg)
	g.mu.Unlock()
	return msg
}

// Messages returns a copy of the transcript.
func (g *GroupChat) Messages() []domain.Message {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]domain.Message, len(g.messages))
	copy(out, g.messages)
	return out
}

// Len returns the number of messages.
func (g *GroupChat) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.messages)
}

// History returns the conversation as seen by the named agent: its own
// replies are assistant turns, everything else is a user turn prefixed with
// the sender's name.
func (g *GroupChat) History(agent string) []llm.Message {
	msgs := g.Messages()
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		switch {
		case m.Sender == agent && m.Role == llm.RoleAssistant:
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		case m.Sender == SystemSender:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: m.Content})
		default:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: m.Sender + ": " + m.Content})
		}
	}
	return out
}
