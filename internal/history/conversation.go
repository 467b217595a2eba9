// Package history persists chat conversations: one document per conversation
// holding its ordered, append-only message list.
package history

import (
	"time"
	"unicode/utf8"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single chat message. Only user and assistant messages are stored.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is an ordered thread of messages owned by one user id.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary is the list view of a conversation.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
}

const (
	titleMaxRunes    = 20
	titleEllipsis    = "..."
	PlaceholderTitle = "New conversation"
)

// Title is the first 20 characters of the first user message, with an
// ellipsis when it had to be cut.
func (c *Conversation) Title() string {
	for _, m := range c.Messages {
		if m.Role != RoleUser {
			continue
		}
		text := m.Content
		if utf8.RuneCountInString(text) <= titleMaxRunes {
			return text
		}
		return string([]rune(text)[:titleMaxRunes]) + titleEllipsis
	}
	return PlaceholderTitle
}

func (c *Conversation) Summary() Summary {
	return Summary{
		ID:           c.ID,
		Title:        c.Title(),
		UpdatedAt:    c.UpdatedAt,
		MessageCount: len(c.Messages),
	}
}

// Summaries maps conversations to their list view, keeping order.
func Summaries(convs []Conversation) []Summary {
	out := make([]Summary, 0, len(convs))
	for i := range convs {
		out = append(out, convs[i].Summary())
	}
	return out
}

func (c *Conversation) clone() *Conversation {
	cp := *c
	cp.Messages = append(make([]Message, 0, len(c.Messages)), c.Messages...)
	return &cp
}
