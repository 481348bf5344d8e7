package models

import (
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message represents a single chat message
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CacheEntry represents a cached response
type CacheEntry struct {
	Question  string
	Answer    string
	CreatedAt time.Time
}

// HistorySnapshot is a persisted conversation state
type HistorySnapshot struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
	SavedAt   time.Time `json:"saved_at"`
}

// CloneMessages returns an independent copy of a message slice
func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}
