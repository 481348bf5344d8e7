package chat

import (
	"github.com/llm-chat-go/internal/models"
)

// History is the ordered conversation state owned by one session. It is
// append-only outside of Clear and Import, which replace it wholesale.
type History struct {
	messages []models.Message
}

// NewHistory creates an empty conversation history
func NewHistory() *History {
	return &History{}
}

// AppendUser appends a user message
func (h *History) AppendUser(content string) {
	h.messages = append(h.messages, models.Message{Role: models.RoleUser, Content: content})
}

// AppendAssistant appends an assistant message
func (h *History) AppendAssistant(content string) {
	h.messages = append(h.messages, models.Message{Role: models.RoleAssistant, Content: content})
}

// Clear empties the history
func (h *History) Clear() {
	h.messages = nil
}

// Messages returns the live message sequence. Callers must not mutate it.
func (h *History) Messages() []models.Message {
	return h.messages
}

// Len returns the number of messages
func (h *History) Len() int {
	return len(h.messages)
}

// Export returns an independent copy of the history
func (h *History) Export() []models.Message {
	return models.CloneMessages(h.messages)
}

// Import replaces the history with an independent copy of messages
func (h *History) Import(messages []models.Message) {
	h.messages = models.CloneMessages(messages)
}
