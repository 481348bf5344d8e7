package chat

import (
	"reflect"
	"testing"

	"github.com/llm-chat-go/internal/models"
)

func TestHistoryAppendOrder(t *testing.T) {
	h := NewHistory()
	h.AppendUser("q1")
	h.AppendAssistant("a1")
	h.AppendUser("q2")

	want := []models.Message{
		{Role: models.RoleUser, Content: "q1"},
		{Role: models.RoleAssistant, Content: "a1"},
		{Role: models.RoleUser, Content: "q2"},
	}
	if got := h.Messages(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected messages: %+v", got)
	}
}

func TestHistoryNoAlternationEnforcement(t *testing.T) {
	h := NewHistory()
	h.AppendUser("q1")
	h.AppendUser("q2")
	h.AppendAssistant("a1")
	h.AppendAssistant("a2")

	if h.Len() != 4 {
		t.Fatalf("any role sequence must be accepted, got %d messages", h.Len())
	}
}

func TestHistoryClear(t *testing.T) {
	h := NewHistory()
	h.AppendUser("q1")
	h.Clear()

	if h.Len() != 0 {
		t.Fatalf("expected empty history, got %d", h.Len())
	}
}

func TestHistoryImportIsCopy(t *testing.T) {
	h := NewHistory()

	source := []models.Message{{Role: models.RoleUser, Content: "original"}}
	h.Import(source)
	source[0].Content = "mutated"

	if got := h.Messages()[0].Content; got != "original" {
		t.Fatalf("import must copy, live state was mutated: %q", got)
	}
}
