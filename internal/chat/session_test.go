package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/llm-chat-go/internal/config"
	"github.com/llm-chat-go/internal/models"
	"github.com/llm-chat-go/internal/services/ai"
	"github.com/sirupsen/logrus"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		API: config.APIConfig{
			Key:         "sk-test-0123456789abcdef",
			BaseURL:     baseURL,
			Model:       "gpt-3.5-turbo",
			Temperature: 0.7,
			TopP:        0.9,
			Timeout:     5 * time.Second,
		},
		Cache:     config.CacheConfig{Enabled: true, Capacity: 100, TTL: time.Hour},
		RateLimit: config.RateLimitConfig{MaxRequests: 60, Window: time.Minute},
		Batch:     config.BatchConfig{Size: 5, Timeout: 50 * time.Millisecond},
	}
}

func newTestSession(t *testing.T, baseURL string) *Session {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	session, err := NewSession(testConfig(baseURL), log)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	return session
}

// echoServer replies to each completion request with "echo:" plus the last
// user message, and counts dispatches.
func echoServer(t *testing.T, calls *int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt64(calls, 1)
		}

		var req struct {
			Messages []models.Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}

		last := ""
		for _, msg := range req.Messages {
			if msg.Role == models.RoleUser {
				last = msg.Content
			}
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}]}`, "echo:"+last)
	}))
}

func TestNewSessionEmptyKey(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := testConfig("http://unused")
	cfg.API.Key = ""

	_, err := NewSession(cfg, log)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestNewSessionMalformedKey(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := testConfig("http://unused")
	cfg.API.Key = "not-a-key"

	_, err := NewSession(cfg, log)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestNewSessionTestModeBypassesValidation(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := testConfig("http://unused")
	cfg.API.Key = ""
	cfg.API.TestMode = true

	session, err := NewSession(cfg, log)
	if err != nil {
		t.Fatalf("expected test mode to bypass key validation, got %v", err)
	}

	// Sending still requires a credential
	_, err = session.SendMessage(context.Background(), "hi")
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestSendMessageAppendsHistory(t *testing.T) {
	server := echoServer(t, nil)
	defer server.Close()

	session := newTestSession(t, server.URL)
	reply, err := session.SendMessage(context.Background(), "hello")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if reply != "echo:hello" {
		t.Fatalf("unexpected reply: %q", reply)
	}

	want := []models.Message{
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant, Content: "echo:hello"},
	}
	if got := session.ExportHistory(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected history: %+v", got)
	}
}

func TestSendMessageErrorKeepsUserMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer server.Close()

	session := newTestSession(t, server.URL)
	_, err := session.SendMessage(context.Background(), "hello")

	var apiErr *ai.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}

	history := session.ExportHistory()
	if len(history) != 1 || history[0].Role != models.RoleUser {
		t.Fatalf("expected only the user message in history, got %+v", history)
	}
}

func TestSendMessageStreamConcatenation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, fragment := range []string{"once ", "upon ", "a ", "time"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", fragment)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	session := newTestSession(t, server.URL)
	stream, err := session.SendMessageStream(context.Background(), "tell me a story")
	if err != nil {
		t.Fatalf("SendMessageStream failed: %v", err)
	}
	defer stream.Close()

	var full string
	for {
		fragment, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		full += fragment
	}

	if full != "once upon a time" {
		t.Fatalf("unexpected concatenation: %q", full)
	}

	history := session.ExportHistory()
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[1].Role != models.RoleAssistant || history[1].Content != full {
		t.Fatalf("final assistant message must equal the concatenated fragments, got %+v", history[1])
	}
}

func TestStreamEarlyCloseLeavesHistoryUnmodified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	}))
	defer server.Close()

	session := newTestSession(t, server.URL)
	stream, err := session.SendMessageStream(context.Background(), "hello")
	if err != nil {
		t.Fatalf("SendMessageStream failed: %v", err)
	}

	if _, err := stream.Recv(); err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Abandoned stream: no partial assistant message is recorded
	history := session.ExportHistory()
	if len(history) != 1 || history[0].Role != models.RoleUser {
		t.Fatalf("expected only the user message in history, got %+v", history)
	}
}

func TestStreamRecvAfterCloseDoesNotRecordPartial(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	}))
	defer server.Close()

	session := newTestSession(t, server.URL)
	stream, err := session.SendMessageStream(context.Background(), "hello")
	if err != nil {
		t.Fatalf("SendMessageStream failed: %v", err)
	}

	if _, err := stream.Recv(); err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A closed stream stays terminal: draining it must not resurrect the
	// buffered fragments as an assistant message
	for i := 0; i < 2; i++ {
		if _, err := stream.Recv(); err != io.EOF {
			t.Fatalf("expected EOF from closed stream, got %v", err)
		}
	}

	history := session.ExportHistory()
	if len(history) != 1 || history[0].Role != models.RoleUser {
		t.Fatalf("expected only the user message in history, got %+v", history)
	}
}

func TestStreamReadErrorDoesNotRecordPartial(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		// Drop the connection mid-stream without a terminal chunk
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("response writer does not support hijacking")
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Fatalf("hijack failed: %v", err)
		}
		conn.Close()
	}))
	defer server.Close()

	session := newTestSession(t, server.URL)
	stream, err := session.SendMessageStream(context.Background(), "hello")
	if err != nil {
		t.Fatalf("SendMessageStream failed: %v", err)
	}
	defer stream.Close()

	if _, err := stream.Recv(); err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if _, err := stream.Recv(); err == nil || err == io.EOF {
		t.Fatalf("expected read error from dropped connection, got %v", err)
	}

	// The failed stream is terminal and records nothing
	if _, err := stream.Recv(); err != io.EOF {
		t.Fatalf("expected EOF after stream failure, got %v", err)
	}
	history := session.ExportHistory()
	if len(history) != 1 || history[0].Role != models.RoleUser {
		t.Fatalf("expected only the user message in history, got %+v", history)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	session := newTestSession(t, "http://unused")

	messages := []models.Message{
		{Role: models.RoleUser, Content: "q1"},
		{Role: models.RoleAssistant, Content: "a1"},
		{Role: models.RoleUser, Content: "q2"},
	}
	session.ImportHistory(messages)

	before := session.ExportHistory()
	session.ImportHistory(session.ExportHistory())
	after := session.ExportHistory()

	if !reflect.DeepEqual(before, after) {
		t.Fatalf("import(export()) must be idempotent: %+v vs %+v", before, after)
	}
}

func TestExportIsIndependentCopy(t *testing.T) {
	session := newTestSession(t, "http://unused")
	session.ImportHistory([]models.Message{{Role: models.RoleUser, Content: "original"}})

	exported := session.ExportHistory()
	exported[0].Content = "mutated"

	if got := session.ExportHistory()[0].Content; got != "original" {
		t.Fatalf("mutating an export leaked into live state: %q", got)
	}
}

func TestClearHistory(t *testing.T) {
	session := newTestSession(t, "http://unused")
	session.ImportHistory([]models.Message{{Role: models.RoleUser, Content: "q"}})

	session.ClearHistory()
	if got := session.ExportHistory(); len(got) != 0 {
		t.Fatalf("expected empty history, got %+v", got)
	}
}

func TestProcessBatchPreservesOrder(t *testing.T) {
	server := echoServer(t, nil)
	defer server.Close()

	session := newTestSession(t, server.URL)
	session.QueueRequest("m1")
	session.QueueRequest("m2")
	session.QueueRequest("m3")

	responses, err := session.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}

	want := []string{"echo:m1", "echo:m2", "echo:m3"}
	if !reflect.DeepEqual(responses, want) {
		t.Fatalf("unexpected responses: %v", responses)
	}
	if session.PendingRequests() != 0 {
		t.Fatalf("expected drained queue, got %d pending", session.PendingRequests())
	}
}

func TestProcessBatchCacheHitSkipsRateBudget(t *testing.T) {
	var calls int64
	server := echoServer(t, &calls)
	defer server.Close()

	session := newTestSession(t, server.URL)
	session.QueueRequest("same question")
	session.QueueRequest("same question")

	responses, err := session.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}

	if len(responses) != 2 || responses[0] != responses[1] {
		t.Fatalf("unexpected responses: %v", responses)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("expected 1 dispatch, got %d", got)
	}
	// The cached item must not consume rate-limit budget
	if got := session.RateWindowLen(); got != 1 {
		t.Fatalf("expected 1 recorded request, got %d", got)
	}
	// Only the dispatched item touched the conversation
	if got := len(session.ExportHistory()); got != 2 {
		t.Fatalf("expected 2 history messages, got %d", got)
	}
}

func TestProcessBatchAbortsOnDispatchError(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) == 2 {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer server.Close()

	session := newTestSession(t, server.URL)
	session.QueueRequest("m1")
	session.QueueRequest("m2")
	session.QueueRequest("m3")

	responses, err := session.ProcessBatch(context.Background())
	if responses != nil {
		t.Fatalf("aborted batch must discard earlier responses, got %v", responses)
	}

	var batchErr *BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("expected BatchError, got %v", err)
	}
	if batchErr.Index != 1 {
		t.Fatalf("expected failure at item 1, got %d", batchErr.Index)
	}

	var apiErr *ai.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected wrapped APIError, got %v", err)
	}

	// The third item was never dispatched
	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Fatalf("expected 2 dispatches, got %d", got)
	}
}

func TestProcessBatchEmptyQueue(t *testing.T) {
	session := newTestSession(t, "http://unused")

	responses, err := session.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if len(responses) != 0 {
		t.Fatalf("expected no responses, got %v", responses)
	}
}
