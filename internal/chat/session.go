package chat

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/llm-chat-go/internal/config"
	"github.com/llm-chat-go/internal/middleware"
	"github.com/llm-chat-go/internal/models"
	"github.com/llm-chat-go/internal/services/ai"
	"github.com/llm-chat-go/internal/services/cache"
	"github.com/llm-chat-go/internal/services/queue"
	"github.com/llm-chat-go/internal/services/ratelimit"
	"github.com/sirupsen/logrus"
)

// Session is one chat interface instance: it owns the conversation history,
// the response cache, the rate window, and the pending request queue. Sessions
// are independent of each other and are not safe for concurrent use from
// multiple goroutines.
type Session struct {
	cfg     *config.Config
	client  *ai.Client
	history *History
	cache   cache.Service
	limiter *ratelimit.Limiter
	queue   *queue.Queue
	metrics *middleware.Metrics
	logger  *logrus.Logger
}

// NewSession creates a session, failing fast with a ConfigError when the
// credential is syntactically invalid and test mode is off
func NewSession(cfg *config.Config, logger *logrus.Logger) (*Session, error) {
	if !cfg.API.TestMode {
		if err := ai.ValidateKey(cfg.API.Key); err != nil {
			return nil, &ConfigError{Reason: err.Error()}
		}
	}

	s := &Session{
		cfg:     cfg,
		client:  ai.NewClient(&cfg.API, logger),
		history: NewHistory(),
		cache:   cache.NewCache(&cfg.Cache, logger),
		limiter: ratelimit.NewLimiter(&cfg.RateLimit, logger),
		queue:   queue.NewQueue(logger),
		metrics: middleware.NewMetrics(),
		logger:  logger,
	}

	logger.WithField("model", cfg.API.Model).Info("Chat session initialized")
	return s, nil
}

// SendMessage sends one message with the full history as context and returns
// the assistant's reply. The user message and the reply are appended to the
// conversation state.
func (s *Session) SendMessage(ctx context.Context, text string) (string, error) {
	if err := s.ensureCredential(); err != nil {
		return "", err
	}
	return s.send(ctx, text)
}

// SendMessageStream sends one message and returns a stream of reply
// fragments. The composite reply is appended to the conversation state only
// when the stream is fully consumed; closing early leaves it unmodified.
func (s *Session) SendMessageStream(ctx context.Context, text string) (*MessageStream, error) {
	if err := s.ensureCredential(); err != nil {
		return nil, err
	}

	s.history.AppendUser(text)

	start := time.Now()
	stream, err := s.client.SendStream(ctx, s.history.Messages())
	if err != nil {
		s.metrics.RecordRequest(s.cfg.API.Model, "error", time.Since(start))
		return nil, err
	}

	return &MessageStream{
		inner:   stream,
		session: s,
		start:   start,
	}, nil
}

// QueueRequest appends a message to the pending batch queue without blocking
func (s *Session) QueueRequest(text string) {
	s.queue.Enqueue(text)
	s.metrics.SetQueueDepth(float64(s.queue.Len()))
}

// ProcessBatch drains up to the configured batch size from the queue and
// resolves each message in order: cached responses are returned without
// consuming rate budget; misses wait for rate admission, dispatch, and are
// cached. Any dispatch failure aborts the batch and discards earlier
// responses.
func (s *Session) ProcessBatch(ctx context.Context) ([]string, error) {
	drained := s.queue.DrainBatch(ctx, s.cfg.Batch.Size, s.cfg.Batch.Timeout)
	s.metrics.SetQueueDepth(float64(s.queue.Len()))
	s.metrics.RecordBatchSize(len(drained))

	responses := make([]string, 0, len(drained))
	for i, message := range drained {
		// Fingerprint context is the model identifier: identical questions to
		// the same model share a cache slot regardless of history position.
		contextKey := s.cfg.API.Model

		if cached, found := s.cache.Get(contextKey, message); found {
			s.metrics.RecordCacheHit()
			responses = append(responses, cached)
			continue
		}
		s.metrics.RecordCacheMiss()

		if err := s.limiter.Wait(ctx); err != nil {
			return nil, &BatchError{Index: i, Err: err}
		}

		reply, err := s.send(ctx, message)
		if err != nil {
			s.logger.WithError(err).WithField("item", i).Error("Batch dispatch failed")
			return nil, &BatchError{Index: i, Err: err}
		}

		s.cache.Set(contextKey, message, reply)
		s.limiter.RecordRequest()
		responses = append(responses, reply)
	}

	s.logger.WithField("responses", len(responses)).Debug("Batch processed")
	return responses, nil
}

// ClearHistory empties the conversation state
func (s *Session) ClearHistory() {
	s.history.Clear()
	s.logger.Info("Chat history cleared")
}

// ExportHistory returns an independent snapshot of the conversation state
func (s *Session) ExportHistory() []models.Message {
	return s.history.Export()
}

// ImportHistory replaces the conversation state with a copy of messages
func (s *Session) ImportHistory(messages []models.Message) {
	s.history.Import(messages)
	s.logger.WithField("messages", len(messages)).Info("Chat history imported")
}

// PendingRequests returns the number of queued, undrained messages
func (s *Session) PendingRequests() int {
	return s.queue.Len()
}

// RateWindowLen exposes the current rate-window occupancy
func (s *Session) RateWindowLen() int {
	return s.limiter.Len()
}

func (s *Session) ensureCredential() error {
	if s.cfg.API.Key == "" {
		return &ValidationError{Reason: "api key must be set before sending messages"}
	}
	return nil
}

// send appends the user message, dispatches the full history, and appends the
// reply. A failed dispatch leaves the user message in place.
func (s *Session) send(ctx context.Context, text string) (string, error) {
	s.history.AppendUser(text)

	start := time.Now()
	reply, err := s.client.Send(ctx, s.history.Messages())
	if err != nil {
		s.metrics.RecordRequest(s.cfg.API.Model, "error", time.Since(start))
		return "", err
	}
	s.metrics.RecordRequest(s.cfg.API.Model, "success", time.Since(start))

	s.history.AppendAssistant(reply)
	return reply, nil
}

// MessageStream yields reply fragments for one streamed message. On
// exhaustion the concatenation of all fragments is recorded as a single
// assistant message.
type MessageStream struct {
	inner    *ai.Stream
	session  *Session
	buf      strings.Builder
	start    time.Time
	finished bool
}

// Recv returns the next fragment, or io.EOF once the stream is exhausted.
// Only a stream consumed to natural exhaustion records the composite reply;
// a stream terminated by Close or a read error never does.
func (m *MessageStream) Recv() (string, error) {
	if m.finished {
		return "", io.EOF
	}

	fragment, err := m.inner.Recv()
	if err == io.EOF {
		m.finished = true
		m.session.history.AppendAssistant(m.buf.String())
		m.session.metrics.RecordRequest(m.session.cfg.API.Model, "success", time.Since(m.start))
		return "", io.EOF
	}
	if err != nil {
		m.finished = true
		m.session.metrics.RecordRequest(m.session.cfg.API.Model, "error", time.Since(m.start))
		return "", err
	}

	m.buf.WriteString(fragment)
	m.session.metrics.RecordStreamFragment()
	return fragment, nil
}

// Close aborts the stream. Later Recv calls return io.EOF and the
// conversation state keeps only the user message.
func (m *MessageStream) Close() error {
	m.finished = true
	return m.inner.Close()
}
