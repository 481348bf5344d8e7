package ratelimit

import (
	"context"
	"time"

	"github.com/llm-chat-go/internal/config"
	"github.com/sirupsen/logrus"
)

// backoffInterval is how long a blocked caller waits before rechecking.
const backoffInterval = time.Second

// Limiter is a sliding-window admission gate for outbound API calls.
// CanMakeRequest only prunes the window; budget is consumed by an explicit
// RecordRequest after a successful dispatch, so rejected or cached requests
// never count against the window.
type Limiter struct {
	maxRequests int
	window      time.Duration
	timestamps  []time.Time
	logger      *logrus.Logger
	now         func() time.Time
}

// NewLimiter creates a sliding-window rate limiter
func NewLimiter(cfg *config.RateLimitConfig, logger *logrus.Logger) *Limiter {
	return &Limiter{
		maxRequests: cfg.MaxRequests,
		window:      cfg.Window,
		logger:      logger,
		now:         time.Now,
	}
}

// CanMakeRequest prunes expired timestamps and reports whether the window
// has budget for one more dispatch
func (l *Limiter) CanMakeRequest() bool {
	l.prune()
	return len(l.timestamps) < l.maxRequests
}

// RecordRequest records a dispatched request, keeping the window bounded
func (l *Limiter) RecordRequest() {
	l.timestamps = append(l.timestamps, l.now())
	if len(l.timestamps) > l.maxRequests {
		l.timestamps = l.timestamps[len(l.timestamps)-l.maxRequests:]
	}
}

// Wait blocks until the window has budget or ctx is done. The ctx deadline is
// the overall bound on the wait; there is no fairness among concurrent waiters.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if l.CanMakeRequest() {
			return nil
		}

		l.logger.WithFields(logrus.Fields{
			"in_window": len(l.timestamps),
			"max":       l.maxRequests,
		}).Debug("Rate limit reached, waiting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffInterval):
		}
	}
}

// Len returns the number of timestamps currently in the window
func (l *Limiter) Len() int {
	return len(l.timestamps)
}

func (l *Limiter) prune() {
	cutoff := l.now().Add(-l.window)
	for len(l.timestamps) > 0 && !l.timestamps[0].After(cutoff) {
		l.timestamps = l.timestamps[1:]
	}
}
