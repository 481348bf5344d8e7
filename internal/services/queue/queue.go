package queue

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Queue buffers pending message requests until a batch drain collects them.
// Enqueue never blocks; the queue is unbounded.
type Queue struct {
	mu     sync.Mutex
	items  []string
	notify chan struct{}
	logger *logrus.Logger
}

// NewQueue creates an empty request queue
func NewQueue(logger *logrus.Logger) *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
		logger: logger,
	}
}

// Enqueue appends a message to the pending queue and returns immediately
func (q *Queue) Enqueue(message string) {
	q.mu.Lock()
	q.items = append(q.items, message)
	depth := len(q.items)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}

	q.logger.WithField("depth", depth).Debug("Request queued")
}

// Len returns the number of pending messages
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// DrainBatch collects up to size messages, waiting at most timeout per
// dequeue attempt. It stops early when an attempt times out with nothing
// available, returning whatever was collected.
func (q *Queue) DrainBatch(ctx context.Context, size int, timeout time.Duration) []string {
	var batch []string
	for len(batch) < size {
		message, ok := q.dequeue(ctx, timeout)
		if !ok {
			break
		}
		batch = append(batch, message)
	}

	q.logger.WithField("size", len(batch)).Debug("Batch drained")
	return batch
}

// dequeue pops one message, waiting up to timeout for one to arrive
func (q *Queue) dequeue(ctx context.Context, timeout time.Duration) (string, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			message := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return message, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", false
		case <-timer.C:
			return "", false
		case <-q.notify:
		}
	}
}
