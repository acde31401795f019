package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	flowerr "github.com/docuflow/docuflow/internal/errors"
)

// MemQueue is a synchronous in-process Queue for tests and local runs.
// Publish dispatches to subscribers inline, applying the same retry and
// DLQ policy as the NATS transport.
type MemQueue struct {
	mu         sync.Mutex
	handlers   map[string][]Handler
	published  map[string][][]byte
	dlq        map[string][]DLQMessage
	maxRetries int
	closed     bool
}

// NewMemQueue creates an empty in-memory queue.
func NewMemQueue() *MemQueue {
	return &MemQueue{
		handlers:   make(map[string][]Handler),
		published:  make(map[string][][]byte),
		dlq:        make(map[string][]DLQMessage),
		maxRetries: DefaultMaxRetries,
	}
}

// Publish records the message and dispatches it to subscribers inline.
func (q *MemQueue) Publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", subject, err)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue is closed")
	}
	q.published[subject] = append(q.published[subject], data)
	handlers := make([]Handler, len(q.handlers[subject]))
	copy(handlers, q.handlers[subject])
	q.mu.Unlock()

	for _, h := range handlers {
		q.deliver(ctx, subject, h, data)
	}
	return nil
}

func (q *MemQueue) deliver(ctx context.Context, subject string, h Handler, data []byte) {
	var lastErr error
	for attempt := 0; attempt < q.maxRetries; attempt++ {
		lastErr = h(ctx, data)
		if lastErr == nil {
			return
		}
		if flowerr.CodeOf(lastErr) == flowerr.CodeInvalidInput {
			return
		}
	}
	q.mu.Lock()
	q.dlq[subject] = append(q.dlq[subject], DLQMessage{
		Subject: subject,
		Payload: data,
		Error:   lastErr.Error(),
		Retries: q.maxRetries,
	})
	q.mu.Unlock()
}

type memSubscription struct {
	cancel func()
}

func (s *memSubscription) Unsubscribe() error {
	s.cancel()
	return nil
}

// Subscribe registers a handler for the subject.
func (q *MemQueue) Subscribe(subject string, handler Handler) (Subscription, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, fmt.Errorf("queue is closed")
	}

	q.handlers[subject] = append(q.handlers[subject], handler)
	idx := len(q.handlers[subject]) - 1
	return &memSubscription{cancel: func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if idx < len(q.handlers[subject]) {
			q.handlers[subject][idx] = func(context.Context, []byte) error { return nil }
		}
	}}, nil
}

// Close rejects further publishes.
func (q *MemQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Published returns raw payloads published to a subject, for assertions.
func (q *MemQueue) Published(subject string) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, len(q.published[subject]))
	copy(out, q.published[subject])
	return out
}

// DLQ returns dead-lettered messages for a subject.
func (q *MemQueue) DLQ(subject string) []DLQMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DLQMessage, len(q.dlq[subject]))
	copy(out, q.dlq[subject])
	return out
}

// Verify interface implementation at compile time.
var _ Queue = (*MemQueue)(nil)
