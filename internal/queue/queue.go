package queue

import "context"

// Handler processes one delivered message body. A nil return acknowledges
// the message; an error triggers the queue's retry policy.
type Handler func(ctx context.Context, data []byte) error

// Subscription is an active consumer registration.
type Subscription interface {
	Unsubscribe() error
}

// Queue is the transport behind track fan-out and the write queue.
type Queue interface {
	// Publish serializes v as JSON on the subject.
	Publish(ctx context.Context, subject string, v any) error

	// Subscribe registers a handler on the subject. Messages whose
	// handler fails are redelivered up to the retry limit, then routed
	// to the subject's dead-letter stream.
	Subscribe(subject string, handler Handler) (Subscription, error)

	// Close drains and releases the transport.
	Close()
}
