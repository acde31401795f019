package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"

	flowerr "github.com/docuflow/docuflow/internal/errors"
)

// DefaultMaxRetries bounds redeliveries before a message goes to the DLQ.
const DefaultMaxRetries = 3

// NATSQueue implements Queue over a NATS connection. Subjects are
// namespaced under a prefix so several environments can share a server.
type NATSQueue struct {
	nc         *nats.Conn
	prefix     string
	maxRetries int
	logger     *slog.Logger
}

// NATSOptions configures Connect.
type NATSOptions struct {
	URL        string
	Prefix     string
	MaxRetries int
	Logger     *slog.Logger
}

// Connect dials NATS and returns a queue handle.
func Connect(opts NATSOptions) (*NATSQueue, error) {
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	if opts.Prefix == "" {
		opts.Prefix = "docuflow"
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	nc, err := nats.Connect(opts.URL, nats.Name("docuflow"))
	if err != nil {
		return nil, fmt.Errorf("connect nats at %s: %w", opts.URL, err)
	}
	return &NATSQueue{
		nc:         nc,
		prefix:     opts.Prefix,
		maxRetries: opts.MaxRetries,
		logger:     opts.Logger,
	}, nil
}

func (q *NATSQueue) subject(s string) string { return q.prefix + "." + s }

// Publish serializes v as JSON and publishes it.
func (q *NATSQueue) Publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", subject, err)
	}
	if err := q.nc.Publish(q.subject(subject), data); err != nil {
		return flowerr.TransientIO("publish to "+subject, err)
	}
	return nil
}

// Subscribe registers a queue-group consumer with retry and DLQ support.
// Permanently invalid messages are dropped with a warning instead of
// poisoning the retry loop.
func (q *NATSQueue) Subscribe(subject string, handler Handler) (Subscription, error) {
	full := q.subject(subject)

	sub, err := q.nc.QueueSubscribe(full, "docuflow-workers", func(msg *nats.Msg) {
		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get(RetryHeader); v != "" {
				retries, _ = strconv.Atoi(v)
			}
		}

		err := handler(context.Background(), msg.Data)
		if err == nil {
			return
		}

		if flowerr.CodeOf(err) == flowerr.CodeInvalidInput {
			q.logger.Warn("dropping invalid message",
				slog.String("subject", subject),
				slog.String("error", err.Error()))
			return
		}

		retries++
		if retries >= q.maxRetries {
			q.toDLQ(subject, msg.Data, err, retries)
			return
		}

		retryMsg := nats.NewMsg(full)
		retryMsg.Data = msg.Data
		retryMsg.Header = nats.Header{}
		retryMsg.Header.Set(RetryHeader, strconv.Itoa(retries))
		if pubErr := q.nc.PublishMsg(retryMsg); pubErr != nil {
			q.logger.Error("retry publish failed",
				slog.String("subject", subject),
				slog.String("error", pubErr.Error()))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", full, err)
	}
	return sub, nil
}

func (q *NATSQueue) toDLQ(subject string, payload []byte, cause error, retries int) {
	q.logger.Error("message exhausted retries, routing to dlq",
		slog.String("subject", subject),
		slog.Int("retries", retries),
		slog.String("error", cause.Error()))

	dlq := DLQMessage{
		Subject: subject,
		Payload: payload,
		Error:   cause.Error(),
		Retries: retries,
	}
	data, _ := json.Marshal(dlq)
	if err := q.nc.Publish(q.subject(subject)+DLQSuffix, data); err != nil {
		q.logger.Error("dlq publish failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}

// Close drains the connection.
func (q *NATSQueue) Close() {
	_ = q.nc.Drain()
}

// Verify interface implementation at compile time.
var _ Queue = (*NATSQueue)(nil)
