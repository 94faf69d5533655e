package queue

import (
	"context"
	"errors"
)

// ErrClosed is returned by a client after Close.
var ErrClosed = errors.New("queue client is closed")

// Delivery is one message received from the broker.
type Delivery struct {
	MessageID   string
	Body        []byte
	Redelivered bool
}

// Handler processes a delivery. A returned error dead-letters the message.
type Handler func(ctx context.Context, d Delivery) error

// Publisher sends jobs and their results to the broker.
type Publisher interface {
	// Publish enqueues payload as JSON on the job queue and returns its message id.
	Publish(ctx context.Context, payload any) (string, error)

	// PublishResult announces a terminal job result on the result exchange.
	PublishResult(ctx context.Context, routingKey string, payload any) error
}

// Consumer receives jobs from the broker.
type Consumer interface {
	// Consume runs handler for every delivery on queueName until ctx is done.
	Consume(ctx context.Context, queueName string, handler Handler) error
}

// Client is a broker connection that publishes and consumes.
type Client interface {
	Publisher
	Consumer
	Close() error
}
