// Package queue publishes chat jobs to RabbitMQ and consumes them with a worker pool.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/puddle/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"jan-server/services/research-api/internal/infrastructure/metrics"
)

const (
	defaultPoolSize = 10
	defaultPrefetch = 1
)

// Config describes the broker topology.
type Config struct {
	URL            string
	Queue          string
	ResultExchange string
	PoolSize       int32
	Prefetch       int
}

// DeadLetterExchange is where rejected jobs of queue are routed.
func DeadLetterExchange(queue string) string {
	return queue + ".dlx"
}

// DeadLetterQueue holds rejected jobs of queue.
func DeadLetterQueue(queue string) string {
	return queue + ".dead"
}

func queueArgs(queue string) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange": DeadLetterExchange(queue),
	}
}

// RabbitMQ implements Client. The connection and both channel pools are created on first use.
type RabbitMQ struct {
	cfg Config
	log zerolog.Logger

	mu          sync.Mutex
	conn        *amqp.Connection
	publishPool *puddle.Pool[*amqp.Channel]
	consumePool *puddle.Pool[*amqp.Channel]
	declared    map[string]bool
	closed      bool
}

// NewRabbitMQ returns a lazily connected client.
func NewRabbitMQ(cfg Config, log zerolog.Logger) *RabbitMQ {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = defaultPrefetch
	}
	return &RabbitMQ{
		cfg:      cfg,
		log:      log.With().Str("component", "rabbitmq").Logger(),
		declared: map[string]bool{},
	}
}

// Publish sends payload to the job queue as a persistent JSON message.
func (r *RabbitMQ) Publish(ctx context.Context, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}

	messageID := uuid.NewString()
	err = r.withPublishChannel(ctx, func(ch *amqp.Channel) error {
		return ch.PublishWithContext(ctx, "", r.cfg.Queue, false, false, persistent(messageID, body))
	})
	if err != nil {
		metrics.RecordQueueMessage("publish", "error")
		return "", fmt.Errorf("publish job: %w", err)
	}

	metrics.RecordQueueMessage("publish", "ok")
	r.log.Debug().Str("message_id", messageID).Str("queue", r.cfg.Queue).Msg("job published")
	return messageID, nil
}

// PublishResult sends a terminal result to the result exchange.
func (r *RabbitMQ) PublishResult(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	err = r.withPublishChannel(ctx, func(ch *amqp.Channel) error {
		return ch.PublishWithContext(ctx, r.cfg.ResultExchange, routingKey, false, false, persistent(uuid.NewString(), body))
	})
	if err != nil {
		metrics.RecordQueueMessage("result", "error")
		return fmt.Errorf("publish result: %w", err)
	}
	metrics.RecordQueueMessage("result", "ok")
	return nil
}

func persistent(messageID string, body []byte) amqp.Publishing {
	return amqp.Publishing{
		MessageId:    messageID,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}
}

func (r *RabbitMQ) withPublishChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	pool, _, err := r.pools(ctx)
	if err != nil {
		return err
	}

	res, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire channel: %w", err)
	}

	if err := fn(res.Value()); err != nil {
		res.Destroy()
		return err
	}
	res.Release()
	return nil
}

// Consume runs handler for each delivery on queueName until ctx is done. Handler errors
// and panics reject the message without requeue so it is dead-lettered.
func (r *RabbitMQ) Consume(ctx context.Context, queueName string, handler Handler) error {
	_, pool, err := r.pools(ctx)
	if err != nil {
		return err
	}

	res, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire channel: %w", err)
	}
	ch := res.Value()

	if err := r.declareQueue(ch, queueName); err != nil {
		res.Destroy()
		return err
	}
	if err := ch.Qos(r.cfg.Prefetch, 0, false); err != nil {
		res.Destroy()
		return fmt.Errorf("set prefetch: %w", err)
	}

	consumerTag := "research-api-" + uuid.NewString()
	deliveries, err := ch.ConsumeWithContext(ctx, queueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		res.Destroy()
		return fmt.Errorf("consume %s: %w", queueName, err)
	}

	log := r.log.With().Str("queue", queueName).Str("consumer", consumerTag).Logger()
	log.Info().Msg("consumer started")

	for {
		select {
		case <-ctx.Done():
			if err := ch.Cancel(consumerTag, false); err != nil {
				res.Destroy()
			} else {
				res.Release()
			}
			log.Info().Msg("consumer stopped")
			return nil

		case d, ok := <-deliveries:
			if !ok {
				res.Destroy()
				return fmt.Errorf("consumer channel for %s closed", queueName)
			}
			r.dispatch(ctx, d, handler, log)
		}
	}
}

func (r *RabbitMQ) dispatch(ctx context.Context, d amqp.Delivery, handler Handler, log zerolog.Logger) {
	delivery := Delivery{MessageID: d.MessageId, Body: d.Body, Redelivered: d.Redelivered}

	if err := Safely(ctx, handler, delivery); err != nil {
		metrics.RecordQueueMessage("consume", "error")
		log.Error().Err(err).Str("message_id", d.MessageId).Msg("job failed, dead-lettering")
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.Error().Err(nackErr).Str("message_id", d.MessageId).Msg("failed to nack message")
		}
		return
	}

	metrics.RecordQueueMessage("consume", "ok")
	if err := d.Ack(false); err != nil {
		log.Error().Err(err).Str("message_id", d.MessageId).Msg("failed to ack message")
	}
}

// Safely runs handler and turns a panic into an error.
func Safely(ctx context.Context, handler Handler, d Delivery) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v\n%s", p, debug.Stack())
		}
	}()
	return handler(ctx, d)
}

// Close releases both pools and the connection. It is safe to call more than once.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.teardown()
}

func (r *RabbitMQ) teardown() error {
	if r.publishPool != nil {
		r.publishPool.Close()
		r.publishPool = nil
	}
	if r.consumePool != nil {
		r.consumePool.Close()
		r.consumePool = nil
	}
	r.declared = map[string]bool{}

	if r.conn == nil {
		return nil
	}
	conn := r.conn
	r.conn = nil
	if conn.IsClosed() {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("close rabbitmq connection: %w", err)
	}
	return nil
}

// pools connects and declares the topology once, or again after the connection dropped.
func (r *RabbitMQ) pools(ctx context.Context) (*puddle.Pool[*amqp.Channel], *puddle.Pool[*amqp.Channel], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, nil, ErrClosed
	}
	if r.conn != nil && !r.conn.IsClosed() {
		return r.publishPool, r.consumePool, nil
	}
	if r.conn != nil {
		r.log.Warn().Msg("rabbitmq connection lost, reconnecting")
		_ = r.teardown()
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	conn, err := amqp.Dial(r.cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	if err := r.declareTopology(conn); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	publishPool, err := newChannelPool(conn, r.cfg.PoolSize)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	consumePool, err := newChannelPool(conn, r.cfg.PoolSize)
	if err != nil {
		publishPool.Close()
		_ = conn.Close()
		return nil, nil, err
	}

	r.conn = conn
	r.publishPool = publishPool
	r.consumePool = consumePool
	r.log.Info().Int32("pool_size", r.cfg.PoolSize).Msg("rabbitmq connected")
	return publishPool, consumePool, nil
}

func newChannelPool(conn *amqp.Connection, size int32) (*puddle.Pool[*amqp.Channel], error) {
	pool, err := puddle.NewPool(&puddle.Config[*amqp.Channel]{
		Constructor: func(context.Context) (*amqp.Channel, error) {
			return conn.Channel()
		},
		Destructor: func(ch *amqp.Channel) {
			_ = ch.Close()
		},
		MaxSize: size,
	})
	if err != nil {
		return nil, fmt.Errorf("create channel pool: %w", err)
	}
	return pool, nil
}

func (r *RabbitMQ) declareTopology(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if r.cfg.ResultExchange != "" {
		if err := ch.ExchangeDeclare(r.cfg.ResultExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare result exchange: %w", err)
		}
	}
	r.declared = map[string]bool{}
	return r.declareQueueLocked(ch, r.cfg.Queue)
}

func (r *RabbitMQ) declareQueue(ch *amqp.Channel, queue string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.declareQueueLocked(ch, queue)
}

func (r *RabbitMQ) declareQueueLocked(ch *amqp.Channel, queue string) error {
	if r.declared[queue] {
		return nil
	}

	dlx := DeadLetterExchange(queue)
	dead := DeadLetterQueue(queue)
	if err := ch.ExchangeDeclare(dlx, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(dead, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}
	if err := ch.QueueBind(dead, "", dlx, false, nil); err != nil {
		return fmt.Errorf("bind dead-letter queue: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, queueArgs(queue)); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}

	r.declared[queue] = true
	return nil
}

var _ Client = (*RabbitMQ)(nil)
