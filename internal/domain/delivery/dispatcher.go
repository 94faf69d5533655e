package delivery

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"jan-server/services/research-api/internal/infrastructure/metrics"
)

// Message is an outgoing email. Text holds markdown; mailers render HTML from it when HTML is empty.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer sends a single email.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Content is what gets mailed for a conversation: the last query and its final answer.
type Content struct {
	Subject string
	Body    string
}

// Dispatcher sends result emails, either right away or by draining the queue.
type Dispatcher struct {
	queue  *Queue
	mailer Mailer
	log    zerolog.Logger
}

// NewDispatcher builds a dispatcher.
func NewDispatcher(queue *Queue, mailer Mailer, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:  queue,
		mailer: mailer,
		log:    log.With().Str("component", "email-dispatcher").Logger(),
	}
}

// Queue exposes the underlying queue.
func (d *Dispatcher) Queue() *Queue {
	return d.queue
}

// Enqueue records a request to mail the answer once the conversation's job succeeds.
func (d *Dispatcher) Enqueue(ctx context.Context, conversationID, email, userID string) (string, error) {
	return d.queue.Enqueue(ctx, conversationID, email, userID)
}

// SendNow mails content to a single address, bypassing the queue.
func (d *Dispatcher) SendNow(ctx context.Context, to string, content Content) error {
	err := d.mailer.Send(ctx, Message{To: to, Subject: content.Subject, Text: content.Body})
	if err != nil {
		metrics.RecordEmailDelivery(string(StatusFailed))
		return fmt.Errorf("send email: %w", err)
	}
	metrics.RecordEmailDelivery(string(StatusSent))
	return nil
}

// Flush drains the pending requests of a conversation and mails content to each one.
// It returns the ids that were claimed. A failed send marks only that request failed.
func (d *Dispatcher) Flush(ctx context.Context, conversationID string, content Content) ([]string, error) {
	requests, err := d.queue.DrainForConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(requests))
	for _, req := range requests {
		ids = append(ids, req.QueueID)

		if err := d.SendNow(ctx, req.Email, content); err != nil {
			d.log.Error().Err(err).Str("queue_id", req.QueueID).Msg("queued email failed")
			if markErr := d.queue.MarkFailed(ctx, req.QueueID, err.Error()); markErr != nil {
				d.log.Error().Err(markErr).Str("queue_id", req.QueueID).Msg("failed to mark email request failed")
			}
			continue
		}

		if err := d.queue.MarkSent(ctx, req.QueueID); err != nil {
			d.log.Error().Err(err).Str("queue_id", req.QueueID).Msg("failed to mark email request sent")
		}
	}

	if len(ids) > 0 {
		d.log.Info().Str("conversation_id", conversationID).Int("count", len(ids)).Msg("email queue flushed")
	}
	return ids, nil
}
