// Package delivery holds "email me when it is done" requests raised while a job is still running.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"jan-server/services/research-api/internal/infrastructure/kvstore"
)

const (
	pendingKey    = "email_queue:pending"
	statusPrefix  = "email_queue:status:"
	defaultTTL    = 24 * time.Hour
	timestampForm = time.RFC3339
)

// Status of a queued email request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Request is a deferred email delivery.
type Request struct {
	QueueID        string    `json:"queue_id"`
	ConversationID string    `json:"conversation_id"`
	Email          string    `json:"email"`
	UserID         string    `json:"user_id"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// Store is the subset of the key-value store used by the queue.
type Store interface {
	LPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LRem(ctx context.Context, key string, count int64, value string) (int64, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Queue keeps pending ids in a list and one status hash per request.
type Queue struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
	log   zerolog.Logger
}

// NewQueue builds a queue whose status records expire after 24h.
func NewQueue(store Store, log zerolog.Logger) *Queue {
	return &Queue{
		store: store,
		ttl:   defaultTTL,
		now:   time.Now,
		log:   log.With().Str("component", "email-queue").Logger(),
	}
}

// WithClock overrides the clock used for ids and timestamps.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// Enqueue records a pending request and returns its id.
func (q *Queue) Enqueue(ctx context.Context, conversationID, email, userID string) (string, error) {
	now := q.now().UTC()
	queueID := fmt.Sprintf("%s_%s_%d", conversationID, email, now.Unix())

	// Same conversation, address and second: the request is already queued.
	if existing, err := q.Get(ctx, queueID); err == nil && existing.Status == StatusPending {
		return queueID, nil
	}

	req := Request{
		QueueID:        queueID,
		ConversationID: conversationID,
		Email:          email,
		UserID:         userID,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := q.write(ctx, req); err != nil {
		return "", err
	}
	if err := q.store.LPush(ctx, pendingKey, queueID); err != nil {
		return "", fmt.Errorf("push pending email request: %w", err)
	}

	q.log.Info().Str("queue_id", queueID).Str("conversation_id", conversationID).Msg("email request queued")
	return queueID, nil
}

// DrainForConversation claims every pending request of a conversation and marks it processing.
// A request removed from the pending list by a concurrent drainer is skipped, so each id is returned once.
func (q *Queue) DrainForConversation(ctx context.Context, conversationID string) ([]Request, error) {
	ids, err := q.store.LRange(ctx, pendingKey, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("list pending email requests: %w", err)
	}

	var claimed []Request
	// The list is LPUSHed, so walk from the tail to keep submission order.
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		req, err := q.Get(ctx, id)
		if errors.Is(err, kvstore.ErrNotFound) {
			if _, err := q.store.LRem(ctx, pendingKey, 0, id); err != nil {
				q.log.Warn().Err(err).Str("queue_id", id).Msg("failed to drop expired email request")
			}
			continue
		}
		if err != nil {
			return claimed, err
		}
		if req.ConversationID != conversationID || req.Status != StatusPending {
			continue
		}

		removed, err := q.store.LRem(ctx, pendingKey, 1, id)
		if err != nil {
			return claimed, fmt.Errorf("claim email request %s: %w", id, err)
		}
		if removed == 0 {
			continue
		}

		if err := q.transition(ctx, &req, StatusProcessing, ""); err != nil {
			return claimed, err
		}
		claimed = append(claimed, req)
	}

	return claimed, nil
}

// MarkSent marks a request as delivered.
func (q *Queue) MarkSent(ctx context.Context, queueID string) error {
	return q.finish(ctx, queueID, StatusSent, "")
}

// MarkFailed marks a request as failed with reason.
func (q *Queue) MarkFailed(ctx context.Context, queueID, reason string) error {
	return q.finish(ctx, queueID, StatusFailed, reason)
}

// Get returns the status record of a request; kvstore.ErrNotFound once it expired.
func (q *Queue) Get(ctx context.Context, queueID string) (Request, error) {
	fields, err := q.store.HGetAll(ctx, statusPrefix+queueID)
	if err != nil {
		return Request{}, err
	}
	return decode(fields), nil
}

func (q *Queue) finish(ctx context.Context, queueID string, status Status, reason string) error {
	req, err := q.Get(ctx, queueID)
	if err != nil {
		return fmt.Errorf("load email request %s: %w", queueID, err)
	}
	return q.transition(ctx, &req, status, reason)
}

func (q *Queue) transition(ctx context.Context, req *Request, status Status, reason string) error {
	req.Status = status
	req.UpdatedAt = q.now().UTC()
	req.ErrorMessage = reason
	return q.write(ctx, *req)
}

func (q *Queue) write(ctx context.Context, req Request) error {
	key := statusPrefix + req.QueueID
	if err := q.store.HSet(ctx, key, encode(req)); err != nil {
		return fmt.Errorf("write email request %s: %w", req.QueueID, err)
	}
	if err := q.store.Expire(ctx, key, q.ttl); err != nil {
		return fmt.Errorf("expire email request %s: %w", req.QueueID, err)
	}
	return nil
}

func encode(req Request) map[string]string {
	return map[string]string{
		"queue_id":        req.QueueID,
		"conversation_id": req.ConversationID,
		"email":           req.Email,
		"user_id":         req.UserID,
		"status":          string(req.Status),
		"created_at":      req.CreatedAt.Format(timestampForm),
		"updated_at":      req.UpdatedAt.Format(timestampForm),
		"error_message":   req.ErrorMessage,
	}
}

func decode(fields map[string]string) Request {
	created, _ := time.Parse(timestampForm, fields["created_at"])
	updated, _ := time.Parse(timestampForm, fields["updated_at"])
	return Request{
		QueueID:        fields["queue_id"],
		ConversationID: fields["conversation_id"],
		Email:          fields["email"],
		UserID:         fields["user_id"],
		Status:         Status(fields["status"]),
		CreatedAt:      created,
		UpdatedAt:      updated,
		ErrorMessage:   fields["error_message"],
	}
}
