// Package liveness detects orphaned jobs through short-lived heartbeats and resumes them.
package liveness

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const heartbeatPrefix = "job:heartbeat:"

// HeartbeatStore is the subset of the key-value store used for heartbeats.
type HeartbeatStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Tracker maintains one heartbeat per conversation while its job is being polled.
// A missing heartbeat on a job that is still in progress means its tracking task died.
type Tracker struct {
	store HeartbeatStore
	ttl   time.Duration
	now   func() time.Time
	log   zerolog.Logger
}

// NewTracker builds a tracker whose heartbeats expire after ttl.
func NewTracker(store HeartbeatStore, ttl time.Duration, log zerolog.Logger) *Tracker {
	return &Tracker{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		log:   log.With().Str("component", "liveness-tracker").Logger(),
	}
}

// Key returns the heartbeat key of a conversation.
func Key(conversationID string) string {
	return heartbeatPrefix + conversationID
}

// Start sets the heartbeat when a polling loop begins.
func (t *Tracker) Start(ctx context.Context, conversationID string) error {
	if err := t.beat(ctx, conversationID); err != nil {
		return err
	}
	t.log.Debug().Str("conversation_id", conversationID).Msg("heartbeat started")
	return nil
}

// Refresh resets the heartbeat TTL; called on every poll tick.
func (t *Tracker) Refresh(ctx context.Context, conversationID string) error {
	return t.beat(ctx, conversationID)
}

// Stop removes the heartbeat on any loop exit.
func (t *Tracker) Stop(ctx context.Context, conversationID string) error {
	if err := t.store.Delete(ctx, Key(conversationID)); err != nil {
		return fmt.Errorf("delete heartbeat: %w", err)
	}
	t.log.Debug().Str("conversation_id", conversationID).Msg("heartbeat stopped")
	return nil
}

// Alive reports whether a tracking task currently holds the heartbeat.
func (t *Tracker) Alive(ctx context.Context, conversationID string) (bool, error) {
	ok, err := t.store.Exists(ctx, Key(conversationID))
	if err != nil {
		return false, fmt.Errorf("check heartbeat: %w", err)
	}
	return ok, nil
}

func (t *Tracker) beat(ctx context.Context, conversationID string) error {
	stamp := t.now().UTC().Format(time.RFC3339)
	if err := t.store.Set(ctx, Key(conversationID), stamp, t.ttl); err != nil {
		return fmt.Errorf("set heartbeat: %w", err)
	}
	return nil
}
