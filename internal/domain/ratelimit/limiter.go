// Package ratelimit enforces the per-user daily request quota.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"jan-server/services/research-api/internal/infrastructure/kvstore"
)

const (
	keyPrefix = "rate_limit:stream_chat"
	window    = 24 * time.Hour
)

// Store is the subset of the key-value store the limiter needs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)
}

// Limiter counts successful submissions per user and calendar day (UTC).
// Staff users are never counted.
type Limiter struct {
	store Store
	max   int64
	now   func() time.Time
	log   zerolog.Logger
}

// NewLimiter builds a limiter allowing max requests per day.
func NewLimiter(store Store, max int64, log zerolog.Logger) *Limiter {
	return &Limiter{
		store: store,
		max:   max,
		now:   time.Now,
		log:   log.With().Str("component", "rate-limiter").Logger(),
	}
}

// WithClock overrides the clock used to derive the day key.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Key returns today's counter key for userID.
func (l *Limiter) Key(userID string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, userID, l.now().UTC().Format("2006-01-02"))
}

// Check reports whether userID may submit another request today.
func (l *Limiter) Check(ctx context.Context, userID string, isStaff bool) (bool, error) {
	if isStaff {
		return true, nil
	}

	count, err := l.count(ctx, userID)
	if err != nil {
		return false, err
	}
	return count < l.max, nil
}

// Increment counts one request for userID. Called optimistically before the job is submitted.
func (l *Limiter) Increment(ctx context.Context, userID string, isStaff bool) error {
	if isStaff {
		return nil
	}

	key := l.Key(userID)
	created, err := l.store.SetNX(ctx, key, "1", window)
	if err != nil {
		return fmt.Errorf("create rate limit counter: %w", err)
	}
	if created {
		return nil
	}
	if _, err := l.store.Incr(ctx, key); err != nil {
		return fmt.Errorf("increment rate limit counter: %w", err)
	}
	return nil
}

// Decrement refunds one request after a job ended in error or timeout. The counter never goes below zero.
func (l *Limiter) Decrement(ctx context.Context, userID string) error {
	key := l.Key(userID)
	n, err := l.store.Decr(ctx, key)
	if err != nil {
		return fmt.Errorf("decrement rate limit counter: %w", err)
	}
	if n < 0 {
		if err := l.store.Set(ctx, key, "0", window); err != nil {
			return fmt.Errorf("reset rate limit counter: %w", err)
		}
	}
	l.log.Debug().Str("user_id", userID).Int64("count", n).Msg("rate limit refunded")
	return nil
}

// Remaining returns how many requests userID has left today.
func (l *Limiter) Remaining(ctx context.Context, userID string, isStaff bool) (int64, error) {
	if isStaff {
		return l.max, nil
	}
	count, err := l.count(ctx, userID)
	if err != nil {
		return 0, err
	}
	if count >= l.max {
		return 0, nil
	}
	return l.max - count, nil
}

func (l *Limiter) count(ctx context.Context, userID string) (int64, error) {
	raw, err := l.store.Get(ctx, l.Key(userID))
	if errors.Is(err, kvstore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read rate limit counter: %w", err)
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse rate limit counter %q: %w", raw, err)
	}
	return count, nil
}
