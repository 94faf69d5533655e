package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jan-server/services/research-api/internal/domain/ratelimit"
	"jan-server/services/research-api/internal/infrastructure/kvstore"
)

var fixedNow = func() time.Time { return time.Date(2025, 3, 14, 23, 30, 0, 0, time.UTC) }

func newLimiter(t *testing.T, max int64) (*ratelimit.Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := kvstore.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), zerolog.Nop())
	return ratelimit.NewLimiter(store, max, zerolog.Nop()).WithClock(fixedNow), mr
}

func TestLimiter_Key(t *testing.T) {
	limiter, _ := newLimiter(t, 3)
	assert.Equal(t, "rate_limit:stream_chat:u1:2025-03-14", limiter.Key("u1"))
}

func TestLimiter_CheckAndIncrement(t *testing.T) {
	ctx := context.Background()
	limiter, mr := newLimiter(t, 3)

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Check(ctx, "u1", false)
		require.NoError(t, err)
		require.True(t, allowed, "request %d should be allowed", i+1)
		require.NoError(t, limiter.Increment(ctx, "u1", false))
	}

	allowed, err := limiter.Check(ctx, "u1", false)
	require.NoError(t, err)
	assert.False(t, allowed)

	got, err := mr.Get(limiter.Key("u1"))
	require.NoError(t, err)
	assert.Equal(t, "3", got)
	assert.Equal(t, 24*time.Hour, mr.TTL(limiter.Key("u1")))

	remaining, err := limiter.Remaining(ctx, "u1", false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining)
}

func TestLimiter_StaffBypass(t *testing.T) {
	ctx := context.Background()
	limiter, mr := newLimiter(t, 1)

	for i := 0; i < 5; i++ {
		allowed, err := limiter.Check(ctx, "staff", true)
		require.NoError(t, err)
		assert.True(t, allowed)
		require.NoError(t, limiter.Increment(ctx, "staff", true))
	}
	assert.False(t, mr.Exists(limiter.Key("staff")))
}

func TestLimiter_RefundRestoresCounter(t *testing.T) {
	ctx := context.Background()
	limiter, mr := newLimiter(t, 3)

	require.NoError(t, limiter.Increment(ctx, "u1", false))
	before, err := mr.Get(limiter.Key("u1"))
	require.NoError(t, err)

	require.NoError(t, limiter.Increment(ctx, "u1", false))
	require.NoError(t, limiter.Decrement(ctx, "u1"))

	after, err := mr.Get(limiter.Key("u1"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLimiter_DecrementNeverNegative(t *testing.T) {
	ctx := context.Background()
	limiter, mr := newLimiter(t, 3)

	require.NoError(t, limiter.Decrement(ctx, "u2"))

	got, err := mr.Get(limiter.Key("u2"))
	require.NoError(t, err)
	assert.Equal(t, "0", got)
	assert.Equal(t, 24*time.Hour, mr.TTL(limiter.Key("u2")))
}
