package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisCache(client, time.Hour, 2*time.Hour), mr
}

func TestIdempotency_MissThenHit(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	_, err := c.GetOrderID(ctx, "user-1", "key-1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.PutOrderID(ctx, "user-1", "key-1", "order-a"))
	require.NoError(t, c.PutOrderID(ctx, "user-1", "key-1", "order-b"))

	id, err := c.GetOrderID(ctx, "user-1", "key-1")
	require.NoError(t, err)
	assert.Equal(t, "order-a", id)

	_, err = c.GetOrderID(ctx, "user-2", "key-1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	assert.Equal(t, time.Hour, mr.TTL(idempotencyKey("user-1", "key-1")))
}

func TestWebhookReplayGuard(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()
	body := []byte(`{"reference":"KMB-ABC123-XYZ","status":"PAID"}`)

	seen, err := c.WebhookSeen(ctx, "payjustnow", body)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, c.MarkWebhookProcessed(ctx, "payjustnow", body))

	seen, err = c.WebhookSeen(ctx, "payjustnow", body)
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = c.WebhookSeen(ctx, "payflex", body)
	require.NoError(t, err)
	assert.False(t, seen, "keys are scoped per gateway")

	mr.FastForward(3 * time.Hour)
	seen, err = c.WebhookSeen(ctx, "payjustnow", body)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisErrorsAreWrapped(t *testing.T) {
	c, mr := setupTestRedis(t)
	mr.Close()

	_, err := c.GetOrderID(context.Background(), "s", "k")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}
