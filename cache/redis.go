package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache backs checkout idempotency keys and the webhook replay guard.
// Neither is authoritative: the order state machine still rejects duplicates
// when Redis has lost a key.
type RedisCache struct {
	client         *redis.Client
	idempotencyTTL time.Duration
	webhookTTL     time.Duration
}

func NewRedisCache(client *redis.Client, idempotencyTTL, webhookTTL time.Duration) *RedisCache {
	return &RedisCache{
		client:         client,
		idempotencyTTL: idempotencyTTL,
		webhookTTL:     webhookTTL,
	}
}

// GetOrderID returns the order created for an idempotency key.
func (r *RedisCache) GetOrderID(ctx context.Context, scope, key string) (string, error) {
	id, err := r.client.Get(ctx, idempotencyKey(scope, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	return id, nil
}

// PutOrderID remembers the order created for an idempotency key. The first
// writer wins.
func (r *RedisCache) PutOrderID(ctx context.Context, scope, key, orderID string) error {
	if err := r.client.SetNX(ctx, idempotencyKey(scope, key), orderID, r.idempotencyTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// WebhookSeen reports whether an identical callback body was already applied.
func (r *RedisCache) WebhookSeen(ctx context.Context, gateway string, body []byte) (bool, error) {
	n, err := r.client.Exists(ctx, webhookKey(gateway, body)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

func (r *RedisCache) MarkWebhookProcessed(ctx context.Context, gateway string, body []byte) error {
	if err := r.client.Set(ctx, webhookKey(gateway, body), time.Now().UTC().Format(time.RFC3339), r.webhookTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func idempotencyKey(scope, key string) string {
	return fmt.Sprintf("checkout:idempotency:%s:%s", scope, key)
}

func webhookKey(gateway string, body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("checkout:webhook:%s:%s", gateway, hex.EncodeToString(sum[:]))
}
