package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const commentIdempotencyTTL = 24 * time.Hour

func commentIdempotencyKey(fileID, clientCommentID string) string {
	return fmt.Sprintf("review:comment:idempotency:%s:%s", fileID, clientCommentID)
}

// RedisCommentGuard rejects replayed comment submissions that carry the same
// client_comment_id within the TTL.
type RedisCommentGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCommentGuard(client *redis.Client) *RedisCommentGuard {
	return &RedisCommentGuard{client: client, ttl: commentIdempotencyTTL}
}

// Claim reports false when key was already claimed.
func (g *RedisCommentGuard) Claim(ctx context.Context, key string) (bool, error) {
	return g.client.SetNX(ctx, key, "1", g.ttl).Result()
}

func (g *RedisCommentGuard) Release(ctx context.Context, key string) {
	_, _ = g.client.Del(ctx, key).Result()
}
