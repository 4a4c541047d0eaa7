package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	poolSize     = 32
	maxRetries   = 3
	dialTimeout  = 5 * time.Second
	readTimeout  = 3 * time.Second
	writeTimeout = 3 * time.Second
	pingTimeout  = 3 * time.Second
)

// NewClient returns a client shared by the event fan-out publisher and the
// comment idempotency guard. The pub/sub subscription holds its own
// connection outside the pool.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     poolSize,
		MaxRetries:   maxRetries,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})
}

func Ping(ctx context.Context, c *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return c.Ping(ctx).Err()
}
