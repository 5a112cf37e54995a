package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL付きカウンタストア。レート制限のバックエンド。
type CounterStore interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	GenerateKey(operation, key string) string
}

type redisCounterStore struct {
	client      *redis.Client
	serviceName string
}

func NewRedisCounterStore(addr, serviceName string) CounterStore {
	return &redisCounterStore{
		client:      redis.NewClient(&redis.Options{Addr: addr}),
		serviceName: serviceName,
	}
}

// INCRして、キーが新規ならTTLを付ける（固定ウィンドウ）
func (r *redisCounterStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (r *redisCounterStore) GenerateKey(operation, key string) string {
	return fmt.Sprintf("%s:%s:%s", r.serviceName, operation, key)
}
