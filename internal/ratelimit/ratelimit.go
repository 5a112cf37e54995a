package ratelimit

import (
	"context"
	"sync"
	"time"

	"mall/internal/infra/cache"
)

// 固定ウィンドウのレート制限。
type Limiter interface {
	// window内でkeyに対する試行がlimitを超えるならfalse
	Allow(ctx context.Context, operation, key string, limit int64, window time.Duration) (bool, error)
}

type FixedWindowLimiter struct {
	store cache.CounterStore
}

func NewFixedWindowLimiter(store cache.CounterStore) *FixedWindowLimiter {
	return &FixedWindowLimiter{store: store}
}

func (l *FixedWindowLimiter) Allow(ctx context.Context, operation, key string, limit int64, window time.Duration) (bool, error) {
	n, err := l.store.Incr(ctx, l.store.GenerateKey(operation, key), window)
	if err != nil {
		return false, err
	}
	return n <= limit, nil
}

// テスト・ローカル用のインメモリ実装
type memoryCounterStore struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryCounterStore() cache.CounterStore {
	return &memoryCounterStore{
		counts:  map[string]int64{},
		expires: map[string]time.Time{},
		now:     time.Now,
	}
}

func (m *memoryCounterStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.expires[key]; ok && now.After(exp) {
		delete(m.counts, key)
		delete(m.expires, key)
	}

	m.counts[key]++
	if m.counts[key] == 1 {
		m.expires[key] = now.Add(ttl)
	}
	return m.counts[key], nil
}

func (m *memoryCounterStore) GenerateKey(operation, key string) string {
	return operation + ":" + key
}
