package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedWindowLimiter_AllowsUpToLimit(t *testing.T) {
	l := NewFixedWindowLimiter(NewMemoryCounterStore())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "pay:ip", "1.2.3.4", 3, time.Minute)
		assert.NoError(t, err)
		assert.True(t, ok, "attempt %d", i)
	}

	ok, err := l.Allow(ctx, "pay:ip", "1.2.3.4", 3, time.Minute)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestFixedWindowLimiter_KeysAreIndependent(t *testing.T) {
	l := NewFixedWindowLimiter(NewMemoryCounterStore())
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "pay:user", "1", 1, time.Minute)
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "pay:user", "1", 1, time.Minute)
	assert.False(t, ok)

	// 別ユーザ・別操作は影響を受けない
	ok, _ = l.Allow(ctx, "pay:user", "2", 1, time.Minute)
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "pay:ip", "1", 1, time.Minute)
	assert.True(t, ok)
}

func TestMemoryCounterStore_WindowResets(t *testing.T) {
	store := &memoryCounterStore{
		counts:  map[string]int64{},
		expires: map[string]time.Time{},
	}
	base := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	ctx := context.Background()
	n, err := store.Incr(ctx, "k", time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, _ = store.Incr(ctx, "k", time.Minute)
	assert.Equal(t, int64(2), n)

	// ウィンドウを過ぎたらカウンタは巻き戻る
	store.now = func() time.Time { return base.Add(2 * time.Minute) }
	n, _ = store.Incr(ctx, "k", time.Minute)
	assert.Equal(t, int64(1), n)
}
