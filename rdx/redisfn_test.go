package rdx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLocker()
	l.clock = func() time.Time { return now }

	ok, err := l.Acquire(ctx, "lock:release:b1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = l.Acquire(ctx, "lock:release:b1", 30*time.Second)
	assert.False(t, ok, "held lock must not be granted twice")

	ok, _ = l.Acquire(ctx, "lock:release:b2", 30*time.Second)
	assert.True(t, ok, "locks are per key")

	now = now.Add(31 * time.Second)
	ok, _ = l.Acquire(ctx, "lock:release:b1", 30*time.Second)
	assert.True(t, ok, "expired lock is free again")

	require.NoError(t, l.Release(ctx, "lock:release:b1"))
	ok, _ = l.Acquire(ctx, "lock:release:b1", 30*time.Second)
	assert.True(t, ok)
}

func TestMemoryKV(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	kv := NewMemoryKV()
	kv.clock = func() time.Time { return now }

	_, err := kv.Get(ctx, "otp:u1")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, kv.Set(ctx, "otp:u1", "123456", 10*time.Minute))
	v, err := kv.Get(ctx, "otp:u1")
	require.NoError(t, err)
	assert.Equal(t, "123456", v)

	for want := int64(1); want <= 3; want++ {
		n, err := kv.Incr(ctx, "sends", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, want, n)
		now = now.Add(10 * time.Minute)
	}

	now = now.Add(time.Minute)
	_, err = kv.Get(ctx, "otp:u1")
	assert.ErrorIs(t, err, ErrMiss, "codes expire")

	now = now.Add(30 * time.Minute)
	n, err := kv.Incr(ctx, "sends", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "the window is not extended by later increments")

	require.NoError(t, kv.Del(ctx, "sends", "missing"))
	n, _ = kv.Incr(ctx, "sends", time.Hour)
	assert.Equal(t, int64(1), n)
}
