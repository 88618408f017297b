package rdx

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by KV.Get for absent or expired keys.
var ErrMiss = errors.New("rdx: key not found")

// KV is the small slice of Redis that short-lived codes need.
type KV interface {
	Set(ctx context.Context, key, val string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	// Incr bumps a counter. ttl starts on the first increment and is not
	// extended by later ones.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type RedisKV struct {
	Conn *redis.Client
}

func NewRedisKV(conn *redis.Client) *RedisKV {
	return &RedisKV{Conn: conn}
}

func (k *RedisKV) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	return k.Conn.Set(ctx, key, val, ttl).Err()
}

func (k *RedisKV) Get(ctx context.Context, key string) (string, error) {
	v, err := k.Conn.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return v, err
}

func (k *RedisKV) Del(ctx context.Context, keys ...string) error {
	return k.Conn.Del(ctx, keys...).Err()
}

func (k *RedisKV) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := k.Conn.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.ExpireNX(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

type memEntry struct {
	val     string
	n       int64
	expires time.Time
}

// MemoryKV is a single-process KV.
type MemoryKV struct {
	mu    sync.Mutex
	data  map[string]memEntry
	clock func() time.Time
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]memEntry), clock: time.Now}
}

// live returns the entry for key unless it has expired. Callers hold mu.
func (k *MemoryKV) live(key string) (memEntry, bool) {
	e, ok := k.data[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expires.IsZero() && !k.clock().Before(e.expires) {
		delete(k.data, key)
		return memEntry{}, false
	}
	return e, true
}

func (k *MemoryKV) Set(_ context.Context, key, val string, ttl time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := memEntry{val: val}
	if ttl > 0 {
		e.expires = k.clock().Add(ttl)
	}
	k.data[key] = e
	return nil
}

func (k *MemoryKV) Get(_ context.Context, key string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.live(key)
	if !ok {
		return "", ErrMiss
	}
	return e.val, nil
}

func (k *MemoryKV) Del(_ context.Context, keys ...string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, key := range keys {
		delete(k.data, key)
	}
	return nil
}

func (k *MemoryKV) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.live(key)
	if !ok && ttl > 0 {
		e.expires = k.clock().Add(ttl)
	}
	e.n++
	k.data[key] = e
	return e.n, nil
}
