// Package lock provides short-lived exclusive leases used to keep a single
// dispatch job per campaign in flight.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotAcquired is returned when another holder owns the key.
	ErrNotAcquired = errors.New("lock not acquired")
	// ErrNotHeld is returned when extending or releasing a lease that expired
	// or was taken over.
	ErrNotHeld = errors.New("lock not held")
)

// Lease is a held lock.
type Lease interface {
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// --- Redis ---

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

type RedisLocker struct {
	rdb       redis.UniversalClient
	keyPrefix string
}

func NewRedisLocker(rdb redis.UniversalClient, keyPrefix string) *RedisLocker {
	if keyPrefix == "" {
		keyPrefix = "zapflow:lock:"
	}
	return &RedisLocker{rdb: rdb, keyPrefix: keyPrefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	lease := &redisLease{rdb: l.rdb, key: l.keyPrefix + key, value: uuid.NewString()}
	ok, err := l.rdb.SetNX(ctx, lease.key, lease.value, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return lease, nil
}

type redisLease struct {
	rdb   redis.UniversalClient
	key   string
	value string
}

func (r *redisLease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, r.rdb, []string{r.key}, r.value, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (r *redisLease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, r.rdb, []string{r.key}, r.value).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// --- In-process ---

type memoryEntry struct {
	token   string
	expires time.Time
}

// MemoryLocker is a process-local Locker for single-instance deployments and
// tests.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if e, ok := m.entries[key]; ok && now.Before(e.expires) {
		return nil, ErrNotAcquired
	}
	token := uuid.NewString()
	m.entries[key] = memoryEntry{token: token, expires: now.Add(ttl)}
	return &memoryLease{locker: m, key: key, token: token}, nil
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	token  string
}

func (l *memoryLease) Extend(ctx context.Context, ttl time.Duration) error {
	m := l.locker
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[l.key]
	if !ok || e.token != l.token || !m.now().Before(e.expires) {
		return ErrNotHeld
	}
	e.expires = m.now().Add(ttl)
	m.entries[l.key] = e
	return nil
}

func (l *memoryLease) Release(ctx context.Context) error {
	m := l.locker
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[l.key]
	if !ok || e.token != l.token {
		return ErrNotHeld
	}
	delete(m.entries, l.key)
	return nil
}
