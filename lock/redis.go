package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const backendRedis = "redis"

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// RedisLocker takes leased locks in Redis via SET NX. Unlike the SQL
// backends there is no session for the server to watch, so crash recovery
// comes from the TTL instead: a lock whose holder dies frees itself when the
// lease runs out. The TTL therefore bounds how long fn may run under
// WithLock before exclusion is no longer guaranteed.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	log    logrus.FieldLogger
}

// NewRedisLocker constructs a Redis-based lock manager. Every acquired lock
// carries the given ttl as its lease.
func NewRedisLocker(client *redis.Client, ttl time.Duration, opts ...Option) *RedisLocker {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisLocker{client: client, ttl: ttl, log: o.log}
}

// Acquire makes one non-blocking attempt to take the named lock. The
// returned lock holds a random ownership token so that Release cannot drop a
// lock that has expired and been claimed by someone else in the meantime.
func (l *RedisLocker) Acquire(ctx context.Context, name string) (Lock, error) {
	if name == "" {
		return nil, errEmptyName
	}

	token, err := randomToken(16)
	if err != nil {
		return nil, fmt.Errorf("generate lock token: %w", err)
	}

	ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
	if err != nil {
		deniedTotal.WithLabelValues(backendRedis).Inc()
		return nil, fmt.Errorf("%w: %v", ErrNotAcquired, err)
	}
	if !ok {
		deniedTotal.WithLabelValues(backendRedis).Inc()
		return nil, ErrNotAcquired
	}

	acquiredTotal.WithLabelValues(backendRedis).Inc()
	l.log.WithField("name", name).Debug("acquired redis lock")

	return &RedisLock{name: name, token: token, client: l.client, log: l.log}, nil
}

// RedisLock is one held (or already released) Redis lock attempt.
type RedisLock struct {
	name   string
	token  string
	client *redis.Client
	log    logrus.FieldLogger

	mu       sync.Mutex
	released bool
}

func (lk *RedisLock) Name() string { return lk.name }

// Release frees the lock if this handle still owns it. Releasing a lock
// whose lease already expired returns an error, since exclusion was not
// held for the full critical section. Safe to call more than once.
func (lk *RedisLock) Release(ctx context.Context) error {
	lk.mu.Lock()
	if lk.released {
		lk.mu.Unlock()
		return nil
	}
	lk.released = true
	lk.mu.Unlock()

	res, err := lk.client.Eval(ctx, releaseScript, []string{lk.name}, lk.token).Result()
	if err != nil {
		releaseFailuresTotal.WithLabelValues(backendRedis).Inc()
		lk.log.WithField("name", lk.name).WithError(err).Warn("failed to release redis lock")
		return fmt.Errorf("release lock %q: %w", lk.name, err)
	}
	if n, ok := res.(int64); !ok || n == 0 {
		releaseFailuresTotal.WithLabelValues(backendRedis).Inc()
		lk.log.WithField("name", lk.name).Warn("redis lock expired before release")
		return fmt.Errorf("release lock %q: lease expired before release", lk.name)
	}

	lk.log.WithField("name", lk.name).Debug("released redis lock")
	return nil
}

// randomToken creates a hex token for lock ownership.
func randomToken(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
