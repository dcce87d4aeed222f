package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-oasis/service/logger"
)

// ErrNotObtained is returned when a lock could not be acquired before the context expired
var ErrNotObtained = errors.New("lock not obtained")

// Locker provides mutual exclusion per key
type Locker interface {
	// Lock blocks until the key is held or ctx is done. The returned func releases the key.
	Lock(ctx context.Context, key string) (func(), error)
}

// LocalLocker serializes callers within a single process
type LocalLocker struct {
	mu   sync.Mutex
	keys map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{keys: make(map[string]*keyLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	k, ok := l.keys[key]
	if !ok {
		k = &keyLock{sem: make(chan struct{}, 1)}
		l.keys[key] = k
	}
	k.refs++
	l.mu.Unlock()

	select {
	case k.sem <- struct{}{}:
	case <-ctx.Done():
		l.deref(key, k)
		return nil, fmt.Errorf("%w: %s: %s", ErrNotObtained, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-k.sem
			l.deref(key, k)
		})
	}, nil
}

func (l *LocalLocker) deref(key string, k *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k.refs--
	if k.refs == 0 {
		delete(l.keys, key)
	}
}

// RedisLocker serializes callers across processes sharing a redis instance
type RedisLocker struct {
	client *redislock.Client
	prefix string
	ttl    time.Duration
	retry  redislock.RetryStrategy
}

func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client: redislock.New(client),
		prefix: prefix,
		ttl:    ttl,
		retry:  redislock.LinearBackoff(25 * time.Millisecond),
	}
}

// Lock obtains the key in redis. The lock expires after the locker's ttl if it is never released,
// so the ttl must exceed the longest critical section.
func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.ttl)
		defer cancel()
	}

	lock, err := r.client.Obtain(ctx, r.prefix+key, r.ttl, &redislock.Options{RetryStrategy: r.retry})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %s: %s", ErrNotObtained, key, err)
		}
		return nil, err
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			logger.For(ctx).WithError(err).WithFields(logrus.Fields{"key": key}).Warn("failed to release lock")
		}
	}, nil
}

// NewRedisClient connects to the redis instance at addr
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}
