package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/SplitFi/go-oasis/docker"
)

func TestLocalLocker_Success(t *testing.T) {
	a := setupTest(t)

	t.Run("serializes holders of the same key", func(t *testing.T) {
		testMutualExclusion(t, a, NewLocalLocker())
	})

	t.Run("different keys do not block each other", func(t *testing.T) {
		l := NewLocalLocker()
		unlockA, err := l.Lock(context.Background(), "a")
		a.NoError(err)
		defer unlockA()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		unlockB, err := l.Lock(ctx, "b")
		a.NoError(err)
		unlockB()
	})

	t.Run("keys are forgotten once released", func(t *testing.T) {
		l := NewLocalLocker()
		unlock, err := l.Lock(context.Background(), "k")
		a.NoError(err)
		unlock()
		unlock()
		a.Len(l.keys, 0)
	})
}

func TestLocalLocker_Failure(t *testing.T) {
	a := setupTest(t)
	l := NewLocalLocker()

	unlock, err := l.Lock(context.Background(), "held")
	a.NoError(err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "held")
	a.ErrorIs(err, ErrNotObtained)
}

func TestRedisLocker_Success(t *testing.T) {
	a := setupTest(t)

	r, err := docker.StartRedis()
	if err != nil {
		t.Skipf("redis unavailable: %s", err)
	}
	t.Cleanup(func() { r.Close() })

	client := NewRedisClient(r.GetHostPort("6379/tcp"), "", 0)
	t.Cleanup(func() { client.Close() })

	t.Run("serializes holders of the same key", func(t *testing.T) {
		testMutualExclusion(t, a, NewRedisLocker(client, "test:", 5*time.Second))
	})
}

func testMutualExclusion(t *testing.T, a *assert.Assertions, l Locker) {
	t.Helper()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			unlock, err := l.Lock(ctx, "asset")
			if !a.NoError(err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	a.Equal(int32(1), maxInside)
}

func setupTest(t *testing.T) *assert.Assertions {
	return assert.New(t)
}
