package lock

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/juju/clock"
	"github.com/juju/clock/testclock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobscan/jobscan/pkg/config"
	"github.com/jobscan/jobscan/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// exclusive checks that no two holders of the same key overlap
func exclusive(t *testing.T, l Locker) {
	t.Helper()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Lock(context.Background(), "jk1:same")
			if err != nil {
				t.Errorf("Lock() error = %v", err)
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestKeyedMutex_Exclusive(t *testing.T) {
	m := NewKeyedMutex()
	exclusive(t, m)
	assert.Equal(t, 0, m.Len(), "entries are dropped after release")
}

func TestKeyedMutex_DifferentKeysDoNotBlock(t *testing.T) {
	m := NewKeyedMutex()
	releaseA, err := m.Lock(context.Background(), "jk1:a")
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	releaseB, err := m.Lock(ctx, "jk1:b")
	require.NoError(t, err)
	releaseB()
}

func TestKeyedMutex_ContextCancelled(t *testing.T) {
	m := NewKeyedMutex()
	release, err := m.Lock(context.Background(), "jk1:a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, "jk1:a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release() // second call is a no-op
	assert.Equal(t, 0, m.Len())
}

func newTestRedisLocker(t *testing.T, cfg config.LockConfig) (*RedisLocker, *miniredis.Miniredis) {
	return newTestRedisLockerWithClock(t, cfg, nil)
}

func newTestRedisLockerWithClock(t *testing.T, cfg config.LockConfig, clk clock.Clock) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewRedisLocker(client, cfg, clk, testLogger())
	t.Cleanup(func() { l.Close() })
	return l, mr
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	l, mr := newTestRedisLocker(t, config.LockConfig{KeyPrefix: "jobscan:identity:"})

	release, err := l.Lock(context.Background(), "jk1:abc")
	require.NoError(t, err)
	assert.True(t, mr.Exists("jobscan:identity:jk1:abc"))
	ttl := mr.TTL("jobscan:identity:jk1:abc")
	assert.Equal(t, DefaultLockTTL, ttl)

	release()
	assert.False(t, mr.Exists("jobscan:identity:jk1:abc"))
}

func TestRedisLocker_Exclusive(t *testing.T) {
	l, _ := newTestRedisLocker(t, config.LockConfig{RetryDelay: time.Millisecond, MaxRetries: 10000})
	exclusive(t, l)
}

func TestRedisLocker_NotAcquired(t *testing.T) {
	l, mr := newTestRedisLocker(t, config.LockConfig{RetryDelay: time.Millisecond, MaxRetries: 3})
	require.NoError(t, mr.Set("jk1:busy", "someone-else"))

	_, err := l.Lock(context.Background(), "jk1:busy")
	assert.ErrorIs(t, err, utils.ErrLockNotAcquired)
	assert.Equal(t, "Reconcile_LockNotAcquired", utils.CategorizeError(err))
}

func TestRedisLocker_ReleaseDoesNotStealForeignLock(t *testing.T) {
	l, mr := newTestRedisLocker(t, config.LockConfig{TTL: time.Second})

	release, err := l.Lock(context.Background(), "jk1:a")
	require.NoError(t, err)

	// Our lock expires and another process takes the key
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("jk1:a", "other-token"))

	release()
	got, err := mr.Get("jk1:a")
	require.NoError(t, err)
	assert.Equal(t, "other-token", got)
}

func TestRedisLocker_RetryWaitsOnClock(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	l, mr := newTestRedisLockerWithClock(t, config.LockConfig{RetryDelay: time.Hour, MaxRetries: 3}, clk)
	require.NoError(t, mr.Set("jk1:busy", "someone-else"))

	type result struct {
		release func()
		err     error
	}
	done := make(chan result, 1)
	go func() {
		release, err := l.Lock(context.Background(), "jk1:busy")
		done <- result{release, err}
	}()

	// The first attempt fails and the locker waits one retry delay on the clock
	select {
	case <-clk.Alarms():
	case <-time.After(5 * time.Second):
		t.Fatal("Lock never waited on the clock")
	}
	mr.Del("jk1:busy")
	clk.Advance(time.Hour)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.True(t, mr.Exists("jk1:busy"))
		r.release()
	case <-time.After(5 * time.Second):
		t.Fatal("Lock did not retry after the clock advanced")
	}
}

func TestRedisLocker_RedisDown(t *testing.T) {
	l, mr := newTestRedisLocker(t, config.LockConfig{})
	mr.Close()

	_, err := l.Lock(context.Background(), "jk1:a")
	assert.True(t, errors.Is(err, utils.ErrLockNotAcquired))
}

func TestNew_WithoutRedisURL(t *testing.T) {
	l, err := New(context.Background(), config.LockConfig{}, nil, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &KeyedMutex{}, l)
}

func TestNew_WithRedisURL(t *testing.T) {
	mr := miniredis.RunT(t)
	l, err := New(context.Background(), config.LockConfig{RedisURL: "redis://" + mr.Addr()}, nil, testLogger())
	require.NoError(t, err)
	rl, ok := l.(*RedisLocker)
	require.True(t, ok)
	rl.Close()

	_, err = New(context.Background(), config.LockConfig{RedisURL: "://bad"}, nil, testLogger())
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
}
