package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis implements SET NX and the release script over a map.
type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	setErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, exp time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, held := f.values[key]; held {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	f.ttls[key] = exp
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(_ context.Context, script string, keys []string, args ...any) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if script != releaseScript {
		return redis.NewCmdResult(nil, errors.New("unexpected script"))
	}
	if f.values[keys[0]] != args[0].(string) {
		return redis.NewCmdResult(int64(0), nil)
	}
	delete(f.values, keys[0])
	return redis.NewCmdResult(int64(1), nil)
}

func TestRedisAcquireRelease(t *testing.T) {
	t.Parallel()

	fake := newFakeRedis()
	l := NewRedis(fake, time.Minute, time.Millisecond)

	release, err := l.Acquire(context.Background(), "ico")
	require.NoError(t, err)
	assert.Contains(t, fake.values, keyPrefix+"ico")
	assert.Equal(t, time.Minute, fake.ttls[keyPrefix+"ico"])

	require.NoError(t, release(context.Background()))
	assert.NotContains(t, fake.values, keyPrefix+"ico")
	require.ErrorIs(t, release(context.Background()), ErrLockLost)
}

func TestRedisWaitsForHolder(t *testing.T) {
	t.Parallel()

	fake := newFakeRedis()
	l := NewRedis(fake, 0, time.Millisecond)

	first, err := l.Acquire(context.Background(), "ico")
	require.NoError(t, err)

	acquired := make(chan Release, 1)
	go func() {
		r, err := l.Acquire(context.Background(), "ico")
		assert.NoError(t, err)
		acquired <- r
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire must wait for the first release")
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, first(context.Background()))

	select {
	case second := <-acquired:
		require.NoError(t, second(context.Background()))
	case <-time.After(time.Second):
		t.Fatal("second acquire never completed")
	}
}

func TestRedisAcquireTimesOut(t *testing.T) {
	t.Parallel()

	fake := newFakeRedis()
	fake.values[keyPrefix+"ico"] = "someone-else"
	l := NewRedis(fake, 0, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := l.Acquire(ctx, "ico")
	require.ErrorIs(t, err, ErrNotAcquired)
}

func TestRedisAcquireError(t *testing.T) {
	t.Parallel()

	fake := newFakeRedis()
	fake.setErr = errors.New("connection refused")
	l := NewRedis(fake, 0, 0)

	_, err := l.Acquire(context.Background(), "ico")
	require.ErrorContains(t, err, "connection refused")
}
