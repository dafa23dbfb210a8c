package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterWaitDelaysSameHost(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		delays []string
	)
	l := New(Config{RatePerHost: 10, BurstPerHost: 1}, func(host string, _ time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		delays = append(delays, host)
	})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://icodrops.com/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://icodrops.com/b"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"icodrops.com"}, delays)
}

func TestLimiterDifferentHostsIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{RatePerHost: 1, BurstPerHost: 1}, nil)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.test/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.test/1"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 2, l.Hosts())
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{}, nil)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://a.test/"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RatePerHost: 0.1, BurstPerHost: 1}, nil)
	require.NoError(t, l.Wait(context.Background(), "https://a.test/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "https://a.test/"))
}
