// Package ratelimit implements per-host token buckets for outbound fetches.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/CMoncur/proto-scrape/internal/harvest"
)

// Config holds rate limiter configuration. A non-positive RatePerHost
// disables limiting.
type Config struct {
	RatePerHost  float64
	BurstPerHost int
}

// DelayFunc is told how long a caller waited for host.
type DelayFunc func(host string, waited time.Duration)

// Limiter manages per-host rate limits.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	onDelay  DelayFunc
}

// New creates a Limiter. onDelay may be nil.
func New(cfg Config, onDelay DelayFunc) *Limiter {
	limit := rate.Limit(cfg.RatePerHost)
	if cfg.RatePerHost <= 0 {
		limit = rate.Inf
	}
	burst := cfg.BurstPerHost
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
		onDelay:  onDelay,
	}
}

func (l *Limiter) forHost(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = limiter
	}
	return limiter
}

// Wait blocks until a token is available for the host of rawURL.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := harvest.Host(rawURL)
	if host == "" {
		host = "unknown"
	}
	start := time.Now()
	if err := l.forHost(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond && l.onDelay != nil {
		l.onDelay(host, waited)
	}
	return nil
}

// Hosts returns the number of hosts seen so far.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
