package harvest

import (
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Defaults applied by Options when a field is left at its zero value.
const (
	DefaultConcurrency = 8
	MaxConcurrency     = 64
	DefaultTimeout     = 15 * time.Second
)

// RetryPolicy controls how transient failures are retried.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy returns three attempts with jittered exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = def.MaxInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	return p
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
}

// Options tune a single FetchAll call.
type Options struct {
	// Concurrency caps in-flight requests; values outside 1..MaxConcurrency are clamped.
	Concurrency int
	// FailFast cancels outstanding work after the first failed target.
	FailFast bool
	// Ordered returns results in input order instead of completion order.
	Ordered bool
	// Timeout bounds each attempt, not the batch.
	Timeout time.Duration
	Retry   RetryPolicy
	Header  http.Header
}

// WithDefaults returns a copy with zero values replaced by defaults.
func (o Options) WithDefaults() Options {
	switch {
	case o.Concurrency <= 0:
		o.Concurrency = DefaultConcurrency
	case o.Concurrency > MaxConcurrency:
		o.Concurrency = MaxConcurrency
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	o.Retry = o.Retry.withDefaults()
	return o
}
