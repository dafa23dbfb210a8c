package harvest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errStopBatch = errors.New("harvest: fail-fast triggered")

// Harvester fetches batches of targets.
type Harvester struct {
	fetcher    Fetcher
	classifier Classifier
	limiter    HostLimiter
	observer   Observer
	logger     *zap.Logger
}

// Option configures a Harvester.
type Option func(*Harvester)

// WithClassifier replaces the default Classifier.
func WithClassifier(c Classifier) Option {
	return func(h *Harvester) { h.classifier = c }
}

// WithLimiter waits on l before every attempt.
func WithLimiter(l HostLimiter) Option {
	return func(h *Harvester) { h.limiter = l }
}

// WithObserver reports outcomes to o.
func WithObserver(o Observer) Option {
	return func(h *Harvester) { h.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Harvester) {
		if l != nil {
			h.logger = l
		}
	}
}

// New builds a Harvester around fetcher.
func New(fetcher Fetcher, opts ...Option) *Harvester {
	h := &Harvester{
		fetcher: fetcher,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// FetchAll fetches every target and returns one Result per target. Failures
// are recorded on the Result and never returned as errors.
func (h *Harvester) FetchAll(ctx context.Context, targets []Target, opts Options) Batch {
	opts = opts.WithDefaults()
	if len(targets) == 0 {
		return Batch{}
	}

	var (
		mu       sync.Mutex
		results  = make([]Result, len(targets))
		finished = make([]bool, len(targets))
		order    = make([]int, 0, len(targets))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, target := range targets {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res := h.fetchOne(gctx, target, opts)
			mu.Lock()
			results[i] = res
			finished[i] = true
			order = append(order, i)
			mu.Unlock()
			if h.observer != nil {
				h.observer.ObserveFetch(res)
			}
			if opts.FailFast && !res.Succeeded {
				return errStopBatch
			}
			return nil
		})
	}
	_ = g.Wait()

	batch := Batch{Results: make([]Result, 0, len(targets))}
	for i := range targets {
		if !finished[i] {
			results[i] = Result{
				Target:      targets[i],
				ContentKind: KindFailed,
				Err:         &FetchError{URL: targets[i].URL, Err: ErrAborted},
			}
			batch.Incomplete = true
			if !opts.Ordered {
				order = append(order, i)
			}
		} else if errors.Is(results[i].Err, ErrAborted) {
			batch.Incomplete = true
		}
	}
	if opts.Ordered {
		batch.Results = append(batch.Results, results...)
	} else {
		for _, i := range order {
			batch.Results = append(batch.Results, results[i])
		}
	}
	if batch.Incomplete {
		h.logger.Warn("harvest batch incomplete",
			zap.Int("targets", len(targets)),
			zap.Int("failed", len(batch.Failed())),
		)
	}
	return batch
}

func (h *Harvester) fetchOne(ctx context.Context, target Target, opts Options) Result {
	start := time.Now()
	var (
		resp     FetchResponse
		lastErr  error
		attempts int
	)

	operation := func() error {
		attempts++
		if h.limiter != nil {
			if err := h.limiter.Wait(ctx, target.URL); err != nil {
				// rate.Limiter refuses early when the wait would outlive the
				// batch deadline, before ctx itself is done.
				if _, ok := ctx.Deadline(); ok || ctx.Err() != nil {
					err = fmt.Errorf("%w: %w", ErrAborted, err)
				}
				lastErr = err
				return backoff.Permanent(err)
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()

		r, err := h.fetcher.Fetch(attemptCtx, FetchRequest{URL: target.URL, Header: opts.Header.Clone()})
		resp = r
		if err == nil && !h.classifier.AcceptNon2xx && !is2xx(r.StatusCode) {
			err = &StatusError{StatusCode: r.StatusCode}
		}
		lastErr = err
		if err == nil {
			return nil
		}
		if !shouldRetry(ctx, err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		h.logger.Debug("retrying fetch",
			zap.String("url", target.URL),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if h.observer != nil {
			h.observer.ObserveRetry(target, attempts, err)
		}
	}
	_ = backoff.RetryNotify(operation, backoff.WithContext(opts.Retry.backOff(), ctx), notify)

	res := Result{
		Target:     target,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Attempts:   attempts,
		Duration:   time.Since(start),
	}
	var respPtr *FetchResponse
	if resp.StatusCode > 0 {
		respPtr = &resp
	}
	res.ContentKind = h.classifier.Classify(respPtr, lastErr)
	if lastErr == nil && res.ContentKind == KindFailed {
		lastErr = errors.New("no response obtained")
	}
	if lastErr != nil {
		if ctx.Err() != nil && !errors.Is(lastErr, ErrAborted) {
			lastErr = fmt.Errorf("%w: %w", ErrAborted, lastErr)
		}
		res.Err = &FetchError{URL: target.URL, Attempts: attempts, Err: lastErr}
		res.ContentKind = KindFailed
		h.logger.Warn("fetch failed",
			zap.String("url", target.URL),
			zap.String("batch", target.Batch),
			zap.Int("status", resp.StatusCode),
			zap.Int("attempts", attempts),
			zap.Error(lastErr),
		)
		return res
	}
	res.Succeeded = true
	res.Content = resp.Body
	return res
}

// shouldRetry follows the exponential policy: server errors, 429 and
// per-attempt timeouts are retried while the batch context is alive.
func shouldRetry(batchCtx context.Context, err error) bool {
	if err == nil || batchCtx.Err() != nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}
