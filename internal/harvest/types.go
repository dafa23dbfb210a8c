package harvest

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// ContentKind classifies what a fetch produced.
type ContentKind string

// Content kinds assigned by the Classifier.
const (
	KindHTML    ContentKind = "html"
	KindOther   ContentKind = "other"
	KindUnknown ContentKind = "unknown"
	KindFailed  ContentKind = "failed"
)

// Target is a URL to fetch plus the logical batch it belongs to.
type Target struct {
	URL   string
	Batch string
}

// NewTargets builds targets for one batch, skipping blanks and repeats.
func NewTargets(batch string, urls ...string) []Target {
	seen := make(map[string]struct{}, len(urls))
	targets := make([]Target, 0, len(urls))
	for _, raw := range urls {
		u := strings.TrimSpace(raw)
		if u == "" {
			continue
		}
		key := normalizeURL(u)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		targets = append(targets, Target{URL: u, Batch: batch})
	}
	return targets
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL    string
	Header http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher fetches a URL and returns the body plus metadata. A non-2xx status
// is not an error at this layer.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HostLimiter blocks until a request to url may proceed.
type HostLimiter interface {
	Wait(ctx context.Context, url string) error
}

// Observer receives per-target outcomes, typically for metrics.
type Observer interface {
	ObserveFetch(result Result)
	ObserveRetry(target Target, attempt int, err error)
}

// Result is produced exactly once per Target per FetchAll call. Content must
// be treated as read-only by callers.
type Result struct {
	Target
	Succeeded   bool
	StatusCode  int
	ContentKind ContentKind
	Content     []byte
	Header      http.Header
	Err         error
	Attempts    int
	Duration    time.Duration
}

// HasStatus reports whether a response status was obtained.
func (r Result) HasStatus() bool { return r.StatusCode > 0 }

// IsHTML reports whether the result is usable HTML.
func (r Result) IsHTML() bool { return r.Succeeded && r.ContentKind == KindHTML }

// Batch is the output of one FetchAll call.
type Batch struct {
	Results []Result
	// Incomplete is set when fail-fast or cancellation stopped targets from finishing.
	Incomplete bool
}

// Len returns the number of results.
func (b Batch) Len() int { return len(b.Results) }

// HTML returns the results with usable HTML content.
func (b Batch) HTML() []Result {
	out := make([]Result, 0, len(b.Results))
	for _, r := range b.Results {
		if r.IsHTML() {
			out = append(out, r)
		}
	}
	return out
}

// Failed returns the results that did not succeed.
func (b Batch) Failed() []Result {
	var out []Result
	for _, r := range b.Results {
		if !r.Succeeded {
			out = append(out, r)
		}
	}
	return out
}
