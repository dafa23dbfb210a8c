// Package collyfetcher implements harvest.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/CMoncur/proto-scrape/internal/harvest"
)

// DefaultMaxBodyBytes bounds response bodies when Config.MaxBodyBytes is unset.
const DefaultMaxBodyBytes = 10 << 20

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

// Fetcher performs single GETs through a cloned Colly collector. Non-2xx
// responses are returned with their status and body rather than as errors.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// fetchState is written by collector callbacks on the visiting goroutine only.
type fetchState struct {
	resp harvest.FetchResponse
	err  error
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(newHTTPTransport())
	// The HTTP client is shared by every clone, so the timeout is set once here.
	if cfg.Timeout > 0 {
		c.SetRequestTimeout(cfg.Timeout)
	}
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single HTTP GET. ctx bounds the request.
func (f *Fetcher) Fetch(ctx context.Context, request harvest.FetchRequest) (harvest.FetchResponse, error) {
	start := time.Now()
	state := &fetchState{}
	collector := f.buildCollector(ctx, request, start, state)
	return f.runCollector(ctx, collector, request.URL, state)
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	request harvest.FetchRequest,
	start time.Time,
	state *fetchState,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, request, start, state)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request harvest.FetchRequest,
	start time.Time,
	state *fetchState,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request.Header, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		state.resp = toFetchResponse(r, start)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			state.resp = toFetchResponse(r, start)
		}
		state.err = err
	})
}

func toFetchResponse(r *colly.Response, start time.Time) harvest.FetchResponse {
	resp := harvest.FetchResponse{
		StatusCode: r.StatusCode,
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(start),
	}
	if r.Request != nil && r.Request.URL != nil {
		resp.URL = r.Request.URL.String()
	}
	if r.Headers != nil {
		resp.Header = r.Headers.Clone()
	}
	return resp
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	url string,
	state *fetchState,
) (harvest.FetchResponse, error) {
	type outcome struct {
		resp harvest.FetchResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		err := collector.Visit(url)
		done <- outcome{resp: state.resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return harvest.FetchResponse{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case out := <-done:
		if out.err != nil {
			return out.resp, fmt.Errorf("colly visit failed: %w", out.err)
		}
		if state.err != nil {
			return out.resp, fmt.Errorf("colly response failed: %w", state.err)
		}
		if out.resp.URL == "" {
			out.resp.URL = url
		}
		return out.resp, nil
	}
}

func copyHeaders(header http.Header, r *colly.Request) {
	if header == nil || r.Headers == nil {
		return
	}
	for key, values := range header {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}
}
