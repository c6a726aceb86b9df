// Package httpclient builds the outbound HTTP clients used for upstream data
// providers. Policy (timeouts, client-side rate limiting, response size
// limits) lives here so provider packages stay focused on their wire shapes.
package httpclient

import (
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"sage/internal/logging"
)

type loggingRoundTripper struct {
	base   http.RoundTripper
	logger logging.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	elapsed := time.Since(start)
	if err != nil {
		t.logger.Debug("%s %s failed after %s: %v", req.Method, req.URL.Host, elapsed.Round(time.Millisecond), err)
		return nil, err
	}
	t.logger.Debug("%s %s%s -> %d in %s", req.Method, req.URL.Host, req.URL.Path, resp.StatusCode, elapsed.Round(time.Millisecond))
	return resp, nil
}

// New builds an outbound client with the given per-request timeout and a
// transport that logs each call at debug level.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &loggingRoundTripper{
			base:   http.DefaultTransport,
			logger: logging.OrNop(logger),
		},
	}
}

type rateLimitedRoundTripper struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *rateLimitedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

// NewRateLimited builds a client whose transport waits on a client-side token
// bucket before each request. Free upstream tiers throttle aggressively;
// waiting here converts a hard 429 into request latency bounded by the
// client timeout.
func NewRateLimited(timeout time.Duration, logger logging.Logger, rps float64, burst int) *http.Client {
	client := New(timeout, logger)
	client.Transport = &rateLimitedRoundTripper{
		base:    client.Transport,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
	return client
}
