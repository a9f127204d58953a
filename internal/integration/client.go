// Package integration contains the HTTP clients for the external services
// Gatherr aggregates: TMDB, Plex, Xtream-Codes IPTV, NZBGet, Radarr and
// Sonarr. One generic resilient client carries the shared behavior (uniform
// timeout, circuit breaker, rate limiting, origin fallback, structured
// attempt errors); the per-service clients supply endpoints and decoding.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mescon/Gatherr/internal/config"
	"github.com/mescon/Gatherr/internal/logger"
	"github.com/mescon/Gatherr/internal/settings"
)

// RateLimiter implements a token bucket rate limiter for API calls.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewRateLimiter creates a rate limiter with specified RPS and burst size.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rps,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available or context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(r.lastRefill).Seconds()
		r.tokens += elapsed * r.refillRate
		if r.tokens > r.maxTokens {
			r.tokens = r.maxTokens
		}
		r.lastRefill = now

		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}

		waitTime := time.Duration((1 - r.tokens) / r.refillRate * float64(time.Second))
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

// Options tune a service client. The zero value gives production behavior:
// the shared request timeout from config, the default transport, a fresh
// circuit breaker and no rate limiting.
type Options struct {
	// Timeout overrides the uniform request timeout (GATHERR_REQUEST_TIMEOUT).
	Timeout time.Duration
	// Transport overrides the HTTP transport. Tests inject a counting
	// RoundTripper here.
	Transport http.RoundTripper
	// Breakers is a shared registry so API handlers can inspect and reset
	// breakers across all clients. A private registry is created when nil.
	Breakers *CircuitBreakerRegistry
	// RateLimit caps outgoing requests per second when > 0.
	RateLimit float64
	RateBurst int
}

// authFunc injects credentials into an outgoing request. Each service client
// picks the strategy its API wants: query parameters, a header, or basic auth.
type authFunc func(*http.Request)

func authQuery(key, value string) authFunc {
	return func(req *http.Request) {
		q := req.URL.Query()
		q.Set(key, value)
		req.URL.RawQuery = q.Encode()
	}
}

func authHeader(key, value string) authFunc {
	return func(req *http.Request) {
		req.Header.Set(key, value)
	}
}

func authBasic(username, password string) authFunc {
	return func(req *http.Request) {
		req.SetBasicAuth(username, password)
	}
}

// request describes one HTTP call. url must be absolute.
type request struct {
	method  string
	url     string
	query   url.Values
	headers map[string]string
	auth    authFunc
	body    interface{} // JSON-encoded when non-nil
}

// validator lets response types reject a 200 body with the wrong shape.
// The generic client treats a validation failure like a decode failure.
type validator interface {
	validate() error
}

// restClient is the resilient core every service client is built on.
type restClient struct {
	service    settings.Service
	httpClient *http.Client
	breaker    *CircuitBreaker
	limiter    *RateLimiter
}

func newRestClient(service settings.Service, opts Options) *restClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = config.Get().RequestTimeout
	}
	registry := opts.Breakers
	if registry == nil {
		registry = NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig())
	}
	var limiter *RateLimiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = NewRateLimiter(opts.RateLimit, burst)
	}
	return &restClient{
		service: service,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: opts.Transport,
		},
		breaker: registry.Get(string(service)),
		limiter: limiter,
	}
}

// do performs a single attempt. Transport failures come back as
// *UnreachableError, non-2xx as *StatusError, and bad bodies as *DecodeError.
// out may be nil when the caller only cares about the status.
func (c *restClient) do(ctx context.Context, req request, out interface{}) error {
	if !c.breaker.Allow() {
		return &UnreachableError{Service: c.service, Target: req.url, Err: ErrCircuitOpen}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var bodyReader io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request body: %w", displayName(c.service), err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	method := req.method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", displayName(c.service), err)
	}
	if len(req.query) > 0 {
		q := httpReq.URL.Query()
		for key, values := range req.query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		httpReq.URL.RawQuery = q.Encode()
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, value := range req.headers {
		httpReq.Header.Set(key, value)
	}
	if req.auth != nil {
		req.auth(httpReq)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.breaker.RecordFailure()
		return &UnreachableError{Service: c.service, Target: req.url, Err: err}
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.breaker.RecordFailure()
		return &StatusError{
			Service:    c.service,
			Target:     req.url,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
	}

	if out != nil {
		payload, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			c.breaker.RecordFailure()
			return &UnreachableError{Service: c.service, Target: req.url, Err: err}
		}
		if err := json.Unmarshal(payload, out); err != nil {
			c.breaker.RecordFailure()
			return &DecodeError{Service: c.service, Target: req.url, Err: err}
		}
		if v, ok := out.(validator); ok {
			if err := v.validate(); err != nil {
				c.breaker.RecordFailure()
				return &DecodeError{Service: c.service, Target: req.url, Err: err}
			}
		}
	}

	c.breaker.RecordSuccess()
	return nil
}

// labeledRequest pairs a request with the label (origin, or origin plus
// endpoint variant) it represents in a fallback sequence.
type labeledRequest struct {
	label string
	req   request
}

// first tries each request in order and stops at the first success, returning
// its label. No request after a success is attempted. When everything fails
// the result is a *ProbeError listing every attempt.
func (c *restClient) first(ctx context.Context, attempts []labeledRequest, out interface{}) (string, error) {
	probeErr := &ProbeError{Service: c.service}
	for _, attempt := range attempts {
		err := c.do(ctx, attempt.req, out)
		if err == nil {
			if len(probeErr.Attempts) > 0 {
				logger.Debugf("%s reachable at %s after %d failed attempts",
					displayName(c.service), attempt.label, len(probeErr.Attempts))
			}
			return attempt.label, nil
		}
		if ctx.Err() != nil {
			return "", err
		}
		probeErr.Attempts = append(probeErr.Attempts, ProbeAttempt{Target: attempt.label, Err: err})
	}
	return "", probeErr
}

// OriginCandidates expands a normalized endpoint into the origins worth
// probing: the user's scheme first, then the opposite scheme, and when no
// explicit port was given, ports 8080 and 80 for each. Order is preserved and
// duplicates are dropped.
func OriginCandidates(endpoint string) []string {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || parsed.Host == "" {
		return nil
	}

	schemes := []string{"http", "https"}
	if parsed.Scheme == "https" {
		schemes = []string{"https", "http"}
	}

	hostname := parsed.Hostname()
	port := parsed.Port()

	var candidates []string
	seen := make(map[string]bool)
	add := func(origin string) {
		if !seen[origin] {
			seen[origin] = true
			candidates = append(candidates, origin)
		}
	}

	for _, scheme := range schemes {
		if port != "" {
			add(fmt.Sprintf("%s://%s:%s", scheme, hostname, port))
			continue
		}
		add(fmt.Sprintf("%s://%s", scheme, hostname))
		add(fmt.Sprintf("%s://%s:8080", scheme, hostname))
		add(fmt.Sprintf("%s://%s:80", scheme, hostname))
	}
	return candidates
}
