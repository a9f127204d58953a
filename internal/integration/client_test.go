package integration

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mescon/Gatherr/internal/config"
	"github.com/mescon/Gatherr/internal/db"
	"github.com/mescon/Gatherr/internal/settings"
)

func TestMain(m *testing.M) {
	config.SetForTesting(config.NewTestConfig())
	os.Exit(m.Run())
}

// newTestStore builds a settings store on a throwaway database.
func newTestStore(t *testing.T) *settings.Store {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "gatherr-integration-test-*")
	require.NoError(t, err)

	repo, err := db.NewRepository(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)

	store, err := settings.NewStore(repo.DB, nil, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	})
	return store
}

func strPtr(s string) *string { return &s }

// countingTransport counts round trips and optionally fails every request.
type countingTransport struct {
	calls int64
	inner http.RoundTripper
}

func (t *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	atomic.AddInt64(&t.calls, 1)
	if t.inner == nil {
		return nil, errors.New("no transport configured")
	}
	return t.inner.RoundTrip(req)
}

func (t *countingTransport) count() int64 {
	return atomic.LoadInt64(&t.calls)
}

func TestOriginCandidates(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		expected []string
	}{
		{
			name:     "explicit port keeps both schemes only",
			endpoint: "http://example.com:8080",
			expected: []string{"http://example.com:8080", "https://example.com:8080"},
		},
		{
			name:     "https first when user chose https",
			endpoint: "https://example.com:8443",
			expected: []string{"https://example.com:8443", "http://example.com:8443"},
		},
		{
			name:     "portless expands to 8080 and 80",
			endpoint: "http://example.com",
			expected: []string{
				"http://example.com", "http://example.com:8080", "http://example.com:80",
				"https://example.com", "https://example.com:8080", "https://example.com:80",
			},
		},
		{
			name:     "garbage yields nothing",
			endpoint: "not a url",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, OriginCandidates(tt.endpoint))
		})
	}
}

func TestOriginCandidates_NoDuplicates(t *testing.T) {
	for _, endpoint := range []string{"http://example.com", "https://h:80", "http://h:8080"} {
		seen := make(map[string]bool)
		for _, origin := range OriginCandidates(endpoint) {
			if seen[origin] {
				t.Errorf("duplicate candidate %q for %q", origin, endpoint)
			}
			seen[origin] = true
		}
	}
}

func TestClients_NotConfiguredMakesNoRequests(t *testing.T) {
	store := newTestStore(t)
	transport := &countingTransport{}
	opts := Options{Transport: transport}

	ctx := context.Background()

	_, err := NewTMDBClient(store, opts).Probe(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewPlexClient(store, opts).Probe(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, _, err = NewXtreamClient(store, opts).Probe(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewNZBGetClient(store, opts).Version(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewRadarrClient(store, opts).SystemStatus(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewSonarrClient(store, opts).SystemStatus(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)

	assert.EqualValues(t, 0, transport.count(), "unconfigured clients must not touch the network")
}

func TestRestClient_FirstStopsAtFirstSuccess(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	rc := newRestClient(settings.ServiceIPTV, Options{})
	attempts := []labeledRequest{
		{label: server.URL + "/a", req: request{url: server.URL + "/a"}},
		{label: server.URL + "/b", req: request{url: server.URL + "/b"}},
		{label: server.URL + "/c", req: request{url: server.URL + "/c"}},
	}

	var out map[string]interface{}
	target, err := rc.first(context.Background(), attempts, &out)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/a", target)
	assert.EqualValues(t, 1, atomic.LoadInt64(&hits), "must stop after the first success")
}

func TestRestClient_FirstFallsThroughFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/good" {
			w.Write([]byte(`{"ok": true}`))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	rc := newRestClient(settings.ServiceIPTV, Options{})
	attempts := []labeledRequest{
		{label: "bad1", req: request{url: server.URL + "/bad1"}},
		{label: "bad2", req: request{url: server.URL + "/bad2"}},
		{label: "good", req: request{url: server.URL + "/good"}},
	}

	var out map[string]interface{}
	target, err := rc.first(context.Background(), attempts, &out)
	require.NoError(t, err)
	assert.Equal(t, "good", target)
}

func TestRestClient_FirstCollectsEveryAttempt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	rc := newRestClient(settings.ServiceNZBGet, Options{})
	attempts := []labeledRequest{
		{label: "first-target", req: request{url: server.URL + "/one"}},
		{label: "second-target", req: request{url: server.URL + "/two"}},
	}

	_, err := rc.first(context.Background(), attempts, nil)
	require.Error(t, err)

	var probeErr *ProbeError
	require.ErrorAs(t, err, &probeErr)
	assert.Len(t, probeErr.Attempts, 2)

	// The message names every address tried
	assert.Contains(t, err.Error(), "first-target")
	assert.Contains(t, err.Error(), "second-target")
	assert.Contains(t, err.Error(), "NZBGet")
}

func TestRestClient_TransportErrorIsUniform(t *testing.T) {
	rc := newRestClient(settings.ServiceRadarr, Options{})

	// Closed port, nothing listening
	err := rc.do(context.Background(), request{url: "http://127.0.0.1:1/api"}, nil)
	require.Error(t, err)

	var unreachable *UnreachableError
	require.ErrorAs(t, err, &unreachable)
	assert.Equal(t, "unable to reach Radarr server. Check URL, port, and network connectivity.", err.Error())
}

func TestRestClient_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	rc := newRestClient(settings.ServiceSonarr, Options{})
	err := rc.do(context.Background(), request{url: server.URL}, nil)
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Contains(t, err.Error(), "Sonarr")
}

func TestRestClient_MalformedBodyFailsClosed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer server.Close()

	rc := newRestClient(settings.ServiceTMDB, Options{})

	var out map[string]interface{}
	err := rc.do(context.Background(), request{url: server.URL}, &out)
	require.Error(t, err)

	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestRestClient_ValidatorRejectsWrongShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Valid JSON, wrong shape for a paginated list
		w.Write([]byte(`{"status_message": "Invalid API key", "status_code": 7}`))
	}))
	defer server.Close()

	rc := newRestClient(settings.ServiceTMDB, Options{})

	var page TMDBPage
	err := rc.do(context.Background(), request{url: server.URL}, &page)
	require.Error(t, err)

	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestRestClient_BreakerRejectsAfterFailures(t *testing.T) {
	registry := NewCircuitBreakerRegistry(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     5 * time.Minute,
		SuccessThreshold: 1,
	})
	rc := newRestClient(settings.ServicePlex, Options{Breakers: registry})

	for i := 0; i < 2; i++ {
		err := rc.do(context.Background(), request{url: "http://127.0.0.1:1/"}, nil)
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, registry.Get("plex").State())
}

func TestRateLimiter_BurstThenBlocks(t *testing.T) {
	limiter := NewRateLimiter(1, 2)

	// The burst is served immediately
	require.NoError(t, limiter.Wait(context.Background()))
	require.NoError(t, limiter.Wait(context.Background()))

	// With the bucket drained the next token is a second away, so a short
	// deadline expires first
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := limiter.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimiter_Refills(t *testing.T) {
	limiter := NewRateLimiter(100, 1)
	require.NoError(t, limiter.Wait(context.Background()))

	// At 100 rps the next token arrives within ~10ms
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, limiter.Wait(ctx))
}

func TestNewRestClient_RateLimitOption(t *testing.T) {
	rc := newRestClient(settings.ServiceRadarr, Options{RateLimit: 5, RateBurst: 10})
	require.NotNil(t, rc.limiter)
	assert.Equal(t, float64(10), rc.limiter.maxTokens)

	// Zero burst still leaves room for one in-flight request
	rc = newRestClient(settings.ServiceRadarr, Options{RateLimit: 5})
	require.NotNil(t, rc.limiter)
	assert.Equal(t, float64(1), rc.limiter.maxTokens)

	// No rate limit configured, no limiter in the request path
	rc = newRestClient(settings.ServiceRadarr, Options{})
	assert.Nil(t, rc.limiter)
}

func TestAuthStrategies(t *testing.T) {
	var gotHeader, gotQuery, gotUser, gotPass string
	var basicOK bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Api-Key")
		gotQuery = r.URL.Query().Get("api_key")
		gotUser, gotPass, basicOK = r.BasicAuth()
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	rc := newRestClient(settings.ServiceRadarr, Options{})
	ctx := context.Background()

	require.NoError(t, rc.do(ctx, request{url: server.URL, auth: authHeader("X-Api-Key", "hk")}, nil))
	assert.Equal(t, "hk", gotHeader)

	require.NoError(t, rc.do(ctx, request{url: server.URL, auth: authQuery("api_key", "qk")}, nil))
	assert.Equal(t, "qk", gotQuery)

	require.NoError(t, rc.do(ctx, request{url: server.URL, auth: authBasic("u", "p")}, nil))
	assert.True(t, basicOK)
	assert.Equal(t, "u", gotUser)
	assert.Equal(t, "p", gotPass)
}

func TestDisplayName(t *testing.T) {
	names := map[settings.Service]string{
		settings.ServiceTMDB:   "TMDB",
		settings.ServicePlex:   "Plex",
		settings.ServiceIPTV:   "IPTV",
		settings.ServiceNZBGet: "NZBGet",
		settings.ServiceRadarr: "Radarr",
		settings.ServiceSonarr: "Sonarr",
	}
	for service, want := range names {
		if got := displayName(service); got != want {
			t.Errorf("displayName(%s) = %q, want %q", service, got, want)
		}
	}
	if !strings.Contains((&UnreachableError{Service: "emby"}).Error(), "emby") {
		t.Error("unknown services should fall back to the raw identifier")
	}
}
