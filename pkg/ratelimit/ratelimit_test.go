package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiter(t *testing.T) {
	// With rate.NewLimiter(10, 2), the limiter starts with 2 tokens in the bucket
	limiter := NewLimiter(10, 2)

	if !limiter.Allow("test-key") {
		t.Error("First request should be allowed")
	}
	if !limiter.Allow("test-key") {
		t.Error("Second request should be allowed")
	}
	if limiter.Allow("test-key") {
		t.Error("Third request should be rate limited")
	}

	// Other keys have their own bucket
	if !limiter.Allow("other-key") {
		t.Error("A different key should be allowed")
	}

	// Wait for token refill (10 req/s = 100ms per token)
	time.Sleep(150 * time.Millisecond)

	if !limiter.Allow("test-key") {
		t.Error("Request after waiting should be allowed")
	}
}

func TestMiddleware(t *testing.T) {
	limiter := NewLimiter(10, 2)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrappedHandler := limiter.Middleware(func(r *http.Request) string { return "test-key" })(handler)

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		wrappedHandler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/public/promises", nil))
		if rr.Code != http.StatusOK {
			t.Errorf("request %d should succeed, got status %d", i+1, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/public/promises", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("Third request should be rate limited, got status %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("rate limited response should carry Retry-After")
	}
}

func TestCleanupOldLimiters(t *testing.T) {
	limiter := NewLimiter(10, 2)
	limiter.Allow("a")
	limiter.Allow("b")

	if n := limiter.CleanupOldLimiters(time.Hour); n != 0 {
		t.Errorf("fresh limiters should be kept, removed %d", n)
	}

	time.Sleep(20 * time.Millisecond)
	limiter.Allow("b")
	if n := limiter.CleanupOldLimiters(10 * time.Millisecond); n != 1 {
		t.Errorf("expected 1 stale limiter removed, got %d", n)
	}
	if limiter.Len() != 1 {
		t.Errorf("expected 1 limiter left, got %d", limiter.Len())
	}
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "203.0.113.7:52100", nil, "203.0.113.7"},
		{"forwarded chain", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "198.51.100.2, 10.0.0.1"}, "198.51.100.2"},
		{"cloudflare", "10.0.0.1:80", map[string]string{"CF-Connecting-IP": "192.0.2.9"}, "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := IPKeyFunc(req); got != tt.want {
				t.Errorf("IPKeyFunc() = %q, want %q", got, tt.want)
			}
		})
	}
}
