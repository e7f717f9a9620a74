package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"wellness/internal/config"
	"wellness/internal/obs"
)

func TestRateLimiterPerClient(t *testing.T) {
	limiter := newRateLimiter(1, 2)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	if !limiter.allow("10.0.0.1") || !limiter.allow("10.0.0.1") {
		t.Fatal("burst of two should be allowed")
	}
	if limiter.allow("10.0.0.1") {
		t.Fatal("third request within the same instant should be limited")
	}
	if !limiter.allow("10.0.0.2") {
		t.Fatal("other clients have their own bucket")
	}

	now = now.Add(time.Second)
	if !limiter.allow("10.0.0.1") {
		t.Fatal("bucket should refill after one second")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	if newRateLimiter(0, 10) != nil {
		t.Fatal("non-positive rate should disable limiting")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &HTTPHandler{limiter: newRateLimiter(1, 1)}
	now := time.Now()
	h.limiter.now = func() time.Time { return now }

	r := gin.New()
	r.POST("/limited", h.RateLimit(), func(c *gin.Context) { c.Status(http.StatusOK) })

	before := testutil.ToFloat64(obs.RateLimited)
	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/limited", nil))
		codes = append(codes, w.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected [200 429], got %v", codes)
	}
	if got := testutil.ToFloat64(obs.RateLimited) - before; got != 1 {
		t.Fatalf("expected one rate limited count, got %v", got)
	}
}

func TestRateLimitIgnoresForwardedForFromUntrustedPeers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Now()

	tests := []struct {
		name     string
		proxies  []string
		remote   string
		expected int
	}{
		{name: "no trusted proxies", remote: "203.0.113.7:5000", expected: 1},
		{name: "peer not in trusted range", proxies: []string{"10.0.0.0/8"}, remote: "203.0.113.7:5000", expected: 1},
		{name: "trusted proxy forwards distinct clients", proxies: []string{"10.0.0.0/8"}, remote: "10.1.2.3:5000", expected: 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewEngine(config.Config{TrustedProxies: tt.proxies})
			if err != nil {
				t.Fatalf("NewEngine() error = %v", err)
			}
			h := &HTTPHandler{limiter: newRateLimiter(1, 1)}
			h.limiter.now = func() time.Time { return now }
			r.POST("/limited", h.RateLimit(), func(c *gin.Context) { c.Status(http.StatusOK) })

			passed := 0
			for i := 0; i < 20; i++ {
				req := httptest.NewRequest(http.MethodPost, "/limited", nil)
				req.RemoteAddr = tt.remote
				req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
				w := httptest.NewRecorder()
				r.ServeHTTP(w, req)
				if w.Code == http.StatusOK {
					passed++
				}
			}
			if passed != tt.expected {
				t.Fatalf("expected %d requests through, got %d", tt.expected, passed)
			}
		})
	}
}

func TestNewEngineRejectsInvalidProxy(t *testing.T) {
	if _, err := NewEngine(config.Config{TrustedProxies: []string{"not-an-ip"}}); err == nil {
		t.Fatal("expected error for an invalid trusted proxy")
	}
}
