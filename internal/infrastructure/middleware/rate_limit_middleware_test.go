package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"coachroom/pkg/config"

	"github.com/gin-gonic/gin"
)

func newLimitedRouter(mw gin.HandlerFunc, handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(mw)
	router.GET("/test", handler)
	return router
}

func serve(router http.Handler, remoteAddr string) int {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	router.ServeHTTP(w, req)
	return w.Code
}

func okHandler(c *gin.Context) { c.Status(http.StatusOK) }

// Test that when rate limiting is disabled, middleware lets all requests through.
func TestHTTPRateLimitMiddleware_Disabled_AllowsRequests(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false
	router := newLimitedRouter(NewHTTPRateLimitMiddleware(cfg), okHandler)

	for i := 0; i < 3; i++ {
		if code := serve(router, ""); code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i+1, code)
		}
	}
}

// Test basic per-IP rate limiting behaviour.
func TestHTTPRateLimitMiddleware_Enabled_RateLimited(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1
	cfg.RateLimiting.HTTP.Burst = 1
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	router := newLimitedRouter(NewHTTPRateLimitMiddleware(cfg), okHandler)

	if code := serve(router, "10.0.0.1:1234"); code != http.StatusOK {
		t.Fatalf("expected status 200 for first request, got %d", code)
	}
	if code := serve(router, "10.0.0.1:1234"); code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 for second request, got %d", code)
	}
	// another client has its own bucket
	if code := serve(router, "10.0.0.2:1234"); code != http.StatusOK {
		t.Fatalf("expected status 200 for other client, got %d", code)
	}
}

func TestWebSocketRateLimitMiddleware_ConnectionsPerMinute(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 2
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0
	router := newLimitedRouter(NewWebSocketRateLimitMiddleware(cfg), okHandler)

	for i := 0; i < 2; i++ {
		if code := serve(router, "10.0.0.1:1"); code != http.StatusOK {
			t.Fatalf("connection %d: expected 200, got %d", i+1, code)
		}
	}
	if code := serve(router, "10.0.0.1:1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after the per-minute budget, got %d", code)
	}
}

func TestWebSocketRateLimitMiddleware_MaxConcurrent(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 0
	cfg.RateLimiting.WebSocket.MaxConcurrent = 1

	entered := make(chan struct{})
	release := make(chan struct{})
	router := newLimitedRouter(NewWebSocketRateLimitMiddleware(cfg), func(c *gin.Context) {
		entered <- struct{}{}
		<-release
		c.Status(http.StatusOK)
	})

	done := make(chan int)
	go func() { done <- serve(router, "10.0.0.1:1") }()
	<-entered

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while a stream is open, got %d", w.Code)
	}

	close(release)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("expected 200 for the open stream, got %d", code)
	}
}

func TestClientIP_PrefersFirstForwardedHop(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	if ip := clientIP(req); ip != "192.0.2.1" {
		t.Fatalf("expected remote address, got %s", ip)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if ip := clientIP(req); ip != "203.0.113.7" {
		t.Fatalf("expected first forwarded hop, got %s", ip)
	}
}
