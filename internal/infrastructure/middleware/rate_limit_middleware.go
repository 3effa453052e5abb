package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"coachroom/pkg/cache"
	"coachroom/pkg/config"
	"coachroom/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterTTL drops the limiter of a client that has been quiet this long.
const limiterTTL = 10 * time.Minute

// rateLimiterStore stores per-key (for example, per IP) rate limiters.
type rateLimiterStore struct {
	limiters  *cache.Cache[*rate.Limiter]
	rate      rate.Limit
	burstSize int
}

func newRateLimiterStore(r rate.Limit, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		limiters:  cache.New[*rate.Limiter](limiterTTL, limiterTTL, nil),
		rate:      r,
		burstSize: burst,
	}
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	limiter, ok := s.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(s.rate, s.burstSize)
	}
	// refresh the TTL on every use
	s.limiters.Set(key, limiter)
	return limiter
}

// clientIP extracts the client address, preferring the first X-Forwarded-For
// hop when it parses as an IP.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func passThrough(c *gin.Context) {
	c.Next()
}

func abortRateLimited(c *gin.Context, retryAfter time.Duration) {
	appErr := errors.NewRateLimitError().WithContext("retry_after_ms", retryAfter.Milliseconds())
	AbortWithError(c, appErr)
}

func abortBusy(c *gin.Context, message string) {
	AbortWithError(c, errors.NewServiceUnavailableError(message))
}

// NewHTTPRateLimitMiddleware returns Gin middleware that applies simple IP-based rate limiting.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return passThrough
	}

	rps := cfg.RateLimiting.HTTP.RequestsPerSecond
	burst := cfg.RateLimiting.HTTP.Burst
	store := newRateLimiterStore(rate.Limit(rps), burst)

	var globalSem chan struct{}
	if cfg.RateLimiting.HTTP.MaxConcurrent > 0 {
		globalSem = make(chan struct{}, cfg.RateLimiting.HTTP.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if globalSem != nil {
			select {
			case globalSem <- struct{}{}:
				defer func() { <-globalSem }()
			default:
				abortBusy(c, "too many concurrent requests")
				return
			}
		}

		limiter := store.getLimiter(clientIP(c.Request))
		if !limiter.Allow() {
			abortRateLimited(c, time.Duration(float64(time.Second)/float64(rps)))
			return
		}
		c.Next()
	}
}

// NewWebSocketRateLimitMiddleware limits event stream upgrades per IP per
// minute and caps concurrent streams. The slot is held until the handler
// returns, which for a stream is when the connection closes.
func NewWebSocketRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return passThrough
	}

	ws := cfg.RateLimiting.WebSocket
	var store *rateLimiterStore
	if ws.ConnectionsPerMinute > 0 {
		store = newRateLimiterStore(rate.Every(time.Minute/time.Duration(ws.ConnectionsPerMinute)), ws.ConnectionsPerMinute)
	}

	var sem chan struct{}
	if ws.MaxConcurrent > 0 {
		sem = make(chan struct{}, ws.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if store != nil && !store.getLimiter(clientIP(c.Request)).Allow() {
			abortRateLimited(c, time.Minute/time.Duration(ws.ConnectionsPerMinute))
			return
		}
		if sem != nil {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			default:
				abortBusy(c, "too many open event streams")
				return
			}
		}
		c.Next()
	}
}
