package pkg

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"coderunner/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type rateWindow struct {
	count   int
	resetAt time.Time
}

// RateLimiter is a fixed-window request counter keyed by client.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*rateWindow
	limit     int
	window    time.Duration
	now       func() time.Time
	lastSweep time.Time
	logger    *zap.Logger
}

func NewRateLimiter(limit int, window time.Duration, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		clients: make(map[string]*rateWindow),
		limit:   limit,
		window:  window,
		now:     time.Now,
		logger:  logger,
	}
}

// Allow counts a request for key and reports whether it fits in the current
// window, how many requests remain, and when the window resets.
func (rl *RateLimiter) Allow(key string) (bool, int, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	w, ok := rl.clients[key]
	if !ok || !now.Before(w.resetAt) {
		w = &rateWindow{resetAt: now.Add(rl.window)}
		rl.clients[key] = w
	}
	if w.count >= rl.limit {
		return false, 0, w.resetAt
	}
	w.count++
	return true, rl.limit - w.count, w.resetAt
}

// sweep drops expired windows at most once per window length.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.window {
		return
	}
	rl.lastSweep = now
	for key, w := range rl.clients {
		if !now.Before(w.resetAt) {
			delete(rl.clients, key)
		}
	}
}

// ClientKey identifies a caller by address and a prefix of its user agent.
func ClientKey(c *gin.Context) string {
	ua := []rune(c.GetHeader("User-Agent"))
	if len(ua) > 50 {
		ua = ua[:50]
	}
	return c.ClientIP() + ":" + string(ua)
}

// Middleware rejects callers over the limit with 429.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, remaining, resetAt := rl.Allow(ClientKey(c))

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			retry := int(math.Ceil(resetAt.Sub(rl.now()).Seconds()))
			rl.logger.Warn("Rate limit exceeded",
				zap.String("clientIp", c.ClientIP()),
				zap.String("path", c.Request.URL.Path),
				zap.Int("retryAfter", retry))

			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, model.APIResponse{
				Success:   false,
				Error:     "Rate limit exceeded",
				Message:   fmt.Sprintf("Too many requests. Limit: %d per %d seconds", rl.limit, int(rl.window.Seconds())),
				Timestamp: rl.now().UnixMilli(),
			})
			return
		}
		c.Next()
	}
}
