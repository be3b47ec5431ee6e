package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/govvens/visitor-tracking/internal/core/port"
	"github.com/govvens/visitor-tracking/internal/infra/config"
)

const (
	rateLimitProblemType  = "https://tracking.govvens.example.com/errors/rate-limit-exceeded"
	rateLimitProblemTitle = "Rate Limit Exceeded"

	defaultRateLimitWindow = time.Hour
	defaultRateLimitMax    = 500
)

// IdentifierFunc extracts the identifier used to scope rate limits (e.g., client IP).
type IdentifierFunc func(*gin.Context) (string, bool)

// RateLimiter enforces a fixed-window request budget per identifier.
type RateLimiter struct {
	store  port.RateLimitStore
	limit  int64
	window time.Duration
	logger *zap.Logger
	now    func() time.Time
}

type windowResult struct {
	allowed   bool
	limit     int64
	remaining int64
	reset     time.Time
	retry     time.Duration
}

// ProblemDetails represents an RFC 9457 compatible error payload for rate limits.
type ProblemDetails struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail"`
	Instance   string `json:"instance"`
	RetryAfter int    `json:"retry_after"`
	TraceID    string `json:"trace_id,omitempty"`
}

// NewRateLimiter builds a fixed-window limiter from configuration.
func NewRateLimiter(store port.RateLimitStore, cfg config.RateLimitSettings, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	window := cfg.Window
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	limit := int64(cfg.MaxRequests)
	if limit <= 0 {
		limit = defaultRateLimitMax
	}

	return &RateLimiter{
		store:  store,
		limit:  limit,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock allows injection of a custom clock (primarily for testing).
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

// ClientIPIdentifier builds an IdentifierFunc using the request's client IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		if ip == "" {
			return "", false
		}
		return ip, true
	}
}

// RateLimit returns a Gin middleware enforcing the window. Store failures let the request through.
func (rl *RateLimiter) RateLimit(identify IdentifierFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.store == nil || identify == nil {
			c.Next()
			return
		}

		identifier, ok := identify(c)
		if !ok || identifier == "" {
			c.Next()
			return
		}

		res, err := rl.evaluate(c, identifier)
		if err != nil {
			rl.logger.Warn("rate limit check failed", zap.String("identifier", identifier), zap.Error(err))
			c.Next()
			return
		}

		rl.applyHeaders(c, res)
		if !res.allowed {
			rl.logger.Info("rate limit exceeded", zap.String("identifier", identifier), zap.String("path", c.Request.URL.Path))
			rl.respondRateLimited(c, res)
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) evaluate(c *gin.Context, identifier string) (windowResult, error) {
	ctx := c.Request.Context()
	now := rl.now()

	count, ttl, err := rl.store.Count(ctx, identifier)
	if err != nil {
		return windowResult{}, err
	}

	if count >= rl.limit {
		if ttl <= 0 {
			ttl = rl.window
		}
		return windowResult{
			allowed: false,
			limit:   rl.limit,
			reset:   now.Add(ttl),
			retry:   ttl,
		}, nil
	}

	count, ttl, err = rl.store.Increment(ctx, identifier, rl.window)
	if err != nil {
		return windowResult{}, err
	}
	if ttl <= 0 {
		ttl = rl.window
	}

	remaining := rl.limit - count
	if remaining < 0 {
		remaining = 0
	}

	return windowResult{
		allowed:   true,
		limit:     rl.limit,
		remaining: remaining,
		reset:     now.Add(ttl),
		retry:     ttl,
	}, nil
}

func (rl *RateLimiter) applyHeaders(c *gin.Context, res windowResult) {
	headers := c.Writer.Header()
	headers.Set("X-RateLimit-Limit", strconv.FormatInt(res.limit, 10))
	headers.Set("X-RateLimit-Remaining", strconv.FormatInt(res.remaining, 10))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(res.reset.Unix(), 10))

	if !res.allowed {
		headers.Set("Retry-After", strconv.Itoa(retrySeconds(res.retry)))
	}
}

func (rl *RateLimiter) respondRateLimited(c *gin.Context, res windowResult) {
	seconds := retrySeconds(res.retry)

	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	c.AbortWithStatusJSON(http.StatusTooManyRequests, ProblemDetails{
		Type:       rateLimitProblemType,
		Title:      rateLimitProblemTitle,
		Status:     http.StatusTooManyRequests,
		Detail:     fmt.Sprintf("Too many requests. Try again in %d seconds.", seconds),
		Instance:   instance,
		RetryAfter: seconds,
		TraceID:    GetTraceID(c),
	})
}

func retrySeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 0 {
		return 0
	}
	return seconds
}
