package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/appmarket-accounts/internal/core/port"
)

const (
	rateLimitProblemType  = "https://appmarket.example.com/problems/rate-limit-exceeded"
	rateLimitProblemTitle = "Rate Limit Exceeded"
)

// IdentifierFunc extracts the identifier used to scope a limit, usually the client IP.
// Returning false skips the rule for the request.
type IdentifierFunc func(*gin.Context) (string, bool)

// RateLimitRule is one sliding window: at most Limit attempts per Window per identifier.
type RateLimitRule struct {
	Name       string
	Limit      int
	Window     time.Duration
	Identifier IdentifierFunc
}

// RateLimiter throttles requests before they reach the access gate. It sits in front of
// the per-account lockout and never touches account state.
type RateLimiter struct {
	store  port.RateLimitStore
	logger *zap.Logger
	now    func() time.Time
}

// windowState is the outcome of one rule for one request.
type windowState struct {
	limit     int
	remaining int
	resetAt   time.Time
	blocked   bool
}

func (w windowState) retryAfterSeconds(now time.Time) int {
	seconds := int(math.Ceil(w.resetAt.Sub(now).Seconds()))
	if seconds < 0 {
		return 0
	}
	return seconds
}

// tighter reports whether w should drive the response headers instead of other.
func (w windowState) tighter(other windowState) bool {
	if w.blocked != other.blocked {
		return w.blocked
	}
	if w.remaining != other.remaining {
		return w.remaining < other.remaining
	}
	return w.resetAt.Before(other.resetAt)
}

// ProblemDetails is the RFC 9457 body returned with 429.
type ProblemDetails struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Status     int            `json:"status"`
	Detail     string         `json:"detail"`
	Instance   string         `json:"instance"`
	RetryAfter int            `json:"retry_after"`
	TraceID    string         `json:"trace_id,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func NewRateLimiter(store port.RateLimitStore, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{store: store, logger: logger, now: time.Now}
}

// WithClock overrides the clock used to place attempts in the window.
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

// ClientIPIdentifier keys a rule by the request's client IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		return ip, ip != ""
	}
}

// RateLimit enforces rules in order and stops at the first one that blocks.
// A store failure skips the rule: the limiter fails open.
func (rl *RateLimiter) RateLimit(rules ...RateLimitRule) gin.HandlerFunc {
	active := make([]RateLimitRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Identifier == nil || rule.Limit <= 0 || rule.Window <= 0 {
			continue
		}
		if rule.Name == "" {
			rule.Name = "default"
		}
		active = append(active, rule)
	}

	return func(c *gin.Context) {
		if len(active) == 0 || rl.store == nil {
			c.Next()
			return
		}

		now := rl.now()
		var (
			reported windowState
			seen     bool
		)

		for _, rule := range active {
			identifier, ok := rule.Identifier(c)
			if !ok || identifier == "" {
				continue
			}

			state, err := rl.check(c, rule, rule.Name+":"+identifier, now)
			if err != nil {
				rl.logger.Warn("rate limit check failed",
					zap.String("rule", rule.Name),
					zap.Error(err),
				)
				continue
			}

			if state.blocked {
				rl.setHeaders(c, state, now)
				rl.reject(c, state, now)
				return
			}
			if !seen || state.tighter(reported) {
				reported, seen = state, true
			}
		}

		if seen {
			rl.setHeaders(c, reported, now)
		}
		c.Next()
	}
}

// check trims the window, counts what is left and records this attempt unless the
// window is already full. Rejected attempts are not recorded.
func (rl *RateLimiter) check(c *gin.Context, rule RateLimitRule, key string, now time.Time) (windowState, error) {
	ctx := c.Request.Context()

	if err := rl.store.TrimWindow(ctx, key, rule.Window, now); err != nil {
		return windowState{}, err
	}
	count, err := rl.store.CountAttempts(ctx, key, rule.Window, now)
	if err != nil {
		return windowState{}, err
	}
	oldest, found, err := rl.store.OldestAttempt(ctx, key, rule.Window, now)
	if err != nil {
		return windowState{}, err
	}

	state := windowState{limit: rule.Limit, resetAt: now.Add(rule.Window)}
	if found {
		state.resetAt = oldest.Add(rule.Window)
	}

	if count >= rule.Limit {
		state.blocked = true
		return state, nil
	}

	if err := rl.store.RecordAttempt(ctx, key, now); err != nil {
		return windowState{}, err
	}
	state.remaining = max(rule.Limit-count-1, 0)
	return state, nil
}

func (rl *RateLimiter) setHeaders(c *gin.Context, state windowState, now time.Time) {
	h := c.Writer.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(state.limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(state.remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(state.resetAt.Unix(), 10))
	if state.blocked {
		h.Set("Retry-After", strconv.Itoa(state.retryAfterSeconds(now)))
	}
}

func (rl *RateLimiter) reject(c *gin.Context, state windowState, now time.Time) {
	retry := state.retryAfterSeconds(now)

	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	c.AbortWithStatusJSON(http.StatusTooManyRequests, ProblemDetails{
		Type:       rateLimitProblemType,
		Title:      rateLimitProblemTitle,
		Status:     http.StatusTooManyRequests,
		Detail:     fmt.Sprintf("Too many requests. Try again in %d seconds.", retry),
		Instance:   instance,
		RetryAfter: retry,
		TraceID:    GetTraceID(c),
	})
}
