package middleware

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"golang.org/x/time/rate"
)

const (
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
)

// RateLimitConfig defines the limit for a specific route or group.
type RateLimitConfig struct {
	Max    int                      // Burst size and requests per window
	Window time.Duration            // Time to refill Max tokens
	KeyFn  func(c fiber.Ctx) string // Returns the key to rate limit on (IP, account, etc.)
}

// entry tracks one key's token bucket.
type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is an in-memory per-key token bucket limiter.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	config  RateLimitConfig
	every   rate.Limit

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRateLimiter creates a rate limiter with the given config.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		entries: make(map[string]*entry),
		config:  cfg,
		every:   rate.Every(cfg.Window / time.Duration(cfg.Max)),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	// Background cleanup every 5 minutes until Stop
	go rl.cleanup(5 * time.Minute)
	return rl
}

// Stop ends the background cleanup. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
	<-rl.done
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rl.every, rl.config.Max)}
		rl.entries[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

// Handler returns a Fiber middleware handler that enforces the rate limit.
func (rl *RateLimiter) Handler() fiber.Handler {
	return func(c fiber.Ctx) error {
		lim := rl.limiter(rl.config.KeyFn(c))
		now := time.Now()
		allowed := lim.AllowN(now, 1)
		tokens := lim.TokensAt(now)

		setRateLimitHeaders(c, rl.config.Max, int(math.Floor(tokens)), now.Add(rl.untilFull(tokens)))

		if !allowed {
			retryAfter := int(math.Ceil(rl.untilTokens(tokens, 1).Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": fiber.Map{
					"code":       "RATE_LIMITED",
					"message":    fmt.Sprintf("Too many requests. Try again in %d seconds.", retryAfter),
					"retryAfter": retryAfter,
				},
			})
		}

		return c.Next()
	}
}

// Allow checks if a request with the given key is allowed (for testing).
func (rl *RateLimiter) Allow(key string) bool {
	return rl.limiter(key).Allow()
}

// untilTokens is how long the bucket needs to refill from have to want tokens.
func (rl *RateLimiter) untilTokens(have, want float64) time.Duration {
	missing := want - have
	if missing <= 0 {
		return 0
	}
	perToken := rl.config.Window / time.Duration(rl.config.Max)
	return time.Duration(missing * float64(perToken))
}

func (rl *RateLimiter) untilFull(tokens float64) time.Duration {
	return rl.untilTokens(tokens, float64(rl.config.Max))
}

func setRateLimitHeaders(c fiber.Ctx, limit, remaining int, resetAt time.Time) {
	c.Set(headerRateLimitLimit, strconv.Itoa(limit))
	c.Set(headerRateLimitRemaining, strconv.Itoa(max(remaining, 0)))
	c.Set(headerRateLimitReset, strconv.FormatInt(resetAt.Unix(), 10))
}

// cleanup drops buckets that have been idle for longer than a full window.
func (rl *RateLimiter) cleanup(every time.Duration) {
	defer close(rl.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle(time.Now())
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := now.Add(-rl.config.Window)
	for key, e := range rl.entries {
		if e.lastSeen.Before(cutoff) {
			delete(rl.entries, key)
		}
	}
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// KeyByIP returns the client IP as the rate limit key.
func KeyByIP(c fiber.Ctx) string {
	return "ip:" + c.IP()
}

// KeyByAccount keys on the authenticated account, falling back to IP.
func KeyByAccount(c fiber.Ctx) string {
	if id, ok := IdentityFrom(c); ok && id.HasAccount() {
		return "account:" + *id.AccountID
	}
	return "ip:" + c.IP()
}

// --- Pre-configured rate limiters ---

// NewVoteSubmitRateLimiter: 10 req/min per IP
func NewVoteSubmitRateLimiter() *RateLimiter {
	return NewRateLimiter(RateLimitConfig{
		Max:    10,
		Window: time.Minute,
		KeyFn:  KeyByIP,
	})
}

// NewVoteReadRateLimiter: 100 req/min per IP
func NewVoteReadRateLimiter() *RateLimiter {
	return NewRateLimiter(RateLimitConfig{
		Max:    100,
		Window: time.Minute,
		KeyFn:  KeyByIP,
	})
}

// NewStatsRateLimiter: 10 req/min per account
func NewStatsRateLimiter() *RateLimiter {
	return NewRateLimiter(RateLimitConfig{
		Max:    10,
		Window: time.Minute,
		KeyFn:  KeyByAccount,
	})
}
