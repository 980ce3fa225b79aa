package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rusuite/website/internal/service"
)

const readinessTimeout = 3 * time.Second

// dependency is one readiness check. A failing required dependency takes the
// instance out of rotation; an optional one only marks it degraded.
type dependency struct {
	name     string
	required bool
	ping     func(ctx context.Context) error // nil: not configured
}

type HealthHandler struct {
	store   string
	deps    []dependency
	startAt time.Time
}

// NewHealthHandler builds readiness checks for the vote ledger and the target cache.
// pool is nil in memory mode; cache may be nil or disabled.
func NewHealthHandler(store string, pool *pgxpool.Pool, cache *service.CacheService) *HealthHandler {
	ledger := dependency{name: "ledger", required: true}
	if pool != nil {
		ledger.ping = pool.Ping
	}

	targetCache := dependency{name: "target_cache"}
	if cache != nil && cache.Enabled() {
		targetCache.ping = cache.Ping
	}

	return &HealthHandler{
		store:   store,
		deps:    []dependency{ledger, targetCache},
		startAt: time.Now(),
	}
}

// Live handles GET /health/live.
func (h *HealthHandler) Live(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Ready handles GET /health/ready. Votes can only be accepted while the
// ledger answers, so only the ledger decides between 200 and 503.
func (h *HealthHandler) Ready(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
	defer cancel()

	results := make([]fiber.Map, len(h.deps))
	var g errgroup.Group
	for i, dep := range h.deps {
		i, dep := i, dep
		g.Go(func() error {
			results[i] = check(ctx, dep)
			return nil
		})
	}
	_ = g.Wait()

	status := "ready"
	checks := make(fiber.Map, len(h.deps))
	for i, dep := range h.deps {
		checks[dep.name] = results[i]
		if results[i]["status"] != "down" {
			continue
		}
		if dep.required {
			status = "unavailable"
		} else if status == "ready" {
			status = "degraded"
		}
	}

	code := fiber.StatusOK
	if status == "unavailable" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":         status,
		"store":          h.store,
		"checks":         checks,
		"uptime_seconds": int(time.Since(h.startAt).Seconds()),
	})
}

func check(ctx context.Context, dep dependency) fiber.Map {
	if dep.ping == nil {
		if dep.required {
			// The in-process ledger has nothing to ping.
			return fiber.Map{"status": "up"}
		}
		return fiber.Map{"status": "disabled"}
	}

	start := time.Now()
	err := dep.ping(ctx)
	res := fiber.Map{
		"status":     "up",
		"latency_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		res["status"] = "down"
		res["error"] = "connection failed"
	}
	return res
}
