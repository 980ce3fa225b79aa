package router

import (
	"github.com/gofiber/fiber/v3"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rusuite/website/internal/handler"
	"github.com/rusuite/website/internal/middleware"
)

// Handlers holds all handler instances needed by the router.
type Handlers struct {
	Vote   *handler.VoteHandler
	Health *handler.HealthHandler
}

// Options carries the cross-cutting settings for Setup.
type Options struct {
	CORSOrigins string
	Identity    middleware.IdentityConfig
	// Gatherer backs /metrics. Nil leaves the endpoint unregistered.
	Gatherer prometheus.Gatherer
}

// AppConfig returns the Fiber config for the vote API. proxyHeader is only
// honoured for requests whose socket peer is one of trustedProxies; without
// trusted proxies the header is ignored and c.IP() is the socket address.
func AppConfig(proxyHeader string, trustedProxies []string) fiber.Config {
	cfg := fiber.Config{
		AppName:      "RuSuite Votes API",
		ServerHeader: "RuSuite",
	}
	if proxyHeader != "" && len(trustedProxies) > 0 {
		cfg.ProxyHeader = proxyHeader
		cfg.EnableIPValidation = true
		cfg.EnableTrustedProxyCheck = true
		cfg.TrustedProxies = trustedProxies
	}
	return cfg
}

// Setup configures the middleware stack and all API routes on the given Fiber
// app. The returned func stops the rate limiters' background cleanup.
func Setup(app *fiber.App, h *Handlers, opts Options) (stop func()) {
	// Middleware stack (order matters)
	app.Use(recoverer.New())
	app.Use(middleware.NewRequestLogger())
	app.Use(middleware.NewCORS(opts.CORSOrigins))
	app.Use(handler.MetricsMiddleware())

	// Health checks (before API group, no identity needed)
	if h.Health != nil {
		app.Get("/health/live", h.Health.Live)
		app.Get("/health/ready", h.Health.Ready)
	}
	if opts.Gatherer != nil {
		app.Get("/metrics", handler.MetricsHandler(opts.Gatherer))
	}

	// API routes
	api := app.Group("/api", middleware.NewIdentityResolver(opts.Identity))

	submitLimit := middleware.NewVoteSubmitRateLimiter()
	readLimit := middleware.NewVoteReadRateLimiter()
	statsLimit := middleware.NewStatsRateLimiter()

	// Vote routes. Route signature is (path, handler, middleware...) and the
	// middleware runs before the handler, in the order given.
	votes := api.Group("/votes")
	votes.Post("/:serverId", h.Vote.Submit, submitLimit.Handler())
	votes.Get("/:serverId/count", h.Vote.Count, readLimit.Handler())
	votes.Get("/:serverId/can-vote", h.Vote.CanVote, readLimit.Handler())
	votes.Get("/:serverId/stats", h.Vote.Stats, middleware.RequireAccount(), statsLimit.Handler())

	return func() {
		submitLimit.Stop()
		readLimit.Stop()
		statsLimit.Stop()
	}
}
