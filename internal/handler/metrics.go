package handler

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/rusuite/website/internal/middleware"
	"github.com/rusuite/website/internal/service"
)

// Metrics holds all Prometheus collectors for the vote API.
var Metrics = struct {
	VotesTotal        *prometheus.CounterVec
	EligibilityChecks *prometheus.CounterVec
	SubmitDuration    prometheus.Histogram
	RequestDuration   *prometheus.HistogramVec
	RequestsInFlight  prometheus.Gauge
	DBPoolActive      prometheus.GaugeFunc
	DBPoolIdle        prometheus.GaugeFunc
	TargetCacheHits   prometheus.CounterFunc
	TargetCacheMisses prometheus.CounterFunc
}{}

// InitMetrics registers all Prometheus metrics on reg. Call once at startup.
// pool and cache may be nil.
func InitMetrics(reg prometheus.Registerer, pool *pgxpool.Pool, cache *service.CacheService) {
	Metrics.VotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rusuite_votes_total",
			Help: "Vote submissions, by result (accepted, cooldown, error).",
		},
		[]string{"result"},
	)

	Metrics.EligibilityChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rusuite_vote_eligibility_checks_total",
			Help: "Eligibility checks, by outcome.",
		},
		[]string{"eligible"},
	)

	Metrics.SubmitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rusuite_vote_submit_duration_seconds",
			Help:    "Duration of the serialized check-then-append vote path.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	Metrics.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rusuite_api_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by endpoint and method.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	Metrics.RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rusuite_requests_in_flight",
			Help: "Number of HTTP requests currently being served.",
		},
	)

	reg.MustRegister(
		Metrics.VotesTotal,
		Metrics.EligibilityChecks,
		Metrics.SubmitDuration,
		Metrics.RequestDuration,
		Metrics.RequestsInFlight,
	)

	// DB pool gauges read live stats from pgxpool
	if pool != nil {
		Metrics.DBPoolActive = prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "rusuite_db_connection_pool_active",
				Help: "Number of active database connections.",
			},
			func() float64 {
				return float64(pool.Stat().AcquiredConns())
			},
		)

		Metrics.DBPoolIdle = prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "rusuite_db_connection_pool_idle",
				Help: "Number of idle database connections.",
			},
			func() float64 {
				return float64(pool.Stat().IdleConns())
			},
		)

		reg.MustRegister(Metrics.DBPoolActive, Metrics.DBPoolIdle)
	}

	if cache != nil {
		Metrics.TargetCacheHits = prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "rusuite_target_cache_hits_total",
				Help: "Total Redis target cache hits.",
			},
			func() float64 { return float64(cache.Hits()) },
		)

		Metrics.TargetCacheMisses = prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "rusuite_target_cache_misses_total",
				Help: "Total Redis target cache misses.",
			},
			func() float64 { return float64(cache.Misses()) },
		)

		reg.MustRegister(Metrics.TargetCacheHits, Metrics.TargetCacheMisses)
	}
}

func recordVote(result string) {
	if Metrics.VotesTotal != nil {
		Metrics.VotesTotal.WithLabelValues(result).Inc()
	}
}

func recordEligibility(eligible bool) {
	if Metrics.EligibilityChecks != nil {
		Metrics.EligibilityChecks.WithLabelValues(strconv.FormatBool(eligible)).Inc()
	}
}

func observeSubmit(d time.Duration) {
	if Metrics.SubmitDuration != nil {
		Metrics.SubmitDuration.Observe(d.Seconds())
	}
}

// MetricsMiddleware records request duration and in-flight count for Prometheus.
func MetricsMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		// Don't instrument the /metrics endpoint itself
		if c.Path() == "/metrics" || Metrics.RequestDuration == nil {
			return c.Next()
		}

		// Copy path and method into owned strings BEFORE c.Next(). Fiber
		// returns slices backed by the fasthttp buffer, which handlers may reuse.
		path := string([]byte(c.Path()))
		method := string([]byte(c.Method()))
		endpoint := middleware.SanitizePath(path)

		Metrics.RequestsInFlight.Inc()
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())

		Metrics.RequestDuration.WithLabelValues(endpoint, method, status).Observe(duration)
		Metrics.RequestsInFlight.Dec()

		return err
	}
}

// MetricsHandler serves the Prometheus /metrics endpoint via Fiber.
func MetricsHandler(gatherer prometheus.Gatherer) fiber.Handler {
	httpHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return func(c fiber.Ctx) error {
		httpHandler(c.Context())
		return nil
	}
}
