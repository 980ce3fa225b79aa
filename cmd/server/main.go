package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rusuite/website/internal/config"
	"github.com/rusuite/website/internal/db"
	"github.com/rusuite/website/internal/handler"
	"github.com/rusuite/website/internal/middleware"
	"github.com/rusuite/website/internal/repository"
	"github.com/rusuite/website/internal/router"
	"github.com/rusuite/website/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		middleware.InitLogger("info", "rusuite-votes")
		middleware.Logger.Fatal().Err(err).Msg("invalid configuration")
	}
	middleware.InitLogger(cfg.LogLevel, "rusuite-votes")
	log := middleware.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		pool    *pgxpool.Pool
		votes   repository.VoteStore
		targets repository.TargetLookup
	)
	switch cfg.Store {
	case config.StorePostgres:
		pool, err = db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()

		if err := db.RunMigrations(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		votes = repository.NewVoteRepo(pool)
		targets = repository.NewTargetRepo(pool)
	case config.StoreMemory:
		log.Warn().Msg("using in-memory vote store, votes are lost on restart")
		votes = repository.NewMemoryVoteStore()
		targets = repository.OpenTargets{}
	}

	cache := service.NewCacheService(cfg.RedisURL, cfg.TargetCacheTTL)
	defer cache.Close()

	voteSvc := service.NewVoteService(votes, clockwork.NewRealClock(), cfg.VoteCooldown)
	targetSvc := service.NewTargetService(targets, cache)

	if pool != nil {
		go service.NewTargetWorker(pool, cache).Start(ctx)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	handler.InitMetrics(reg, pool, cache)

	app := fiber.New(router.AppConfig(cfg.ProxyHeader, cfg.TrustedProxies()))

	stopLimiters := router.Setup(app, &router.Handlers{
		Vote:   handler.NewVoteHandler(voteSvc, targetSvc),
		Health: handler.NewHealthHandler(cfg.Store, pool, cache),
	}, router.Options{
		CORSOrigins: cfg.CORSOrigins,
		Identity: middleware.IdentityConfig{
			IPHashSalt: cfg.IPHashSalt,
			JWTSecret:  cfg.JWTSecret,
		},
		Gatherer: reg,
	})
	defer stopLimiters()

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	log.Info().
		Str("port", cfg.Port).
		Str("env", cfg.Environment).
		Str("store", cfg.Store).
		Dur("cooldown", cfg.VoteCooldown).
		Msg("vote API starting")
	if err := app.Listen(":"+cfg.Port, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		log.Error().Err(err).Msg("server stopped")
	}
}
