package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"weaveledger/backend/internal/cache"
	"weaveledger/backend/internal/config"
	"weaveledger/backend/internal/httpapi"
	"weaveledger/backend/internal/logger"
	"weaveledger/backend/internal/metrics"
	"weaveledger/backend/internal/report"
	"weaveledger/backend/internal/service"
	"weaveledger/backend/internal/store"
	"weaveledger/backend/internal/store/memory"
	pgstore "weaveledger/backend/internal/store/postgres"
)

func main() {
	// bootstrap logger until config is loaded
	logg := logger.New(logger.Options{ServiceName: "weaveledger-api"})
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fatal(ctx, logg, "config", err)
	}
	logg = logger.New(logger.Options{
		ServiceName: "weaveledger-api",
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
	})
	if err := validateSecurityConfig(*cfg); err != nil {
		fatal(ctx, logg, "invalid security configuration", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(startCtx, cfg.DatabaseURL)
		if err != nil {
			fatal(ctx, logg, "postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if cfg.AutoMigrate {
			if err := pg.Migrate(startCtx, "up"); err != nil {
				fatal(ctx, logg, "migrations failed", err)
			}
			logg.Info(ctx, "migrations applied")
		}
		repo = pg
		closers = append(closers, pg.Close)
		logg.Info(ctx, "repository: postgres")
	} else {
		if cfg.SeedAdminPassword == "" {
			logg.Warn(ctx, "using default dev admin credentials; set SEED_ADMIN_PASSWORD to override")
		}
		mem, err := memory.NewSeeded(memory.SeedAdmin{Email: cfg.SeedAdminEmail, Password: cfg.SeedAdminPassword})
		if err != nil {
			fatal(ctx, logg, "seed in-memory repository", err)
		}
		repo = mem
		logg.Info(ctx, "repository: in-memory")
	}

	cacheStore := cache.ReportCache(cache.NoopReportCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisReportCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(startCtx); err != nil {
			logg.Error(ctx, "redis unavailable, using noop report cache", err)
			_ = redisCache.Close()
		} else if err := resetVolatileReports(startCtx, redisCache, cfg.DatabaseURL == ""); err != nil {
			logg.Error(ctx, "reset report cache generation, using noop report cache", err)
			_ = redisCache.Close()
		} else {
			cacheStore = redisCache
			closers = append(closers, redisCache.Close)
			logg.Info(ctx, "cache: redis")
		}
	} else {
		logg.Info(ctx, "cache: noop")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(registry)

	reports := report.NewEngine(cacheStore, cfg.ReportCacheTTL, appMetrics)
	svc := service.New(repo, reports, logg, appMetrics)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Logger:        logg,
		Metrics:       appMetrics,
		Gatherer:      registry,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logg.InfoFields(ctx, "server listening", map[string]any{"addr": cfg.Address(), "allowed_origin": cfg.AllowedOrigin})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(ctx, logg, "server error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "shutdown error", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logg.Error(ctx, "close error", err)
		}
	}

	logg.Info(ctx, "server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AccessTokenTTL < time.Minute {
		return fmt.Errorf("ACCESS_TOKEN_TTL must be at least 1m")
	}
	if cfg.DatabaseURL == "" && cfg.SeedAdminPassword != "" && len(cfg.SeedAdminPassword) < 6 {
		return fmt.Errorf("SEED_ADMIN_PASSWORD must be at least 6 characters")
	}
	return nil
}

func fatal(ctx context.Context, logg *logger.Logger, msg string, err error) {
	logg.Error(ctx, msg, err)
	os.Exit(1)
}

// resetVolatileReports advances the cache generation when sales live in
// process memory, so reports cached by an earlier process stop being served.
func resetVolatileReports(ctx context.Context, reports cache.ReportCache, inMemory bool) error {
	if !inMemory {
		return nil
	}
	return reports.Invalidate(ctx)
}
