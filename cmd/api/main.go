package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sanskar85/whatsapp-api/internal/deliver"
	httpapi "github.com/sanskar85/whatsapp-api/internal/http"
	"github.com/sanskar85/whatsapp-api/internal/metrics"
	"github.com/sanskar85/whatsapp-api/internal/resolver"
	"github.com/sanskar85/whatsapp-api/internal/scheduler"
	"github.com/sanskar85/whatsapp-api/internal/store"
	"github.com/sanskar85/whatsapp-api/internal/transport"
)

func main() {
	var exitCode int
	defer func() {
		os.Exit(exitCode)
	}()

	_ = godotenv.Load()

	log := zerolog.New(os.Stderr).With().Timestamp().Str("svc", "api").Logger()

	dsn := env("DATABASE_URL", "postgres://wa:wa@localhost:5432/wa?sslmode=disable")

	// ---- Context / signals ----
	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// ---- DB ----
	pool, err := pgxpool.New(rootCtx, dsn)
	if err != nil {
		log.Error().Err(err).Msg("db pool")
		exitCode = 1
		return
	}
	defer pool.Close()

	if err := pool.Ping(rootCtx); err != nil {
		log.Error().Err(err).Msg("db ping")
		exitCode = 1
		return
	}
	if err := store.ApplyMigrations(rootCtx, pool); err != nil {
		log.Error().Err(err).Msg("migrations")
		exitCode = 1
		return
	}
	poolStats := metrics.NewPGXPoolStats(pool)
	go poolStats.Start(15*time.Second, rootCtx.Done())

	st := &store.Store{DB: pool}

	// ---- Transport ----
	// Real per-tenant clients register themselves at session login; the
	// dummy fallback keeps local and CI runs deliverable end to end.
	registry := transport.NewRegistry()
	if env("TRANSPORT", "dummy") == "dummy" {
		registry.SetFallback(transport.NewDummy())
	}

	// ---- Delivery + scheduler ----
	limiter := rate.NewLimiter(
		rate.Limit(atofEnv("SEND_QPS", 20)),
		atoiEnv("SEND_BURST", 40),
	)
	worker := &deliver.Worker{
		Store:       st,
		Registry:    registry,
		Limiter:     limiter,
		SendTimeout: durEnv("SEND_TIMEOUT_MS", 10*time.Second),
		Log:         log,
	}

	zone := time.Local
	if tz := os.Getenv("SCHEDULE_TZ"); tz != "" {
		z, err := time.LoadLocation(tz)
		if err != nil {
			log.Error().Err(err).Str("tz", tz).Msg("bad SCHEDULE_TZ")
			exitCode = 1
			return
		}
		zone = z
	}

	engine := scheduler.New(st, registry, worker, log, scheduler.Options{
		StaleClaimAge: durEnv("STALE_CLAIM_MS", 5*time.Minute),
		Zone:          zone,
	})
	if err := engine.Start(rootCtx); err != nil {
		log.Error().Err(err).Msg("stale claim recovery")
		exitCode = 1
		return
	}

	ticker := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := ticker.AddFunc("@every 1s", func() { engine.Tick(rootCtx) }); err != nil {
		log.Error().Err(err).Msg("schedule tick")
		exitCode = 1
		return
	}
	ticker.Start()

	// ---- HTTP server ----
	res := &resolver.Resolver{} // group/label/csv providers attach with real clients
	srv := httpapi.NewServer(st, res)
	srv.Log = log
	server := &http.Server{
		Addr:         env("HOST", "0.0.0.0") + ":" + env("PORT", "8080"),
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server")
			cancel()
		}
	}()

	<-rootCtx.Done()

	// ---- Graceful shutdown ----
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	<-ticker.Stop().Done()
	engine.Shutdown()
	log.Info().Msg("shutdown complete")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoiEnv(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func atofEnv(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func durEnv(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}
