// Standalone scheduler: runs the tick loop and delivery without the public
// API, for deployments that scale campaign draining separately from HTTP.
package main

import (
	"context"
	"encoding/json"
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

	log := zerolog.New(os.Stderr).With().Timestamp().Str("svc", "scheduler").Logger()

	dsn := env("DATABASE_URL", "postgres://wa:wa@localhost:5432/wa?sslmode=disable")

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

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

	st := &store.Store{DB: pool}

	registry := transport.NewRegistry()
	if env("TRANSPORT", "dummy") == "dummy" {
		registry.SetFallback(transport.NewDummy())
	}

	worker := &deliver.Worker{
		Store:    st,
		Registry: registry,
		Limiter: rate.NewLimiter(
			rate.Limit(atofEnv("SEND_QPS", 20)),
			atoiEnv("SEND_BURST", 40),
		),
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

	go serveHealth(rootCtx, st, registry, log)

	ticker := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := ticker.AddFunc("@every 1s", func() { engine.Tick(rootCtx) }); err != nil {
		log.Error().Err(err).Msg("schedule tick")
		exitCode = 1
		return
	}
	ticker.Start()
	log.Info().Msg("scheduler running")

	<-rootCtx.Done()

	<-ticker.Stop().Done()
	engine.Shutdown()
	log.Info().Msg("shutdown complete")
}

func serveHealth(ctx context.Context, st *store.Store, registry *transport.Registry, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, pingCancel := context.WithTimeout(r.Context(), 1*time.Second)
		defer pingCancel()

		status := http.StatusOK
		dbOK := st.Ping(pingCtx) == nil
		if !dbOK {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"db":         dbOK,
			"transports": registry.Size(),
		})
	})

	server := &http.Server{Addr: env("HEALTH_ADDR", "0.0.0.0:9090"), Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("health server")
	}
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
