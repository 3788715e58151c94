package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/GothenburgBitFactory/taskchampion-go/internal/auth"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/db"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/httpapi"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/pgstore"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/syncserver"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt64(k string, def int64) int64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Fatal().Str("var", k).Str("value", v).Msg("invalid integer env var")
	}
	return n
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "tc-sync-server").Logger()

	if env("ENV", "") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx := context.Background()

	pgURL := env("DATABASE_URL", "")
	if pgURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	poolCfg := db.DefaultPoolConfig()
	poolCfg.MaxConns = int32(envInt64("TC_DB_MAX_CONNS", int64(poolCfg.MaxConns)))
	poolCfg.MinConns = int32(envInt64("TC_DB_MIN_CONNS", int64(poolCfg.MinConns)))

	pool, err := db.Open(ctx, pgURL, poolCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, pgstore.Schema); err != nil {
		log.Fatal().Err(err).Msg("failed to apply sync server schema")
	}

	isDevMode := env("ENV", "") == "dev"
	clientSecret := env("TC_CLIENT_SECRET", "dev-secret-change-in-production")
	if !isDevMode && (clientSecret == "" || clientSecret == "dev-secret-change-in-production") {
		log.Fatal().Msg("FATAL: TC_CLIENT_SECRET must be set to a strong random value outside dev mode")
	}
	authCfg := auth.Config{HS256Secret: clientSecret, DevMode: isDevMode}

	syncCfg := syncserver.Config{
		SnapshotDays:     envInt64("TC_SNAPSHOT_DAYS", 14),
		SnapshotVersions: uint32(envInt64("TC_SNAPSHOT_VERSIONS", 100)),
	}

	core := syncserver.New(pgstore.New(pool), syncCfg)

	srv := &httpapi.Server{
		Core:            core,
		AuthConfig:      authCfg,
		RateLimitConfig: httpapi.DefaultRateLimitConfig,
	}

	httpAddr := env("HTTP_ADDR", ":8080")
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpAddr).Msg("starting sync server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
