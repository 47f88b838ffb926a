// Package main wires the quantity service together: configuration,
// logging, tracing, the registry clients, the SIG interpreter, the
// compute engine, and the HTTP server with graceful shutdown.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/seligo/rxquant-api/config"
	"github.com/seligo/rxquant-api/engine"
	"github.com/seligo/rxquant-api/handlers"
	"github.com/seligo/rxquant-api/health"
	"github.com/seligo/rxquant-api/logging"
	"github.com/seligo/rxquant-api/packs"
	"github.com/seligo/rxquant-api/registry"
	"github.com/seligo/rxquant-api/scheduler"
	"github.com/seligo/rxquant-api/server"
	"github.com/seligo/rxquant-api/sig"
	"github.com/seligo/rxquant-api/tracing"
	"github.com/seligo/rxquant-api/validation"
)

func init() {
	// Read the env variables from the working directory, falling back
	// to the executable directory for packaged deployments.
	if err := godotenv.Load(); err != nil {
		ex, exErr := os.Executable()
		if exErr != nil {
			slog.Error("Failed to get executable path", "error", exErr)
			os.Exit(1)
		}

		if err := os.Chdir(filepath.Dir(ex)); err != nil {
			slog.Error("Failed to change directory", "error", err)
			os.Exit(1)
		}

		// A missing .env is fine when the environment is already set.
		_ = godotenv.Load()
	}
}

func main() {
	if err := config.ValidateAllEnvVars(); err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := logging.Init(cfg.LogDir, logging.ParseLevel(cfg.LogLevel),
		cfg.LogRetentionWeeks, cfg.MaxLogFileSize); err != nil {
		slog.Error("Failed to initialize logging", "error", err)
		os.Exit(1)
	}
	defer logging.Default.Close()

	traceCfg := tracing.DefaultConfig("rxquant-api")
	traceCfg.Environment = cfg.Env
	traceCfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	traceProvider, err := tracing.Init(context.Background(), traceCfg)
	if err != nil {
		logging.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Both registry clients share one HTTP client; per-call deadlines
	// come from the compute context.
	httpClient := &http.Client{Timeout: cfg.RegistryTimeout}

	naming := registry.NewNaming(registry.ClientConfig{
		BaseURL:        cfg.NamingRegistryURL,
		CacheCapacity:  cfg.NamingCacheCapacity,
		FreshTTL:       cfg.NamingCacheTTL,
		StaleTTL:       cfg.StaleCacheTTL,
		RateLimit:      cfg.NamingRateLimit,
		MaxAttempts:    cfg.RetryMaxAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		BreakerTimeout: cfg.BreakerTimeout,
	}, httpClient)

	packaging := registry.NewPackaging(registry.ClientConfig{
		BaseURL:        cfg.PackagingRegistryURL,
		CacheCapacity:  cfg.PackagingCacheCapacity,
		FreshTTL:       cfg.PackagingCacheTTL,
		StaleTTL:       cfg.StaleCacheTTL,
		RateLimit:      cfg.PackagingRateLimit,
		MaxAttempts:    cfg.RetryMaxAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		BreakerTimeout: cfg.BreakerTimeout,
	}, httpClient)

	var fallback *sig.FallbackClient
	if cfg.FallbackEnabled {
		fallback = sig.NewFallbackClient(sig.FallbackConfig{
			Endpoint: cfg.FallbackEndpoint,
			Model:    cfg.FallbackModel,
			APIKey:   cfg.FallbackAPIKey,
			Timeout:  cfg.FallbackTimeout,
		}, nil)
		logging.Info("SIG fallback enabled", "model", cfg.FallbackModel)
	}
	interpreter := sig.NewInterpreter(fallback)

	quantityEngine := engine.New(validation.NewQueryValidator(), naming, packaging, interpreter,
		engine.Config{
			Packs: packs.Config{
				MaxPacks:    cfg.MaxPacks,
				MaxOverfill: decimal.NewFromFloat(cfg.MaxOverfill),
			},
		})

	healthChecker := health.NewHealthChecker(naming, packaging)

	cacheScheduler := scheduler.NewScheduler(naming, packaging)
	if err := cacheScheduler.Start(); err != nil {
		logging.Error("Failed to start cache scheduler", "error", err)
		os.Exit(1)
	}

	httpHandler := handlers.NewHTTPHandler(quantityEngine, healthChecker)
	srv := server.NewServer(cfg, httpHandler)

	// Channel to listen for interrupt signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Start the server in a goroutine
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Block until a signal is received
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("Server shutdown error", "error", err)
	}

	cacheScheduler.Stop()

	if err := traceProvider.Shutdown(ctx); err != nil {
		logging.Error("Tracing shutdown error", "error", err)
	}
}
