package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"AdaAssist/internal/cache"
	"AdaAssist/internal/config"
	"AdaAssist/internal/proxy"
	"AdaAssist/internal/telemetry"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	flag.StringVar(&cfg.ProxyAddr, "addr", cfg.ProxyAddr, "Listen address")
	flag.StringVar(&cfg.ProxyUpstream, "upstream", cfg.ProxyUpstream, "Application origin")
	flag.StringVar(&cfg.CacheName, "cache", cfg.CacheName, "Cache generation name, e.g. adai-cache-v2")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for logs, traces and metrics")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	flag.Parse()

	logger, err := telemetry.InitLogger(cfg.LogDir, "adaproxy", cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, meter, shutdown, err := telemetry.InitTelemetry(ctx, cfg.LogDir, "adaproxy", version)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer shutdown()

	db, err := telemetry.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	scope, err := url.Parse(cfg.ProxyUpstream)
	if err != nil {
		return fmt.Errorf("invalid upstream: %w", err)
	}

	store := cache.NewStore(db)
	worker, err := cache.NewWorker(cache.Options{
		CacheName: cfg.CacheName,
		Manifest:  cfg.CacheManifest,
		Scope:     scope,
		Store:     store,
		Fetcher:   &http.Client{Timeout: 60 * time.Second},
		Logger:    logger,
		Tracer:    tracer,
		Meter:     meter,
	})
	if err != nil {
		return fmt.Errorf("failed to create cache worker: %w", err)
	}

	// install and activate in the background so requests pass through meanwhile
	go func() {
		if err := worker.Start(ctx); err != nil {
			logger.Error("cache worker failed to start", "error", err)
		}
	}()

	return proxy.Serve(ctx, cfg.ProxyAddr, proxy.NewRouter(worker, store, logger), logger)
}
