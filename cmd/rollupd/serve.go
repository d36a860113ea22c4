// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/AleutianAI/iac-rollup/services/rollup"
	"github.com/AleutianAI/iac-rollup/services/rollup/cache"
	"github.com/AleutianAI/iac-rollup/services/rollup/store"
)

// serve runs the rollup server until SIGINT/SIGTERM.
func serve(ctx context.Context, configPath string) error {
	cfg, err := rollup.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := setupLogging(cfg.Logging)
	if err != nil {
		return err
	}

	metricsShutdown, err := setupMetrics(cfg.Metrics)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		if metricsShutdown != nil {
			_ = metricsShutdown(context.Background())
		}
	}()

	db, err := store.OpenDB(store.DBConfig{
		Path:       cfg.Storage.Path,
		InMemory:   cfg.Storage.InMemory,
		SyncWrites: cfg.Storage.SyncWrites,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	gc := store.NewGCRunner(db, cfg.Storage.GCInterval(), 0.5, logger)
	gc.Start()
	defer gc.Stop()

	downstreamTTL, upstreamTTL, cyclesTTL, impactTTL := cfg.Cache.TTLs()
	resultCache := cache.NewResultCache(
		cache.NewBadgerBackend(db),
		cache.WithTTLs(downstreamTTL, upstreamTTL, cyclesTTL),
		cache.WithImpactTTL(impactTTL),
		cache.WithWarmupConcurrency(cfg.Cache.WarmupConcurrency),
		cache.WithCacheLogger(logger),
	)

	service := rollup.NewService(
		store.NewBadgerStore(db, store.WithStoreLogger(logger)),
		rollup.NewGraphRegistry(),
		resultCache,
		rollup.WithServiceLogger(logger),
	)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}
	rollup.RegisterRoutes(router.Group("/v1"), rollup.NewHandlers(service, logger))

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rollup server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-sigCtx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// setupLogging installs the configured slog handler as the default
// logger and returns it.
func setupLogging(cfg rollup.LoggingConfig) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

// setupMetrics wires the OTel meter provider to a Prometheus exporter so
// the per-package meters publish through /metrics.
func setupMetrics(cfg rollup.MetricsConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	exporter, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}
