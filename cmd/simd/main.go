// simd is the simulation orchestrator daemon. It owns the task queue, the
// result cache and the engine adapter, and serves the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tinix84/pyplecs-sub000/internal/api"
	"github.com/tinix84/pyplecs-sub000/internal/bootstrap"
	"github.com/tinix84/pyplecs-sub000/internal/config"
	"github.com/tinix84/pyplecs-sub000/internal/observability"
)

func main() {
	configPath := flag.String("config", "simd.yaml", "path to YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger is not up yet.
		fmt.Fprintln(os.Stderr, "simd:", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	shutdownTrace, err := observability.InitTracingFromEnv("simd")
	if err != nil {
		logger.Fatal("init tracing", zap.Error(err))
	}
	defer func() { _ = shutdownTrace(context.Background()) }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := bootstrap.NewOrchestrator(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("bootstrap orchestrator", zap.Error(err))
	}
	orch.Start(ctx)
	defer orch.Stop()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewServer(orch, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Listen), zap.String("cache_backend", cfg.Cache.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}
