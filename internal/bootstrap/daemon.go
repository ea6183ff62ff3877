// Package bootstrap assembles the daemon from configuration: cache backend,
// engine adapter and orchestrator.
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tinix84/pyplecs-sub000/internal/cache"
	"github.com/tinix84/pyplecs-sub000/internal/config"
	"github.com/tinix84/pyplecs-sub000/internal/engine"
	"github.com/tinix84/pyplecs-sub000/internal/orchestrator"
)

// NewOrchestrator builds a fully wired orchestrator from the loaded
// configuration. The caller owns Start/Stop.
func NewOrchestrator(ctx context.Context, cfg config.Config, logger *zap.Logger) (*orchestrator.Orchestrator, error) {
	store, err := NewStore(ctx, cfg.Cache, logger)
	if err != nil {
		return nil, err
	}
	eng := engine.NewHTTPAdapter(cfg.Engine.URL, cfg.Engine.Timeout.Std())
	opts := orchestrator.Options{
		Workers:         cfg.Orchestrator.Workers,
		MaxBatchSize:    cfg.Orchestrator.MaxBatchSize,
		BandTolerance:   cfg.Orchestrator.BandTolerance,
		MaxRetries:      cfg.Orchestrator.MaxRetries,
		BaseDelay:       cfg.Orchestrator.BaseDelay.Std(),
		MaxDelay:        cfg.Orchestrator.MaxDelay.Std(),
		DispatchTimeout: cfg.Orchestrator.DispatchTimeout.Std(),
		Retention:       cfg.Orchestrator.Retention.Std(),
		SweepInterval:   cfg.Orchestrator.SweepInterval.Std(),
		CacheTTL:        cfg.Cache.TTL.Std(),
		CacheMaxBytes:   cfg.Cache.MaxBytes,
		FloatPrecision:  cfg.Orchestrator.FloatPrecision,
		ExcludeKeys:     cfg.Orchestrator.ExcludeKeys,
	}
	return orchestrator.New(store, eng, opts, logger), nil
}

// NewStore selects the result cache backend named in the configuration.
func NewStore(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) (cache.Store, error) {
	switch cfg.Backend {
	case "memory":
		return cache.NewMemoryStore(), nil
	case "disk":
		return cache.NewDiskStore(cfg.Dir, logger)
	case "minio":
		return cache.NewMinioStore(ctx, cache.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			UseSSL:    cfg.Minio.UseSSL,
			Prefix:    cfg.Minio.Prefix,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
	}
}
