// Package cache implements the content-addressed result store. Backends are
// pluggable behind the Store interface; the orchestrator depends only on the
// interface.
package cache

import (
	"context"
	"time"

	"github.com/tinix84/pyplecs-sub000/internal/sim"
)

// PutMeta is the sidecar metadata recorded alongside a payload.
type PutMeta struct {
	Parameters    map[string]string
	EngineVersion string
}

// Stats is the observable state of a store.
type Stats struct {
	HitCount   int64 `json:"hit_count"`
	MissCount  int64 `json:"miss_count"`
	EntryCount int64 `json:"entry_count"`
	SizeBytes  int64 `json:"size_bytes"`
}

// Store is the capability interface every cache backend implements.
//
// Get returns (nil, false, nil) on a miss; a corrupt or unreadable entry is
// reported as a miss, not an error, so the orchestrator recomputes.
// Put writes once: if a racing writer already stored the key, the second
// payload is discarded. Key determinism guarantees the contents are equal.
type Store interface {
	Get(ctx context.Context, key string) (*sim.Result, bool, error)
	Put(ctx context.Context, key string, res *sim.Result, meta PutMeta) error
	EvictExpired(ctx context.Context, ttl time.Duration) (int, error)
	EvictToSize(ctx context.Context, maxBytes int64) (int, error)
	Stats(ctx context.Context) (Stats, error)
}
