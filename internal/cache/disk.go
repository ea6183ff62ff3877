package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/tinix84/pyplecs-sub000/internal/sim"
)

// DiskStore persists one compressed payload file per key under a root
// directory plus a sqlite sidecar for metadata and access stats. Payloads are
// columnar (CBOR series columns) and gzip-compressed; the sidecar makes
// eviction queries cheap without touching payload files.
type DiskStore struct {
	dir    string
	db     *sql.DB
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
	nowFn  func() time.Time
}

const diskSchema = `
CREATE TABLE IF NOT EXISTS entries (
	key TEXT PRIMARY KEY,
	size_bytes INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	accessed_at INTEGER NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0,
	engine_version TEXT NOT NULL DEFAULT '',
	params_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_entries_created ON entries(created_at);
CREATE INDEX IF NOT EXISTS idx_entries_accessed ON entries(accessed_at);
`

func NewDiskStore(dir string, logger *zap.Logger) (*DiskStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("disk cache dir is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Join(dir, "payloads"), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite3", filepath.Join(dir, "index.db")+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open cache index: %w", err)
	}
	if _, err := db.Exec(diskSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure cache schema: %w", err)
	}
	return &DiskStore{dir: dir, db: db, logger: logger, nowFn: time.Now}, nil
}

func (d *DiskStore) Close() error { return d.db.Close() }

func (d *DiskStore) payloadPath(key string) string {
	return filepath.Join(d.dir, "payloads", key+".simres")
}

func (d *DiskStore) Get(ctx context.Context, key string) (*sim.Result, bool, error) {
	var size int64
	err := d.db.QueryRowContext(ctx, `SELECT size_bytes FROM entries WHERE key = ?`, key).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		d.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		// Unreadable index row counts as a miss per the failure contract.
		d.logger.Warn("cache index read failed", zap.String("key", key), zap.Error(err))
		d.misses.Add(1)
		return nil, false, nil
	}
	payload, err := os.ReadFile(d.payloadPath(key))
	if err != nil {
		d.logger.Warn("cache payload unreadable, dropping entry", zap.String("key", key), zap.Error(err))
		d.dropEntry(ctx, key)
		d.misses.Add(1)
		return nil, false, nil
	}
	res, err := decodePayload(payload)
	if err != nil {
		d.logger.Warn("cache payload corrupt, dropping entry", zap.String("key", key), zap.Error(err))
		d.dropEntry(ctx, key)
		d.misses.Add(1)
		return nil, false, nil
	}
	now := d.nowFn().Unix()
	if _, err := d.db.ExecContext(ctx,
		`UPDATE entries SET accessed_at = ?, access_count = access_count + 1 WHERE key = ?`, now, key); err != nil {
		d.logger.Warn("cache access bump failed", zap.String("key", key), zap.Error(err))
	}
	d.hits.Add(1)
	return res, true, nil
}

func (d *DiskStore) Put(ctx context.Context, key string, res *sim.Result, meta PutMeta) error {
	payload, err := encodePayload(res)
	if err != nil {
		return err
	}
	// Temp file + rename keeps readers from ever seeing a partial payload.
	path := d.payloadPath(key)
	tmp, err := os.CreateTemp(filepath.Dir(path), "put-*")
	if err != nil {
		return fmt.Errorf("stage cache payload: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write cache payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write cache payload: %w", err)
	}

	paramsJSON := "{}"
	if len(meta.Parameters) > 0 {
		if b, err := json.Marshal(meta.Parameters); err == nil {
			paramsJSON = string(b)
		}
	}
	now := d.nowFn().Unix()
	// INSERT OR IGNORE makes the racing second writer a no-op; its staged
	// payload is discarded since the content is identical by key construction.
	r, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO entries (key, size_bytes, created_at, accessed_at, access_count, engine_version, params_json)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		key, int64(len(payload)), now, now, meta.EngineVersion, paramsJSON)
	if err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("index cache entry: %w", err)
	}
	inserted, _ := r.RowsAffected()
	if inserted == 0 {
		_ = os.Remove(tmpName)
		return nil
	}
	if err := os.Rename(tmpName, path); err != nil {
		d.dropEntry(ctx, key)
		_ = os.Remove(tmpName)
		return fmt.Errorf("commit cache payload: %w", err)
	}
	return nil
}

func (d *DiskStore) EvictExpired(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	cutoff := d.nowFn().Add(-ttl).Unix()
	rows, err := d.db.QueryContext(ctx, `SELECT key FROM entries WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("query expired entries: %w", err)
	}
	keys, err := scanKeys(rows)
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		d.dropEntry(ctx, key)
	}
	return len(keys), nil
}

func (d *DiskStore) EvictToSize(ctx context.Context, maxBytes int64) (int, error) {
	if maxBytes <= 0 {
		return 0, nil
	}
	var total sql.NullInt64
	if err := d.db.QueryRowContext(ctx, `SELECT SUM(size_bytes) FROM entries`).Scan(&total); err != nil {
		return 0, fmt.Errorf("query cache size: %w", err)
	}
	if !total.Valid || total.Int64 <= maxBytes {
		return 0, nil
	}
	rows, err := d.db.QueryContext(ctx, `SELECT key, size_bytes FROM entries ORDER BY accessed_at ASC`)
	if err != nil {
		return 0, fmt.Errorf("query LRU entries: %w", err)
	}
	defer rows.Close()
	type cand struct {
		key  string
		size int64
	}
	var cands []cand
	for rows.Next() {
		var c cand
		if err := rows.Scan(&c.key, &c.size); err != nil {
			return 0, err
		}
		cands = append(cands, c)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	removed := 0
	remaining := total.Int64
	for _, c := range cands {
		if remaining <= maxBytes {
			break
		}
		d.dropEntry(ctx, c.key)
		remaining -= c.size
		removed++
	}
	return removed, nil
}

func (d *DiskStore) Stats(ctx context.Context) (Stats, error) {
	var count sql.NullInt64
	var size sql.NullInt64
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*), SUM(size_bytes) FROM entries`).Scan(&count, &size); err != nil {
		return Stats{}, fmt.Errorf("query cache stats: %w", err)
	}
	return Stats{
		HitCount:   d.hits.Load(),
		MissCount:  d.misses.Load(),
		EntryCount: count.Int64,
		SizeBytes:  size.Int64,
	}, nil
}

func (d *DiskStore) dropEntry(ctx context.Context, key string) {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
		d.logger.Warn("cache index delete failed", zap.String("key", key), zap.Error(err))
	}
	if err := os.Remove(d.payloadPath(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Warn("cache payload delete failed", zap.String("key", key), zap.Error(err))
	}
}

func scanKeys(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
