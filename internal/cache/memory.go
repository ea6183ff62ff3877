package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tinix84/pyplecs-sub000/internal/sim"
)

type memoryEntry struct {
	payload     []byte
	createdAt   time.Time
	accessedAt  time.Time
	accessCount int64
}

// MemoryStore keeps encoded payloads in process memory. Used for tests and
// for deployments where the engine is slow enough that a warm process cache
// already pays for itself.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	hits    int64
	misses  int64
	size    int64
	nowFn   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry, 64),
		nowFn:   time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*sim.Result, bool, error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		m.misses++
		m.mu.Unlock()
		return nil, false, nil
	}
	e.accessedAt = m.nowFn()
	e.accessCount++
	m.hits++
	payload := e.payload
	m.mu.Unlock()

	res, err := decodePayload(payload)
	if err != nil {
		// Corrupt entry: drop it and report a miss.
		m.mu.Lock()
		if cur, still := m.entries[key]; still {
			m.size -= int64(len(cur.payload))
			delete(m.entries, key)
		}
		m.hits--
		m.misses++
		m.mu.Unlock()
		return nil, false, nil
	}
	return res, true, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, res *sim.Result, _ PutMeta) error {
	payload, err := encodePayload(res)
	if err != nil {
		return err
	}
	now := m.nowFn()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[key]; exists {
		// Write-once: a racing writer already stored identical content.
		return nil
	}
	m.entries[key] = &memoryEntry{payload: payload, createdAt: now, accessedAt: now}
	m.size += int64(len(payload))
	return nil
}

func (m *MemoryStore) EvictExpired(_ context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	cutoff := m.nowFn().Add(-ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, e := range m.entries {
		if e.createdAt.Before(cutoff) {
			m.size -= int64(len(e.payload))
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) EvictToSize(_ context.Context, maxBytes int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if maxBytes <= 0 || m.size <= maxBytes {
		return 0, nil
	}
	type cand struct {
		key        string
		accessedAt time.Time
		size       int64
	}
	cands := make([]cand, 0, len(m.entries))
	for key, e := range m.entries {
		cands = append(cands, cand{key: key, accessedAt: e.accessedAt, size: int64(len(e.payload))})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].accessedAt.Before(cands[j].accessedAt) })
	removed := 0
	for _, c := range cands {
		if m.size <= maxBytes {
			break
		}
		delete(m.entries, c.key)
		m.size -= c.size
		removed++
	}
	return removed, nil
}

func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		HitCount:   m.hits,
		MissCount:  m.misses,
		EntryCount: int64(len(m.entries)),
		SizeBytes:  m.size,
	}, nil
}
