package cache

import (
	"context"
	"testing"
	"time"

	"github.com/tinix84/pyplecs-sub000/internal/sim"
)

func sampleResult(tag string) *sim.Result {
	return &sim.Result{
		Series:        map[string][]float64{"v_out": {0.0, 11.9, 12.0, 12.0}, "i_l": {0.0, 1.2, 1.1, 1.1}},
		Scalars:       map[string]float64{"v_out_avg": 11.97},
		Meta:          map[string]string{"tag": tag},
		EngineVersion: "4.7",
	}
}

func TestMemoryPutGetRoundtrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	if err := m.Put(ctx, "k1", sampleResult("a"), PutMeta{EngineVersion: "4.7"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	res, ok, err := m.Get(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("get after put: ok=%v err=%v", ok, err)
	}
	if res.Scalars["v_out_avg"] != 11.97 {
		t.Fatalf("scalar lost in roundtrip: %v", res.Scalars)
	}
	if len(res.Series["v_out"]) != 4 || res.Series["v_out"][2] != 12.0 {
		t.Fatalf("series lost in roundtrip: %v", res.Series)
	}
}

func TestMemoryPutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	if err := m.Put(ctx, "k1", sampleResult("first"), PutMeta{}); err != nil {
		t.Fatalf("first put: %v", err)
	}
	before, _ := m.Stats(ctx)
	if err := m.Put(ctx, "k1", sampleResult("first"), PutMeta{}); err != nil {
		t.Fatalf("second put: %v", err)
	}
	after, _ := m.Stats(ctx)
	if before.EntryCount != after.EntryCount || before.SizeBytes != after.SizeBytes {
		t.Fatalf("second put changed observable state: %+v vs %+v", before, after)
	}
	res, ok, _ := m.Get(ctx, "k1")
	if !ok || res.Meta["tag"] != "first" {
		t.Fatalf("first payload must win, got %+v", res)
	}
}

func TestMemoryMissCounting(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	if _, ok, _ := m.Get(ctx, "nope"); ok {
		t.Fatalf("unexpected hit")
	}
	_ = m.Put(ctx, "k1", sampleResult("a"), PutMeta{})
	if _, ok, _ := m.Get(ctx, "k1"); !ok {
		t.Fatalf("expected hit")
	}
	st, _ := m.Stats(ctx)
	if st.HitCount != 1 || st.MissCount != 1 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestMemoryEvictExpired(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Now()
	m.nowFn = func() time.Time { return now }
	_ = m.Put(ctx, "old", sampleResult("old"), PutMeta{})
	m.nowFn = func() time.Time { return now.Add(2 * time.Hour) }
	_ = m.Put(ctx, "new", sampleResult("new"), PutMeta{})

	removed, err := m.EvictExpired(ctx, time.Hour)
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}
	if _, ok, _ := m.Get(ctx, "old"); ok {
		t.Fatalf("expired entry survived")
	}
	if _, ok, _ := m.Get(ctx, "new"); !ok {
		t.Fatalf("fresh entry evicted")
	}
}

func TestMemoryEvictToSizeDropsLRU(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Now()
	clock := now
	m.nowFn = func() time.Time { return clock }

	for _, key := range []string{"a", "b", "c"} {
		clock = clock.Add(time.Second)
		if err := m.Put(ctx, key, sampleResult(key), PutMeta{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	// Touch "a" so "b" becomes least recently accessed.
	clock = clock.Add(time.Second)
	if _, ok, _ := m.Get(ctx, "a"); !ok {
		t.Fatalf("expected hit on a")
	}

	st, _ := m.Stats(ctx)
	perEntry := st.SizeBytes / 3
	if _, err := m.EvictToSize(ctx, st.SizeBytes-perEntry); err != nil {
		t.Fatalf("evict to size: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "b"); ok {
		t.Fatalf("least-recently-accessed entry b should have been evicted")
	}
	if _, ok, _ := m.Get(ctx, "a"); !ok {
		t.Fatalf("recently accessed entry a should survive")
	}
}

func TestPayloadCodecRoundtrip(t *testing.T) {
	in := sampleResult("codec")
	b, err := encodePayload(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := decodePayload(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.EngineVersion != in.EngineVersion || out.Series["i_l"][1] != 1.2 {
		t.Fatalf("roundtrip mismatch: %+v", out)
	}
}

func TestDecodeGarbageFails(t *testing.T) {
	if _, err := decodePayload([]byte("definitely not gzip")); err == nil {
		t.Fatalf("garbage payload must not decode")
	}
}
