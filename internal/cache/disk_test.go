package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newDiskStore(t *testing.T) *DiskStore {
	t.Helper()
	d, err := NewDiskStore(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("new disk store: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDiskPutGetRoundtrip(t *testing.T) {
	ctx := context.Background()
	d := newDiskStore(t)
	meta := PutMeta{EngineVersion: "4.7", Parameters: map[string]string{"vin": "n:400.000000000"}}
	if err := d.Put(ctx, "k1", sampleResult("disk"), meta); err != nil {
		t.Fatalf("put: %v", err)
	}
	res, ok, err := d.Get(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if res.Meta["tag"] != "disk" || res.Series["v_out"][2] != 12.0 {
		t.Fatalf("roundtrip mismatch: %+v", res)
	}
	st, err := d.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.EntryCount != 1 || st.SizeBytes <= 0 || st.HitCount != 1 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestDiskPutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	d := newDiskStore(t)
	if err := d.Put(ctx, "k1", sampleResult("first"), PutMeta{}); err != nil {
		t.Fatalf("first put: %v", err)
	}
	before, _ := d.Stats(ctx)
	if err := d.Put(ctx, "k1", sampleResult("first"), PutMeta{}); err != nil {
		t.Fatalf("second put: %v", err)
	}
	after, _ := d.Stats(ctx)
	if before.EntryCount != after.EntryCount || before.SizeBytes != after.SizeBytes {
		t.Fatalf("second put changed state: %+v vs %+v", before, after)
	}
}

func TestDiskCorruptPayloadIsMiss(t *testing.T) {
	ctx := context.Background()
	d := newDiskStore(t)
	if err := d.Put(ctx, "k1", sampleResult("x"), PutMeta{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := os.WriteFile(d.payloadPath("k1"), []byte("corrupted bytes"), 0o644); err != nil {
		t.Fatalf("corrupt payload: %v", err)
	}
	_, ok, err := d.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("corrupt entry must be a miss, not an error: %v", err)
	}
	if ok {
		t.Fatalf("corrupt entry returned as hit")
	}
	// The entry is dropped, so a recompute can overwrite it.
	if err := d.Put(ctx, "k1", sampleResult("fresh"), PutMeta{}); err != nil {
		t.Fatalf("re-put after corruption: %v", err)
	}
	res, ok, _ := d.Get(ctx, "k1")
	if !ok || res.Meta["tag"] != "fresh" {
		t.Fatalf("recomputed entry not readable: %+v", res)
	}
}

func TestDiskMissingPayloadFileIsMiss(t *testing.T) {
	ctx := context.Background()
	d := newDiskStore(t)
	if err := d.Put(ctx, "k1", sampleResult("x"), PutMeta{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := os.Remove(d.payloadPath("k1")); err != nil {
		t.Fatalf("remove payload: %v", err)
	}
	if _, ok, err := d.Get(ctx, "k1"); ok || err != nil {
		t.Fatalf("missing payload must be a silent miss: ok=%v err=%v", ok, err)
	}
}

func TestDiskEvictExpired(t *testing.T) {
	ctx := context.Background()
	d := newDiskStore(t)
	now := time.Now()
	d.nowFn = func() time.Time { return now.Add(-2 * time.Hour) }
	_ = d.Put(ctx, "old", sampleResult("old"), PutMeta{})
	d.nowFn = func() time.Time { return now }
	_ = d.Put(ctx, "new", sampleResult("new"), PutMeta{})

	removed, err := d.EvictExpired(ctx, time.Hour)
	if err != nil {
		t.Fatalf("evict expired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if _, ok, _ := d.Get(ctx, "old"); ok {
		t.Fatalf("expired entry survived")
	}
	if _, ok, _ := d.Get(ctx, "new"); !ok {
		t.Fatalf("fresh entry evicted")
	}
}

func TestDiskEvictToSizeDropsLRU(t *testing.T) {
	ctx := context.Background()
	d := newDiskStore(t)
	now := time.Now()
	clock := now
	d.nowFn = func() time.Time { return clock }
	for _, key := range []string{"a", "b", "c"} {
		clock = clock.Add(time.Second)
		if err := d.Put(ctx, key, sampleResult(key), PutMeta{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	clock = clock.Add(time.Second)
	if _, ok, _ := d.Get(ctx, "a"); !ok {
		t.Fatalf("expected hit on a")
	}

	st, _ := d.Stats(ctx)
	perEntry := st.SizeBytes / 3
	if _, err := d.EvictToSize(ctx, st.SizeBytes-perEntry); err != nil {
		t.Fatalf("evict to size: %v", err)
	}
	if _, ok, _ := d.Get(ctx, "b"); ok {
		t.Fatalf("LRU entry b should have been evicted first")
	}
}
