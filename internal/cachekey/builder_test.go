package cachekey

import (
	"testing"

	"github.com/tinix84/pyplecs-sub000/internal/sim"
)

func ref(content, version string) sim.JobReference {
	return sim.JobReference{Name: "buck.plecs", Content: []byte(content), EngineVersion: version}
}

func TestKeyDeterministicAcrossInsertionOrder(t *testing.T) {
	b := New(9, nil)
	p1 := sim.ParameterSet{"vin": 400.0, "fsw": 20000, "label": "run"}
	p2 := sim.ParameterSet{"label": "run", "fsw": 20000, "vin": 400.0}

	k1, err := b.Key(ref("model-bytes", "4.7"), p1)
	if err != nil {
		t.Fatalf("key p1: %v", err)
	}
	k2, err := b.Key(ref("model-bytes", "4.7"), p2)
	if err != nil {
		t.Fatalf("key p2: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("keys differ across insertion order: %s vs %s", k1, k2)
	}
}

func TestKeyAbsorbsFloatNoise(t *testing.T) {
	b := New(6, nil)
	k1, _ := b.Key(ref("m", "4.7"), sim.ParameterSet{"duty": 0.1 + 0.2})
	k2, _ := b.Key(ref("m", "4.7"), sim.ParameterSet{"duty": 0.3})
	if k1 != k2 {
		t.Fatalf("0.1+0.2 and 0.3 should hash identically at precision 6")
	}
	k3, _ := b.Key(ref("m", "4.7"), sim.ParameterSet{"duty": 0.3000001})
	if k1 != k3 {
		t.Fatalf("noise below precision should not change the key")
	}
}

func TestKeyIntAndFloatCollapse(t *testing.T) {
	b := New(9, nil)
	k1, _ := b.Key(ref("m", "4.7"), sim.ParameterSet{"n": 5})
	k2, _ := b.Key(ref("m", "4.7"), sim.ParameterSet{"n": 5.0})
	if k1 != k2 {
		t.Fatalf("int 5 and float 5.0 must produce the same key")
	}
}

func TestKeySensitivity(t *testing.T) {
	b := New(6, nil)
	base, _ := b.Key(ref("m", "4.7"), sim.ParameterSet{"duty": 0.3})

	changedParam, _ := b.Key(ref("m", "4.7"), sim.ParameterSet{"duty": 0.4})
	if changedParam == base {
		t.Fatalf("parameter change beyond tolerance must change the key")
	}
	changedContent, _ := b.Key(ref("m2", "4.7"), sim.ParameterSet{"duty": 0.3})
	if changedContent == base {
		t.Fatalf("content change must change the key")
	}
	changedVersion, _ := b.Key(ref("m", "4.8"), sim.ParameterSet{"duty": 0.3})
	if changedVersion == base {
		t.Fatalf("engine version change must change the key")
	}
}

func TestKeyExcludesVolatileParameters(t *testing.T) {
	b := New(9, []string{"timestamp", "run_id"})
	k1, _ := b.Key(ref("m", "4.7"), sim.ParameterSet{"vin": 12.0, "timestamp": "2026-01-01T00:00:00Z", "run_id": "a"})
	k2, _ := b.Key(ref("m", "4.7"), sim.ParameterSet{"vin": 12.0, "timestamp": "2026-02-02T00:00:00Z", "run_id": "b"})
	if k1 != k2 {
		t.Fatalf("excluded keys must not affect cache identity")
	}
	k3, _ := b.Key(ref("m", "4.7"), sim.ParameterSet{"vin": 13.0, "timestamp": "2026-01-01T00:00:00Z"})
	if k3 == k1 {
		t.Fatalf("non-excluded change must still be visible")
	}
}

func TestKeyTypeTagsPreventCrossTypeCollisions(t *testing.T) {
	b := New(9, nil)
	k1, _ := b.Key(ref("m", "4.7"), sim.ParameterSet{"v": "5.000000000"})
	k2, _ := b.Key(ref("m", "4.7"), sim.ParameterSet{"v": 5})
	if k1 == k2 {
		t.Fatalf("string \"5.000000000\" and number 5 must not collide")
	}
}

func TestKeySegmentBoundaries(t *testing.T) {
	b := New(9, nil)
	// Same concatenated bytes, different segment split.
	k1, _ := b.Key(ref("ab", "c"), sim.ParameterSet{})
	k2, _ := b.Key(ref("a", "bc"), sim.ParameterSet{})
	if k1 == k2 {
		t.Fatalf("length prefixing must separate content from version")
	}
}

func TestNegativeZeroNormalizes(t *testing.T) {
	b := New(3, nil)
	k1, _ := b.Key(ref("m", "4.7"), sim.ParameterSet{"x": 0.0})
	k2, _ := b.Key(ref("m", "4.7"), sim.ParameterSet{"x": -0.0001})
	if k1 != k2 {
		t.Fatalf("-0.0001 rounds to -0.000 which must equal 0.000")
	}
}
