package observability

import (
	"strings"
	"testing"
)

func TestRenderPrometheus(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("orchestrator_engine_calls_total", map[string]string{"cache_backend": "memory", "worker": "w1"}, 3)
	r.SetGauge("orchestrator_queue_depth", map[string]string{"cache_backend": "memory"}, 2)

	out := r.RenderPrometheus()
	if !strings.Contains(out, `orchestrator_engine_calls_total{cache_backend="memory",worker="w1"} 3`) {
		t.Fatalf("missing counter in output: %s", out)
	}
	if !strings.Contains(out, `orchestrator_queue_depth{cache_backend="memory"} 2`) {
		t.Fatalf("missing gauge in output: %s", out)
	}
}

func TestObserveTracksSumCountAvg(t *testing.T) {
	r := NewRegistry()
	r.Observe("dispatch_latency_ms", nil, 10)
	r.Observe("dispatch_latency_ms", nil, 30)

	snap := r.Snapshot()
	want := map[string]float64{
		"dispatch_latency_ms_count": 2,
		"dispatch_latency_ms_sum":   40,
		"dispatch_latency_ms_avg":   20,
	}
	for _, g := range snap.Gauges {
		if v, ok := want[g.Name]; ok {
			if g.Value != v {
				t.Fatalf("%s: got %v, want %v", g.Name, g.Value, v)
			}
			delete(want, g.Name)
		}
	}
	if len(want) != 0 {
		t.Fatalf("missing observed gauges: %v", want)
	}
}
