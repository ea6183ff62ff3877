// simengine is a reference engine gateway for development and integration
// tests. It speaks the same wire protocol as a real engine gateway but
// computes a cheap deterministic transient instead of running a solver, so
// the orchestrator stack can be exercised end to end on a laptop.
package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tinix84/pyplecs-sub000/internal/observability"
)

type simulateRequest struct {
	ModelName     string         `json:"model_name"`
	ModelB64      string         `json:"model_b64"`
	EngineVersion string         `json:"engine_version"`
	Parameters    map[string]any `json:"parameters"`
}

type simulateBatchRequest struct {
	ModelName     string           `json:"model_name"`
	ModelB64      string           `json:"model_b64"`
	EngineVersion string           `json:"engine_version"`
	Parameters    []map[string]any `json:"parameters"`
}

type result struct {
	Series        map[string][]float64 `json:"series,omitempty"`
	Scalars       map[string]float64   `json:"scalars,omitempty"`
	Meta          map[string]string    `json:"meta,omitempty"`
	EngineVersion string               `json:"engine_version,omitempty"`
	ElapsedMS     int64                `json:"elapsed_ms,omitempty"`
}

type server struct {
	logger   *zap.Logger
	delay    time.Duration
	maxBusy  int64
	inFlight int64
}

func main() {
	listen := flag.String("listen", ":9090", "listen address")
	delay := flag.Duration("delay", 50*time.Millisecond, "simulated solver time per parameter set")
	maxBusy := flag.Int64("max-inflight", 8, "reject with 503 above this many concurrent simulations")
	flag.Parse()

	logger := observability.NewLogger(observability.LogConfig{
		Level:  envOr("SIM_LOG_LEVEL", "info"),
		Format: envOr("SIM_LOG_FORMAT", "console"),
	})
	defer func() { _ = logger.Sync() }()

	s := &server{logger: logger, delay: *delay, maxBusy: *maxBusy}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/v1/simulate", s.handleSimulate)
	mux.HandleFunc("/v1/simulate/batch", s.handleSimulateBatch)

	logger.Info("engine listening", zap.String("addr", *listen))
	if err := http.ListenAndServe(*listen, mux); err != nil {
		logger.Fatal("engine server", zap.Error(err))
	}
}

func (s *server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	model, code, msg := s.admit(req.ModelB64, req.EngineVersion)
	if code != http.StatusOK {
		writeError(w, code, msg)
		return
	}
	defer atomic.AddInt64(&s.inFlight, -1)

	res, err := s.run(model, req.EngineVersion, req.Parameters)
	if err != "" {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleSimulateBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req simulateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Parameters) == 0 {
		writeError(w, http.StatusBadRequest, "empty parameter batch")
		return
	}
	model, code, msg := s.admit(req.ModelB64, req.EngineVersion)
	if code != http.StatusOK {
		writeError(w, code, msg)
		return
	}
	defer atomic.AddInt64(&s.inFlight, -1)

	results := make([]*result, 0, len(req.Parameters))
	for _, params := range req.Parameters {
		res, errMsg := s.run(model, req.EngineVersion, params)
		if errMsg != "" {
			writeError(w, http.StatusUnprocessableEntity, errMsg)
			return
		}
		results = append(results, res)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *server) admit(modelB64, version string) ([]byte, int, string) {
	if strings.TrimSpace(version) == "" {
		return nil, http.StatusBadRequest, "missing engine_version"
	}
	model, err := base64.StdEncoding.DecodeString(modelB64)
	if err != nil || len(model) == 0 {
		return nil, http.StatusBadRequest, "model_b64 is empty or not valid base64"
	}
	if atomic.AddInt64(&s.inFlight, 1) > s.maxBusy {
		atomic.AddInt64(&s.inFlight, -1)
		return nil, http.StatusServiceUnavailable, "engine saturated"
	}
	return model, http.StatusOK, ""
}

// run computes a deterministic first-order step response seeded by the model
// bytes and parameters. Same inputs always produce the same output, which is
// what a cache-correctness test needs from a stand-in engine.
func (s *server) run(model []byte, version string, params map[string]any) (*result, string) {
	start := time.Now()
	time.Sleep(s.delay)

	gain := 1.0
	tau := 1.0
	for k, v := range params {
		f, ok := toFloat(v)
		if !ok {
			return nil, "parameter " + k + " is not scalar"
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, "parameter " + k + " is not finite"
		}
		gain += f / 100.0
		tau += math.Abs(f) / 1000.0
	}
	seed := float64(len(model)%97) / 97.0

	const n = 64
	t := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		t[i] = float64(i) * tau / n
		y[i] = gain * (1 - math.Exp(-t[i]/tau)) * (1 + 0.01*seed)
	}
	return &result{
		Series:  map[string][]float64{"time": t, "vout": y},
		Scalars: map[string]float64{"steady_state": y[n-1], "gain": gain},
		Meta: map[string]string{
			"solver": "reference",
			"points": strconv.Itoa(n),
		},
		EngineVersion: version,
		ElapsedMS:     time.Since(start).Milliseconds(),
	}, ""
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
