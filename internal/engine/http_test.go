package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tinix84/pyplecs-sub000/internal/sim"
)

func TestSubmitDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/simulate" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		var req simulateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
		}
		if req.EngineVersion != "4.7.3" || req.ModelB64 == "" {
			t.Errorf("request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(sim.Result{
			Scalars:       map[string]float64{"p_loss": 1.25},
			EngineVersion: req.EngineVersion,
		})
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, time.Second)
	res, err := a.Submit(context.Background(),
		sim.JobReference{Name: "m", Content: []byte("model"), EngineVersion: "4.7.3"},
		sim.ParameterSet{"vin": 12.0})
	if err != nil {
		t.Fatal(err)
	}
	if res.Scalars["p_loss"] != 1.25 {
		t.Fatalf("scalars: %v", res.Scalars)
	}
}

func TestSubmitBatchOrderAndLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req simulateBatchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		results := make([]sim.Result, len(req.Parameters))
		for i, p := range req.Parameters {
			results[i] = sim.Result{Scalars: map[string]float64{"idx": p["idx"].(float64)}}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, time.Second)
	out, err := a.SubmitBatch(context.Background(),
		sim.JobReference{Name: "m", Content: []byte("model"), EngineVersion: "1"},
		[]sim.ParameterSet{{"idx": 0.0}, {"idx": 1.0}, {"idx": 2.0}})
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range out {
		if r.Scalars["idx"] != float64(i) {
			t.Fatalf("result %d out of order: %v", i, r.Scalars)
		}
	}
}

func TestSubmitBatchLengthMismatchIsSemantic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"results": []sim.Result{{}}})
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, time.Second)
	_, err := a.SubmitBatch(context.Background(),
		sim.JobReference{Name: "m", Content: []byte("model"), EngineVersion: "1"},
		[]sim.ParameterSet{{"a": 1.0}, {"a": 2.0}})
	var engErr *Error
	if !errors.As(err, &engErr) || engErr.Kind != KindSemanticFailure {
		t.Fatalf("want semantic failure, got %v", err)
	}
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   Kind
	}{
		{http.StatusTooManyRequests, KindBusy},
		{http.StatusServiceUnavailable, KindBusy},
		{http.StatusGatewayTimeout, KindTimeout},
		{http.StatusBadRequest, KindInvalidInput},
		{http.StatusNotFound, KindModelNotFound},
		{http.StatusUnprocessableEntity, KindSemanticFailure},
		{http.StatusInternalServerError, KindUnavailable},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "boom"})
		}))
		a := NewHTTPAdapter(srv.URL, time.Second)
		_, err := a.Submit(context.Background(),
			sim.JobReference{Name: "m", Content: []byte("model"), EngineVersion: "1"},
			nil)
		srv.Close()
		var engErr *Error
		if !errors.As(err, &engErr) {
			t.Fatalf("status %d: want engine error, got %v", tc.status, err)
		}
		if engErr.Kind != tc.kind {
			t.Fatalf("status %d: got kind %s, want %s", tc.status, engErr.Kind, tc.kind)
		}
		if engErr.Message != "boom" {
			t.Fatalf("status %d: message %q", tc.status, engErr.Message)
		}
	}
}
