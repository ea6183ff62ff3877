package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tinix84/pyplecs-sub000/internal/sim"
)

// HTTPAdapter speaks JSON to an engine gateway exposing /v1/simulate and
// /v1/simulate/batch. The dispatch deadline travels on the request context;
// the engine process itself is a black box behind the gateway.
type HTTPAdapter struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPAdapter(baseURL string, timeout time.Duration) *HTTPAdapter {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPAdapter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type simulateRequest struct {
	ModelName     string           `json:"model_name,omitempty"`
	ModelB64      string           `json:"model_b64"`
	EngineVersion string           `json:"engine_version"`
	Parameters    sim.ParameterSet `json:"parameters,omitempty"`
}

type simulateBatchRequest struct {
	ModelName     string             `json:"model_name,omitempty"`
	ModelB64      string             `json:"model_b64"`
	EngineVersion string             `json:"engine_version"`
	Parameters    []sim.ParameterSet `json:"parameters"`
}

type engineErrorBody struct {
	Error string `json:"error"`
}

func (a *HTTPAdapter) Submit(ctx context.Context, ref sim.JobReference, params sim.ParameterSet) (*sim.Result, error) {
	body := simulateRequest{
		ModelName:     ref.Name,
		ModelB64:      base64.StdEncoding.EncodeToString(ref.Content),
		EngineVersion: ref.EngineVersion,
		Parameters:    params,
	}
	var res sim.Result
	if err := a.post(ctx, "/v1/simulate", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (a *HTTPAdapter) SubmitBatch(ctx context.Context, ref sim.JobReference, params []sim.ParameterSet) ([]*sim.Result, error) {
	body := simulateBatchRequest{
		ModelName:     ref.Name,
		ModelB64:      base64.StdEncoding.EncodeToString(ref.Content),
		EngineVersion: ref.EngineVersion,
		Parameters:    params,
	}
	var out struct {
		Results []*sim.Result `json:"results"`
	}
	if err := a.post(ctx, "/v1/simulate/batch", body, &out); err != nil {
		return nil, err
	}
	if len(out.Results) != len(params) {
		return nil, NewError(KindSemanticFailure, "batch returned %d results for %d parameter sets", len(out.Results), len(params))
	}
	return out.Results, nil
}

func (a *HTTPAdapter) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode engine request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return classifyStatus(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewError(KindSemanticFailure, "malformed engine response: %v", err)
	}
	return nil
}

func classifyStatus(resp *http.Response) error {
	msg := resp.Status
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body engineErrorBody
	if json.Unmarshal(raw, &body) == nil && strings.TrimSpace(body.Error) != "" {
		msg = body.Error
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return NewError(KindBusy, "%s", msg)
	case http.StatusGatewayTimeout:
		return NewError(KindTimeout, "%s", msg)
	case http.StatusBadRequest:
		return NewError(KindInvalidInput, "%s", msg)
	case http.StatusNotFound:
		return NewError(KindModelNotFound, "%s", msg)
	case http.StatusUnprocessableEntity:
		return NewError(KindSemanticFailure, "%s", msg)
	default:
		if resp.StatusCode >= 500 {
			return NewError(KindUnavailable, "%s", msg)
		}
		return NewError(KindSemanticFailure, "%s", msg)
	}
}
