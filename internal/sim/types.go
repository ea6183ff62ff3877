// Package sim holds the domain types shared by the orchestrator, the cache
// and the engine adapter: job references, parameter sets, priorities and
// simulation results.
package sim

import (
	"errors"
	"fmt"
	"strings"
)

// Priority is an ordinal urgency level. Lower values are more urgent.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority accepts the canonical names; empty defaults to normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "normal", "":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}

// JobReference identifies the unit of work sent to the engine: the model
// content bytes plus the engine version they target. Immutable once a task
// has been created from it.
type JobReference struct {
	Name          string
	Content       []byte
	EngineVersion string
}

// Validate rejects references the engine could never run.
func (r JobReference) Validate() error {
	if len(r.Content) == 0 {
		return errors.New("job reference has empty content")
	}
	if strings.TrimSpace(r.EngineVersion) == "" {
		return errors.New("job reference has empty engine version")
	}
	return nil
}

// ParameterSet maps parameter names to scalar values (float64, int or
// string). Two sets are equivalent regardless of map iteration order.
type ParameterSet map[string]any

// Validate rejects non-scalar values before a task is created.
func (p ParameterSet) Validate() error {
	for k, v := range p {
		if strings.TrimSpace(k) == "" {
			return errors.New("parameter with empty name")
		}
		switch v.(type) {
		case float64, float32, int, int32, int64, uint, uint32, uint64, string, bool:
		default:
			return fmt.Errorf("parameter %q has non-scalar value %T", k, v)
		}
	}
	return nil
}

// Clone returns a shallow copy; values are scalars so this is a deep copy in
// practice.
func (p ParameterSet) Clone() ParameterSet {
	if p == nil {
		return nil
	}
	out := make(ParameterSet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Result is the engine output for one parameter set: named time-series
// columns plus scalar outputs. The columnar shape compresses well and scans
// fast, which is what the cache stores.
type Result struct {
	Series        map[string][]float64 `cbor:"series" json:"series,omitempty"`
	Scalars       map[string]float64   `cbor:"scalars" json:"scalars,omitempty"`
	Meta          map[string]string    `cbor:"meta" json:"meta,omitempty"`
	EngineVersion string               `cbor:"engine_version" json:"engine_version,omitempty"`
	ElapsedMS     int64                `cbor:"elapsed_ms" json:"elapsed_ms,omitempty"`
}
