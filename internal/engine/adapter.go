// Package engine defines the narrow call contract to the external
// computation engine and the failure taxonomy the retry policy consumes.
package engine

import (
	"context"
	"fmt"

	"github.com/tinix84/pyplecs-sub000/internal/sim"
)

// Adapter is the only path to the external engine. SubmitBatch returns
// results positionally aligned with the input list; a partial failure inside
// a batch surfaces as one error for the whole batch.
type Adapter interface {
	Submit(ctx context.Context, ref sim.JobReference, params sim.ParameterSet) (*sim.Result, error)
	SubmitBatch(ctx context.Context, ref sim.JobReference, params []sim.ParameterSet) ([]*sim.Result, error)
}

// Kind distinguishes engine failure modes.
type Kind int

const (
	// Retryable availability failures.
	KindBusy Kind = iota
	KindUnavailable
	KindTimeout

	// Terminal semantic failures.
	KindInvalidInput
	KindModelNotFound
	KindSemanticFailure
)

func (k Kind) String() string {
	switch k {
	case KindBusy:
		return "busy"
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	case KindInvalidInput:
		return "invalid_input"
	case KindModelNotFound:
		return "model_not_found"
	case KindSemanticFailure:
		return "semantic_failure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a classified engine failure.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("engine %s: %s", e.Kind, e.Message)
}

func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
