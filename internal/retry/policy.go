// Package retry classifies engine failures and computes backoff delays.
// The policy is stateless; the orchestrator owns attempt counting.
package retry

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/tinix84/pyplecs-sub000/internal/engine"
)

// Class partitions failures into retryable and terminal.
type Class int

const (
	Transient Class = iota
	Permanent
)

func (c Class) String() string {
	if c == Permanent {
		return "permanent"
	}
	return "transient"
}

type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: 2 * time.Second, MaxDelay: 2 * time.Minute}
}

// Classify maps connectivity, timeout and resource-busy failures to
// Transient; malformed-input and engine-reported semantic errors to
// Permanent. Unknown errors classify Transient so a flaky wrapper does not
// permanently fail work the engine never rejected.
func Classify(err error) Class {
	if err == nil {
		return Transient
	}
	var engErr *engine.Error
	if errors.As(err, &engErr) {
		switch engErr.Kind {
		case engine.KindInvalidInput, engine.KindModelNotFound, engine.KindSemanticFailure:
			return Permanent
		default:
			return Transient
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return Transient
	}
	return Transient
}

// NextDelay doubles per attempt from BaseDelay: attempt 1 waits BaseDelay,
// attempt 2 waits 2x, attempt 3 waits 4x, capped at MaxDelay. Constant-rate
// retry would re-flood an engine that is already busy.
func (p Policy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
