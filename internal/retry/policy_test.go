package retry

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/tinix84/pyplecs-sub000/internal/engine"
)

type fakeTimeout struct{}

func (fakeTimeout) Error() string   { return "i/o timeout" }
func (fakeTimeout) Timeout() bool   { return true }
func (fakeTimeout) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"deadline", context.DeadlineExceeded, Transient},
		{"wrapped deadline", fmt.Errorf("dispatch: %w", context.DeadlineExceeded), Transient},
		{"net timeout", fakeTimeout{}, Transient},
		{"conn refused", syscall.ECONNREFUSED, Transient},
		{"conn reset", fmt.Errorf("write: %w", syscall.ECONNRESET), Transient},
		{"engine busy", engine.NewError(engine.KindBusy, "licenses exhausted"), Transient},
		{"engine unavailable", engine.NewError(engine.KindUnavailable, "restarting"), Transient},
		{"engine timeout", engine.NewError(engine.KindTimeout, "solver stalled"), Transient},
		{"invalid input", engine.NewError(engine.KindInvalidInput, "bad parameter"), Permanent},
		{"model not found", engine.NewError(engine.KindModelNotFound, "no such model"), Permanent},
		{"semantic failure", engine.NewError(engine.KindSemanticFailure, "convergence error"), Permanent},
		{"wrapped engine error", fmt.Errorf("batch: %w", engine.NewError(engine.KindInvalidInput, "x")), Permanent},
		{"unknown", errors.New("mystery"), Transient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestNextDelayDoubles(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Minute}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := p.NextDelay(i + 1); got != w {
			t.Fatalf("attempt %d: got %v, want %v", i+1, got, w)
		}
	}
}

func TestNextDelayCapped(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	if got := p.NextDelay(10); got != 5*time.Second {
		t.Fatalf("expected cap at 5s, got %v", got)
	}
}

func TestNextDelayClampsBadAttempt(t *testing.T) {
	p := Policy{BaseDelay: time.Second}
	if got := p.NextDelay(0); got != time.Second {
		t.Fatalf("attempt 0 should behave like attempt 1, got %v", got)
	}
}
