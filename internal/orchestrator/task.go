package orchestrator

import (
	"time"

	"github.com/tinix84/pyplecs-sub000/internal/sim"
)

const (
	StatusQueued    = "Queued"
	StatusRunning   = "Running"
	StatusCompleted = "Completed"
	StatusFailed    = "Failed"
	StatusCancelled = "Cancelled"
)

func isTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task is the tracked state of one submitted simulation. Only the
// orchestrator mutates it, always under the orchestrator lock, and always
// strictly forward along Queued -> Running -> {Completed, Failed};
// Cancelled is reachable from Queued or Running only.
type Task struct {
	ID          string
	Priority    sim.Priority
	Seq         uint64
	SubmittedAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time

	Ref      sim.JobReference
	Params   sim.ParameterSet
	Metadata map[string]string

	Status     string
	RetryCount int
	CacheKey   string
	JobKey     string
	CacheHit   bool
	Result     *sim.Result
	Err        string

	// cancelRequested marks a running task whose in-flight engine call is
	// allowed to complete; the result is discarded on return.
	cancelRequested bool
}

// View is an immutable snapshot safe to hand to API handlers and observers.
type View struct {
	ID          string
	Priority    sim.Priority
	Status      string
	RetryCount  int
	CacheKey    string
	CacheHit    bool
	Err         string
	SubmittedAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
	Metadata    map[string]string
}

func (t *Task) view() View {
	meta := make(map[string]string, len(t.Metadata))
	for k, v := range t.Metadata {
		meta[k] = v
	}
	return View{
		ID:          t.ID,
		Priority:    t.Priority,
		Status:      t.Status,
		RetryCount:  t.RetryCount,
		CacheKey:    t.CacheKey,
		CacheHit:    t.CacheHit,
		Err:         t.Err,
		SubmittedAt: t.SubmittedAt,
		StartedAt:   t.StartedAt,
		FinishedAt:  t.FinishedAt,
		Metadata:    meta,
	}
}
