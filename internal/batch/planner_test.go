package batch

import (
	"testing"

	"github.com/tinix84/pyplecs-sub000/internal/queue"
	"github.com/tinix84/pyplecs-sub000/internal/sim"
)

func fill(q *queue.Queue, items ...queue.Item) {
	for _, it := range items {
		q.Enqueue(it)
	}
}

func ids(items []queue.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.TaskID)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// The scenario from the design review: three tasks for job A (high, high,
// low) and one for job B (critical). B dispatches alone; the two A/high
// tasks batch together; the A/low task joins only when the tolerance allows
// crossing one band... here the gap is two bands, so it never joins.
func TestPlannerScenarioJobAJobB(t *testing.T) {
	build := func() *queue.Queue {
		q := queue.New()
		fill(q,
			queue.Item{TaskID: "a1", Priority: sim.PriorityHigh, Seq: 1, JobKey: "A"},
			queue.Item{TaskID: "a2", Priority: sim.PriorityHigh, Seq: 2, JobKey: "A"},
			queue.Item{TaskID: "a3", Priority: sim.PriorityLow, Seq: 3, JobKey: "A"},
			queue.Item{TaskID: "b1", Priority: sim.PriorityCritical, Seq: 4, JobKey: "B"},
		)
		return q
	}

	for _, tol := range []int{0, 1} {
		q := build()
		p := NewPlanner(8, tol)

		first := p.NextBatch(q)
		if !equal(ids(first), []string{"b1"}) {
			t.Fatalf("tol=%d: first batch should be b1 alone, got %v", tol, ids(first))
		}
		second := p.NextBatch(q)
		if !equal(ids(second), []string{"a1", "a2"}) {
			t.Fatalf("tol=%d: second batch should be the two high A tasks, got %v", tol, ids(second))
		}
		third := p.NextBatch(q)
		if !equal(ids(third), []string{"a3"}) {
			t.Fatalf("tol=%d: low A task dispatches alone, got %v", tol, ids(third))
		}
	}
}

func TestPlannerBandToleranceOneAdmitsAdjacentBand(t *testing.T) {
	q := queue.New()
	fill(q,
		queue.Item{TaskID: "h", Priority: sim.PriorityHigh, Seq: 1, JobKey: "A"},
		queue.Item{TaskID: "n", Priority: sim.PriorityNormal, Seq: 2, JobKey: "A"},
	)
	p := NewPlanner(8, 1)
	got := p.NextBatch(q)
	if !equal(ids(got), []string{"h", "n"}) {
		t.Fatalf("adjacent band should join with tolerance 1, got %v", ids(got))
	}

	q2 := queue.New()
	fill(q2,
		queue.Item{TaskID: "h", Priority: sim.PriorityHigh, Seq: 1, JobKey: "A"},
		queue.Item{TaskID: "n", Priority: sim.PriorityNormal, Seq: 2, JobKey: "A"},
	)
	p0 := NewPlanner(8, 0)
	got0 := p0.NextBatch(q2)
	if !equal(ids(got0), []string{"h"}) {
		t.Fatalf("adjacent band must be excluded with tolerance 0, got %v", ids(got0))
	}
}

func TestPlannerStopsAtFirstIncompatibleHead(t *testing.T) {
	q := queue.New()
	fill(q,
		queue.Item{TaskID: "a1", Priority: sim.PriorityNormal, Seq: 1, JobKey: "A"},
		queue.Item{TaskID: "b1", Priority: sim.PriorityNormal, Seq: 2, JobKey: "B"},
		queue.Item{TaskID: "a2", Priority: sim.PriorityNormal, Seq: 3, JobKey: "A"},
	)
	p := NewPlanner(8, 1)
	got := p.NextBatch(q)
	if !equal(ids(got), []string{"a1"}) {
		t.Fatalf("planner must not scan past an incompatible head, got %v", ids(got))
	}
	// b1 is still the head for the next batch.
	next := p.NextBatch(q)
	if !equal(ids(next), []string{"b1"}) {
		t.Fatalf("expected b1 next, got %v", ids(next))
	}
}

func TestPlannerRespectsMaxBatchSize(t *testing.T) {
	q := queue.New()
	for i := 0; i < 10; i++ {
		q.Enqueue(queue.Item{TaskID: ids10(i), Priority: sim.PriorityNormal, Seq: uint64(i), JobKey: "A"})
	}
	p := NewPlanner(4, 0)
	got := p.NextBatch(q)
	if len(got) != 4 {
		t.Fatalf("batch size: got %d, want 4", len(got))
	}
	if q.Len() != 6 {
		t.Fatalf("remaining: got %d, want 6", q.Len())
	}
}

func TestPlannerEmptyQueue(t *testing.T) {
	p := NewPlanner(4, 1)
	if got := p.NextBatch(queue.New()); got != nil {
		t.Fatalf("empty queue should yield nil batch, got %v", got)
	}
}

func ids10(i int) string {
	return string(rune('a' + i))
}
