// Package batch groups compatible queued tasks for one engine call. A batch
// shares a single job reference and stays within a bounded priority distance
// of its anchor so parallelism never starves urgent work behind unrelated
// low-priority tasks.
package batch

import (
	"github.com/tinix84/pyplecs-sub000/internal/queue"
)

type Planner struct {
	// MaxBatchSize bounds how many parameter sets one engine call carries.
	MaxBatchSize int
	// BandTolerance is how many priority bands below the anchor a task may
	// sit and still join the batch. 0 means identical priority only.
	BandTolerance int
}

func NewPlanner(maxBatchSize, bandTolerance int) *Planner {
	if maxBatchSize < 1 {
		maxBatchSize = 1
	}
	if bandTolerance < 0 {
		bandTolerance = 0
	}
	return &Planner{MaxBatchSize: maxBatchSize, BandTolerance: bandTolerance}
}

// NextBatch pops the most urgent task as the anchor, then extends the batch
// with head tasks that share the anchor's job reference and sit within
// BandTolerance priority bands. It stops at MaxBatchSize, queue exhaustion,
// or the first incompatible head; compatible tasks deeper in the queue are
// left for a later batch to preserve ordering.
func (p *Planner) NextBatch(q *queue.Queue) []queue.Item {
	anchor, ok := q.Dequeue()
	if !ok {
		return nil
	}
	items := []queue.Item{anchor}
	for len(items) < p.MaxBatchSize {
		next, ok := q.DequeueIfHead(func(it queue.Item) bool {
			return p.compatible(anchor, it)
		})
		if !ok {
			break
		}
		items = append(items, next)
	}
	return items
}

func (p *Planner) compatible(anchor, candidate queue.Item) bool {
	if candidate.JobKey != anchor.JobKey {
		return false
	}
	// The heap guarantees the candidate is never more urgent than the anchor.
	diff := int(candidate.Priority) - int(anchor.Priority)
	if diff < 0 {
		diff = -diff
	}
	return diff <= p.BandTolerance
}
