// Package queue implements the pending-task priority structure: strict
// min-priority ordering with FIFO tie-break inside a band, lazy tombstone
// cancellation, and atomic conditional pops for the batch planner.
package queue

import (
	"container/heap"
	"sync"

	"github.com/tinix84/pyplecs-sub000/internal/sim"
)

// Item is the queued view of a task. JobKey identifies the job reference
// (content digest + engine version) so the planner can test batch
// compatibility without touching the task registry.
type Item struct {
	TaskID   string
	Priority sim.Priority
	Seq      uint64
	JobKey   string
}

type itemHeap []Item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].Seq < h[j].Seq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(Item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// Queue is safe for concurrent use. Dequeue never returns the same item to
// two callers.
type Queue struct {
	mu        sync.Mutex
	heap      itemHeap
	cancelled map[string]struct{}
}

func New() *Queue {
	return &Queue{
		heap:      make(itemHeap, 0, 64),
		cancelled: make(map[string]struct{}),
	}
}

func (q *Queue) Enqueue(it Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.heap, it)
}

// Dequeue pops the most urgent live item, discarding tombstoned entries on
// the way. Cancellation does not remove from the middle of the heap; removal
// from an arbitrary heap position is O(n) and cancellations are rare.
func (q *Queue) Dequeue() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLiveLocked()
}

// DequeueIfHead atomically pops the head only when pred accepts it. The
// planner uses this to extend a batch without a peek/pop race between
// concurrent dispatch loops.
func (q *Queue) DequeueIfHead(pred func(Item) bool) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dropCancelledHeadLocked()
	if len(q.heap) == 0 {
		return Item{}, false
	}
	if !pred(q.heap[0]) {
		return Item{}, false
	}
	return q.popLiveLocked()
}

// Peek returns the most urgent live item without removing it.
func (q *Queue) Peek() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dropCancelledHeadLocked()
	if len(q.heap) == 0 {
		return Item{}, false
	}
	return q.heap[0], true
}

// MarkCancelled tombstones a queued task; it is skipped at dequeue time.
func (q *Queue) MarkCancelled(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled[taskID] = struct{}{}
}

// ClearCancelled drops a tombstone for a task that will never re-enter the
// heap, such as one cancelled during its backoff window.
func (q *Queue) ClearCancelled(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.cancelled, taskID)
}

// Len counts live items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, it := range q.heap {
		if _, dead := q.cancelled[it.TaskID]; !dead {
			n++
		}
	}
	return n
}

func (q *Queue) popLiveLocked() (Item, bool) {
	for len(q.heap) > 0 {
		it := heap.Pop(&q.heap).(Item)
		if _, dead := q.cancelled[it.TaskID]; dead {
			delete(q.cancelled, it.TaskID)
			continue
		}
		return it, true
	}
	return Item{}, false
}

func (q *Queue) dropCancelledHeadLocked() {
	for len(q.heap) > 0 {
		if _, dead := q.cancelled[q.heap[0].TaskID]; !dead {
			return
		}
		it := heap.Pop(&q.heap).(Item)
		delete(q.cancelled, it.TaskID)
	}
}
