// Package orchestrator drives the simulation task state machine: it accepts
// submissions, consults the result cache, batches compatible tasks, calls the
// engine through bounded dispatch loops, applies the retry policy and emits
// lifecycle events.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/tinix84/pyplecs-sub000/internal/batch"
	"github.com/tinix84/pyplecs-sub000/internal/cache"
	"github.com/tinix84/pyplecs-sub000/internal/cachekey"
	"github.com/tinix84/pyplecs-sub000/internal/engine"
	"github.com/tinix84/pyplecs-sub000/internal/observability"
	"github.com/tinix84/pyplecs-sub000/internal/queue"
	"github.com/tinix84/pyplecs-sub000/internal/retry"
	"github.com/tinix84/pyplecs-sub000/internal/sim"
)

// Options tunes one orchestrator instance. Zero values pick safe defaults so
// tests can construct orchestrators tersely.
type Options struct {
	Workers         int
	MaxBatchSize    int
	BandTolerance   int
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DispatchTimeout time.Duration
	PollInterval    time.Duration
	Retention       time.Duration
	SweepInterval   time.Duration
	CacheTTL        time.Duration
	CacheMaxBytes   int64
	FloatPrecision  int
	ExcludeKeys     []string
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = 8
	}
	if o.BandTolerance < 0 {
		o.BandTolerance = 0
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 2 * time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 2 * time.Minute
	}
	if o.DispatchTimeout <= 0 {
		o.DispatchTimeout = 5 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.Retention <= 0 {
		o.Retention = time.Hour
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	return o
}

// Stats is the operator-facing snapshot of orchestrator health.
type Stats struct {
	QueueDepth     int     `json:"queue_depth"`
	RunningCount   int     `json:"running_count"`
	TrackedTasks   int     `json:"tracked_tasks"`
	Submitted      int64   `json:"submitted_total"`
	Completed      int64   `json:"completed_total"`
	Failed         int64   `json:"failed_total"`
	Cancelled      int64   `json:"cancelled_total"`
	CacheHitRate   float64 `json:"cache_hit_rate"`
	AvgLatencyMS   float64 `json:"avg_dispatch_latency_ms"`
	EngineCalls    int64   `json:"engine_calls_total"`
	EngineFailures int64   `json:"engine_failures_total"`
}

// Orchestrator composes the queue, planner, cache and retry policy into one
// explicit instance. Multiple orchestrators coexist without interference;
// there is no package-level singleton.
type Orchestrator struct {
	opts    Options
	store   cache.Store
	eng     engine.Adapter
	keys    *cachekey.Builder
	queue   *queue.Queue
	planner *batch.Planner
	policy  retry.Policy
	logger  *zap.Logger
	metrics *observability.Registry

	mu        sync.Mutex
	tasks     map[string]*Task
	leaders   map[string]string   // cache key -> in-flight leader task id
	followers map[string][]string // leader task id -> attached task ids
	nextSeq   uint64

	submitted   int64
	completed   int64
	failed      int64
	cancelled   int64
	cacheHits   int64
	engineCalls int64
	engineFails int64
	latencySum  float64

	obsMu     sync.RWMutex
	observers []Observer

	baseCtx context.Context
	cancel  context.CancelFunc
	wakeCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

func New(store cache.Store, eng engine.Adapter, opts Options, logger *zap.Logger) *Orchestrator {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		opts:      opts,
		store:     store,
		eng:       eng,
		keys:      cachekey.New(opts.FloatPrecision, opts.ExcludeKeys),
		queue:     queue.New(),
		planner:   batch.NewPlanner(opts.MaxBatchSize, opts.BandTolerance),
		policy:    retry.Policy{MaxRetries: opts.MaxRetries, BaseDelay: opts.BaseDelay, MaxDelay: opts.MaxDelay},
		logger:    logger,
		metrics:   observability.Default,
		tasks:     make(map[string]*Task),
		leaders:   make(map[string]string),
		followers: make(map[string][]string),
		wakeCh:    make(chan struct{}, 1),
	}
}

// Start launches the dispatch loops and the janitor. Submissions are accepted
// before Start; they simply wait in the queue.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.baseCtx, o.cancel = context.WithCancel(ctx)
	o.mu.Unlock()

	for i := 0; i < o.opts.Workers; i++ {
		o.wg.Add(1)
		go o.dispatchLoop(i)
	}
	o.wg.Add(1)
	go o.janitor()
}

// Stop halts dispatch. In-flight engine calls run to their deadline.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	cancel := o.cancel
	o.mu.Unlock()
	cancel()
	o.wg.Wait()
}

// Submit validates inputs, computes the cache key and either completes the
// task from cache, attaches it to an identical in-flight submission, or
// enqueues it. It never blocks behind a dispatch in progress.
func (o *Orchestrator) Submit(ref sim.JobReference, params sim.ParameterSet, priority sim.Priority, metadata map[string]string) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", fmt.Errorf("invalid job reference: %w", err)
	}
	if err := params.Validate(); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if priority < sim.PriorityCritical || priority > sim.PriorityLow {
		return "", fmt.Errorf("invalid priority %d", int(priority))
	}
	key, err := o.keys.Key(ref, params)
	if err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	ctx, span := observability.StartSpan(context.Background(), "orchestrator.submit",
		attribute.String("cache.key", key),
		attribute.String("priority", priority.String()),
	)
	defer span.End()

	cached, hit, err := o.store.Get(ctx, key)
	if err != nil {
		// Cache read problems degrade to a miss, never to a caller error.
		o.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		hit = false
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	t := &Task{
		ID:          id,
		Priority:    priority,
		SubmittedAt: now,
		Ref:         ref,
		Params:      params.Clone(),
		Metadata:    metadata,
		Status:      StatusQueued,
		CacheKey:    key,
		JobKey:      jobKey(ref),
	}

	events := make([]Event, 0, 2)
	o.mu.Lock()
	t.Seq = o.nextSeq
	o.nextSeq++
	o.submitted++
	o.tasks[id] = t
	events = append(events, Event{Type: EventSubmitted, TaskID: id, Status: StatusQueued, At: now})

	switch {
	case hit:
		t.Status = StatusCompleted
		t.CacheHit = true
		t.Result = cached
		t.FinishedAt = now
		o.cacheHits++
		o.completed++
		events = append(events, Event{Type: EventCompleted, TaskID: id, Status: StatusCompleted, CacheHit: true, At: now})
	case o.attachToLeaderLocked(t):
		// Identical submission already in flight; one engine call serves both.
	default:
		o.leaders[key] = id
		o.queue.Enqueue(queue.Item{TaskID: id, Priority: priority, Seq: t.Seq, JobKey: t.JobKey})
	}
	o.mu.Unlock()

	o.metrics.IncCounter("orchestrator_submissions_total", map[string]string{"priority": priority.String()}, 1)
	if hit {
		o.metrics.IncCounter("orchestrator_cache_hits_total", nil, 1)
	}
	for _, ev := range events {
		o.emit(ev)
	}
	if !hit {
		o.wake()
	}
	return id, nil
}

func (o *Orchestrator) attachToLeaderLocked(t *Task) bool {
	leaderID, ok := o.leaders[t.CacheKey]
	if !ok {
		return false
	}
	leader, live := o.tasks[leaderID]
	if !live || isTerminal(leader.Status) {
		delete(o.leaders, t.CacheKey)
		return false
	}
	o.followers[leaderID] = append(o.followers[leaderID], t.ID)
	return true
}

// Cancel moves a queued or running task to Cancelled. A running task's
// engine call is allowed to finish; its result is discarded on return.
func (o *Orchestrator) Cancel(taskID string) bool {
	now := time.Now().UTC()
	o.mu.Lock()
	t, ok := o.tasks[taskID]
	if !ok || isTerminal(t.Status) {
		o.mu.Unlock()
		return false
	}
	switch t.Status {
	case StatusQueued:
		// Followers are tracked in the dedup index, never in the queue.
		if o.leaders[t.CacheKey] == t.ID {
			o.queue.MarkCancelled(taskID)
		}
		t.Status = StatusCancelled
		t.FinishedAt = now
		o.cancelled++
		o.detachLocked(t)
	case StatusRunning:
		t.cancelRequested = true
		t.Status = StatusCancelled
		t.FinishedAt = now
		o.cancelled++
	}
	o.mu.Unlock()

	o.metrics.IncCounter("orchestrator_cancellations_total", nil, 1)
	o.emit(Event{Type: EventCancelled, TaskID: taskID, Status: StatusCancelled, At: now})
	return true
}

// detachLocked removes a cancelled queued task from the dedup index. When the
// task led an in-flight key, the first live follower is promoted and enqueued
// so attached submissions still get served.
func (o *Orchestrator) detachLocked(t *Task) {
	leaderID, ok := o.leaders[t.CacheKey]
	if !ok {
		return
	}
	if leaderID != t.ID {
		rest := o.followers[leaderID][:0]
		for _, fid := range o.followers[leaderID] {
			if fid != t.ID {
				rest = append(rest, fid)
			}
		}
		o.followers[leaderID] = rest
		return
	}
	delete(o.leaders, t.CacheKey)
	fids := o.followers[t.ID]
	delete(o.followers, t.ID)
	o.promoteLocked(fids)
}

// promoteLocked makes the first live queued follower the new leader for its
// key, hands it the remaining followers and enqueues it.
func (o *Orchestrator) promoteLocked(fids []string) bool {
	for i, fid := range fids {
		f, live := o.tasks[fid]
		if !live || f.Status != StatusQueued {
			continue
		}
		o.leaders[f.CacheKey] = fid
		o.followers[fid] = append(o.followers[fid], fids[i+1:]...)
		o.queue.Enqueue(queue.Item{TaskID: fid, Priority: f.Priority, Seq: f.Seq, JobKey: f.JobKey})
		return true
	}
	return false
}

// Status returns a snapshot of the task, or false when the id is unknown or
// already garbage-collected.
func (o *Orchestrator) Status(taskID string) (View, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[taskID]
	if !ok {
		return View{}, false
	}
	return t.view(), true
}

// ErrNotReady reports that the task exists but has not reached a result yet.
var ErrNotReady = errors.New("result not ready")

// Result returns the task's result once it is Completed.
func (o *Orchestrator) Result(taskID string) (*sim.Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("unknown task %s", taskID)
	}
	switch t.Status {
	case StatusCompleted:
		return t.Result, nil
	case StatusFailed:
		return nil, fmt.Errorf("task failed: %s", t.Err)
	case StatusCancelled:
		return nil, errors.New("task cancelled")
	default:
		return nil, ErrNotReady
	}
}

// Stats reports queue depth, running count, cache hit rate and average
// dispatch latency.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	running := 0
	for _, t := range o.tasks {
		if t.Status == StatusRunning {
			running++
		}
	}
	hitRate := 0.0
	if o.submitted > 0 {
		hitRate = float64(o.cacheHits) / float64(o.submitted)
	}
	avg := 0.0
	if o.engineCalls > 0 {
		avg = o.latencySum / float64(o.engineCalls)
	}
	return Stats{
		QueueDepth:     o.queue.Len(),
		RunningCount:   running,
		TrackedTasks:   len(o.tasks),
		Submitted:      o.submitted,
		Completed:      o.completed,
		Failed:         o.failed,
		Cancelled:      o.cancelled,
		CacheHitRate:   hitRate,
		AvgLatencyMS:   avg,
		EngineCalls:    o.engineCalls,
		EngineFailures: o.engineFails,
	}
}

// CacheStats surfaces the result store counters.
func (o *Orchestrator) CacheStats(ctx context.Context) (cache.Stats, error) {
	return o.store.Stats(ctx)
}

// EvictCache applies TTL and size eviction on demand.
func (o *Orchestrator) EvictCache(ctx context.Context) (int, error) {
	removed := 0
	if o.opts.CacheTTL > 0 {
		n, err := o.store.EvictExpired(ctx, o.opts.CacheTTL)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	if o.opts.CacheMaxBytes > 0 {
		n, err := o.store.EvictToSize(ctx, o.opts.CacheMaxBytes)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

func (o *Orchestrator) wake() {
	select {
	case o.wakeCh <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) dispatchLoop(worker int) {
	defer o.wg.Done()
	for {
		items := o.planner.NextBatch(o.queue)
		if len(items) == 0 {
			select {
			case <-o.baseCtx.Done():
				return
			case <-o.wakeCh:
			case <-time.After(o.opts.PollInterval):
			}
			continue
		}
		o.processBatch(worker, items)
	}
}

func (o *Orchestrator) processBatch(worker int, items []queue.Item) {
	now := time.Now().UTC()
	tasks := make([]*Task, 0, len(items))
	events := make([]Event, 0, len(items))

	o.mu.Lock()
	for _, it := range items {
		t, ok := o.tasks[it.TaskID]
		if !ok || t.Status != StatusQueued {
			// Cancelled or garbage-collected between planning and dispatch.
			continue
		}
		t.Status = StatusRunning
		t.StartedAt = now
		tasks = append(tasks, t)
		events = append(events, Event{Type: EventStarted, TaskID: t.ID, Status: StatusRunning, RetryCount: t.RetryCount, At: now})
	}
	o.mu.Unlock()
	for _, ev := range events {
		o.emit(ev)
	}
	if len(tasks) == 0 {
		return
	}

	ref := tasks[0].Ref
	ctx, span := observability.StartSpan(o.baseCtx, "orchestrator.dispatch",
		attribute.Int("batch.size", len(tasks)),
		attribute.Int("worker", worker),
		attribute.String("engine.version", ref.EngineVersion),
	)
	ctx, cancel := context.WithTimeout(ctx, o.opts.DispatchTimeout)
	start := time.Now()

	var results []*sim.Result
	var err error
	if len(tasks) == 1 {
		var r *sim.Result
		r, err = o.eng.Submit(ctx, ref, tasks[0].Params)
		results = []*sim.Result{r}
	} else {
		params := make([]sim.ParameterSet, len(tasks))
		for i, t := range tasks {
			params[i] = t.Params
		}
		results, err = o.eng.SubmitBatch(ctx, ref, params)
	}
	latency := time.Since(start)
	cancel()
	span.End()

	o.mu.Lock()
	o.engineCalls++
	o.latencySum += float64(latency.Milliseconds())
	if err != nil {
		o.engineFails++
	}
	o.mu.Unlock()
	o.metrics.IncCounter("orchestrator_engine_calls_total", nil, 1)
	o.metrics.Observe("orchestrator_dispatch_latency_ms", nil, float64(latency.Milliseconds()))

	if err != nil {
		o.metrics.IncCounter("orchestrator_engine_errors_total", nil, 1)
		o.failBatch(tasks, err)
		return
	}
	if len(results) != len(tasks) {
		o.failBatch(tasks, engine.NewError(engine.KindSemanticFailure,
			"engine returned %d results for %d tasks", len(results), len(tasks)))
		return
	}
	for i, t := range tasks {
		o.completeTask(t, results[i])
	}
}

// completeTask writes the result through to the cache and completes the task
// plus any submissions attached to it. A cancelled task's result is written
// to the cache (it is valid work) but the task stays Cancelled.
func (o *Orchestrator) completeTask(t *Task, res *sim.Result) {
	putCtx, putCancel := context.WithTimeout(context.Background(), 30*time.Second)
	norm, _ := o.keys.Normalize(t.Params)
	if err := o.store.Put(putCtx, t.CacheKey, res, cache.PutMeta{Parameters: norm, EngineVersion: t.Ref.EngineVersion}); err != nil {
		// Losing a cache write costs performance, not correctness.
		o.logger.Warn("cache write failed", zap.String("key", t.CacheKey), zap.Error(err))
	}
	putCancel()

	now := time.Now().UTC()
	events := make([]Event, 0, 2)
	o.mu.Lock()
	delete(o.leaders, t.CacheKey)
	fids := o.followers[t.ID]
	delete(o.followers, t.ID)

	if t.Status == StatusRunning && !t.cancelRequested {
		t.Status = StatusCompleted
		t.Result = res
		t.FinishedAt = now
		o.completed++
		events = append(events, Event{Type: EventCompleted, TaskID: t.ID, Status: StatusCompleted, RetryCount: t.RetryCount, At: now})
	}
	for _, fid := range fids {
		f, ok := o.tasks[fid]
		if !ok || f.Status != StatusQueued {
			continue
		}
		f.Status = StatusCompleted
		f.Result = res
		f.FinishedAt = now
		o.completed++
		events = append(events, Event{Type: EventCompleted, TaskID: fid, Status: StatusCompleted, At: now})
	}
	o.mu.Unlock()

	o.metrics.IncCounter("orchestrator_tasks_completed_total", nil, float64(len(events)))
	for _, ev := range events {
		o.emit(ev)
	}
}

func (o *Orchestrator) failBatch(tasks []*Task, err error) {
	class := retry.Classify(err)
	now := time.Now().UTC()
	events := make([]Event, 0, len(tasks))
	terminalFailures := 0
	type delayed struct {
		id    string
		delay time.Duration
	}
	var requeues []delayed
	promoted := false

	o.mu.Lock()
	for _, t := range tasks {
		if t.Status != StatusRunning || t.cancelRequested {
			// Cancelled mid-flight; the leader keeps its status, but attached
			// submissions still need serving. A permanent failure is theirs
			// too; a transient one gets a promoted follower dispatched fresh.
			delete(o.leaders, t.CacheKey)
			fids := o.followers[t.ID]
			delete(o.followers, t.ID)
			if class == retry.Permanent {
				for _, fid := range fids {
					f, ok := o.tasks[fid]
					if !ok || f.Status != StatusQueued {
						continue
					}
					f.Status = StatusFailed
					f.Err = err.Error()
					f.FinishedAt = now
					o.failed++
					terminalFailures++
					events = append(events, Event{Type: EventFailed, TaskID: fid, Status: StatusFailed, Err: f.Err, At: now})
				}
				continue
			}
			if o.promoteLocked(fids) {
				promoted = true
			}
			continue
		}
		if class == retry.Transient && t.RetryCount < o.opts.MaxRetries {
			t.RetryCount++
			t.Status = StatusQueued
			d := o.policy.NextDelay(t.RetryCount)
			requeues = append(requeues, delayed{id: t.ID, delay: d})
			events = append(events, Event{Type: EventRetrying, TaskID: t.ID, Status: StatusQueued, RetryCount: t.RetryCount, Err: err.Error(), At: now})
			continue
		}
		t.Status = StatusFailed
		t.Err = err.Error()
		t.FinishedAt = now
		o.failed++
		terminalFailures++
		events = append(events, Event{Type: EventFailed, TaskID: t.ID, Status: StatusFailed, RetryCount: t.RetryCount, Err: t.Err, At: now})
		delete(o.leaders, t.CacheKey)
		// Followers share identical inputs, so a terminal failure is theirs too.
		for _, fid := range o.followers[t.ID] {
			f, ok := o.tasks[fid]
			if !ok || f.Status != StatusQueued {
				continue
			}
			f.Status = StatusFailed
			f.Err = t.Err
			f.FinishedAt = now
			o.failed++
			terminalFailures++
			events = append(events, Event{Type: EventFailed, TaskID: fid, Status: StatusFailed, Err: f.Err, At: now})
		}
		delete(o.followers, t.ID)
	}
	o.mu.Unlock()

	o.metrics.IncCounter("orchestrator_task_failures_total", map[string]string{"class": class.String()}, float64(terminalFailures))
	for _, ev := range events {
		o.emit(ev)
	}
	if promoted {
		o.wake()
	}
	for _, r := range requeues {
		r := r
		time.AfterFunc(r.delay, func() { o.requeue(r.id) })
	}
}

// requeue re-enters a task into the queue after its backoff delay, unless it
// was cancelled while waiting.
func (o *Orchestrator) requeue(taskID string) {
	o.mu.Lock()
	t, ok := o.tasks[taskID]
	if !ok || t.Status != StatusQueued {
		o.mu.Unlock()
		// A cancel during the backoff window left a tombstone for an item
		// that never re-enters the heap; reap it here.
		o.queue.ClearCancelled(taskID)
		return
	}
	o.queue.Enqueue(queue.Item{TaskID: t.ID, Priority: t.Priority, Seq: t.Seq, JobKey: t.JobKey})
	o.mu.Unlock()
	o.wake()
}

// janitor garbage-collects terminal tasks past the retention window and runs
// periodic cache eviction.
func (o *Orchestrator) janitor() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.baseCtx.Done():
			return
		case <-ticker.C:
		}
		o.sweep(time.Now().UTC())
		if removed, err := o.EvictCache(o.baseCtx); err != nil {
			o.logger.Warn("cache eviction failed", zap.Error(err))
		} else if removed > 0 {
			o.logger.Info("cache eviction", zap.Int("removed", removed))
		}
	}
}

func (o *Orchestrator) sweep(now time.Time) {
	cutoff := now.Add(-o.opts.Retention)
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, t := range o.tasks {
		if isTerminal(t.Status) && !t.FinishedAt.IsZero() && t.FinishedAt.Before(cutoff) {
			delete(o.tasks, id)
		}
	}
}

// jobKey is the batch-compatibility identity: same content and engine
// version mean same job reference.
func jobKey(ref sim.JobReference) string {
	sum := sha256.Sum256(ref.Content)
	return hex.EncodeToString(sum[:8]) + "@" + ref.EngineVersion
}
