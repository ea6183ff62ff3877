// Package simapi defines the wire types of the orchestrator HTTP API. It is
// importable by external clients and carries no server dependencies.
package simapi

type SubmitTaskRequest struct {
	Model         string            `json:"model"`
	Content       string            `json:"content"` // base64-encoded model content
	EngineVersion string            `json:"engine_version"`
	Parameters    map[string]any    `json:"parameters"`
	Priority      string            `json:"priority,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type SubmitTaskResponse struct {
	TaskID string `json:"task_id"`
}

type TaskStatusResponse struct {
	TaskID      string            `json:"task_id"`
	Status      string            `json:"status"`
	Priority    string            `json:"priority"`
	Progress    float64           `json:"progress"`
	RetryCount  int               `json:"retry_count"`
	CacheHit    bool              `json:"cache_hit"`
	Error       string            `json:"error,omitempty"`
	SubmittedAt string            `json:"submitted_at"`
	StartedAt   string            `json:"started_at,omitempty"`
	FinishedAt  string            `json:"finished_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type TaskResultResponse struct {
	TaskID        string               `json:"task_id"`
	Series        map[string][]float64 `json:"series,omitempty"`
	Scalars       map[string]float64   `json:"scalars,omitempty"`
	Meta          map[string]string    `json:"meta,omitempty"`
	EngineVersion string               `json:"engine_version,omitempty"`
	ElapsedMS     int64                `json:"elapsed_ms,omitempty"`
}

type CancelTaskResponse struct {
	Accepted bool `json:"accepted"`
}

type StatsResponse struct {
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

type CacheStatsResponse struct {
	HitCount   int64 `json:"hit_count"`
	MissCount  int64 `json:"miss_count"`
	EntryCount int64 `json:"entry_count"`
	SizeBytes  int64 `json:"size_bytes"`
}

type EvictCacheResponse struct {
	Removed int `json:"removed"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
