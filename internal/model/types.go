// Package model holds the persistent entity types shared by the store,
// dispatcher, worker pool, and orchestrator: Run, Task, Asset, AssetVersion,
// and Exception, per the data model (spec §3).
package model

import "time"

// RunStatus is the lifecycle state of a Run. completed_at is non-nil iff
// Status is Completed or Stopped; terminal runs never transition back.
type RunStatus string

const (
	RunInitialized RunStatus = "initialized"
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunStopped     RunStatus = "stopped"
)

// IsTerminal reports whether the status never transitions further.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunStopped
}

// Run identifies one crawl attempt for a named source.
type Run struct {
	ID          int64      `json:"id"`
	Source      string     `json:"source"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Label       string     `json:"label,omitempty"`
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskFinished   TaskStatus = "finished"
	TaskError      TaskStatus = "error"
)

// TaskType distinguishes page crawls (which fan out via link discovery)
// from media fetches (leaves, no further discovery).
type TaskType string

const (
	TaskTypePage  TaskType = "page"
	TaskTypeMedia TaskType = "media"
)

// Task is one unit of work: fetch one URL at a given remaining depth budget.
//
// Uniqueness: (RunID, URL) is unique per run — seeding the same URL twice is
// a no-op (enforced by the store). Invariants: InProgress requires
// LeaseOwner and LeaseExpiresAt set; Pending requires both unset, and
// NextRunAt <= now means the task is eligible for acquisition. Finished and
// Error are sticky except that an explicit release returns a task from
// InProgress to Pending without incrementing AttemptCount.
type Task struct {
	ID             int64      `json:"id"`
	RunID          int64      `json:"run_id"`
	URL            string     `json:"url"`
	Depth          int        `json:"depth"`
	Status         TaskStatus `json:"status"`
	AttemptCount   int        `json:"attempt_count"`
	LastError      string     `json:"last_error,omitempty"`
	LeaseOwner     string     `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	NextRunAt      time.Time  `json:"next_run_at"`
	TaskType       TaskType   `json:"task_type"`
	Priority       int        `json:"priority"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Asset is the logical content at an asset key (typically the URL) for a
// run. Uniqueness: (RunID, AssetKey). Created/updated on successful fetch;
// never deleted except via source-delete, which is external to this core.
type Asset struct {
	ID        int64     `json:"id"`
	RunID     int64     `json:"run_id"`
	SourceURL string    `json:"source_url"`
	AssetKey  string    `json:"asset_key"`
	AssetType string    `json:"asset_type"`
	Status    string    `json:"status"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AssetVersion is an immutable record appended on each successful fetch of
// an asset. Version equals the previous max plus one under the same
// AssetID, assigned atomically with insertion.
type AssetVersion struct {
	ID             int64     `json:"id"`
	AssetID        int64     `json:"asset_id"`
	Version        int       `json:"version"`
	Checksum       string    `json:"checksum"`
	RawPath        string    `json:"raw_path,omitempty"`
	NormalizedPath string    `json:"normalized_path,omitempty"`
	MetadataJSON   string    `json:"metadata_json,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Exception is an open/resolved issue surfaced by a stage. The core records
// none by default but the schema admits them (spec §3).
type Exception struct {
	ID          int64      `json:"id"`
	RunID       int64      `json:"run_id"`
	Stage       string     `json:"stage"`
	URL         string     `json:"url,omitempty"`
	AssetKey    string     `json:"asset_key,omitempty"`
	Message     string     `json:"message"`
	ContextJSON string     `json:"context_json,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// TaskStatusCounts aggregates task counts by status for a run.
type TaskStatusCounts struct {
	Pending    int
	InProgress int
	Finished   int
	Error      int
}

// Total returns the sum across all statuses.
func (c TaskStatusCounts) Total() int {
	return c.Pending + c.InProgress + c.Finished + c.Error
}
