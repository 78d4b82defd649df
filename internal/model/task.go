package model

import "time"

// TaskStatus is the lifecycle state of a tracked task.
type TaskStatus string

const (
	TaskStatusOpen     TaskStatus = "open"
	TaskStatusResolved TaskStatus = "resolved"
	TaskStatusStale    TaskStatus = "stale"
)

// TrackedTask links a finding fingerprint to a tracker task across runs.
// The persisted store keyed by Fingerprint is the single source of truth;
// there is at most one TrackedTask per fingerprint.
type TrackedTask struct {
	Fingerprint string     `json:"fingerprint"`
	TaskIID     int64      `json:"task_iid"`
	TaskURL     string     `json:"task_url,omitempty"`
	Title       string     `json:"title"`
	Status      TaskStatus `json:"status"`
	LastSeenRun int64      `json:"last_seen_run"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
	CreatedAt   time.Time  `json:"created_at"`
}
