// Package tracker is the outbound issue-tracker collaborator. The
// pipeline only sees the narrow Tracker interface; errors crossing it are
// classified collab variants.
package tracker

import (
	"context"

	"basegraph.app/auditor/internal/model"
)

// TaskRequest is a create request derived from one finding.
type TaskRequest struct {
	Title       string
	Description string
	Severity    model.Severity
}

// TaskRef identifies a task inside the tracker.
type TaskRef struct {
	IID int64
	URL string
}

type Tracker interface {
	CreateTask(ctx context.Context, req TaskRequest) (*TaskRef, error)
	ReopenTask(ctx context.Context, ref TaskRef) error
}
