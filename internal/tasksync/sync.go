// Package tasksync upserts deduplicated findings into the tracker and
// keeps the persisted fingerprint store in step. All writes are
// serialized through a single loop: per-fingerprint upserts are atomic
// and never race, since two concurrent runs could otherwise mint two
// tasks for one fingerprint.
package tasksync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"basegraph.app/auditor/common/retry"
	"basegraph.app/auditor/internal/collab"
	"basegraph.app/auditor/internal/dedup"
	"basegraph.app/auditor/internal/model"
	"basegraph.app/auditor/internal/tracker"
)

// TaskStore is the slice of the persisted store the synchronizer writes
// through.
type TaskStore interface {
	Get(ctx context.Context, fingerprint string) (*model.TrackedTask, error)
	Put(ctx context.Context, task *model.TrackedTask) error
	MarkStale(ctx context.Context, runID int64, skip []string) ([]string, error)
}

type Synchronizer struct {
	tracker tracker.Tracker
	tasks   TaskStore
	policy  retry.Policy
	dryRun  bool
	now     func() time.Time
}

func New(trk tracker.Tracker, tasks TaskStore, policy retry.Policy, dryRun bool) *Synchronizer {
	return &Synchronizer{
		tracker: trk,
		tasks:   tasks,
		policy:  policy,
		dryRun:  dryRun,
		now:     time.Now,
	}
}

// Sync processes the deduplicated entries of one run in order, then marks
// every fingerprint absent from the run as stale. Individual upsert
// failures are recorded in the summary and the loop continues; only an
// authentication failure or cancellation aborts.
func (s *Synchronizer) Sync(ctx context.Context, runID int64, entries []dedup.Entry, summary *model.RunSummary) error {
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.syncOne(ctx, runID, entry)
		if err == nil {
			switch entry.Action {
			case dedup.ActionNew:
				summary.Created++
			case dedup.ActionRefresh:
				summary.Refreshed++
			case dedup.ActionReopen:
				summary.Reopened++
			}
			continue
		}

		if collab.IsAuthFailed(err) {
			return fmt.Errorf("task sync aborted: %w", err)
		}

		slog.ErrorContext(ctx, "task upsert failed",
			"fingerprint", entry.Fingerprint,
			"action", entry.Action,
			"error", err)
		summary.FailedFingerprints = append(summary.FailedFingerprints, entry.Fingerprint)
	}

	if s.dryRun {
		return nil
	}

	// A failed upsert still means the fingerprint was seen this run; keep
	// it out of the sweep so it is not flipped stale on top of failing.
	stale, err := s.tasks.MarkStale(ctx, runID, summary.FailedFingerprints)
	if err != nil {
		return fmt.Errorf("marking stale tasks: %w", err)
	}
	summary.StaleFingerprints = stale

	return nil
}

func (s *Synchronizer) syncOne(ctx context.Context, runID int64, entry dedup.Entry) error {
	switch entry.Action {
	case dedup.ActionNew:
		return s.createTask(ctx, runID, entry)
	case dedup.ActionRefresh:
		return s.refreshTask(ctx, runID, entry)
	case dedup.ActionReopen:
		return s.reopenTask(ctx, runID, entry)
	default:
		return fmt.Errorf("unknown action %q", entry.Action)
	}
}

func (s *Synchronizer) createTask(ctx context.Context, runID int64, entry dedup.Entry) error {
	if s.dryRun {
		slog.InfoContext(ctx, "dry run: would create task",
			"fingerprint", entry.Fingerprint,
			"title", entry.Finding.Title)
		return nil
	}

	var ref *tracker.TaskRef
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		ref, err = s.tracker.CreateTask(ctx, buildRequest(entry.Finding))
		return err
	}, collab.Retryable)
	if err != nil {
		return err
	}

	now := s.now()
	return s.tasks.Put(ctx, &model.TrackedTask{
		Fingerprint: entry.Fingerprint,
		TaskIID:     ref.IID,
		TaskURL:     ref.URL,
		Title:       entry.Finding.Title,
		Status:      model.TaskStatusOpen,
		LastSeenRun: runID,
		LastSeenAt:  now,
		CreatedAt:   now,
	})
}

func (s *Synchronizer) refreshTask(ctx context.Context, runID int64, entry dedup.Entry) error {
	if s.dryRun {
		return nil
	}

	task, err := s.tasks.Get(ctx, entry.Fingerprint)
	if err != nil {
		return fmt.Errorf("loading tracked task: %w", err)
	}

	// No tracker write: the task already exists and is open or stale.
	// A stale task seen again simply becomes open.
	task.Status = model.TaskStatusOpen
	task.LastSeenRun = runID
	task.LastSeenAt = s.now()
	return s.tasks.Put(ctx, task)
}

func (s *Synchronizer) reopenTask(ctx context.Context, runID int64, entry dedup.Entry) error {
	if s.dryRun {
		slog.InfoContext(ctx, "dry run: would reopen task",
			"fingerprint", entry.Fingerprint)
		return nil
	}

	task, err := s.tasks.Get(ctx, entry.Fingerprint)
	if err != nil {
		return fmt.Errorf("loading tracked task: %w", err)
	}

	ref := tracker.TaskRef{IID: task.TaskIID, URL: task.TaskURL}
	err = s.policy.Do(ctx, func(ctx context.Context) error {
		return s.tracker.ReopenTask(ctx, ref)
	}, collab.Retryable)

	if collab.IsNotFound(err) {
		// The tracker task was deleted by a human. Recreate under the
		// same fingerprint and overwrite the stored ref.
		slog.WarnContext(ctx, "tracked task gone from tracker, recreating",
			"fingerprint", entry.Fingerprint,
			"iid", task.TaskIID)
		var newRef *tracker.TaskRef
		err = s.policy.Do(ctx, func(ctx context.Context) error {
			var cerr error
			newRef, cerr = s.tracker.CreateTask(ctx, buildRequest(entry.Finding))
			return cerr
		}, collab.Retryable)
		if err != nil {
			return err
		}
		task.TaskIID = newRef.IID
		task.TaskURL = newRef.URL
	} else if err != nil {
		return err
	}

	task.Status = model.TaskStatusOpen
	task.LastSeenRun = runID
	task.LastSeenAt = s.now()
	return s.tasks.Put(ctx, task)
}

func buildRequest(f model.Finding) tracker.TaskRequest {
	return tracker.TaskRequest{
		Title:       f.Title,
		Description: renderDescription(f),
		Severity:    f.Severity,
	}
}

func renderDescription(f model.Finding) string {
	desc := f.Description
	desc += fmt.Sprintf("\n\n**Location:** `%s` lines %d-%d", f.File, f.StartLine, f.EndLine)
	desc += fmt.Sprintf("\n**Severity:** %s", f.Severity)
	if f.SuggestedFix != "" {
		desc += "\n\n**Suggested fix:**\n\n" + f.SuggestedFix
	}
	return desc
}
