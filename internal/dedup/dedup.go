// Package dedup collapses duplicate findings within a run and decides,
// against the persisted task store, what each surviving finding means for
// the tracker: a new task, a refresh of an open one, or a re-open of a
// resolved one.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"basegraph.app/auditor/internal/model"
	"basegraph.app/auditor/internal/store"
)

// Action is the synchronizer's hint for one finding.
type Action string

const (
	ActionNew     Action = "new"
	ActionRefresh Action = "refresh"
	ActionReopen  Action = "reopen"
)

// Entry pairs a finding with its fingerprint and action hint.
type Entry struct {
	Finding     model.Finding
	Fingerprint string
	Action      Action
}

// TaskReader is the read-only slice of the task store the deduplicator
// needs.
type TaskReader interface {
	Get(ctx context.Context, fingerprint string) (*model.TrackedTask, error)
}

type Deduplicator struct {
	tasks TaskReader
}

func New(tasks TaskReader) *Deduplicator {
	return &Deduplicator{tasks: tasks}
}

// Process consumes the full set of a run's findings, in chunk order, and
// returns the deduplicated entries in the same order. Exact-fingerprint
// duplicates keep their first occurrence; chunk overlap makes such
// duplicates legitimate, not an error.
func (d *Deduplicator) Process(ctx context.Context, findings []model.Finding) ([]Entry, error) {
	seen := make(map[string]bool, len(findings))
	entries := make([]Entry, 0, len(findings))

	for _, f := range findings {
		fp := Fingerprint(f)
		if seen[fp] {
			slog.DebugContext(ctx, "duplicate finding collapsed",
				"fingerprint", fp,
				"file", f.File,
				"title", f.Title)
			continue
		}
		seen[fp] = true

		action, err := d.classify(ctx, fp)
		if err != nil {
			return nil, fmt.Errorf("classifying finding %s: %w", fp, err)
		}

		entries = append(entries, Entry{
			Finding:     f,
			Fingerprint: fp,
			Action:      action,
		})
	}

	return entries, nil
}

func (d *Deduplicator) classify(ctx context.Context, fingerprint string) (Action, error) {
	task, err := d.tasks.Get(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ActionNew, nil
		}
		return "", err
	}

	switch task.Status {
	case model.TaskStatusResolved:
		// Re-open rather than silently re-create a second task.
		return ActionReopen, nil
	default:
		// Open and stale tasks are refreshed; stale just means the
		// fingerprint skipped some runs in between.
		return ActionRefresh, nil
	}
}
