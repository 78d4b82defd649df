// Package store persists the fingerprint to tracker-task mapping between
// runs. It is the single source of truth for idempotent syncing: a bbolt
// file with one bucket, JSON values, atomic per-key upserts and full
// enumeration for the stale sweep.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"basegraph.app/auditor/internal/model"
)

var ErrNotFound = errors.New("tracked task not found")

var bucketTasks = []byte("tracked_tasks")

type TaskStore struct {
	db *bbolt.DB
}

// Open creates or opens the task store file, creating parent directories
// as needed.
func Open(path string) (*TaskStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening task store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTasks)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &TaskStore{db: db}, nil
}

func (s *TaskStore) Close() error {
	return s.db.Close()
}

// Get returns the tracked task for a fingerprint, or ErrNotFound.
func (s *TaskStore) Get(ctx context.Context, fingerprint string) (*model.TrackedTask, error) {
	var task *model.TrackedTask
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get([]byte(fingerprint))
		if data == nil {
			return ErrNotFound
		}
		task = &model.TrackedTask{}
		return json.Unmarshal(data, task)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Put upserts one tracked task. Each call is a single bbolt write
// transaction, so per-fingerprint upserts are atomic.
func (s *TaskStore) Put(ctx context.Context, task *model.TrackedTask) error {
	if task.Fingerprint == "" {
		return fmt.Errorf("tracked task missing fingerprint")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTasks).Put([]byte(task.Fingerprint), data)
	})
}

// ForEach enumerates all tracked tasks.
func (s *TaskStore) ForEach(ctx context.Context, fn func(model.TrackedTask) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task model.TrackedTask
			if err := json.Unmarshal(v, &task); err != nil {
				return fmt.Errorf("decoding task %s: %w", k, err)
			}
			return fn(task)
		})
	})
}

// MarkStale flips every open task whose fingerprint was not seen in runID
// to stale, and returns those fingerprints. Fingerprints listed in skip
// are left alone: their upsert failed this run, but they were seen.
// Resolved tasks are left untouched; closing or deleting tracker tasks is
// the operator's call.
func (s *TaskStore) MarkStale(ctx context.Context, runID int64, skip []string) ([]string, error) {
	skipped := make(map[string]bool, len(skip))
	for _, fp := range skip {
		skipped[fp] = true
	}

	var stale []string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTasks)

		var pending []model.TrackedTask
		err := b.ForEach(func(k, v []byte) error {
			var task model.TrackedTask
			if err := json.Unmarshal(v, &task); err != nil {
				return fmt.Errorf("decoding task %s: %w", k, err)
			}
			if task.Status == model.TaskStatusOpen && task.LastSeenRun != runID && !skipped[task.Fingerprint] {
				pending = append(pending, task)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, task := range pending {
			task.Status = model.TaskStatusStale
			data, err := json.Marshal(&task)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(task.Fingerprint), data); err != nil {
				return err
			}
			stale = append(stale, task.Fingerprint)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stale, nil
}
