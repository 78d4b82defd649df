package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"basegraph.app/auditor/core/config"
	"basegraph.app/auditor/internal/collab"
	"basegraph.app/auditor/internal/model"
)

// severityLabels maps finding severities onto scoped GitLab labels.
var severityLabels = map[model.Severity]string{
	model.SeverityCritical: "severity::critical",
	model.SeverityWarning:  "severity::warning",
	model.SeverityInfo:     "severity::info",
}

const auditLabel = "code-audit"

type gitLabTracker struct {
	client  *gitlab.Client
	project string
}

// NewGitLab builds a Tracker backed by the GitLab issues API. An empty
// base URL targets gitlab.com.
func NewGitLab(cfg config.TrackerConfig) (Tracker, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("tracker token is required")
	}
	if cfg.Project == "" {
		return nil, fmt.Errorf("tracker project is required")
	}

	var client *gitlab.Client
	var err error
	if cfg.BaseURL == "" {
		client, err = gitlab.NewClient(cfg.Token)
	} else {
		apiURL := strings.TrimSuffix(cfg.BaseURL, "/") + "/api/v4"
		client, err = gitlab.NewClient(cfg.Token, gitlab.WithBaseURL(apiURL))
	}
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}

	return &gitLabTracker{
		client:  client,
		project: cfg.Project,
	}, nil
}

func (t *gitLabTracker) CreateTask(ctx context.Context, req TaskRequest) (*TaskRef, error) {
	labels := gitlab.LabelOptions{auditLabel}
	if label, ok := severityLabels[req.Severity]; ok {
		labels = append(labels, label)
	}

	issue, resp, err := t.client.Issues.CreateIssue(
		t.project,
		&gitlab.CreateIssueOptions{
			Title:       gitlab.Ptr(req.Title),
			Description: gitlab.Ptr(req.Description),
			Labels:      &labels,
		},
		gitlab.WithContext(ctx),
	)
	if err != nil {
		return nil, collab.ClassifyTracker("tracker create", resp, err)
	}

	slog.InfoContext(ctx, "tracker task created",
		"project", t.project,
		"iid", issue.IID,
		"url", issue.WebURL)

	return &TaskRef{
		IID: int64(issue.IID),
		URL: issue.WebURL,
	}, nil
}

func (t *gitLabTracker) ReopenTask(ctx context.Context, ref TaskRef) error {
	_, resp, err := t.client.Issues.UpdateIssue(
		t.project,
		ref.IID,
		&gitlab.UpdateIssueOptions{
			StateEvent: gitlab.Ptr("reopen"),
		},
		gitlab.WithContext(ctx),
	)
	if err != nil {
		return collab.ClassifyTracker("tracker reopen", resp, err)
	}

	slog.InfoContext(ctx, "tracker task reopened",
		"project", t.project,
		"iid", ref.IID)
	return nil
}
