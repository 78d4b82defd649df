// Package pipeline wires the run end to end: scan, chunk, review,
// deduplicate, synchronize. The review phase fans out; everything else is
// sequential, with a barrier between review and sync so the deduplicator
// sees every chunk result before the first tracker write.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"basegraph.app/auditor/common/id"
	"basegraph.app/auditor/internal/chunker"
	"basegraph.app/auditor/internal/dedup"
	"basegraph.app/auditor/internal/model"
	"basegraph.app/auditor/internal/review"
	"basegraph.app/auditor/internal/scanner"
	"basegraph.app/auditor/internal/tasksync"
)

type Pipeline struct {
	scanner *scanner.Scanner
	chunker *chunker.Chunker
	engine  *review.Engine
	dedup   *dedup.Deduplicator
	sync    *tasksync.Synchronizer

	// Progress, if set, is called with the chunk count before the review
	// phase and returns a per-chunk completion callback.
	Progress func(total int) func()
}

func New(
	sc *scanner.Scanner,
	ch *chunker.Chunker,
	engine *review.Engine,
	dd *dedup.Deduplicator,
	ts *tasksync.Synchronizer,
) *Pipeline {
	return &Pipeline{
		scanner: sc,
		chunker: ch,
		engine:  engine,
		dedup:   dd,
		sync:    ts,
	}
}

// Run executes one full pipeline pass and always returns a summary when
// the run got past scanning, even if parts of it degraded. The entries
// are the run's deduplicated findings, for report export. The error is
// non-nil only for fatal conditions: inaccessible scan root,
// authentication failure, or cancellation.
func (p *Pipeline) Run(ctx context.Context) (*model.RunSummary, []dedup.Entry, error) {
	runID := id.New()
	summary := &model.RunSummary{RunID: runID}

	slog.InfoContext(ctx, "run starting", "run_id", runID)

	records, stats, err := p.scanner.Scan()
	if err != nil {
		return nil, nil, fmt.Errorf("scanning repository: %w", err)
	}
	summary.FilesScanned = stats.Scanned
	summary.FilesSkipped = stats.Skipped

	graph := scanner.Graph(records)
	chunks := p.chunker.Chunk(records)
	summary.ChunksTotal = len(chunks)

	slog.InfoContext(ctx, "repository chunked",
		"run_id", runID,
		"files", len(records),
		"chunks", len(chunks))

	var onChunk func()
	if p.Progress != nil {
		onChunk = p.Progress(len(chunks))
	}

	outcomes, err := p.engine.ReviewAll(ctx, chunks, graph, onChunk)
	if err != nil {
		return summary, nil, err
	}

	var findings []model.Finding
	for _, o := range outcomes {
		switch {
		case o.Discarded:
			summary.ChunksDiscarded++
		case o.Failed:
			summary.ChunksFailed++
			summary.FailedChunks = append(summary.FailedChunks, o.Index)
		default:
			summary.ChunksReviewed++
			findings = append(findings, o.Findings...)
		}
	}
	summary.FindingsTotal = len(findings)

	slog.InfoContext(ctx, "review phase complete",
		"run_id", runID,
		"reviewed", summary.ChunksReviewed,
		"discarded", summary.ChunksDiscarded,
		"failed", summary.ChunksFailed,
		"findings", len(findings))

	entries, err := p.dedup.Process(ctx, findings)
	if err != nil {
		return summary, nil, fmt.Errorf("deduplicating findings: %w", err)
	}

	if err := p.sync.Sync(ctx, runID, entries, summary); err != nil {
		return summary, entries, err
	}

	slog.InfoContext(ctx, "run complete",
		"run_id", runID,
		"created", summary.Created,
		"refreshed", summary.Refreshed,
		"reopened", summary.Reopened,
		"stale", len(summary.StaleFingerprints))

	return summary, entries, nil
}
