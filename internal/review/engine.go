// Package review sends chunks to the model and turns the structured
// payloads into file-absolute findings. Transient failures are retried
// per chunk, malformed payloads discard the chunk, and an authentication
// failure aborts the whole run.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"basegraph.app/auditor/common/llm"
	"basegraph.app/auditor/common/retry"
	"basegraph.app/auditor/internal/chunker"
	"basegraph.app/auditor/internal/collab"
	"basegraph.app/auditor/internal/model"
)

type findingsResponse struct {
	Findings []findingItem `json:"findings" jsonschema_description:"All issues found in the reviewed code, empty if none"`
}

type findingItem struct {
	Severity     string `json:"severity" jsonschema:"enum=info,enum=warning,enum=critical" jsonschema_description:"How urgent the issue is"`
	Title        string `json:"title" jsonschema_description:"Short imperative summary of the issue"`
	Description  string `json:"description" jsonschema_description:"Why this is a problem and what to do about it"`
	File         string `json:"file" jsonschema_description:"File path exactly as shown in the excerpt header"`
	StartLine    int    `json:"start_line" jsonschema_description:"First affected line, counted within the shown excerpt starting at 1"`
	EndLine      int    `json:"end_line" jsonschema_description:"Last affected line, counted within the shown excerpt"`
	SuggestedFix string `json:"suggested_fix" jsonschema_description:"Concrete fix suggestion, empty if none"`
}

var findingsSchema = llm.GenerateSchema[findingsResponse]()

// ChunkOutcome is the result of reviewing one chunk. Exactly one of the
// three states holds: findings returned, payload discarded, or retries
// exhausted.
type ChunkOutcome struct {
	Index     int
	Findings  []model.Finding
	Discarded bool
	Failed    bool
	Err       error
}

type Config struct {
	MaxConcurrency int
	RequestTimeout time.Duration
	MaxTokens      int
}

type Engine struct {
	client  llm.Client
	policy  retry.Policy
	maxConc int
	timeout time.Duration
	maxTok  int
}

func New(client llm.Client, policy retry.Policy, cfg Config) *Engine {
	maxConc := cfg.MaxConcurrency
	if maxConc < 1 {
		maxConc = 1
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Engine{
		client:  client,
		policy:  policy,
		maxConc: maxConc,
		timeout: timeout,
		maxTok:  cfg.MaxTokens,
	}
}

// ReviewAll reviews every chunk with bounded parallelism. It returns one
// outcome per chunk, in chunk order, after all in-flight requests have
// drained. The returned error is non-nil only for a fatal condition:
// authentication failure or external cancellation. onChunk, if set, is
// called once per finished chunk.
func (e *Engine) ReviewAll(ctx context.Context, chunks []chunker.Chunk, graph string, onChunk func()) ([]ChunkOutcome, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	outcomes := make([]ChunkOutcome, len(chunks))
	sem := make(chan struct{}, e.maxConc)
	var wg sync.WaitGroup

	for i, ch := range chunks {
		wg.Add(1)
		go func(idx int, ch chunker.Chunk) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			// A fatal error elsewhere stops new requests; chunks that
			// never ran count as failed.
			if err := ctx.Err(); err != nil {
				outcomes[idx] = ChunkOutcome{Index: idx, Failed: true, Err: context.Cause(ctx)}
				return
			}

			outcome := e.reviewChunk(ctx, idx, ch, graph)
			outcomes[idx] = outcome

			if collab.IsAuthFailed(outcome.Err) {
				cancel(outcome.Err)
			}
			if onChunk != nil {
				onChunk()
			}
		}(i, ch)
	}
	wg.Wait()

	if cause := context.Cause(ctx); collab.IsAuthFailed(cause) {
		return outcomes, fmt.Errorf("review aborted: %w", cause)
	}
	if ctx.Err() != nil {
		// External cancellation.
		return outcomes, context.Cause(ctx)
	}
	return outcomes, nil
}

func (e *Engine) reviewChunk(ctx context.Context, idx int, ch chunker.Chunk, graph string) ChunkOutcome {
	var payload findingsResponse

	err := e.policy.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		payload = findingsResponse{}
		_, err := e.client.Chat(callCtx, llm.Request{
			SystemPrompt: reviewSystemPrompt,
			UserPrompt:   buildUserPrompt(ch, graph),
			SchemaName:   "review_findings",
			Schema:       findingsSchema,
			MaxTokens:    e.maxTok,
			Temperature:  llm.Temp(0.1),
		}, &payload)
		if err == nil {
			return nil
		}
		if errors.Is(err, llm.ErrDecode) {
			return collab.Malformed("model review", err)
		}
		// A per-call timeout is transient as long as the run itself is
		// still live.
		if callCtx.Err() != nil && ctx.Err() == nil {
			return collab.Transient("model review", err)
		}
		return collab.ClassifyModel("model review", err)
	}, collab.Retryable)

	if err != nil {
		switch {
		case collab.IsMalformed(err):
			slog.WarnContext(ctx, "chunk payload discarded",
				"chunk", idx,
				"error", err)
			return ChunkOutcome{Index: idx, Discarded: true, Err: err}
		case collab.IsAuthFailed(err):
			return ChunkOutcome{Index: idx, Failed: true, Err: err}
		default:
			slog.WarnContext(ctx, "chunk review failed",
				"chunk", idx,
				"error", err)
			return ChunkOutcome{Index: idx, Failed: true, Err: err}
		}
	}

	findings, err := translateFindings(ch, payload.Findings)
	if err != nil {
		slog.WarnContext(ctx, "chunk payload discarded",
			"chunk", idx,
			"error", err)
		return ChunkOutcome{Index: idx, Discarded: true, Err: collab.Malformed("model review", err)}
	}

	slog.DebugContext(ctx, "chunk reviewed",
		"chunk", idx,
		"findings", len(findings))
	return ChunkOutcome{Index: idx, Findings: findings}
}

func buildUserPrompt(ch chunker.Chunk, graph string) string {
	var b strings.Builder
	if graph != "" {
		b.WriteString("Project layout:\n")
		b.WriteString(graph)
		b.WriteString("\n\n")
	}
	b.WriteString("Code to review:\n\n")
	b.WriteString(ch.Render())
	return b.String()
}

// translateFindings validates the payload against the chunk and converts
// excerpt-local line numbers to file-absolute ones. Any violation fails
// the whole payload; strict schema mode makes structural errors rare, so
// what reaches here is hallucinated paths or line numbers.
func translateFindings(ch chunker.Chunk, items []findingItem) ([]model.Finding, error) {
	findings := make([]model.Finding, 0, len(items))
	for i, item := range items {
		severity := model.Severity(item.Severity)
		if !severity.Valid() {
			return nil, fmt.Errorf("finding %d: unknown severity %q", i, item.Severity)
		}
		if strings.TrimSpace(item.Title) == "" {
			return nil, fmt.Errorf("finding %d: empty title", i)
		}

		frag, ok := ch.Fragment(item.File)
		if !ok {
			return nil, fmt.Errorf("finding %d: file %q not in chunk", i, item.File)
		}

		start, end := item.StartLine, item.EndLine
		if end == 0 {
			end = start
		}
		fragLines := frag.EndLine - frag.StartLine + 1
		if start < 1 || end < start || end > fragLines {
			return nil, fmt.Errorf("finding %d: line range %d-%d outside excerpt of %d lines", i, start, end, fragLines)
		}

		findings = append(findings, model.Finding{
			Severity:     severity,
			Title:        item.Title,
			Description:  item.Description,
			File:         item.File,
			StartLine:    frag.StartLine + start - 1,
			EndLine:      frag.StartLine + end - 1,
			SuggestedFix: item.SuggestedFix,
		})
	}
	return findings, nil
}
