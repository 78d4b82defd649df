package review_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"basegraph.app/auditor/common/llm"
	"basegraph.app/auditor/common/retry"
	"basegraph.app/auditor/internal/chunker"
	"basegraph.app/auditor/internal/collab"
	"basegraph.app/auditor/internal/model"
	"basegraph.app/auditor/internal/review"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// respondWith marshals a findings payload into the engine's result value,
// the same way the real client decodes model output.
func respondWith(result any, findings ...map[string]any) (*llm.Response, error) {
	if findings == nil {
		findings = []map[string]any{}
	}
	data, err := json.Marshal(map[string]any{"findings": findings})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, result); err != nil {
		return nil, err
	}
	return &llm.Response{PromptTokens: 100, CompletionTokens: 50}, nil
}

func singleFragmentChunk(path string, startLine, endLine int) chunker.Chunk {
	lines := make([]string, 0, endLine-startLine+1)
	for n := startLine; n <= endLine; n++ {
		lines = append(lines, fmt.Sprintf("line %d\n", n))
	}
	return chunker.Chunk{Fragments: []chunker.Fragment{{
		Path:      path,
		StartLine: startLine,
		EndLine:   endLine,
		Text:      strings.Join(lines, ""),
	}}}
}

var _ = Describe("Engine", func() {
	var (
		ctx     context.Context
		mockLLM *mockLLMClient
		policy  retry.Policy
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockLLM = &mockLLMClient{}
		policy = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	})

	newEngine := func(maxConc int) *review.Engine {
		return review.New(mockLLM, policy, review.Config{
			MaxConcurrency: maxConc,
			RequestTimeout: time.Second,
		})
	}

	Describe("ReviewAll", func() {
		Context("well-formed payload", func() {
			It("translates excerpt-local lines to file-absolute ones", func() {
				// The fragment covers lines 41-50 of the file; the model
				// reports lines within the shown excerpt.
				chunk := singleFragmentChunk("internal/db/conn.go", 41, 50)
				mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
					return respondWith(result, map[string]any{
						"severity":      "critical",
						"title":         "Connection leaked on error path",
						"description":   "The connection is never closed when ping fails.",
						"file":          "internal/db/conn.go",
						"start_line":    2,
						"end_line":      3,
						"suggested_fix": "Close the connection before returning.",
					})
				}

				outcomes, err := newEngine(1).ReviewAll(ctx, []chunker.Chunk{chunk}, "", nil)

				Expect(err).NotTo(HaveOccurred())
				Expect(outcomes).To(HaveLen(1))
				Expect(outcomes[0].Failed).To(BeFalse())
				Expect(outcomes[0].Discarded).To(BeFalse())
				Expect(outcomes[0].Findings).To(HaveLen(1))

				f := outcomes[0].Findings[0]
				Expect(f.File).To(Equal("internal/db/conn.go"))
				Expect(f.StartLine).To(Equal(42))
				Expect(f.EndLine).To(Equal(43))
				Expect(f.Severity).To(Equal(model.SeverityCritical))
				Expect(mockLLM.calls()).To(Equal(1))
			})

			It("accepts an empty findings list", func() {
				chunk := singleFragmentChunk("clean.go", 1, 5)
				mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
					return respondWith(result)
				}

				outcomes, err := newEngine(1).ReviewAll(ctx, []chunker.Chunk{chunk}, "", nil)

				Expect(err).NotTo(HaveOccurred())
				Expect(outcomes[0].Findings).To(BeEmpty())
				Expect(outcomes[0].Discarded).To(BeFalse())
				Expect(outcomes[0].Failed).To(BeFalse())
			})

			It("includes the project layout in the prompt when provided", func() {
				chunk := singleFragmentChunk("a.go", 1, 3)
				var prompt string
				mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
					prompt = req.UserPrompt
					return respondWith(result)
				}

				_, err := newEngine(1).ReviewAll(ctx, []chunker.Chunk{chunk}, "└── a.go", nil)

				Expect(err).NotTo(HaveOccurred())
				Expect(prompt).To(ContainSubstring("Project layout:"))
				Expect(prompt).To(ContainSubstring("└── a.go"))
				Expect(prompt).To(ContainSubstring("--- file: a.go (lines 1-3) ---"))
			})
		})

		Context("malformed payload", func() {
			It("discards the chunk on a decode failure without retrying", func() {
				chunk := singleFragmentChunk("a.go", 1, 5)
				mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
					return nil, fmt.Errorf("unmarshal response: %w", llm.ErrDecode)
				}

				outcomes, err := newEngine(1).ReviewAll(ctx, []chunker.Chunk{chunk}, "", nil)

				Expect(err).NotTo(HaveOccurred())
				Expect(outcomes[0].Discarded).To(BeTrue())
				Expect(outcomes[0].Failed).To(BeFalse())
				Expect(mockLLM.calls()).To(Equal(1))
			})

			It("discards the chunk when a finding names a file outside it", func() {
				chunk := singleFragmentChunk("a.go", 1, 5)
				mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
					return respondWith(result, map[string]any{
						"severity": "info", "title": "t", "description": "d",
						"file": "hallucinated.go", "start_line": 1, "end_line": 1,
					})
				}

				outcomes, err := newEngine(1).ReviewAll(ctx, []chunker.Chunk{chunk}, "", nil)

				Expect(err).NotTo(HaveOccurred())
				Expect(outcomes[0].Discarded).To(BeTrue())
				Expect(outcomes[0].Findings).To(BeEmpty())
			})

			It("discards the chunk when a line range exceeds the excerpt", func() {
				chunk := singleFragmentChunk("a.go", 1, 5)
				mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
					return respondWith(result, map[string]any{
						"severity": "info", "title": "t", "description": "d",
						"file": "a.go", "start_line": 4, "end_line": 9,
					})
				}

				outcomes, err := newEngine(1).ReviewAll(ctx, []chunker.Chunk{chunk}, "", nil)

				Expect(err).NotTo(HaveOccurred())
				Expect(outcomes[0].Discarded).To(BeTrue())
			})

			It("discards the whole payload when one of several findings is invalid", func() {
				chunk := singleFragmentChunk("a.go", 1, 5)
				mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
					return respondWith(result,
						map[string]any{
							"severity": "warning", "title": "fine", "description": "d",
							"file": "a.go", "start_line": 1, "end_line": 1,
						},
						map[string]any{
							"severity": "catastrophic", "title": "bad severity", "description": "d",
							"file": "a.go", "start_line": 2, "end_line": 2,
						},
					)
				}

				outcomes, err := newEngine(1).ReviewAll(ctx, []chunker.Chunk{chunk}, "", nil)

				Expect(err).NotTo(HaveOccurred())
				Expect(outcomes[0].Discarded).To(BeTrue())
				Expect(outcomes[0].Findings).To(BeEmpty())
			})
		})

		Context("transient failures", func() {
			It("retries up to the policy limit, then marks the chunk failed", func() {
				chunk := singleFragmentChunk("a.go", 1, 5)
				mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
					return nil, collab.Transient("model review", errors.New("upstream 503"))
				}

				outcomes, err := newEngine(1).ReviewAll(ctx, []chunker.Chunk{chunk}, "", nil)

				Expect(err).NotTo(HaveOccurred())
				Expect(outcomes[0].Failed).To(BeTrue())
				Expect(outcomes[0].Err).To(HaveOccurred())
				Expect(mockLLM.calls()).To(Equal(3))
			})

			It("recovers when a retry succeeds", func() {
				chunk := singleFragmentChunk("a.go", 1, 5)
				var attempts atomic.Int32
				mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
					if attempts.Add(1) == 1 {
						return nil, collab.RateLimited("model review", errors.New("429"))
					}
					return respondWith(result)
				}

				outcomes, err := newEngine(1).ReviewAll(ctx, []chunker.Chunk{chunk}, "", nil)

				Expect(err).NotTo(HaveOccurred())
				Expect(outcomes[0].Failed).To(BeFalse())
				Expect(mockLLM.calls()).To(Equal(2))
			})

			It("retries a per-call timeout instead of failing the chunk", func() {
				chunk := singleFragmentChunk("a.go", 1, 5)
				var attempts atomic.Int32
				mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
					if attempts.Add(1) == 1 {
						// Outlive the per-call deadline, like a hung request.
						<-ctx.Done()
						return nil, fmt.Errorf("openai chat: %w", ctx.Err())
					}
					return respondWith(result)
				}

				engine := review.New(mockLLM, policy, review.Config{
					MaxConcurrency: 1,
					RequestTimeout: 20 * time.Millisecond,
				})
				outcomes, err := engine.ReviewAll(ctx, []chunker.Chunk{chunk}, "", nil)

				Expect(err).NotTo(HaveOccurred())
				Expect(outcomes[0].Failed).To(BeFalse())
				Expect(outcomes[0].Discarded).To(BeFalse())
				Expect(mockLLM.calls()).To(Equal(2))
			})

			It("isolates failures to their own chunk", func() {
				chunks := []chunker.Chunk{
					singleFragmentChunk("good.go", 1, 5),
					singleFragmentChunk("flaky.go", 1, 5),
					singleFragmentChunk("garbled.go", 1, 5),
				}
				mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
					switch {
					case strings.Contains(req.UserPrompt, "flaky.go"):
						return nil, collab.Transient("model review", errors.New("timeout"))
					case strings.Contains(req.UserPrompt, "garbled.go"):
						return nil, fmt.Errorf("unmarshal response: %w", llm.ErrDecode)
					default:
						return respondWith(result, map[string]any{
							"severity": "info", "title": "note", "description": "d",
							"file": "good.go", "start_line": 1, "end_line": 1,
						})
					}
				}

				outcomes, err := newEngine(2).ReviewAll(ctx, chunks, "", nil)

				Expect(err).NotTo(HaveOccurred())
				Expect(outcomes[0].Findings).To(HaveLen(1))
				Expect(outcomes[1].Failed).To(BeTrue())
				Expect(outcomes[2].Discarded).To(BeTrue())
			})
		})

		Context("authentication failure", func() {
			It("aborts the run and fails chunks that never started", func() {
				chunks := []chunker.Chunk{
					singleFragmentChunk("a.go", 1, 5),
					singleFragmentChunk("b.go", 1, 5),
					singleFragmentChunk("c.go", 1, 5),
					singleFragmentChunk("d.go", 1, 5),
				}
				mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
					return nil, collab.AuthFailed("model review", errors.New("invalid api key"))
				}

				outcomes, err := newEngine(1).ReviewAll(ctx, chunks, "", nil)

				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("review aborted"))
				for _, o := range outcomes {
					Expect(o.Failed).To(BeTrue())
					Expect(o.Err).To(HaveOccurred())
				}
				// The failure is deterministic; only the first request goes out.
				Expect(mockLLM.calls()).To(Equal(1))
			})
		})

		Context("cancellation", func() {
			It("returns the cancellation and drains without new requests", func() {
				canceled, cancel := context.WithCancel(ctx)
				cancel()

				chunks := []chunker.Chunk{singleFragmentChunk("a.go", 1, 5)}
				mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
					return respondWith(result)
				}

				outcomes, err := newEngine(1).ReviewAll(canceled, chunks, "", nil)

				Expect(err).To(MatchError(context.Canceled))
				Expect(outcomes[0].Failed).To(BeTrue())
				Expect(mockLLM.calls()).To(Equal(0))
			})
		})

		Context("progress callback", func() {
			It("fires once per finished chunk", func() {
				chunks := []chunker.Chunk{
					singleFragmentChunk("a.go", 1, 2),
					singleFragmentChunk("b.go", 1, 2),
					singleFragmentChunk("c.go", 1, 2),
				}
				mockLLM.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
					return respondWith(result)
				}

				var fired atomic.Int32
				_, err := newEngine(3).ReviewAll(ctx, chunks, "", func() { fired.Add(1) })

				Expect(err).NotTo(HaveOccurred())
				Expect(int(fired.Load())).To(Equal(3))
			})
		})
	})
})
