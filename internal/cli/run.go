package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"basegraph.app/auditor/common/id"
	"basegraph.app/auditor/common/llm"
	"basegraph.app/auditor/common/logger"
	"basegraph.app/auditor/common/retry"
	"basegraph.app/auditor/core/config"
	"basegraph.app/auditor/internal/chunker"
	"basegraph.app/auditor/internal/dedup"
	"basegraph.app/auditor/internal/model"
	"basegraph.app/auditor/internal/pipeline"
	"basegraph.app/auditor/internal/report"
	"basegraph.app/auditor/internal/review"
	"basegraph.app/auditor/internal/scanner"
	"basegraph.app/auditor/internal/store"
	"basegraph.app/auditor/internal/tasksync"
	"basegraph.app/auditor/internal/tracker"
)

var (
	runDir    string
	runDryRun bool
	runSARIF  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Review the repository and sync findings to the tracker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringVarP(&runDir, "dir", "d", "", "repository root (default from AUDITOR_REPO_ROOT)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "review without tracker or store writes")
	runCmd.Flags().StringVar(&runSARIF, "sarif", "", "write findings to a SARIF file")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if runDir != "" {
		cfg.Scan.Root = runDir
	}
	if runSARIF != "" {
		cfg.Report.SARIFPath = runSARIF
	}

	logger.Setup(cfg)

	if err := id.Init(1); err != nil {
		return fmt.Errorf("initializing id generator: %w", err)
	}

	if !runDryRun {
		if err := cfg.ValidateTracker(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tasks, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening task store: %w", err)
	}
	defer tasks.Close()

	client, err := llm.New(llm.Config{
		APIKey:  cfg.Model.APIKey,
		BaseURL: cfg.Model.BaseURL,
		Model:   cfg.Model.Model,
	})
	if err != nil {
		return fmt.Errorf("creating model client: %w", err)
	}

	var trk tracker.Tracker
	if !runDryRun {
		trk, err = tracker.NewGitLab(cfg.Tracker)
		if err != nil {
			return fmt.Errorf("creating tracker client: %w", err)
		}
	}

	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      cfg.Retry.Jitter,
	}

	p := pipeline.New(
		scanner.New(cfg.Scan.Root, scanner.Options{
			Includes:    cfg.Scan.Includes,
			Excludes:    cfg.Scan.Excludes,
			MaxFileSize: cfg.Scan.MaxFileSize,
		}),
		chunker.New(cfg.Chunk.BudgetBytes, cfg.Chunk.OverlapLines),
		review.New(client, policy, review.Config{
			MaxConcurrency: cfg.Review.MaxConcurrency,
			RequestTimeout: cfg.Review.RequestTimeout,
			MaxTokens:      cfg.Model.MaxTokens,
		}),
		dedup.New(tasks),
		tasksync.New(trk, tasks, policy, runDryRun),
	)
	p.Progress = reviewProgress

	summary, entries, err := p.Run(ctx)
	if err != nil {
		if summary != nil {
			printSummary(summary)
		}
		return err
	}

	if cfg.Report.SARIFPath != "" {
		if err := report.WriteSARIF(cfg.Report.SARIFPath, entries); err != nil {
			slog.Error("sarif export failed", "path", cfg.Report.SARIFPath, "error", err)
		} else {
			fmt.Printf("SARIF report written to %s\n", cfg.Report.SARIFPath)
		}
	}

	printSummary(summary)

	if summary.Partial() {
		// Returned rather than exiting here, so the deferred store close
		// and signal release still run.
		return errPartial
	}
	return nil
}

func reviewProgress(total int) func() {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Reviewing"),
	)
	return func() {
		_ = bar.Add(1)
	}
}

func printSummary(s *model.RunSummary) {
	fmt.Printf("\nRun %d summary\n", s.RunID)
	fmt.Printf("  files:    %d scanned, %d skipped\n", s.FilesScanned, s.FilesSkipped)
	fmt.Printf("  chunks:   %d reviewed, %d discarded, %d failed (of %d)\n",
		s.ChunksReviewed, s.ChunksDiscarded, s.ChunksFailed, s.ChunksTotal)
	fmt.Printf("  findings: %d\n", s.FindingsTotal)
	fmt.Printf("  tasks:    %d created, %d refreshed, %d reopened\n",
		s.Created, s.Refreshed, s.Reopened)

	if len(s.FailedChunks) > 0 {
		fmt.Printf("  failed chunks: %v\n", s.FailedChunks)
	}
	if len(s.FailedFingerprints) > 0 {
		fmt.Printf("  failed upserts:\n")
		for _, fp := range s.FailedFingerprints {
			fmt.Printf("    %s\n", fp)
		}
	}
	if len(s.StaleFingerprints) > 0 {
		fmt.Printf("  stale (not seen this run, left for operator):\n")
		for _, fp := range s.StaleFingerprints {
			fmt.Printf("    %s\n", fp)
		}
	}
}
