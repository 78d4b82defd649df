package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// errPartial marks a run that finished but degraded somewhere: a chunk
// review or a task upsert exhausted its retries. The summary already
// listed the failed units, so Execute maps it to its exit code without
// printing another error.
var errPartial = errors.New("run completed with failures")

var rootCmd = &cobra.Command{
	Use:   "auditor",
	Short: "LLM repository review with idempotent issue tracking",
	Long: `auditor reviews a source repository with an LLM and files the
findings as GitLab issues. Findings are fingerprinted, so repeated runs
over unchanged code refresh existing issues instead of creating
duplicates, and resolved issues that resurface are reopened.

Example usage:
  auditor run --dir ./myrepo            # review and file issues
  auditor run --dry-run                 # review without tracker writes
  auditor run --sarif findings.sarif    # also export a SARIF report`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Exit codes: 0 full success, 1 fatal error,
// 2 partial success.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	if !errors.Is(err, errPartial) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errPartial):
		return 2
	default:
		return 1
	}
}
