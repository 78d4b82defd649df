package model

// RunSummary is the user-visible outcome of one pipeline run. Every run
// ends with a summary, even when individual chunks or upserts failed.
type RunSummary struct {
	RunID int64

	FilesScanned int
	FilesSkipped int

	ChunksTotal     int
	ChunksReviewed  int
	ChunksDiscarded int
	ChunksFailed    int

	FindingsTotal int

	Created   int
	Refreshed int
	Reopened  int

	FailedChunks       []int
	FailedFingerprints []string
	StaleFingerprints  []string
}

// Partial reports whether the run degraded somewhere: a chunk review or a
// task upsert exhausted its retries. Callers map this to a nonzero exit.
func (s *RunSummary) Partial() bool {
	return s.ChunksFailed > 0 || len(s.FailedFingerprints) > 0
}
