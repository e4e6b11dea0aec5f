package models

import "time"

// Recording processing status constants
const (
	StatusCompleted = "COMPLETED" // All derivatives written
	StatusSkipped   = "SKIPPED"   // Derivatives already exist, or no source file
	StatusFailed    = "FAILED"    // Load, fit or write failed
)

// RecordingResult represents the outcome of analyzing a single recording
type RecordingResult struct {
	Recording Recording     // The recording that was analyzed
	Status    string        // Status: "COMPLETED", "SKIPPED", "FAILED"
	Reason    string        // Why the recording was skipped, if it was
	Artifacts []string      // Derivative files written, in write order
	Figures   []string      // Figure files rendered
	Warnings  []string      // Non-fatal problems (sidecar or plotting)
	Error     error         // Error if processing failed
	Duration  time.Duration // Time taken to process
}

// BatchResult represents the aggregate result of a batch run
type BatchResult struct {
	RunID     string            // Identifier of this invocation
	Total     int               // Total number of recordings enumerated
	Completed int               // Number of recordings analyzed
	Skipped   int               // Number of recordings skipped
	Failed    int               // Number of recordings that failed
	Duration  time.Duration     // Total execution time
	Results   []RecordingResult // Per-recording outcomes, in enumeration order
}

// Add folds one recording outcome into the batch totals.
func (b *BatchResult) Add(r RecordingResult) {
	b.Results = append(b.Results, r)
	switch r.Status {
	case StatusCompleted:
		b.Completed++
	case StatusSkipped:
		b.Skipped++
	case StatusFailed:
		b.Failed++
	}
}

// FailedResults returns the outcomes whose status is FAILED.
func (b *BatchResult) FailedResults() []RecordingResult {
	var failed []RecordingResult
	for _, r := range b.Results {
		if r.Status == StatusFailed {
			failed = append(failed, r)
		}
	}
	return failed
}
