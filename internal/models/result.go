package models

import "time"

// CaseResult represents the result of executing a single test case
type CaseResult struct {
	Case     TestCase      // The case that was executed
	Status   string        // Terminal status: success, diff, crash, ignore
	Attempts int           // Number of render attempts made
	TimedOut bool          // Whether the final attempt hit the render timeout
	Duration time.Duration // Wall time spent on the case
	Messages []string      // Diagnostics recorded in the case report
}

// BatchResult represents the aggregate result of executing a tests list
type BatchResult struct {
	BatchID   string        // Unique id of this batch run
	TestGroup string        // Test group the batch belongs to
	Total     int           // Total number of cases
	Success   int           // Cases that produced a valid image
	Diff      int           // Cases whose image was judged compromised
	Crash     int           // Cases without a valid image
	Ignore    int           // Cases skipped for this machine profile
	Duration  time.Duration // Total execution time
	Results   []CaseResult  // Per-case results in input order
}

// Add records a case result and updates the status counters.
func (b *BatchResult) Add(result CaseResult) {
	b.Results = append(b.Results, result)
	b.Total++
	switch result.Status {
	case StatusSuccess:
		b.Success++
	case StatusDiff:
		b.Diff++
	case StatusIgnore:
		b.Ignore++
	default:
		b.Crash++
	}
}

// Failed returns the cases that ended in diff or crash.
func (b *BatchResult) Failed() []CaseResult {
	var failed []CaseResult
	for _, r := range b.Results {
		if r.Status == StatusDiff || r.Status == StatusCrash {
			failed = append(failed, r)
		}
	}
	return failed
}
