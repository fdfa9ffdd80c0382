package runner

import "github.com/ormasoftchile/llmtest/pkg/verdict"

// Test statuses, mapped from verdicts the way pytest reports them: UNCLEAR
// is a skip, never a pass.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// TestResult captures the outcome of running one spec.
type TestResult struct {
	Name       string           `json:"name"`
	Path       string           `json:"path,omitempty"`
	RunID      string           `json:"run_id"`
	Status     string           `json:"status"` // passed, failed, skipped, error
	DurationMs int64            `json:"duration_ms"`
	Verdict    *verdict.Verdict `json:"verdict,omitempty"`
	Steps      StepCounts       `json:"steps"`
	TracePath  string           `json:"trace_path,omitempty"`
	Warnings   []string         `json:"warnings,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// StepCounts tallies the engine's outcomes for one run.
type StepCounts struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// TestSummary aggregates results across specs.
type TestSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// Add counts one result.
func (s *TestSummary) Add(r TestResult) {
	s.Total++
	switch r.Status {
	case StatusPassed:
		s.Passed++
	case StatusFailed:
		s.Failed++
	case StatusSkipped:
		s.Skipped++
	default:
		s.Errors++
	}
}

// OK reports whether the suite should exit zero.
func (s TestSummary) OK() bool { return s.Failed == 0 && s.Errors == 0 }

// TestOutput is the top-level JSON structure for llmtest run --json.
type TestOutput struct {
	Tests      []TestResult `json:"tests"`
	Summary    TestSummary  `json:"summary"`
	DurationMs int64        `json:"duration_ms"`
}

func statusFor(v string) string {
	switch v {
	case verdict.Pass:
		return StatusPassed
	case verdict.Fail:
		return StatusFailed
	}
	return StatusSkipped
}
