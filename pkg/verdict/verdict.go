// Package verdict parses the evaluator's judgement and merges it with the
// outcomes the engine recorded.
package verdict

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ormasoftchile/llmtest/pkg/kernel/engine"
	"github.com/ormasoftchile/llmtest/pkg/kernel/executor"
)

// Verdict values.
const (
	Pass    = "PASS"
	Fail    = "FAIL"
	Unclear = "UNCLEAR"
)

// Payload is the JSON object the evaluator returns.
type Payload struct {
	Verdict string        `json:"verdict" jsonschema:"enum=PASS,enum=FAIL,enum=UNCLEAR"`
	Reason  string        `json:"reason,omitempty"`
	Steps   []PayloadStep `json:"steps,omitempty"`
	Issues  []string      `json:"issues,omitempty"`
}

// PayloadStep is the evaluator's view of one step.
type PayloadStep struct {
	Name       string `json:"name"`
	Status     string `json:"status" jsonschema:"enum=pass,enum=fail,enum=skip"`
	Details    string `json:"details,omitempty"`
	ToolOutput any    `json:"tool_output,omitempty"`
}

// StepResult merges one engine outcome with the evaluator's details. Status
// and attempt data always come from the engine.
type StepResult struct {
	Name         string             `json:"name"`
	Path         string             `json:"path"`
	Iteration    int                `json:"iteration"`
	Iterations   []int              `json:"iterations,omitempty"`
	Status       string             `json:"status"`
	Details      string             `json:"details,omitempty"`
	ToolOutput   any                `json:"tool_output,omitempty"`
	FailureKind  string             `json:"failure_kind,omitempty"`
	AttemptCount int                `json:"attempt_count"`
	Attempts     []executor.Attempt `json:"attempts,omitempty"`
}

// Verdict is the final, always well-formed result of a run.
type Verdict struct {
	Verdict string       `json:"verdict"`
	Reason  string       `json:"reason"`
	Steps   []StepResult `json:"steps"`
	Issues  []string     `json:"issues"`
}

// MalformedVerdictError reports an evaluator payload without a usable verdict.
type MalformedVerdictError struct {
	Reason string
	Raw    string
}

func (e *MalformedVerdictError) Error() string {
	return "malformed verdict: " + e.Reason
}

// FailPayload builds the payload an evaluator reports when it could not run
// at all, such as a missing binary or a timeout.
func FailPayload(reason string, issues ...string) []byte {
	data, _ := json.Marshal(Payload{Verdict: Fail, Reason: reason, Issues: issues})
	return data
}

// Aggregate builds the run's verdict. A parse failure yields UNCLEAR with a
// synthesized reason. Step statuses and attempts come from outcomes; the
// evaluator contributes details, and any disagreement is listed in Issues.
func Aggregate(outcomes []engine.StepOutcome, p *Payload, parseErr error) *Verdict {
	v := &Verdict{Steps: []StepResult{}, Issues: []string{}}
	if parseErr != nil || p == nil {
		v.Verdict = Unclear
		v.Reason = "could not parse verdict from evaluator output"
		if parseErr != nil {
			v.Reason = parseErr.Error()
			v.Issues = append(v.Issues, parseErr.Error())
			var me *MalformedVerdictError
			if errors.As(parseErr, &me) && me.Raw != "" {
				v.Issues = append(v.Issues, "raw output: "+preview(me.Raw, 500))
			}
		}
		p = &Payload{}
	} else {
		v.Verdict = p.Verdict
		v.Reason = p.Reason
		v.Issues = append(v.Issues, p.Issues...)
	}

	reported := make(map[string][]PayloadStep)
	for _, s := range p.Steps {
		reported[s.Name] = append(reported[s.Name], s)
	}

	for _, o := range outcomes {
		sr := StepResult{
			Name:         o.Name,
			Path:         o.Path,
			Iteration:    o.Iteration,
			Iterations:   o.Iterations,
			Status:       o.Status,
			Details:      o.Error,
			ToolOutput:   o.Output,
			FailureKind:  o.FailureKind,
			AttemptCount: o.AttemptCount,
			Attempts:     o.Attempts,
		}
		if queue := reported[o.Name]; len(queue) > 0 {
			ps := queue[0]
			reported[o.Name] = queue[1:]
			if ps.Details != "" {
				sr.Details = ps.Details
			}
			if ps.Status != "" && ps.Status != o.Status {
				v.Issues = append(v.Issues, fmt.Sprintf("step %s: evaluator reported %s, engine recorded %s", o.Path, ps.Status, o.Status))
			}
		}
		v.Steps = append(v.Steps, sr)
	}

	for _, s := range p.Steps {
		if queue := reported[s.Name]; len(queue) > 0 {
			v.Issues = append(v.Issues, fmt.Sprintf("evaluator reported step %q that the engine did not run", s.Name))
			reported[s.Name] = queue[1:]
		}
	}
	return v
}

// Passed reports whether the verdict is PASS.
func (v *Verdict) Passed() bool { return v.Verdict == Pass }

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
