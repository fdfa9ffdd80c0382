// Package agent hands a finished run to an evaluator and returns its raw
// judgement. The payload is parsed by package verdict.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ormasoftchile/llmtest/pkg/kernel/engine"
	"github.com/ormasoftchile/llmtest/pkg/kernel/state"
	"github.com/ormasoftchile/llmtest/pkg/plugin"
	"github.com/ormasoftchile/llmtest/pkg/schema"
	"github.com/ormasoftchile/llmtest/pkg/verdict"
)

// Request is everything an evaluator may look at.
type Request struct {
	RunID    string
	Path     string // spec file, may be empty
	Source   string // spec YAML as written
	Spec     *schema.TestSpec
	Outcomes []engine.StepOutcome
	Tools    []plugin.ToolDescriptor
	State    []state.Entry // the run's store at the end of the run, in insertion order
}

// Evaluator judges a run. Evaluate returns the raw payload; failures to run
// the evaluator are reported inside the payload as a FAIL verdict, so the
// error is reserved for a cancelled parent context.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, req *Request) ([]byte, error)
}

// New returns the evaluator registered under kind.
func New(kind string, cfg schema.EvaluatorConfig) (Evaluator, error) {
	switch kind {
	case "", "claude":
		return NewClaudeCLIEvaluator(cfg), nil
	case "local":
		return &LocalEvaluator{}, nil
	default:
		return nil, fmt.Errorf("unknown evaluator %q (want claude or local)", kind)
	}
}

// LocalEvaluator derives a verdict from the recorded outcomes alone. It is
// meant for offline and CI runs where no agent CLI is available.
type LocalEvaluator struct{}

func (*LocalEvaluator) Name() string { return "local" }

func (*LocalEvaluator) Evaluate(_ context.Context, req *Request) ([]byte, error) {
	p := verdict.Payload{}
	var passed, failed int
	for _, o := range req.Outcomes {
		ps := verdict.PayloadStep{Name: o.Name, Status: o.Status, Details: o.Error}
		switch o.Status {
		case engine.StatusPass:
			passed++
		case engine.StatusFail:
			failed++
			p.Issues = append(p.Issues, fmt.Sprintf("%s (%s): %s", o.Name, o.Path, o.Error))
		}
		p.Steps = append(p.Steps, ps)
	}

	switch {
	case failed > 0:
		p.Verdict = verdict.Fail
		p.Reason = fmt.Sprintf("%d of %d steps failed", failed, len(req.Outcomes))
	case passed == 0:
		p.Verdict = verdict.Unclear
		p.Reason = "no step ran"
	default:
		p.Verdict = verdict.Pass
		p.Reason = fmt.Sprintf("all %d executed steps passed", passed)
	}
	return json.Marshal(p)
}
