// Package engine walks a test's step tree: setup, then steps, then
// teardown. Every leaf is resolved, dispatched under its retry policy and
// recorded as a StepOutcome.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ormasoftchile/llmtest/pkg/kernel/eval"
	"github.com/ormasoftchile/llmtest/pkg/kernel/executor"
	"github.com/ormasoftchile/llmtest/pkg/kernel/state"
	"github.com/ormasoftchile/llmtest/pkg/kernel/trace"
	"github.com/ormasoftchile/llmtest/pkg/logging"
	"github.com/ormasoftchile/llmtest/pkg/schema"
	"github.com/ormasoftchile/llmtest/pkg/tools"
)

// DefaultTeardownGrace bounds teardown once the run deadline has passed.
const DefaultTeardownGrace = 10 * time.Second

// Phase names, also used as path roots.
const (
	PhaseSetup    = "setup"
	PhaseSteps    = "steps"
	PhaseTeardown = "teardown"
)

// Step statuses.
const (
	StatusPass = "pass"
	StatusFail = "fail"
	StatusSkip = "skip"
)

// Failure kinds carried by failed and skipped outcomes.
const (
	FailureToolError   = "tool_error"
	FailureTimeout     = "timeout"
	FailureNotFound    = "not_found"
	FailureResolution  = "resolution"
	FailureGuard       = "guard"
	FailureSetupFailed = "setup_failed"
	FailureDeadline    = "deadline"
)

// Invoker is the tool invocation boundary. *tools.Dispatcher satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (any, error)
}

// StepOutcome is the record of one leaf execution.
type StepOutcome struct {
	Name         string             `json:"name"`
	Path         string             `json:"path"`
	Iteration    int                `json:"iteration"`
	Iterations   []int              `json:"iterations,omitempty"` // index per repeat level when nested
	Tool         string             `json:"tool"`
	Args         map[string]any     `json:"args,omitempty"`
	Expect       string             `json:"expect,omitempty"`
	Analyze      string             `json:"analyze,omitempty"`
	Status       string             `json:"status"`
	Output       any                `json:"output,omitempty"`
	Error        string             `json:"error,omitempty"`
	FailureKind  string             `json:"failure_kind,omitempty"`
	Attempts     []executor.Attempt `json:"attempts,omitempty"`
	AttemptCount int                `json:"attempt_count"`
	Elapsed      time.Duration      `json:"elapsed"`
}

// IterationLabel names the execution within its repeats: "2" for the second
// iteration, "2.1" for the first inner iteration of the second outer one.
// It is empty for steps that ran once.
func (o StepOutcome) IterationLabel() string {
	if len(o.Iterations) > 1 {
		parts := make([]string, len(o.Iterations))
		for i, n := range o.Iterations {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, ".")
	}
	if o.Iteration > 1 {
		return strconv.Itoa(o.Iteration)
	}
	return ""
}

// Hooks observe a run as it progresses. Any field may be nil.
type Hooks struct {
	StepStart func(path, tool string, iteration int)
	Attempt   func(path, tool string, a executor.Attempt)
	StepEnd   func(o StepOutcome)
}

// Combine returns hooks that call each of hs in order.
func Combine(hs ...Hooks) Hooks {
	return Hooks{
		StepStart: func(path, tool string, iteration int) {
			for _, h := range hs {
				if h.StepStart != nil {
					h.StepStart(path, tool, iteration)
				}
			}
		},
		Attempt: func(path, tool string, a executor.Attempt) {
			for _, h := range hs {
				if h.Attempt != nil {
					h.Attempt(path, tool, a)
				}
			}
		},
		StepEnd: func(o StepOutcome) {
			for _, h := range hs {
				if h.StepEnd != nil {
					h.StepEnd(o)
				}
			}
		},
	}
}

// Config configures a run.
type Config struct {
	Store         *state.Store  // nil creates an empty store
	Trace         *trace.Writer // nil disables tracing
	Logger        *slog.Logger
	Hooks         Hooks
	TeardownGrace time.Duration // zero means DefaultTeardownGrace
	Sleep         func(ctx context.Context, d time.Duration) error
}

// RunResult is everything the walker observed.
type RunResult struct {
	Outcomes    []StepOutcome
	SetupFailed bool
	TimedOut    bool
	Duration    time.Duration
}

// Counts returns the number of passed, failed and skipped outcomes.
func (r *RunResult) Counts() (passed, failed, skipped int) {
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusPass:
			passed++
		case StatusFail:
			failed++
		case StatusSkip:
			skipped++
		}
	}
	return
}

// Engine runs one test specification. An Engine is single-use.
type Engine struct {
	spec  *schema.TestSpec
	tools Invoker
	cfg   Config
	store *state.Store
	saved eval.Values
	log   *slog.Logger

	outcomes []StepOutcome
}

// New creates an engine for spec dispatching through inv.
func New(spec *schema.TestSpec, inv Invoker, cfg Config) *Engine {
	if cfg.Store == nil {
		cfg.Store = state.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.TeardownGrace <= 0 {
		cfg.TeardownGrace = DefaultTeardownGrace
	}
	return &Engine{
		spec:  spec,
		tools: inv,
		cfg:   cfg,
		store: cfg.Store,
		saved: eval.Values{},
		log:   cfg.Logger.With("component", "engine"),
	}
}

// Store returns the run's state store.
func (e *Engine) Store() *state.Store { return e.store }

// Run walks setup, steps and teardown. The test timeout bounds setup and
// steps; teardown always runs, on a fresh context when the deadline passed.
func (e *Engine) Run(ctx context.Context) *RunResult {
	start := time.Now()
	res := &RunResult{}

	deadline := start.Add(e.spec.Test.RunTimeout())
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	setup := Build(PhaseSetup, e.spec.Setup)
	steps := Build(PhaseSteps, e.spec.Steps)
	teardown := Build(PhaseTeardown, e.spec.Teardown)

	if !e.walk(runCtx, PhaseSetup, setup, "") {
		res.SetupFailed = true
		e.log.Warn("setup failed, skipping steps", "test", e.spec.Test.Name)
		e.walk(runCtx, PhaseSteps, steps, "setup failed")
	} else {
		e.walk(runCtx, PhaseSteps, steps, "")
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		e.log.Warn("run deadline exceeded", "test", e.spec.Test.Name, "timeout", e.spec.Test.RunTimeout())
	}

	tctx, tcancel := e.teardownContext(ctx, deadline)
	e.walk(tctx, PhaseTeardown, teardown, "")
	tcancel()

	res.Outcomes = e.outcomes
	res.Duration = time.Since(start)
	return res
}

// teardownContext detaches from the run's cancellation and allows whatever
// remains of the run budget plus the grace window.
func (e *Engine) teardownContext(parent context.Context, deadline time.Time) (context.Context, context.CancelFunc) {
	budget := e.cfg.TeardownGrace
	if rem := time.Until(deadline); rem > 0 {
		budget += rem
	}
	return context.WithTimeout(context.WithoutCancel(parent), budget)
}

type frame struct {
	nodes     []Node
	next      int
	group     *Group
	iteration int
}

// walk executes one phase with an explicit stack. A non-empty skipReason
// records every leaf as skipped. It returns false when a leaf failed.
func (e *Engine) walk(ctx context.Context, phase string, nodes []Node, skipReason string) bool {
	if len(nodes) == 0 {
		return true
	}
	e.cfg.Trace.EmitPhaseStart(phase, len(nodes))

	ok := true
	stack := []*frame{{nodes: nodes, iteration: 1}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next >= len(top.nodes) {
			if top.group != nil && top.iteration < top.group.step.Iterations() {
				top.iteration++
				top.next = 0
				e.cfg.Trace.EmitRepeatIteration(top.group.path, top.iteration)
				continue
			}
			stack = stack[:len(stack)-1]
			continue
		}
		n := top.nodes[top.next]
		top.next++

		reason, kind := skipReason, FailureSetupFailed
		if reason == "" && phase != PhaseTeardown && ctx.Err() != nil {
			reason, kind = "run deadline exceeded", FailureDeadline
		}
		groups := groupIterations(stack)
		if reason != "" {
			e.skip(n, groups, reason, kind)
			continue
		}

		run, err := e.guard(n.Step())
		if err != nil {
			e.record(StepOutcome{
				Name: n.Step().DisplayName(), Path: n.Path(), Iteration: iterationOf(groups),
				Iterations: nestedOnly(groups), Tool: n.Step().Tool,
				Status: StatusFail, Error: err.Error(), FailureKind: FailureGuard,
			})
			ok = false
			if phase == PhaseSetup {
				skipReason = "setup failed"
			}
			continue
		}
		if !run {
			e.skip(n, groups, "condition false: "+n.Step().When, "")
			continue
		}

		switch n := n.(type) {
		case *Group:
			e.cfg.Trace.EmitRepeatStart(n.path, n.step.Iterations())
			e.cfg.Trace.EmitRepeatIteration(n.path, 1)
			stack = append(stack, &frame{nodes: n.Children, group: n, iteration: 1})
		case *Leaf:
			reps := n.step.Iterations()
			for i := 1; i <= reps; i++ {
				chain := groups
				if reps > 1 {
					chain = append(slices.Clone(groups), i)
				}
				if phase != PhaseTeardown && ctx.Err() != nil {
					e.skipLeaf(n, chain, "run deadline exceeded", FailureDeadline)
					continue
				}
				if o := e.execute(ctx, n, chain); o.Status == StatusFail {
					ok = false
				}
			}
			// a failed setup leaf aborts the rest of setup
			if !ok && phase == PhaseSetup {
				skipReason = "setup failed"
			}
		}
	}
	return ok
}

func (e *Engine) guard(s *schema.Step) (bool, error) {
	if s.When == "" {
		return true, nil
	}
	return eval.EvalBool(s.When, eval.GuardEnv(e.store.Snapshot(), e.saved))
}

// groupIterations returns the current iteration of every enclosing group,
// outermost first.
func groupIterations(stack []*frame) []int {
	var out []int
	for _, f := range stack {
		if f.group != nil {
			out = append(out, f.iteration)
		}
	}
	return out
}

// iterationOf is the innermost index of a repeat chain, 1 outside any repeat.
func iterationOf(chain []int) int {
	if len(chain) == 0 {
		return 1
	}
	return chain[len(chain)-1]
}

func nestedOnly(chain []int) []int {
	if len(chain) < 2 {
		return nil
	}
	return chain
}

// skip records a skipped outcome for every execution under n. groups is the
// iteration chain of the groups enclosing n.
func (e *Engine) skip(n Node, groups []int, reason, kind string) {
	for _, x := range Flatten([]Node{n}) {
		e.skipLeaf(x.Leaf, append(slices.Clone(groups), x.Iterations...), reason, kind)
	}
}

func (e *Engine) skipLeaf(l *Leaf, chain []int, reason, kind string) {
	e.cfg.Trace.EmitStepSkipped(l.path, reason)
	e.record(StepOutcome{
		Name:        l.step.DisplayName(),
		Path:        l.path,
		Iteration:   iterationOf(chain),
		Iterations:  nestedOnly(chain),
		Tool:        l.step.Tool,
		Expect:      l.step.Expect,
		Analyze:     l.step.Analyze,
		Status:      StatusSkip,
		Error:       reason,
		FailureKind: kind,
	})
}

func (e *Engine) record(o StepOutcome) {
	e.outcomes = append(e.outcomes, o)
	if e.cfg.Hooks.StepEnd != nil {
		e.cfg.Hooks.StepEnd(o)
	}
}

// execute runs one leaf under its retry policy and records the outcome.
func (e *Engine) execute(ctx context.Context, l *Leaf, chain []int) StepOutcome {
	s := l.step
	start := time.Now()
	iteration := iterationOf(chain)
	log := e.log.With("step", l.path, "tool", s.Tool, "iteration", iteration)

	if e.cfg.Hooks.StepStart != nil {
		e.cfg.Hooks.StepStart(l.path, s.Tool, iteration)
	}

	args, resolveErr := eval.ResolveArgs(s.Args, eval.Scope{Stored: e.store, Saved: e.saved})
	e.cfg.Trace.EmitStepStart(l.path, s.Tool, iteration, args)

	fn := func(actx context.Context) (any, error) {
		if resolveErr != nil {
			return nil, executor.Permanent(resolveErr)
		}
		out, err := e.tools.Invoke(actx, s.Tool, args)
		if err != nil {
			var nf *tools.ToolNotFoundError
			if errors.As(err, &nf) {
				return nil, executor.Permanent(err)
			}
			return out, err
		}
		if msg, failed := tools.ErrorResult(out); failed {
			return out, &tools.ToolExecutionError{Tool: s.Tool, Message: msg}
		}
		return out, nil
	}

	opts := []executor.Option{executor.WithObserver(func(a executor.Attempt) {
		e.cfg.Trace.EmitAttempt(l.path, a.Number, string(a.Status), a.Error, a.Elapsed)
		if e.cfg.Hooks.Attempt != nil {
			e.cfg.Hooks.Attempt(l.path, s.Tool, a)
		}
		if a.Status != executor.Succeeded {
			log.Debug("attempt failed", "attempt", a.Number, "status", a.Status, "err", a.Error)
		}
	})}
	if e.cfg.Sleep != nil {
		opts = append(opts, executor.WithSleep(e.cfg.Sleep))
	}

	policy := executor.Policy{
		Attempts: s.Attempts(),
		Delay:    s.Delay(),
		Timeout:  s.AttemptTimeout(e.spec.Test.RunTimeout()),
	}
	res := executor.Run(ctx, policy, fn, opts...)

	o := StepOutcome{
		Name:         s.DisplayName(),
		Path:         l.path,
		Iteration:    iteration,
		Iterations:   nestedOnly(chain),
		Tool:         s.Tool,
		Args:         args,
		Expect:       s.Expect,
		Analyze:      s.Analyze,
		Status:       StatusPass,
		Output:       res.Output,
		Attempts:     res.Attempts,
		AttemptCount: len(res.Attempts),
		Elapsed:      time.Since(start),
	}
	var failure *trace.Failure
	if res.Status != executor.Succeeded {
		o.Status = StatusFail
		o.FailureKind = failureKind(res)
		if res.Err != nil {
			o.Error = res.Err.Error()
		}
		failure = &trace.Failure{Kind: o.FailureKind, Message: o.Error}
		log.Info("step failed", "attempts", o.AttemptCount, "kind", o.FailureKind, "err", o.Error)
	} else {
		log.Debug("step passed", "attempts", o.AttemptCount, "elapsed", o.Elapsed)
	}

	if s.SaveAs != "" {
		e.store.Set(s.SaveAs, res.Output)
		e.saved[s.SaveAs] = res.Output
	}

	e.cfg.Trace.EmitStepComplete(l.path, o.Status, o.AttemptCount, o.Output, o.Elapsed, failure)
	e.record(o)
	return o
}

func failureKind(res *executor.Result) string {
	var (
		re *eval.ResolutionError
		nf *tools.ToolNotFoundError
		te *executor.TimeoutError
	)
	switch {
	case res.Status == executor.TimedOut, errors.As(res.Err, &te):
		return FailureTimeout
	case errors.As(res.Err, &re):
		return FailureResolution
	case errors.As(res.Err, &nf):
		return FailureNotFound
	default:
		return FailureToolError
	}
}
