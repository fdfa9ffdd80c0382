// Package runner executes test specs end to end: plugins, engine,
// evaluator and verdict, one isolated run per spec, several in parallel.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ormasoftchile/llmtest/pkg/agent"
	"github.com/ormasoftchile/llmtest/pkg/kernel/engine"
	"github.com/ormasoftchile/llmtest/pkg/kernel/state"
	"github.com/ormasoftchile/llmtest/pkg/kernel/trace"
	"github.com/ormasoftchile/llmtest/pkg/logging"
	"github.com/ormasoftchile/llmtest/pkg/metrics"
	"github.com/ormasoftchile/llmtest/pkg/plugin"
	"github.com/ormasoftchile/llmtest/pkg/report"
	"github.com/ormasoftchile/llmtest/pkg/schema"
	"github.com/ormasoftchile/llmtest/pkg/tools"
	"github.com/ormasoftchile/llmtest/pkg/verdict"
)

// Options configures a Runner. Only Evaluator is required.
type Options struct {
	Project   *schema.Project
	Registry  *plugin.Registry // instantiated once per run; nil means built-ins only
	Evaluator agent.Evaluator
	Timeout   time.Duration // overrides each spec's test.timeout when > 0
	Parallel  int           // zero uses the project setting
	TraceDir  string        // empty disables traces
	Secrets   []string      // env var names redacted from traces
	Metrics   *metrics.Collector
	Reporter  *report.Reporter
	Logger    *slog.Logger
}

// Runner runs specs. It is safe for concurrent use; each run owns its
// store, plugin set, dispatcher and trace writer.
type Runner struct {
	opts Options
	log  *slog.Logger
}

// New creates a runner.
func New(opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Evaluator == nil {
		opts.Evaluator = &agent.LocalEvaluator{}
	}
	return &Runner{opts: opts, log: opts.Logger.With("component", "runner")}
}

// RunAll discovers specs under paths and runs them with bounded
// parallelism. One run's failure or timeout never affects its siblings.
func (r *Runner) RunAll(ctx context.Context, paths []string) (*TestOutput, error) {
	specs, err := Discover(paths...)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	results := make([]TestResult, len(specs))

	var g errgroup.Group
	g.SetLimit(r.parallel())
	for i, path := range specs {
		g.Go(func() error {
			results[i] = r.RunFile(ctx, path)
			return nil
		})
	}
	_ = g.Wait()

	out := &TestOutput{Tests: results, DurationMs: time.Since(start).Milliseconds()}
	for _, res := range results {
		out.Summary.Add(res)
	}
	return out, nil
}

func (r *Runner) parallel() int {
	if r.opts.Parallel > 0 {
		return r.opts.Parallel
	}
	return r.opts.Project.Parallel()
}

// RunFile validates and runs one spec file. Invalid specs are reported as
// errors without running anything.
func (r *Runner) RunFile(ctx context.Context, path string) TestResult {
	start := time.Now()
	spec, errs := schema.ValidateFile(path)
	if schema.HasErrors(errs) {
		var msgs []string
		for _, e := range errs {
			if e.Severity == "error" {
				msgs = append(msgs, e.Error())
			}
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if spec != nil && spec.Test.Name != "" {
			name = spec.Test.Name
		}
		return TestResult{
			Name:       name,
			Path:       path,
			Status:     StatusError,
			DurationMs: time.Since(start).Milliseconds(),
			Error:      "invalid spec: " + strings.Join(msgs, "; "),
		}
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return TestResult{Name: spec.Test.Name, Path: path, Status: StatusError, Error: err.Error()}
	}
	return r.RunSpec(ctx, spec, string(source), path)
}

// RunSpec runs an already validated spec. source is the YAML handed to the
// evaluator; path may be empty.
func (r *Runner) RunSpec(ctx context.Context, spec *schema.TestSpec, source, path string) TestResult {
	start := time.Now()
	runID := uuid.NewString()
	if r.opts.Timeout > 0 {
		// the caller's spec stays as parsed
		override := *spec
		override.Test.Timeout = max(int(r.opts.Timeout.Round(time.Second)/time.Second), 1)
		spec = &override
	}
	log := r.log.With("run_id", runID, "test", spec.Test.Name)
	res := TestResult{Name: spec.Test.Name, Path: path, RunID: runID}

	tw, tracePath, err := r.openTrace(spec.Test.Name, runID)
	if err != nil {
		log.Warn("trace disabled", "error", err)
	}
	res.TracePath = tracePath
	defer func() {
		if tw != nil {
			if err := tw.Close(); err != nil {
				log.Warn("close trace", "error", err)
			}
		}
	}()

	var set *plugin.Set
	if r.opts.Registry != nil {
		var warns []error
		set, warns = r.opts.Registry.Instantiate()
		for _, w := range warns {
			res.Warnings = append(res.Warnings, w.Error())
		}
		defer func() {
			if err := set.Cleanup(ctx); err != nil {
				log.Warn("plugin cleanup", "error", err)
			}
		}()
	}

	store := state.New()
	disp := tools.NewDispatcher(store, set, r.opts.Logger)
	descs := disp.Tools()
	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Name
	}
	_ = tw.EmitRunStart(spec.Test.Name, path, names)

	if r.opts.Reporter != nil {
		r.opts.Reporter.Start(spec.Test.Name, spec.Test.RunTimeout())
	}
	eng := engine.New(spec, disp, engine.Config{
		Store:         store,
		Trace:         tw,
		Logger:        r.opts.Logger,
		Hooks:         r.hooks(spec.Test.Name),
		TeardownGrace: r.opts.Project.TeardownGrace(),
	})
	run := eng.Run(ctx)
	res.Steps.Passed, res.Steps.Failed, res.Steps.Skipped = run.Counts()

	raw, err := r.opts.Evaluator.Evaluate(ctx, &agent.Request{
		RunID:    runID,
		Path:     path,
		Source:   source,
		Spec:     spec,
		Outcomes: run.Outcomes,
		Tools:    descs,
		State:    store.Entries(),
	})
	if err != nil {
		log.Warn("evaluation cancelled", "error", err)
		v := verdict.Aggregate(run.Outcomes, nil, nil)
		v.Reason = fmt.Sprintf("evaluation cancelled: %v", err)
		v.Issues = append(v.Issues, v.Reason)
		_ = tw.EmitVerdict(v.Verdict, v.Reason, v.Issues)
		res.Verdict = v
		res.Status = StatusError
		res.Error = fmt.Sprintf("evaluate: %v", err)
		res.DurationMs = time.Since(start).Milliseconds()
		_ = tw.EmitRunComplete(StatusError, time.Since(start))
		return res
	}

	payload, perr := verdict.Parse(raw)
	if perr != nil {
		log.Warn("evaluator returned a malformed verdict", "error", perr)
	}
	v := verdict.Aggregate(run.Outcomes, payload, perr)
	_ = tw.EmitVerdict(v.Verdict, v.Reason, v.Issues)

	res.Verdict = v
	res.Status = statusFor(v.Verdict)
	res.DurationMs = time.Since(start).Milliseconds()
	_ = tw.EmitRunComplete(res.Status, time.Since(start))

	if r.opts.Metrics != nil {
		r.opts.Metrics.ObserveRun(v.Verdict)
	}
	if r.opts.Reporter != nil {
		r.opts.Reporter.Verdict(spec.Test.Name, v)
	}
	log.Info("run finished", "verdict", v.Verdict, "duration", time.Since(start).Round(time.Millisecond))
	return res
}

func (r *Runner) hooks(test string) engine.Hooks {
	var hs []engine.Hooks
	if r.opts.Metrics != nil {
		hs = append(hs, r.opts.Metrics.Hooks())
	}
	if r.opts.Reporter != nil {
		hs = append(hs, r.opts.Reporter.Hooks(test))
	}
	return engine.Combine(hs...)
}

// openTrace creates <dir>/<test>-<run id prefix>.jsonl. A nil writer is a
// valid no-op.
func (r *Runner) openTrace(test, runID string) (*trace.Writer, string, error) {
	if r.opts.TraceDir == "" {
		return nil, "", nil
	}
	if err := os.MkdirAll(r.opts.TraceDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create trace dir: %w", err)
	}
	path := filepath.Join(r.opts.TraceDir, fmt.Sprintf("%s-%s.jsonl", slug(test), runID[:8]))
	tw, err := trace.NewFileWriter(path, runID)
	if err != nil {
		return nil, "", err
	}
	tw.SetSecrets(r.opts.Secrets)
	return tw, path, nil
}

func slug(s string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(s) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteRune(c)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "test"
	}
	return b.String()
}
