package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/llmtest/pkg/kernel/engine"
	"github.com/ormasoftchile/llmtest/pkg/kernel/executor"
)

func TestCollector_Hooks(t *testing.T) {
	c := New()
	h := c.Hooks()

	h.Attempt("steps[0]", "api_get", executor.Attempt{Number: 1, Status: executor.Failed})
	h.Attempt("steps[0]", "api_get", executor.Attempt{Number: 2, Status: executor.TimedOut})
	h.Attempt("steps[0]", "api_get", executor.Attempt{Number: 3, Status: executor.Succeeded})
	h.StepEnd(engine.StepOutcome{Tool: "api_get", Status: engine.StatusPass, Elapsed: 2 * time.Second})
	h.StepEnd(engine.StepOutcome{Tool: "api_post", Status: engine.StatusFail, Elapsed: time.Second})
	h.StepEnd(engine.StepOutcome{Tool: "api_post", Status: engine.StatusSkip})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.attempts.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.attempts.WithLabelValues("timed_out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.attempts.WithLabelValues("succeeded")))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.steps.WithLabelValues("pass")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.steps.WithLabelValues("fail")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.steps.WithLabelValues("skip")))

	// skips are not timed
	assert.Equal(t, 2, testutil.CollectAndCount(c.stepDuration))
}

func TestCollector_ObserveRun(t *testing.T) {
	c := New()
	c.ObserveRun("PASS")
	c.ObserveRun("PASS")
	c.ObserveRun("UNCLEAR")

	expected := `
# HELP llmtest_runs_total Completed runs by verdict.
# TYPE llmtest_runs_total counter
llmtest_runs_total{verdict="PASS"} 2
llmtest_runs_total{verdict="UNCLEAR"} 1
`
	require.NoError(t, testutil.CollectAndCompare(c.runs, strings.NewReader(expected), "llmtest_runs_total"))
}

func TestCollector_WriteTextfile(t *testing.T) {
	c := New()
	c.Hooks().StepEnd(engine.StepOutcome{Tool: "sleep", Status: engine.StatusPass})
	c.ObserveRun("FAIL")

	path := filepath.Join(t.TempDir(), "llmtest.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `llmtest_steps_total{status="pass"} 1`)
	assert.Contains(t, string(data), `llmtest_runs_total{verdict="FAIL"} 1`)
}

func TestCombine(t *testing.T) {
	c := New()
	var seen []string
	other := engine.Hooks{StepEnd: func(o engine.StepOutcome) { seen = append(seen, o.Path) }}

	h := engine.Combine(c.Hooks(), other, engine.Hooks{})
	h.StepStart("steps[0]", "x", 1)
	h.StepEnd(engine.StepOutcome{Path: "steps[0]", Status: engine.StatusPass})

	assert.Equal(t, []string{"steps[0]"}, seen)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.steps.WithLabelValues("pass")))
}
