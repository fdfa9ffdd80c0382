package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ormasoftchile/llmtest/pkg/kernel/engine"
	"github.com/ormasoftchile/llmtest/pkg/verdict"
)

func TestStepLine(t *testing.T) {
	r := New(&bytes.Buffer{}, false)

	tests := []struct {
		name string
		o    engine.StepOutcome
		want []string
	}{
		{
			name: "pass",
			o: engine.StepOutcome{Path: "steps[0]", Name: "create", Tool: "api_create", Status: engine.StatusPass,
				Args: map[string]any{"email": "a@b.c"}, Output: map[string]any{"status": 201}, AttemptCount: 1,
				Elapsed: 1500 * time.Millisecond},
			want: []string{"✓ t steps[0] create", `api_create({"email":"a@b.c"})`, "→ 201", "(1.5s)"},
		},
		{
			name: "fail after retries",
			o: engine.StepOutcome{Path: "steps[1]", Name: "update", Tool: "api_update", Status: engine.StatusFail,
				Error: "tool api_update failed: 500", AttemptCount: 3},
			want: []string{"✗ t steps[1] update", "→ tool api_update failed: 500", "3 attempts"},
		},
		{
			name: "skip",
			o:    engine.StepOutcome{Path: "steps[2]", Status: engine.StatusSkip, Error: "setup failed"},
			want: []string{"○ t steps[2]", "skipped: setup failed"},
		},
		{
			name: "repeat iteration",
			o:    engine.StepOutcome{Path: "steps[0].steps[1]", Iteration: 2, Tool: "sleep", Status: engine.StatusPass},
			want: []string{"steps[0].steps[1]#2", "sleep()"},
		},
		{
			name: "nested repeat",
			o:    engine.StepOutcome{Path: "steps[0].steps[0]", Iteration: 1, Iterations: []int{2, 1}, Tool: "sleep", Status: engine.StatusPass},
			want: []string{"steps[0].steps[0]#2.1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := r.StepLine("t", tt.o)
			for _, w := range tt.want {
				assert.Contains(t, line, w)
			}
		})
	}
}

func TestHooksWriteLines(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, false)
	h := r.Hooks("smoke")
	h.StepEnd(engine.StepOutcome{Path: "steps[0]", Tool: "list_values", Status: engine.StatusPass})
	h.StepEnd(engine.StepOutcome{Path: "steps[1]", Tool: "list_values", Status: engine.StatusPass})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "smoke steps[0]")
}

func TestCompact(t *testing.T) {
	assert.Equal(t, "null", Compact(nil))
	assert.Equal(t, "hello", Compact("hello"))
	assert.Equal(t, "200", Compact(map[string]any{"status": 200, "body": "..."}))
	assert.Equal(t, "not found", Compact(map[string]any{"name": "x", "found": false, "value": nil}))
	assert.Equal(t, "invalid", Compact(map[string]any{"valid": false}))
	assert.Equal(t, "error: boom", Compact(map[string]any{"error": "boom"}))
	assert.Equal(t, `{"names":["a"]}`, Compact(map[string]any{"names": []any{"a"}}))

	long := Compact(strings.Repeat("x", 500))
	assert.True(t, strings.HasSuffix(long, "..."))
	assert.LessOrEqual(t, len(long), OutputWidth)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "a b", Truncate("a\n  b", 10))
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "ab...", Truncate("abcdefgh", 5))
	// wide runes count as two columns
	assert.Equal(t, "日本...", Truncate("日本語のテキスト", 7))
}

func TestVerdictBanner(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, false).Verdict("user-update", &verdict.Verdict{
		Verdict: verdict.Fail,
		Reason:  "1 of 2 steps failed",
		Issues:  []string{"update (steps[1]): 500"},
	})
	out := buf.String()
	assert.Contains(t, out, "VERDICT: FAIL  user-update")
	assert.Contains(t, out, "1 of 2 steps failed")
	assert.Contains(t, out, "  - update (steps[1]): 500")
}

func TestSummary(t *testing.T) {
	rows := []Row{
		{Name: "b-pass", Status: "passed", Duration: time.Second},
		{Name: "a-fail", Status: "failed", Reason: "step broke"},
		{Name: "c-unclear", Status: "skipped", Reason: "malformed verdict: no verdict"},
	}
	SortRows(rows)
	assert.Equal(t, []string{"a-fail", "c-unclear", "b-pass"}, []string{rows[0].Name, rows[1].Name, rows[2].Name})

	var buf bytes.Buffer
	New(&buf, false).Summary(rows, 3*time.Second)
	out := buf.String()
	assert.Contains(t, out, "FAILED   a-fail")
	assert.Contains(t, out, "1 passed, 1 failed, 1 skipped in 3s")
}
