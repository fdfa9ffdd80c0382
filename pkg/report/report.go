// Package report prints compact, human-readable progress and results for
// llmtest runs.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/llmtest/pkg/kernel/engine"
	"github.com/ormasoftchile/llmtest/pkg/verdict"
)

// Preview widths in display columns.
const (
	ArgsWidth   = 80
	OutputWidth = 100
)

// Reporter writes [llmtest] lines. Lines from concurrent runs are written
// whole, never interleaved.
type Reporter struct {
	mu sync.Mutex
	w  io.Writer
	st styles
}

// New creates a reporter. styled enables lipgloss colors.
func New(w io.Writer, styled bool) *Reporter {
	return &Reporter{w: w, st: newStyles(styled)}
}

func (r *Reporter) println(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, line)
}

// Start announces a run.
func (r *Reporter) Start(test string, timeout time.Duration) {
	r.println(fmt.Sprintf("%s Running test: %s (timeout %s)", r.st.prefix.Render("[llmtest]"), test, timeout))
}

// Hooks returns engine hooks printing one line per finished step.
func (r *Reporter) Hooks(test string) engine.Hooks {
	return engine.Hooks{
		StepEnd: func(o engine.StepOutcome) { r.println(r.StepLine(test, o)) },
	}
}

// StepLine formats a finished step:
//
//	✓ test steps[1] update · api_update_user({"id":7}) → 200 (2 attempts, 1.2s)
func (r *Reporter) StepLine(test string, o engine.StepOutcome) string {
	var glyph string
	switch o.Status {
	case engine.StatusPass:
		glyph = r.st.passed.Render(GlyphPassed)
	case engine.StatusFail:
		glyph = r.st.failed.Render(GlyphFailed)
	default:
		glyph = r.st.skipped.Render(GlyphSkipped)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "  %s %s %s", glyph, test, o.Path)
	if label := o.IterationLabel(); label != "" {
		fmt.Fprintf(&b, "#%s", label)
	}
	if o.Name != "" {
		b.WriteString(" " + o.Name)
	}
	if o.Status == engine.StatusSkip {
		b.WriteString(r.st.dim.Render(" skipped: " + Truncate(o.Error, OutputWidth)))
		return b.String()
	}

	fmt.Fprintf(&b, " · %s(%s)", o.Tool, Truncate(compactJSON(o.Args), ArgsWidth))
	if o.Status == engine.StatusFail {
		b.WriteString(" → " + r.st.failed.Render(Truncate(o.Error, OutputWidth)))
	} else {
		b.WriteString(" → " + Compact(o.Output))
	}
	extra := fmt.Sprintf(" (%s)", o.Elapsed.Round(time.Millisecond))
	if o.AttemptCount > 1 {
		extra = fmt.Sprintf(" (%d attempts, %s)", o.AttemptCount, o.Elapsed.Round(time.Millisecond))
	}
	b.WriteString(r.st.dim.Render(extra))
	return b.String()
}

// Verdict prints the verdict banner.
func (r *Reporter) Verdict(test string, v *verdict.Verdict) {
	var label string
	switch v.Verdict {
	case verdict.Pass:
		label = r.st.passed.Render("PASS")
	case verdict.Fail:
		label = r.st.failed.Render("FAIL")
	default:
		label = r.st.unclear.Render(v.Verdict)
	}
	rule := strings.Repeat("=", 60)

	lines := []string{
		"",
		rule,
		fmt.Sprintf("  VERDICT: %s  %s", label, r.st.title.Render(test)),
		rule,
		"",
		v.Reason,
	}
	for _, issue := range v.Issues {
		lines = append(lines, "  - "+issue)
	}
	r.println(strings.Join(lines, "\n"))
}

// Row is one line of the end-of-suite table.
type Row struct {
	Name     string
	Status   string // passed, failed, skipped, error
	Reason   string
	Duration time.Duration
}

// Summary prints a table of results followed by the totals.
func (r *Reporter) Summary(rows []Row, elapsed time.Duration) {
	nameWidth := 4
	for _, row := range rows {
		if w := runewidth.StringWidth(row.Name); w > nameWidth {
			nameWidth = w
		}
	}
	if nameWidth > 40 {
		nameWidth = 40
	}

	counts := map[string]int{}
	var b strings.Builder
	b.WriteString("\n" + r.st.title.Render("Summary") + "\n")
	for _, row := range rows {
		counts[row.Status]++
		name := runewidth.FillRight(runewidth.Truncate(row.Name, nameWidth, "..."), nameWidth)
		fmt.Fprintf(&b, "  %s  %s  %s  %s\n",
			r.statusLabel(row.Status), name,
			r.st.dim.Render(fmt.Sprintf("%6s", row.Duration.Round(100*time.Millisecond))),
			Truncate(row.Reason, OutputWidth))
	}

	var parts []string
	for _, s := range []string{"passed", "failed", "skipped", "error"} {
		if counts[s] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[s], s))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "no tests")
	}
	fmt.Fprintf(&b, "\n%s in %s", strings.Join(parts, ", "), elapsed.Round(time.Millisecond))
	r.println(b.String())
}

func (r *Reporter) statusLabel(status string) string {
	label := runewidth.FillRight(strings.ToUpper(status), 7)
	switch status {
	case "passed":
		return r.st.passed.Render(label)
	case "failed", "error":
		return r.st.failed.Render(label)
	}
	return r.st.skipped.Render(label)
}

// Truncate shortens s to width display columns, ending in "..." when cut.
// Newlines are flattened to spaces.
func Truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, width, "...")
}

// Compact summarizes a tool result: well-known keys first (status, found,
// valid, error), otherwise the JSON encoding, truncated.
func Compact(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return Truncate(t, OutputWidth)
	case map[string]any:
		var parts []string
		if s, ok := t["status"]; ok {
			parts = append(parts, fmt.Sprint(s))
		}
		if f, ok := t["found"].(bool); ok && !f {
			parts = append(parts, "not found")
		}
		if ok, present := t["valid"].(bool); present {
			if ok {
				parts = append(parts, "valid")
			} else {
				parts = append(parts, "invalid")
			}
		}
		if e, ok := t["error"]; ok && e != nil {
			parts = append(parts, fmt.Sprintf("error: %v", e))
		}
		if len(parts) > 0 {
			return Truncate(strings.Join(parts, ", "), OutputWidth)
		}
	}
	return Truncate(compactJSON(v), OutputWidth)
}

func compactJSON(v any) string {
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// SortRows orders rows failures first, then by name.
func SortRows(rows []Row) {
	rank := map[string]int{"error": 0, "failed": 1, "skipped": 2, "passed": 3}
	sort.SliceStable(rows, func(i, j int) bool {
		if rank[rows[i].Status] != rank[rows[j].Status] {
			return rank[rows[i].Status] < rank[rows[j].Status]
		}
		return rows[i].Name < rows[j].Name
	})
}
