package report

import "github.com/charmbracelet/lipgloss"

// Step status glyphs convey meaning without relying on color alone.
const (
	GlyphPassed  = "✓"
	GlyphFailed  = "✗"
	GlyphSkipped = "○"
)

var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")
)

type styles struct {
	prefix  lipgloss.Style
	passed  lipgloss.Style
	failed  lipgloss.Style
	skipped lipgloss.Style
	unclear lipgloss.Style
	dim     lipgloss.Style
	title   lipgloss.Style
}

func newStyles(enabled bool) styles {
	if !enabled {
		plain := lipgloss.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain, plain}
	}
	return styles{
		prefix:  lipgloss.NewStyle().Foreground(colorCyan),
		passed:  lipgloss.NewStyle().Foreground(colorGreen).Bold(true),
		failed:  lipgloss.NewStyle().Foreground(colorRed).Bold(true),
		skipped: lipgloss.NewStyle().Faint(true),
		unclear: lipgloss.NewStyle().Foreground(colorYellow).Bold(true),
		dim:     lipgloss.NewStyle().Foreground(colorDim),
		title:   lipgloss.NewStyle().Bold(true).Foreground(colorCyan),
	}
}
