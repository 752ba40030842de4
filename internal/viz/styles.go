package viz

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	header lipgloss.Style
	panel  lipgloss.Style
	label  lipgloss.Style
	value  lipgloss.Style
	active lipgloss.Style
	graph  lipgloss.Style
	help   lipgloss.Style
	normal lipgloss.Style
	paused lipgloss.Style
	fault  lipgloss.Style
}

func newStyles(t Theme) styles {
	return styles{
		header: lipgloss.NewStyle().Bold(true).Foreground(t.Primary).MarginBottom(1),
		panel: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(t.Muted).
			Padding(0, 2).
			Width(38),
		label:  lipgloss.NewStyle().Foreground(t.Secondary).Width(14),
		value:  lipgloss.NewStyle().Foreground(t.Text),
		active: lipgloss.NewStyle().Foreground(t.Primary).Bold(true),
		graph:  lipgloss.NewStyle().Foreground(t.Primary).Padding(0, 1),
		help:   lipgloss.NewStyle().Foreground(t.Muted).Italic(true).MarginTop(1),
		normal: lipgloss.NewStyle().Bold(true).Foreground(t.Normal),
		paused: lipgloss.NewStyle().Bold(true).Foreground(t.Paused),
		fault:  lipgloss.NewStyle().Bold(true).Foreground(t.Fault),
	}
}

// ProgressBar renders a fill gauge; fractions above 1 are clamped.
func ProgressBar(fraction float64, width int) string {
	filled := int(fraction * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// Sparkline renders values as a one-line bar chart sampled to width.
func Sparkline(values []float64, width int) string {
	if len(values) == 0 {
		return strings.Repeat("─", width)
	}

	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	rng := hi - lo
	if rng == 0 {
		rng = 1
	}

	step := len(values) / width
	if step < 1 {
		step = 1
	}

	var b strings.Builder
	for i := 0; i < width && i*step < len(values); i++ {
		idx := int((values[i*step] - lo) / rng * float64(len(chars)-1))
		idx = max(0, min(idx, len(chars)-1))
		b.WriteRune(chars[idx])
	}
	return b.String()
}
