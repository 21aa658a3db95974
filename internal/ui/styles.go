package ui

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Palette shared by console output.
var (
	Primary  = lipgloss.Color("#7D56F4")
	Critical = lipgloss.Color("#FF0000")
	High     = lipgloss.Color("#FF6B6B")
	Medium   = lipgloss.Color("#FFD93D")
	Low      = lipgloss.Color("#6BCB77")
	Info     = lipgloss.Color("#4D96FF")
	Success  = lipgloss.Color("#00D26A")
	Warning  = lipgloss.Color("#FFB800")
	Error    = lipgloss.Color("#FF3838")
	Muted    = lipgloss.Color("#6B7280")
)

// styles are bound to one renderer so colors follow the capabilities of
// the writer they end up on. A plain buffer gets no escape codes.
type styles struct {
	title    lipgloss.Style
	audit    lipgloss.Style
	bracket  lipgloss.Style
	muted    lipgloss.Style
	success  lipgloss.Style
	warning  lipgloss.Style
	err      lipgloss.Style
	severity map[string]lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title:   r.NewStyle().Bold(true).Foreground(Primary),
		audit:   r.NewStyle().Bold(true),
		bracket: r.NewStyle().Foreground(Muted),
		muted:   r.NewStyle().Foreground(Muted).Italic(true),
		success: r.NewStyle().Foreground(Success).Bold(true),
		warning: r.NewStyle().Foreground(Warning).Bold(true),
		err:     r.NewStyle().Foreground(Error).Bold(true),
		severity: map[string]lipgloss.Style{
			"critical": r.NewStyle().Foreground(Critical).Bold(true),
			"high":     r.NewStyle().Foreground(High).Bold(true),
			"medium":   r.NewStyle().Foreground(Medium),
			"low":      r.NewStyle().Foreground(Low),
			"info":     r.NewStyle().Foreground(Info),
		},
	}
}

func (s styles) badge(style lipgloss.Style, text string) string {
	return s.bracket.Render("[") + style.Render(text) + s.bracket.Render("]")
}

func (s styles) severityBadge(level string) string {
	level = strings.ToLower(level)
	if level == "" {
		level = "info"
	}
	style, ok := s.severity[level]
	if !ok {
		style = s.muted
	}
	return s.badge(style, level)
}
