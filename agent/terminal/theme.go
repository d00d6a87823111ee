package terminal

import (
	"github.com/charmbracelet/lipgloss"
)

type palette struct {
	prompt    string
	name      string
	assistant string
	tool      string
	command   string
	err       string
	dim       string
}

var palettes = map[string]palette{
	"cyberpunk": {prompt: "201", name: "51", assistant: "255", tool: "45", command: "219", err: "196", dim: "243"},
	"ocean":     {prompt: "39", name: "44", assistant: "153", tool: "33", command: "117", err: "203", dim: "67"},
	"forest":    {prompt: "70", name: "114", assistant: "194", tool: "28", command: "150", err: "166", dim: "65"},
	"sunset":    {prompt: "208", name: "214", assistant: "223", tool: "203", command: "216", err: "160", dim: "138"},
}

type styles struct {
	prompt    lipgloss.Style
	name      lipgloss.Style
	assistant lipgloss.Style
	tool      lipgloss.Style
	command   lipgloss.Style
	err       lipgloss.Style
	dim       lipgloss.Style
}

// newStyles builds the styles for theme. Unknown themes fall back to
// cyberpunk.
func newStyles(r *lipgloss.Renderer, theme string) styles {
	p, ok := palettes[theme]
	if !ok {
		p = palettes["cyberpunk"]
	}
	return styles{
		prompt:    r.NewStyle().Bold(true).Foreground(lipgloss.Color(p.prompt)),
		name:      r.NewStyle().Bold(true).Foreground(lipgloss.Color(p.name)),
		assistant: r.NewStyle().Foreground(lipgloss.Color(p.assistant)),
		tool:      r.NewStyle().Foreground(lipgloss.Color(p.tool)),
		command:   r.NewStyle().Foreground(lipgloss.Color(p.command)),
		err:       r.NewStyle().Bold(true).Foreground(lipgloss.Color(p.err)),
		dim:       r.NewStyle().Foreground(lipgloss.Color(p.dim)),
	}
}
