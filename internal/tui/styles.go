package tui

import "github.com/charmbracelet/lipgloss"

// Palette colors (Nightfox).
const (
	colorText    = "#cdcecf"
	colorMuted   = "#71839b"
	colorAccent  = "#719cd6"
	colorSuccess = "#81b29a"
	colorWarning = "#dbc074"
	colorDanger  = "#c94f6d"
	colorSurface = "#192330"
	colorSelect  = "#2b3b51"
)

type styles struct {
	Header   lipgloss.Style
	Room     lipgloss.Style
	Row      lipgloss.Style
	Selected lipgloss.Style
	On       lipgloss.Style
	Off      lipgloss.Style
	Muted    lipgloss.Style
	Status   lipgloss.Style
	Error    lipgloss.Style
	Box      lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		Header: lipgloss.NewStyle().
			Background(lipgloss.Color(colorSurface)).
			Foreground(lipgloss.Color(colorText)).
			Bold(true).
			Padding(0, 1),
		Room: lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorAccent)).
			Bold(true).
			MarginTop(1),
		Row: lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorText)).
			PaddingLeft(2),
		Selected: lipgloss.NewStyle().
			Background(lipgloss.Color(colorSelect)).
			Foreground(lipgloss.Color(colorText)).
			PaddingLeft(2),
		On:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorSuccess)),
		Off:    lipgloss.NewStyle().Foreground(lipgloss.Color(colorMuted)),
		Muted:  lipgloss.NewStyle().Foreground(lipgloss.Color(colorMuted)),
		Status: lipgloss.NewStyle().Foreground(lipgloss.Color(colorWarning)),
		Error:  lipgloss.NewStyle().Foreground(lipgloss.Color(colorDanger)).Bold(true),
		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorAccent)).
			Padding(1, 2),
	}
}
