package console

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// palette mirrors the classic eight-color rotation: bright black, red,
// green, yellow, blue, magenta, cyan, default.
var paletteColors = []string{"8", "1", "2", "3", "4", "5", "6", "7"}

// Styles returns the per-session name styles, assigned round-robin as
// sessions are created.
func Styles() []lipgloss.Style {
	styles := make([]lipgloss.Style, len(paletteColors))
	for i, c := range paletteColors {
		styles[i] = lipgloss.NewStyle().Foreground(lipgloss.Color(c)).Bold(true)
	}
	return styles
}

// ConfigureColors sets the global color profile. With colors disabled every
// style renders as plain text, which keeps session code free of branching.
func ConfigureColors(enabled bool) {
	if enabled {
		lipgloss.SetColorProfile(termenv.ColorProfile())
	} else {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}
