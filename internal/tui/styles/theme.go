package styles

import (
	"github.com/awearhealth/go-link"
	"github.com/awearhealth/go-link/internal/tui/colors"
	"github.com/charmbracelet/lipgloss"
)

var (
	// Header styles
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Mauve).
			Background(colors.Surface0).
			Padding(0, 1)

	// Device state styles
	StateActiveStyle = lipgloss.NewStyle().
				Foreground(colors.Green).
				Bold(true)

	StateDisconnectingStyle = lipgloss.NewStyle().
				Foreground(colors.Yellow).
				Bold(true)

	StateProbingStyle = lipgloss.NewStyle().
				Foreground(colors.Sky).
				Bold(true)

	// Content area styles
	ContentBorderStyle = lipgloss.NewStyle().
				BorderTop(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderForeground(colors.Surface1)

	// Vitals styles
	VitalsSenderStyle = lipgloss.NewStyle().
				Foreground(colors.Lavender).
				Bold(true)

	VitalsValueStyle = lipgloss.NewStyle().
				Foreground(colors.Text)

	MotionArtifactStyle = lipgloss.NewStyle().
				Foreground(colors.Peach)

	// Pairing flash
	PairedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Green)

	// Error styles
	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Red).
			Align(lipgloss.Center)

	// Info styles
	InfoStyle = lipgloss.NewStyle().
			Foreground(colors.Subtext0)
)

// StateStyle returns the style for a connection lifecycle state
func StateStyle(state link.ConnState) lipgloss.Style {
	switch state {
	case link.StateActive:
		return StateActiveStyle
	case link.StateDisconnecting:
		return StateDisconnectingStyle
	case link.StateProbing:
		return StateProbingStyle
	default:
		return StateDisconnectingStyle
	}
}
