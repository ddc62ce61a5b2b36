package colors

import "github.com/charmbracelet/lipgloss"

// The slice of the Catppuccin Mocha palette the dashboard draws with
var (
	// Surfaces and text
	Surface0 = lipgloss.Color("#313244") // Title background
	Surface1 = lipgloss.Color("#45475a") // Section borders
	Subtext0 = lipgloss.Color("#a6adc8") // Muted informational text
	Text     = lipgloss.Color("#cdd6f4") // Main text

	// Accents
	Lavender = lipgloss.Color("#b4befe") // Sender identities
	Sky      = lipgloss.Color("#89dceb") // Probing state
	Green    = lipgloss.Color("#a6e3a1") // Active state, pairing success
	Yellow   = lipgloss.Color("#f9e2af") // Disconnecting state
	Peach    = lipgloss.Color("#fab387") // Motion artifact marker
	Red      = lipgloss.Color("#f38ba8") // Errors
	Mauve    = lipgloss.Color("#cba6f7") // Title
)
