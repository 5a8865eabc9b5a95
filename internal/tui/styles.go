package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	colorPurple    = lipgloss.Color("#7D56F4")
	colorGreen     = lipgloss.Color("#04B575")
	colorRed       = lipgloss.Color("#FF4141")
	colorYellow    = lipgloss.Color("#FFC107")
	colorGray      = lipgloss.Color("#626262")
	colorLightGray = lipgloss.Color("#9e9e9e")
	colorWhite     = lipgloss.Color("#FFFFFF")

	styleTitle = lipgloss.NewStyle().
			Foreground(colorPurple).
			Bold(true).
			MarginBottom(1)

	styleViewport = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorPurple).
			Padding(0, 1)

	styleSelected = lipgloss.NewStyle().
			Foreground(colorWhite).
			Background(colorPurple).
			Bold(true)

	styleRow = lipgloss.NewStyle().
			Foreground(colorLightGray)

	styleCompleted = lipgloss.NewStyle().Foreground(colorGreen)
	styleFailed    = lipgloss.NewStyle().Foreground(colorRed)
	stylePaused    = lipgloss.NewStyle().Foreground(colorYellow)
	styleRunning   = lipgloss.NewStyle().Foreground(colorPurple)

	styleHelp = lipgloss.NewStyle().
			Foreground(colorGray).
			MarginTop(1)
)

func statusStyle(status string) lipgloss.Style {
	switch status {
	case "completed":
		return styleCompleted
	case "failed":
		return styleFailed
	case "paused":
		return stylePaused
	case "in_progress":
		return styleRunning
	default:
		return styleRow
	}
}
