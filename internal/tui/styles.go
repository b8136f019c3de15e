package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Border styles
var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	StyleUnfocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))
)

// Task state styles
var (
	StyleStateRunning = lipgloss.NewStyle().
				Foreground(lipgloss.Color("11")).
				Bold(true)

	StyleStateSucceeded = lipgloss.NewStyle().
				Foreground(lipgloss.Color("10")).
				Bold(true)

	StyleStateFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("9")).
				Bold(true)

	StyleStateSkipped = lipgloss.NewStyle().
				Foreground(lipgloss.Color("13"))

	StyleStateReady = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	StyleStatePending = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))
)

// UI element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// StateStyle returns the style for a task or job state name.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "running":
		return StyleStateRunning
	case "succeeded":
		return StyleStateSucceeded
	case "failed":
		return StyleStateFailed
	case "skipped":
		return StyleStateSkipped
	case "ready":
		return StyleStateReady
	default:
		return StyleStatePending
	}
}

// StateIcon returns a styled indicator for a state name.
func StateIcon(state string) string {
	switch state {
	case "running":
		return StyleStateRunning.Render("●")
	case "succeeded":
		return StyleStateSucceeded.Render("✓")
	case "failed":
		return StyleStateFailed.Render("✗")
	case "skipped":
		return StyleStateSkipped.Render("⊘")
	case "ready":
		return StyleStateReady.Render("◌")
	default:
		return StyleStatePending.Render("○")
	}
}
