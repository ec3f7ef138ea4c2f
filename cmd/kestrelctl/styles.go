package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/joshuapare/kestrel/memory/pmm"
	"github.com/joshuapare/kestrel/sched"
)

var (
	// Color palette
	primaryColor   = lipgloss.Color("#7D56F4")
	secondaryColor = lipgloss.Color("#00D7FF")
	successColor   = lipgloss.Color("#04B575")
	warningColor   = lipgloss.Color("#FFA500")
	errorColor     = lipgloss.Color("#FF4B4B")
	mutedColor     = lipgloss.Color("#666666")
	borderColor    = lipgloss.Color("#383838")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Background(lipgloss.Color("#1A1A1A")).
			Padding(0, 1)

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1)

	activePaneStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(0, 1)

	paneTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(secondaryColor)

	tableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(primaryColor)

	activeRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primaryColor)

	statusStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(0, 1)

	messageStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	helpKeyStyle = lipgloss.NewStyle().
			Foreground(secondaryColor)
)

// stateStyles colour frame states in usage bars.
var stateStyles = map[pmm.State]lipgloss.Style{
	pmm.Used:     lipgloss.NewStyle().Foreground(primaryColor),
	pmm.Reserved: lipgloss.NewStyle().Foreground(mutedColor),
	pmm.Free:     lipgloss.NewStyle().Foreground(borderColor),
}

func schedStyle(s sched.Status) lipgloss.Style {
	switch s {
	case sched.Running:
		return lipgloss.NewStyle().Foreground(successColor).Bold(true)
	case sched.Sleeping, sched.Blocked:
		return lipgloss.NewStyle().Foreground(warningColor)
	case sched.Dead:
		return lipgloss.NewStyle().Foreground(errorColor)
	default:
		return lipgloss.NewStyle()
	}
}
