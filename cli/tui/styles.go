// Package tui provides the Bubble Tea live view for tributary run --tui.
//
// The view is fed the same RunState snapshots observers receive; it has no
// data of its own.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/tributary/types"
)

// Color palette.
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	successColor   = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	highlightColor = lipgloss.Color("#3B82F6") // Blue
)

// Styles for TUI components.
var (
	// TitleStyle for headers and titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	// SectionStyle for section headings.
	SectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(highlightColor).
			MarginTop(1)

	// LabelStyle for field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(14)

	// ValueStyle for field values.
	ValueStyle = lipgloss.NewStyle()

	// SuccessStyle for success states.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(successColor)

	// WarningStyle for in-progress states.
	WarningStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	// ErrorStyle for error states.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	// MutedStyle for secondary text.
	MutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	// AnswerStyle frames the final answer.
	AnswerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(successColor).
			Padding(0, 1)

	// HelpStyle for help text.
	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)
)

// PhaseStyle returns the style for a run phase.
func PhaseStyle(phase types.RunPhase) lipgloss.Style {
	switch phase {
	case types.RunPhaseFinished:
		return SuccessStyle
	case types.RunPhaseStreaming:
		return WarningStyle
	case types.RunPhaseFailed:
		return ErrorStyle
	default:
		return MutedStyle
	}
}

// NodeStyle returns the style and marker for a node status.
func NodeStyle(status types.NodeStatusValue) (lipgloss.Style, string) {
	switch status {
	case types.NodeStatusSuccess:
		return SuccessStyle, "✓"
	case types.NodeStatusFailed:
		return ErrorStyle, "✗"
	default:
		return WarningStyle, "•"
	}
}
