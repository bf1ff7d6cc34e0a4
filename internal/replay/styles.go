// Package replay renders exported runs for audit.
package replay

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/vinayprograms/gatekeeper/internal/session"
)

// Component color scheme - each step kind has a distinct, consistent color.
var (
	// Structural / metadata
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Gray - hashes, metadata

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Gray - labels

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")) // White - values

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")) // White bold - headers

	// Operations - Blue
	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12"))

	// Orchestrated tasks and routes - Magenta
	taskStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("13"))

	// Drafts, reviews, revisions - Cyan
	textStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	// Planner failures - Orange
	plannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("208"))

	// Outcomes
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")) // Green

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")) // Red

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")) // Yellow

	seqStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			Width(5).
			Align(lipgloss.Right)

	divider = lipgloss.NewStyle().
		Foreground(lipgloss.Color("8")).
		Render(strings.Repeat("━", 60))
)

// kindStyle returns the style for a step kind.
func kindStyle(kind string) lipgloss.Style {
	switch kind {
	case session.KindTool, session.KindPlanStep:
		return toolStyle
	case session.KindTask, session.KindRoute, session.KindPlan:
		return taskStyle
	case session.KindDraft, session.KindReview, session.KindRevise:
		return textStyle
	case session.KindPlanner:
		return plannerStyle
	default:
		return valueStyle
	}
}

// statusStyle returns the style for a run status.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case session.StatusOK:
		return successStyle
	case session.StatusStopped:
		return errorStyle
	default:
		return warnStyle
	}
}

// decisionStyle returns the style for a supervisor or reviewer decision.
func decisionStyle(decision string) lipgloss.Style {
	switch decision {
	case "approve":
		return successStyle
	case "revise":
		return warnStyle
	case "block", "escalate":
		return errorStyle
	default:
		return valueStyle
	}
}
