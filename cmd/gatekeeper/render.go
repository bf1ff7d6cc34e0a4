package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"

	"github.com/vinayprograms/gatekeeper/internal/executor"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
)

// errRejected marks a check that printed its own verdict.
var errRejected = errors.New("rejected")

// errStopped marks a rehearsal that ended without an answer.
var errStopped = errors.New("run stopped")

// printResult renders the outcome of a run.
func printResult(w io.Writer, res executor.Result, width int) {
	if res.OK() {
		fmt.Fprintf(w, "%s %s %s\n", okStyle.Render("✓ "+strings.ToUpper(res.Status)), valueStyle.Render(res.Flow), labelStyle.Render(res.RunID))
	} else {
		fmt.Fprintf(w, "%s %s %s\n", failStyle.Render("✗ "+strings.ToUpper(res.Status)), valueStyle.Render(res.StopReason), labelStyle.Render(res.RunID))
		if res.Phase != "" {
			fmt.Fprintf(w, "  %s %s (%s)\n", labelStyle.Render("Phase:  "), res.Phase, res.StopCategory)
		}
	}
	fmt.Fprintf(w, "  %s %d in %s\n", labelStyle.Render("Steps:  "), res.Steps, res.Elapsed.Round(time.Millisecond))
	if res.Outcome != "" {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Outcome:"), res.Outcome)
	}
	for _, t := range res.Tasks {
		line := fmt.Sprintf("%s %s %s attempts=%d", t.ID, t.Op, t.Status, t.Attempts)
		if t.Critical {
			line += " critical"
		}
		if t.StopReason != "" {
			line += " " + t.StopReason
		}
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Task:   "), line)
	}
	for _, r := range res.Rounds {
		decision := r.Decision
		if decision == "" {
			decision = "undecided"
		}
		fmt.Fprintf(w, "  %s %d %s conflicts: %s\n", labelStyle.Render("Round:  "), r.Number, decision, listOrNone(r.Conflicts))
	}
	if res.Answer != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, indent.String(wordwrap.String(res.Answer, width-2), 2))
	}
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}

func sortStrings(items []string) []string {
	sort.Strings(items)
	return items
}
