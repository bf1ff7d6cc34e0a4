package replay

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Stats holds aggregate statistics for one run.
type Stats struct {
	Steps int
	// Span is the time between the first and last recorded step.
	Span time.Duration
	// DispatchMs sums the recorded step durations.
	DispatchMs int64

	Kinds     map[string]int
	Decisions map[string]int
	Stopped   int
	// Revised counts steps whose executed arguments differ from the proposal.
	Revised int
}

// ComputeStats calculates aggregate statistics from a run.
func ComputeStats(run *Run) *Stats {
	stats := &Stats{
		Steps:     len(run.Trace),
		Kinds:     make(map[string]int),
		Decisions: make(map[string]int),
	}
	for _, e := range run.Trace {
		stats.Kinds[e.Kind]++
		if e.Decision != "" {
			stats.Decisions[e.Decision]++
		}
		if e.StopReason != "" {
			stats.Stopped++
		}
		stats.DispatchMs += e.DurationMs
	}

	var first, last time.Time
	for _, rec := range run.History {
		if _, ok := rec.Meta["proposed_args_hash"]; ok {
			stats.Revised++
		}
		if rec.Timestamp.IsZero() {
			continue
		}
		if first.IsZero() || rec.Timestamp.Before(first) {
			first = rec.Timestamp
		}
		if rec.Timestamp.After(last) {
			last = rec.Timestamp
		}
	}
	if !first.IsZero() {
		stats.Span = last.Sub(first)
	}
	return stats
}

// PrintStats outputs the statistics to the writer.
func PrintStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("STATISTICS"))
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Steps:    "), valueStyle.Render(fmt.Sprintf("%d", stats.Steps)))
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Span:     "), valueStyle.Render(stats.Span.Round(time.Millisecond).String()))
	if stats.DispatchMs > 0 {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Dispatch: "), valueStyle.Render(fmt.Sprintf("%dms", stats.DispatchMs)))
	}
	if stats.Revised > 0 {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Revised:  "), warnStyle.Render(fmt.Sprintf("%d", stats.Revised)))
	}
	printCounts(w, "Kinds:", stats.Kinds, kindStyle)
	printCounts(w, "Decisions:", stats.Decisions, decisionStyle)
}

func printCounts(w io.Writer, title string, counts map[string]int, style func(string) lipgloss.Style) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "  %s\n", labelStyle.Render(title))
	for _, k := range keys {
		fmt.Fprintf(w, "    %s %s\n", style(k).Render(k+":"), valueStyle.Render(fmt.Sprintf("%d", counts[k])))
	}
}
