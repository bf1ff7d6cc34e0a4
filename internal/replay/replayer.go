package replay

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"github.com/vinayprograms/gatekeeper/internal/session"
)

// Replayer formats exported runs for audit.
type Replayer struct {
	output    io.Writer
	verbosity int  // 0=timeline, 1=reasons and meta (-v), 2=observations (-vv)
	width     int  // Wrap width for answers and truncation width for values
	stats     bool // Print statistics after the summary
}

// ReplayerOption configures a Replayer.
type ReplayerOption func(*Replayer)

// WithWidth sets the wrap width.
func WithWidth(width int) ReplayerOption {
	return func(r *Replayer) {
		if width > 0 {
			r.width = width
		}
	}
}

// WithStats enables the statistics block.
func WithStats() ReplayerOption {
	return func(r *Replayer) {
		r.stats = true
	}
}

// New creates a new Replayer.
func New(output io.Writer, verbosity int, opts ...ReplayerOption) *Replayer {
	r := &Replayer{
		output:    output,
		verbosity: verbosity,
		width:     80,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReplayFile loads and replays a run from a file.
func (r *Replayer) ReplayFile(path string) error {
	run, err := LoadFile(path)
	if err != nil {
		return err
	}
	return r.Replay(run)
}

// ReplayFiles replays several runs in order.
func (r *Replayer) ReplayFiles(paths []string) error {
	for _, p := range paths {
		if err := r.ReplayFile(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// Replay outputs a formatted timeline of the run.
func (r *Replayer) Replay(run *Run) error {
	r.printHeader(run)
	r.printTimeline(run)
	r.printSummary(run)
	if r.stats {
		PrintStats(r.output, ComputeStats(run))
	}
	return nil
}

// Timeline prints the header and steps of a run that has no footer yet.
func (r *Replayer) Timeline(run *Run) {
	r.printHeader(run)
	r.printTimeline(run)
}

func (r *Replayer) printHeader(run *Run) {
	fmt.Fprintln(r.output)
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("RUN"), valueStyle.Render(run.RunID))
	fmt.Fprintln(r.output, divider)
	fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Flow:  "), valueStyle.Render(run.Flow))
	if len(run.History) > 0 && !run.History[0].Timestamp.IsZero() {
		fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Start: "), valueStyle.Render(run.History[0].Timestamp.Format("2006-01-02T15:04:05.000Z07:00")))
	}
	fmt.Fprintln(r.output)
}

func (r *Replayer) printTimeline(run *Run) {
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("TIMELINE"), dimStyle.Render(fmt.Sprintf("(%d steps)", len(run.Trace))))
	fmt.Fprintln(r.output, divider)
	for i, e := range run.Trace {
		r.formatStep(e, run.History[i])
	}
}

func (r *Replayer) formatStep(e session.Entry, rec session.Record) {
	var b strings.Builder
	b.WriteString(seqStyle.Render(fmt.Sprintf("#%d", e.Seq)))
	b.WriteString(" ")
	b.WriteString(dimStyle.Render(fmt.Sprintf("step %d", e.Step)))
	if e.Phase != "" {
		b.WriteString(dimStyle.Render("/" + e.Phase))
	}
	b.WriteString(" ")
	b.WriteString(kindStyle(e.Kind).Render(strings.ToUpper(e.Kind)))
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(valueStyle.Render(e.Op))
	}
	if e.ArgsHash != "" {
		b.WriteString(" ")
		b.WriteString(dimStyle.Render(truncate.String(e.ArgsHash, 12)))
	}
	if e.Decision != "" {
		b.WriteString(" ")
		b.WriteString(decisionStyle(e.Decision).Render("[" + e.Decision + "]"))
	}
	if e.StopReason != "" {
		b.WriteString(" ")
		b.WriteString(errorStyle.Render("STOP " + e.StopReason))
	} else {
		b.WriteString(" ")
		b.WriteString(successStyle.Render(e.Outcome))
	}
	fmt.Fprintln(r.output, b.String())

	if r.verbosity < 1 {
		return
	}
	if rec.Reason != "" {
		r.printField("reason", rec.Reason)
	}
	for _, k := range sortedKeys(rec.Meta) {
		r.printField(k, compact(rec.Meta[k]))
	}
	if r.verbosity < 2 {
		return
	}
	if rec.Action != nil {
		r.printField("action", compact(rec.Action))
	}
	if rec.Observation != nil {
		r.printField("observation", compact(rec.Observation))
	}
}

func (r *Replayer) printField(label, value string) {
	value = truncate.StringWithTail(value, uint(r.width), "...")
	fmt.Fprintf(r.output, "      %s %s\n", labelStyle.Render(label+":"), valueStyle.Render(value))
}

func (r *Replayer) printSummary(run *Run) {
	fmt.Fprintln(r.output)
	fmt.Fprintln(r.output, divider)
	if !run.Closed {
		fmt.Fprintln(r.output, warnStyle.Render("INCOMPLETE (no footer)"))
		return
	}
	status := strings.ToUpper(run.Footer.Status)
	if run.Footer.StopReason != "" {
		status += " " + run.Footer.StopReason
	}
	fmt.Fprintln(r.output, statusStyle(run.Footer.Status).Render(status))
	if run.Footer.Answer != "" {
		fmt.Fprintln(r.output)
		fmt.Fprintln(r.output, wordwrap.String(run.Footer.Answer, r.width))
	}
}

func compact(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
