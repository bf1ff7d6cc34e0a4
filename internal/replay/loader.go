package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/vinayprograms/gatekeeper/internal/session"
)

// Run is an exported run read back from JSON lines.
type Run struct {
	RunID   string
	Flow    string
	Trace   []session.Entry
	History []session.Record
	Footer  session.Footer
	// Closed is set once the footer line was read. An export cut short
	// has no footer.
	Closed bool
}

// LoadFile reads an exported run from path.
func LoadFile(path string) (*Run, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads an exported run line by line.
func Load(in io.Reader) (*Run, error) {
	run := &Run{}
	reader := bufio.NewReader(in)
	lineNo := 0
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("error reading JSONL: %w", err)
		}
		lineNo++
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			if perr := parseLine(trimmed, run); perr != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, perr)
			}
		}
		if err == io.EOF {
			break
		}
	}
	if run.RunID == "" {
		return nil, fmt.Errorf("missing header record")
	}
	return run, nil
}

func parseLine(line []byte, run *Run) error {
	var record session.JSONLRecord
	if err := json.Unmarshal(line, &record); err != nil {
		return fmt.Errorf("failed to parse JSONL line: %w", err)
	}

	switch record.RecordType {
	case session.RecordTypeHeader:
		run.RunID = record.RunID
		run.Flow = record.Flow

	case session.RecordTypeStep:
		if record.Entry == nil {
			return fmt.Errorf("step record without entry")
		}
		rec := session.Record{Seq: record.Entry.Seq, Step: record.Entry.Step}
		if record.Record != nil {
			rec = *record.Record
		}
		run.Trace = append(run.Trace, *record.Entry)
		run.History = append(run.History, rec)

	case session.RecordTypeFooter:
		if record.Footer != nil {
			run.Footer = *record.Footer
		}
		run.Closed = true

	default:
		return fmt.Errorf("unknown record type %q", record.RecordType)
	}
	return nil
}
