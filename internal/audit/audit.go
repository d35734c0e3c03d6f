// Package audit keeps the append-only experiment log of phase transitions.
package audit

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TimeFormat is the timestamp layout of audit lines.
const TimeFormat = "2006-01-02T15:04:05"

// Event is the transition kind recorded on a line.
type Event string

const (
	EventStart Event = "start"
	EventDone  Event = "done"
)

// Entry is one phase transition.
type Entry struct {
	Time      time.Time
	Phase     string
	RunNumber int
	Date      string
	JobID     string
	Event     Event
}

// Line renders the entry as
// "<timestamp> : <phase> <run_number> <date> <job_id> - <start|done>".
func (e Entry) Line() string {
	job := e.JobID
	if job == "" {
		job = "-"
	}
	return fmt.Sprintf("%s : %s %d %s %s - %s",
		e.Time.Format(TimeFormat), e.Phase, e.RunNumber, e.Date, job, e.Event)
}

// ParseLine reverses Line.
func ParseLine(line string) (Entry, error) {
	head, tail, ok := strings.Cut(line, " : ")
	if !ok {
		return Entry{}, fmt.Errorf("malformed audit line %q", line)
	}
	ts, err := time.ParseInLocation(TimeFormat, strings.TrimSpace(head), time.Local)
	if err != nil {
		return Entry{}, fmt.Errorf("malformed audit timestamp: %w", err)
	}
	fields := strings.Fields(tail)
	if len(fields) != 6 || fields[4] != "-" {
		return Entry{}, fmt.Errorf("malformed audit line %q", line)
	}
	run, err := strconv.Atoi(fields[1])
	if err != nil {
		return Entry{}, fmt.Errorf("malformed run number in %q", line)
	}
	job := fields[3]
	if job == "-" {
		job = ""
	}
	return Entry{Time: ts, Phase: fields[0], RunNumber: run, Date: fields[2], JobID: job, Event: Event(fields[5])}, nil
}

// Log appends transitions to a text file. Each Append opens the file with
// O_APPEND so concurrent phases of one experiment never interleave a line.
type Log struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// Open prepares a log at path, creating its directory.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Log{path: path, now: time.Now}, nil
}

// Path returns the backing file.
func (l *Log) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes one entry. A zero Time is filled with the current time.
func (l *Log) Append(e Entry) (Entry, error) {
	if l == nil {
		return e, nil
	}
	if e.Time.IsZero() {
		e.Time = l.now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return e, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(e.Line() + "\n"); err != nil {
		return e, fmt.Errorf("failed to append audit log: %w", err)
	}
	return e, nil
}

// Start records the beginning of a phase.
func (l *Log) Start(phase string, run int, date, jobID string) (Entry, error) {
	return l.Append(Entry{Phase: phase, RunNumber: run, Date: date, JobID: jobID, Event: EventStart})
}

// Done records the end of a phase.
func (l *Log) Done(phase string, run int, date, jobID string) (Entry, error) {
	return l.Append(Entry{Phase: phase, RunNumber: run, Date: date, JobID: jobID, Event: EventDone})
}

// Tail returns up to maxLines of the most recent lines.
func (l *Log) Tail(maxLines int) []string {
	if l == nil || maxLines <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > maxLines {
			lines = lines[1:]
		}
	}
	return lines
}
