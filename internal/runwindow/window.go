// Package runwindow tracks the date range and run number of the current run
// and persists them in the experiment's two-token date file.
package runwindow

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rescale/simchain/internal/calendar"
	"github.com/rescale/simchain/internal/config"
)

// Spec carries the experiment-wide parameters a window is built from.
type Spec struct {
	Calendar    calendar.Calendar
	InitialDate calendar.Date
	FinalDate   calendar.Date
	Delta       calendar.Delta
}

// Window is the run window of one round.
//
// NextDate is always CurrentDate + Delta and EndDate is NextDate minus one day.
// The only way to move a window forward is Advance.
type Window struct {
	CurrentDate calendar.Date
	NextDate    calendar.Date
	EndDate     calendar.Date
	FinalDate   calendar.Date
	Delta       calendar.Delta
	RunNumber   int
	Calendar    calendar.Calendar

	// NeedsFirstWrite is set when no date file existed at load time.
	NeedsFirstWrite bool

	// recordDate is the date token as read from disk, reused on persist
	// so an unadvanced window rewrites the file byte for byte.
	recordDate string
}

// New builds a window starting at current with the given run number.
func New(spec Spec, current calendar.Date, run int) Window {
	w := Window{
		CurrentDate: current,
		FinalDate:   spec.FinalDate,
		Delta:       spec.Delta,
		RunNumber:   run,
		Calendar:    spec.Calendar,
	}
	w.derive()
	return w
}

func (w *Window) derive() {
	w.NextDate = w.Calendar.Add(w.CurrentDate, w.Delta)
	w.EndDate = w.Calendar.AddDays(w.NextDate, -1)
}

// Load reads "<date> <run_number>" from path. A missing file yields run 1
// at the initial date with NeedsFirstWrite set.
func Load(path string, spec Spec) (Window, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			w := New(spec, spec.InitialDate, 1)
			w.NeedsFirstWrite = true
			return w, nil
		}
		return Window{}, fmt.Errorf("failed to read date file: %w", err)
	}

	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return Window{}, config.NewConfigError(path, "date file must hold exactly two tokens, found %d", len(fields))
	}

	current, err := spec.Calendar.Parse(fields[0])
	if err != nil {
		return Window{}, config.WrapConfigError(path, "current date does not fit the "+spec.Calendar.String()+" calendar", err)
	}
	run, err := strconv.Atoi(fields[1])
	if err != nil || run < 1 {
		return Window{}, config.NewConfigError(path, "invalid run number %q", fields[1])
	}

	w := New(spec, current, run)
	w.recordDate = fields[0]
	return w, nil
}

// Advance moves the window forward by its delta and bumps the run number.
// Callers must invoke it exactly once per round; a second call advances again.
func Advance(w Window) Window {
	next := New(Spec{Calendar: w.Calendar, FinalDate: w.FinalDate, Delta: w.Delta}, w.NextDate, w.RunNumber+1)
	return next
}

// Persist overwrites path with the window's two-token record.
func Persist(w Window, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create date file directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(w.Record()), 0644); err != nil {
		return fmt.Errorf("failed to write date file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace date file: %w", err)
	}
	return nil
}

// Record renders the date-file content.
func (w Window) Record() string {
	date := w.recordDate
	if date == "" {
		date = w.CurrentDate.String()
	}
	return fmt.Sprintf("%s %d\n", date, w.RunNumber)
}

// Ended reports whether the window has reached the final date.
func (w Window) Ended() bool {
	return !w.NextDate.Before(w.FinalDate)
}

// Stamp names the run: <current YYYYMMDD>-<end YYYYMMDD>.
func (w Window) Stamp() string {
	return w.CurrentDate.Stamp() + "-" + w.EndDate.Stamp()
}

// PrevDate is the start of the previous run.
func (w Window) PrevDate() calendar.Date {
	return w.Calendar.Sub(w.CurrentDate, w.Delta)
}

// PrevStamp names the previous run.
func (w Window) PrevStamp() string {
	end := w.Calendar.AddDays(w.CurrentDate, -1)
	return w.PrevDate().Stamp() + "-" + end.Stamp()
}

func (w Window) String() string {
	return fmt.Sprintf("run %d: %s -> %s (final %s)", w.RunNumber, w.CurrentDate, w.NextDate, w.FinalDate)
}
