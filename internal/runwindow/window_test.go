package runwindow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rescale/simchain/internal/calendar"
	"github.com/rescale/simchain/internal/config"
)

func yearlySpec() Spec {
	return Spec{
		Calendar:    calendar.Gregorian,
		InitialDate: calendar.Date{Year: 2000, Month: 1, Day: 1},
		FinalDate:   calendar.Date{Year: 2003, Month: 1, Day: 1},
		Delta:       calendar.Delta{Years: 1},
	}
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exp.date")
	w, err := Load(path, yearlySpec())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if w.RunNumber != 1 || !w.NeedsFirstWrite {
		t.Errorf("fresh window = %+v", w)
	}
	if w.CurrentDate.String() != "2000-01-01T00:00:00" {
		t.Errorf("CurrentDate = %v", w.CurrentDate)
	}
	if w.NextDate.String() != "2001-01-01T00:00:00" {
		t.Errorf("NextDate = %v", w.NextDate)
	}
	if w.EndDate.String() != "2000-12-31T00:00:00" {
		t.Errorf("EndDate = %v", w.EndDate)
	}
	if w.Stamp() != "20000101-20001231" {
		t.Errorf("Stamp() = %q", w.Stamp())
	}
}

func TestPersistLoadRoundTrip(t *testing.T) {
	tests := []string{
		"2001-01-01T00:00:00 2\n",
		"2001-01-01 2\n",
		"20010101 7\n",
	}
	for _, content := range tests {
		t.Run(content, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "exp.date")
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				t.Fatal(err)
			}
			w, err := Load(path, yearlySpec())
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if err := Persist(w, path); err != nil {
				t.Fatalf("Persist() error = %v", err)
			}
			got, _ := os.ReadFile(path)
			if string(got) != content {
				t.Errorf("round trip = %q, want %q", got, content)
			}
		})
	}
}

func TestAdvanceOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scripts", "exp.date")
	w, err := Load(path, yearlySpec())
	if err != nil {
		t.Fatal(err)
	}

	next := Advance(w)
	if err := Persist(next, path); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	reloaded, err := Load(path, yearlySpec())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if reloaded.RunNumber != w.RunNumber+1 {
		t.Errorf("RunNumber = %d, want %d", reloaded.RunNumber, w.RunNumber+1)
	}
	want := calendar.Gregorian.Add(w.CurrentDate, w.Delta)
	if !reloaded.CurrentDate.Equal(want) {
		t.Errorf("CurrentDate = %v, want %v", reloaded.CurrentDate, want)
	}
	if reloaded.NeedsFirstWrite {
		t.Error("reloaded window should not need a first write")
	}
	if reloaded.PrevStamp() != "20000101-20001231" {
		t.Errorf("PrevStamp() = %q", reloaded.PrevStamp())
	}
}

func TestEnded(t *testing.T) {
	w := New(yearlySpec(), calendar.Date{Year: 2001, Month: 1, Day: 1}, 2)
	if w.Ended() {
		t.Error("2001 run should not end a 2003 experiment")
	}
	last := Advance(w)
	if !last.Ended() {
		t.Errorf("window %v should have reached the final date", last)
	}
}

func TestLoadRejectsCalendarMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exp.date")
	os.WriteFile(path, []byte("2004-02-29 5\n"), 0644)

	spec := yearlySpec()
	spec.Calendar = calendar.NoLeap
	_, err := Load(path, spec)
	if !config.IsConfigError(err) {
		t.Errorf("Load() error = %v, want ConfigError", err)
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	for _, content := range []string{"", "2000-01-01", "2000-01-01 x", "2000-01-01 0", "2000-01-01 1 extra"} {
		path := filepath.Join(t.TempDir(), "exp.date")
		os.WriteFile(path, []byte(content), 0644)
		if _, err := Load(path, yearlySpec()); err == nil {
			t.Errorf("Load(%q) expected error", content)
		}
	}
}

func TestCalendarFromTree(t *testing.T) {
	tests := []struct {
		name    string
		root    map[string]interface{}
		want    bool
		wantErr bool
	}{
		{
			name: "default leap",
			root: map[string]interface{}{"general": map[string]interface{}{}},
			want: true,
		},
		{
			name: "models agree on noleap",
			root: map[string]interface{}{
				"general": map[string]interface{}{"models": []interface{}{"a", "b"}},
				"a":       map[string]interface{}{"leapyear": false},
				"b":       map[string]interface{}{"leapyear": false},
			},
			want: false,
		},
		{
			name: "model disagrees with general",
			root: map[string]interface{}{
				"general": map[string]interface{}{"leapyear": true, "models": []interface{}{"a"}},
				"a":       map[string]interface{}{"leapyear": false},
			},
			wantErr: true,
		},
		{
			name: "models disagree",
			root: map[string]interface{}{
				"general": map[string]interface{}{"models": []interface{}{"a", "b"}},
				"a":       map[string]interface{}{"leapyear": true},
				"b":       map[string]interface{}{"leapyear": false},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cal, err := CalendarFromTree(config.NewTree(tt.root))
			if tt.wantErr {
				if !config.IsConfigError(err) {
					t.Errorf("CalendarFromTree() error = %v, want ConfigError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CalendarFromTree() error = %v", err)
			}
			if cal.Leap != tt.want {
				t.Errorf("Leap = %v, want %v", cal.Leap, tt.want)
			}
		})
	}
}

func TestSpecFromTree(t *testing.T) {
	tree := config.NewTree(map[string]interface{}{
		"general": map[string]interface{}{
			"initial_date": "2000-01-01",
			"final_date":   "2000-07-01",
			"nmonth":       3,
		},
	})
	spec, err := SpecFromTree(tree)
	if err != nil {
		t.Fatalf("SpecFromTree() error = %v", err)
	}
	if spec.Delta != (calendar.Delta{Months: 3}) {
		t.Errorf("Delta = %v", spec.Delta)
	}

	tree.Section("general").Set("final_date", "1999-01-01")
	if _, err := SpecFromTree(tree); !config.IsConfigError(err) {
		t.Errorf("final before initial should be a ConfigError, got %v", err)
	}
}
