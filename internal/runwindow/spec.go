package runwindow

import (
	"fmt"

	"github.com/rescale/simchain/internal/calendar"
	"github.com/rescale/simchain/internal/config"
)

// CalendarFromTree resolves the experiment calendar. general.leapyear and every
// model's leapyear must agree; disagreement is a configuration error.
func CalendarFromTree(t *config.Tree) (calendar.Calendar, error) {
	g := t.Section("general")
	leap := g.Bool("leapyear", true)
	owner := "general"
	declared := g.Has("leapyear")

	for _, model := range t.Models() {
		sec := t.Section(model)
		if !sec.Has("leapyear") {
			continue
		}
		v := sec.Bool("leapyear", true)
		if !declared {
			leap, owner, declared = v, model, true
			continue
		}
		if v != leap {
			return calendar.Calendar{}, config.NewConfigError(model+".leapyear",
				"leap-year mode %t disagrees with %s (%t)", v, owner, leap)
		}
	}
	return calendar.Calendar{Leap: leap}, nil
}

// DeltaFromTree reads general.nyear..nsecond; all zero means one year.
func DeltaFromTree(t *config.Tree) (calendar.Delta, error) {
	g := t.Section("general")
	var d calendar.Delta
	fields := []struct {
		key string
		dst *int
	}{
		{"nyear", &d.Years},
		{"nmonth", &d.Months},
		{"nday", &d.Days},
		{"nhour", &d.Hours},
		{"nminute", &d.Minutes},
		{"nsecond", &d.Seconds},
	}
	for _, f := range fields {
		n, err := g.Int(f.key, 0)
		if err != nil {
			return d, config.WrapConfigError("general."+f.key, "invalid run length", err)
		}
		if n < 0 {
			return d, config.NewConfigError("general."+f.key, "must not be negative")
		}
		*f.dst = n
	}
	if d.IsZero() {
		d.Years = 1
	}
	return d, nil
}

// SpecFromTree assembles the window spec from the run configuration.
func SpecFromTree(t *config.Tree) (Spec, error) {
	cal, err := CalendarFromTree(t)
	if err != nil {
		return Spec{}, err
	}
	delta, err := DeltaFromTree(t)
	if err != nil {
		return Spec{}, err
	}

	g := t.Section("general")
	initialText := g.String("initial_date", "")
	if initialText == "" {
		return Spec{}, config.NewConfigError("general.initial_date", "is required")
	}
	initial, err := cal.Parse(initialText)
	if err != nil {
		return Spec{}, config.WrapConfigError("general.initial_date", fmt.Sprintf("not valid in the %s calendar", cal), err)
	}
	finalText := g.String("final_date", "")
	if finalText == "" {
		return Spec{}, config.NewConfigError("general.final_date", "is required")
	}
	final, err := cal.Parse(finalText)
	if err != nil {
		return Spec{}, config.WrapConfigError("general.final_date", fmt.Sprintf("not valid in the %s calendar", cal), err)
	}
	if !initial.Before(final) {
		return Spec{}, config.NewConfigError("general.final_date", "must be after initial_date")
	}

	return Spec{Calendar: cal, InitialDate: initial, FinalDate: final, Delta: delta}, nil
}
