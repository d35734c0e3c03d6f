package staging

import (
	"sort"
	"strings"

	"github.com/rescale/simchain/internal/calendar"
	"github.com/rescale/simchain/internal/config"
)

// Input categories flow persistent → intermediate → target.
var InputCategories = []string{"bin", "config", "forcing", "input", "restart_in", "couple", "scripts"}

// Output categories flow target → intermediate → persistent.
var OutputCategories = []string{"outdata", "restart_out", "log", "mon", "analysis", "viz"}

// UnknownCategory holds work-directory files no plan entry declared.
const UnknownCategory = "unknown"

// Year needs a category may declare under <model>.needs.
const (
	NeedPrevYear     = "prev_year"
	NeedNextYear     = "next_year"
	NeedPrevTimestep = "prev_timestep"
	NeedNextTimestep = "next_timestep"
)

// DefaultInitCategories are archived into the experiment before the
// first run unless general.init_to_exp says otherwise.
var DefaultInitCategories = []string{"bin", "config"}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// IsInput reports whether category flows towards the work directory.
func IsInput(category string) bool { return contains(InputCategories, category) }

// IsOutput reports whether category flows back to the archive.
func IsOutput(category string) bool { return contains(OutputCategories, category) }

// yearsFor returns the calendar years a year-templated entry is expanded
// into for the run window [current, next).
func yearsFor(cal calendar.Calendar, current, next, end calendar.Date, needs []string, timeStep int) ([]int, error) {
	set := map[int]bool{}
	for y := current.Year; y <= end.Year; y++ {
		set[y] = true
	}
	for _, need := range needs {
		switch need {
		case NeedPrevYear:
			set[current.Year-1] = true
		case NeedNextYear:
			set[end.Year+1] = true
		case NeedPrevTimestep, NeedNextTimestep:
			if timeStep <= 0 {
				return nil, config.NewConfigError("time_step", "must be a positive number of seconds for %s", need)
			}
			step := calendar.Delta{Seconds: timeStep}
			if need == NeedPrevTimestep {
				set[cal.Sub(current, step).Year] = true
			} else {
				set[cal.Add(next, step).Year] = true
			}
		default:
			return nil, config.NewConfigError("needs", "unknown need %q", need)
		}
	}
	years := make([]int, 0, len(set))
	for y := range set {
		years = append(years, y)
	}
	sort.Ints(years)
	return years, nil
}

func hasGlob(s string) bool {
	return strings.ContainsAny(s, "*?[")
}
