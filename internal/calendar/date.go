package calendar

import (
	"fmt"
	"strings"
)

// Date is a calendar-agnostic timestamp with second resolution.
type Date struct {
	Year, Month, Day     int
	Hour, Minute, Second int
}

// Compare returns -1, 0 or +1.
func (d Date) Compare(o Date) int {
	a := [...]int{d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second}
	b := [...]int{o.Year, o.Month, o.Day, o.Hour, o.Minute, o.Second}
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

func (d Date) Before(o Date) bool { return d.Compare(o) < 0 }
func (d Date) After(o Date) bool  { return d.Compare(o) > 0 }
func (d Date) Equal(o Date) bool  { return d.Compare(o) == 0 }

// String formats as YYYY-MM-DDTHH:MM:SS, the date-file format.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d", d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second)
}

// Stamp formats as YYYYMMDD.
func (d Date) Stamp() string {
	return fmt.Sprintf("%04d%02d%02d", d.Year, d.Month, d.Day)
}

// Delta is a calendar interval.
type Delta struct {
	Years, Months, Days     int
	Hours, Minutes, Seconds int
}

// IsZero reports whether every component is zero.
func (d Delta) IsZero() bool {
	return d == Delta{}
}

// Negate flips the sign of every component.
func (d Delta) Negate() Delta {
	return Delta{-d.Years, -d.Months, -d.Days, -d.Hours, -d.Minutes, -d.Seconds}
}

func (d Delta) String() string {
	var parts []string
	add := func(n int, unit string) {
		if n != 0 {
			parts = append(parts, fmt.Sprintf("%d%s", n, unit))
		}
	}
	add(d.Years, "y")
	add(d.Months, "mo")
	add(d.Days, "d")
	add(d.Hours, "h")
	add(d.Minutes, "m")
	add(d.Seconds, "s")
	if len(parts) == 0 {
		return "0s"
	}
	return strings.Join(parts, "")
}
