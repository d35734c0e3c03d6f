// Package calendar provides the date arithmetic used for run windows.
// Two calendars are supported: proleptic Gregorian and a 365-day no-leap
// calendar, the latter being common for climate model configurations.
package calendar

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidDate is returned when a date does not exist in a calendar.
var ErrInvalidDate = errors.New("invalid date for calendar")

// Calendar selects leap-year handling.
type Calendar struct {
	Leap bool
}

var (
	Gregorian = Calendar{Leap: true}
	NoLeap    = Calendar{Leap: false}
)

var monthDays = [...]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

func (c Calendar) String() string {
	if c.Leap {
		return "gregorian"
	}
	return "noleap"
}

// IsLeapYear reports whether year has a February 29 in this calendar.
func (c Calendar) IsLeapYear(year int) bool {
	if !c.Leap {
		return false
	}
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// DaysInMonth returns the length of a month.
func (c Calendar) DaysInMonth(year, month int) int {
	if month == 2 && c.IsLeapYear(year) {
		return 29
	}
	return monthDays[month-1]
}

// DaysInYear returns 365 or 366.
func (c Calendar) DaysInYear(year int) int {
	if c.IsLeapYear(year) {
		return 366
	}
	return 365
}

// Validate checks every field of d against the calendar.
func (c Calendar) Validate(d Date) error {
	if d.Month < 1 || d.Month > 12 {
		return fmt.Errorf("%w: month %d", ErrInvalidDate, d.Month)
	}
	if d.Day < 1 || d.Day > c.DaysInMonth(d.Year, d.Month) {
		return fmt.Errorf("%w: %s has no day %d in month %d of %d", ErrInvalidDate, c, d.Day, d.Month, d.Year)
	}
	if d.Hour < 0 || d.Hour > 23 || d.Minute < 0 || d.Minute > 59 || d.Second < 0 || d.Second > 59 {
		return fmt.Errorf("%w: time %02d:%02d:%02d", ErrInvalidDate, d.Hour, d.Minute, d.Second)
	}
	return nil
}

var (
	isoPattern     = regexp.MustCompile(`^(-?\d+)-(\d{1,2})-(\d{1,2})(?:[T ](\d{1,2}):(\d{2})(?::(\d{2}))?)?$`)
	compactPattern = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})$`)
)

// Parse reads YYYY-MM-DD[THH:MM[:SS]] or YYYYMMDD and validates it.
func (c Calendar) Parse(s string) (Date, error) {
	s = strings.TrimSpace(s)

	var parts []string
	if m := isoPattern.FindStringSubmatch(s); m != nil {
		parts = m[1:]
	} else if m := compactPattern.FindStringSubmatch(s); m != nil {
		parts = m[1:]
	} else {
		return Date{}, fmt.Errorf("%w: cannot parse %q", ErrInvalidDate, s)
	}

	nums := make([]int, 6)
	for i, p := range parts {
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return Date{}, fmt.Errorf("%w: cannot parse %q", ErrInvalidDate, s)
		}
		nums[i] = n
	}

	d := Date{Year: nums[0], Month: nums[1], Day: nums[2], Hour: nums[3], Minute: nums[4], Second: nums[5]}
	if err := c.Validate(d); err != nil {
		return Date{}, err
	}
	return d, nil
}

// Add returns d shifted by delta. Years and months are applied first with
// the day clamped to the target month; the remaining fields are applied as
// an exact offset.
func (c Calendar) Add(d Date, delta Delta) Date {
	months := d.Month - 1 + delta.Months + 12*delta.Years
	d.Year += floorDiv(months, 12)
	d.Month = floorMod(months, 12) + 1
	if dim := c.DaysInMonth(d.Year, d.Month); d.Day > dim {
		d.Day = dim
	}

	secs := d.Hour*3600 + d.Minute*60 + d.Second +
		delta.Hours*3600 + delta.Minutes*60 + delta.Seconds
	days := delta.Days + floorDiv(secs, 86400)
	secs = floorMod(secs, 86400)
	d.Hour, d.Minute, d.Second = secs/3600, (secs%3600)/60, secs%60

	return c.AddDays(d, days)
}

// Sub returns d shifted back by delta.
func (c Calendar) Sub(d Date, delta Delta) Date {
	return c.Add(d, delta.Negate())
}

// AddDays moves d by n whole days, keeping the time of day.
func (c Calendar) AddDays(d Date, n int) Date {
	for n > 0 {
		left := c.DaysInMonth(d.Year, d.Month) - d.Day
		if n <= left {
			d.Day += n
			return d
		}
		n -= left + 1
		d.Day = 1
		d.Month++
		if d.Month > 12 {
			d.Month = 1
			d.Year++
		}
	}
	for n < 0 {
		if -n < d.Day {
			d.Day += n
			return d
		}
		n += d.Day
		d.Month--
		if d.Month < 1 {
			d.Month = 12
			d.Year--
		}
		d.Day = c.DaysInMonth(d.Year, d.Month)
	}
	return d
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}
