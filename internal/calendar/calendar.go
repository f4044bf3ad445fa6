// Package calendar decides when outreach may be delivered.
//
// A Calendar is built from a per-campaign Config (timezone, daily window,
// weekend and holiday skipping). All methods are pure functions of their
// inputs: they never read the wall clock and never move time backward.
package calendar

import (
	"fmt"
	"time"
	_ "time/tzdata" // embedded zone database for minimal containers
)

const dateLayout = "2006-01-02"

// Config is the campaign-level delivery window.
type Config struct {
	Timezone     string   `json:"timezone" yaml:"timezone"`
	StartHour    int      `json:"start_hour" yaml:"start_hour"`
	EndHour      int      `json:"end_hour" yaml:"end_hour"`
	SkipWeekends bool     `json:"skip_weekends" yaml:"skip_weekends"`
	SkipHolidays bool     `json:"skip_holidays" yaml:"skip_holidays"`
	Country      string   `json:"country,omitempty" yaml:"country,omitempty"`
	Holidays     []string `json:"holidays,omitempty" yaml:"holidays,omitempty"` // extra local dates (YYYY-MM-DD)
}

// DefaultConfig is Mon-Fri 09:00-17:00 UTC with international holidays.
func DefaultConfig() Config {
	return Config{
		Timezone:     "UTC",
		StartHour:    9,
		EndHour:      17,
		SkipWeekends: true,
		SkipHolidays: true,
		Country:      DefaultCountry,
	}
}

// Validate checks the window bounds, timezone and holiday dates.
func (c Config) Validate() error {
	_, err := New(c)
	return err
}

// Calendar answers delivery-window questions for one Config.
type Calendar struct {
	loc          *time.Location
	start        int
	end          int
	skipWeekends bool
	holidays     map[string]bool
}

// New builds a Calendar. An empty timezone means UTC.
func New(cfg Config) (*Calendar, error) {
	if cfg.StartHour < 0 || cfg.StartHour > 23 {
		return nil, fmt.Errorf("calendar: start hour %d out of range 0-23", cfg.StartHour)
	}
	if cfg.EndHour < 1 || cfg.EndHour > 24 {
		return nil, fmt.Errorf("calendar: end hour %d out of range 1-24", cfg.EndHour)
	}
	if cfg.StartHour >= cfg.EndHour {
		return nil, fmt.Errorf("calendar: start hour %d must be before end hour %d", cfg.StartHour, cfg.EndHour)
	}

	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("calendar: load timezone %q: %w", tz, err)
	}

	holidays := make(map[string]bool)
	if cfg.SkipHolidays {
		for _, d := range HolidaysFor(cfg.Country) {
			holidays[d] = true
		}
		for _, d := range cfg.Holidays {
			if _, err := time.Parse(dateLayout, d); err != nil {
				return nil, fmt.Errorf("calendar: invalid holiday date %q: %w", d, err)
			}
			holidays[d] = true
		}
	}

	return &Calendar{
		loc:          loc,
		start:        cfg.StartHour,
		end:          cfg.EndHour,
		skipWeekends: cfg.SkipWeekends,
		holidays:     holidays,
	}, nil
}

// Location returns the calendar's timezone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// IsWorkingDay reports whether t's local date is neither a skipped weekend
// day nor a holiday.
func (c *Calendar) IsWorkingDay(t time.Time) bool {
	local := t.In(c.loc)
	if c.skipWeekends {
		switch local.Weekday() {
		case time.Saturday, time.Sunday:
			return false
		}
	}
	return !c.holidays[local.Format(dateLayout)]
}

// IsOpen reports whether t falls inside the delivery window.
func (c *Calendar) IsOpen(t time.Time) bool {
	ok, _ := c.Check(t)
	return ok
}

// Check is IsOpen with a human-readable reason when closed.
func (c *Calendar) Check(t time.Time) (bool, string) {
	local := t.In(c.loc)
	if c.skipWeekends {
		switch local.Weekday() {
		case time.Saturday, time.Sunday:
			return false, fmt.Sprintf("weekend (%s)", local.Format("Mon 2006-01-02"))
		}
	}
	if c.holidays[local.Format(dateLayout)] {
		return false, fmt.Sprintf("holiday (%s)", local.Format(dateLayout))
	}
	if h := local.Hour(); h < c.start || h >= c.end {
		return false, fmt.Sprintf("outside business hours (%02d:%02d)", h, local.Minute())
	}
	return true, ""
}

// NextWorkingInstant returns t if the window is open at t, otherwise the
// start of the next window. The result is never before t.
func (c *Calendar) NextWorkingInstant(t time.Time) time.Time {
	if c.IsOpen(t) {
		return t
	}

	local := t.In(c.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)

	// Before today's window opens on a working day.
	if c.IsWorkingDay(local) && local.Hour() < c.start {
		return c.windowStart(day)
	}

	// Holiday tables are finite, so a working day is always reached.
	for {
		day = day.AddDate(0, 0, 1)
		if c.IsWorkingDay(day) {
			return c.windowStart(day)
		}
	}
}

// BusinessTimeAfter rolls t forward to the first instant inside the window.
// It is the scheduling form of NextWorkingInstant used after a step's delay
// has been added.
func (c *Calendar) BusinessTimeAfter(t time.Time) time.Time {
	return c.NextWorkingInstant(t)
}

// NextDayStart returns the window start of the first working day whose
// local date is strictly after t's local date.
func (c *Calendar) NextDayStart(t time.Time) time.Time {
	local := t.In(c.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	for {
		day = day.AddDate(0, 0, 1)
		if c.IsWorkingDay(day) {
			return c.windowStart(day)
		}
	}
}

func (c *Calendar) windowStart(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.start, 0, 0, 0, c.loc)
}
