// Package businesshours provides calendar-aware time arithmetic for SLA
// deadline computation, wrapping rickar/cal business calendars.
package businesshours

import (
	"fmt"
	"os"
	"time"

	"github.com/rickar/cal/v2"
	"gopkg.in/yaml.v3"

	"github.com/gotrs-io/sla-engine/internal/slaerr"
)

// Config describes one business calendar. WorkingHours maps weekday names to
// the list of working hours of that day, e.g. Mon: [8,9,...,16] for 08:00-17:00.
// Days with an empty list are non-working days.
type Config struct {
	Timezone     string           `yaml:"timezone"`
	WorkingHours map[string][]int `yaml:"working_hours"`
	Holidays     HolidayConfig    `yaml:"holidays"`
}

// HolidayConfig lists recurring (yearly) and one-time holiday exclusions.
type HolidayConfig struct {
	Recurring []HolidayEntry `yaml:"recurring"`
	OneTime   []HolidayEntry `yaml:"one_time"`
}

// HolidayEntry is one holiday. Year is only set for one-time entries.
type HolidayEntry struct {
	Name  string `yaml:"name"`
	Year  int    `yaml:"year,omitempty"`
	Month int    `yaml:"month"`
	Day   int    `yaml:"day"`
}

var dayNames = map[string]time.Weekday{
	"Mon": time.Monday,
	"Tue": time.Tuesday,
	"Wed": time.Wednesday,
	"Thu": time.Thursday,
	"Fri": time.Friday,
	"Sat": time.Saturday,
	"Sun": time.Sunday,
}

// Calculator performs business-hours-aware time arithmetic for one calendar.
type Calculator struct {
	cal *cal.BusinessCalendar
	loc *time.Location
}

// NewCalculator builds a calculator from a calendar configuration.
// An empty WorkingHours map yields the rickar/cal defaults (Mon-Fri 9-17).
func NewCalculator(cfg Config) (*Calculator, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}

	c := cal.NewBusinessCalendar()
	if len(cfg.WorkingHours) > 0 {
		applyWorkingHours(cfg.WorkingHours, c)
	}
	for _, h := range cfg.Holidays.Recurring {
		addHoliday(c, h, 0)
	}
	for _, h := range cfg.Holidays.OneTime {
		addHoliday(c, h, h.Year)
	}

	return &Calculator{cal: c, loc: loc}, nil
}

// LoadConfigFile parses a YAML calendar definition.
func LoadConfigFile(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read calendar file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse calendar file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFile parses a YAML calendar file and builds a calculator from it.
func LoadFile(path string) (*Calculator, error) {
	cfg, err := LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	return NewCalculator(cfg)
}

// applyWorkingHours marks workdays and derives the contiguous working window
// from the per-day hour lists.
func applyWorkingHours(hours map[string][]int, c *cal.BusinessCalendar) {
	minHour, maxHour := 24, -1

	for name, wd := range dayNames {
		list, ok := hours[name]
		if !ok || len(list) == 0 {
			c.SetWorkday(wd, false)
			continue
		}
		c.SetWorkday(wd, true)
		for _, h := range list {
			if h < minHour {
				minHour = h
			}
			if h > maxHour {
				maxHour = h
			}
		}
	}

	// End time is the end of the last listed working hour.
	if minHour < 24 && maxHour >= 0 {
		c.SetWorkHours(time.Duration(minHour)*time.Hour, time.Duration(maxHour+1)*time.Hour)
	}
}

func addHoliday(c *cal.BusinessCalendar, h HolidayEntry, year int) {
	if h.Month < 1 || h.Month > 12 || h.Day < 1 || h.Day > 31 {
		return
	}
	holiday := &cal.Holiday{
		Name:  h.Name,
		Type:  cal.ObservancePublic,
		Month: time.Month(h.Month),
		Day:   h.Day,
		Func:  cal.CalcDayOfMonth,
	}
	if year > 0 {
		holiday.StartYear = year
		holiday.EndYear = year
	}
	c.AddHoliday(holiday)
}

// AddMinutes adds the given minute budget to start. With businessHoursOnly,
// minutes only accrue inside the configured working windows; time outside a
// window is skipped forward. A zero budget returns start unchanged; a
// negative budget is rejected with ErrInvalidDuration.
func (c *Calculator) AddMinutes(start time.Time, minutes int, businessHoursOnly bool) (time.Time, error) {
	if minutes < 0 {
		return time.Time{}, fmt.Errorf("%w: %d minutes", slaerr.ErrInvalidDuration, minutes)
	}
	if minutes == 0 {
		return start, nil
	}
	if !businessHoursOnly {
		return start.Add(time.Duration(minutes) * time.Minute), nil
	}
	return c.cal.AddWorkHours(start.In(c.loc), time.Duration(minutes)*time.Minute), nil
}

// MinutesBetween counts the minutes between start and end. With
// businessHoursOnly it counts only minutes inside working windows, making it
// the inverse of AddMinutes for ends on a business-hour boundary.
func (c *Calculator) MinutesBetween(start, end time.Time, businessHoursOnly bool) int {
	if !end.After(start) {
		return 0
	}
	if !businessHoursOnly {
		return int(end.Sub(start).Minutes())
	}
	return int(c.cal.WorkHoursInRange(start.In(c.loc), end.In(c.loc)).Minutes())
}

// IsBusinessHour reports whether t falls inside a working window.
func (c *Calculator) IsBusinessHour(t time.Time) bool {
	return c.cal.IsWorkTime(t.In(c.loc))
}

// NextBusinessDay returns the start of the next working day after t,
// skipping weekends and holidays.
func (c *Calculator) NextBusinessDay(t time.Time) time.Time {
	day := t.In(c.loc)
	for i := 0; i < 366; i++ {
		day = day.AddDate(0, 0, 1)
		if c.cal.IsWorkday(day) {
			return c.cal.WorkdayStart(day)
		}
	}
	return day
}
