package sla

import (
	"time"

	"github.com/spec-kit/grievance-engine/internal/config"
	apperrors "github.com/spec-kit/grievance-engine/pkg/util"
)

const dateLayout = "2006-01-02"

// Calendar converts wall-clock ranges into elapsed working time. Only
// minutes inside the business window (start–end hour on working days,
// holidays excluded entirely) count. Pure; safe for concurrent use.
type Calendar struct {
	startHour   int
	endHour     int
	workingDays map[time.Weekday]bool
	holidays    map[string]bool
}

// NewCalendar builds a calendar from configuration.
func NewCalendar(cfg config.CalendarConfig) *Calendar {
	days := make(map[time.Weekday]bool, len(cfg.WorkingDays))
	for _, d := range cfg.WorkingDays {
		days[d] = true
	}
	holidays := make(map[string]bool, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		holidays[h] = true
	}
	return &Calendar{
		startHour:   cfg.StartHour,
		endHour:     cfg.EndHour,
		workingDays: days,
		holidays:    holidays,
	}
}

// IsWorkingDay reports whether the calendar counts any time on the given day.
func (c *Calendar) IsWorkingDay(t time.Time) bool {
	if !c.workingDays[t.Weekday()] {
		return false
	}
	return !c.holidays[t.Format(dateLayout)]
}

// WorkingDuration returns the working time elapsed between from and to.
// WorkingDuration(t, t) is zero; to before from is an INVALID_RANGE error.
func (c *Calendar) WorkingDuration(from, to time.Time) (time.Duration, error) {
	if to.Before(from) {
		return 0, apperrors.NewInvalidRange("end of range precedes start", map[string]any{
			"from": from,
			"to":   to,
		})
	}
	to = to.In(from.Location())

	var total time.Duration
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	for !day.After(to) {
		if c.IsWorkingDay(day) {
			windowStart := day.Add(time.Duration(c.startHour) * time.Hour)
			windowEnd := day.Add(time.Duration(c.endHour) * time.Hour)
			total += overlap(from, to, windowStart, windowEnd)
		}
		day = day.AddDate(0, 0, 1)
	}
	return total, nil
}

// WorkingHours is WorkingDuration expressed in fractional hours.
func (c *Calendar) WorkingHours(from, to time.Time) (float64, error) {
	d, err := c.WorkingDuration(from, to)
	if err != nil {
		return 0, err
	}
	return d.Hours(), nil
}

func overlap(from, to, windowStart, windowEnd time.Time) time.Duration {
	if from.After(windowStart) {
		windowStart = from
	}
	if to.Before(windowEnd) {
		windowEnd = to
	}
	if !windowEnd.After(windowStart) {
		return 0
	}
	return windowEnd.Sub(windowStart)
}
