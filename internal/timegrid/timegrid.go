// Package timegrid derives the day columns of a displayed month.
package timegrid

import (
	"time"

	"promocal/internal/model"
)

var weekdayLabels = [...]string{"Вс", "Пн", "Вт", "Ср", "Чт", "Пт", "Сб"}

// HolidaySet reports whether a calendar date is a public holiday.
type HolidaySet interface {
	IsHoliday(date time.Time) bool
}

// Dates is a HolidaySet backed by "2006-01-02" keys.
type Dates map[string]struct{}

func (d Dates) IsHoliday(date time.Time) bool {
	_, ok := d[date.Format(time.DateOnly)]
	return ok
}

// Add marks date as a holiday.
func (d Dates) Add(date time.Time) {
	d[date.Format(time.DateOnly)] = struct{}{}
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Month returns the ordered day columns of (year, month). holidays may be nil.
// The result depends only on its arguments.
func Month(year int, month time.Month, holidays HolidaySet) []model.DayColumn {
	n := DaysIn(year, month)
	cols := make([]model.DayColumn, 0, n)
	for day := 1; day <= n; day++ {
		date := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
		wd := date.Weekday()
		col := model.DayColumn{
			Date:    date,
			Day:     day,
			Weekday: weekdayLabels[wd],
			Weekend: wd == time.Saturday || wd == time.Sunday,
		}
		if holidays != nil {
			col.Holiday = holidays.IsHoliday(date)
		}
		cols = append(cols, col)
	}
	return cols
}

// Bounds returns the first instant of the month and the last instant of its
// final day, both UTC.
func Bounds(year int, month time.Month) (time.Time, time.Time) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return start, end
}
