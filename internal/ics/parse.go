// Package ics reads holiday feeds and exports promo events as iCalendar.
package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "promocal/internal/log"
	"promocal/internal/timegrid"
)

// maxHolidaySpanDays guards against feeds with absurd DTEND values.
const maxHolidaySpanDays = 60

// ParseHolidays collects the calendar dates covered by the feed's VEVENTs.
// All-day events mark [DTSTART, DTEND) with DTEND exclusive; timed events
// mark the date of DTSTART. Unusable VEVENTs are logged and skipped.
func ParseHolidays(feed Feed, body []byte, into timegrid.Dates) (int, error) {
	if len(body) == 0 {
		return 0, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", feed.ID, "url", redactURL(feed.URL))
		return 0, err
	}

	n := 0
	for _, ve := range cal.Events() {
		dates, perr := holidayDates(ve)
		if perr != nil {
			appLog.Warn("ics: skipping vevent", "id", feed.ID, "err", perr)
			continue
		}
		for _, d := range dates {
			into.Add(d)
			n++
		}
	}

	appLog.Info("ics holidays parsed", "id", feed.ID, "dates", n)
	return n, nil
}

func holidayDates(ve *ical.VEvent) ([]time.Time, error) {
	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil || startProp.Value == "" {
		return nil, errors.New("missing DTSTART")
	}
	start, err := parseICSTime(startProp.Value)
	if err != nil {
		return nil, err
	}
	start = truncateDay(start)

	end := start.AddDate(0, 0, 1)
	if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil && isDateValue(endProp) {
		if e, err := parseICSTime(endProp.Value); err == nil && e.After(start) {
			end = truncateDay(e)
		}
	}

	var out []time.Time
	for d := start; d.Before(end) && len(out) < maxHolidaySpanDays; d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out, nil
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// parseICSTime parses the basic DATE / DATE-TIME / UTC forms. Floating
// times are read as UTC: only the calendar date matters for holidays.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, time.UTC)
	}
	return time.ParseInLocation("20060102", v, time.UTC)
}
