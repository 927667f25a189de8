package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"promocal/internal/model"
)

// Export renders events and standalone channels as an iCalendar document.
// Channels become zero-length events; occurrences use their occurrence id as
// UID so every instance is distinct.
func Export(name string, events []model.PromoEvent, channels []model.InfoChannel, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//promocal//promo calendar//RU")
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, ev := range events {
		ve := cal.AddEvent(uid("event", ev.LayoutID()))
		ve.SetDtStampTime(stamp)
		ve.SetStartAt(ev.Start.UTC())
		ve.SetEndAt(ev.End.UTC())
		ve.SetSummary(ev.Name)
		if desc := description(ev.Comment, ev.Segments); desc != "" {
			ve.SetDescription(desc)
		}
		if ev.Link != "" {
			ve.SetURL(ev.Link)
		}
		ve.AddProperty(ical.ComponentPropertyCategories, ev.PromoType)
		ve.AddProperty(ical.ComponentPropertyLocation, strings.Join(ev.Projects, ", "))

		for _, ch := range ev.InfoChannels {
			addChannel(cal, ch, stamp)
		}
	}
	for _, ch := range channels {
		addChannel(cal, ch, stamp)
	}
	return cal.Serialize()
}

func addChannel(cal *ical.Calendar, ch model.InfoChannel, stamp time.Time) {
	ve := cal.AddEvent(uid("channel", ch.LayoutID()))
	ve.SetDtStampTime(stamp)
	ve.SetStartAt(ch.Start.UTC())
	ve.SetEndAt(ch.Start.UTC())
	ve.SetSummary(ch.Name)
	if desc := description(ch.Comment, ch.Segments); desc != "" {
		ve.SetDescription(desc)
	}
	if ch.Link != "" {
		ve.SetURL(ch.Link)
	}
	ve.AddProperty(ical.ComponentPropertyCategories, ch.Type)
	ve.AddProperty(ical.ComponentPropertyLocation, ch.Project)
}

func uid(kind, id string) string {
	return kind + "-" + id + "@promocal"
}

func description(comment string, segments []string) string {
	parts := make([]string, 0, 2)
	if comment != "" {
		parts = append(parts, comment)
	}
	if len(segments) > 0 {
		parts = append(parts, "Сегменты: "+strings.Join(segments, ", "))
	}
	return strings.Join(parts, "\n")
}
