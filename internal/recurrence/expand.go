// Package recurrence expands recurring promo templates into occurrences.
//
// Expansion happens here, on the client, for the display window only. The
// service stores and returns templates carrying an RRULE; it is never asked
// for pre-expanded data.
package recurrence

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "promocal/internal/log"
	"promocal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 500
	defaultMaxSkipped             = 100000
)

// Config controls one expansion pass.
type Config struct {
	// RangeStart / RangeEnd bound the display window (inclusive).
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps runaway rules. Zero means the default.
	MaxOccurrencesPerEvent int
	// MaxSkipped bounds how many occurrences before the window are walked
	// past. Zero means the default.
	MaxSkipped int
}

// Result carries the expanded events.
type Result struct {
	Events []model.PromoEvent
	// Truncated lists template ids that hit the occurrence cap.
	Truncated []string
}

// Expand replaces every template (non-empty Recurrence) with its occurrences
// overlapping the window. Other events pass through unchanged and in order.
// Templates with an unparseable rule are dropped with a logged error.
func Expand(events []model.PromoEvent, cfg Config) (Result, error) {
	var res Result
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return res, errors.New("recurrence: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}
	if cfg.MaxSkipped <= 0 {
		cfg.MaxSkipped = defaultMaxSkipped
	}

	res.Events = make([]model.PromoEvent, 0, len(events))
	for _, ev := range events {
		if ev.Recurrence == "" {
			res.Events = append(res.Events, ev)
			continue
		}
		occ, hitCap, err := expandTemplate(ev, cfg)
		if err != nil {
			appLog.Error("recurrence: failed to parse rule", err, "id", ev.ID, "rrule", ev.Recurrence)
			continue
		}
		if hitCap {
			res.Truncated = append(res.Truncated, ev.ID)
			appLog.Warn("recurrence: occurrences truncated", "id", ev.ID, "cap", cfg.MaxOccurrencesPerEvent)
		}
		res.Events = append(res.Events, occ...)
	}
	return res, nil
}

func expandTemplate(ev model.PromoEvent, cfg Config) ([]model.PromoEvent, bool, error) {
	opt, err := rrule.StrToROption(ev.Recurrence)
	if err != nil {
		return nil, false, err
	}
	opt.Dtstart = ev.Start.UTC()
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, false, err
	}

	dur := ev.End.Sub(ev.Start)
	// An occurrence starting before the window may still reach into it.
	from := cfg.RangeStart.Add(-dur)

	var out []model.PromoEvent
	skipped := 0
	next := r.Iterator()
	for {
		s, ok := next()
		if !ok || s.After(cfg.RangeEnd) {
			return out, false, nil
		}
		if s.Before(from) {
			skipped++
			if skipped > cfg.MaxSkipped {
				return out, true, nil
			}
			continue
		}
		if len(out) == cfg.MaxOccurrencesPerEvent {
			return out, true, nil
		}
		out = append(out, occurrence(ev, s.UTC(), dur))
	}
}

// occurrence builds the virtual instance of ev starting at start. Owned
// channels move by the same offset.
func occurrence(ev model.PromoEvent, start time.Time, dur time.Duration) model.PromoEvent {
	shift := start.Sub(ev.Start)
	stamp := start.Format("20060102T150405Z")

	occ := ev
	occ.Start = start
	occ.End = start.Add(dur)
	occ.IsRecurring = true
	occ.OccurrenceID = ev.ID + "@" + stamp
	occ.InfoChannels = make([]model.InfoChannel, 0, len(ev.InfoChannels))
	for _, ch := range ev.InfoChannels {
		ch.Start = ch.Start.Add(shift)
		if ch.ID != "" {
			ch.OccurrenceID = ch.ID + "@" + stamp
		}
		occ.InfoChannels = append(occ.InfoChannels, ch)
	}
	return occ
}
