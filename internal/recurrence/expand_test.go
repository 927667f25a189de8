package recurrence

import (
	"testing"
	"time"

	"promocal/internal/model"
)

func march() Config {
	return Config{
		RangeStart: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2025, 3, 31, 23, 59, 59, 0, time.UTC),
	}
}

func TestExpandWeekly(t *testing.T) {
	tmpl := model.PromoEvent{
		ID:         "t1",
		Name:       "weekly",
		Start:      time.Date(2025, 2, 24, 10, 0, 0, 0, time.UTC), // Monday
		End:        time.Date(2025, 2, 25, 12, 0, 0, 0, time.UTC),
		Recurrence: "FREQ=WEEKLY;BYDAY=MO",
		InfoChannels: []model.InfoChannel{
			{ID: "c1", Type: "Push", Start: time.Date(2025, 2, 24, 9, 0, 0, 0, time.UTC)},
		},
	}
	plain := model.PromoEvent{ID: "p", Start: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)}

	res, err := Expand([]model.PromoEvent{plain, tmpl}, march())
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	if res.Events[0].ID != "p" || res.Events[0].IsRecurring {
		t.Errorf("plain event changed: %+v", res.Events[0])
	}
	occ := res.Events[1:]
	// Mondays 3, 10, 17, 24, 31 March.
	if len(occ) != 5 {
		t.Fatalf("occurrences = %d, want 5", len(occ))
	}
	seen := map[string]bool{}
	for _, o := range occ {
		if !o.IsRecurring || o.ID != "t1" || o.OccurrenceID == "" {
			t.Errorf("occurrence = %+v", o)
		}
		if seen[o.OccurrenceID] {
			t.Errorf("duplicate occurrence id %s", o.OccurrenceID)
		}
		seen[o.OccurrenceID] = true
		if o.End.Sub(o.Start) != 26*time.Hour {
			t.Errorf("duration = %v", o.End.Sub(o.Start))
		}
		if len(o.InfoChannels) != 1 || o.InfoChannels[0].Start.Sub(o.Start) != -time.Hour {
			t.Errorf("channel not shifted with occurrence: %+v", o.InfoChannels)
		}
		if ch := o.InfoChannels[0]; ch.ID != "c1" || ch.OccurrenceID == "" || ch.LayoutID() == "c1" {
			t.Errorf("occurrence channel ids: id = %q, occurrence = %q", ch.ID, ch.OccurrenceID)
		}
	}
	if occ[0].Start.Day() != 3 || occ[0].Start.Hour() != 10 {
		t.Errorf("first occurrence = %v", occ[0].Start)
	}
}

func TestExpandIncludesOccurrenceReachingIntoWindow(t *testing.T) {
	tmpl := model.PromoEvent{
		ID:         "t2",
		Start:      time.Date(2025, 2, 27, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
		Recurrence: "FREQ=MONTHLY;COUNT=2",
	}
	res, err := Expand([]model.PromoEvent{tmpl}, march())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("events = %d, want 2 (Feb 27 reaching March, Mar 27)", len(res.Events))
	}
}

func TestExpandCapAndBadRule(t *testing.T) {
	daily := model.PromoEvent{
		ID:         "d",
		Start:      time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
		End:        time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		Recurrence: "FREQ=DAILY",
	}
	broken := model.PromoEvent{ID: "b", Start: daily.Start, End: daily.End, Recurrence: "FREQ=NEVER"}

	cfg := march()
	cfg.MaxOccurrencesPerEvent = 10
	res, err := Expand([]model.PromoEvent{daily, broken}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 10 {
		t.Errorf("events = %d, want 10", len(res.Events))
	}
	if len(res.Truncated) != 1 || res.Truncated[0] != "d" {
		t.Errorf("Truncated = %v", res.Truncated)
	}
}

func TestExpandStopsRunawayRules(t *testing.T) {
	secondly := model.PromoEvent{
		ID:         "s",
		Start:      time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		Recurrence: "FREQ=SECONDLY",
	}
	old := model.PromoEvent{
		ID:         "o",
		Start:      time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2020, 1, 1, 0, 0, 1, 0, time.UTC),
		Recurrence: "FREQ=MINUTELY",
	}

	cfg := march()
	cfg.MaxOccurrencesPerEvent = 5
	cfg.MaxSkipped = 1000
	res, err := Expand([]model.PromoEvent{secondly, old}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 5 {
		t.Errorf("events = %d, want 5", len(res.Events))
	}
	if len(res.Truncated) != 2 {
		t.Errorf("Truncated = %v, want both templates", res.Truncated)
	}
	if !res.Events[4].Start.Equal(secondly.Start.Add(4 * time.Second)) {
		t.Errorf("last occurrence = %v", res.Events[4].Start)
	}
}

func TestExpandRejectsInvertedRange(t *testing.T) {
	cfg := march()
	cfg.RangeStart, cfg.RangeEnd = cfg.RangeEnd, cfg.RangeStart
	if _, err := Expand(nil, cfg); err == nil {
		t.Errorf("inverted range accepted")
	}
}
