package clipboard

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"promocal/internal/model"
)

type fakeCreator struct {
	events   []model.PromoEvent
	channels []model.InfoChannel
	failOn   map[string]bool
	during   func()
}

func (f *fakeCreator) CreateEvent(_ context.Context, ev model.PromoEvent) error {
	if f.during != nil {
		f.during()
	}
	if f.failOn[ev.Name] {
		return errors.New("boom")
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeCreator) CreateChannel(_ context.Context, ch model.InfoChannel) error {
	if f.failOn[ch.Name] {
		return errors.New("boom")
	}
	f.channels = append(f.channels, ch)
	return nil
}

func ts(d, h, m int) time.Time {
	return time.Date(2025, time.March, d, h, m, 0, 0, time.UTC)
}

func sample() model.PromoEvent {
	return model.PromoEvent{
		ID:            "ev-1",
		Projects:      []string{"X", "Shared"},
		PromoType:     "Турниры",
		PromoKind:     "cup",
		Name:          "Spring cup",
		Comment:       "note",
		Segments:      []string{"vip", "new"},
		Link:          "https://example.com/cup",
		ResponsibleID: "u-7",
		Start:         ts(3, 10, 30),
		End:           ts(6, 18, 15),
		InfoChannels: []model.InfoChannel{
			{ID: "ch-1", Type: "Push", Project: "X", Name: "push", Segments: []string{"vip"}, Start: ts(4, 9, 0), EventID: "ev-1"},
		},
	}
}

// stripIdentity zeroes the fields a paste never reproduces.
func stripIdentity(ev model.PromoEvent) model.PromoEvent {
	ev.ID = ""
	ev.OccurrenceID = ""
	ev.IsRecurring = false
	chs := make([]model.InfoChannel, len(ev.InfoChannels))
	for i, ch := range ev.InfoChannels {
		ch.ID = ""
		ch.EventID = ""
		chs[i] = ch
	}
	ev.InfoChannels = chs
	return ev
}

func TestCopyPasteZeroShiftReproducesFields(t *testing.T) {
	fc := &fakeCreator{}
	e := New(fc, nil)
	src := sample()

	e.CopyEvent(src, "X", true)
	rep, err := e.Paste(context.Background(), Target{Project: "X", Start: ts(3, 0, 0)})
	if err != nil {
		t.Fatalf("Paste: %v", err)
	}
	if !rep.OK() || rep.Created != 1 || rep.DeltaDays != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if got, want := fc.events[0], stripIdentity(src); !reflect.DeepEqual(got, want) {
		t.Errorf("pasted =\n%+v\nwant\n%+v", got, want)
	}
}

func TestPasteShiftsByWholeDays(t *testing.T) {
	fc := &fakeCreator{}
	e := New(fc, nil)
	src := sample()

	e.CopyEvent(src, "X", true)
	// Target time-of-day is ignored: only the calendar day counts.
	rep, err := e.Paste(context.Background(), Target{Project: "Y", Start: ts(13, 23, 59)})
	if err != nil {
		t.Fatal(err)
	}
	if rep.DeltaDays != 10 {
		t.Fatalf("DeltaDays = %d, want 10", rep.DeltaDays)
	}

	got := fc.events[0]
	if !got.Start.Equal(ts(13, 10, 30)) || !got.End.Equal(ts(16, 18, 15)) {
		t.Errorf("shifted = %v .. %v", got.Start, got.End)
	}
	if got.End.Sub(got.Start) != src.End.Sub(src.Start) {
		t.Errorf("duration changed")
	}
	if !reflect.DeepEqual(got.Projects, []string{"Y", "Shared"}) {
		t.Errorf("projects = %v", got.Projects)
	}
	if len(got.InfoChannels) != 1 || !got.InfoChannels[0].Start.Equal(ts(14, 9, 0)) || got.InfoChannels[0].Project != "Y" {
		t.Errorf("channels = %+v", got.InfoChannels)
	}
}

func TestCopyRangeAndRegroup(t *testing.T) {
	fc := &fakeCreator{}
	e := New(fc, nil)

	a := sample()
	b := sample()
	b.ID, b.Name, b.Start, b.End = "ev-2", "late", ts(20, 0, 0), ts(22, 0, 0)
	b.InfoChannels = []model.InfoChannel{{ID: "ch-2", Type: "Push", Project: "X", Name: "late push", Start: ts(21, 0, 0)}}
	other := sample()
	other.ID, other.Name, other.PromoType = "ev-3", "other row", "Акции"

	buf, err := e.CopyRange(Range{Project: "X", RowType: "Турниры", Start: ts(1, 0, 0), End: ts(10, 23, 59)},
		[]model.PromoEvent{a, b, other}, nil, true)
	if err != nil {
		t.Fatalf("CopyRange: %v", err)
	}
	if len(buf.Items) != 2 || buf.Items[1].Parent != 0 {
		t.Fatalf("items = %+v", buf.Items)
	}

	if _, err := e.Paste(context.Background(), Target{Project: "X", Start: ts(2, 0, 0)}); err != nil {
		t.Fatal(err)
	}
	if len(fc.events) != 1 || len(fc.events[0].InfoChannels) != 1 || len(fc.channels) != 0 {
		t.Errorf("events = %+v, standalone = %+v", fc.events, fc.channels)
	}
	if !fc.events[0].Start.Equal(ts(4, 10, 30)) {
		t.Errorf("start = %v, want shifted by one day", fc.events[0].Start)
	}
}

func TestCopyChannelRowPastesStandalone(t *testing.T) {
	fc := &fakeCreator{}
	e := New(fc, nil)
	standalone := []model.InfoChannel{
		{ID: "s1", Type: "Push", Project: "X", Name: "solo", Start: ts(5, 12, 0)},
		{ID: "ch-1", Type: "Push", Project: "X", Name: "dup", Start: ts(4, 9, 0)},
	}

	buf, err := e.CopyRange(Range{Project: "X", RowType: "Push", Start: ts(4, 0, 0), End: ts(5, 23, 59)},
		[]model.PromoEvent{sample()}, standalone, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(buf.Items) != 2 {
		t.Fatalf("items = %+v, want embedded push + solo", buf.Items)
	}

	if _, err := e.Paste(context.Background(), Target{Project: "Z", Start: ts(10, 0, 0)}); err != nil {
		t.Fatal(err)
	}
	if len(fc.channels) != 2 || fc.channels[0].Project != "Z" || !fc.channels[1].Start.Equal(ts(11, 12, 0)) {
		t.Errorf("channels = %+v", fc.channels)
	}
}

func TestCopyRangeEmptyKeepsBuffer(t *testing.T) {
	e := New(&fakeCreator{}, nil)
	first := e.CopyEvent(sample(), "X", false)

	if _, err := e.CopyRange(Range{Project: "nowhere", RowType: "Турниры", Start: ts(1, 0, 0), End: ts(2, 0, 0)}, nil, nil, true); !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}
	if b, _ := e.Buffer(); b.ID != first.ID {
		t.Errorf("buffer overwritten by empty copy")
	}
}

func TestPasteFailsForwardAndReloads(t *testing.T) {
	fc := &fakeCreator{failOn: map[string]bool{"b": true}}
	reloads := 0
	e := New(fc, func(context.Context) { reloads++ })

	evs := []model.PromoEvent{sample(), sample(), sample()}
	for i, name := range []string{"a", "b", "c"} {
		evs[i].Name = name
		evs[i].InfoChannels = nil
	}
	if _, err := e.CopyRange(Range{Project: "X", RowType: "Турниры", Start: ts(1, 0, 0), End: ts(31, 0, 0)}, evs, nil, false); err != nil {
		t.Fatal(err)
	}

	rep, err := e.Paste(context.Background(), Target{Project: "X", Start: ts(1, 0, 0)})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Created != 2 || rep.Failed != 1 || !rep.Partial() || rep.OK() {
		t.Errorf("report = %+v", rep)
	}
	if len(fc.events) != 2 || fc.events[0].Name != "a" || fc.events[1].Name != "c" {
		t.Errorf("created = %+v", fc.events)
	}
	if reloads != 1 {
		t.Errorf("reloads = %d, want 1", reloads)
	}
}

func TestPasteGuards(t *testing.T) {
	fc := &fakeCreator{}
	e := New(fc, nil)

	if _, err := e.Paste(context.Background(), Target{Project: "X", Start: ts(1, 0, 0)}); !errors.Is(err, ErrEmpty) {
		t.Errorf("empty paste err = %v", err)
	}

	e.CopyEvent(sample(), "X", false)
	var reentrant error
	fc.during = func() {
		_, reentrant = e.Paste(context.Background(), Target{Project: "X", Start: ts(1, 0, 0)})
	}
	if _, err := e.Paste(context.Background(), Target{Project: "X", Start: ts(1, 0, 0)}); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(reentrant, ErrPasteInProgress) {
		t.Errorf("re-entrant paste err = %v, want ErrPasteInProgress", reentrant)
	}
	if e.Pasting() {
		t.Errorf("guard not released")
	}
}

func TestCopyOccurrenceDropsRule(t *testing.T) {
	e := New(&fakeCreator{}, nil)
	occ := sample()
	occ.Recurrence = "FREQ=WEEKLY"
	occ.IsRecurring = true
	occ.OccurrenceID = "ev-1@20250303T103000Z"

	b := e.CopyEvent(occ, "X", false)
	if b.Items[0].Recurrence != "" {
		t.Errorf("occurrence copy kept its rule")
	}
}

func TestDeltaDays(t *testing.T) {
	tests := []struct {
		from, to time.Time
		want     int
	}{
		{ts(3, 23, 0), ts(4, 1, 0), 1},
		{ts(4, 1, 0), ts(3, 23, 0), -1},
		{ts(1, 0, 0), time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), 31},
		{ts(5, 10, 0), ts(5, 0, 0), 0},
	}
	for _, tt := range tests {
		if got := DeltaDays(tt.from, tt.to); got != tt.want {
			t.Errorf("DeltaDays(%v, %v) = %d, want %d", tt.from, tt.to, got, tt.want)
		}
	}
}
