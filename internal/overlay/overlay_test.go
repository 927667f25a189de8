package overlay

import (
	"context"
	"testing"
	"time"

	"promocal/internal/layout"
	"promocal/internal/measure"
	"promocal/internal/model"
)

// gridLookuper fakes a rendered grid: 31 cells of 30px per row type, row
// types stacked 100px apart, container at (10, 20).
type gridLookuper struct {
	missing map[measure.Slot]bool
	fail    map[string]bool
}

func (g gridLookuper) Lookup(_ context.Context, project string) (measure.Entry, error) {
	if g.fail[project] {
		return measure.Entry{}, measure.ErrNoContainer
	}
	cells := make(map[measure.Slot]measure.Rect)
	for i, rt := range []string{"Турниры", "Push"} {
		for d := 1; d <= 31; d++ {
			s := measure.Slot{RowType: rt, Day: d}
			if g.missing[s] {
				continue
			}
			left := 10 + 100 + float64(d-1)*30
			top := 20 + float64(i)*100
			cells[s] = measure.Rect{Left: left, Top: top, Right: left + 30, Bottom: top + 100}
		}
	}
	return measure.Entry{Measurement: measure.Measurement{
		Container: measure.Rect{Left: 10, Top: 20, Right: 1200, Bottom: 800},
		Cells:     cells,
	}}, nil
}

func at(m time.Month, d int) time.Time {
	return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC)
}

func frame(events []model.PromoEvent, channels []model.InfoChannel) Frame {
	vocab := model.NewVocabulary([]string{"Турниры"}, []string{"Push"})
	return Frame{
		Year:     2025,
		Month:    time.March,
		Projects: []string{"X"},
		RowTypes: vocab.RowTypes(),
		Buckets:  layout.Buckets(events, channels, vocab),
	}
}

func TestRenderGeometry(t *testing.T) {
	events := []model.PromoEvent{
		{ID: "A", Name: "a", Projects: []string{"X"}, PromoType: "Турниры", Start: at(3, 1), End: at(3, 5)},
		{ID: "B", Name: "b", Projects: []string{"X"}, PromoType: "Турниры", Start: at(3, 3), End: at(3, 7)},
	}
	r := NewRenderer(gridLookuper{}, nil, 24, 2)
	bars := r.Render(context.Background(), frame(events, nil))

	if len(bars) != 2 {
		t.Fatalf("len(bars) = %d, want 2", len(bars))
	}
	a, b := bars[0], bars[1]
	if a.Left != 100 || a.Width != 150 || a.Top != 2 || a.Row != 0 {
		t.Errorf("A = %+v", a)
	}
	if b.Left != 160 || b.Width != 150 || b.Top != 26 || b.Row != 1 {
		t.Errorf("B = %+v", b)
	}
	if a.Height != 20 {
		t.Errorf("Height = %v, want 20", a.Height)
	}
}

func TestRenderClipsAndMarksTruncation(t *testing.T) {
	events := []model.PromoEvent{
		{ID: "span", Projects: []string{"X"}, PromoType: "Турниры", Start: at(2, 20), End: at(4, 2)},
		{ID: "gone", Projects: []string{"X"}, PromoType: "Турниры", Start: at(4, 3), End: at(4, 9)},
	}
	bars := NewRenderer(gridLookuper{}, nil, 24, 2).Render(context.Background(), frame(events, nil))

	if len(bars) != 1 {
		t.Fatalf("len(bars) = %d, want 1", len(bars))
	}
	b := bars[0]
	if b.StartDay != 1 || b.EndDay != 31 || !b.TruncatedStart || !b.TruncatedEnd {
		t.Errorf("bar = %+v", b)
	}
	if b.Width != 31*30 {
		t.Errorf("Width = %v, want %v", b.Width, 31*30)
	}
}

func TestRenderSkipsUnmeasuredCells(t *testing.T) {
	events := []model.PromoEvent{
		{ID: "A", Projects: []string{"X"}, PromoType: "Турниры", Start: at(3, 1), End: at(3, 5)},
		{ID: "B", Projects: []string{"X"}, PromoType: "Турниры", Start: at(3, 10), End: at(3, 12)},
	}
	g := gridLookuper{missing: map[measure.Slot]bool{{RowType: "Турниры", Day: 5}: true}}
	bars := NewRenderer(g, nil, 24, 2).Render(context.Background(), frame(events, nil))

	if len(bars) != 1 || bars[0].ID != "B" {
		t.Errorf("bars = %+v, want only B", bars)
	}
}

func TestRenderSkipsCollapsedAndUnrendered(t *testing.T) {
	events := []model.PromoEvent{
		{ID: "A", Projects: []string{"X", "Y"}, PromoType: "Турниры", Start: at(3, 1), End: at(3, 5)},
	}
	channels := []model.InfoChannel{{ID: "c", Type: "Push", Project: "X", Start: at(3, 4)}}

	f := frame(events, channels)
	f.Projects = []string{"X", "Y"}
	f.Collapsed = func(project, rowType string) bool { return rowType == "Турниры" }

	g := gridLookuper{fail: map[string]bool{"Y": true}}
	bars := NewRenderer(g, nil, 24, 2).Render(context.Background(), f)

	if len(bars) != 1 || bars[0].Kind != layout.KindChannel || bars[0].Top != 102 {
		t.Errorf("bars = %+v, want only the X channel marker", bars)
	}
	if bars[0].Width != 30 {
		t.Errorf("channel width = %v, want one cell", bars[0].Width)
	}
}
