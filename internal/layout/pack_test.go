package layout

import (
	"math/rand"
	"testing"
	"time"

	"promocal/internal/model"
)

func day(d int) time.Time {
	return time.Date(2025, time.March, d, 0, 0, 0, 0, time.UTC)
}

func span(id string, from, to int) Interval {
	return Interval{ID: id, Start: day(from), End: day(to)}
}

func TestPackScenario(t *testing.T) {
	got := Pack([]Interval{span("A", 1, 5), span("B", 3, 7), span("C", 6, 10)})

	want := map[string]int{"A": 0, "B": 1, "C": 0}
	for id, row := range want {
		if got.Rows[id] != row {
			t.Errorf("row(%s) = %d, want %d", id, got.Rows[id], row)
		}
	}
	if got.RowCount != 2 {
		t.Errorf("RowCount = %d, want 2", got.RowCount)
	}
}

func TestPackTouchingEndpointsOverlap(t *testing.T) {
	got := Pack([]Interval{span("A", 1, 5), span("B", 5, 9)})
	if got.Rows["A"] == got.Rows["B"] {
		t.Errorf("back-to-back intervals share row %d", got.Rows["A"])
	}
}

func TestPackFollowsInputOrder(t *testing.T) {
	// Not date-sorted: the later interval claims row 0 first.
	got := Pack([]Interval{span("late", 10, 12), span("early", 1, 11), span("mid", 13, 14)})
	if got.Rows["late"] != 0 || got.Rows["early"] != 1 || got.Rows["mid"] != 0 {
		t.Errorf("rows = %v", got.Rows)
	}
}

func TestPackNoSameRowOverlap(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		ivs := make([]Interval, 0, 30)
		for i := 0; i < 30; i++ {
			from := 1 + rnd.Intn(28)
			to := from + rnd.Intn(5)
			ivs = append(ivs, span(string(rune('a'+i)), from, to))
		}

		a := Pack(ivs)
		for i := range ivs {
			for j := i + 1; j < len(ivs); j++ {
				if a.Rows[ivs[i].ID] == a.Rows[ivs[j].ID] && Overlaps(ivs[i], ivs[j]) {
					t.Fatalf("round %d: %v and %v overlap on row %d", round, ivs[i], ivs[j], a.Rows[ivs[i].ID])
				}
			}
		}

		again := Pack(ivs)
		for id, r := range a.Rows {
			if again.Rows[id] != r {
				t.Fatalf("round %d: non-deterministic row for %s", round, id)
			}
		}
	}
}

func TestPackerMemoRecomputesOnChange(t *testing.T) {
	p := NewPacker()
	key := BucketKey{Project: "P", RowType: "T"}

	first := p.Assign(key, []Interval{span("A", 1, 5), span("B", 3, 7)})
	if first.Rows["B"] != 1 {
		t.Fatalf("B row = %d, want 1", first.Rows["B"])
	}

	second := p.Assign(key, []Interval{span("A", 1, 2), span("B", 3, 7)})
	if second.Rows["B"] != 0 {
		t.Errorf("after change, B row = %d, want 0", second.Rows["B"])
	}
}

func TestClip(t *testing.T) {
	ms := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	me := time.Date(2025, time.March, 31, 23, 59, 59, 0, time.UTC)

	tests := []struct {
		name               string
		iv                 Interval
		from, to           int
		truncS, truncE, ok bool
	}{
		{"inside", span("a", 3, 9), 3, 9, false, false, true},
		{"starts before", Interval{ID: "b", Start: ms.AddDate(0, 0, -4), End: day(2)}, 1, 2, true, false, true},
		{"ends after", Interval{ID: "c", Start: day(30), End: ms.AddDate(0, 1, 3)}, 30, 31, false, true, true},
		{"outside", Interval{ID: "d", Start: ms.AddDate(0, 1, 1), End: ms.AddDate(0, 1, 3)}, 0, 0, false, false, false},
	}
	for _, tt := range tests {
		from, to, ts, te, ok := Clip(tt.iv, ms, me)
		if from != tt.from || to != tt.to || ts != tt.truncS || te != tt.truncE || ok != tt.ok {
			t.Errorf("%s: Clip = (%d, %d, %v, %v, %v)", tt.name, from, to, ts, te, ok)
		}
	}
}

func TestBucketsGrouping(t *testing.T) {
	vocab := model.NewVocabulary([]string{"Турниры"}, []string{"Push"})
	events := []model.PromoEvent{
		{
			ID: "1", Projects: []string{"X", "Y"}, PromoType: "Турниры", Start: day(1), End: day(3),
			InfoChannels: []model.InfoChannel{{ID: "c1", Type: "Push", Start: day(2)}},
		},
		{ID: "2", Projects: []string{"X"}, PromoType: "unknown", Start: day(1), End: day(2)},
	}
	channels := []model.InfoChannel{
		{ID: "c1", Type: "Push", Project: "X", Start: day(2)},
		{ID: "c2", Type: "Push", Project: "X", Start: day(4)},
	}

	b := Buckets(events, channels, vocab)
	if n := len(b[BucketKey{"X", "Турниры"}]); n != 1 {
		t.Errorf("X/Турниры len = %d, want 1", n)
	}
	if n := len(b[BucketKey{"Y", "Турниры"}]); n != 1 {
		t.Errorf("Y/Турниры len = %d, want 1", n)
	}
	push := b[BucketKey{"X", "Push"}]
	if len(push) != 2 || push[0].Channel.EventID != "1" || !push[1].Channel.Standalone() {
		t.Errorf("X/Push = %+v", push)
	}
	if _, ok := b[BucketKey{"X", "unknown"}]; ok {
		t.Errorf("unconfigured row type was bucketed")
	}
}

func TestSanitizeDropsMalformed(t *testing.T) {
	events := []model.PromoEvent{
		{ID: "ok", Start: day(1), End: day(2)},
		{ID: "zero", End: day(2)},
		{ID: "reversed", Start: day(5), End: day(2)},
	}
	channels := []model.InfoChannel{{ID: "c"}, {ID: "d", Start: day(3)}}

	ev, ch := Sanitize(events, channels)
	if len(ev) != 1 || ev[0].ID != "ok" {
		t.Errorf("events = %+v", ev)
	}
	if len(ch) != 1 || ch[0].ID != "d" {
		t.Errorf("channels = %+v", ch)
	}
}
