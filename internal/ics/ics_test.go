package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"promocal/internal/model"
	"promocal/internal/timegrid"
)

const holidayFeed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:h1\r\n" +
	"DTSTART;VALUE=DATE:20250308\r\n" +
	"DTEND;VALUE=DATE:20250309\r\n" +
	"SUMMARY:Women's day\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:h2\r\n" +
	"DTSTART;VALUE=DATE:20250501\r\n" +
	"DTEND;VALUE=DATE:20250504\r\n" +
	"SUMMARY:May\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:h3\r\n" +
	"SUMMARY:no start\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseHolidays(t *testing.T) {
	dates := timegrid.Dates{}
	n, err := ParseHolidays(Feed{ID: "ru"}, []byte(holidayFeed), dates)
	if err != nil {
		t.Fatalf("ParseHolidays: %v", err)
	}
	if n != 4 {
		t.Errorf("n = %d, want 4", n)
	}
	for _, d := range []time.Time{
		time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC),
	} {
		if !dates.IsHoliday(d) {
			t.Errorf("%v not marked", d)
		}
	}
	if dates.IsHoliday(time.Date(2025, 5, 4, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("exclusive DTEND marked as holiday")
	}
}

func TestParseHolidaysRejectsEmpty(t *testing.T) {
	if _, err := ParseHolidays(Feed{ID: "x"}, nil, timegrid.Dates{}); err == nil {
		t.Errorf("empty body accepted")
	}
}

func TestFetchOneUsesValidatorsAndCache(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		switch hits {
		case 1:
			w.Header().Set("ETag", `"v1"`)
			_, _ = w.Write([]byte(holidayFeed))
		case 2:
			if r.Header.Get("If-None-Match") != `"v1"` {
				t.Errorf("If-None-Match = %q", r.Header.Get("If-None-Match"))
			}
			w.WriteHeader(http.StatusNotModified)
		default:
			http.Error(w, "down", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	feed := Feed{ID: "ru", URL: srv.URL + "/private/token.ics"}
	ctx := context.Background()

	first, err := f.FetchOne(ctx, feed)
	if err != nil || first.FromCache {
		t.Fatalf("first fetch = %+v, %v", first.FromCache, err)
	}
	for i := 0; i < 2; i++ {
		res, err := f.FetchOne(ctx, feed)
		if err != nil || !res.FromCache || string(res.Body) != holidayFeed {
			t.Fatalf("fetch %d = cache:%v err:%v", i+2, res.FromCache, err)
		}
	}
}

func TestFetchAllReportsFailures(t *testing.T) {
	f := NewFetcher(t.TempDir())
	res, errs := f.FetchAll(context.Background(), []Feed{{ID: "empty"}})
	if len(res) != 0 || len(errs) != 1 {
		t.Errorf("results = %d, errs = %v", len(res), errs)
	}
}

func TestRedactURL(t *testing.T) {
	if got := redactURL("https://cal.example.com/secret/abc.ics?token=1"); got != "https://cal.example.com/...(redacted)" {
		t.Errorf("redactURL = %q", got)
	}
}

func TestExport(t *testing.T) {
	events := []model.PromoEvent{{
		ID: "1", Name: "Spring cup", PromoType: "Турниры", Projects: []string{"X"},
		Comment: "note", Segments: []string{"vip"}, Link: "https://example.com",
		Start: time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC), End: time.Date(2025, 3, 6, 18, 0, 0, 0, time.UTC),
		InfoChannels: []model.InfoChannel{{ID: "c1", Type: "Push", Project: "X", Name: "push", Start: time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)}},
	}}
	out := Export("March", events, nil, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))

	for _, want := range []string{"BEGIN:VCALENDAR", "UID:event-1@promocal", "UID:channel-c1@promocal", "SUMMARY:Spring cup", "DTSTART:20250303T100000Z"} {
		if !strings.Contains(out, want) {
			t.Errorf("export misses %q:\n%s", want, out)
		}
	}
}
