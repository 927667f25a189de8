package virtual

import (
	"fmt"
	"testing"
	"time"
)

func projects(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("p%02d", i)
	}
	return out
}

func contains(list []string, p string) bool {
	for _, x := range list {
		if x == p {
			return true
		}
	}
	return false
}

func TestLastProjectIncludedBeforeAnyReport(t *testing.T) {
	c := New(DefaultOptions())
	c.SetProjects(projects(40))

	got := c.ProjectsToRender()
	if !contains(got, "p39") {
		t.Errorf("render set %v misses the last project", got)
	}
	if !contains(got, "p00") || !contains(got, "p02") || contains(got, "p03") {
		t.Errorf("initial window = %v, want p00..p02 plus p39", got)
	}
}

func TestVisibleWindowAndCap(t *testing.T) {
	c := New(DefaultOptions())
	c.SetProjects(projects(40))
	c.Report(
		Report{Project: "p10", Intersecting: true, Ratio: 0.5},
		Report{Project: "p11", Intersecting: true, Ratio: 1},
	)
	if !c.Frame() {
		t.Fatal("Frame reported no change")
	}

	got := c.ProjectsToRender()
	if len(got) != DefaultMaxMounted {
		t.Fatalf("len = %d (%v), want %d", len(got), got, DefaultMaxMounted)
	}
	for _, want := range []string{"p09", "p10", "p11", "p12", "p39"} {
		if !contains(got, want) {
			t.Errorf("render set %v misses %s", got, want)
		}
	}
}

func TestLastProjectNeverEvicted(t *testing.T) {
	c := New(Options{Buffer: 2, MaxMounted: 3})
	c.SetProjects(projects(20))
	for i := 0; i < 10; i++ {
		c.Report(Report{Project: fmt.Sprintf("p%02d", i), Intersecting: true, Ratio: 1})
	}
	c.Frame()

	got := c.ProjectsToRender()
	if len(got) != 3 || !contains(got, "p19") {
		t.Errorf("render set = %v, want 3 entries including p19", got)
	}
}

func TestFrameCoalescesReports(t *testing.T) {
	c := New(DefaultOptions())
	c.SetProjects(projects(30))
	c.Report(
		Report{Project: "p20", Intersecting: true, Ratio: 1},
		Report{Project: "p20", Intersecting: false},
	)
	before := c.ProjectsToRender()
	c.Frame()
	after := c.ProjectsToRender()

	if contains(after, "p20") {
		t.Errorf("p20 rendered although its last report was not intersecting")
	}
	if len(before) != len(after) {
		t.Errorf("render set changed: %v -> %v", before, after)
	}
	if c.Frame() {
		t.Errorf("empty frame reported a change")
	}
}

func TestPlaceholderAndLoadingLifecycle(t *testing.T) {
	c := New(DefaultOptions())
	c.SetProjects(projects(30))
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if got := c.StatusOf("p15"); got != Placeholder {
		t.Fatalf("p15 status = %v, want placeholder", got)
	}
	for _, s := range c.Slots() {
		if s.Status == Placeholder.String() && s.Height != DefaultPlaceholderHeight {
			t.Fatalf("placeholder %s has height %d", s.Project, s.Height)
		}
	}

	c.Report(Report{Project: "p15", Intersecting: true, Ratio: 0.1})
	c.Frame()
	if got := c.StatusOf("p15"); got != Loading {
		t.Fatalf("p15 status = %v, want loading", got)
	}

	c.ContentReady("p15", now)
	c.Tick(now.Add(DefaultLoadingDebounce / 2))
	if got := c.StatusOf("p15"); got != Loading {
		t.Errorf("loading cleared before debounce")
	}
	if !c.Tick(now.Add(DefaultLoadingDebounce)) {
		t.Errorf("Tick after debounce reported no change")
	}
	if got := c.StatusOf("p15"); got != Ready {
		t.Errorf("p15 status = %v, want ready", got)
	}
}

func TestScrollCheckRequestsNeighbours(t *testing.T) {
	c := New(Options{Buffer: 1, MaxMounted: 6})
	c.SetProjects(projects(20))
	c.Report(Report{Project: "p05", Intersecting: true, Ratio: 1})
	c.Frame()

	added := c.ScrollCheck(ScrollMetrics{ScrollTop: 5000, ViewportHeight: 900, DocumentHeight: 6000})
	if len(added) != 2 || added[0] != "p06" || added[1] != "p07" {
		t.Fatalf("added = %v, want [p06 p07]", added)
	}
	if !contains(c.ProjectsToRender(), "p07") {
		t.Errorf("requested p07 not rendered: %v", c.ProjectsToRender())
	}

	// A later report supersedes the eager request.
	c.Report(Report{Project: "p07", Intersecting: false})
	c.Frame()
	if again := c.ScrollCheck(ScrollMetrics{ScrollTop: 2000, ViewportHeight: 900, DocumentHeight: 6000}); len(again) != 0 {
		t.Errorf("mid-document scroll requested %v", again)
	}
}

func TestSetProjectsDropsUnknown(t *testing.T) {
	c := New(DefaultOptions())
	c.SetProjects(projects(10))
	c.Report(Report{Project: "p04", Intersecting: true, Ratio: 1})
	c.Frame()

	c.SetProjects([]string{"a", "b"})
	got := c.ProjectsToRender()
	if len(got) != 2 {
		t.Errorf("render set = %v, want [a b]", got)
	}
}

func TestObserverConfig(t *testing.T) {
	cfg := New(DefaultOptions()).ObserverConfig()
	if cfg.RootMargin != "600px 0px 600px 0px" {
		t.Errorf("RootMargin = %q", cfg.RootMargin)
	}
	if len(cfg.Thresholds) < 2 {
		t.Errorf("Thresholds = %v, want several", cfg.Thresholds)
	}
}
