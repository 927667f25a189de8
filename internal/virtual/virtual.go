// Package virtual decides which project subtrees of the grid are mounted.
//
// Visibility reports come from a platform port (an IntersectionObserver in a
// browser) configured with a lookahead margin and several thresholds. Reports
// are queued and applied once per frame.
package virtual

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	DefaultBuffer            = 2
	DefaultMaxMounted        = 6
	DefaultLookaheadPx       = 600
	DefaultLoadingDebounce   = 150 * time.Millisecond
	DefaultPlaceholderHeight = 400
	DefaultScrollEdgePx      = 800
)

var DefaultThresholds = []float64{0, 0.1, 0.25, 0.5, 0.75, 1}

// Options configure a Controller.
type Options struct {
	Buffer            int
	MaxMounted        int
	LookaheadPx       int
	Thresholds        []float64
	LoadingDebounce   time.Duration
	PlaceholderHeight int
	ScrollEdgePx      int
}

func (o *Options) normalize() {
	if o.Buffer < 0 {
		o.Buffer = 0
	}
	if o.MaxMounted <= 0 {
		o.MaxMounted = DefaultMaxMounted
	}
	if o.LookaheadPx <= 0 {
		o.LookaheadPx = DefaultLookaheadPx
	}
	if len(o.Thresholds) == 0 {
		o.Thresholds = DefaultThresholds
	}
	if o.LoadingDebounce <= 0 {
		o.LoadingDebounce = DefaultLoadingDebounce
	}
	if o.PlaceholderHeight <= 0 {
		o.PlaceholderHeight = DefaultPlaceholderHeight
	}
	if o.ScrollEdgePx <= 0 {
		o.ScrollEdgePx = DefaultScrollEdgePx
	}
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	o := Options{Buffer: DefaultBuffer}
	o.normalize()
	return o
}

// ObserverConfig is what the platform visibility port is set up with.
type ObserverConfig struct {
	RootMargin string    `json:"root_margin"`
	Thresholds []float64 `json:"thresholds"`
}

// Report is one visibility notification for a project container.
type Report struct {
	Project      string
	Intersecting bool
	Ratio        float64
}

// ScrollMetrics describe the document scroll position.
type ScrollMetrics struct {
	ScrollTop      float64 `json:"scroll_top"`
	ViewportHeight float64 `json:"viewport_height"`
	DocumentHeight float64 `json:"document_height"`
}

// Status of one project slot.
type Status int

const (
	Placeholder Status = iota // fixed-height stand-in
	Loading                   // mounted, content not settled yet
	Ready
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return "placeholder"
	}
}

// Slot is the render decision for one project.
type Slot struct {
	Project string `json:"project"`
	Status  string `json:"status"`
	// Height is set for placeholders so the scroll height is preserved.
	Height int `json:"height,omitempty"`
}

type loadState struct {
	readyAt time.Time // zero while content is not ready
}

// Controller is scoped to one mounted grid.
type Controller struct {
	opts Options

	mu        sync.Mutex
	order     []string
	index     map[string]int
	visible   map[string]float64 // project -> last intersection ratio
	requested map[string]bool    // eager requests from the scroll check
	pending   []Report
	render    []string
	loading   map[string]*loadState
}

// New creates a Controller.
func New(opts Options) *Controller {
	opts.normalize()
	c := &Controller{
		opts:      opts,
		index:     make(map[string]int),
		visible:   make(map[string]float64),
		requested: make(map[string]bool),
		loading:   make(map[string]*loadState),
	}
	return c
}

// ObserverConfig returns the visibility port configuration.
func (c *Controller) ObserverConfig() ObserverConfig {
	return ObserverConfig{
		RootMargin: fmt.Sprintf("%dpx 0px %dpx 0px", c.opts.LookaheadPx, c.opts.LookaheadPx),
		Thresholds: append([]float64(nil), c.opts.Thresholds...),
	}
}

// SetProjects replaces the ordered project list.
func (c *Controller) SetProjects(order []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order = append([]string(nil), order...)
	c.index = make(map[string]int, len(order))
	for i, p := range c.order {
		c.index[p] = i
	}
	for p := range c.visible {
		if _, ok := c.index[p]; !ok {
			delete(c.visible, p)
		}
	}
	for p := range c.requested {
		if _, ok := c.index[p]; !ok {
			delete(c.requested, p)
		}
	}
	c.recomputeLocked()
}

// Report queues visibility notifications until the next Frame.
func (c *Controller) Report(reports ...Report) {
	c.mu.Lock()
	c.pending = append(c.pending, reports...)
	c.mu.Unlock()
}

// Frame applies queued reports (the last one per project wins) and
// recomputes the render set. It reports whether the render set changed.
func (c *Controller) Frame() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return false
	}
	for _, r := range c.pending {
		if _, known := c.index[r.Project]; !known {
			continue
		}
		delete(c.requested, r.Project)
		if r.Intersecting {
			c.visible[r.Project] = r.Ratio
		} else {
			delete(c.visible, r.Project)
		}
	}
	c.pending = c.pending[:0]
	return c.recomputeLocked()
}

// ScrollCheck eagerly requests neighbours the visibility signal has not
// reported yet when the viewport is near the top or bottom of the document.
// It returns the newly requested projects.
func (c *Controller) ScrollCheck(m ScrollMetrics) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.order) == 0 {
		return nil
	}
	edge := float64(c.opts.ScrollEdgePx)
	nearTop := m.ScrollTop <= edge
	nearBottom := m.DocumentHeight-(m.ScrollTop+m.ViewportHeight) <= edge

	lo, hi := len(c.order), -1
	for p := range c.visible {
		i := c.index[p]
		if i < lo {
			lo = i
		}
		if i > hi {
			hi = i
		}
	}
	if hi < 0 {
		lo, hi = 0, 0
	}

	var added []string
	want := func(i int) {
		if i < 0 || i >= len(c.order) {
			return
		}
		p := c.order[i]
		if _, vis := c.visible[p]; vis || c.requested[p] {
			return
		}
		c.requested[p] = true
		added = append(added, p)
	}
	for d := 1; d <= c.opts.Buffer+1; d++ {
		if nearBottom {
			want(hi + d)
		}
		if nearTop {
			want(lo - d)
		}
	}
	if len(added) > 0 {
		c.recomputeLocked()
	}
	return added
}

// ContentReady marks the project's real content as rendered; its loading
// indicator clears after the debounce.
func (c *Controller) ContentReady(project string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ls, ok := c.loading[project]; ok && ls.readyAt.IsZero() {
		ls.readyAt = now
	}
}

// Tick clears loading indicators whose debounce elapsed. It reports whether
// any slot changed.
func (c *Controller) Tick(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := false
	for p, ls := range c.loading {
		if !ls.readyAt.IsZero() && now.Sub(ls.readyAt) >= c.opts.LoadingDebounce {
			delete(c.loading, p)
			changed = true
		}
	}
	return changed
}

// ProjectsToRender returns the mounted projects in list order.
func (c *Controller) ProjectsToRender() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.render...)
}

// Slots returns the render decision of every project in list order.
func (c *Controller) Slots() []Slot {
	c.mu.Lock()
	defer c.mu.Unlock()

	mounted := make(map[string]bool, len(c.render))
	for _, p := range c.render {
		mounted[p] = true
	}
	out := make([]Slot, 0, len(c.order))
	for _, p := range c.order {
		s := Slot{Project: p}
		switch {
		case !mounted[p]:
			s.Status = Placeholder.String()
			s.Height = c.opts.PlaceholderHeight
		case c.loading[p] != nil:
			s.Status = Loading.String()
		default:
			s.Status = Ready.String()
		}
		out = append(out, s)
	}
	return out
}

// StatusOf returns the status of one project.
func (c *Controller) StatusOf(project string) Status {
	for _, s := range c.Slots() {
		if s.Project != project {
			continue
		}
		switch s.Status {
		case Loading.String():
			return Loading
		case Ready.String():
			return Ready
		}
		return Placeholder
	}
	return Placeholder
}

// recomputeLocked rebuilds the render set: visible projects (highest ratio
// first), eager requests, the ±Buffer index window around them, all capped at
// MaxMounted, with the last project always included.
func (c *Controller) recomputeLocked() bool {
	n := len(c.order)
	if n == 0 {
		changed := len(c.render) > 0
		c.render = nil
		c.loading = make(map[string]*loadState)
		return changed
	}

	picked := make(map[int]bool, c.opts.MaxMounted)
	limit := c.opts.MaxMounted
	pick := func(i int) {
		if i < 0 || i >= n || picked[i] || len(picked) >= limit {
			return
		}
		picked[i] = true
	}

	pick(n - 1)

	visible := make([]int, 0, len(c.visible))
	for p := range c.visible {
		visible = append(visible, c.index[p])
	}
	sort.Slice(visible, func(a, b int) bool {
		ra, rb := c.visible[c.order[visible[a]]], c.visible[c.order[visible[b]]]
		if ra != rb {
			return ra > rb
		}
		return visible[a] < visible[b]
	})

	requested := make([]int, 0, len(c.requested))
	for p := range c.requested {
		requested = append(requested, c.index[p])
	}
	sort.Ints(requested)

	seeds := append(append([]int(nil), visible...), requested...)
	if len(seeds) == 0 {
		seeds = []int{0}
	}
	for _, i := range seeds {
		pick(i)
	}
	for d := 1; d <= c.opts.Buffer; d++ {
		for _, i := range seeds {
			pick(i - d)
			pick(i + d)
		}
	}

	next := make([]string, 0, len(picked))
	for i := 0; i < n; i++ {
		if picked[i] {
			next = append(next, c.order[i])
		}
	}

	prev := make(map[string]bool, len(c.render))
	for _, p := range c.render {
		prev[p] = true
	}
	nextSet := make(map[string]bool, len(next))
	changed := len(next) != len(c.render)
	for _, p := range next {
		nextSet[p] = true
		if !prev[p] {
			changed = true
			c.loading[p] = &loadState{}
		}
	}
	for p := range c.loading {
		if !nextSet[p] {
			delete(c.loading, p)
		}
	}
	c.render = next
	return changed
}
