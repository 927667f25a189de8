// Package measure caches layout measurements of the rendered base grid.
//
// The cache never measures by itself on a timer. Callers invalidate it when
// the entity set, a row-collapse toggle, or the displayed month changes, and
// bump the force counter once the host reports that layout has settled after a
// layout-affecting transition. Entries are tagged with the generation they were
// produced under and are never served across a generation boundary.
package measure

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	appLog "promocal/internal/log"
)

const (
	DefaultTTL        = 300 * time.Millisecond
	DefaultMaxEntries = 64
	MaxDays           = 31
)

// ErrNoContainer is returned by a Measurer when the project's container is
// not part of the rendered grid (e.g. the project is virtualized away).
var ErrNoContainer = errors.New("measure: container not rendered")

// Rect is a bounding box in layout pixels.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

func (r Rect) Width() float64  { return r.Right - r.Left }
func (r Rect) Height() float64 { return r.Bottom - r.Top }

// Slot addresses one cell inside a project container.
type Slot struct {
	RowType string
	Day     int
}

// Measurement is what the platform reports for one project container.
// Cells that are not rendered (collapsed rows) are simply absent.
type Measurement struct {
	Container Rect
	Cells     map[Slot]Rect
}

// Cell returns the rect of (rowType, day).
func (m Measurement) Cell(rowType string, day int) (Rect, bool) {
	r, ok := m.Cells[Slot{RowType: rowType, Day: day}]
	return r, ok
}

// Measurer is the platform port: a browser DOM query, a native layout API, or
// a fake in tests.
type Measurer interface {
	Measure(ctx context.Context, project string) (Measurement, error)
}

// Generation is the invalidation signature.
type Generation struct {
	Year     int
	Month    time.Month
	Entities uint64
	Collapse uint64
	Force    uint64
}

func (g Generation) String() string {
	return fmt.Sprintf("%04d-%02d/e%d/c%d/f%d", g.Year, int(g.Month), g.Entities, g.Collapse, g.Force)
}

// Entry is one cached measurement.
type Entry struct {
	Measurement
	Project    string
	Generation Generation
	MeasuredAt time.Time
}

type cacheKey struct {
	project string
	gen     Generation
}

// Options configure a Cache.
type Options struct {
	TTL        time.Duration
	MaxEntries int
	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

// Cache is scoped to one mounted grid; create it on mount and Close it on
// unmount.
type Cache struct {
	measurer Measurer
	ttl      time.Duration
	max      int
	now      func() time.Time

	inflight singleflight.Group

	mu      sync.Mutex
	gen     Generation
	entries map[cacheKey]Entry
	order   []cacheKey // insertion order, oldest first
	closed  bool
}

// NewCache creates a cache backed by m.
func NewCache(m Measurer, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		measurer: m,
		ttl:      opts.TTL,
		max:      opts.MaxEntries,
		now:      opts.Now,
		entries:  make(map[cacheKey]Entry),
	}
}

// Generation returns the current signature.
func (c *Cache) Generation() Generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Get returns a fresh entry for project under the current generation, or
// false on a miss. It never measures.
func (c *Cache) Get(project string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(project)
}

func (c *Cache) getLocked(project string) (Entry, bool) {
	e, ok := c.entries[cacheKey{project: project, gen: c.gen}]
	if !ok {
		return Entry{}, false
	}
	if c.now().Sub(e.MeasuredAt) > c.ttl {
		return Entry{}, false
	}
	return e, true
}

// Lookup returns the cached entry for project, measuring once on a miss.
func (c *Cache) Lookup(ctx context.Context, project string) (Entry, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Entry{}, errors.New("measure: cache closed")
	}
	if e, ok := c.getLocked(project); ok {
		c.mu.Unlock()
		return e, nil
	}
	gen := c.gen
	c.mu.Unlock()

	// Concurrent misses for one (project, generation) share a single measure.
	v, err, shared := c.inflight.Do(project+"|"+gen.String(), func() (any, error) {
		return c.measure(ctx, project, gen)
	})
	if err != nil {
		return Entry{}, err
	}
	if shared {
		appLog.Debug("measure: joined in-flight measurement", "project", project, "generation", gen.String())
	}
	return v.(Entry), nil
}

func (c *Cache) measure(ctx context.Context, project string, gen Generation) (Entry, error) {
	m, err := c.measurer.Measure(ctx, project)
	if err != nil {
		return Entry{}, err
	}

	e := Entry{
		Measurement: m,
		Project:     project,
		Generation:  gen,
		MeasuredAt:  c.now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return e, nil
	}
	if c.gen != gen {
		// Invalidated while measuring; the result belongs to a dead generation.
		appLog.Debug("measure: discarding stale measurement", "project", project, "generation", gen.String())
		return e, nil
	}
	c.storeLocked(cacheKey{project: project, gen: gen}, e)
	return e, nil
}

func (c *Cache) storeLocked(k cacheKey, e Entry) {
	if _, exists := c.entries[k]; !exists {
		c.order = append(c.order, k)
	}
	c.entries[k] = e
	for len(c.order) > c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// advance moves to a new generation and drops every entry of older ones.
func (c *Cache) advance(mutate func(g *Generation)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mutate(&c.gen)
	c.entries = make(map[cacheKey]Entry)
	c.order = nil
}

// EntitiesChanged invalidates after the entity set changed.
func (c *Cache) EntitiesChanged() {
	c.advance(func(g *Generation) { g.Entities++ })
}

// CollapseToggled invalidates after a row collapse/expand.
func (c *Cache) CollapseToggled() {
	c.advance(func(g *Generation) { g.Collapse++ })
}

// SetMonth invalidates when the displayed month changes. It is a no-op when
// the month is unchanged.
func (c *Cache) SetMonth(year int, month time.Month) {
	c.mu.Lock()
	same := c.gen.Year == year && c.gen.Month == month
	c.mu.Unlock()
	if same {
		return
	}
	c.advance(func(g *Generation) {
		g.Year = year
		g.Month = month
	})
}

// ForceRemeasure bumps the explicit re-measure counter.
func (c *Cache) ForceRemeasure() {
	c.advance(func(g *Generation) { g.Force++ })
}

// LayoutSettled is the completion signal of a layout-affecting transition
// (render commit, collapse animation end, resize). It invalidates before any
// re-measurement can start.
func (c *Cache) LayoutSettled() {
	c.ForceRemeasure()
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close drops all entries; further Lookups fail.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.order = nil
	c.closed = true
}
