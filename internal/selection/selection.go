// Package selection implements the grid cell selection state machine.
//
// The selected set lives in the Controller, outside any render state. Every
// membership change is pushed to a Presenter keyed by cell, so the host can
// restyle single cells directly instead of re-rendering the grid on every
// pointer move.
package selection

import (
	"sort"
	"time"

	"promocal/internal/model"
	"promocal/internal/timegrid"
)

// State of the pointer gesture.
type State int

const (
	Idle      State = iota
	Selecting       // button down, gesture not classified yet
	Dragging        // range growth in progress
)

func (s State) String() string {
	switch s {
	case Selecting:
		return "selecting"
	case Dragging:
		return "dragging"
	default:
		return "idle"
	}
}

// Button identifies a pointer button.
type Button int

const (
	Primary Button = iota
	Secondary
	Middle
)

// Modifiers held during a pointer event.
type Modifiers struct {
	Ctrl  bool
	Meta  bool // cmd on macOS
	Shift bool
}

// Presenter applies highlight changes for single cells.
type Presenter interface {
	Apply(key model.CellKey, selected bool)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(key model.CellKey, selected bool)

func (f PresenterFunc) Apply(key model.CellKey, selected bool) { f(key, selected) }

// Range is a contiguous day range inside one (project, rowType) row.
type Range struct {
	Project  string
	RowType  string
	StartDay int
	EndDay   int

	// Start is midnight of StartDay, End the last second of EndDay (UTC).
	Start time.Time
	End   time.Time
}

// Options configure a Controller.
type Options struct {
	// Vocabulary restricts accepted row types; nil accepts any.
	Vocabulary *model.Vocabulary
	// FillShiftRange makes shift-click fill the anchor..clicked range inside
	// one row instead of adding only the two endpoints.
	FillShiftRange bool
}

// Controller owns one grid's selection. It is created on mount and destroyed
// on unmount; it is not safe for concurrent use, like the UI thread it serves.
type Controller struct {
	presenter Presenter
	opts      Options

	year  int
	month time.Month

	set    map[model.CellKey]struct{}
	anchor *model.CellKey
	last   *model.CellKey // last cell seen during the current gesture
	state  State
}

// New creates a Controller for (year, month).
func New(p Presenter, year int, month time.Month, opts Options) *Controller {
	if p == nil {
		p = PresenterFunc(func(model.CellKey, bool) {})
	}
	return &Controller{
		presenter: p,
		opts:      opts,
		year:      year,
		month:     month,
		set:       make(map[model.CellKey]struct{}),
	}
}

// State returns the gesture state.
func (c *Controller) State() State { return c.state }

// Anchor returns the drag/shift anchor.
func (c *Controller) Anchor() (model.CellKey, bool) {
	if c.anchor == nil {
		return model.CellKey{}, false
	}
	return *c.anchor, true
}

// SetMonth switches the displayed month; the selection is cleared because
// its cells no longer exist.
func (c *Controller) SetMonth(year int, month time.Month) {
	if c.year == year && c.month == month {
		return
	}
	c.Clear()
	c.year, c.month = year, month
}

func (c *Controller) valid(k model.CellKey) bool {
	if k.Day < 1 || k.Day > timegrid.DaysIn(c.year, c.month) {
		return false
	}
	if c.opts.Vocabulary != nil && !c.opts.Vocabulary.Contains(k.RowType) {
		return false
	}
	return true
}

// MouseDown handles a button press on a cell.
func (c *Controller) MouseDown(cell model.CellKey, button Button, mods Modifiers) {
	if button != Primary || !c.valid(cell) {
		return
	}

	switch {
	case mods.Ctrl || mods.Meta:
		c.toggle(cell)
		c.setAnchor(cell)
	case mods.Shift && c.state == Idle:
		c.shiftClick(cell)
	default:
		c.replace([]model.CellKey{cell})
		c.setAnchor(cell)
		c.last = &cell
		c.state = Selecting
	}
}

func (c *Controller) shiftClick(cell model.CellKey) {
	if c.anchor == nil {
		c.add(cell)
		c.setAnchor(cell)
		return
	}
	if c.opts.FillShiftRange && c.anchor.SameRow(cell) {
		for _, k := range rowRange(*c.anchor, cell.Day) {
			c.add(k)
		}
		return
	}
	c.add(*c.anchor)
	c.add(cell)
}

// MouseMove handles pointer movement over a cell. primaryHeld reports
// whether the primary button is still down.
func (c *Controller) MouseMove(cell model.CellKey, primaryHeld bool) {
	if c.state == Idle {
		return
	}
	if !primaryHeld {
		// The release happened outside our listener.
		c.MouseUp()
		return
	}
	if c.anchor == nil || !c.valid(cell) || !c.anchor.SameRow(cell) {
		return
	}
	if c.last != nil && *c.last == cell {
		return
	}
	c.last = &cell
	c.state = Dragging
	c.replace(rowRange(*c.anchor, cell.Day))
}

// MouseUp ends any gesture; the selection is kept.
func (c *Controller) MouseUp() {
	c.state = Idle
	c.last = nil
}

// KeyDown handles keyboard input. Only Escape is meaningful.
func (c *Controller) KeyDown(key string) {
	if key == "Escape" || key == "Esc" {
		c.Clear()
	}
}

// ContextMenu handles a right-click on cell and returns the range the menu
// acts on. An empty selection first selects only cell; otherwise cell is
// added when absent. The range spans the min/max selected day of cell's row.
func (c *Controller) ContextMenu(cell model.CellKey) (Range, bool) {
	if !c.valid(cell) {
		return Range{}, false
	}
	if len(c.set) == 0 {
		c.replace([]model.CellKey{cell})
		c.setAnchor(cell)
	} else {
		c.add(cell)
	}

	lo, hi := cell.Day, cell.Day
	for k := range c.set {
		if !k.SameRow(cell) {
			continue
		}
		if k.Day < lo {
			lo = k.Day
		}
		if k.Day > hi {
			hi = k.Day
		}
	}
	return c.makeRange(cell.Project, cell.RowType, lo, hi), true
}

// ClickOutside handles a left-click outside any cell or menu.
func (c *Controller) ClickOutside() {
	c.replace(nil)
}

// Clear empties the set and forgets the anchor.
func (c *Controller) Clear() {
	c.replace(nil)
	c.anchor = nil
	c.last = nil
	c.state = Idle
}

// Destroy detaches the presenter; used when the grid unmounts.
func (c *Controller) Destroy() {
	c.set = make(map[model.CellKey]struct{})
	c.anchor = nil
	c.last = nil
	c.state = Idle
	c.presenter = PresenterFunc(func(model.CellKey, bool) {})
}

// Selected reports membership of k.
func (c *Controller) Selected(k model.CellKey) bool {
	_, ok := c.set[k]
	return ok
}

// Len returns the number of selected cells.
func (c *Controller) Len() int { return len(c.set) }

// Keys returns the selected cells ordered by project, row type and day.
func (c *Controller) Keys() []model.CellKey {
	out := make([]model.CellKey, 0, len(c.set))
	for k := range c.set {
		out = append(out, k)
	}
	sortKeys(out)
	return out
}

// Selections groups the set by (project, rowType) and returns the min/max
// day range of every group.
func (c *Controller) Selections() []Range {
	type bounds struct{ lo, hi int }
	groups := make(map[[2]string]*bounds)
	var order [][2]string

	for _, k := range c.Keys() {
		g := [2]string{k.Project, k.RowType}
		b, ok := groups[g]
		if !ok {
			groups[g] = &bounds{lo: k.Day, hi: k.Day}
			order = append(order, g)
			continue
		}
		if k.Day < b.lo {
			b.lo = k.Day
		}
		if k.Day > b.hi {
			b.hi = k.Day
		}
	}

	out := make([]Range, 0, len(order))
	for _, g := range order {
		b := groups[g]
		out = append(out, c.makeRange(g[0], g[1], b.lo, b.hi))
	}
	return out
}

func (c *Controller) makeRange(project, rowType string, lo, hi int) Range {
	start := time.Date(c.year, c.month, lo, 0, 0, 0, 0, time.UTC)
	end := time.Date(c.year, c.month, hi, 23, 59, 59, 0, time.UTC)
	return Range{Project: project, RowType: rowType, StartDay: lo, EndDay: hi, Start: start, End: end}
}

func (c *Controller) setAnchor(k model.CellKey) {
	c.anchor = &k
}

func (c *Controller) add(k model.CellKey) {
	if _, ok := c.set[k]; ok {
		return
	}
	c.set[k] = struct{}{}
	c.presenter.Apply(k, true)
}

func (c *Controller) toggle(k model.CellKey) {
	if _, ok := c.set[k]; ok {
		delete(c.set, k)
		c.presenter.Apply(k, false)
		return
	}
	c.add(k)
}

// replace swaps the set for keys, notifying only cells whose membership
// actually changed.
func (c *Controller) replace(keys []model.CellKey) {
	next := make(map[model.CellKey]struct{}, len(keys))
	for _, k := range keys {
		next[k] = struct{}{}
	}
	for k := range c.set {
		if _, keep := next[k]; !keep {
			delete(c.set, k)
			c.presenter.Apply(k, false)
		}
	}
	for _, k := range keys {
		c.add(k)
	}
}

// rowRange returns the contiguous cells between anchor and day in anchor's row.
func rowRange(anchor model.CellKey, day int) []model.CellKey {
	lo, hi := anchor.Day, day
	if lo > hi {
		lo, hi = hi, lo
	}
	out := make([]model.CellKey, 0, hi-lo+1)
	for d := lo; d <= hi; d++ {
		out = append(out, model.CellKey{Project: anchor.Project, RowType: anchor.RowType, Day: d})
	}
	return out
}

func sortKeys(keys []model.CellKey) {
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Project != b.Project {
			return a.Project < b.Project
		}
		if a.RowType != b.RowType {
			return a.RowType < b.RowType
		}
		return a.Day < b.Day
	})
}
