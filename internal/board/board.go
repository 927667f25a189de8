// Package board composes one mounted grid: its entities, packing memo,
// measurement cache, overlay, selection, virtualization and clipboard.
//
// A Board is created when a grid mounts and closed when it unmounts. Nothing
// in it is shared between boards.
package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"promocal/internal/clipboard"
	"promocal/internal/layout"
	appLog "promocal/internal/log"
	"promocal/internal/measure"
	"promocal/internal/model"
	"promocal/internal/overlay"
	"promocal/internal/recurrence"
	"promocal/internal/selection"
	"promocal/internal/timegrid"
	"promocal/internal/virtual"
)

// ErrClosed is returned by operations on a closed Board.
var ErrClosed = errors.New("board: closed")

// Service is the CRUD collaborator a Board reads from and writes to.
type Service interface {
	ListMonth(ctx context.Context, year int, month time.Month) ([]model.PromoEvent, []model.InfoChannel, error)
	clipboard.Creator
	// DeleteEvent removes an event; for an occurrence, isRecurring is set and
	// occurrenceStart names the occurrence. id is always the server id.
	DeleteEvent(ctx context.Context, id string, isRecurring bool, occurrenceStart time.Time) error
	DeleteChannel(ctx context.Context, id string) error
}

// CreateRequest is handed to the create callbacks, prefilled from the menu
// range.
type CreateRequest struct {
	Project string
	RowType string
	Start   time.Time
	End     time.Time
}

// Handlers are the host callbacks. A nil handler disables the menu entries
// that need it.
type Handlers struct {
	CreateEvent   func(CreateRequest)
	CreateChannel func(CreateRequest)
	Edit          func(layout.Item)
	// EventsChanged fires after every reload caused by a mutation.
	EventsChanged func()
}

// Options configure a Board.
type Options struct {
	Year     int
	Month    time.Month
	Projects []string

	Vocabulary *model.Vocabulary
	Holidays   timegrid.HolidaySet

	RowHeight float64
	RowInset  float64

	MeasureTTL       time.Duration
	MeasureCacheSize int

	Virtual        virtual.Options
	FillShiftRange bool

	// Presenter receives selection highlight changes; nil discards them.
	Presenter selection.Presenter
	Handlers  Handlers

	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

// Board is one mounted grid.
type Board struct {
	ID string

	svc      Service
	vocab    *model.Vocabulary
	holidays timegrid.HolidaySet
	handlers Handlers
	now      func() time.Time

	cache    *measure.Cache
	packer   *layout.Packer
	renderer *overlay.Renderer
	virt     *virtual.Controller
	clip     *clipboard.Engine

	// selMu serializes input events into the selection controller. sink,
	// when set under selMu, receives the highlight changes of that call.
	selMu     sync.Mutex
	sel       *selection.Controller
	presenter selection.Presenter
	sink      selection.Presenter

	mu        sync.RWMutex
	year      int
	month     time.Month
	projects  []string
	events    []model.PromoEvent
	channels  []model.InfoChannel
	buckets   map[layout.BucketKey][]layout.Item
	collapsed map[layout.BucketKey]bool
	truncated []string
	loadedAt  time.Time
	closed    bool
}

// New mounts a board. Load must be called before the grid has content.
func New(svc Service, m measure.Measurer, opts Options) *Board {
	if opts.Year == 0 || opts.Month == 0 {
		t := time.Now().UTC()
		opts.Year, opts.Month = t.Year(), t.Month()
	}
	if opts.Vocabulary == nil {
		opts.Vocabulary = model.NewVocabulary(nil, nil)
	}
	if opts.Holidays == nil {
		opts.Holidays = timegrid.Dates{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	b := &Board{
		ID:        uuid.NewString(),
		svc:       svc,
		vocab:     opts.Vocabulary,
		holidays:  opts.Holidays,
		handlers:  opts.Handlers,
		now:       opts.Now,
		packer:    layout.NewPacker(),
		virt:      virtual.New(opts.Virtual),
		year:      opts.Year,
		month:     opts.Month,
		projects:  append([]string(nil), opts.Projects...),
		buckets:   make(map[layout.BucketKey][]layout.Item),
		collapsed: make(map[layout.BucketKey]bool),
	}
	b.cache = measure.NewCache(m, measure.Options{
		TTL:        opts.MeasureTTL,
		MaxEntries: opts.MeasureCacheSize,
		Now:        opts.Now,
	})
	b.cache.SetMonth(opts.Year, opts.Month)
	b.renderer = overlay.NewRenderer(b.cache, b.packer, opts.RowHeight, opts.RowInset)
	b.presenter = opts.Presenter
	b.sel = selection.New(selection.PresenterFunc(b.present), opts.Year, opts.Month, selection.Options{
		Vocabulary:     opts.Vocabulary,
		FillShiftRange: opts.FillShiftRange,
	})
	b.clip = clipboard.New(svc, b.reloadAfterMutation)
	b.virt.SetProjects(b.projects)

	appLog.Info("board mounted", "id", b.ID, "year", opts.Year, "month", int(opts.Month), "projects", len(b.projects))
	return b
}

// Close unmounts the board: the cache is dropped and the selection detached.
func (b *Board) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.cache.Close()
	b.packer.Forget()
	b.selMu.Lock()
	b.sel.Destroy()
	b.selMu.Unlock()
	appLog.Info("board unmounted", "id", b.ID)
}

// Month returns the displayed month.
func (b *Board) Month() (int, time.Month) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.year, b.month
}

// Projects returns the ordered project list.
func (b *Board) Projects() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.projects...)
}

// Vocabulary returns the row vocabulary.
func (b *Board) Vocabulary() *model.Vocabulary { return b.vocab }

// Columns returns the day columns of the displayed month.
func (b *Board) Columns() []model.DayColumn {
	b.mu.RLock()
	year, month, holidays := b.year, b.month, b.holidays
	b.mu.RUnlock()
	return timegrid.Month(year, month, holidays)
}

// SetHolidays replaces the holiday set used for new column derivations.
func (b *Board) SetHolidays(h timegrid.HolidaySet) {
	if h == nil {
		h = timegrid.Dates{}
	}
	b.mu.Lock()
	b.holidays = h
	b.mu.Unlock()
}

// Load fetches the displayed month, expands recurring templates, filters
// malformed dates and regroups buckets. A load that finishes after the month
// changed is discarded.
func (b *Board) Load(ctx context.Context) error {
	b.mu.RLock()
	year, month, closed := b.year, b.month, b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	events, channels, err := b.svc.ListMonth(ctx, year, month)
	if err != nil {
		return fmt.Errorf("board: load %04d-%02d: %w", year, int(month), err)
	}
	events, channels = layout.Sanitize(events, channels)

	start, end := timegrid.Bounds(year, month)
	res, err := recurrence.Expand(events, recurrence.Config{RangeStart: start, RangeEnd: end})
	if err != nil {
		return fmt.Errorf("board: expand %04d-%02d: %w", year, int(month), err)
	}
	buckets := layout.Buckets(res.Events, channels, b.vocab)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.year != year || b.month != month {
		b.mu.Unlock()
		appLog.Debug("board: discarding load for previous month", "id", b.ID, "year", year, "month", int(month))
		return nil
	}
	b.events = res.Events
	b.channels = channels
	b.buckets = buckets
	b.truncated = res.Truncated
	b.loadedAt = b.now()
	b.mu.Unlock()

	b.cache.EntitiesChanged()
	now := b.now()
	for _, p := range b.virt.ProjectsToRender() {
		b.virt.ContentReady(p, now)
	}

	appLog.Info("board loaded", "id", b.ID, "year", year, "month", int(month),
		"events", len(res.Events), "channels", len(channels), "buckets", len(buckets))
	return nil
}

func (b *Board) reloadAfterMutation(ctx context.Context) {
	if err := b.Load(ctx); err != nil {
		if !errors.Is(err, ErrClosed) {
			appLog.Error("board: reload after change failed", err, "id", b.ID)
		}
		return
	}
	if b.handlers.EventsChanged != nil {
		b.handlers.EventsChanged()
	}
}

// SetMonth switches the displayed month: the selection is cleared, the
// measurement generation advances and entities are reloaded.
func (b *Board) SetMonth(ctx context.Context, year int, month time.Month) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	changed := b.year != year || b.month != month
	if changed {
		b.year, b.month = year, month
		b.events, b.channels = nil, nil
		b.buckets = make(map[layout.BucketKey][]layout.Item)
	}
	b.mu.Unlock()

	if !changed {
		return nil
	}
	b.cache.SetMonth(year, month)
	b.packer.Forget()
	b.selMu.Lock()
	b.sel.SetMonth(year, month)
	b.selMu.Unlock()
	return b.Load(ctx)
}

// SetProjects replaces the ordered project list.
func (b *Board) SetProjects(order []string) {
	b.mu.Lock()
	b.projects = append([]string(nil), order...)
	b.mu.Unlock()
	b.virt.SetProjects(order)
	b.cache.ForceRemeasure()
}

// ToggleCollapse flips a row's collapsed state and returns the new state.
func (b *Board) ToggleCollapse(project, rowType string) bool {
	key := layout.BucketKey{Project: project, RowType: rowType}
	b.mu.Lock()
	b.collapsed[key] = !b.collapsed[key]
	state := b.collapsed[key]
	if !state {
		delete(b.collapsed, key)
	}
	b.mu.Unlock()
	b.cache.CollapseToggled()
	return state
}

// Collapsed reports whether a row is collapsed.
func (b *Board) Collapsed(project, rowType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.collapsed[layout.BucketKey{Project: project, RowType: rowType}]
}

// LayoutSettled is the host's signal that the base grid finished a
// layout-affecting transition; measurements taken before it are dropped.
func (b *Board) LayoutSettled() { b.cache.LayoutSettled() }

// Generation returns the current measurement signature.
func (b *Board) Generation() measure.Generation { return b.cache.Generation() }

// Virtual returns the virtualization controller.
func (b *Board) Virtual() *virtual.Controller { return b.virt }

// Clipboard returns the clipboard engine.
func (b *Board) Clipboard() *clipboard.Engine { return b.clip }

// Events returns the loaded events, occurrences expanded.
func (b *Board) Events() []model.PromoEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]model.PromoEvent(nil), b.events...)
}

// Channels returns the loaded standalone channels.
func (b *Board) Channels() []model.InfoChannel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]model.InfoChannel(nil), b.channels...)
}

// Truncated returns the templates whose expansion hit the occurrence cap.
func (b *Board) Truncated() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.truncated...)
}

// Layout places the overlay bars of the mounted projects. Measurement misses
// only drop bars.
func (b *Board) Layout(ctx context.Context) []overlay.Bar {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil
	}
	frame := overlay.Frame{
		Year:     b.year,
		Month:    b.month,
		Projects: b.virt.ProjectsToRender(),
		RowTypes: b.vocab.RowTypes(),
		Buckets:  b.buckets,
	}
	collapsed := make(map[layout.BucketKey]bool, len(b.collapsed))
	for k, v := range b.collapsed {
		collapsed[k] = v
	}
	b.mu.RUnlock()

	frame.Collapsed = func(project, rowType string) bool {
		return collapsed[layout.BucketKey{Project: project, RowType: rowType}]
	}
	return b.renderer.Render(ctx, frame)
}

// RowCount returns how many stacked rows the bucket's packing needs; zero
// for an empty bucket. The grid sizes each row type by it so stacked bars
// stay inside their own row.
func (b *Board) RowCount(project, rowType string) int {
	key := layout.BucketKey{Project: project, RowType: rowType}
	b.mu.RLock()
	items := b.buckets[key]
	b.mu.RUnlock()
	if len(items) == 0 {
		return 0
	}
	return b.packer.Assign(key, layout.Intervals(items)).RowCount
}

// ItemsAt returns the entities of cell's bucket covering cell's day.
func (b *Board) ItemsAt(cell model.CellKey) []layout.Item {
	b.mu.RLock()
	defer b.mu.RUnlock()

	monthStart, monthEnd := timegrid.Bounds(b.year, b.month)
	var out []layout.Item
	for _, it := range b.buckets[layout.BucketKey{Project: cell.Project, RowType: cell.RowType}] {
		lo, hi, _, _, ok := layout.Clip(it.Interval, monthStart, monthEnd)
		if ok && lo <= cell.Day && cell.Day <= hi {
			out = append(out, it)
		}
	}
	return out
}

// Select runs fn against the selection controller, serialized with every
// other input event of this board.
func (b *Board) Select(fn func(c *selection.Controller)) {
	b.SelectWith(nil, fn)
}

// SelectWith is Select with the highlight changes made by fn sent to p
// instead of the board's presenter. A nil p keeps the board's presenter.
func (b *Board) SelectWith(p selection.Presenter, fn func(c *selection.Controller)) {
	b.selMu.Lock()
	defer b.selMu.Unlock()
	b.sink = p
	defer func() { b.sink = nil }()
	fn(b.sel)
}

// present runs under selMu.
func (b *Board) present(key model.CellKey, selected bool) {
	switch {
	case b.sink != nil:
		b.sink.Apply(key, selected)
	case b.presenter != nil:
		b.presenter.Apply(key, selected)
	}
}

// CopyRange copies the entities of r into the clipboard.
func (b *Board) CopyRange(r selection.Range, includeChannels bool) (clipboard.Buffer, error) {
	return b.clip.CopyRange(clipboard.Range{
		Project: r.Project,
		RowType: r.RowType,
		Start:   r.Start,
		End:     r.End,
	}, b.Events(), b.Channels(), includeChannels)
}

// Paste pastes the clipboard at (project, day of the displayed month) and
// reloads.
func (b *Board) Paste(ctx context.Context, project string, day int) (clipboard.Report, error) {
	year, month := b.Month()
	if day < 1 || day > timegrid.DaysIn(year, month) {
		return clipboard.Report{}, fmt.Errorf("board: paste day %d outside %04d-%02d", day, year, int(month))
	}
	start := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return b.clip.Paste(ctx, clipboard.Target{Project: project, Start: start})
}

// Delete removes one entity and reloads. Deleting an occurrence marks the
// request as recurring and names the occurrence by its start. A channel owned
// by an occurrence is deleted by its server id, which every occurrence shares.
func (b *Board) Delete(ctx context.Context, it layout.Item) error {
	var err error
	switch it.Kind {
	case layout.KindChannel:
		err = b.svc.DeleteChannel(ctx, it.Channel.ID)
	default:
		var occurrenceStart time.Time
		if it.Event.IsRecurring {
			occurrenceStart = it.Event.Start
		}
		err = b.svc.DeleteEvent(ctx, it.Event.ID, it.Event.IsRecurring, occurrenceStart)
	}
	if err != nil {
		return fmt.Errorf("board: delete %s %s: %w", it.Kind, it.ID, err)
	}
	b.reloadAfterMutation(ctx)
	return nil
}
