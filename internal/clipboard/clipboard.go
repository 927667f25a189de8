// Package clipboard copies a date range of promo entities and pastes it back,
// shifted by whole days, into the same or another project.
//
// Paste is fail-forward: items are created one after another and a failure
// does not undo items already created nor stop the ones after it. Callers get
// a Report and must present partial success distinctly.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	appLog "promocal/internal/log"
	"promocal/internal/model"
)

var (
	ErrEmpty           = errors.New("clipboard: buffer is empty")
	ErrPasteInProgress = errors.New("clipboard: paste already in progress")
)

// ItemKind tells event snapshots from channel snapshots.
type ItemKind int

const (
	ItemEvent ItemKind = iota
	ItemChannel
)

// Item is a snapshot of every editable field of one entity. Identity fields
// (ids, occurrence ids) are never captured. Dates are absolute UTC.
type Item struct {
	Kind ItemKind
	// Parent is the index of the owning event snapshot, or -1.
	Parent int

	Projects      []string // events only
	Type          string   // promo type or channel type
	PromoKind     string
	Name          string
	Comment       string
	Segments      []string
	Link          string
	ResponsibleID string
	Recurrence    string

	Start time.Time
	End   time.Time // equals Start for channels
}

// Buffer is a relative paste template. It does not reference live entities.
type Buffer struct {
	ID              string
	SourceProject   string
	SourceStart     time.Time
	SourceEnd       time.Time
	IncludeChannels bool
	Items           []Item
	CopiedAt        time.Time
}

// Range is the copy source of a selection-driven copy.
type Range struct {
	Project string
	RowType string
	Start   time.Time
	End     time.Time
}

// Target is the paste destination.
type Target struct {
	Project string
	Start   time.Time
}

// Report summarizes a paste batch.
type Report struct {
	Attempted int
	Created   int
	Failed    int
	DeltaDays int
	Errors    []error
}

// OK reports full success.
func (r Report) OK() bool { return r.Failed == 0 }

// Partial reports that some but not all items were created.
func (r Report) Partial() bool { return r.Failed > 0 && r.Created > 0 }

// Creator is the subset of the CRUD API the paste needs.
type Creator interface {
	CreateEvent(ctx context.Context, ev model.PromoEvent) error
	CreateChannel(ctx context.Context, ch model.InfoChannel) error
}

// Engine holds the clipboard of one session.
type Engine struct {
	creator   Creator
	onChanged func(ctx context.Context)
	now       func() time.Time

	mu      sync.Mutex
	buf     *Buffer
	pasting atomic.Bool
}

// New creates an Engine. onChanged is the reload trigger fired after every
// paste batch; it may be nil.
func New(c Creator, onChanged func(ctx context.Context)) *Engine {
	return &Engine{creator: c, onChanged: onChanged, now: time.Now}
}

// Buffer returns a copy of the current buffer.
func (e *Engine) Buffer() (Buffer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buf == nil {
		return Buffer{}, false
	}
	return *e.buf, true
}

// HasContent reports whether a paste is possible.
func (e *Engine) HasContent() bool {
	b, ok := e.Buffer()
	return ok && len(b.Items) > 0
}

// Pasting reports whether a paste batch is running.
func (e *Engine) Pasting() bool { return e.pasting.Load() }

// CopyEvent snapshots one event shown under project, optionally with all of
// its channels.
func (e *Engine) CopyEvent(ev model.PromoEvent, project string, withChannels bool) Buffer {
	items := []Item{eventItem(ev)}
	if withChannels {
		for _, ch := range ev.InfoChannels {
			items = append(items, channelItem(ch, 0))
		}
	}
	if project == "" {
		project = ev.Project()
	}
	return e.store(Buffer{
		SourceProject:   project,
		SourceStart:     ev.Start.UTC(),
		SourceEnd:       ev.End.UTC(),
		IncludeChannels: withChannels,
		Items:           items,
	})
}

// CopyRange snapshots every entity of r's (project, rowType) bucket whose
// interval intersects [r.Start, r.End]. Events of a promo row bring their
// channels along when includeChannels is set; channels of a channel row are
// copied as standalone. An empty match leaves the buffer untouched.
func (e *Engine) CopyRange(r Range, events []model.PromoEvent, channels []model.InfoChannel, includeChannels bool) (Buffer, error) {
	var items []Item
	seenChannel := make(map[string]bool)

	for _, ev := range events {
		if ev.HasProject(r.Project) && ev.PromoType == r.RowType && intersects(ev.Start, ev.End, r.Start, r.End) {
			parent := len(items)
			items = append(items, eventItem(ev))
			if includeChannels {
				for _, ch := range ev.InfoChannels {
					items = append(items, channelItem(ch, parent))
				}
			}
		}
	}

	addChannel := func(ch model.InfoChannel) {
		if id := ch.LayoutID(); id != "" && seenChannel[id] {
			return
		}
		seenChannel[ch.LayoutID()] = true
		if ch.Project == r.Project && ch.Type == r.RowType && intersects(ch.Start, ch.Start, r.Start, r.End) {
			items = append(items, channelItem(ch, -1))
		}
	}
	for _, ev := range events {
		for _, ch := range ev.InfoChannels {
			if ch.Project == "" {
				ch.Project = ev.Project()
			}
			addChannel(ch)
		}
	}
	for _, ch := range channels {
		addChannel(ch)
	}

	if len(items) == 0 {
		return Buffer{}, ErrEmpty
	}
	return e.store(Buffer{
		SourceProject:   r.Project,
		SourceStart:     r.Start.UTC(),
		SourceEnd:       r.End.UTC(),
		IncludeChannels: includeChannels,
		Items:           items,
	}), nil
}

func (e *Engine) store(b Buffer) Buffer {
	b.ID = uuid.NewString()
	b.CopiedAt = e.now()
	e.mu.Lock()
	e.buf = &b
	e.mu.Unlock()
	appLog.Info("clipboard: copied", "id", b.ID, "project", b.SourceProject, "items", len(b.Items),
		"from", b.SourceStart.Format(time.DateOnly), "to", b.SourceEnd.Format(time.DateOnly))
	return b
}

// DeltaDays is the whole-day shift between two instants, by UTC calendar day.
func DeltaDays(from, to time.Time) int {
	return dayNumber(to) - dayNumber(from)
}

func dayNumber(t time.Time) int {
	u := t.UTC()
	d := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return int(d.Unix() / 86400)
}

// Plan builds the create requests of a paste without sending them: every
// snapshot shifted by DeltaDays(buffer start, target start), channels
// regrouped under their event, standalone channels separately.
func Plan(b Buffer, t Target) ([]model.PromoEvent, []model.InfoChannel, int) {
	delta := DeltaDays(b.SourceStart, t.Start)
	shift := func(x time.Time) time.Time { return x.AddDate(0, 0, delta) }

	var (
		events     []model.PromoEvent
		standalone []model.InfoChannel
		slot       = make(map[int]int) // item index -> events index
	)
	for i, it := range b.Items {
		if it.Kind != ItemEvent {
			continue
		}
		slot[i] = len(events)
		events = append(events, model.PromoEvent{
			Projects:      retarget(it.Projects, b.SourceProject, t.Project),
			PromoType:     it.Type,
			PromoKind:     it.PromoKind,
			Name:          it.Name,
			Comment:       it.Comment,
			Segments:      append([]string(nil), it.Segments...),
			Link:          it.Link,
			ResponsibleID: it.ResponsibleID,
			Recurrence:    it.Recurrence,
			Start:         shift(it.Start),
			End:           shift(it.End),
		})
	}
	for _, it := range b.Items {
		if it.Kind != ItemChannel {
			continue
		}
		ch := model.InfoChannel{
			Type:     it.Type,
			Project:  t.Project,
			Start:    shift(it.Start),
			Name:     it.Name,
			Segments: append([]string(nil), it.Segments...),
			Comment:  it.Comment,
			Link:     it.Link,
		}
		if idx, ok := slot[it.Parent]; ok && it.Parent >= 0 {
			events[idx].InfoChannels = append(events[idx].InfoChannels, ch)
			continue
		}
		standalone = append(standalone, ch)
	}
	return events, standalone, delta
}

// Paste recreates the buffer at t. Items are created strictly one at a time;
// failures are logged and counted, never abort the batch. A concurrent second
// Paste fails with ErrPasteInProgress.
func (e *Engine) Paste(ctx context.Context, t Target) (Report, error) {
	b, ok := e.Buffer()
	if !ok || len(b.Items) == 0 {
		return Report{}, ErrEmpty
	}
	if t.Project == "" {
		return Report{}, errors.New("clipboard: paste target project is empty")
	}
	if !e.pasting.CompareAndSwap(false, true) {
		return Report{}, ErrPasteInProgress
	}
	defer e.pasting.Store(false)

	events, standalone, delta := Plan(b, t)
	rep := Report{DeltaDays: delta, Attempted: len(events) + len(standalone)}

	appLog.Info("clipboard: paste start", "buffer", b.ID, "target_project", t.Project,
		"delta_days", delta, "events", len(events), "standalone_channels", len(standalone))

	for i, ev := range events {
		if err := e.creator.CreateEvent(ctx, ev); err != nil {
			rep.Failed++
			rep.Errors = append(rep.Errors, fmt.Errorf("event %d/%d %q: %w", i+1, len(events), ev.Name, err))
			appLog.Error("clipboard: paste item failed", err, "kind", "event", "name", ev.Name)
			continue
		}
		rep.Created++
	}
	for i, ch := range standalone {
		if err := e.creator.CreateChannel(ctx, ch); err != nil {
			rep.Failed++
			rep.Errors = append(rep.Errors, fmt.Errorf("channel %d/%d %q: %w", i+1, len(standalone), ch.Name, err))
			appLog.Error("clipboard: paste item failed", err, "kind", "channel", "name", ch.Name)
			continue
		}
		rep.Created++
	}

	appLog.Info("clipboard: paste done", "buffer", b.ID, "created", rep.Created, "failed", rep.Failed)
	if e.onChanged != nil {
		e.onChanged(ctx)
	}
	return rep, nil
}

func eventItem(ev model.PromoEvent) Item {
	it := Item{
		Kind:          ItemEvent,
		Parent:        -1,
		Projects:      append([]string(nil), ev.Projects...),
		Type:          ev.PromoType,
		PromoKind:     ev.PromoKind,
		Name:          ev.Name,
		Comment:       ev.Comment,
		Segments:      append([]string(nil), ev.Segments...),
		Link:          ev.Link,
		ResponsibleID: ev.ResponsibleID,
		Start:         ev.Start.UTC(),
		End:           ev.End.UTC(),
	}
	// A copied occurrence pastes as a one-off event.
	if !ev.IsRecurring {
		it.Recurrence = ev.Recurrence
	}
	return it
}

func channelItem(ch model.InfoChannel, parent int) Item {
	return Item{
		Kind:     ItemChannel,
		Parent:   parent,
		Type:     ch.Type,
		Name:     ch.Name,
		Comment:  ch.Comment,
		Segments: append([]string(nil), ch.Segments...),
		Link:     ch.Link,
		Start:    ch.Start.UTC(),
		End:      ch.Start.UTC(),
	}
}

// retarget swaps the source project for the target, keeping any other
// projects the event was shared with.
func retarget(projects []string, from, to string) []string {
	out := make([]string, 0, len(projects))
	replaced := false
	for _, p := range projects {
		if p == from && !replaced {
			out = append(out, to)
			replaced = true
			continue
		}
		if p == to {
			continue
		}
		out = append(out, p)
	}
	if !replaced {
		return []string{to}
	}
	return out
}

func intersects(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !aEnd.Before(bStart)
}
