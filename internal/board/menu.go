package board

import (
	"context"
	"errors"
	"fmt"

	"promocal/internal/clipboard"
	"promocal/internal/layout"
	appLog "promocal/internal/log"
	"promocal/internal/model"
	"promocal/internal/selection"
)

// ErrActionDisabled is returned when a disabled menu entry is run.
var ErrActionDisabled = errors.New("board: menu action disabled")

// Action is one context menu entry.
type Action string

const (
	ActionCreateEvent   Action = "create_event"
	ActionCreateChannel Action = "create_channel"
	ActionCopy          Action = "copy"
	ActionPaste         Action = "paste"
	ActionEdit          Action = "edit"
	ActionDelete        Action = "delete"
)

var menuOrder = []Action{ActionCreateEvent, ActionCreateChannel, ActionCopy, ActionPaste, ActionEdit, ActionDelete}

// MenuItem is one rendered entry.
type MenuItem struct {
	Action  Action `json:"action"`
	Enabled bool   `json:"enabled"`
}

// Menu is an opened context menu.
type Menu struct {
	Cell  model.CellKey
	Range selection.Range
	// Target is the topmost entity under the cell, if any.
	Target *layout.Item
	Items  []MenuItem
}

// Enabled reports whether a is enabled in m.
func (m Menu) Enabled(a Action) bool {
	for _, it := range m.Items {
		if it.Action == a {
			return it.Enabled
		}
	}
	return false
}

// OpenMenu handles a right-click on cell. ok is false for cells outside the
// vocabulary or the displayed month.
func (b *Board) OpenMenu(cell model.CellKey) (Menu, bool) {
	return b.OpenMenuWith(nil, cell)
}

// OpenMenuWith is OpenMenu with the highlight changes sent to p.
func (b *Board) OpenMenuWith(p selection.Presenter, cell model.CellKey) (Menu, bool) {
	var (
		r  selection.Range
		ok bool
	)
	b.SelectWith(p, func(c *selection.Controller) { r, ok = c.ContextMenu(cell) })
	if !ok {
		return Menu{}, false
	}

	m := Menu{Cell: cell, Range: r}
	if hits := b.ItemsAt(cell); len(hits) > 0 {
		hit := hits[0]
		m.Target = &hit
	}
	kind := b.vocab.Kind(cell.RowType)

	for _, a := range menuOrder {
		var enabled bool
		switch a {
		case ActionCreateEvent:
			enabled = b.handlers.CreateEvent != nil && kind == model.RowPromo
		case ActionCreateChannel:
			enabled = b.handlers.CreateChannel != nil && kind == model.RowChannel
		case ActionCopy:
			enabled = b.hasEntitiesIn(r)
		case ActionPaste:
			enabled = b.clip.HasContent() && !b.clip.Pasting()
		case ActionEdit:
			enabled = b.handlers.Edit != nil && m.Target != nil
		case ActionDelete:
			enabled = m.Target != nil
		}
		m.Items = append(m.Items, MenuItem{Action: a, Enabled: enabled})
	}
	return m, true
}

func (b *Board) hasEntitiesIn(r selection.Range) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, it := range b.buckets[layout.BucketKey{Project: r.Project, RowType: r.RowType}] {
		if !it.Start.After(r.End) && !it.End.Before(r.Start) {
			return true
		}
	}
	return false
}

// RunResult carries what a menu action produced.
type RunResult struct {
	Buffer *clipboard.Buffer
	Report *clipboard.Report
}

// Run executes one entry of m. Disabled entries fail with
// ErrActionDisabled and have no effect. The selection is cleared after any
// action that consumed it.
func (b *Board) Run(ctx context.Context, m Menu, a Action) (RunResult, error) {
	return b.RunWith(ctx, nil, m, a)
}

// RunWith is Run with the highlight changes of the final clear sent to p.
func (b *Board) RunWith(ctx context.Context, p selection.Presenter, m Menu, a Action) (RunResult, error) {
	if !m.Enabled(a) {
		return RunResult{}, fmt.Errorf("%w: %s", ErrActionDisabled, a)
	}
	appLog.Debug("board: menu action", "id", b.ID, "action", string(a), "cell", m.Cell.String())

	var res RunResult
	switch a {
	case ActionCreateEvent, ActionCreateChannel:
		req := CreateRequest{Project: m.Range.Project, RowType: m.Range.RowType, Start: m.Range.Start, End: m.Range.End}
		if a == ActionCreateEvent {
			b.handlers.CreateEvent(req)
		} else {
			b.handlers.CreateChannel(req)
		}

	case ActionCopy:
		var buf clipboard.Buffer
		if m.Target != nil && m.Target.Kind == layout.KindEvent && m.Range.StartDay == m.Range.EndDay {
			buf = b.clip.CopyEvent(m.Target.Event, m.Cell.Project, true)
		} else {
			var err error
			buf, err = b.CopyRange(m.Range, true)
			if err != nil {
				return res, err
			}
		}
		res.Buffer = &buf

	case ActionPaste:
		rep, err := b.Paste(ctx, m.Cell.Project, m.Range.StartDay)
		if err != nil {
			return res, err
		}
		res.Report = &rep

	case ActionEdit:
		b.handlers.Edit(*m.Target)

	case ActionDelete:
		if err := b.Delete(ctx, *m.Target); err != nil {
			return res, err
		}
	}

	b.SelectWith(p, func(c *selection.Controller) { c.Clear() })
	return res, nil
}
