// Package overlay places interval bars over the measured base grid.
package overlay

import (
	"context"
	"time"

	"promocal/internal/layout"
	appLog "promocal/internal/log"
	"promocal/internal/measure"
	"promocal/internal/timegrid"
)

const (
	DefaultRowHeight = 24
	DefaultInset     = 2
)

// Lookuper resolves a project's measurement, measuring on a miss.
type Lookuper interface {
	Lookup(ctx context.Context, project string) (measure.Entry, error)
}

// Bar is one positioned overlay element.
type Bar struct {
	ID       string      `json:"id"`
	EntityID string      `json:"entity_id"`
	Kind     layout.Kind `json:"-"`
	KindName string      `json:"kind"`
	Project  string      `json:"project"`
	RowType  string      `json:"row_type"`
	Row      int         `json:"row"`
	Label    string      `json:"label"`

	StartDay int `json:"start_day"`
	EndDay   int `json:"end_day"`

	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`

	// Truncation markers: the true interval continues outside the month.
	TruncatedStart bool `json:"truncated_start"`
	TruncatedEnd   bool `json:"truncated_end"`

	Recurring bool `json:"recurring"`
}

// Frame is the input of one overlay pass.
type Frame struct {
	Year  int
	Month time.Month

	// Projects is the ordered render set; RowTypes the ordered vocabulary.
	Projects []string
	RowTypes []string

	Buckets map[layout.BucketKey][]layout.Item

	// Collapsed reports collapsed (project, rowType) rows; nil means none.
	Collapsed func(project, rowType string) bool
}

// Renderer turns packed buckets plus cached measurements into bars.
type Renderer struct {
	cache     Lookuper
	packer    *layout.Packer
	rowHeight float64
	inset     float64
}

// NewRenderer creates a Renderer. Zero sizes fall back to the defaults.
func NewRenderer(cache Lookuper, packer *layout.Packer, rowHeight, inset float64) *Renderer {
	if rowHeight <= 0 {
		rowHeight = DefaultRowHeight
	}
	if inset < 0 {
		inset = DefaultInset
	}
	if packer == nil {
		packer = layout.NewPacker()
	}
	return &Renderer{cache: cache, packer: packer, rowHeight: rowHeight, inset: inset}
}

// Render computes the bars of one frame. Missing measurements drop the
// affected bars for this frame only; Render never fails because of them.
func (r *Renderer) Render(ctx context.Context, f Frame) []Bar {
	monthStart, monthEnd := timegrid.Bounds(f.Year, f.Month)
	bars := make([]Bar, 0)

	for _, project := range f.Projects {
		var (
			entry    measure.Entry
			measured bool
		)
		for _, rowType := range f.RowTypes {
			if f.Collapsed != nil && f.Collapsed(project, rowType) {
				continue
			}
			key := layout.BucketKey{Project: project, RowType: rowType}
			items := f.Buckets[key]
			if len(items) == 0 {
				continue
			}

			if !measured {
				e, err := r.cache.Lookup(ctx, project)
				if err != nil {
					appLog.Debug("overlay: measurement unavailable, skipping project", "project", project, "err", err)
					break
				}
				entry, measured = e, true
			}

			assignment := r.packer.Assign(key, layout.Intervals(items))
			for _, it := range items {
				if b, ok := r.place(entry, it, assignment, project, rowType, monthStart, monthEnd); ok {
					bars = append(bars, b)
				}
			}
		}
	}
	return bars
}

func (r *Renderer) place(entry measure.Entry, it layout.Item, a layout.Assignment, project, rowType string, monthStart, monthEnd time.Time) (Bar, bool) {
	startDay, endDay, truncS, truncE, ok := layout.Clip(it.Interval, monthStart, monthEnd)
	if !ok {
		return Bar{}, false
	}

	startRect, ok1 := entry.Cell(rowType, startDay)
	endRect, ok2 := entry.Cell(rowType, endDay)
	if !ok1 || !ok2 {
		// Collapsed or not yet measured; recovers on the next invalidation.
		return Bar{}, false
	}

	row, _ := a.Row(it.ID)
	container := entry.Container

	height := r.rowHeight - 2*r.inset
	if height < 1 {
		height = 1
	}

	b := Bar{
		ID:             it.ID,
		Kind:           it.Kind,
		KindName:       it.Kind.String(),
		Project:        project,
		RowType:        rowType,
		Row:            row,
		StartDay:       startDay,
		EndDay:         endDay,
		Left:           startRect.Left - container.Left,
		Width:          endRect.Right - startRect.Left,
		Top:            startRect.Top - container.Top + float64(row)*r.rowHeight + r.inset,
		Height:         height,
		TruncatedStart: truncS,
		TruncatedEnd:   truncE,
	}
	switch it.Kind {
	case layout.KindEvent:
		b.EntityID = it.Event.ID
		b.Label = it.Event.Name
		b.Recurring = it.Event.IsRecurring
	case layout.KindChannel:
		b.EntityID = it.Channel.ID
		b.Label = it.Channel.Name
	}
	return b, true
}
