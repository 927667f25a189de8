package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	appLog "promocal/internal/log"
	"promocal/internal/measure"
	"promocal/internal/model"
)

// MeasurerOptions configure a DOMMeasurer.
type MeasurerOptions struct {
	// URL returns the grid page to measure. It is consulted on every Measure
	// so the page follows the displayed month.
	URL func() string

	Width   int
	Height  int
	Timeout time.Duration
}

// DOMMeasurer implements measure.Measurer against a headless browser: it
// loads the grid page, waits for the ready marker and reads cell rectangles
// through getBoundingClientRect.
type DOMMeasurer struct {
	opts MeasurerOptions

	mu      sync.Mutex
	browser context.Context
	cancel  context.CancelFunc
}

// NewDOMMeasurer starts a browser bound to parent. Close releases it.
func NewDOMMeasurer(parent context.Context, opts MeasurerOptions) *DOMMeasurer {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	browser, cancel := chromedp.NewContext(parent)
	return &DOMMeasurer{opts: opts, browser: browser, cancel: cancel}
}

type rawMeasurement struct {
	Container *measure.Rect           `json:"container"`
	Cells     map[string]measure.Rect `json:"cells"`
}

// Measure implements measure.Measurer.
func (m *DOMMeasurer) Measure(ctx context.Context, project string) (measure.Measurement, error) {
	if m.opts.URL == nil {
		return measure.Measurement{}, fmt.Errorf("capture: measurer has no page URL")
	}
	url := m.opts.URL()
	script, err := scriptFor(project)
	if err != nil {
		return measure.Measurement{}, err
	}

	// Tabs are serialized; a browser per project would be wasteful.
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser.Err() != nil {
		return measure.Measurement{}, fmt.Errorf("capture: browser closed: %w", m.browser.Err())
	}

	tab, cancel := chromedp.NewContext(m.browser)
	defer cancel()
	tab, timeoutCancel := context.WithTimeout(tab, m.opts.Timeout)
	defer timeoutCancel()
	stop := context.AfterFunc(ctx, timeoutCancel)
	defer stop()

	var raw rawMeasurement
	start := time.Now()
	err = chromedp.Run(tab,
		chromedp.EmulateViewport(int64(m.opts.Width), int64(m.opts.Height)),
		chromedp.Navigate(url),
		chromedp.WaitVisible(readySelector, chromedp.ByQuery),
		chromedp.Evaluate(script, &raw),
	)
	if err != nil {
		return measure.Measurement{}, fmt.Errorf("capture: measure %q: %w", project, err)
	}

	out, err := toMeasurement(project, raw)
	if err != nil {
		return measure.Measurement{}, err
	}
	appLog.Debug("capture: measured project", "project", project, "cells", len(out.Cells),
		"elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}

// Close shuts the browser down.
func (m *DOMMeasurer) Close() {
	m.cancel()
}

// toMeasurement keys rects by (rowType, day). Foreign or malformed keys are
// skipped.
func toMeasurement(project string, raw rawMeasurement) (measure.Measurement, error) {
	if raw.Container == nil {
		return measure.Measurement{}, measure.ErrNoContainer
	}
	out := measure.Measurement{
		Container: *raw.Container,
		Cells:     make(map[measure.Slot]measure.Rect, len(raw.Cells)),
	}
	for s, r := range raw.Cells {
		k, err := model.ParseCellKey(s)
		if err != nil {
			appLog.Debug("capture: skipping malformed cell key", "key", s)
			continue
		}
		if k.Project != project {
			continue
		}
		out.Cells[measure.Slot{RowType: k.RowType, Day: k.Day}] = r
	}
	return out, nil
}
