package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/chromedp"
)

// Default capture parameters for the grid preview.
// These should match the layout used by the /grid page.
const (
	DefaultWidth      = 1920
	DefaultHeight     = 1080
	DefaultTimeoutSec = 30
)

// readySelector is set by the /grid page once layout has settled.
const readySelector = `[data-ready="true"]`

// CaptureOptions defines parameters for a Chromium-based screenshot capture.
type CaptureOptions struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/grid?year=2025&month=3".
	URL string

	// OutputPath is where the PNG screenshot will be written, e.g.
	// "/var/lib/promocal/preview.png".
	OutputPath string

	// Width and Height are the viewport dimensions in pixels. If zero,
	// DefaultWidth / DefaultHeight are used.
	Width  int
	Height int

	// Timeout bounds the entire capture operation. If zero, a sane default
	// (DefaultTimeoutSec) is used.
	Timeout time.Duration
}

// CaptureGridPNG launches a headless Chromium instance via chromedp,
// navigates to opts.URL, waits for the grid to signal that layout has
// settled and captures a full-page PNG screenshot.
//
// Rendering-complete condition:
//   - The /grid root element exposes a data-ready attribute:
//     <main data-ready="true" ...>
//   - This function waits until `[data-ready="true"]` is visible before
//     taking the screenshot.
func CaptureGridPNG(parentCtx context.Context, opts CaptureOptions) error {
	if opts.URL == "" {
		return fmt.Errorf("capture: URL is required")
	}
	if opts.OutputPath == "" {
		return fmt.Errorf("capture: OutputPath is required")
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(readySelector, chromedp.ByQuery),
		chromedp.FullScreenshot(&png, 100),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := os.WriteFile(opts.OutputPath, png, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}

	return nil
}

// measureScript collects the container rect and every addressed cell rect
// of one project grid, relative to the viewport. It returns null when the
// container is not rendered.
const measureScript = `(function (project) {
  var root = document.querySelector('[data-project-grid="' + CSS.escape(project) + '"]');
  if (!root) { return null; }
  var rect = function (el) {
    var b = el.getBoundingClientRect();
    return {left: b.left, top: b.top, right: b.right, bottom: b.bottom};
  };
  var cells = {};
  root.querySelectorAll('[data-cell-key]').forEach(function (el) {
    cells[el.getAttribute('data-cell-key')] = rect(el);
  });
  return {container: rect(root), cells: cells};
})(%s)`

func scriptFor(project string) (string, error) {
	arg, err := json.Marshal(project)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(measureScript, arg), nil
}
