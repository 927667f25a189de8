package web

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"promocal/internal/board"
	"promocal/internal/clipboard"
	appLog "promocal/internal/log"
	"promocal/internal/model"
	"promocal/internal/selection"
	"promocal/internal/timegrid"
	"promocal/internal/virtual"
)

// HighlightChange is one cell whose highlight must be flipped by the page.
type HighlightChange struct {
	Cell     string `json:"cell"`
	Selected bool   `json:"selected"`
}

// changeSet collects the highlight changes of one request. It is only
// written under the board's selection lock.
type changeSet []HighlightChange

func (c *changeSet) Apply(key model.CellKey, selected bool) {
	*c = append(*c, HighlightChange{Cell: key.String(), Selected: selected})
}

// merge prepends orphan changes (month switches) to the request's own.
func (c changeSet) merge(orphans []HighlightChange) []HighlightChange {
	return append(orphans, c...)
}

// Highlights is the board's default selection Presenter. Requests collect
// their own changes; Highlights only queues changes no request caused, such
// as the clear of a month switch, and hands them to the next response so the
// page patches single cells instead of re-rendering the grid.
type Highlights struct {
	mu      sync.Mutex
	changes []HighlightChange
}

// NewHighlights creates an empty queue.
func NewHighlights() *Highlights { return &Highlights{} }

// Apply implements selection.Presenter.
func (h *Highlights) Apply(key model.CellKey, selected bool) {
	h.mu.Lock()
	h.changes = append(h.changes, HighlightChange{Cell: key.String(), Selected: selected})
	h.mu.Unlock()
}

// Drain returns and clears the queued changes.
func (h *Highlights) Drain() []HighlightChange {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.changes
	h.changes = nil
	if out == nil {
		out = []HighlightChange{}
	}
	return out
}

func toRangeDTO(r selection.Range) rangeDTO {
	return rangeDTO{
		Project:  r.Project,
		RowType:  r.RowType,
		StartDay: r.StartDay,
		EndDay:   r.EndDay,
		Start:    r.Start,
		End:      r.End,
	}
}

// handleInput feeds one pointer/keyboard event into the selection machine.
func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req inputRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var cell model.CellKey
	if req.Type == "down" || req.Type == "move" {
		k, err := model.ParseCellKey(req.Cell)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cell = k
	}

	var (
		state   selection.State
		changes changeSet
	)
	s.board.SelectWith(&changes, func(c *selection.Controller) {
		switch req.Type {
		case "down":
			c.MouseDown(cell, selection.Button(req.Button), selection.Modifiers{Ctrl: req.Ctrl, Meta: req.Meta, Shift: req.Shift})
		case "move":
			c.MouseMove(cell, req.Held)
		case "up":
			c.MouseUp()
		case "key":
			c.KeyDown(req.Key)
		case "outside":
			c.ClickOutside()
		}
		state = c.State()
	})

	writeJSON(w, http.StatusOK, inputResponse{State: state.String(), Changes: changes.merge(s.highlights.Drain())})
}

// handleMenu opens the context menu on a cell.
func (s *Server) handleMenu(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req menuRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var changes changeSet
	m, ok := s.openMenu(w, req.Cell, &changes)
	if !ok {
		return
	}

	resp := menuResponse{Range: toRangeDTO(m.Range), Items: m.Items, Changes: changes.merge(s.highlights.Drain())}
	if m.Target != nil {
		resp.Target = m.Target.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMenuRun re-derives the menu on a cell and runs one of its entries.
func (s *Server) handleMenuRun(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req menuRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var changes changeSet
	m, ok := s.openMenu(w, req.Cell, &changes)
	if !ok {
		return
	}

	res, err := s.board.RunWith(r.Context(), &changes, m, board.Action(req.Action))
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	resp := runResponse{Changes: changes.merge(s.highlights.Drain())}
	if res.Buffer != nil {
		b := toBufferDTO(*res.Buffer)
		resp.Buffer = &b
	}
	if res.Report != nil {
		s.logReport(*res.Report)
		rep := toReportDTO(*res.Report)
		resp.Report = &rep
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) openMenu(w http.ResponseWriter, raw string, changes *changeSet) (board.Menu, bool) {
	cell, err := model.ParseCellKey(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return board.Menu{}, false
	}
	m, ok := s.board.OpenMenuWith(changes, cell)
	if !ok {
		writeError(w, http.StatusBadRequest, "cell is outside the grid")
		return board.Menu{}, false
	}
	return m, true
}

// handleCopy copies a day range of one row.
func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req copyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	year, month := s.board.Month()
	days := timegrid.DaysIn(year, month)
	if req.StartDay < 1 || req.EndDay > days || req.StartDay > req.EndDay {
		writeError(w, http.StatusBadRequest, "day range is outside the displayed month")
		return
	}

	rng := selection.Range{
		Project:  req.Project,
		RowType:  req.RowType,
		StartDay: req.StartDay,
		EndDay:   req.EndDay,
		Start:    time.Date(year, month, req.StartDay, 0, 0, 0, 0, time.UTC),
		End:      time.Date(year, month, req.EndDay, 23, 59, 59, 0, time.UTC),
	}
	buf, err := s.board.CopyRange(rng, req.IncludeChannels)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBufferDTO(buf))
}

// handlePaste pastes the clipboard at a (project, day) of the displayed
// month.
func (s *Server) handlePaste(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req pasteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rep, err := s.board.Paste(r.Context(), req.Project, req.Day)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.logReport(rep)

	status := http.StatusOK
	if !rep.OK() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, toReportDTO(rep))
}

func (s *Server) logReport(rep clipboard.Report) {
	if rep.Failed > 0 {
		appLog.Error("paste finished with failures", errorsAggregate(rep.Errors),
			"created", rep.Created, "failed", rep.Failed)
	}
}

func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, clipboard.ErrEmpty):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, clipboard.ErrPasteInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, board.ErrActionDisabled):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, board.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		appLog.Error("grid action failed", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// handleCollapse toggles a row's collapsed state.
func (s *Server) handleCollapse(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req collapseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.board.Vocabulary().Contains(req.RowType) {
		writeError(w, http.StatusBadRequest, "unknown row type")
		return
	}
	collapsed := s.board.ToggleCollapse(req.Project, req.RowType)
	writeJSON(w, http.StatusOK, map[string]bool{"collapsed": collapsed})
}

// handleVisibility applies one animation frame of visibility reports and
// the optional scroll-proximity check.
func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req visibilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	vc := s.board.Virtual()
	reports := make([]virtual.Report, 0, len(req.Reports))
	for _, rep := range req.Reports {
		reports = append(reports, virtual.Report{Project: rep.Project, Intersecting: rep.Intersecting, Ratio: rep.Ratio})
	}
	vc.Report(reports...)
	changed := vc.Frame()

	var requested []string
	if req.Scroll != nil {
		requested = vc.ScrollCheck(*req.Scroll)
		changed = changed || len(requested) > 0
	}
	if vc.Tick(time.Now()) {
		changed = true
	}
	if changed {
		// Newly mounted containers move the ones below them.
		s.board.LayoutSettled()
	}

	writeJSON(w, http.StatusOK, visibilityResponse{
		Changed:   changed,
		Requested: requested,
		Observer:  vc.ObserverConfig(),
		Slots:     vc.Slots(),
	})
}

// handleSettled is the page's "layout settled" signal after a
// layout-affecting transition (collapse animation, resize).
func (s *Server) handleSettled(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	s.board.LayoutSettled()
	now := time.Now()
	for _, p := range s.board.Virtual().ProjectsToRender() {
		s.board.Virtual().ContentReady(p, now)
	}
	writeJSON(w, http.StatusOK, map[string]string{"generation": s.board.Generation().String()})
}
