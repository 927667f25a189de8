package web

import (
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"

	"promocal/internal/board"
	appLog "promocal/internal/log"
	"promocal/internal/model"
	"promocal/internal/overlay"
	"promocal/internal/virtual"
)

// Views of the /grid page.
//
// The live page carries the script that drives selection, the context menu,
// collapse, visibility and overlay bars. The measure page is what the
// headless measurer loads: no script, so loading it never asks for a new
// measurement. The preview page draws the bars server side for the PNG
// capture.
const (
	ViewLive    = "live"
	ViewMeasure = "measure"
	ViewPreview = "preview"
)

// gridTemplate renders the base grid. Every day cell carries its logical
// address in data-cell-key; that attribute is the only thing the measurer
// and the page script query. data-ready marks the page as settled.
var gridTemplate = template.Must(template.New("grid").Funcs(template.FuncMap{
	"cellKey": func(project, rowType string, day int) string {
		return model.CellKey{Project: project, RowType: rowType, Day: day}.String()
	},
}).Parse(`<!doctype html>
<html lang="ru">
<head>
<meta charset="utf-8">
<title>promocal {{.Year}}-{{printf "%02d" .Month}}</title>
<style>
  body { font-family: sans-serif; margin: 0; }
  .project { position: relative; margin-bottom: 16px; }
  .placeholder { background: #f4f4f4; }
  table { border-collapse: collapse; table-layout: fixed; }
  th.row { width: 140px; text-align: left; cursor: pointer; }
  td.cell { width: 32px; height: {{.RowHeight}}px; border: 1px solid #ddd; padding: 0; }
  td.off, th.off { background: #fbeaea; }
  td.selected { outline: 2px solid #2a6cd6; }
  .loading::after { content: "…"; }
  .bar { position: absolute; box-sizing: border-box; overflow: hidden; white-space: nowrap;
         font-size: 11px; padding: 0 4px; border-radius: 3px; background: #7aa7e8; pointer-events: none; }
  .bar.channel { background: #f0b45a; }
  .bar.trunc-start { border-top-left-radius: 0; border-bottom-left-radius: 0; border-left: 3px dashed #345; }
  .bar.trunc-end { border-top-right-radius: 0; border-bottom-right-radius: 0; border-right: 3px dashed #345; }
  .menu { position: absolute; list-style: none; margin: 0; padding: 4px 0; background: #fff; border: 1px solid #aaa; }
  .menu li { padding: 2px 12px; cursor: pointer; }
  .menu li.disabled { color: #aaa; cursor: default; }
</style>
</head>
<body>
<main data-ready="true" data-view="{{.View}}" data-year="{{.Year}}" data-month="{{.Month}}" data-observer='{{.Observer}}'>
{{- range .Slots}}
  {{- if eq .Status "placeholder"}}
  <section class="project placeholder" data-project="{{.Project}}" style="height: {{.Height}}px"></section>
  {{- else}}
  {{- $project := .Project}}
  <section class="project{{if eq .Status "loading"}} loading{{end}}" data-project="{{.Project}}" data-project-grid="{{.Project}}">
    <h2>{{.Project}}</h2>
    <table>
      <tr><th class="row"></th>{{range $.Columns}}<th class="{{if .Off}}off{{end}}">{{.Day}}<br>{{.Weekday}}</th>{{end}}</tr>
      {{- range $.RowTypes}}
      {{- $rowType := .}}
      {{- $height := call $.RowHeightOf $project $rowType}}
      <tr data-row-type="{{$rowType}}" style="height: {{$height}}px">
        <th class="row" data-collapse="{{$rowType}}">{{$rowType}}</th>
        {{- if not (call $.Collapsed $project $rowType)}}
        {{- range $.Columns}}
        <td class="cell{{if .Off}} off{{end}}" data-cell-key="{{cellKey $project $rowType .Day}}" style="height: {{$height}}px"></td>
        {{- end}}
        {{- end}}
      </tr>
      {{- end}}
    </table>
    {{- range index $.Bars $project}}
    <div class="bar {{.KindName}}{{if .TruncatedStart}} trunc-start{{end}}{{if .TruncatedEnd}} trunc-end{{end}}" data-bar="{{.ID}}" style="left: {{.Left}}px; top: {{.Top}}px; width: {{.Width}}px; height: {{.Height}}px">{{.Label}}</div>
    {{- end}}
  </section>
  {{- end}}
{{- end}}
</main>
{{- if eq .View "live"}}
<script>` + liveScript + `</script>
{{- end}}
</body>
</html>
`))

// liveScript wires the page to the JSON endpoints. Highlight changes come
// back with every input response and are patched onto single cells.
const liveScript = `
(function () {
  var main = document.querySelector("main[data-ready]");
  var observerCfg = JSON.parse(main.dataset.observer || "{}");

  function post(path, body) {
    return fetch(path, {
      method: "POST",
      headers: {"Content-Type": "application/json"},
      body: JSON.stringify(body || {})
    }).then(function (r) { return r.json(); });
  }

  function cellEl(key) {
    return document.querySelector('[data-cell-key="' + CSS.escape(key) + '"]');
  }

  function applyChanges(changes) {
    (changes || []).forEach(function (c) {
      var td = cellEl(c.cell);
      if (td) { td.classList.toggle("selected", c.selected); }
    });
  }

  function drawBars(bars) {
    document.querySelectorAll(".bar").forEach(function (b) { b.remove(); });
    (bars || []).forEach(function (b) {
      var host = document.querySelector('[data-project-grid="' + CSS.escape(b.project) + '"]');
      if (!host) { return; }
      var el = document.createElement("div");
      el.className = "bar " + b.kind + (b.truncated_start ? " trunc-start" : "") + (b.truncated_end ? " trunc-end" : "");
      el.dataset.bar = b.id;
      el.textContent = b.label;
      el.style.left = b.left + "px";
      el.style.top = b.top + "px";
      el.style.width = b.width + "px";
      el.style.height = b.height + "px";
      host.appendChild(el);
    });
  }

  function refreshOverlay() {
    return fetch("/api/overlay").then(function (r) { return r.json(); }).then(function (o) { drawBars(o.bars); });
  }

  function input(body) {
    return post("/api/input", body).then(function (r) { applyChanges(r.changes); });
  }

  function cellOf(e) {
    return e.target.closest ? e.target.closest("[data-cell-key]") : null;
  }

  var held = false;
  main.addEventListener("mousedown", function (e) {
    var td = cellOf(e);
    if (!td || e.button !== 0) { return; }
    held = true;
    input({type: "down", cell: td.dataset.cellKey, button: e.button, ctrl: e.ctrlKey, meta: e.metaKey, shift: e.shiftKey});
  });
  main.addEventListener("mouseover", function (e) {
    var td = cellOf(e);
    if (!td || !held) { return; }
    input({type: "move", cell: td.dataset.cellKey, held: (e.buttons & 1) === 1});
  });
  window.addEventListener("mouseup", function () {
    if (!held) { return; }
    held = false;
    input({type: "up"});
  });
  window.addEventListener("keydown", function (e) {
    if (e.key === "Escape") { input({type: "key", key: e.key}); }
  });

  var menu = document.createElement("ul");
  menu.className = "menu";
  menu.hidden = true;
  document.body.appendChild(menu);

  function openMenu(cell, m, x, y) {
    menu.replaceChildren();
    (m.items || []).forEach(function (it) {
      var li = document.createElement("li");
      li.textContent = it.action;
      if (!it.enabled) {
        li.className = "disabled";
      } else {
        li.addEventListener("click", function () {
          menu.hidden = true;
          post("/api/menu/run", {cell: cell, action: it.action}).then(function (r) {
            applyChanges(r.changes);
            return refreshOverlay();
          });
        });
      }
      menu.appendChild(li);
    });
    menu.style.left = x + "px";
    menu.style.top = y + "px";
    menu.hidden = false;
  }

  main.addEventListener("contextmenu", function (e) {
    var td = cellOf(e);
    if (!td) { return; }
    e.preventDefault();
    var cell = td.dataset.cellKey;
    post("/api/menu", {cell: cell}).then(function (m) {
      applyChanges(m.changes);
      openMenu(cell, m, e.pageX, e.pageY);
    });
  });

  document.addEventListener("click", function (e) {
    var t = e.target;
    if (t.closest && t.closest(".menu")) { return; }
    menu.hidden = true;
    var th = t.closest ? t.closest("[data-collapse]") : null;
    if (th) {
      var section = th.closest("[data-project]");
      post("/api/collapse", {project: section.dataset.project, row_type: th.dataset.collapse}).then(function () {
        location.reload();
      });
      return;
    }
    if (!cellOf(e)) { input({type: "outside"}); }
  });

  var pending = [];
  var frame = 0;
  function flush() {
    frame = 0;
    var reports = pending;
    pending = [];
    var doc = document.documentElement;
    post("/api/visibility", {
      reports: reports,
      scroll: {scroll_top: doc.scrollTop, viewport_height: window.innerHeight, document_height: doc.scrollHeight}
    }).then(function (v) {
      if (v.changed) { location.reload(); }
    });
  }
  function schedule() {
    if (!frame) { frame = requestAnimationFrame(flush); }
  }
  var io = new IntersectionObserver(function (entries) {
    entries.forEach(function (en) {
      pending.push({project: en.target.dataset.project, intersecting: en.isIntersecting, ratio: en.intersectionRatio});
    });
    schedule();
  }, {rootMargin: observerCfg.root_margin, threshold: observerCfg.thresholds});
  document.querySelectorAll("section[data-project]").forEach(function (s) { io.observe(s); });
  window.addEventListener("scroll", schedule, {passive: true});

  // The page has committed its layout: drop stale measurements, then draw.
  post("/api/settled").then(refreshOverlay);
})();
`

type gridPage struct {
	View      string
	Year      int
	Month     int
	RowHeight float64
	Observer  string
	Slots     []virtual.Slot
	Columns   []model.DayColumn
	RowTypes  []string
	// Bars is filled for the preview view only.
	Bars        map[string][]overlay.Bar
	RowHeightOf func(project, rowType string) float64
	Collapsed   func(project, rowType string) bool
}

// handleGrid renders the base grid of the displayed month.
//
// GET /grid?year=2025&month=3&view=live|measure|preview
func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if err := s.switchMonth(r.Context(), r); err != nil {
		appLog.Error("grid: month switch failed", err)
		writeError(w, http.StatusBadGateway, "failed to load month")
		return
	}

	view := r.URL.Query().Get("view")
	switch view {
	case ViewMeasure, ViewPreview:
	default:
		view = ViewLive
	}

	page := buildGridPage(s.board, s.cfg.Grid.RowHeight, view)
	if view == ViewPreview {
		// Measures through the measure view; never through this page.
		for _, bar := range s.board.Layout(r.Context()) {
			page.Bars[bar.Project] = append(page.Bars[bar.Project], bar)
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := gridTemplate.Execute(w, page); err != nil {
		appLog.Error("grid: template execution failed", err)
	}
}

func buildGridPage(b *board.Board, rowHeight float64, view string) gridPage {
	if rowHeight <= 0 {
		rowHeight = overlay.DefaultRowHeight
	}
	year, month := b.Month()
	vc := b.Virtual()
	observer, _ := json.Marshal(vc.ObserverConfig())
	return gridPage{
		View:      view,
		Year:      year,
		Month:     int(month),
		RowHeight: rowHeight,
		Observer:  string(observer),
		Slots:     vc.Slots(),
		Columns:   b.Columns(),
		RowTypes:  b.Vocabulary().RowTypes(),
		Bars:      make(map[string][]overlay.Bar),
		RowHeightOf: func(project, rowType string) float64 {
			if b.Collapsed(project, rowType) {
				return rowHeight
			}
			return float64(max(1, b.RowCount(project, rowType))) * rowHeight
		},
		Collapsed: b.Collapsed,
	}
}

// GridURL is the page the headless measurer and the preview capture load.
func GridURL(base string, year int, month int, view string) string {
	u := base + "/grid?year=" + strconv.Itoa(year) + "&month=" + strconv.Itoa(month)
	if view != "" && view != ViewLive {
		u += "&view=" + view
	}
	return u
}
