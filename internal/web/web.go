package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"promocal/internal/board"
	"promocal/internal/config"
	"promocal/internal/ics"
	appLog "promocal/internal/log"
	"promocal/internal/measure"
	"promocal/internal/overlay"
)

// Server hosts the grid page and the JSON API driving one Board.
type Server struct {
	cfg        *config.Config
	board      *board.Board
	highlights *Highlights
	mux        *http.ServeMux

	// In-memory cache for /api/overlay responses, keyed by the measurement
	// generation, to avoid re-running layout on every poll.
	overlayMu    sync.RWMutex
	overlayCache *overlayCache
}

// NewServer constructs a new Server. h must be the Presenter the board was
// created with.
func NewServer(cfg *config.Config, b *board.Board, h *Highlights) *Server {
	if h == nil {
		h = NewHighlights()
	}
	s := &Server{
		cfg:        cfg,
		board:      b,
		highlights: h,
		mux:        http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials count as disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="PromoCal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/grid", s.handleGrid)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/overlay", s.handleOverlay)
	s.mux.HandleFunc("/api/input", s.handleInput)
	s.mux.HandleFunc("/api/menu", s.handleMenu)
	s.mux.HandleFunc("/api/menu/run", s.handleMenuRun)
	s.mux.HandleFunc("/api/copy", s.handleCopy)
	s.mux.HandleFunc("/api/paste", s.handlePaste)
	s.mux.HandleFunc("/api/collapse", s.handleCollapse)
	s.mux.HandleFunc("/api/visibility", s.handleVisibility)
	s.mux.HandleFunc("/api/settled", s.handleSettled)
	s.mux.HandleFunc("/api/export.ics", s.handleExport)
	s.mux.HandleFunc("/preview.png", s.handlePreview)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePreview serves the last captured grid PNG from the cache dir.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, PreviewPath(s.cfg))
}

// PreviewPath is where the grid screenshot is written and served from.
func PreviewPath(cfg *config.Config) string {
	return filepath.Join(cfg.CacheDir, "preview.png")
}

// handleEvents returns the loaded entities of the displayed month.
//
// GET /api/events?year=2025&month=3
//   - year/month: switch the displayed month first (both optional)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if err := s.switchMonth(r.Context(), r); err != nil {
		appLog.Error("api events: month switch failed", err)
		writeError(w, http.StatusBadGateway, "failed to load month")
		return
	}

	year, month := s.board.Month()
	events := s.board.Events()
	channels := s.board.Channels()

	resp := eventsResponse{
		Year:      year,
		Month:     int(month),
		Events:    make([]eventDTO, 0, len(events)),
		Channels:  make([]channelDTO, 0, len(channels)),
		Truncated: s.board.Truncated(),
	}
	for _, ev := range events {
		resp.Events = append(resp.Events, toEventDTO(ev))
	}
	for _, ch := range channels {
		resp.Channels = append(resp.Channels, toChannelDTO(ch))
	}
	writeJSON(w, http.StatusOK, resp)
}

// overlayCache holds a cached /api/overlay response and its generation.
type overlayCache struct {
	gen       measure.Generation
	resp      overlayResponse
	updatedAt time.Time
}

// handleOverlay returns the positioned bars of the mounted projects.
func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	ttl := s.cfg.MeasureTTL()
	gen := s.board.Generation()
	now := time.Now()

	// Fast path: same generation and still fresh.
	s.overlayMu.RLock()
	oc := s.overlayCache
	s.overlayMu.RUnlock()
	if oc != nil && oc.gen == gen && now.Sub(oc.updatedAt) < ttl {
		writeJSON(w, http.StatusOK, oc.resp)
		return
	}

	bars := s.board.Layout(r.Context())
	if bars == nil {
		bars = []overlay.Bar{}
	}
	resp := overlayResponse{Generation: gen.String(), Bars: bars}

	s.overlayMu.Lock()
	s.overlayCache = &overlayCache{gen: gen, resp: resp, updatedAt: time.Now()}
	s.overlayMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// handleExport serves the displayed month as an iCalendar file.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	year, month := s.board.Month()
	name := "promocal " + strconv.Itoa(year) + "-" + twoDigits(int(month))
	body := ics.Export(name, s.board.Events(), s.board.Channels(), time.Now().UTC())

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="promocal-`+strconv.Itoa(year)+"-"+twoDigits(int(month))+`.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

// switchMonth applies optional ?year=&month= query parameters.
func (s *Server) switchMonth(ctx context.Context, r *http.Request) error {
	q := r.URL.Query()
	if q.Get("year") == "" && q.Get("month") == "" {
		return nil
	}
	curYear, curMonth := s.board.Month()
	year := parseIntDefault(q.Get("year"), curYear)
	month := parseIntDefault(q.Get("month"), int(curMonth))
	if month < 1 || month > 12 || year < 1970 || year > 9999 {
		return errors.New("web: year/month out of range")
	}
	return s.board.SetMonth(ctx, year, time.Month(month))
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// decodeJSON reads a small JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func twoDigits(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// errorsAggregate joins error messages for a single log line.
func errorsAggregate(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	var b strings.Builder
	for i, e := range errs {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(e.Error())
	}
	return errors.New(b.String())
}
