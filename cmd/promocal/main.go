package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"promocal/internal/api"
	"promocal/internal/board"
	"promocal/internal/capture"
	"promocal/internal/config"
	"promocal/internal/ics"
	appLog "promocal/internal/log"
	"promocal/internal/model"
	"promocal/internal/timegrid"
	"promocal/internal/virtual"
	"promocal/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	month      string
	once       bool
	dump       bool
}

func main() {
	appLog.Info("promocal starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	loc := conf.Location()
	year, month, err := resolveMonth(flags.month, time.Now().In(loc))
	if err != nil {
		appLog.Error("invalid -month", err, "month", flags.month)
		os.Exit(2)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"api_base_url", conf.APIBaseURL,
		"refresh", conf.RefreshCron,
		"projects", len(conf.Projects),
		"holiday_feeds", len(conf.Holidays),
		"month", fmt.Sprintf("%04d-%02d", year, int(month)),
		"once", flags.once,
		"dump", flags.dump,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(conf.CacheDir, 0o700); err != nil {
		appLog.Error("failed to create cache dir", err, "dir", conf.CacheDir)
		os.Exit(1)
	}

	client := api.NewClient(conf.APIBaseURL)
	holidays := refreshHolidays(ctx, conf)

	// The measurer follows the board's displayed month.
	var b *board.Board
	measurer := capture.NewDOMMeasurer(ctx, capture.MeasurerOptions{
		URL: func() string {
			y, m := b.Month()
			return pageURL(conf, y, m, web.ViewMeasure)
		},
	})
	defer measurer.Close()

	highlights := web.NewHighlights()
	b = board.New(client, measurer, board.Options{
		Year:             year,
		Month:            month,
		Projects:         conf.Projects,
		Vocabulary:       model.NewVocabulary(conf.PromoTypes, conf.ChannelTypes),
		Holidays:         holidays,
		RowHeight:        conf.Grid.RowHeight,
		RowInset:         conf.Grid.RowInset,
		MeasureTTL:       conf.MeasureTTL(),
		MeasureCacheSize: conf.Grid.MeasureCacheSize,
		Virtual: virtual.Options{
			Buffer:            conf.Virtualization.Buffer,
			MaxMounted:        conf.Virtualization.MaxMounted,
			LookaheadPx:       conf.Virtualization.LookaheadPx,
			Thresholds:        conf.Virtualization.Thresholds,
			LoadingDebounce:   conf.LoadingDebounce(),
			PlaceholderHeight: conf.Virtualization.PlaceholderHeight,
			ScrollEdgePx:      conf.Virtualization.ScrollEdgePx,
		},
		FillShiftRange: conf.Selection.FillShiftRange,
		Presenter:      highlights,
		Handlers: board.Handlers{
			EventsChanged: func() { appLog.Info("entities changed; grid reloaded") },
		},
	})
	defer b.Close()

	if err := b.Load(ctx); err != nil {
		appLog.Error("initial load failed", err)
		if flags.once {
			os.Exit(1)
		}
	}

	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, b, highlights).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if flags.once || flags.dump {
		if flags.dump {
			runDump(ctx, conf, b)
		}
		shutdown(srv)
		appLog.Info("promocal exiting")
		return
	}

	sched := cron.New(cron.WithLocation(loc))
	_, err = sched.AddFunc(conf.RefreshCron, func() {
		appLog.Info("scheduled refresh")
		b.SetHolidays(refreshHolidays(ctx, conf))
		if err := b.Load(ctx); err != nil {
			appLog.Error("scheduled reload failed", err)
			return
		}
		y, m := b.Month()
		if err := capture.CaptureGridPNG(ctx, capture.CaptureOptions{URL: pageURL(conf, y, m, web.ViewPreview), OutputPath: web.PreviewPath(conf)}); err != nil {
			appLog.Error("preview capture failed", err)
		}
	})
	if err != nil {
		// Validate already parsed the expression.
		appLog.Error("failed to schedule refresh", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	sched.Start()

	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err, ok := <-serveErr:
		if ok {
			appLog.Error("HTTP server failed", err)
		}
	}

	<-sched.Stop().Done()
	shutdown(srv)
	appLog.Info("promocal exiting")
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}
}

// refreshHolidays fetches every configured feed and merges their dates.
// Failing feeds fall back to their disk cache inside the fetcher.
func refreshHolidays(ctx context.Context, conf *config.Config) timegrid.Dates {
	dates := timegrid.Dates{}
	if len(conf.Holidays) == 0 {
		return dates
	}

	feeds := make([]ics.Feed, 0, len(conf.Holidays))
	for _, h := range conf.Holidays {
		id := h.ID
		if id == "" {
			if h.Name != "" {
				id = h.Name
			} else {
				id = h.URL
			}
		}
		feeds = append(feeds, ics.Feed{ID: id, URL: h.URL})
	}

	fetcher := ics.NewFetcher(filepath.Join(conf.CacheDir, "ics-cache"))
	results, errs := fetcher.FetchAll(ctx, feeds)
	if len(errs) > 0 {
		appLog.Warn("one or more holiday feeds failed", "error_count", len(errs))
	}
	for _, res := range results {
		n, err := ics.ParseHolidays(res.Feed, res.Body, dates)
		if err != nil {
			appLog.Error("holiday feed parse failed", err, "id", res.Feed.ID)
			continue
		}
		appLog.Debug("holiday feed parsed", "id", res.Feed.ID, "dates", n, "from_cache", res.FromCache)
	}
	return dates
}

// pageURL is the grid page the browser measures and captures.
func pageURL(conf *config.Config, year int, month time.Month, view string) string {
	base := conf.Grid.PageURL
	if base == "" {
		base = "http://" + conf.Listen
	}
	base = strings.TrimRight(base, "/")
	if conf.BasicAuth != nil && conf.BasicAuth.Username != "" {
		if u, err := url.Parse(base); err == nil {
			u.User = url.UserPassword(conf.BasicAuth.Username, conf.BasicAuth.Password)
			base = u.String()
		}
	}
	return web.GridURL(base, year, int(month), view)
}

// runDump writes the debug artifacts: the laid-out overlay, an iCalendar
// export and a PNG capture of the grid.
func runDump(ctx context.Context, conf *config.Config, b *board.Board) {
	year, month := b.Month()
	bars := b.Layout(ctx)
	appLog.Info("dump: overlay computed", "bars", len(bars), "generation", b.Generation().String())

	icsPath := filepath.Join(conf.CacheDir, fmt.Sprintf("promocal-%04d-%02d.ics", year, int(month)))
	body := ics.Export(fmt.Sprintf("promocal %04d-%02d", year, int(month)), b.Events(), b.Channels(), time.Now().UTC())
	if err := os.WriteFile(icsPath, []byte(body), 0o644); err != nil {
		appLog.Error("dump: failed to write ics", err, "path", icsPath)
	} else {
		appLog.Info("dump: wrote ics", "path", icsPath)
	}

	png := web.PreviewPath(conf)
	if err := capture.CaptureGridPNG(ctx, capture.CaptureOptions{URL: pageURL(conf, year, month, web.ViewPreview), OutputPath: png}); err != nil {
		appLog.Error("dump: grid capture failed", err)
		return
	}
	appLog.Info("dump: wrote preview", "path", png)
}

// resolveMonth parses "YYYY-MM"; empty means the month of now.
func resolveMonth(s string, now time.Time) (int, time.Month, error) {
	if s == "" {
		return now.Year(), now.Month(), nil
	}
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return 0, 0, err
	}
	return t.Year(), t.Month(), nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/promocal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.month, "month", "", "Initial month as YYYY-MM (default: current month)")
	flag.BoolVar(&cfg.once, "once", false, "Load the month once, then exit")
	flag.BoolVar(&cfg.dump, "dump", false, "Dump debug artifacts (month .ics, preview.png) and exit")

	flag.Parse()

	return cfg
}
