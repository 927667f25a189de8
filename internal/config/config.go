package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// HolidayFeed is an ICS subscription whose events mark holiday columns.
type HolidayFeed struct {
	URL  string `yaml:"url" json:"url"`
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// GridConfig tunes overlay geometry and the measurement cache.
type GridConfig struct {
	RowHeight float64 `yaml:"row_height" json:"row_height"`
	RowInset  float64 `yaml:"row_inset" json:"row_inset"`

	// MeasureTTLMillis bounds how long a measurement may be served.
	MeasureTTLMillis int `yaml:"measure_ttl_ms" json:"measure_ttl_ms"`
	MeasureCacheSize int `yaml:"measure_cache_size" json:"measure_cache_size"`

	// PageURL is the rendered grid the headless browser measures. Empty means
	// this server's own /grid page.
	PageURL string `yaml:"page_url" json:"page_url"`
}

// VirtualizationConfig tunes which projects are mounted at once.
type VirtualizationConfig struct {
	MaxMounted        int       `yaml:"max_mounted" json:"max_mounted"`
	Buffer            int       `yaml:"buffer" json:"buffer"`
	LookaheadPx       int       `yaml:"lookahead_px" json:"lookahead_px"`
	Thresholds        []float64 `yaml:"thresholds" json:"thresholds"`
	LoadingDebounceMs int       `yaml:"loading_debounce_ms" json:"loading_debounce_ms"`
	PlaceholderHeight int       `yaml:"placeholder_height" json:"placeholder_height"`
	ScrollEdgePx      int       `yaml:"scroll_edge_px" json:"scroll_edge_px"`
}

// SelectionConfig tunes the selection state machine.
type SelectionConfig struct {
	// FillShiftRange makes shift-click fill the range instead of selecting
	// only the two endpoints.
	FillShiftRange bool `yaml:"fill_shift_range" json:"fill_shift_range"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the grid host and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone decides the current month at startup and the refresh
	// schedule's clock. Entity dates are UTC.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// APIBaseURL is the CRUD service root, e.g. "http://127.0.0.1:8000/api".
	APIBaseURL string `yaml:"api_base_url" json:"api_base_url"`

	// RefreshCron is a cron schedule for reloading entities and holiday feeds.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// CacheDir stores holiday feed bodies and the grid preview.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// Projects is the ordered project list shown on the grid.
	Projects []string `yaml:"projects" json:"projects"`

	// PromoTypes and ChannelTypes are the ordered row vocabularies.
	PromoTypes   []string `yaml:"promo_types" json:"promo_types"`
	ChannelTypes []string `yaml:"channel_types" json:"channel_types"`

	Holidays []HolidayFeed `yaml:"holidays" json:"holidays"`

	Grid           GridConfig           `yaml:"grid" json:"grid"`
	Virtualization VirtualizationConfig `yaml:"virtualization" json:"virtualization"`
	Selection      SelectionConfig      `yaml:"selection" json:"selection"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

var (
	defaultPromoTypes   = []string{"Турниры", "Акции", "Кешбэк", "Лотереи"}
	defaultChannelTypes = []string{"Push", "Email", "SMS", "Баннер", "Соцсети"}
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{
		Listen:       "127.0.0.1:8080",
		Timezone:     "Europe/Moscow",
		LogLevel:     "info",
		APIBaseURL:   "http://127.0.0.1:8000/api",
		RefreshCron:  "*/10 * * * *",
		CacheDir:     "/var/lib/promocal",
		Projects:     []string{},
		PromoTypes:   append([]string(nil), defaultPromoTypes...),
		ChannelTypes: append([]string(nil), defaultChannelTypes...),
		Holidays:     []HolidayFeed{},
	}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Europe/Moscow"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/10 * * * *"
	}
	if c.CacheDir == "" {
		c.CacheDir = "/var/lib/promocal"
	}
	if c.Projects == nil {
		c.Projects = []string{}
	}
	if len(c.PromoTypes) == 0 {
		c.PromoTypes = append([]string(nil), defaultPromoTypes...)
	}
	if len(c.ChannelTypes) == 0 {
		c.ChannelTypes = append([]string(nil), defaultChannelTypes...)
	}
	if c.Holidays == nil {
		c.Holidays = []HolidayFeed{}
	}

	g := &c.Grid
	if g.RowHeight <= 0 {
		g.RowHeight = 24
	}
	if g.RowInset < 0 || g.RowInset >= g.RowHeight/2 {
		g.RowInset = 2
	}
	// Measurements older than a few frames are suspect; keep the TTL short.
	if g.MeasureTTLMillis < 200 || g.MeasureTTLMillis > 500 {
		g.MeasureTTLMillis = 300
	}
	if g.MeasureCacheSize <= 0 {
		g.MeasureCacheSize = 64
	}

	v := &c.Virtualization
	if v.MaxMounted <= 0 {
		v.MaxMounted = 6
	}
	if v.Buffer < 0 {
		v.Buffer = 2
	}
	if v.LookaheadPx <= 0 {
		v.LookaheadPx = 600
	}
	if len(v.Thresholds) == 0 {
		v.Thresholds = []float64{0, 0.1, 0.25, 0.5, 0.75, 1}
	}
	if v.LoadingDebounceMs <= 0 {
		v.LoadingDebounceMs = 150
	}
	if v.PlaceholderHeight <= 0 {
		v.PlaceholderHeight = 400
	}
	if v.ScrollEdgePx <= 0 {
		v.ScrollEdgePx = 800
	}
}

// Validate reports settings Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("config: refresh %q: %w", c.RefreshCron, err)
	}
	seen := make(map[string]bool)
	for _, t := range append(append([]string(nil), c.PromoTypes...), c.ChannelTypes...) {
		if seen[t] {
			return fmt.Errorf("config: row type %q appears in both vocabularies or twice", t)
		}
		seen[t] = true
	}
	for i, h := range c.Holidays {
		if h.URL == "" {
			return fmt.Errorf("config: holidays[%d]: url is empty", i)
		}
	}
	return nil
}

// Location returns the configured timezone, UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// MeasureTTL returns the measurement cache TTL.
func (c *Config) MeasureTTL() time.Duration {
	return time.Duration(c.Grid.MeasureTTLMillis) * time.Millisecond
}

// LoadingDebounce returns the placeholder loading debounce.
func (c *Config) LoadingDebounce() time.Duration {
	return time.Duration(c.Virtualization.LoadingDebounceMs) * time.Millisecond
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     permissions and returned.
//   - Otherwise the YAML is read, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg atomically (temp file + rename) with 0600 permissions,
// creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".promocal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
