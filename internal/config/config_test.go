package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:8080" || cfg.Virtualization.MaxMounted != 6 {
		t.Errorf("defaults = %+v", cfg)
	}

	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if st.Mode().Perm() != 0o600 {
		t.Errorf("perm = %v, want 0600", st.Mode().Perm())
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(again.PromoTypes) != len(cfg.PromoTypes) || again.Grid.RowHeight != cfg.Grid.RowHeight {
		t.Errorf("reloaded = %+v", again)
	}
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "listen: 0.0.0.0:9000\nprojects: [A, B]\ngrid:\n  measure_ttl_ms: 5000\nvirtualization:\n  max_mounted: 3\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9000" || len(cfg.Projects) != 2 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.MeasureTTL() != 300*time.Millisecond {
		t.Errorf("MeasureTTL = %v, want clamped 300ms", cfg.MeasureTTL())
	}
	if cfg.Virtualization.MaxMounted != 3 || cfg.LoadingDebounce() != 150*time.Millisecond {
		t.Errorf("virtualization = %+v", cfg.Virtualization)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad cron", func(c *Config) { c.RefreshCron = "every minute" }},
		{"shared row type", func(c *Config) { c.ChannelTypes = append(c.ChannelTypes, c.PromoTypes[0]) }},
		{"empty holiday url", func(c *Config) { c.Holidays = []HolidayFeed{{ID: "ru"}} }},
		{"unknown timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		if err := cfg.Validate(); err != nil {
			t.Fatalf("default config invalid: %v", err)
		}
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate() = nil", tt.name)
		}
	}
}

func TestLocation(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.Location().String(); got != "Europe/Moscow" {
		t.Errorf("Location() = %s, want Europe/Moscow", got)
	}
	cfg.Timezone = "Mars/Olympus"
	if got := cfg.Location(); got != time.UTC {
		t.Errorf("Location() for an unknown zone = %s, want UTC", got)
	}
}
