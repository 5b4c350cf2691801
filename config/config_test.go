package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "site.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SELECTORS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Site.ListingURL != "https://funpay.com/lots/612/" {
		t.Errorf("listing url = %q", cfg.Site.ListingURL)
	}
	if cfg.Delay() != 500*time.Millisecond {
		t.Errorf("delay = %s, want 500ms", cfg.Delay())
	}
	if cfg.Scraper.Fetcher != "http" {
		t.Errorf("fetcher = %q, want http", cfg.Scraper.Fetcher)
	}
	if cfg.Export.Bucket != "" {
		t.Errorf("export should be off by default")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SELECTORS_FILE", writeFile(t, "listing_url: https://yaml.example/lots/\n"))
	t.Setenv("LISTING_URL", "https://env.example/lots/")
	t.Setenv("SCRAPE_DELAY_MS", "1500")
	t.Setenv("SCRAPE_INTERVAL", "90m")
	t.Setenv("FETCH_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Site.ListingURL != "https://env.example/lots/" {
		t.Errorf("env should win over yaml, got %q", cfg.Site.ListingURL)
	}
	if cfg.Delay() != 1500*time.Millisecond {
		t.Errorf("delay = %s", cfg.Delay())
	}
	if cfg.Scheduler.Interval != 90*time.Minute {
		t.Errorf("interval = %s", cfg.Scheduler.Interval)
	}
	if cfg.Scraper.FetchTimeout != 30*time.Second {
		t.Errorf("bad duration should fall back to default, got %s", cfg.Scraper.FetchTimeout)
	}
}

func TestLoadSiteConfig_OverlaysDefaults(t *testing.T) {
	path := writeFile(t, `
name: Custom
selectors:
  server:
    label: Region
`)
	cfg := &Config{Site: DefaultSite()}
	if err := cfg.loadSiteConfig(path); err != nil {
		t.Fatalf("loadSiteConfig: %v", err)
	}

	if cfg.Site.Name != "Custom" {
		t.Errorf("name = %q", cfg.Site.Name)
	}
	if cfg.Site.Selectors.Server.Label != "Region" {
		t.Errorf("server label = %q", cfg.Site.Selectors.Server.Label)
	}
	if cfg.Site.Selectors.Server.Block != ".param-item" {
		t.Errorf("server block lost its default: %q", cfg.Site.Selectors.Server.Block)
	}
	if cfg.Site.Selectors.Price.Value != ".payment-value" {
		t.Errorf("price rule lost its default: %q", cfg.Site.Selectors.Price.Value)
	}
	if cfg.Site.BaseURL != "https://funpay.com" {
		t.Errorf("base url lost its default: %q", cfg.Site.BaseURL)
	}
}

func TestLoadSiteConfig_BadYAML(t *testing.T) {
	cfg := &Config{Site: DefaultSite()}
	if err := cfg.loadSiteConfig(writeFile(t, "selectors: [oops")); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestShippedSiteFileMatchesDefaults(t *testing.T) {
	cfg := &Config{Site: DefaultSite()}
	if err := cfg.loadSiteConfig("sites/funpay.yaml"); err != nil {
		t.Fatalf("loadSiteConfig: %v", err)
	}
	if cfg.Site.Selectors.Agents.Pattern == "" {
		t.Error("shipped file should narrow the agents count with a pattern")
	}
	if cfg.Site.Selectors.Offer != DefaultSite().Selectors.Offer {
		t.Errorf("offer selector = %q", cfg.Site.Selectors.Offer)
	}
}
