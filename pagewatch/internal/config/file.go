// Package config holds pagewatch configuration: YAML files, CODEMENTOR_*
// environment overrides and the watch_pages table.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/codementor/pagewatch/internal/extract"
)

// Config is the top-level pagewatch configuration.
type Config struct {
	Browser       BrowserConfig     `yaml:"browser"`
	Pages         []PageConfig      `yaml:"pages"`
	Timing        TimingConfig      `yaml:"timing"`
	Selectors     extract.Selectors `yaml:"selectors"`
	ProblemMarker string            `yaml:"problem_marker"`
	Sinks         []SinkConfig      `yaml:"sinks"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Mode             string        `yaml:"mode"` // headless | headful
	Stealth          *bool         `yaml:"stealth"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// StealthEnabled reports the effective stealth setting (default on).
func (b BrowserConfig) StealthEnabled() bool {
	return b.Stealth == nil || *b.Stealth
}

// PageConfig defines a page to observe.
type PageConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// TimingConfig mirrors the observer timings. Zero values take defaults.
type TimingConfig struct {
	StartupDelay     time.Duration `yaml:"startup_delay"`
	LoadPollInterval time.Duration `yaml:"load_poll_interval"`
	LoadMaxAttempts  int           `yaml:"load_max_attempts"`
	RetryInterval    time.Duration `yaml:"retry_interval"`
	MaxRetries       int           `yaml:"max_retries"`
	ContentDebounce  time.Duration `yaml:"content_debounce"`
	PageDebounce     time.Duration `yaml:"page_debounce"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type    string `yaml:"type"` // stdout | webhook
	URL     string `yaml:"url"`  // for webhook
	Retries int    `yaml:"retries"`
}

// env lists the CODEMENTOR_* overrides applied on top of the file.
type env struct {
	BrowserRemote string `envconfig:"BROWSER_REMOTE"`
	BrowserMode   string `envconfig:"BROWSER_MODE"`
	PageURL       string `envconfig:"PAGE_URL"`
	ProblemMarker string `envconfig:"PROBLEM_MARKER"`
	WebhookURL    string `envconfig:"WEBHOOK_URL"`
}

// LoadFile reads a YAML configuration file, applies environment overrides
// and fills defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies environment overrides and
// fills defaults. Empty data yields the default configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: yaml: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	var e env
	if err := envconfig.Process("codementor", &e); err != nil {
		return fmt.Errorf("config: env: %w", err)
	}
	if e.BrowserRemote != "" {
		c.Browser.Remote = e.BrowserRemote
	}
	if e.BrowserMode != "" {
		c.Browser.Mode = e.BrowserMode
	}
	if e.ProblemMarker != "" {
		c.ProblemMarker = e.ProblemMarker
	}
	if e.PageURL != "" {
		c.Pages = append(c.Pages, PageConfig{URL: e.PageURL})
	}
	if e.WebhookURL != "" {
		c.Sinks = append(c.Sinks, SinkConfig{Type: "webhook", URL: e.WebhookURL})
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	if c.ProblemMarker == "" {
		c.ProblemMarker = "/problems/"
	}
	c.Selectors = c.Selectors.WithDefaults()
	for i := range c.Pages {
		if c.Pages[i].ID == "" {
			c.Pages[i].ID = fmt.Sprintf("page-%d", i+1)
		}
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type == "webhook" && c.Sinks[i].Retries <= 0 {
			c.Sinks[i].Retries = 3
		}
	}
}

func (c *Config) validate() error {
	switch c.Browser.Mode {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.mode %q: want headless or headful", c.Browser.Mode)
	}
	seen := make(map[string]bool, len(c.Pages))
	for _, p := range c.Pages {
		if p.URL == "" {
			return fmt.Errorf("config: page %q: url is required", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate page id %q", p.ID)
		}
		seen[p.ID] = true
	}
	for _, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: webhook sink: url is required")
			}
		default:
			return fmt.Errorf("config: unknown sink type %q", s.Type)
		}
	}
	return nil
}
