package pagewatch

import (
	"github.com/hazyhaar/codementor/pagewatch/internal/config"
	"github.com/hazyhaar/codementor/pagewatch/internal/extract"
)

// Config is the top-level pagewatch configuration.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// PageConfig defines a page to observe.
type PageConfig = config.PageConfig

// TimingConfig overrides observer timings.
type TimingConfig = config.TimingConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// Selectors are the CSS selectors used to read problem fields.
type Selectors = extract.Selectors

// PagesSchema creates the watch_pages table.
const PagesSchema = config.Schema

// LoadConfigFile reads a YAML configuration file and applies CODEMENTOR_*
// environment overrides.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns the configuration used when no file is given
// (environment overrides still apply).
func DefaultConfig() (*Config, error) {
	return config.Parse(nil)
}

// DefaultSelectors returns the stock selectors.
func DefaultSelectors() Selectors {
	return extract.DefaultSelectors()
}
