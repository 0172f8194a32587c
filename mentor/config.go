package mentor

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds the mentor configuration. In a shared YAML file it lives
// under the mentor key.
type Config struct {
	DBPath        string        `yaml:"db_path" envconfig:"DB_PATH"`
	Listen        string        `yaml:"listen" envconfig:"LISTEN"`
	MasterKey     string        `yaml:"master_key" envconfig:"MASTER_KEY"`
	OpenAIURL     string        `yaml:"openai_url" envconfig:"OPENAI_URL"`
	OpenAIModel   string        `yaml:"openai_model" envconfig:"OPENAI_MODEL"`
	GoogleURL     string        `yaml:"google_url" envconfig:"GOOGLE_URL"`
	GoogleModel   string        `yaml:"google_model" envconfig:"GOOGLE_MODEL"`
	RatePerMinute int           `yaml:"rate_per_minute" envconfig:"RATE_PER_MINUTE"`
	AskPerMinute  int           `yaml:"ask_per_minute" envconfig:"ASK_PER_MINUTE"`
	HistoryDays   int           `yaml:"history_days" envconfig:"HISTORY_DAYS"`
	WatchInterval time.Duration `yaml:"watch_interval" envconfig:"WATCH_INTERVAL"`
	WatchDebounce time.Duration `yaml:"watch_debounce" envconfig:"WATCH_DEBOUNCE"`
	SQLTrace      bool          `yaml:"sql_trace" envconfig:"SQL_TRACE"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "codementor.db"
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8765"
	}
	if c.RatePerMinute <= 0 {
		c.RatePerMinute = 20
	}
	if c.AskPerMinute <= 0 {
		c.AskPerMinute = 10
	}
	if c.HistoryDays <= 0 {
		c.HistoryDays = 30
	}
	if c.WatchInterval <= 0 {
		c.WatchInterval = 200 * time.Millisecond
	}
	if c.WatchDebounce <= 0 {
		c.WatchDebounce = 250 * time.Millisecond
	}
}

// LoadConfigFile reads the mentor section of a YAML config file and applies
// CODEMENTOR_* environment overrides. An empty path reads only the
// environment.
func LoadConfigFile(path string) (*Config, error) {
	var file struct {
		Mentor Config `yaml:"mentor"`
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("mentor: config: %w", err)
		}
	}
	cfg := &file.Mentor
	// Only set variables override the file.
	if err := envconfig.Process("codementor", cfg); err != nil {
		return nil, fmt.Errorf("mentor: config env: %w", err)
	}
	cfg.defaults()
	return cfg, nil
}
