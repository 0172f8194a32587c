package mentor

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codementor.yaml")
	yaml := `
mentor:
  db_path: /tmp/cm.db
  listen: 127.0.0.1:9000
  ask_per_minute: 3
  watch_interval: 1s
pagewatch:
  pages: []
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CODEMENTOR_LISTEN", "127.0.0.1:9100")
	t.Setenv("CODEMENTOR_SQL_TRACE", "true")

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "/tmp/cm.db" || cfg.AskPerMinute != 3 || cfg.WatchInterval != time.Second {
		t.Errorf("file values: %+v", cfg)
	}
	if cfg.Listen != "127.0.0.1:9100" || !cfg.SQLTrace {
		t.Errorf("env overrides: listen=%q sql_trace=%v", cfg.Listen, cfg.SQLTrace)
	}
	if cfg.RatePerMinute != 20 || cfg.HistoryDays != 30 || cfg.WatchDebounce != 250*time.Millisecond {
		t.Errorf("defaults: %+v", cfg)
	}
}

func TestLoadConfigFile_EnvOnly(t *testing.T) {
	t.Setenv("CODEMENTOR_MASTER_KEY", "a passphrase from the environment")
	cfg, err := LoadConfigFile("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MasterKey != "a passphrase from the environment" || cfg.DBPath != "codementor.db" {
		t.Errorf("config: %+v", cfg)
	}
}

func TestLoadConfigFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("mentor: [unclosed"), 0o644)
	if _, err := LoadConfigFile(path); err == nil {
		t.Fatal("expected error")
	}
}
