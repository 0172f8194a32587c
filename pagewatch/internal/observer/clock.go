package observer

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock schedules the controller's timers. clockwork.Clock satisfies it;
// tests substitute a manual clock that fires callbacks synchronously.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) clockwork.Timer
}

// Timing holds every delay and bound the controller uses.
type Timing struct {
	// StartupDelay defers the first session after Run. Default: 1s.
	StartupDelay time.Duration `yaml:"startup_delay"`
	// LoadPollInterval is the spacing of landmark checks. Default: 500ms.
	LoadPollInterval time.Duration `yaml:"load_poll_interval"`
	// LoadMaxAttempts bounds the landmark checks. Default: 40.
	LoadMaxAttempts int `yaml:"load_max_attempts"`
	// RetryInterval spaces init and language retries. Default: 1s.
	RetryInterval time.Duration `yaml:"retry_interval"`
	// MaxRetries bounds init and language retries. Default: 3.
	MaxRetries int `yaml:"max_retries"`
	// ContentDebounce is the editor/language quiet period. Default: 500ms.
	ContentDebounce time.Duration `yaml:"content_debounce"`
	// PageDebounce is the navigation/injection quiet period. Default: 1s.
	PageDebounce time.Duration `yaml:"page_debounce"`
}

// DefaultTiming returns the stock timings.
func DefaultTiming() Timing {
	var t Timing
	t.applyDefaults()
	return t
}

func (t *Timing) applyDefaults() {
	if t.StartupDelay <= 0 {
		t.StartupDelay = time.Second
	}
	if t.LoadPollInterval <= 0 {
		t.LoadPollInterval = 500 * time.Millisecond
	}
	if t.LoadMaxAttempts <= 0 {
		t.LoadMaxAttempts = 40
	}
	if t.RetryInterval <= 0 {
		t.RetryInterval = time.Second
	}
	if t.MaxRetries <= 0 {
		t.MaxRetries = 3
	}
	if t.ContentDebounce <= 0 {
		t.ContentDebounce = 500 * time.Millisecond
	}
	if t.PageDebounce <= 0 {
		t.PageDebounce = time.Second
	}
}
