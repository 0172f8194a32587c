// Package watch turns writes to a SQLite database into change
// notifications: poll a version token, debounce, run an action, then fan
// the new version out to subscribers.
//
// Writers bump PRAGMA user_version inside their transaction (Bump), so
// changes made by other processes sharing the file are seen the same way
// as local ones.
//
//	w := watch.New(db, watch.Options{Interval: 200 * time.Millisecond, Debounce: 250 * time.Millisecond})
//	go w.OnChange(ctx, func() error { return nil })
//	ch, cancel := w.Subscribe()
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ChangeDetector reads a version token. Two different values mean
// "something changed".
type ChangeDetector func(ctx context.Context, db *sql.DB) (int64, error)

// Options tunes the watcher.
type Options struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period between detecting a change and running
	// the action. 0 fires immediately.
	Debounce time.Duration
	// Detector defaults to PragmaUserVersion.
	Detector ChangeDetector
	Logger   *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Detector == nil {
		o.Detector = PragmaUserVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls a database and notifies on change. Safe for concurrent use.
type Watcher struct {
	db   *sql.DB
	opts Options

	version atomic.Int64

	mu   sync.Mutex
	subs map[chan int64]struct{}

	checks  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
	reloads atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Checks          int64 `json:"checks"`
	ChangesDetected int64 `json:"changes_detected"`
	Errors          int64 `json:"errors"`
	Reloads         int64 `json:"reloads"`
	Subscribers     int   `json:"subscribers"`
}

// New creates a Watcher. Call OnChange to start the loop.
func New(db *sql.DB, opts Options) *Watcher {
	opts.defaults()
	return &Watcher{db: db, opts: opts, subs: make(map[chan int64]struct{})}
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	n := len(w.subs)
	w.mu.Unlock()
	return Stats{
		Checks:          w.checks.Load(),
		ChangesDetected: w.changes.Load(),
		Errors:          w.errors.Load(),
		Reloads:         w.reloads.Load(),
		Subscribers:     n,
	}
}

// Version returns the last processed version token.
func (w *Watcher) Version() int64 { return w.version.Load() }

// Subscribe returns a channel receiving each processed version. Slow
// subscribers only ever see the latest version: a pending value is
// replaced, never queued. cancel must be called to release the channel.
func (w *Watcher) Subscribe() (<-chan int64, func()) {
	ch := make(chan int64, 1)
	w.mu.Lock()
	w.subs[ch] = struct{}{}
	w.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.subs, ch)
			w.mu.Unlock()
		})
	}
}

// OnChange blocks until ctx is cancelled. When the detector reports a new
// version and the debounce window passes, action runs; on success the
// version is recorded and published to subscribers. A failed action is
// retried on the next poll.
func (w *Watcher) OnChange(ctx context.Context, action func() error) {
	log := w.opts.Logger

	if v, err := w.opts.Detector(ctx, w.db); err != nil {
		log.Warn("watch: initial version check failed", "error", err)
	} else {
		w.version.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceC <-chan time.Time
	pending := int64(-1)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.opts.Detector(ctx, w.db)
			if err != nil {
				w.errors.Add(1)
				log.Warn("watch: version check failed", "error", err)
				continue
			}
			if cur == w.version.Load() || cur == pending {
				continue
			}
			w.changes.Add(1)
			pending = cur
			if w.opts.Debounce <= 0 {
				w.fire(action, pending)
				pending = -1
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(w.opts.Debounce)
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			if pending >= 0 {
				w.fire(action, pending)
				pending = -1
			}
		}
	}
}

func (w *Watcher) fire(action func() error, ver int64) {
	if action != nil {
		if err := action(); err != nil {
			w.errors.Add(1)
			w.opts.Logger.Error("watch: action failed", "version", ver, "error", err)
			return
		}
	}
	w.reloads.Add(1)
	w.version.Store(ver)
	w.publish(ver)
	w.opts.Logger.Debug("watch: change processed", "version", ver)
}

func (w *Watcher) publish(ver int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for ch := range w.subs {
		select {
		case <-ch:
		default:
		}
		ch <- ver
	}
}

// PragmaUserVersion reads PRAGMA user_version, the revision counter
// maintained by Bump.
func PragmaUserVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Bump increments PRAGMA user_version. Call it inside the transaction that
// performs the write so the revision and the data commit together.
func Bump(ctx context.Context, ex Execer) error {
	var v int64
	if err := ex.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return err
	}
	// PRAGMA does not accept bound parameters.
	_, err := ex.ExecContext(ctx, "PRAGMA user_version = "+strconv.FormatInt(v+1, 10))
	return err
}
