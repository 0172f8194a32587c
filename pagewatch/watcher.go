// Package pagewatch keeps a live problem snapshot for coding-problem pages
// opened in a headless Chrome. Each page gets an observer controller that
// waits for the page to load, extracts title, description, difficulty,
// language and editor contents, and re-extracts on relevant DOM changes.
//
// pagewatch observes, it does not interpret: events go to sinks (stdout,
// webhook, callback) for consumers such as the mentor store.
package pagewatch

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/codementor/guard"
	"github.com/hazyhaar/codementor/pagewatch/internal/browser"
	"github.com/hazyhaar/codementor/pagewatch/internal/config"
	"github.com/hazyhaar/codementor/pagewatch/internal/observer"
	"github.com/hazyhaar/codementor/pagewatch/internal/sink"
)

// Watcher is the top-level orchestrator: one browser, one controller per
// observed page, shared sinks.
type Watcher struct {
	cfg    *config.Config
	mgr    *browser.Manager
	sinkR  *sink.Router
	logger *slog.Logger

	mu    sync.Mutex
	ctx   context.Context
	pages map[string]*pageRun
}

type pageRun struct {
	cfg    config.PageConfig
	tab    *browser.Tab
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Watcher from configuration.
func New(cfg *Config, logger *slog.Logger, sinks ...Sink) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	mode := browser.ModeHeadless
	if cfg.Browser.Mode == "headful" {
		mode = browser.ModeHeadful
	}
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		Mode:             mode,
		Stealth:          cfg.Browser.StealthEnabled(),
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           logger,
	})
	return &Watcher{
		cfg:    cfg,
		mgr:    mgr,
		sinkR:  sink.NewRouter(logger, sinks...),
		logger: logger,
		ctx:    context.Background(),
		pages:  make(map[string]*pageRun),
	}
}

// Start launches the browser and begins observing all configured pages.
func (w *Watcher) Start(ctx context.Context) error {
	if _, err := w.mgr.Start(ctx); err != nil {
		return fmt.Errorf("pagewatch: start browser: %w", err)
	}
	w.mu.Lock()
	w.ctx = ctx
	w.mu.Unlock()

	w.mgr.SetRecycleCallback(&browser.RecycleCallback{
		BeforeRecycle: w.stopAll,
		AfterRecycle:  func(*rod.Browser) { w.reopenAll() },
	})

	for _, p := range w.cfg.Pages {
		if err := w.ObservePage(ctx, p); err != nil {
			w.logger.Error("pagewatch: failed to observe page", "url", p.URL, "error", err)
		}
	}
	return nil
}

// ObservePage opens a tab on p.URL and starts its controller. Observing
// an already observed ID replaces it.
func (w *Watcher) ObservePage(ctx context.Context, p PageConfig) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if old, ok := w.pages[p.ID]; ok {
		old.stop()
		delete(w.pages, p.ID)
	}
	return w.observeLocked(ctx, p)
}

func (w *Watcher) observeLocked(ctx context.Context, p config.PageConfig) error {
	tab, err := browser.OpenTab(ctx, w.mgr, p.URL, p.ID)
	if err != nil {
		return fmt.Errorf("pagewatch: open tab: %w", err)
	}

	ctrl := observer.New(observer.Config{
		PageID:        p.ID,
		Page:          tab,
		Sink:          w.sinkR,
		Selectors:     w.cfg.Selectors,
		Timing:        w.timing(),
		ProblemMarker: w.cfg.ProblemMarker,
		Logger:        w.logger,
	})

	runCtx, cancel := context.WithCancel(w.ctx)
	run := &pageRun{cfg: p, tab: tab, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(run.done)
		_ = ctrl.Run(runCtx)
	}()
	go func() {
		for sig := range tab.Signals() {
			ctrl.Notify(sig)
		}
	}()

	w.pages[p.ID] = run
	w.logger.Info("pagewatch: observing page", "url", p.URL, "page_id", p.ID)
	return nil
}

// StopPage stops observing a page. It reports whether the page was observed.
func (w *Watcher) StopPage(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	run, ok := w.pages[id]
	if !ok {
		return false
	}
	run.stop()
	delete(w.pages, id)
	w.logger.Info("pagewatch: stopped page", "page_id", id)
	return true
}

// Pages lists the observed page IDs.
func (w *Watcher) Pages() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.pages))
	for id := range w.pages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stop shuts down all controllers, the sinks and the browser.
func (w *Watcher) Stop() {
	w.stopAll()
	if err := w.sinkR.Close(); err != nil {
		w.logger.Warn("pagewatch: close sinks", "error", err)
	}
	if err := w.mgr.Close(); err != nil {
		w.logger.Warn("pagewatch: close browser", "error", err)
	}
}

// WatchDB observes the active rows of watch_pages alongside the configured
// pages, reconciling whenever the table changes. Blocks until ctx is done.
func (w *Watcher) WatchDB(ctx context.Context, db *sql.DB) {
	if err := w.syncDB(ctx, db); err != nil {
		w.logger.Warn("pagewatch: initial page sync failed", "error", err)
	}
	config.WatchPages(db, w.logger).OnChange(ctx, func() error {
		return w.syncDB(ctx, db)
	})
}

func (w *Watcher) syncDB(ctx context.Context, db *sql.DB) error {
	rows, err := config.LoadPages(ctx, db)
	if err != nil {
		return err
	}
	want := make(map[string]config.PageConfig, len(rows)+len(w.cfg.Pages))
	for _, p := range w.cfg.Pages {
		want[p.ID] = p
	}
	for _, p := range rows {
		want[p.ID] = p
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for id, run := range w.pages {
		if p, ok := want[id]; !ok || p.URL != run.cfg.URL {
			run.stop()
			delete(w.pages, id)
		}
	}
	for id, p := range want {
		if _, ok := w.pages[id]; ok {
			continue
		}
		if err := w.observeLocked(ctx, p); err != nil {
			w.logger.Error("pagewatch: observe page failed", "page_id", id, "error", err)
		}
	}
	return nil
}

// AddPage stores a page in watch_pages; a running WatchDB picks it up.
func AddPage(ctx context.Context, db *sql.DB, id, url string) error {
	if err := guard.ValidateIdentifier(id); err != nil {
		return err
	}
	if _, err := guard.CheckScheme(url); err != nil {
		return err
	}
	return config.PutPage(ctx, db, config.PageConfig{ID: id, URL: url})
}

// RemovePage pauses a stored page.
func RemovePage(ctx context.Context, db *sql.DB, id string) (bool, error) {
	return config.PausePage(ctx, db, id)
}

// ListPages returns the active stored pages.
func ListPages(ctx context.Context, db *sql.DB) ([]PageConfig, error) {
	return config.LoadPages(ctx, db)
}

func (w *Watcher) timing() observer.Timing {
	t := w.cfg.Timing
	return observer.Timing{
		StartupDelay:     t.StartupDelay,
		LoadPollInterval: t.LoadPollInterval,
		LoadMaxAttempts:  t.LoadMaxAttempts,
		RetryInterval:    t.RetryInterval,
		MaxRetries:       t.MaxRetries,
		ContentDebounce:  t.ContentDebounce,
		PageDebounce:     t.PageDebounce,
	}
}

func (w *Watcher) stopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, run := range w.pages {
		run.stop()
		w.logger.Info("pagewatch: stopped page", "page_id", id)
	}
}

func (w *Watcher) reopenAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	old := w.pages
	w.pages = make(map[string]*pageRun, len(old))
	for _, run := range old {
		if err := w.observeLocked(w.ctx, run.cfg); err != nil {
			w.logger.Error("pagewatch: reopen page failed", "url", run.cfg.URL, "error", err)
		}
	}
}

// stop cancels the controller, waits for it to detach its watches, then
// closes the tab.
func (r *pageRun) stop() {
	r.cancel()
	<-r.done
	if err := r.tab.Close(); err != nil {
		slog.Debug("pagewatch: close tab", "page_id", r.cfg.ID, "error", err)
	}
}
