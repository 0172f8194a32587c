package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/codementor/pagewatch/internal/observer"
)

//go:embed observer.js
var observerJS string

const bindingName = "__codementor_binding"

// probeTimeout bounds the capability probe.
const probeTimeout = 2 * time.Second

// Tab is one observed page. It implements observer.Page: the injected
// script installs MutationObservers on request and reports them through a
// CDP binding, which Tab turns into observer.Signal values.
type Tab struct {
	Page   *rod.Page
	PageID string

	logger  *slog.Logger
	signals chan observer.Signal
	cancel  context.CancelFunc
	removes []func() error
}

// OpenTab creates a tab, installs the observer runtime on every new
// document, navigates to pageURL and starts relaying signals.
func OpenTab(ctx context.Context, mgr *Manager, pageURL, pageID string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	cfg := mgr.cfg

	var page *rod.Page
	var err error
	if cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if len(cfg.ResourceBlocking) > 0 {
		blockResources(page, cfg.ResourceBlocking)
	}

	t := &Tab{
		Page:    page,
		PageID:  pageID,
		logger:  cfg.Logger.With("page_id", pageID),
		signals: make(chan observer.Signal, 256),
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: add binding: %w", err)
	}
	remove, err := page.EvalOnNewDocument(observerJS)
	if err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: install observer: %w", err)
	}
	t.removes = append(t.removes, remove)

	navCtx, cancel := context.WithTimeout(ctx, cfg.NavigateTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		t.logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	// Documents created before EvalOnNewDocument took effect.
	if _, err := page.Eval(`() => {` + observerJS + `}`); err != nil {
		t.logger.Warn("browser: inject observer", "error", err)
	}

	listenCtx, stop := context.WithCancel(context.Background())
	t.cancel = stop
	go t.listen(listenCtx)

	return t, nil
}

// Signals delivers watch notifications and document loads. It is closed
// when the tab is closed.
func (t *Tab) Signals() <-chan observer.Signal {
	return t.signals
}

func (t *Tab) listen(ctx context.Context) {
	defer close(t.signals)
	t.Page.Context(ctx).EachEvent(
		func(e *proto.RuntimeBindingCalled) {
			if e.Name != bindingName {
				return
			}
			var msg struct {
				Watch string `json:"watch"`
			}
			if err := json.Unmarshal([]byte(e.Payload), &msg); err != nil || msg.Watch == "" {
				t.logger.Debug("browser: bad binding payload", "payload", e.Payload)
				return
			}
			t.emit(msg.Watch)
		},
		func(e *proto.PageLoadEventFired) {
			t.emit(observer.WatchDocument)
		},
	)()
}

func (t *Tab) emit(watch string) {
	select {
	case t.signals <- observer.Signal{Watch: watch, At: time.Now()}:
	default:
		t.logger.Debug("browser: signal dropped, consumer behind", "watch", watch)
	}
}

// HTML serialises the live DOM.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	res, err := t.Page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return res.Value.Str(), nil
}

// URL returns location.href.
func (t *Tab) URL(ctx context.Context) (string, error) {
	res, err := t.Page.Context(ctx).Eval(`() => location.href`)
	if err != nil {
		return "", fmt.Errorf("browser: get url: %w", err)
	}
	return res.Value.Str(), nil
}

// Alive reports whether scripts still evaluate and both the observer
// runtime and the binding are present.
func (t *Tab) Alive(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	res, err := t.Page.Context(ctx).Eval(`(name) => typeof window.__codementor === 'object' && typeof window[name] === 'function'`, bindingName)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}

// Attach installs the MutationObserver described by w.
func (t *Tab) Attach(ctx context.Context, w observer.Watch) (bool, error) {
	res, err := t.Page.Context(ctx).Eval(`(w) => window.__codementor.attach(w)`, w)
	if err != nil {
		return false, fmt.Errorf("browser: attach %s: %w", w.ID, err)
	}
	return res.Value.Bool(), nil
}

// Detach disconnects the observer registered under id.
func (t *Tab) Detach(ctx context.Context, id string) error {
	if _, err := t.Page.Context(ctx).Eval(`(id) => window.__codementor && window.__codementor.detach(id)`, id); err != nil {
		return fmt.Errorf("browser: detach %s: %w", id, err)
	}
	return nil
}

// Close stops the signal relay and closes the tab.
func (t *Tab) Close() error {
	if t.cancel != nil {
		t.cancel()
	}
	for _, remove := range t.removes {
		_ = remove()
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}

var _ observer.Page = (*Tab)(nil)
