// Package observer keeps an up-to-date problem snapshot for one page.
//
// A Controller owns a single event loop. Timer callbacks and page signals
// are posted to that loop, so controller and session state is never
// touched concurrently. Each (re)initialisation creates a fresh session;
// the previous one is closed first so its watches and timers can no longer
// fire into the new state.
package observer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hazyhaar/codementor/idgen"
	"github.com/hazyhaar/codementor/pagewatch/internal/extract"
	"github.com/hazyhaar/codementor/pagewatch/internal/sink"
	"github.com/hazyhaar/codementor/problem"
)

// DefaultProblemMarker is the URL path fragment identifying a problem page.
const DefaultProblemMarker = "/problems/"

// outboxSize bounds the events waiting for the sink. When full, the oldest
// is dropped: a newer snapshot supersedes it.
const outboxSize = 16

// Config for creating a Controller.
type Config struct {
	PageID        string
	Page          Page
	Sink          sink.Sink
	Selectors     extract.Selectors
	Timing        Timing
	ProblemMarker string
	Clock         Clock
	Logger        *slog.Logger
	// NewID generates session and snapshot IDs. Default: idgen.New.
	NewID func() string
}

// Controller drives the observation of one page.
type Controller struct {
	pageID string
	page   Page
	sink   sink.Sink
	sel    extract.Selectors
	timing Timing
	marker string
	clock  Clock
	logger *slog.Logger
	newID  func() string

	queue chan func()
	done  chan struct{}
	post  func(func())

	// outbox decouples the loop from slow sinks; enqueue is replaced by a
	// direct send when the loop runs inline in tests.
	outbox  chan problem.Event
	enqueue func(problem.Event)

	// Loop-owned state.
	ctx          context.Context
	session      *session
	initializing bool
	lastURL      string
	nav          *debouncer
	desc         *debouncer
	startup      clockwork.Timer
}

// New creates a Controller. Run must be called to start it.
func New(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.NewID == nil {
		cfg.NewID = idgen.New
	}
	if cfg.ProblemMarker == "" {
		cfg.ProblemMarker = DefaultProblemMarker
	}
	if cfg.Sink == nil {
		cfg.Sink = sink.NewCallback(nil)
	}
	cfg.Timing.applyDefaults()
	sel := cfg.Selectors.WithDefaults()

	c := &Controller{
		pageID: cfg.PageID,
		page:   cfg.Page,
		sink:   cfg.Sink,
		sel:    sel,
		timing: cfg.Timing,
		marker: cfg.ProblemMarker,
		clock:  cfg.Clock,
		logger: cfg.Logger.With("page_id", cfg.PageID),
		newID:  cfg.NewID,
		queue:  make(chan func(), 64),
		done:   make(chan struct{}),
		outbox: make(chan problem.Event, outboxSize),
		ctx:    context.Background(),
	}
	c.enqueue = c.push
	c.post = func(f func()) {
		select {
		case c.queue <- f:
		case <-c.done:
		}
	}
	c.nav = newDebouncer(c.clock, c.timing.PageDebounce, func(f func()) { c.post(f) }, c.onNavigate)
	c.desc = newDebouncer(c.clock, c.timing.PageDebounce, func(f func()) { c.post(f) }, c.onDescriptionInjected)
	return c
}

// Run starts observation and blocks until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.start(ctx)
	delivered := make(chan struct{})
	go c.deliver(delivered)
	defer func() {
		close(c.outbox)
		<-delivered
		close(c.done)
	}()
	for {
		select {
		case <-ctx.Done():
			c.stop()
			return nil
		case f := <-c.queue:
			f()
		}
	}
}

// Notify delivers a page signal. Safe to call from any goroutine.
func (c *Controller) Notify(sig Signal) {
	c.post(func() { c.handleSignal(sig) })
}

func (c *Controller) start(ctx context.Context) {
	c.ctx = ctx
	if url, err := c.page.URL(ctx); err == nil {
		c.lastURL = url
	}
	c.attachPageWatches()
	c.scheduleStartup()
	c.logger.Info("observer: started", "url", c.lastURL)
}

func (c *Controller) stop() {
	if c.startup != nil {
		c.startup.Stop()
	}
	c.nav.Cancel()
	c.desc.Cancel()
	c.closeSession()

	ctx, cancel := c.detachContext()
	defer cancel()
	for _, id := range []string{WatchNavigation, WatchDescription} {
		_ = c.page.Detach(ctx, id)
	}
	c.logger.Info("observer: stopped")
}

// scheduleStartup initialises the first session after StartupDelay.
func (c *Controller) scheduleStartup() {
	if c.startup != nil {
		c.startup.Stop()
	}
	c.startup = c.clock.AfterFunc(c.timing.StartupDelay, func() {
		c.post(func() {
			c.startup = nil
			c.initialize(false)
		})
	})
}

// attachPageWatches installs the document-wide navigation watch and the
// description-injection watch.
func (c *Controller) attachPageWatches() {
	for _, w := range []Watch{
		{ID: WatchNavigation, Selectors: []string{"html"}, ChildList: true, Subtree: true},
		{ID: WatchDescription, Selectors: []string{"body"}, ChildList: true, Subtree: true, Added: c.sel.DescriptionBlock},
	} {
		if _, err := c.page.Attach(c.ctx, w); err != nil {
			c.logger.Warn("observer: attach page watch failed", "watch", w.ID, "error", err)
		}
	}
}

func (c *Controller) handleSignal(sig Signal) {
	switch {
	case sig.Watch == WatchNavigation:
		c.nav.Trigger()
	case sig.Watch == WatchDescription:
		c.desc.Trigger()
	case sig.Watch == WatchDocument:
		c.onDocument()
	case c.session != nil && c.session.owns(sig.Watch):
		c.session.content.Trigger()
	default:
		c.logger.Debug("observer: stale signal dropped", "watch", sig.Watch)
	}
}

// onDocument handles a full document load: injected observers are gone,
// so page watches are reinstalled and observation restarts from scratch.
func (c *Controller) onDocument() {
	c.nav.Cancel()
	c.desc.Cancel()
	c.closeSession()
	c.attachPageWatches()

	url, err := c.page.URL(c.ctx)
	if err != nil {
		c.logger.Warn("observer: read url failed", "error", err)
		return
	}
	c.lastURL = url
	if !c.isProblem(url) {
		c.forward(problem.Cleared(c.pageID, url, c.clock.Now().UnixMilli()))
		return
	}
	c.scheduleStartup()
}

// onNavigate runs after the page has been quiet for PageDebounce. A new
// problem URL resets the session; leaving the problem pages clears it.
func (c *Controller) onNavigate() {
	url, err := c.page.URL(c.ctx)
	if err != nil {
		c.logger.Warn("observer: read url failed", "error", err)
		return
	}
	if url == c.lastURL {
		return
	}
	c.lastURL = url
	c.logger.Info("observer: navigation detected", "url", url)

	if c.isProblem(url) {
		c.initialize(true)
		return
	}
	c.closeSession()
	c.forward(problem.Cleared(c.pageID, url, c.clock.Now().UnixMilli()))
}

// onDescriptionInjected re-initialises after the description block was
// inserted by a client-side route change.
func (c *Controller) onDescriptionInjected() {
	if c.initializing {
		c.logger.Debug("observer: description injected during initialisation, ignored")
		return
	}
	if c.session != nil {
		c.session.log.Debug("observer: description content loaded, re-running detector")
	}
	c.initialize(false)
}

// initialize replaces the current session. Unless force is set it is a
// no-op while another session is still initialising.
func (c *Controller) initialize(force bool) {
	if c.initializing && !force {
		return
	}
	c.closeSession()
	c.initializing = true
	s := newSession(c)
	c.session = s
	s.init()
}

// initDone ends the initialising phase if s is still current.
func (c *Controller) initDone(s *session) {
	if c.session == s {
		c.initializing = false
	}
}

func (c *Controller) closeSession() {
	if c.session == nil {
		return
	}
	c.session.close()
	c.session = nil
	c.initializing = false
}

func (c *Controller) isProblem(url string) bool {
	return strings.Contains(url, c.marker)
}

// document captures and parses the live DOM.
func (c *Controller) document() (*extract.Document, error) {
	src, err := c.page.HTML(c.ctx)
	if err != nil {
		return nil, err
	}
	url, err := c.page.URL(c.ctx)
	if err != nil {
		url = c.lastURL
	}
	return extract.Parse(src, url, c.sel)
}

// forward hands an event to the sink without waiting for it.
func (c *Controller) forward(ev problem.Event) {
	c.enqueue(ev)
}

// push queues ev for the delivery goroutine, evicting the oldest pending
// event when the outbox is full. Only the loop calls it.
func (c *Controller) push(ev problem.Event) {
	select {
	case c.outbox <- ev:
		return
	default:
	}
	select {
	case old := <-c.outbox:
		c.logger.Warn("observer: sink backlog full, dropping oldest event",
			"type", old.Type, "pending", outboxSize)
	default:
	}
	select {
	case c.outbox <- ev:
	default:
		c.logger.Warn("observer: sink backlog full, event dropped", "type", ev.Type)
	}
}

// deliver drains the outbox until it is closed.
func (c *Controller) deliver(done chan<- struct{}) {
	defer close(done)
	for ev := range c.outbox {
		c.send(ev)
	}
}

// send writes one event to the sink. Failures are logged only; the next
// change cycle produces a fresher snapshot.
func (c *Controller) send(ev problem.Event) {
	if err := c.sink.Send(c.ctx, ev); err != nil {
		c.logger.Warn("observer: sink send failed", "type", ev.Type, "error", err)
	}
}

// detachContext bounds teardown calls; it survives cancellation of the
// run context so observers are still disconnected on shutdown.
func (c *Controller) detachContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.ctx), 2*time.Second)
}
