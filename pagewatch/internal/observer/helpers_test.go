package observer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hazyhaar/codementor/idgen"
	"github.com/hazyhaar/codementor/pagewatch/internal/sink"
	"github.com/hazyhaar/codementor/problem"
)

// manualClock fires timers synchronously from Advance, in deadline order,
// including timers scheduled by callbacks that run during the advance.
type manualClock struct {
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	c       *manualClock
	when    time.Time
	f       func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) AfterFunc(d time.Duration, f func()) clockwork.Timer {
	t := &manualTimer{c: c, when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Advance(d time.Duration) {
	end := c.now.Add(d)
	for {
		var next *manualTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.when.After(end) {
				continue
			}
			if next == nil || t.when.Before(next.when) {
				next = t
			}
		}
		if next == nil {
			break
		}
		c.now = next.when
		next.fired = true
		next.f()
	}
	c.now = end
}

func (t *manualTimer) Chan() <-chan time.Time { return nil }

func (t *manualTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (t *manualTimer) Reset(d time.Duration) bool {
	active := t.Stop()
	t.when = t.c.now.Add(d)
	t.stopped = false
	t.fired = false
	return active
}

// fakePage serves a static HTML string and records watch operations.
type fakePage struct {
	html  string
	url   string
	alive bool

	probes    int
	htmlCalls int
	attached  map[string]Watch
	detached  []string
}

func newFakePage(html string) *fakePage {
	return &fakePage{
		html:     html,
		url:      "https://leetcode.com/problems/two-sum/",
		alive:    true,
		attached: make(map[string]Watch),
	}
}

func (p *fakePage) HTML(context.Context) (string, error) {
	p.htmlCalls++
	return p.html, nil
}

func (p *fakePage) URL(context.Context) (string, error) { return p.url, nil }

func (p *fakePage) Alive(context.Context) bool {
	p.probes++
	return p.alive
}

func (p *fakePage) Attach(_ context.Context, w Watch) (bool, error) {
	p.attached[w.ID] = w
	return true, nil
}

func (p *fakePage) Detach(_ context.Context, id string) error {
	delete(p.attached, id)
	p.detached = append(p.detached, id)
	return nil
}

// recorder collects forwarded events.
type recorder struct {
	events []problem.Event
	err    error
}

func (r *recorder) send(_ context.Context, ev problem.Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) last(t *testing.T) problem.Event {
	t.Helper()
	if len(r.events) == 0 {
		t.Fatal("no event forwarded")
	}
	return r.events[len(r.events)-1]
}

// newTestController wires a controller to a manual clock and runs its
// loop inline on the test goroutine.
func newTestController(t *testing.T, page *fakePage) (*Controller, *manualClock, *recorder) {
	t.Helper()
	clk := newManualClock()
	rec := &recorder{}
	c := New(Config{
		PageID: "p1",
		Page:   page,
		Sink:   sink.NewCallback(rec.send),
		Clock:  clk,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewID:  idgen.Sequential("id"),
	})
	c.post = func(f func()) { f() }
	c.enqueue = c.send
	c.start(context.Background())
	return c, clk, rec
}

// problemPage renders a problem page. An empty lang renders the
// placeholder; nil code renders an empty editor.
func problemPage(title, lang string, code ...string) string {
	if lang == "" {
		lang = "Choose a type"
	}
	var lines strings.Builder
	for _, l := range code {
		l = strings.ReplaceAll(l, " ", "&nbsp;")
		fmt.Fprintf(&lines, `<div class="view-line"><span><span class="mtk1">%s</span></span></div>`, l)
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><title>%[1]s - LeetCode</title></head>
<body>
  <div data-cy="question-title">%[1]s</div>
  <div data-track-load="description_content"><p>Solve it.</p></div>
  <div class="text-olive">Easy</div>
  <div><button class="rounded items-center whitespace-nowrap focus:outline-none inline-flex">%[2]s<div></div></button></div>
  <div class="monaco-editor"><div class="view-lines">%[3]s</div></div>
</body></html>`, title, lang, lines.String())
}
