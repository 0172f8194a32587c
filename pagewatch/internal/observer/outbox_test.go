package observer

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/codementor/idgen"
	"github.com/hazyhaar/codementor/pagewatch/internal/sink"
	"github.com/hazyhaar/codementor/problem"
)

// lockedPage is a fakePage safe to share between the test goroutine and a
// running controller loop.
type lockedPage struct {
	mu sync.Mutex
	p  *fakePage
}

func (l *lockedPage) setHTML(html string) {
	l.mu.Lock()
	l.p.html = html
	l.mu.Unlock()
}

func (l *lockedPage) htmlCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.p.htmlCalls
}

func (l *lockedPage) HTML(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.p.HTML(ctx)
}

func (l *lockedPage) URL(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.p.URL(ctx)
}

func (l *lockedPage) Alive(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.p.Alive(ctx)
}

func (l *lockedPage) Attach(ctx context.Context, w Watch) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.p.Attach(ctx, w)
}

func (l *lockedPage) Detach(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.p.Detach(ctx, id)
}

func TestController_BlockedSinkDoesNotStallLoop(t *testing.T) {
	page := &lockedPage{p: newFakePage(problemPage("1. Two Sum", "Python3", "pass"))}

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var mu sync.Mutex
	var got []problem.Event
	blocking := sink.NewCallback(func(ctx context.Context, ev problem.Event) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		return nil
	})

	c := New(Config{
		PageID: "p1",
		Page:   page,
		Sink:   blocking,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewID:  idgen.Sequential("id"),
		Timing: Timing{
			StartupDelay:     time.Millisecond,
			LoadPollInterval: time.Millisecond,
			RetryInterval:    5 * time.Millisecond,
			ContentDebounce:  20 * time.Millisecond,
			PageDebounce:     20 * time.Millisecond,
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("initial snapshot never reached the sink")
	}

	// The sink is stuck on the first event; the loop must keep running.
	ran := make(chan struct{})
	c.Notify(Signal{Watch: WatchNavigation})
	c.post(func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("controller loop blocked by sink hand-off")
	}

	// A debounced extraction still runs on time while the sink is blocked.
	before := page.htmlCalls()
	page.setHTML(problemPage("1. Two Sum", "Python3", "return 1"))
	c.Notify(Signal{Watch: "id-1/editor"})
	deadline := time.Now().Add(time.Second)
	for page.htmlCalls() == before {
		if time.Now().After(deadline) {
			t.Fatal("debounced extraction did not run while the sink was blocked")
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(release)
	deadline = time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		var last string
		if n > 0 {
			last = got[n-1].Data.UserCode
		}
		mu.Unlock()
		if n == 2 && last == "return 1" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queued snapshot not delivered: %d events, last code %q", n, last)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestController_OutboxDropsOldest(t *testing.T) {
	c := New(Config{PageID: "p1", Page: newFakePage(""), Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	for i := 0; i < outboxSize+3; i++ {
		c.push(problem.Cleared("p1", string(rune('a'+i)), int64(i)))
	}
	if len(c.outbox) != outboxSize {
		t.Fatalf("outbox: got %d, want %d", len(c.outbox), outboxSize)
	}
	first := <-c.outbox
	if first.Timestamp != 3 {
		t.Errorf("oldest kept event: timestamp %d, want 3", first.Timestamp)
	}
}
