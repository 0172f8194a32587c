package observer

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// debouncer runs fn once wait has elapsed since the last Trigger
// (trailing edge). Each observed signal owns its own debouncer.
//
// The timer callback is posted to the controller loop and compared against
// the generation current at that point, so a Trigger or Cancel that lands
// between the timer firing and the post running wins.
type debouncer struct {
	clock Clock
	wait  time.Duration
	post  func(func())
	fn    func()

	timer clockwork.Timer
	gen   uint64
}

func newDebouncer(clock Clock, wait time.Duration, post func(func()), fn func()) *debouncer {
	return &debouncer{clock: clock, wait: wait, post: post, fn: fn}
}

// Trigger (re)starts the quiet period.
func (d *debouncer) Trigger() {
	d.stop()
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.wait, func() {
		d.post(func() {
			if gen != d.gen {
				return
			}
			d.timer = nil
			d.fn()
		})
	})
}

// Cancel drops any pending run.
func (d *debouncer) Cancel() {
	d.stop()
}

// Pending reports whether a run is scheduled.
func (d *debouncer) Pending() bool {
	return d.timer != nil
}

func (d *debouncer) stop() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
