package observer

import "fmt"

// PollState is the state of a bounded retry loop.
type PollState int

const (
	// Polling: the condition has not held yet and attempts remain.
	Polling PollState = iota
	// Resolved: the last attempt succeeded.
	Resolved
	// GaveUp: the attempt bound was reached without success.
	GaveUp
)

func (s PollState) String() string {
	switch s {
	case Polling:
		return "polling"
	case Resolved:
		return "resolved"
	case GaveUp:
		return "gave_up"
	}
	return fmt.Sprintf("PollState(%d)", int(s))
}

// Poller counts attempts of a condition that is retried on a timer. It
// holds no timer itself: the owner schedules the next attempt while the
// state is Polling.
type Poller struct {
	max      int
	attempts int
	state    PollState
}

// NewPoller returns a poller allowing max failed attempts before GaveUp.
func NewPoller(max int) *Poller {
	if max < 1 {
		max = 1
	}
	return &Poller{max: max}
}

// Fail records an unsuccessful attempt and returns the new state.
func (p *Poller) Fail() PollState {
	if p.state == GaveUp {
		return GaveUp
	}
	p.attempts++
	if p.attempts >= p.max {
		p.state = GaveUp
	} else {
		p.state = Polling
	}
	return p.state
}

// Succeed marks the condition as satisfied.
func (p *Poller) Succeed() {
	p.state = Resolved
}

// Reset starts over with no attempts counted.
func (p *Poller) Reset() {
	p.attempts = 0
	p.state = Polling
}

func (p *Poller) State() PollState { return p.state }
func (p *Poller) Attempts() int    { return p.attempts }
func (p *Poller) Max() int         { return p.max }
