package h1

import "time"

// TimerState is one of the three states the spec names for the
// per-connection keep-alive timer: Idle (no timer armed yet), Wait
// (armed for keep_alive_timeout, connection idle between requests),
// Throttle (armed for request_head_timeout, a head has started
// arriving but not finished).
type TimerState int

const (
	Idle TimerState = iota
	Wait
	Throttle
)

// Timer is the dispatcher's single resettable deadline. It owns no
// goroutine; the dispatcher selects on C() alongside socket readiness.
type Timer struct {
	state              TimerState
	timer              *time.Timer
	keepAliveTimeout   time.Duration
	requestHeadTimeout time.Duration
}

// NewTimer returns a Timer already in the Wait state, armed for
// keep_alive_timeout.
func NewTimer(keepAliveTimeout, requestHeadTimeout time.Duration) *Timer {
	t := &Timer{
		keepAliveTimeout:   keepAliveTimeout,
		requestHeadTimeout: requestHeadTimeout,
		timer:              time.NewTimer(keepAliveTimeout),
		state:              Wait,
	}
	return t
}

// C is the channel to select on; it fires when the current deadline
// elapses.
func (t *Timer) C() <-chan time.Time { return t.timer.C }

// Update is called at the start of every outer-loop iteration. When
// Idle (after OnRequestComplete) it arms keep_alive_timeout and moves
// to Wait;
// further calls while already in Wait or Throttle leave the deadline
// untouched, matching the spec's "on further calls in Throttle the
// deadline is not changed."
func (t *Timer) Update(now time.Time) {
	if t.state == Idle {
		t.reset(t.keepAliveTimeout)
		t.state = Wait
	}
}

// OnHeadByte is called the moment the first byte of a new request
// head is observed on the wire, transitioning the timer from Wait
// (idle, keep-alive armed) into Throttle (a head is now in flight,
// bounded by request_head_timeout).
func (t *Timer) OnHeadByte(now time.Time) {
	if t.state == Wait {
		t.reset(t.requestHeadTimeout)
		t.state = Throttle
	}
}

// OnRequestComplete returns the timer to Idle once a full request has
// been decoded, so the next outer-loop iteration re-arms keep-alive
// for the idle period before the next request.
func (t *Timer) OnRequestComplete() {
	t.state = Idle
}

func (t *Timer) reset(d time.Duration) {
	if !t.timer.Stop() {
		select {
		case <-t.timer.C:
		default:
		}
	}
	t.timer.Reset(d)
}

// Stop releases the underlying time.Timer's resources.
func (t *Timer) Stop() { t.timer.Stop() }

// Fire maps the current state to the dispatcher-level error the spec
// requires: Wait (idle, nothing arrived yet) closes silently;
// Throttle (a head was partway through) replies 408. Idle firing is
// unreachable because Update always advances out of it before the
// timer is ever awaited.
func (t *Timer) Fire() *Error {
	switch t.state {
	case Wait:
		return wrap(KindKeepAliveExpire, nil)
	case Throttle:
		return wrap(KindRequestTimeout, nil)
	default:
		panic("h1: keep-alive timer fired while Idle")
	}
}
