package turnip

import (
	"fmt"
	"time"
)

// ID identifies one logical timer. IDs are issued by the owning scheduler and
// are never reused, even when the underlying Timer object is recycled.
type ID uint64

// State is the lifecycle state of a timer.
type State int

const (
	StatePaused State = iota
	StateRunning
	StateExpired
)

func (s State) String() string {
	switch s {
	case StatePaused:
		return "paused"
	case StateRunning:
		return "running"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Timer is a single countdown owned by a Scheduler.
//
// Callers receive a *Timer from Scheduler.CreateTimer and may configure,
// start, pause and observe it, but never own it: once it has expired with
// AutoRecycle enabled the scheduler may hand the same object out again under a
// new ID. Compare ID() against the value seen at creation to detect that.
type Timer struct {
	owner *Scheduler
	id    ID

	length    time.Duration
	remaining time.Duration

	expired     bool
	paused      bool
	unscaled    bool
	autoRecycle bool

	// queued is true while the timer sits in the owner's free list.
	queued bool
	// bornAt is the owner's tick count when the timer was recycled during a
	// dispatch; that pass must not advance it.
	bornAt uint64

	onTick   observerList[TickFunc]
	onExpire observerList[ExpireFunc]

	// label is free-form metadata carried into hooks and logs.
	label string
}

func newTimer(owner *Scheduler, id ID) *Timer {
	return &Timer{
		owner:       owner,
		id:          id,
		paused:      true,
		autoRecycle: true,
	}
}

func (t *Timer) ID() ID                   { return t.id }
func (t *Timer) Length() time.Duration    { return t.length }
func (t *Timer) Remaining() time.Duration { return t.remaining }
func (t *Timer) IsExpired() bool          { return t.expired }
func (t *Timer) IsPaused() bool           { return t.paused }
func (t *Timer) UseUnscaledTime() bool    { return t.unscaled }
func (t *Timer) AutoRecycle() bool        { return t.autoRecycle }
func (t *Timer) Label() string            { return t.label }

// SetLabel attaches a name used in hooks and logs. It is cleared on recycle.
func (t *Timer) SetLabel(label string) { t.label = label }

// State reports the lifecycle state. Expired wins over paused.
func (t *Timer) State() State {
	switch {
	case t.expired:
		return StateExpired
	case t.paused:
		return StatePaused
	default:
		return StateRunning
	}
}

// Progress returns (length - remaining) / length clamped to [0, 1].
// A timer with a non-positive length reports 1.
func (t *Timer) Progress() float64 {
	if t.length <= 0 {
		return 1
	}
	p := float64(t.length-t.remaining) / float64(t.length)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

// Reset restores the remaining time to the length and clears the expired
// flag. The pause state is left untouched.
func (t *Timer) Reset() {
	t.remaining = t.length
	t.expired = false
}

// SetLength changes the countdown length and resets the timer. Zero or
// negative lengths are accepted and expire on the next running tick.
func (t *Timer) SetLength(d time.Duration) {
	t.length = d
	t.Reset()
}

func (t *Timer) Start() { t.paused = false }
func (t *Timer) Pause() { t.paused = true }

// SetUseUnscaledTime selects the unscaled delta channel for this timer.
func (t *Timer) SetUseUnscaledTime(v bool) { t.unscaled = v }

// SetAutoRecycle controls whether the scheduler may reuse this timer once it
// has expired. A timer that never recycles stays allocated to its creator.
func (t *Timer) SetAutoRecycle(v bool) {
	t.autoRecycle = v
	if v {
		t.owner.noteRecyclable(t)
	}
}

// AvailableForRecycle reports whether the scheduler may hand this timer out
// again.
func (t *Timer) AvailableForRecycle() bool { return t.expired && t.autoRecycle }

// OnTick registers fn to run on every tick that advances the timer.
func (t *Timer) OnTick(fn TickFunc) Subscription {
	if fn == nil {
		return 0
	}
	sub := t.nextSubscription()
	t.onTick.add(sub, fn)
	return sub
}

// OnExpire registers fn to run once when the timer expires.
func (t *Timer) OnExpire(fn ExpireFunc) Subscription {
	if fn == nil {
		return 0
	}
	sub := t.nextSubscription()
	t.onExpire.add(sub, fn)
	return sub
}

// Unsubscribe removes an observer registered with OnTick or OnExpire.
func (t *Timer) Unsubscribe(sub Subscription) bool {
	if sub == 0 {
		return false
	}
	return t.onTick.remove(sub) || t.onExpire.remove(sub)
}

func (t *Timer) nextSubscription() Subscription {
	return t.owner.nextSubscription()
}

// reassign returns the timer to the state of a freshly constructed one under
// a new identity. Observers from the previous logical timer are dropped.
func (t *Timer) reassign(id ID) {
	t.id = id
	t.length = 0
	t.Reset()
	t.paused = true
	t.unscaled = false
	t.autoRecycle = true
	t.label = ""
	t.onTick.clear()
	t.onExpire.clear()
}

// tick advances the countdown. It reports whether the timer expired during
// this call. A nil rec lets observer panics propagate.
func (t *Timer) tick(delta, unscaledDelta time.Duration, rec RecoverFunc) bool {
	if t.expired || t.paused {
		return false
	}
	d := delta
	if t.unscaled {
		d = unscaledDelta
	}
	if t.remaining > 0 {
		t.remaining -= d
		for _, o := range t.onTick.snapshot() {
			if rec == nil {
				o.fn(d)
				continue
			}
			t.invokeTick(o.fn, d, rec)
		}
		return false
	}
	t.expired = true
	for _, o := range t.onExpire.snapshot() {
		if rec == nil {
			o.fn()
			continue
		}
		t.invokeExpire(o.fn, rec)
	}
	return true
}

func (t *Timer) invokeTick(fn TickFunc, d time.Duration, rec RecoverFunc) {
	id := t.id
	defer func() {
		if r := recover(); r != nil {
			rec(id, r)
		}
	}()
	fn(d)
}

func (t *Timer) invokeExpire(fn ExpireFunc, rec RecoverFunc) {
	id := t.id
	defer func() {
		if r := recover(); r != nil {
			rec(id, r)
		}
	}()
	fn()
}
