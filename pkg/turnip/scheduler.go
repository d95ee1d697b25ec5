package turnip

import (
	"time"

	logx "turnip/pkg/logx"
)

// DefaultTimeScale is the multiplier applied to scaled deltas after
// ResetTimeScale.
const DefaultTimeScale = 1.0

// Tickable is advanced by a tick source once per frame.
type Tickable interface {
	Tick(delta, unscaledDelta time.Duration)
}

// TickRunner is a tick source that drives one Tickable at a time.
// SetTickable(nil) detaches the current one.
type TickRunner interface {
	SetTickable(t Tickable)
}

// RecoverFunc receives a panic raised by an observer of timer id.
type RecoverFunc func(id ID, r any)

// Hooks are invoked synchronously on the ticking goroutine.
type Hooks struct {
	// Created runs for a newly allocated timer (it starts out pending).
	Created func(t *Timer)
	// Recycled runs when an expired timer is handed out again; prev is the
	// ID it carried before.
	Recycled func(t *Timer, prev ID)
	// Expired runs after a timer's expiry observers have been invoked.
	Expired func(t *Timer)
}

type Option func(*Scheduler)

func WithLogger(log logx.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

func WithTimeScale(scale float64) Option {
	return func(s *Scheduler) { s.timeScale = scale }
}

// WithObserverRecover isolates observer panics: the panic is handed to fn and
// the remaining observers and timers still run. Without it a panic unwinds
// out of Tick.
func WithObserverRecover(fn RecoverFunc) Option {
	return func(s *Scheduler) { s.rec = fn }
}

func WithHooks(h Hooks) Option {
	return func(s *Scheduler) { s.hooks = h }
}

// Scheduler owns a pool of timers and advances them on Tick.
//
// It is not safe for concurrent use. Create, configure and tick timers from
// the goroutine that runs the tick source.
type Scheduler struct {
	log   logx.Logger
	hooks Hooks
	rec   RecoverFunc

	timeScale float64

	// active timers are ticked in order. Timers are never removed; expired ones
	// are reused through free.
	active []*Timer
	// pending holds timers created since the last merge.
	pending []*Timer
	// free is a FIFO of timers that became recyclable. Entries are revalidated
	// on pop because a caller may Reset a timer or clear AutoRecycle after it
	// was queued.
	free []*Timer

	runner TickRunner

	// dispatching is set while Tick walks the active set.
	dispatching bool

	lastID  ID
	lastSub Subscription

	ticks    uint64
	created  uint64
	recycled uint64
}

// New returns an empty scheduler with DefaultTimeScale.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{timeScale: DefaultTimeScale}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

// Bind attaches the scheduler to a tick source. A previously bound source is
// detached first. Timer state is not affected.
func (s *Scheduler) Bind(r TickRunner) {
	if s.runner == r {
		return
	}
	if s.runner != nil {
		s.runner.SetTickable(nil)
	}
	s.runner = r
	if r != nil {
		r.SetTickable(s)
	}
	s.log.Debug("tick source bound", logx.Bool("attached", r != nil))
}

// SetHooks replaces the hooks installed with WithHooks. Like everything else
// on the scheduler it must be called from the ticking goroutine.
func (s *Scheduler) SetHooks(h Hooks) { s.hooks = h }

// Ticks is the number of Tick calls so far.
func (s *Scheduler) Ticks() uint64 { return s.ticks }

func (s *Scheduler) TimeScale() float64 { return s.timeScale }

// SetTimeScale changes the multiplier applied to scaled deltas from the next
// Tick on. Unscaled deltas are never affected.
func (s *Scheduler) SetTimeScale(scale float64) { s.timeScale = scale }

func (s *Scheduler) ResetTimeScale() { s.timeScale = DefaultTimeScale }

// CreateTimer returns a paused, non-expired, zero-length timer. The oldest
// recyclable timer is reused when one exists; otherwise a new timer is
// allocated and becomes visible to Tick after the current pass.
func (s *Scheduler) CreateTimer() *Timer {
	if t := s.popRecyclable(); t != nil {
		prev := t.id
		t.reassign(s.nextID())
		if s.dispatching {
			// Still in active; keep the current pass from advancing it.
			t.bornAt = s.ticks
		}
		s.recycled++
		if s.log.Enabled(logx.LevelTrace) {
			s.log.Trace("timer recycled", logx.Uint64("id", uint64(t.id)), logx.Uint64("prev", uint64(prev)))
		}
		if s.hooks.Recycled != nil {
			s.hooks.Recycled(t, prev)
		}
		return t
	}

	t := newTimer(s, s.nextID())
	s.pending = append(s.pending, t)
	s.created++
	if s.log.Enabled(logx.LevelTrace) {
		s.log.Trace("timer created", logx.Uint64("id", uint64(t.id)), logx.Int("pending", len(s.pending)))
	}
	if s.hooks.Created != nil {
		s.hooks.Created(t)
	}
	return t
}

// After creates a running timer of length d that calls fn when it expires.
func (s *Scheduler) After(d time.Duration, fn ExpireFunc) *Timer {
	t := s.CreateTimer()
	t.SetLength(d)
	t.OnExpire(fn)
	t.Start()
	return t
}

// Every creates a running timer that restarts itself each time it expires and
// then calls fn. It never recycles; Pause it to stop. Expiry is observed on
// the tick after the countdown reaches zero, so each period spans one extra
// tick.
func (s *Scheduler) Every(d time.Duration, fn ExpireFunc) *Timer {
	t := s.CreateTimer()
	t.SetAutoRecycle(false)
	t.SetLength(d)
	t.OnExpire(func() {
		t.Reset()
		if fn != nil {
			fn()
		}
	})
	t.Start()
	return t
}

// Tick advances every active timer exactly once. Timers created during the
// pass are merged into the active set afterwards; timers recycled during the
// pass are skipped until the next one.
func (s *Scheduler) Tick(delta, unscaledDelta time.Duration) {
	scaled := scaleDelta(delta, s.timeScale)
	s.ticks++

	// The slice header is captured up front; merges only happen below.
	active := s.active
	s.dispatching = true
	for _, t := range active {
		if t.bornAt == s.ticks {
			continue
		}
		if t.tick(scaled, unscaledDelta, s.rec) {
			s.noteExpired(t)
		}
	}
	s.dispatching = false

	if len(s.pending) > 0 {
		s.active = append(s.active, s.pending...)
		clear(s.pending)
		s.pending = s.pending[:0]
	}
}

func (s *Scheduler) noteExpired(t *Timer) {
	if s.log.Enabled(logx.LevelTrace) {
		s.log.Trace("timer expired", logx.Uint64("id", uint64(t.id)), logx.String("label", t.label))
	}
	if s.hooks.Expired != nil {
		s.hooks.Expired(t)
	}
	s.noteRecyclable(t)
}

func (s *Scheduler) noteRecyclable(t *Timer) {
	if t.owner != s || t.queued || !t.AvailableForRecycle() {
		return
	}
	t.queued = true
	s.free = append(s.free, t)
}

func (s *Scheduler) popRecyclable() *Timer {
	for len(s.free) > 0 {
		t := s.free[0]
		s.free[0] = nil
		s.free = s.free[1:]
		t.queued = false
		if t.AvailableForRecycle() {
			return t
		}
	}
	return nil
}

func (s *Scheduler) nextID() ID {
	s.lastID++
	return s.lastID
}

func (s *Scheduler) nextSubscription() Subscription {
	s.lastSub++
	return s.lastSub
}

func scaleDelta(d time.Duration, scale float64) time.Duration {
	if scale == 1 {
		return d
	}
	return time.Duration(float64(d) * scale)
}
