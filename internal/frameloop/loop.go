// Package frameloop is the tick source for a turnip.Scheduler: a single
// goroutine that paces frames, measures real elapsed time and runs posted
// work before each tick.
package frameloop

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "turnip/pkg/logx"
	"turnip/pkg/turnip"

	"golang.org/x/time/rate"
)

var (
	ErrQueueFull = errors.New("frameloop: post queue full")
	ErrStopped   = errors.New("frameloop: stopped")
)

const (
	DefaultFPS       = 60
	DefaultMaxDelta  = 250 * time.Millisecond
	DefaultQueueSize = 256
)

type Config struct {
	FPS int
	// MaxDelta clamps the scaled delta of a single frame. The unscaled delta
	// is never clamped.
	MaxDelta  time.Duration
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.FPS <= 0 {
		c.FPS = DefaultFPS
	}
	if c.MaxDelta <= 0 {
		c.MaxDelta = DefaultMaxDelta
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

type Option func(*Loop)

// WithClock replaces time.Now for elapsed-time measurement.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// Loop implements turnip.TickRunner.
type Loop struct {
	log     logx.Logger
	now     func() time.Time
	limiter *rate.Limiter

	mu       sync.Mutex
	tickable turnip.Tickable

	fps      atomic.Int64
	maxDelta atomic.Int64

	posts   chan func()
	running atomic.Bool
	stopped atomic.Bool

	frames    atomic.Uint64
	overruns  atomic.Uint64
	panics    atomic.Uint64
	dropped   atomic.Uint64
	lastDelta atomic.Int64
	lastRaw   atomic.Int64
}

func New(cfg Config, log logx.Logger, opts ...Option) *Loop {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	l := &Loop{
		log:     log.With(logx.String("comp", "frameloop")),
		now:     time.Now,
		limiter: rate.NewLimiter(rate.Limit(cfg.FPS), 1),
		posts:   make(chan func(), cfg.QueueSize),
	}
	l.fps.Store(int64(cfg.FPS))
	l.maxDelta.Store(int64(cfg.MaxDelta))
	for _, o := range opts {
		o(l)
	}
	return l
}

// SetTickable attaches t; nil detaches. Frames keep running (and posted work
// keeps executing) without a tickable.
func (l *Loop) SetTickable(t turnip.Tickable) {
	l.mu.Lock()
	l.tickable = t
	l.mu.Unlock()
}

func (l *Loop) current() turnip.Tickable {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tickable
}

// Apply changes FPS and MaxDelta from the next frame on. The post queue size
// is fixed at construction.
func (l *Loop) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	if old := l.fps.Swap(int64(cfg.FPS)); old != int64(cfg.FPS) {
		l.limiter.SetLimit(rate.Limit(cfg.FPS))
	}
	l.maxDelta.Store(int64(cfg.MaxDelta))
	l.log.Debug("frame loop config applied", logx.Int("fps", cfg.FPS), logx.Duration("max_delta", cfg.MaxDelta))
}

// Post queues fn to run on the loop goroutine before the next tick. Work
// that touches the scheduler from another goroutine must go through Post.
func (l *Loop) Post(fn func()) error {
	if fn == nil {
		return nil
	}
	if l.stopped.Load() {
		return ErrStopped
	}
	select {
	case l.posts <- fn:
		return nil
	default:
		l.dropped.Add(1)
		return ErrQueueFull
	}
}

// Run paces frames until ctx is done. It returns nil on cancellation and an
// error if the loop is already running.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("frameloop: already running")
	}
	defer l.running.Store(false)
	defer l.stopped.Store(true)

	l.log.Info("frame loop started", logx.Int64("fps", l.fps.Load()))
	last := l.now()
	for {
		if err := l.limiter.Wait(ctx); err != nil {
			// Wait also fails when ctx has a deadline closer than the next
			// frame; treat that as the end of the loop too.
			l.log.Info("frame loop stopped", logx.Uint64("frames", l.frames.Load()))
			return nil
		}
		now := l.now()
		l.Step(now.Sub(last))
		last = now
	}
}

// Step runs one frame: drain posted work, then tick with the measured
// elapsed time. Run calls it; tests call it directly.
func (l *Loop) Step(elapsed time.Duration) {
	if elapsed < 0 {
		elapsed = 0
	}
	start := l.now()

	l.drain()

	delta := min(elapsed, time.Duration(l.maxDelta.Load()))
	l.lastDelta.Store(int64(delta))
	l.lastRaw.Store(int64(elapsed))
	if t := l.current(); t != nil {
		l.safely("tick", func() { t.Tick(delta, elapsed) })
	}
	l.frames.Add(1)

	budget := time.Second / time.Duration(max(l.fps.Load(), 1))
	if took := l.now().Sub(start); took > budget {
		l.overruns.Add(1)
		if l.log.Enabled(logx.LevelTrace) {
			l.log.Trace("frame overrun", logx.Duration("took", took), logx.Duration("budget", budget))
		}
	}
}

func (l *Loop) drain() {
	for {
		select {
		case fn := <-l.posts:
			l.safely("post", fn)
		default:
			return
		}
	}
}

func (l *Loop) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.log.Error("frame panic recovered",
				logx.String("in", what),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	fn()
}

type Stats struct {
	FPS          int           `json:"fps"`
	Frames       uint64        `json:"frames"`
	Overruns     uint64        `json:"overruns"`
	Panics       uint64        `json:"panics"`
	DroppedPosts uint64        `json:"dropped_posts"`
	QueuedPosts  int           `json:"queued_posts"`
	LastDelta    time.Duration `json:"last_delta"`
	LastUnscaled time.Duration `json:"last_unscaled"`
}

func (l *Loop) Stats() Stats {
	return Stats{
		FPS:          int(l.fps.Load()),
		Frames:       l.frames.Load(),
		Overruns:     l.overruns.Load(),
		Panics:       l.panics.Load(),
		DroppedPosts: l.dropped.Load(),
		QueuedPosts:  len(l.posts),
		LastDelta:    time.Duration(l.lastDelta.Load()),
		LastUnscaled: time.Duration(l.lastRaw.Load()),
	}
}
