package alarm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"turnip/internal/eventbus"
	logx "turnip/pkg/logx"
	"turnip/pkg/turnip"

	"github.com/robfig/cron/v3"
)

// newParser accepts 5-field and 6-field (leading seconds) specs and
// descriptors.
func newParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

func New(cfg Config, sched *turnip.Scheduler, poster Poster, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:      log.With(logx.String("comp", "alarm")),
		bus:      bus,
		sched:    sched,
		poster:   poster,
		parser:   newParser(),
		alarms:   map[string]*alarm{},
		lastWarn: map[string]time.Time{},
	}
	s.mu.Lock()
	s.setDefsLocked(cfg)
	s.mu.Unlock()
	return s
}

// Validate checks alarm definitions, including cron syntax.
func Validate(cfg Config) error {
	p := newParser()
	seen := map[string]bool{}
	var errs []error
	for _, d := range cfg.Alarms {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			errs = append(errs, errors.New("alarm name required"))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("alarm %q: duplicate", name))
		}
		seen[name] = true
		if d.Duration < 0 {
			errs = append(errs, fmt.Errorf("alarm %q: duration must be >= 0", name))
		}
		if strings.TrimSpace(d.Schedule) == "" {
			continue
		}
		t, err := ParseSchedule(d.Schedule)
		if err != nil {
			errs = append(errs, fmt.Errorf("alarm %q: %w", name, err))
			continue
		}
		if t.Kind == TriggerCron {
			if _, err := p.Parse(t.Cron); err != nil {
				errs = append(errs, fmt.Errorf("alarm %q: cron %q: %w", name, t.Cron, err))
			}
		}
	}
	for _, d := range cfg.Alarms {
		if then := strings.TrimSpace(d.Then); then != "" && !seen[then] {
			errs = append(errs, fmt.Errorf("alarm %q: then: unknown alarm %q", d.Name, then))
		}
	}
	return errors.Join(errs...)
}

// Start registers cron triggers (when enabled) and arms OnStart alarms.
func (s *Service) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	if s.cfg.Enabled {
		s.startCronLocked()
	}
	var onStart []string
	for _, name := range s.order {
		if s.alarms[name].def.OnStart {
			onStart = append(onStart, name)
		}
	}
	s.mu.Unlock()

	for _, name := range onStart {
		s.postArm(name, "start")
	}
}

// Stop stops cron triggering. Timers already armed keep counting down.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.started = false
	for _, a := range s.alarms {
		a.entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("alarms stopped", logx.Duration("took", time.Since(start)))
}

// Apply replaces the alarm set. Alarms are matched by name; changed
// schedules are re-registered and a timezone or enabled change restarts cron.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	oldEnabled := s.cfg.Enabled
	oldSpecs := make(map[string]string, len(s.alarms))
	for name, a := range s.alarms {
		oldSpecs[name] = a.def.Schedule
	}
	old := s.alarms
	s.setDefsLocked(cfg)

	switch {
	case !s.started:
		return
	case oldEnabled != cfg.Enabled || oldTZ != strings.TrimSpace(cfg.Timezone):
		s.stopCronLocked()
		if cfg.Enabled {
			s.startCronLocked()
		}
		return
	case s.c == nil:
		return
	}

	for name, a := range old {
		if na, ok := s.alarms[name]; !ok || na.def.Schedule != a.def.Schedule {
			if a.entryID != 0 {
				s.c.Remove(a.entryID)
			}
		}
	}
	for _, name := range s.order {
		a := s.alarms[name]
		if spec, ok := oldSpecs[name]; ok && spec == a.def.Schedule {
			continue
		}
		s.registerLocked(a)
	}
}

// setDefsLocked rebuilds the alarm map from cfg, carrying counters, cron
// entries and live timers over for names that survive.
func (s *Service) setDefsLocked(cfg Config) {
	s.cfg = cfg
	next := make(map[string]*alarm, len(cfg.Alarms))
	order := make([]string, 0, len(cfg.Alarms))
	for _, d := range cfg.Alarms {
		d.Name = strings.TrimSpace(d.Name)
		d.Then = strings.TrimSpace(d.Then)
		if d.Name == "" || next[d.Name] != nil {
			continue
		}
		a := &alarm{def: d}
		if prev, ok := s.alarms[d.Name]; ok {
			a.armed, a.fired = prev.armed, prev.fired
			a.timer, a.timerID = prev.timer, prev.timerID
			if prev.def.Schedule == d.Schedule {
				a.entryID, a.spread = prev.entryID, prev.spread
			}
		}
		if strings.TrimSpace(d.Schedule) != "" {
			t, err := ParseSchedule(d.Schedule)
			if err != nil {
				s.log.Error("alarm schedule invalid", logx.String("alarm", d.Name), logx.Err(err))
			} else {
				a.trig = &t
			}
		}
		next[d.Name] = a
		order = append(order, d.Name)
	}
	s.alarms = next
	s.order = order
}

func (s *Service) startCronLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, name := range s.order {
		s.registerLocked(s.alarms[name])
	}
	s.c.Start()
	s.log.Info("alarms started", logx.String("tz", s.loc.String()), logx.Int("alarms", len(s.order)))
}

func (s *Service) stopCronLocked() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
	for _, a := range s.alarms {
		a.entryID = 0
	}
}

func (s *Service) registerLocked(a *alarm) {
	a.entryID, a.spread = 0, 0
	if s.c == nil || a.trig == nil {
		return
	}
	name := a.def.Name
	job := cron.FuncJob(func() { s.postArm(name, "schedule") })

	if every, ok := a.trig.interval(); ok {
		sched, jitter := intervalWithSpread(every, time.Now().In(s.loc), name)
		a.entryID, a.spread = s.c.Schedule(sched, job), jitter
	} else {
		id, err := s.c.AddJob(a.trig.Cron, job)
		if err != nil {
			s.log.Error("alarm register failed", logx.String("alarm", name), logx.String("spec", a.trig.Cron), logx.Err(err))
			return
		}
		a.entryID = id
	}
	s.log.Debug("alarm registered",
		logx.String("alarm", name),
		logx.String("spec", a.trig.Spec()),
		logx.Duration("duration", a.def.Duration),
		logx.Duration("startup_spread", a.spread),
	)
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// ArmNow arms name on the next frame without waiting for its schedule.
func (s *Service) ArmNow(name string) error {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	_, ok := s.alarms[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAlarm, name)
	}
	return s.poster.Post(func() { s.arm(name, "manual") })
}

func (s *Service) postArm(name, reason string) {
	if err := s.poster.Post(func() { s.arm(name, reason) }); err != nil {
		s.reportPostError(name, err)
	}
}

// arm starts the alarm's countdown. It runs on the loop goroutine. A timer
// still counting down for this alarm is restarted instead of doubled.
func (s *Service) arm(name, reason string) {
	s.mu.Lock()
	a, ok := s.alarms[name]
	if !ok {
		s.mu.Unlock()
		s.log.Debug("arm for removed alarm ignored", logx.String("alarm", name))
		return
	}
	def := a.def
	t := a.timer
	live := t != nil && t.ID() == a.timerID && !t.IsExpired()
	s.mu.Unlock()

	if live {
		t.SetLength(def.Duration)
		t.SetUseUnscaledTime(def.Unscaled)
		t.Start()
	} else {
		t = s.sched.CreateTimer()
		t.SetLabel(def.Name)
		t.SetLength(def.Duration)
		t.SetUseUnscaledTime(def.Unscaled)
		id := t.ID()
		t.OnExpire(func() { s.expired(name, id) })
		t.Start()
	}

	s.mu.Lock()
	if cur, ok := s.alarms[name]; ok {
		cur.timer, cur.timerID = t, t.ID()
		cur.armed++
	}
	s.mu.Unlock()

	s.log.Debug("alarm armed",
		logx.String("alarm", name),
		logx.String("reason", reason),
		logx.Uint64("timer", uint64(t.ID())),
		logx.Bool("restarted", live),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.AlarmArmed,
			Data: Armed{Name: name, TimerID: uint64(t.ID()), Length: def.Duration, Reason: reason},
		})
	}
}

func (s *Service) expired(name string, id turnip.ID) {
	s.mu.Lock()
	a, ok := s.alarms[name]
	then := ""
	if ok {
		a.fired++
		then = a.def.Then
	}
	s.mu.Unlock()

	s.log.Info("alarm expired", logx.String("alarm", name), logx.Uint64("timer", uint64(id)))
	if then != "" {
		s.arm(then, "then:"+name)
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	out := Snapshot{
		Enabled:  s.cfg.Enabled,
		Running:  s.c != nil,
		Timezone: loc.String(),
		Alarms:   make([]Info, 0, len(s.order)),
	}
	for _, name := range s.order {
		a := s.alarms[name]
		it := Info{
			Name:          name,
			Schedule:      a.def.Schedule,
			Duration:      a.def.Duration,
			Unscaled:      a.def.Unscaled,
			Then:          a.def.Then,
			StartupSpread: a.spread,
			Armed:         a.armed,
			Fired:         a.fired,
		}
		if a.trig != nil {
			it.Spec = a.trig.Spec()
		}
		if s.c != nil && a.entryID != 0 {
			e := s.c.Entry(a.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		out.Alarms = append(out.Alarms, it)
	}
	return out
}
