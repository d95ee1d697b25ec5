package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"turnip/internal/alarm"
	"turnip/internal/config"
	"turnip/internal/eventbus"
	"turnip/internal/frameloop"
	"turnip/internal/journal"
	"turnip/internal/observability/admin"
	"turnip/internal/runtime/supervisor"
	"turnip/internal/storage"
	logx "turnip/pkg/logx"
	"turnip/pkg/turnip"
)

// App is the turnipd daemon: a frame loop ticking one scheduler, alarms
// arming timers on it and a journal recording expiries.
type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	loop    *frameloop.Loop
	sched   *turnip.Scheduler
	alarms  *alarm.Service
	journal *journal.Service
	sd      *sdNotifier
	admin   *admin.Server
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := validate(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.New(cfg.Logging.LogxConfig())

	loopCfg, timeScale, err := mapClock(cfg)
	if err != nil {
		return nil, err
	}
	alarmCfg, err := mapAlarms(cfg)
	if err != nil {
		return nil, err
	}
	storeCfg, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	adminCfg, err := mapAdmin(cfg)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	store, err := storage.Open(storeCfg, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", storeCfg.Driver), logx.String("path", storeCfg.Path))
	}

	loop := frameloop.New(loopCfg, log)
	schedLog := log.With(logx.String("comp", "turnip"))
	sched := turnip.New(
		turnip.WithLogger(schedLog),
		turnip.WithTimeScale(timeScale),
		turnip.WithObserverRecover(func(id turnip.ID, r any) {
			schedLog.Error("timer observer panicked", logx.Uint64("timer", uint64(id)), logx.Any("panic", r))
		}),
	)
	sched.SetHooks(journal.Hooks(bus, sched))
	sched.Bind(loop)

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		loop:    loop,
		sched:   sched,
		journal: journal.New(bus, store, log),
		alarms:  alarm.New(alarmCfg, sched, loop, bus, log),
		sd:      newSDNotifier(cfg.Systemd, log),
	}
	if adminCfg.Enabled {
		a.admin = admin.New(adminCfg, adminBackend{a}, log)
	}
	return a, nil
}

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validate)

	a.sup.Go("frameloop", a.loop.Run)
	a.sup.Go("journal", a.journal.Run)
	a.alarms.Start()

	if a.log.Enabled(logx.LevelTrace) {
		events, unsub := a.bus.Subscribe(256)
		a.sup.Go("eventbus.log", func(c context.Context) error {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return nil
				case e, ok := <-events:
					if !ok {
						return nil
					}
					a.log.Trace("event", logx.String("type", e.Type), logx.Any("data", e.Data))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		return a.reloadLoop(c, sub)
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	if a.admin != nil {
		a.sup.GoRestart("admin", a.admin.Run, supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	}

	if every, ok := a.sd.watchdogInterval(); ok {
		a.sup.Go("systemd.watchdog", func(c context.Context) error {
			return a.sd.runWatchdog(c, a.loop, every)
		})
	}
	a.sd.ready()
	a.sd.status("ticking")

	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.stopping()

	// Cancel first so every loop starts unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "alarms", 2*time.Second, func(c context.Context) error { a.alarms.Stop(c); return nil })
	// The journal flushes buffered expiries while the supervisor drains, so
	// storage is closed only afterwards.
	a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	js := a.journal.Stats()
	a.log.Info("stopped",
		logx.Uint64("expired", js.Expired),
		logx.Uint64("journaled", js.Written),
		logx.Uint64("frames", a.loop.Stats().Frames),
	)
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max, never past ctx's deadline.
// A step that overruns is logged and left running.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}

// reloadLoop applies published configs. Logging, clock and alarms change
// live; storage and systemd need a restart.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) error {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-sub:
			if !ok {
				return nil
			}
			next = latest(sub, next)
			sections, attrs, alarms := config.SummarizeConfigChange(last, next)
			last = next
			if len(sections) == 0 {
				a.log.Info("config reloaded (no changes)")
				continue
			}
			a.apply(next, sections)
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			if len(alarms) > 0 {
				fields = append(fields, logx.String("alarms", strings.Join(alarms, ",")))
			}
			a.log.Info("config reloaded", fields...)
		}
	}
}

// latest drains sub so bursts of reloads apply only the newest config.
func latest(sub <-chan *config.Config, cfg *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok {
				return cfg
			}
			if newer != nil {
				cfg = newer
			}
		default:
			return cfg
		}
	}
}

func (a *App) apply(cfg *config.Config, sections []string) {
	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(cfg.Logging.LogxConfig())
		case "clock":
			lc, scale, err := mapClock(cfg)
			if err != nil {
				a.log.Warn("invalid clock config; keeping previous", logx.Err(err))
				continue
			}
			a.loop.Apply(lc)
			if err := a.loop.Post(func() { a.sched.SetTimeScale(scale) }); err != nil {
				a.log.Warn("time scale not applied", logx.Err(err))
			}
		case "alarms":
			ac, err := mapAlarms(cfg)
			if err != nil {
				a.log.Warn("invalid alarms config; keeping previous", logx.Err(err))
				continue
			}
			a.alarms.Apply(ac)
		case "storage", "systemd", "admin":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}
}

// ArmNow arms a configured alarm on the next frame.
func (a *App) ArmNow(name string) error { return a.alarms.ArmNow(name) }
