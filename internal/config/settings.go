package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	logx "turnip/pkg/logx"
)

const (
	DefaultFPS         = 60
	DefaultMaxDelta    = 250 * time.Millisecond
	DefaultPostQueue   = 256
	DefaultBusyTimeout = 5 * time.Second
)

// Clock is ClockConfig with defaults applied and durations parsed.
type Clock struct {
	FPS       int
	MaxDelta  time.Duration
	TimeScale float64
	PostQueue int
}

func (c ClockConfig) Resolve() (Clock, error) {
	out := Clock{FPS: c.FPS, TimeScale: 1, PostQueue: c.PostQueue}
	if out.FPS == 0 {
		out.FPS = DefaultFPS
	}
	if out.FPS < 0 || out.FPS > 1000 {
		return Clock{}, fmt.Errorf("clock.fps: must be in 1..1000, got %d", c.FPS)
	}
	md, err := ParseDurationOrDefault("clock.max_delta", c.MaxDelta, DefaultMaxDelta)
	if err != nil {
		return Clock{}, err
	}
	out.MaxDelta = md
	if c.TimeScale != nil {
		ts := *c.TimeScale
		if ts < 0 || math.IsNaN(ts) || math.IsInf(ts, 0) {
			return Clock{}, fmt.Errorf("clock.time_scale: must be a finite value >= 0, got %v", ts)
		}
		out.TimeScale = ts
	}
	if out.PostQueue == 0 {
		out.PostQueue = DefaultPostQueue
	}
	if out.PostQueue < 0 {
		return Clock{}, fmt.Errorf("clock.post_queue: must be >= 0, got %d", c.PostQueue)
	}
	return out, nil
}

// Storage is StorageConfig with defaults applied. Driver "none" (or a missing
// storage section) disables the expiry journal.
type Storage struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

func (c *StorageConfig) Resolve() (Storage, error) {
	if c == nil {
		return Storage{Driver: "none"}, nil
	}
	out := Storage{
		Driver: strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:   strings.TrimSpace(c.Path),
	}
	if out.Driver == "" {
		out.Driver = "none"
	}
	switch out.Driver {
	case "none":
	case "file":
		if out.Path == "" {
			out.Path = "./data/expiries.jsonl"
		}
	case "sqlite":
		if out.Path == "" {
			out.Path = "./data/turnip.db"
		}
	default:
		return Storage{}, fmt.Errorf("storage.driver: unknown driver %q (want none, file or sqlite)", c.Driver)
	}
	bt, err := ParseDurationOrDefault("storage.busy_timeout", c.BusyTimeout, DefaultBusyTimeout)
	if err != nil {
		return Storage{}, err
	}
	out.BusyTimeout = bt
	return out, nil
}

// Admin is AdminConfig with durations parsed.
type Admin struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	PProf         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c AdminConfig) Resolve() (Admin, error) {
	out := Admin{
		Enabled:       c.Enabled,
		Addr:          strings.TrimSpace(c.Addr),
		Token:         strings.TrimSpace(c.Token),
		AllowInsecure: c.AllowInsecure,
		PProf:         c.PProf,
	}
	var err error
	if out.ReadTimeout, err = ParseDurationOrDefault("admin.read_timeout", c.ReadTimeout, 0); err != nil {
		return Admin{}, err
	}
	if out.WriteTimeout, err = ParseDurationOrDefault("admin.write_timeout", c.WriteTimeout, 0); err != nil {
		return Admin{}, err
	}
	if out.IdleTimeout, err = ParseDurationOrDefault("admin.idle_timeout", c.IdleTimeout, 0); err != nil {
		return Admin{}, err
	}
	return out, nil
}

// LogxConfig maps the logging section onto the log service config.
func (c LoggingConfig) LogxConfig() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

// Validate checks everything that can be checked without other packages:
// levels, durations, alarm names and "then" references. Schedule syntax is
// checked by the alarm package.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if !logx.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if _, err := cfg.Clock.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Storage.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Admin.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Systemd.Watchdog && !cfg.Systemd.Notify {
		errs = append(errs, errors.New("systemd.watchdog: requires systemd.notify"))
	}
	if tz := strings.TrimSpace(cfg.Alarms.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("alarms.timezone: %w", err))
		}
	}

	names := make(map[string]bool, len(cfg.Alarms.Items))
	for i, it := range cfg.Alarms.Items {
		path := fmt.Sprintf("alarms.items[%d]", i)
		name := strings.TrimSpace(it.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s.name: required", path))
			continue
		}
		if names[name] {
			errs = append(errs, fmt.Errorf("%s.name: duplicate alarm %q", path, name))
		}
		names[name] = true
		if strings.TrimSpace(it.Duration) == "" {
			errs = append(errs, fmt.Errorf("%s.duration: required", path))
		} else if _, err := ParseDurationField(path+".duration", it.Duration); err != nil {
			errs = append(errs, err)
		}
	}
	for i, it := range cfg.Alarms.Items {
		then := strings.TrimSpace(it.Then)
		if then != "" && !names[then] {
			errs = append(errs, fmt.Errorf("alarms.items[%d].then: unknown alarm %q", i, then))
		}
	}
	return errors.Join(errs...)
}
