package config

// Config is the on-disk configuration of turnipd (JSON, or YAML by file
// extension). Unknown fields are rejected.
type Config struct {
	Logging LoggingConfig  `json:"logging"`
	Clock   ClockConfig    `json:"clock"`
	Alarms  AlarmsConfig   `json:"alarms"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Systemd SystemdConfig  `json:"systemd,omitempty"`
	Admin   AdminConfig    `json:"admin,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ClockConfig controls the frame loop that ticks the timer scheduler.
//
// Defaults (when fields are omitted/zero):
//   - fps: 60
//   - max_delta: "250ms" (scaled deltas are clamped to this; unscaled deltas never are)
//   - time_scale: 1.0
//   - post_queue: 256
type ClockConfig struct {
	FPS int `json:"fps,omitempty"`
	// MaxDelta is a Go duration string (e.g. "100ms").
	MaxDelta string `json:"max_delta,omitempty"`
	// TimeScale is a pointer so an explicit 0 (frozen scaled time) differs
	// from "omitted".
	TimeScale *float64 `json:"time_scale,omitempty"`
	PostQueue int      `json:"post_queue,omitempty"`
}

// AlarmsConfig declares alarms that arm countdown timers on a schedule.
//
// Example (YAML):
//
//	alarms:
//	  timezone: Europe/Berlin
//	  items:
//	    - name: tea
//	      schedule: "0 16 * * *"
//	      duration: 4m
//	    - name: five
//	      schedule: "@every 10m"
//	      duration: 5s
//	      then: one
type AlarmsConfig struct {
	Enabled bool `json:"enabled"`
	// Trigger timezone (IANA TZ, e.g. "Asia/Jakarta"). Empty means Local.
	Timezone string      `json:"timezone,omitempty"`
	Items    []AlarmItem `json:"items,omitempty"`
}

type AlarmItem struct {
	Name string `json:"name"`
	// Schedule accepts cron specs, Go durations or HH:MM intervals. Empty
	// means the alarm is only armed by another alarm's "then" or at startup.
	Schedule string `json:"schedule,omitempty"`
	// Duration is the countdown length as a Go duration string.
	Duration string `json:"duration"`
	Unscaled bool   `json:"unscaled,omitempty"`
	// OnStart arms the alarm once when the daemon starts.
	OnStart bool `json:"on_start,omitempty"`
	// Then names another alarm armed when this one expires.
	Then string `json:"then,omitempty"`
}

// StorageConfig controls the expiry journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/turnip.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SystemdConfig controls sd_notify integration. Both flags are no-ops when
// the process is not started by systemd.
type SystemdConfig struct {
	Notify   bool `json:"notify,omitempty"`
	Watchdog bool `json:"watchdog,omitempty"`
}

// AdminConfig controls the local HTTP endpoints (status, recent expiries,
// manual arming, optional pprof).
//
// Security:
//   - Prefer binding to localhost (default 127.0.0.1:6070).
//   - A non-loopback addr requires token or allow_insecure.
type AdminConfig struct {
	Enabled       bool   `json:"enabled,omitempty"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	PProf         bool   `json:"pprof,omitempty"`

	// Go duration strings; empty means no timeout.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
