package alarm

import (
	"errors"
	"sync"
	"time"

	"turnip/internal/eventbus"
	logx "turnip/pkg/logx"
	"turnip/pkg/turnip"

	"github.com/robfig/cron/v3"
)

var ErrUnknownAlarm = errors.New("alarm: unknown alarm")

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ; empty means Local
	Alarms   []Def
}

// Def declares one alarm.
type Def struct {
	Name string
	// Schedule is optional; an alarm without one is armed by OnStart, by
	// another alarm's Then or by ArmNow.
	Schedule string
	Duration time.Duration
	Unscaled bool
	OnStart  bool
	// Then names the alarm armed when this one expires.
	Then string
}

// Poster runs fn on the goroutine that ticks the scheduler.
type Poster interface {
	Post(fn func()) error
}

// Armed is the Data of eventbus.AlarmArmed events.
type Armed struct {
	Name    string        `json:"name"`
	TimerID uint64        `json:"timer_id"`
	Length  time.Duration `json:"length"`
	Reason  string        `json:"reason"`
}

type alarm struct {
	def  Def
	trig *Trigger

	entryID cron.EntryID
	spread  time.Duration

	armed uint64
	fired uint64

	// timer and timerID are only touched on the loop goroutine; timerID
	// detects that the scheduler recycled the timer for someone else.
	timer   *turnip.Timer
	timerID turnip.ID
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	bus    eventbus.Bus
	sched  *turnip.Scheduler
	poster Poster

	parser  cron.Parser
	c       *cron.Cron
	started bool
	alarms  map[string]*alarm
	order   []string

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

type Info struct {
	Name          string        `json:"name"`
	Schedule      string        `json:"schedule,omitempty"`
	Spec          string        `json:"spec,omitempty"`
	Duration      time.Duration `json:"duration"`
	Unscaled      bool          `json:"unscaled,omitempty"`
	Then          string        `json:"then,omitempty"`
	Next          time.Time     `json:"next,omitzero"`
	Prev          time.Time     `json:"prev,omitzero"`
	StartupSpread time.Duration `json:"startup_spread,omitempty"`
	Armed         uint64        `json:"armed"`
	Fired         uint64        `json:"fired"`
}

type Snapshot struct {
	Enabled  bool   `json:"enabled"`
	Running  bool   `json:"running"`
	Timezone string `json:"timezone"`
	Alarms   []Info `json:"alarms"`
}
