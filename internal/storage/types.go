package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage. An empty Driver or "none" disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ExpiryRecord is one journaled timer expiry. Keep it compact and
// schema-stable.
type ExpiryRecord struct {
	RunID     string        `json:"run_id"`
	TimerID   uint64        `json:"timer_id"`
	Label     string        `json:"label,omitempty"`
	Length    time.Duration `json:"length"`
	TimeScale float64       `json:"time_scale"`
	Tick      uint64        `json:"tick"`
	At        time.Time     `json:"at"`
}
