package app

import (
	"testing"
	"time"

	"turnip/internal/config"
	logx "turnip/pkg/logx"

	"github.com/stretchr/testify/assert"
)

func TestWatchdogIntervalFollowsConfig(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "2000000")
	t.Setenv("WATCHDOG_PID", "")

	tests := []struct {
		name string
		cfg  config.SystemdConfig
		want time.Duration
		ok   bool
	}{
		{"notify off", config.SystemdConfig{Watchdog: true}, 0, false},
		{"watchdog off", config.SystemdConfig{Notify: true}, 0, false},
		{"both on", config.SystemdConfig{Notify: true, Watchdog: true}, 2 * time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := newSDNotifier(tt.cfg, logx.Nop()).watchdogInterval()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
