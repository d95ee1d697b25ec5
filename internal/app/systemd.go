package app

import (
	"context"
	"time"

	"turnip/internal/config"
	"turnip/internal/frameloop"
	logx "turnip/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

// sdNotifier sends sd_notify messages. Without NOTIFY_SOCKET every call is a
// no-op, so it is safe to leave enabled outside systemd.
type sdNotifier struct {
	log      logx.Logger
	enabled  bool
	watchdog bool
}

func newSDNotifier(cfg config.SystemdConfig, log logx.Logger) *sdNotifier {
	return &sdNotifier{
		log:      log.With(logx.String("comp", "systemd")),
		enabled:  cfg.Notify,
		watchdog: cfg.Watchdog,
	}
}

func (n *sdNotifier) send(state string) {
	if !n.enabled {
		return
	}
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if n.log.Enabled(logx.LevelTrace) {
		n.log.Trace("sd_notify", logx.String("state", state), logx.Bool("sent", sent))
	}
}

func (n *sdNotifier) ready()            { n.send(daemon.SdNotifyReady) }
func (n *sdNotifier) stopping()         { n.send(daemon.SdNotifyStopping) }
func (n *sdNotifier) status(msg string) { n.send("STATUS=" + msg) }

// watchdogInterval reports how often systemd expects a ping, or false when
// the unit has no WatchdogSec or systemd.watchdog is off.
func (n *sdNotifier) watchdogInterval() (time.Duration, bool) {
	if !n.enabled || !n.watchdog {
		return 0, false
	}
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("watchdog env invalid", logx.Err(err))
		return 0, false
	}
	return d, d > 0
}

// runWatchdog pings systemd at half the watchdog interval. The ping is
// posted to the frame loop, so a stalled loop stops the pings and systemd
// restarts the unit.
func (n *sdNotifier) runWatchdog(ctx context.Context, loop *frameloop.Loop, every time.Duration) error {
	t := time.NewTicker(every / 2)
	defer t.Stop()
	n.log.Info("watchdog enabled", logx.Duration("interval", every))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := loop.Post(func() { n.send(daemon.SdNotifyWatchdog) }); err != nil {
				n.log.Warn("watchdog ping not queued", logx.Err(err))
			}
		}
	}
}
