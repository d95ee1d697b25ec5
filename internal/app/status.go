package app

import (
	"context"
	"errors"
	"fmt"

	"turnip/internal/alarm"
	"turnip/internal/frameloop"
	"turnip/internal/journal"
	"turnip/internal/observability/admin"
	"turnip/internal/runtime/supervisor"
	"turnip/internal/storage"
	"turnip/pkg/turnip"
)

// Status is the daemon-wide view dumped on SIGUSR1.
type Status struct {
	Scheduler  turnip.Snapshot     `json:"scheduler"`
	Loop       frameloop.Stats     `json:"loop"`
	Alarms     alarm.Snapshot      `json:"alarms"`
	Journal    journal.Stats       `json:"journal"`
	Supervisor supervisor.Snapshot `json:"supervisor"`
	EventsLost uint64              `json:"events_dropped"`
}

// Status collects a snapshot. The scheduler is only read on the frame loop
// goroutine, so the call waits for the next frame.
func (a *App) Status(ctx context.Context) (Status, error) {
	reply := make(chan turnip.Snapshot, 1)
	if err := a.loop.Post(func() { reply <- a.sched.Snapshot() }); err != nil {
		return Status{}, fmt.Errorf("scheduler snapshot: %w", err)
	}
	st := Status{
		Loop:       a.loop.Stats(),
		Alarms:     a.alarms.Snapshot(),
		Journal:    a.journal.Stats(),
		EventsLost: a.bus.Dropped(),
	}
	if a.sup != nil {
		st.Supervisor = a.sup.Snapshot()
	}
	select {
	case st.Scheduler = <-reply:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// RecentExpiries returns up to n journaled expiries, oldest first.
func (a *App) RecentExpiries(ctx context.Context, n int) ([]storage.ExpiryRecord, error) {
	return a.journal.Recent(ctx, n)
}

// adminBackend exposes the app to the admin HTTP server.
type adminBackend struct{ a *App }

func (b adminBackend) Status(ctx context.Context) (any, error) { return b.a.Status(ctx) }

func (b adminBackend) RecentExpiries(ctx context.Context, n int) (any, error) {
	return b.a.RecentExpiries(ctx, n)
}

func (b adminBackend) Arm(name string) error {
	err := b.a.ArmNow(name)
	if errors.Is(err, alarm.ErrUnknownAlarm) {
		return fmt.Errorf("%w: %q", admin.ErrUnknown, name)
	}
	return err
}
