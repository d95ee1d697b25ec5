package journal

import (
	"turnip/internal/eventbus"
	"turnip/pkg/turnip"
)

// Hooks publishes timer lifecycle events for s on bus. Install them with
// s.SetHooks or turnip.WithHooks.
func Hooks(bus eventbus.Bus, s *turnip.Scheduler) turnip.Hooks {
	publish := func(typ string, t *turnip.Timer, prev turnip.ID) {
		bus.Publish(eventbus.Event{Type: typ, Data: eventbus.TimerEvent{
			ID:        uint64(t.ID()),
			PrevID:    uint64(prev),
			Label:     t.Label(),
			Length:    t.Length(),
			TimeScale: s.TimeScale(),
			Tick:      s.Ticks(),
		}})
	}
	return turnip.Hooks{
		Created:  func(t *turnip.Timer) { publish(eventbus.TimerCreated, t, 0) },
		Recycled: func(t *turnip.Timer, prev turnip.ID) { publish(eventbus.TimerRecycled, t, prev) },
		Expired:  func(t *turnip.Timer) { publish(eventbus.TimerExpired, t, 0) },
	}
}
