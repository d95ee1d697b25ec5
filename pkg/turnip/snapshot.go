package turnip

// Snapshot is a point-in-time view of a scheduler, for logs and status
// output.
type Snapshot struct {
	TimeScale float64 `json:"time_scale"`

	Active  int `json:"active"`
	Pending int `json:"pending"`
	Free    int `json:"free"`

	Running int `json:"running"`
	Paused  int `json:"paused"`
	Expired int `json:"expired"`

	Ticks    uint64 `json:"ticks"`
	Created  uint64 `json:"created"`
	Recycled uint64 `json:"recycled"`
}

func (s *Scheduler) Snapshot() Snapshot {
	snap := Snapshot{
		TimeScale: s.timeScale,
		Active:    len(s.active),
		Pending:   len(s.pending),
		Ticks:     s.ticks,
		Created:   s.created,
		Recycled:  s.recycled,
	}
	for _, t := range s.free {
		if t.AvailableForRecycle() {
			snap.Free++
		}
	}
	count := func(t *Timer) {
		switch t.State() {
		case StateRunning:
			snap.Running++
		case StatePaused:
			snap.Paused++
		case StateExpired:
			snap.Expired++
		}
	}
	for _, t := range s.active {
		count(t)
	}
	for _, t := range s.pending {
		count(t)
	}
	return snap
}
