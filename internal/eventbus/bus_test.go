package eventbus

import "testing"

func TestPublishFiltersByType(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	expiries, unsubExp := b.Subscribe(4, TimerExpired)
	defer unsubExp()

	b.Publish(Event{Type: TimerCreated, Data: TimerEvent{ID: 1}})
	b.Publish(Event{Type: TimerExpired, Data: TimerEvent{ID: 1}})

	if len(all) != 2 {
		t.Fatalf("all got %d events", len(all))
	}
	if len(expiries) != 1 {
		t.Fatalf("filtered got %d events", len(expiries))
	}
	e := <-expiries
	if e.Type != TimerExpired || e.Time.IsZero() {
		t.Fatalf("event = %+v", e)
	}
	if te, ok := e.Data.(TimerEvent); !ok || te.ID != 1 {
		t.Fatalf("data = %#v", e.Data)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: TimerCreated})
	}
	if got := b.Dropped(); got != 4 {
		t.Fatalf("Dropped() = %d, want 4", got)
	}

	unsub()
	unsub()
	b.Publish(Event{Type: TimerCreated})
}
