package turnip

import "time"

// TickFunc observes a tick with the delta that was applied to the timer.
type TickFunc func(delta time.Duration)

// ExpireFunc observes the transition of a timer to expired.
type ExpireFunc func()

// Subscription identifies a registered observer. The zero value is never
// issued.
type Subscription uint64

type observer[F any] struct {
	sub Subscription
	fn  F
}

// observerList keeps callbacks in registration order.
type observerList[F any] struct {
	items []observer[F]
}

func (l *observerList[F]) add(sub Subscription, fn F) {
	l.items = append(l.items, observer[F]{sub: sub, fn: fn})
}

func (l *observerList[F]) remove(sub Subscription) bool {
	for i, it := range l.items {
		if it.sub != sub {
			continue
		}
		// Copy instead of shifting in place: a dispatch may hold the old backing array.
		next := make([]observer[F], 0, len(l.items)-1)
		next = append(next, l.items[:i]...)
		next = append(next, l.items[i+1:]...)
		l.items = next
		return true
	}
	return false
}

func (l *observerList[F]) len() int { return len(l.items) }

func (l *observerList[F]) clear() { l.items = nil }

// snapshot returns the current list. Mutations replace the slice, so the
// result stays stable while observers subscribe or unsubscribe mid-dispatch.
func (l *observerList[F]) snapshot() []observer[F] { return l.items }
