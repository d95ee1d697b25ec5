// Package journal records timer expiries. Scheduler hooks publish lifecycle
// events on the bus; the journal consumes them off the tick goroutine and
// appends an ExpiryRecord per expiry to storage.
package journal

import (
	"context"
	"sync/atomic"
	"time"

	"turnip/internal/eventbus"
	"turnip/internal/storage"
	logx "turnip/pkg/logx"

	"github.com/google/uuid"
)

const (
	subscribeBuffer = 1024
	appendTimeout   = 2 * time.Second
)

type Stats struct {
	RunID    string `json:"run_id"`
	Created  uint64 `json:"created"`
	Recycled uint64 `json:"recycled"`
	Expired  uint64 `json:"expired"`
	Written  uint64 `json:"written"`
	Failed   uint64 `json:"failed"`
}

type Service struct {
	log   logx.Logger
	store storage.Store
	runID string

	events <-chan eventbus.Event
	unsub  func()

	created, recycled, expired atomic.Uint64
	written, failed            atomic.Uint64
}

// New subscribes to bus immediately so no event published after New returns
// is missed. store may be nil; expiries are then counted but not written.
func New(bus eventbus.Bus, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	runID := uuid.NewString()
	ch, unsub := bus.Subscribe(subscribeBuffer, eventbus.TimerCreated, eventbus.TimerRecycled, eventbus.TimerExpired)
	return &Service{
		log:    log.With(logx.String("comp", "journal"), logx.String("run", runID)),
		store:  store,
		runID:  runID,
		events: ch,
		unsub:  unsub,
	}
}

func (s *Service) RunID() string { return s.runID }

// Run consumes events until ctx is done, then flushes what is already
// buffered and unsubscribes.
func (s *Service) Run(ctx context.Context) error {
	defer s.unsub()
	for {
		select {
		case <-ctx.Done():
			s.flush()
			return nil
		case e, ok := <-s.events:
			if !ok {
				return nil
			}
			s.handle(e)
		}
	}
}

func (s *Service) flush() {
	for {
		select {
		case e, ok := <-s.events:
			if !ok {
				return
			}
			s.handle(e)
		default:
			return
		}
	}
}

func (s *Service) handle(e eventbus.Event) {
	te, ok := e.Data.(eventbus.TimerEvent)
	if !ok {
		return
	}
	switch e.Type {
	case eventbus.TimerCreated:
		s.created.Add(1)
	case eventbus.TimerRecycled:
		s.recycled.Add(1)
	case eventbus.TimerExpired:
		s.expired.Add(1)
		s.record(e.Time, te)
	}
}

func (s *Service) record(at time.Time, te eventbus.TimerEvent) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	err := s.store.AppendExpiry(ctx, storage.ExpiryRecord{
		RunID:     s.runID,
		TimerID:   te.ID,
		Label:     te.Label,
		Length:    te.Length,
		TimeScale: te.TimeScale,
		Tick:      te.Tick,
		At:        at,
	})
	if err != nil {
		s.failed.Add(1)
		s.log.Warn("expiry append failed", logx.Uint64("timer", te.ID), logx.Err(err))
		return
	}
	s.written.Add(1)
}

// Recent returns the last n journaled expiries, oldest first.
func (s *Service) Recent(ctx context.Context, n int) ([]storage.ExpiryRecord, error) {
	if s.store == nil {
		return nil, storage.ErrDisabled
	}
	return s.store.Recent(ctx, n)
}

func (s *Service) Stats() Stats {
	return Stats{
		RunID:    s.runID,
		Created:  s.created.Load(),
		Recycled: s.recycled.Load(),
		Expired:  s.expired.Load(),
		Written:  s.written.Load(),
		Failed:   s.failed.Load(),
	}
}
