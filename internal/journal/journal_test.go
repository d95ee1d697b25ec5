package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"turnip/internal/eventbus"
	"turnip/internal/storage"
	logx "turnip/pkg/logx"
	"turnip/pkg/turnip"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalRecordsExpiries(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "x.jsonl")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	bus := eventbus.New()
	j := New(bus, st, logx.Nop())
	_, err = uuid.Parse(j.RunID())
	require.NoError(t, err)

	s := turnip.New(turnip.WithTimeScale(2))
	s.SetHooks(Hooks(bus, s))

	a := s.After(2*time.Second, nil)
	a.SetLabel("tea")
	s.After(time.Hour, nil)
	for i := 0; i < 4; i++ {
		s.Tick(time.Second, time.Second)
	}
	require.True(t, a.IsExpired())
	s.CreateTimer() // recycles a

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, j.Run(ctx))

	stats := j.Stats()
	assert.Equal(t, uint64(2), stats.Created)
	assert.Equal(t, uint64(1), stats.Recycled)
	assert.Equal(t, uint64(1), stats.Expired)
	assert.Equal(t, uint64(1), stats.Written)
	assert.Zero(t, stats.Failed)

	recs, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	r := recs[0]
	assert.Equal(t, j.RunID(), r.RunID)
	assert.Equal(t, "tea", r.Label)
	assert.Equal(t, 2*time.Second, r.Length)
	assert.Equal(t, 2.0, r.TimeScale)
	assert.Equal(t, uint64(3), r.Tick)
	assert.False(t, r.At.IsZero())
}

func TestJournalWithoutStore(t *testing.T) {
	bus := eventbus.New()
	j := New(bus, nil, logx.Nop())

	bus.Publish(eventbus.Event{Type: eventbus.TimerExpired, Data: eventbus.TimerEvent{ID: 9}})
	bus.Publish(eventbus.Event{Type: eventbus.TimerExpired, Data: "not a timer event"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, j.Run(ctx))

	assert.Equal(t, uint64(1), j.Stats().Expired)
	assert.Zero(t, j.Stats().Written)
	_, err := j.Recent(context.Background(), 1)
	assert.ErrorIs(t, err, storage.ErrDisabled)
}
