package turnip

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatedTimerIsPendingUntilEndOfTick(t *testing.T) {
	s := New()
	tm := s.CreateTimer()
	tm.SetLength(3 * time.Second)
	tm.Start()

	snap := s.Snapshot()
	assert.Equal(t, 0, snap.Active)
	assert.Equal(t, 1, snap.Pending)

	s.Tick(time.Second, time.Second)
	assert.Equal(t, 3*time.Second, tm.Remaining(), "pending timers are not ticked")

	snap = s.Snapshot()
	assert.Equal(t, 1, snap.Active)
	assert.Equal(t, 0, snap.Pending)

	s.Tick(time.Second, time.Second)
	assert.Equal(t, 2*time.Second, tm.Remaining())
}

func TestTimerCreatedInsideExpiryIsDeferred(t *testing.T) {
	s := New()
	first := activeTimer(t, s, 0)

	var child *Timer
	first.OnExpire(func() {
		child = s.CreateTimer()
		child.SetLength(10 * time.Second)
		child.Start()
	})
	first.Start()

	s.Tick(time.Second, time.Second) // call N: first expires, child is created
	require.NotNil(t, child)
	assert.Equal(t, 10*time.Second, child.Remaining(), "child must not advance during the tick that created it")

	s.Tick(time.Second, time.Second) // call N+1
	assert.Equal(t, 9*time.Second, child.Remaining())
}

func TestTimerRecycledInsideExpiryIsDeferred(t *testing.T) {
	s := New()
	a := activeTimer(t, s, 0)
	b := activeTimer(t, s, 0)
	b.Start()
	s.Tick(time.Second, time.Second) // b expires, a is still paused
	require.True(t, b.AvailableForRecycle())

	var child *Timer
	a.OnExpire(func() {
		child = s.CreateTimer()
		child.SetLength(10 * time.Second)
		child.Start()
	})
	a.Start()

	s.Tick(time.Second, time.Second) // call N: a expires, b is handed out again
	require.Same(t, b, child, "b sits after a in the active set")
	assert.Equal(t, 10*time.Second, child.Remaining(), "recycled timer must not advance during the tick that handed it out")

	s.Tick(time.Second, time.Second) // call N+1
	assert.Equal(t, 9*time.Second, child.Remaining())
}

func TestChainedTimersLikeExampleRunner(t *testing.T) {
	s := New()
	var log []string

	var five, one func()
	five = func() {
		log = append(log, "five")
		s.After(time.Second, one)
	}
	one = func() {
		log = append(log, "one")
		s.After(5*time.Second, five)
	}
	s.After(5*time.Second, five)

	for i := 0; i < 40; i++ {
		s.Tick(time.Second, time.Second)
	}

	require.GreaterOrEqual(t, len(log), 4)
	assert.Equal(t, []string{"five", "one", "five", "one"}, log[:4])
	// Each expired timer is recycled by the next After call, so the pool
	// never grows past the two objects in flight.
	assert.LessOrEqual(t, s.Snapshot().Active, 2)
}

func TestRecycleReturnsFreshTimerWithNewID(t *testing.T) {
	s := New()
	a := activeTimer(t, s, time.Second)
	oldID := a.ID()

	staleTicks := 0
	staleExpiries := 0
	a.OnTick(func(time.Duration) { staleTicks++ })
	a.OnExpire(func() { staleExpiries++ })
	a.SetUseUnscaledTime(true)
	a.Start()
	s.Tick(time.Second, time.Second)
	s.Tick(time.Second, time.Second)
	require.True(t, a.IsExpired())
	require.True(t, a.AvailableForRecycle())

	b := s.CreateTimer()
	require.Same(t, a, b, "expired recyclable timer must be reused")
	assert.NotEqual(t, oldID, b.ID())
	assert.False(t, b.IsExpired())
	assert.True(t, b.IsPaused())
	assert.False(t, b.UseUnscaledTime())
	assert.True(t, b.AutoRecycle())

	b.SetLength(3 * time.Second)
	assert.Equal(t, 3*time.Second, b.Remaining())

	b.Start()
	s.Tick(time.Second, time.Second)
	assert.Equal(t, 2*time.Second, b.Remaining(), "recycled timers are already active")
	assert.Equal(t, 1, staleTicks, "observers from the previous life must not fire")
	assert.Equal(t, 1, staleExpiries)

	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.Created)
	assert.Equal(t, uint64(1), snap.Recycled)
}

func TestNonRecyclingTimerIsNeverReassigned(t *testing.T) {
	s := New()
	a := activeTimer(t, s, 0)
	a.SetAutoRecycle(false)
	a.Start()
	s.Tick(time.Second, time.Second)
	require.True(t, a.IsExpired())

	b := s.CreateTimer()
	assert.NotSame(t, a, b)
	assert.True(t, a.IsExpired(), "spent timer stays with its creator")

	// Ticking a spent timer is harmless.
	for i := 0; i < 3; i++ {
		s.Tick(time.Second, time.Second)
	}
	assert.True(t, a.IsExpired())
}

func TestEnablingAutoRecycleAfterExpiry(t *testing.T) {
	s := New()
	a := activeTimer(t, s, 0)
	a.SetAutoRecycle(false)
	a.Start()
	s.Tick(time.Second, time.Second)
	require.True(t, a.IsExpired())
	assert.Equal(t, 0, s.Snapshot().Free)

	a.SetAutoRecycle(true)
	assert.Equal(t, 1, s.Snapshot().Free)
	assert.Same(t, a, s.CreateTimer())
}

func TestStaleFreeListEntriesAreSkipped(t *testing.T) {
	s := New()
	a := activeTimer(t, s, 0)
	a.Start()
	s.Tick(time.Second, time.Second)
	require.True(t, a.AvailableForRecycle())

	// Caller revives the timer after it was queued for reuse.
	a.SetLength(5 * time.Second)
	require.False(t, a.AvailableForRecycle())

	b := s.CreateTimer()
	assert.NotSame(t, a, b)
	assert.Equal(t, 5*time.Second, a.Remaining())
}

func TestRecyclingIsOldestFirst(t *testing.T) {
	s := New()
	a := activeTimer(t, s, 0)
	b := activeTimer(t, s, time.Second)
	a.Start()
	b.Start()

	s.Tick(time.Second, time.Second) // a expires; b counts down to 0
	s.Tick(time.Second, time.Second) // b expires
	require.True(t, a.IsExpired())
	require.True(t, b.IsExpired())

	assert.Same(t, a, s.CreateTimer())
	assert.Same(t, b, s.CreateTimer())
	assert.Equal(t, 0, s.Snapshot().Free)
}

func TestTimeScaleAffectsOnlyScaledChannel(t *testing.T) {
	s := New()
	scaled := activeTimer(t, s, 10*time.Second)
	unscaled := activeTimer(t, s, 10*time.Second)
	unscaled.SetUseUnscaledTime(true)
	scaled.Start()
	unscaled.Start()

	s.SetTimeScale(2)
	s.Tick(time.Second, time.Second)

	assert.Equal(t, 8*time.Second, scaled.Remaining())
	assert.Equal(t, 9*time.Second, unscaled.Remaining())

	s.ResetTimeScale()
	assert.Equal(t, DefaultTimeScale, s.TimeScale())
	s.Tick(time.Second, time.Second)
	assert.Equal(t, 7*time.Second, scaled.Remaining())
}

func TestWithTimeScaleOption(t *testing.T) {
	s := New(WithTimeScale(0.5))
	tm := activeTimer(t, s, 10*time.Second)
	tm.Start()
	s.Tick(2*time.Second, 2*time.Second)
	assert.Equal(t, 9*time.Second, tm.Remaining())
}

func TestObserverPanicPropagatesByDefault(t *testing.T) {
	s := New()
	tm := activeTimer(t, s, 0)
	tm.OnExpire(func() { panic("boom") })
	tm.Start()

	assert.PanicsWithValue(t, "boom", func() { s.Tick(time.Second, time.Second) })
}

func TestObserverRecoverIsolatesPanics(t *testing.T) {
	var recovered []any
	var ids []ID
	s := New(WithObserverRecover(func(id ID, r any) {
		ids = append(ids, id)
		recovered = append(recovered, r)
	}))
	a := activeTimer(t, s, 0)
	b := activeTimer(t, s, 0)

	ranAfter := false
	bExpired := false
	a.OnExpire(func() { panic("boom") })
	a.OnExpire(func() { ranAfter = true })
	b.OnExpire(func() { bExpired = true })
	a.Start()
	b.Start()

	require.NotPanics(t, func() { s.Tick(time.Second, time.Second) })
	assert.Equal(t, []any{"boom"}, recovered)
	assert.Equal(t, []ID{a.ID()}, ids)
	assert.True(t, ranAfter)
	assert.True(t, bExpired)
}

func TestHooks(t *testing.T) {
	var created, expired []ID
	var recycled [][2]ID
	s := New(WithHooks(Hooks{
		Created:  func(tm *Timer) { created = append(created, tm.ID()) },
		Recycled: func(tm *Timer, prev ID) { recycled = append(recycled, [2]ID{prev, tm.ID()}) },
		Expired:  func(tm *Timer) { expired = append(expired, tm.ID()) },
	}))

	a := s.After(0, nil)
	first := a.ID()
	s.Tick(time.Second, time.Second)
	s.Tick(time.Second, time.Second)
	b := s.CreateTimer()

	assert.Equal(t, []ID{first}, created)
	assert.Equal(t, []ID{first}, expired)
	assert.Equal(t, [][2]ID{{first, b.ID()}}, recycled)

	s.SetHooks(Hooks{})
	s.After(0, nil)
	assert.Len(t, created, 1, "hooks replaced")
	assert.Equal(t, uint64(2), s.Ticks())
}

func TestEveryRestartsAfterEachExpiry(t *testing.T) {
	s := New()
	count := 0
	tm := s.Every(2*time.Second, func() { count++ })
	require.False(t, tm.AutoRecycle())

	// merge tick + (2 countdown ticks + 1 expiry tick) per period
	for i := 0; i < 1+3*3; i++ {
		s.Tick(time.Second, time.Second)
	}
	assert.Equal(t, 3, count)
	assert.False(t, tm.IsExpired())

	tm.Pause()
	for i := 0; i < 10; i++ {
		s.Tick(time.Second, time.Second)
	}
	assert.Equal(t, 3, count)
}

type fakeRunner struct{ tickable Tickable }

func (r *fakeRunner) SetTickable(t Tickable) { r.tickable = t }

func TestBindReplacesRunnerWithoutResettingTimers(t *testing.T) {
	s := New()
	r1 := &fakeRunner{}
	r2 := &fakeRunner{}

	s.Bind(r1)
	require.Equal(t, Tickable(s), r1.tickable)

	tm := s.CreateTimer()
	tm.SetLength(5 * time.Second)
	tm.Start()
	r1.tickable.Tick(time.Second, time.Second)
	r1.tickable.Tick(time.Second, time.Second)
	require.Equal(t, 4*time.Second, tm.Remaining())

	s.Bind(r2)
	assert.Nil(t, r1.tickable)
	require.Equal(t, Tickable(s), r2.tickable)

	r2.tickable.Tick(time.Second, time.Second)
	assert.Equal(t, 3*time.Second, tm.Remaining())

	s.Bind(nil)
	assert.Nil(t, r2.tickable)
}

func TestIndependentSchedulers(t *testing.T) {
	s1 := New()
	s2 := New()
	a := activeTimer(t, s1, 0)
	a.Start()
	s1.Tick(time.Second, time.Second)
	require.True(t, a.AvailableForRecycle())

	b := s2.CreateTimer()
	assert.NotSame(t, a, b, "timers never migrate between schedulers")
	assert.Equal(t, 0, s2.Snapshot().Free)
}

func TestSnapshotCounts(t *testing.T) {
	s := New(WithTimeScale(1.5))
	running := activeTimer(t, s, 10*time.Second)
	running.Start()
	_ = activeTimer(t, s, 10*time.Second)
	spent := activeTimer(t, s, 0)
	spent.Start()
	s.Tick(time.Second, time.Second)
	_ = s.CreateTimer() // recycles spent
	_ = s.CreateTimer() // new, pending

	snap := s.Snapshot()
	assert.Equal(t, 1.5, snap.TimeScale)
	assert.Equal(t, 3, snap.Active)
	assert.Equal(t, 1, snap.Pending)
	assert.Equal(t, 0, snap.Free)
	assert.Equal(t, 1, snap.Running)
	assert.Equal(t, 3, snap.Paused)
	assert.Equal(t, 0, snap.Expired)
	assert.Equal(t, uint64(4), snap.Ticks)
	assert.Equal(t, uint64(4), snap.Created)
	assert.Equal(t, uint64(1), snap.Recycled)
}
