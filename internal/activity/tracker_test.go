package activity

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestTracker(cfg Config) (*Tracker, *testingclock.FakePassiveClock) {
	clk := testingclock.NewFakePassiveClock(t0)
	cfg.Clock = clk
	return New(cfg), clk
}

func TestTracker_DefaultsTimeout(t *testing.T) {
	tr := New(Config{})
	assert.Equal(t, DefaultTimeout, tr.Timeout())
}

func TestTracker_TouchCountsDistinctCallers(t *testing.T) {
	tr, _ := newTestTracker(Config{})

	tr.Touch("alice")
	tr.Touch("bob")
	tr.Touch("alice")

	assert.Equal(t, 2, tr.CountActive())

	seen, ok := tr.LastSeen("alice")
	require.True(t, ok)
	assert.True(t, seen.Equal(t0))
}

func TestTracker_TouchUpdatesLastSeen(t *testing.T) {
	tr, clk := newTestTracker(Config{})

	tr.Touch("alice")
	clk.SetTime(t0.Add(time.Minute))
	tr.Touch("alice")

	seen, ok := tr.LastSeen("alice")
	require.True(t, ok)
	assert.True(t, seen.Equal(t0.Add(time.Minute)))
}

func TestTracker_LastSeenNeverMovesBackwards(t *testing.T) {
	tr, _ := newTestTracker(Config{})

	tr.TouchAt("alice", t0.Add(time.Minute))
	tr.TouchAt("alice", t0)

	seen, ok := tr.LastSeen("alice")
	require.True(t, ok)
	assert.True(t, seen.Equal(t0.Add(time.Minute)))
}

func TestTracker_IdleCallerEvictedOnAnyTouch(t *testing.T) {
	tr, clk := newTestTracker(Config{Timeout: 5 * time.Minute})

	tr.Touch("alice")
	tr.Touch("bob")
	require.Equal(t, 2, tr.CountActive())

	clk.SetTime(t0.Add(5*time.Minute + time.Second))
	tr.Touch("bob")

	assert.Equal(t, 1, tr.CountActive())
	_, ok := tr.LastSeen("alice")
	assert.False(t, ok, "alice should have been evicted")
}

func TestTracker_ExactlyTimeoutIsStillActive(t *testing.T) {
	tr, clk := newTestTracker(Config{Timeout: 5 * time.Minute})

	tr.Touch("alice")
	clk.SetTime(t0.Add(5 * time.Minute))
	tr.Touch("bob")

	assert.Equal(t, 2, tr.CountActive())
}

func TestTracker_StaleEntriesPersistWithoutTraffic(t *testing.T) {
	tr, clk := newTestTracker(Config{Timeout: time.Minute})

	tr.Touch("alice")
	clk.SetTime(t0.Add(time.Hour))

	// no request, no sweep
	assert.Equal(t, 1, tr.CountActive())

	assert.Equal(t, 1, tr.Sweep(clk.Now()))
	assert.Equal(t, 0, tr.CountActive())
}

func TestTracker_EvictedCallerReturns(t *testing.T) {
	tr, clk := newTestTracker(Config{Timeout: time.Minute})

	tr.Touch("alice")
	clk.SetTime(t0.Add(2 * time.Minute))
	tr.Touch("alice")

	assert.Equal(t, 1, tr.CountActive())
	seen, ok := tr.LastSeen("alice")
	require.True(t, ok)
	assert.True(t, seen.Equal(t0.Add(2*time.Minute)))
}

func TestTracker_SweepIntervalThrottlesSweeps(t *testing.T) {
	tr, clk := newTestTracker(Config{Timeout: time.Minute, SweepInterval: 30 * time.Second})

	tr.Touch("alice") // sweeps at t0
	clk.SetTime(t0.Add(61 * time.Second))
	tr.Touch("bob") // sweeps at t0+61s, alice evicted
	require.Equal(t, 1, tr.CountActive())

	tr.Touch("carol")
	clk.SetTime(t0.Add(122 * time.Second))
	tr.TouchAt("dave", t0.Add(80*time.Second)) // within interval of the last sweep, no sweep
	assert.Equal(t, 3, tr.CountActive())

	tr.Touch("dave")
	assert.Equal(t, 1, tr.CountActive())
}

func TestTracker_ConcurrentTouches(t *testing.T) {
	tr, _ := newTestTracker(Config{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Touch(fmt.Sprintf("caller-%d", (i+j)%20))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, tr.CountActive())
}
