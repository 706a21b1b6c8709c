// Package activity keeps the registry of callers seen recently by the gateway
// and reports how many of them are active.
package activity

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"
)

const DefaultTimeout = 5 * time.Minute

// Marks a record that a sweep has already counted as gone.
const evicted int64 = math.MinInt64

// Tracks the last time each caller was seen and evicts idle callers inline,
// on the request path, instead of from a background timer.
type Tracker struct {
	clock         clock.PassiveClock
	timeout       time.Duration
	sweepInterval time.Duration

	records   sync.Map // caller key -> *record
	active    atomic.Int64
	lastSweep atomic.Int64
}

type Config struct {
	Timeout       time.Duration // Default: 5 minutes
	SweepInterval time.Duration // Minimum gap between sweeps. Default: 0, sweep on every touch
	Clock         clock.PassiveClock
}

type record struct {
	lastSeen atomic.Int64 // unix nanos, or evicted
}

func New(cfg Config) *Tracker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SweepInterval < 0 {
		cfg.SweepInterval = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}

	return &Tracker{
		clock:         cfg.Clock,
		timeout:       cfg.Timeout,
		sweepInterval: cfg.SweepInterval,
	}
}

// Records a request from key at the current time
func (t *Tracker) Touch(key string) {
	t.TouchAt(key, t.clock.Now())
}

// Records a request from key at now, then sweeps idle callers
func (t *Tracker) TouchAt(key string, now time.Time) {
	nanos := now.UnixNano()

	for {
		if v, ok := t.records.Load(key); ok {
			rec := v.(*record)
			if rec.seen(nanos) {
				break
			}
			// Swept concurrently; drop the dead record and insert a new one.
			t.records.CompareAndDelete(key, rec)
			continue
		}

		rec := &record{}
		rec.lastSeen.Store(nanos)
		if _, loaded := t.records.LoadOrStore(key, rec); !loaded {
			t.active.Add(1)
			break
		}
	}

	t.maybeSweep(now)
}

// Removes every caller idle for longer than the timeout. Returns the number
// of callers removed.
func (t *Tracker) Sweep(now time.Time) int {
	cutoff := now.Add(-t.timeout).UnixNano()
	removed := 0

	t.records.Range(func(key, value any) bool {
		rec := value.(*record)
		if rec.expire(cutoff) {
			t.active.Add(-1)
			t.records.CompareAndDelete(key, rec)
			removed++
		}
		return true
	})

	return removed
}

// Returns the number of callers in the registry as of the latest sweep
func (t *Tracker) CountActive() int {
	return int(t.active.Load())
}

// Returns when key was last seen, if it is still tracked
func (t *Tracker) LastSeen(key string) (time.Time, bool) {
	v, ok := t.records.Load(key)
	if !ok {
		return time.Time{}, false
	}

	nanos := v.(*record).lastSeen.Load()
	if nanos == evicted {
		return time.Time{}, false
	}

	return time.Unix(0, nanos), true
}

func (t *Tracker) Timeout() time.Duration {
	return t.timeout
}

func (t *Tracker) maybeSweep(now time.Time) {
	if t.sweepInterval <= 0 {
		t.Sweep(now)
		return
	}

	last := t.lastSweep.Load()
	if now.UnixNano()-last < int64(t.sweepInterval) {
		return
	}

	// Only the request that wins the swap pays for the sweep.
	if t.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		t.Sweep(now)
	}
}

// Moves lastSeen forward to nanos. Returns false if the record was evicted.
func (r *record) seen(nanos int64) bool {
	for {
		cur := r.lastSeen.Load()
		if cur == evicted {
			return false
		}
		if cur >= nanos || r.lastSeen.CompareAndSwap(cur, nanos) {
			return true
		}
	}
}

// Marks the record evicted if it was last seen before cutoff
func (r *record) expire(cutoff int64) bool {
	for {
		cur := r.lastSeen.Load()
		if cur == evicted || cur >= cutoff {
			return false
		}
		if r.lastSeen.CompareAndSwap(cur, evicted) {
			return true
		}
	}
}
