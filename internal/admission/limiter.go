package admission

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/utils/clock"
)

const DefaultWindow = time.Minute

// Keeps one token bucket per caller. The bucket size follows the tier picked
// from the active caller count; when a caller's tier changes its bucket is
// thrown away and a full one is created for the new tier.
type Limiter struct {
	clock  clock.PassiveClock
	tiers  TierTable
	window time.Duration

	entries sync.Map // caller key -> *entry
	size    atomic.Int64
}

type LimiterConfig struct {
	Tiers  TierTable     // Default: DefaultTiers()
	Window time.Duration // Time to refill an empty bucket. Default: 1 minute
	Clock  clock.PassiveClock
}

// Per-caller state. mu covers the tier check, bucket replacement and
// consumption so two requests never both install a bucket for one change.
type entry struct {
	mu       sync.Mutex
	tier     int
	bucket   *rate.Limiter
	lastUsed time.Time
	removed  bool
}

type Result struct {
	Allowed     bool
	TierLimit   int
	Remaining   int           // whole tokens left after this attempt
	RetryAfter  time.Duration // until the next token, when denied
	TierChanged bool          // an existing bucket was replaced
}

func NewLimiter(cfg LimiterConfig) *Limiter {
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultTiers()
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}

	return &Limiter{
		clock:  cfg.Clock,
		tiers:  cfg.Tiers,
		window: cfg.Window,
	}
}

func (l *Limiter) ResolveTier(active int) int {
	return l.tiers.Resolve(active)
}

// Attempts to take one token from key's bucket under the tier for active
func (l *Limiter) TryAdmit(key string, active int) Result {
	return l.TryAdmitAt(key, active, l.clock.Now())
}

func (l *Limiter) TryAdmitAt(key string, active int, now time.Time) Result {
	tier := l.tiers.Resolve(active)

	for {
		e := l.load(key)

		e.mu.Lock()
		if e.removed {
			// Evicted between load and lock.
			e.mu.Unlock()
			continue
		}

		res := Result{TierLimit: tier}
		if e.bucket == nil || e.tier != tier {
			res.TierChanged = e.bucket != nil
			e.bucket = l.newBucket(tier)
			e.tier = tier
		}

		e.lastUsed = now
		res.Allowed = e.bucket.AllowN(now, 1)
		tokens := e.bucket.TokensAt(now)
		e.mu.Unlock()

		res.Remaining = int(math.Floor(math.Max(tokens, 0)))
		if !res.Allowed {
			res.RetryAfter = l.untilNextToken(tier, tokens)
		}

		return res
	}
}

// Returns the tier and token count of key's bucket, if it has one
func (l *Limiter) Bucket(key string) (tier int, tokens float64, ok bool) {
	return l.BucketAt(key, l.clock.Now())
}

func (l *Limiter) BucketAt(key string, now time.Time) (int, float64, bool) {
	v, ok := l.entries.Load(key)
	if !ok {
		return 0, 0, false
	}

	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed || e.bucket == nil {
		return 0, 0, false
	}

	return e.tier, e.bucket.TokensAt(now), true
}

// Drops buckets unused for longer than idle. Returns how many were dropped.
func (l *Limiter) EvictIdle(now time.Time, idle time.Duration) int {
	cutoff := now.Add(-idle)
	removed := 0

	l.entries.Range(func(key, value any) bool {
		e := value.(*entry)

		e.mu.Lock()
		if !e.removed && e.lastUsed.Before(cutoff) {
			e.removed = true
			l.entries.CompareAndDelete(key, e)
			l.size.Add(-1)
			removed++
		}
		e.mu.Unlock()

		return true
	})

	return removed
}

// Returns the number of callers holding a bucket
func (l *Limiter) Size() int {
	return int(l.size.Load())
}

func (l *Limiter) Tiers() TierTable {
	out := make(TierTable, len(l.tiers))
	copy(out, l.tiers)
	return out
}

func (l *Limiter) Window() time.Duration {
	return l.window
}

func (l *Limiter) load(key string) *entry {
	if v, ok := l.entries.Load(key); ok {
		return v.(*entry)
	}

	v, loaded := l.entries.LoadOrStore(key, &entry{})
	if !loaded {
		l.size.Add(1)
	}
	return v.(*entry)
}

// Refills greedily at tier tokens per window, capped at tier
func (l *Limiter) newBucket(tier int) *rate.Limiter {
	perSecond := float64(tier) / l.window.Seconds()
	return rate.NewLimiter(rate.Limit(perSecond), tier)
}

func (l *Limiter) untilNextToken(tier int, tokens float64) time.Duration {
	if tier <= 0 {
		return l.window
	}

	missing := 1 - tokens
	if missing <= 0 {
		return 0
	}

	perToken := l.window.Seconds() / float64(tier)
	return time.Duration(missing * perToken * float64(time.Second))
}
