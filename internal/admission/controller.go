// Package admission decides whether a caller's request may proceed. The
// per-caller quota shrinks as the number of active callers grows.
package admission

import (
	"context"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/activity"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// The outcome of one admission check
type Decision struct {
	Key         string
	Allowed     bool
	TierLimit   int
	ActiveCount int
	Remaining   int
	RetryAfter  time.Duration
	TierChanged bool
}

// Receives every decision. Implementations must not block.
type Observer interface {
	ObserveDecision(d Decision)
}

type Controller struct {
	tracker  *activity.Tracker
	limiter  *Limiter
	clock    clock.PassiveClock
	observer Observer
	logger   *zap.Logger
}

type Option func(*Controller)

func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func WithClock(clk clock.PassiveClock) Option {
	return func(c *Controller) { c.clock = clk }
}

func NewController(tracker *activity.Tracker, limiter *Limiter, opts ...Option) *Controller {
	c := &Controller{
		tracker: tracker,
		limiter: limiter,
		clock:   clock.RealClock{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Marks key active, reads the active count, then tries to admit key under the
// tier that count selects
func (c *Controller) Admit(key string) Decision {
	return c.AdmitAt(key, c.clock.Now())
}

func (c *Controller) AdmitAt(key string, now time.Time) Decision {
	c.tracker.TouchAt(key, now)
	active := c.tracker.CountActive()

	res := c.limiter.TryAdmitAt(key, active, now)

	d := Decision{
		Key:         key,
		Allowed:     res.Allowed,
		TierLimit:   res.TierLimit,
		ActiveCount: active,
		Remaining:   res.Remaining,
		RetryAfter:  res.RetryAfter,
		TierChanged: res.TierChanged,
	}

	if c.observer != nil {
		c.observer.ObserveDecision(d)
	}

	return d
}

type Snapshot struct {
	ActiveCallers   int           `json:"active_callers"`
	Buckets         int           `json:"buckets"`
	CurrentTier     int           `json:"current_tier"`
	Tiers           TierTable     `json:"tiers"`
	Window          time.Duration `json:"window_ns"`
	ActivityTimeout time.Duration `json:"activity_timeout_ns"`
}

func (c *Controller) Snapshot() Snapshot {
	active := c.tracker.CountActive()

	return Snapshot{
		ActiveCallers:   active,
		Buckets:         c.limiter.Size(),
		CurrentTier:     c.limiter.ResolveTier(active),
		Tiers:           c.limiter.Tiers(),
		Window:          c.limiter.Window(),
		ActivityTimeout: c.tracker.Timeout(),
	}
}

func (c *Controller) ActiveCount() int {
	return c.tracker.CountActive()
}

func (c *Controller) BucketCount() int {
	return c.limiter.Size()
}

// Periodically drops buckets idle for longer than the activity timeout.
// Without it bucket entries live as long as the process. Stops when ctx is
// cancelled.
func (c *Controller) StartBucketJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	idle := c.tracker.Timeout()
	ticker := time.NewTicker(every)

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.limiter.EvictIdle(c.clock.Now(), idle); n > 0 {
					c.logger.Debug("evicted idle buckets",
						zap.Int("evicted", n),
						zap.Int("remaining", c.limiter.Size()),
					)
				}
			}
		}
	}()
}
