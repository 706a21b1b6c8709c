package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/aman-churiwal/admission-gateway/internal/stats"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const statsTimeout = 250 * time.Millisecond

type Admitter interface {
	Admit(key string) admission.Decision
}

// Admits or rejects every request under the adaptive per-caller quota.
// store may be nil.
func AdaptiveRateLimit(admitter Admitter, store stats.Store, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := CallerKey(c)
		d := admitter.Admit(key)

		c.Set(DecisionKey, d)
		recordDecision(c, store, logger, d)

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.TierLimit))
		c.Header("X-RateLimit-Active", strconv.Itoa(d.ActiveCount))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

		if !d.Allowed {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(d.RetryAfter)))
			c.String(http.StatusTooManyRequests, "Rate limit exceeded: %d requests per minute", d.TierLimit)
			c.Abort()
			return
		}

		if d.TierChanged {
			logger.Debug("caller moved to new tier",
				zap.String("key", key),
				zap.Int("tier", d.TierLimit),
				zap.Int("active", d.ActiveCount),
			)
		}

		c.Next()
	}
}

// Returns the stored decision for this request, if the rate limiter ran
func DecisionFrom(c *gin.Context) (admission.Decision, bool) {
	v, ok := c.Get(DecisionKey)
	if !ok {
		return admission.Decision{}, false
	}
	d, ok := v.(admission.Decision)
	return d, ok
}

// Records d in the background; the request never waits on the store
func recordDecision(c *gin.Context, store stats.Store, logger *zap.Logger, d admission.Decision) {
	if store == nil {
		return
	}

	ev := stats.Event{
		Key:       d.Key,
		Allowed:   d.Allowed,
		TierLimit: d.TierLimit,
		Method:    c.Request.Method,
		Path:      routeOf(c),
		At:        time.Now(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
		defer cancel()

		if err := store.Record(ctx, ev); err != nil {
			logger.Warn("failed to record admission stats", zap.Error(err))
		}
	}()
}

// Proxied requests have no registered route; they share one label so the
// per-route counters stay bounded.
func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "upstream"
}

// Whole seconds, rounded up, never below one
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
