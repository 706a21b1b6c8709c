// Package stats keeps running counters of admission decisions. Recording is
// best effort: a failing store never changes a decision.
package stats

import (
	"context"
	"time"
)

// One admission decision, as seen by the HTTP layer.
//
// Keep an eye on cardinality: counting per caller key or per path can grow
// without bound when keys are spoofable addresses.
type Event struct {
	Key       string
	Allowed   bool
	TierLimit int

	Method string
	Path   string

	At time.Time
}

type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

type Summary struct {
	Total  Counters            `json:"total"`
	ByTier map[string]Counters `json:"by_tier"`
}

type Store interface {
	Record(ctx context.Context, ev Event) error
	Summary(ctx context.Context) (Summary, error)
}

func (c *Counters) add(allowed bool) {
	if allowed {
		c.Allowed++
		return
	}
	c.Denied++
}
