package admission

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// A step in the quota table. Applies once the active caller count reaches
// MinActive.
type Tier struct {
	MinActive int `json:"min_active" yaml:"min_active"`
	Limit     int `json:"limit" yaml:"limit"` // requests per window, per caller
}

// Ordered by MinActive, ascending. The first step must start at 0.
type TierTable []Tier

var (
	ErrEmptyTiers = errors.New("tier table is empty")
)

// 600/min below 5 active callers, 300/min up to 19, 100/min from 20 on.
func DefaultTiers() TierTable {
	return TierTable{
		{MinActive: 0, Limit: 600},
		{MinActive: 5, Limit: 300},
		{MinActive: 20, Limit: 100},
	}
}

// Returns the per-caller limit in force when active callers are present
func (t TierTable) Resolve(active int) int {
	if len(t) == 0 {
		return 0
	}

	limit := t[0].Limit
	for _, tier := range t[1:] {
		if active < tier.MinActive {
			break
		}
		limit = tier.Limit
	}

	return limit
}

// Checks the table is a non-increasing step function starting at zero
func (t TierTable) Validate() error {
	if len(t) == 0 {
		return ErrEmptyTiers
	}
	if t[0].MinActive != 0 {
		return fmt.Errorf("first tier must start at 0 active callers, got %d", t[0].MinActive)
	}

	for i, tier := range t {
		if tier.Limit <= 0 {
			return fmt.Errorf("tier %d: limit must be > 0, got %d", i, tier.Limit)
		}
		if i == 0 {
			continue
		}

		prev := t[i-1]
		if tier.MinActive <= prev.MinActive {
			return fmt.Errorf("tier %d: thresholds must be strictly increasing (%d after %d)", i, tier.MinActive, prev.MinActive)
		}
		if tier.Limit > prev.Limit {
			return fmt.Errorf("tier %d: limit %d is higher than the previous tier's %d", i, tier.Limit, prev.Limit)
		}
	}

	return nil
}

func (t TierTable) String() string {
	parts := make([]string, len(t))
	for i, tier := range t {
		parts[i] = fmt.Sprintf("%d:%d", tier.MinActive, tier.Limit)
	}
	return strings.Join(parts, ",")
}

// Parses "minActive:limit" pairs separated by commas, e.g. "0:600,5:300,20:100"
func ParseTiers(s string) (TierTable, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmptyTiers
	}

	var table TierTable
	for _, part := range strings.Split(s, ",") {
		minStr, limitStr, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("invalid tier %q: expected minActive:limit", part)
		}

		minActive, err := strconv.Atoi(strings.TrimSpace(minStr))
		if err != nil {
			return nil, fmt.Errorf("invalid tier %q: %w", part, err)
		}

		limit, err := strconv.Atoi(strings.TrimSpace(limitStr))
		if err != nil {
			return nil, fmt.Errorf("invalid tier %q: %w", part, err)
		}

		table = append(table, Tier{MinActive: minActive, Limit: limit})
	}

	if err := table.Validate(); err != nil {
		return nil, err
	}

	return table, nil
}
