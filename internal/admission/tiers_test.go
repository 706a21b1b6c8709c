package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTiers_Boundaries(t *testing.T) {
	tiers := DefaultTiers()

	cases := []struct {
		active int
		want   int
	}{
		{0, 600},
		{4, 600},
		{5, 300},
		{19, 300},
		{20, 100},
		{1000, 100},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, tiers.Resolve(tc.active), "active=%d", tc.active)
	}
}

func TestDefaultTiers_NonIncreasing(t *testing.T) {
	tiers := DefaultTiers()
	require.NoError(t, tiers.Validate())

	prev := tiers.Resolve(0)
	for active := 1; active <= 200; active++ {
		got := tiers.Resolve(active)
		if got > prev {
			t.Fatalf("limit went up from %d to %d at active=%d", prev, got, active)
		}
		prev = got
	}
}

func TestTierTable_ValidateRejects(t *testing.T) {
	cases := map[string]TierTable{
		"empty":            {},
		"not from zero":    {{MinActive: 1, Limit: 10}},
		"zero limit":       {{MinActive: 0, Limit: 0}},
		"unsorted":         {{MinActive: 0, Limit: 10}, {MinActive: 5, Limit: 5}, {MinActive: 5, Limit: 1}},
		"increasing limit": {{MinActive: 0, Limit: 10}, {MinActive: 5, Limit: 20}},
	}

	for name, table := range cases {
		assert.Error(t, table.Validate(), name)
	}
}

func TestParseTiers(t *testing.T) {
	table, err := ParseTiers(" 0:600, 5:300,20:100 ")
	require.NoError(t, err)
	assert.Equal(t, DefaultTiers(), table)
	assert.Equal(t, "0:600,5:300,20:100", table.String())
}

func TestParseTiers_Invalid(t *testing.T) {
	for _, in := range []string{"", "600", "0:abc", "x:10", "0:100,0:50", "0:10,3:20"} {
		_, err := ParseTiers(in)
		assert.Error(t, err, "input %q", in)
	}
}
