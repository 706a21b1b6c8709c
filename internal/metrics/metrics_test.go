package metrics

import (
	"strings"
	"testing"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeState struct {
	active, buckets int
}

func (f *fakeState) ActiveCount() int { return f.active }
func (f *fakeState) BucketCount() int { return f.buckets }

func TestMetrics_CountsDecisions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, &fakeState{})

	m.ObserveDecision(admission.Decision{Allowed: true, TierLimit: 600})
	m.ObserveDecision(admission.Decision{Allowed: true, TierLimit: 600})
	m.ObserveDecision(admission.Decision{Allowed: false, TierLimit: 100, TierChanged: true})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Decisions.WithLabelValues("allowed", "600")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("denied", "100")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TierChanges))
}

func TestMetrics_StateGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	state := &fakeState{active: 3, buckets: 7}
	New(reg, state)

	expected := `
# HELP admission_buckets Callers holding a token bucket.
# TYPE admission_buckets gauge
admission_buckets 7
# HELP admission_tracked_callers Callers currently counted as active.
# TYPE admission_tracked_callers gauge
admission_tracked_callers 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"admission_buckets", "admission_tracked_callers"))

	state.buckets = 9
	count, err := testutil.GatherAndCount(reg, "admission_buckets")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
