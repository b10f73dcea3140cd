package metrics

import (
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/charlie0129/freqclamp/pkg/cpufreq"
	"github.com/charlie0129/freqclamp/pkg/limiter"
	"github.com/charlie0129/freqclamp/pkg/policy"
)

func TestObserveDecision(t *testing.T) {
	m := New()

	m.ObserveDecision(limiter.Decision{})
	m.ObserveDecision(limiter.Decision{Overridden: true, Repaired: true})
	m.ObserveDecision(limiter.Decision{Overridden: true})
	m.ObserveSkipped()

	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.adjustEvents.WithLabelValues("passthrough")))
	assert.Equal(t, 2.0, promtestutil.ToFloat64(m.adjustEvents.WithLabelValues("overridden")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.adjustEvents.WithLabelValues("disabled")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.repairs))
}

func TestObserveDisplayAndApplied(t *testing.T) {
	m := New()

	m.ObserveDisplay(true)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.displaySuspended))
	m.ObserveDisplay(false)
	assert.Equal(t, 0.0, promtestutil.ToFloat64(m.displaySuspended))

	m.ObserveApplied(cpufreq.Applied{Applied: policy.Policy{CPU: 4, Min: 300000, Max: 500000}})
	assert.Equal(t, 300000.0, promtestutil.ToFloat64(m.policyLimit.WithLabelValues("4", "min")))
	assert.Equal(t, 500000.0, promtestutil.ToFloat64(m.policyLimit.WithLabelValues("4", "max")))

	n, err := promtestutil.GatherAndCount(m.Registry)
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
}
