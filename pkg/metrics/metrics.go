package metrics

import (
	"strconv"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/charlie0129/freqclamp/pkg/cpufreq"
	"github.com/charlie0129/freqclamp/pkg/limiter"
)

const namespace = "freqclamp"

// Metrics holds the daemon's collectors on a private registry.
type Metrics struct {
	Registry *prom.Registry

	adjustEvents     *prom.CounterVec
	repairs          prom.Counter
	displaySuspended prom.Gauge
	policyLimit      *prom.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prom.NewRegistry(),
		adjustEvents: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "adjust_events_total",
			Help:      "Policy adjust events handled by the limiter, by result.",
		}, []string{"result"}),
		repairs: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "repairs_total",
			Help:      "Adjust events whose minimum exceeded the maximum and were repaired.",
		}),
		displaySuspended: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "display_suspended",
			Help:      "1 while the display is suspended.",
		}),
		policyLimit: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "policy_limit_khz",
			Help:      "Scaling limit last applied to a CPU policy.",
		}, []string{"cpu", "bound"}),
	}

	m.Registry.MustRegister(m.adjustEvents, m.repairs, m.displaySuspended, m.policyLimit)
	return m
}

// ObserveDecision is a limiter hook.
func (m *Metrics) ObserveDecision(d limiter.Decision) {
	result := "passthrough"
	if d.Overridden {
		result = "overridden"
	}
	m.adjustEvents.WithLabelValues(result).Inc()
	if d.Repaired {
		m.repairs.Inc()
	}
}

// ObserveSkipped counts an adjust event the limiter ignored because it was
// disabled.
func (m *Metrics) ObserveSkipped() {
	m.adjustEvents.WithLabelValues("disabled").Inc()
}

func (m *Metrics) ObserveDisplay(suspended bool) {
	v := 0.0
	if suspended {
		v = 1
	}
	m.displaySuspended.Set(v)
}

func (m *Metrics) ObserveApplied(a cpufreq.Applied) {
	cpu := strconv.FormatUint(uint64(a.Applied.CPU), 10)
	m.policyLimit.WithLabelValues(cpu, "min").Set(float64(a.Applied.Min))
	m.policyLimit.WithLabelValues(cpu, "max").Set(float64(a.Applied.Max))
}
