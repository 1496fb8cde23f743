package pimmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "gopimd"
	subsystem = "pim"
)

// Label names for PIM metrics.
const (
	labelVRF       = "vrf"
	labelState     = "state"
	labelFromState = "from"
	labelToState   = "to"
)

// stateTerminated is the state label of a destroyed instance. Terminated
// instances leave the registry, so the instances gauge does not track it.
const stateTerminated = "Terminated"

// -------------------------------------------------------------------------
// Collector — Prometheus PIM Metrics
// -------------------------------------------------------------------------

// Collector holds all PIM instance Prometheus metrics. It satisfies
// pim.MetricsReporter.
type Collector struct {
	// Instances tracks the number of instances per lifecycle state.
	Instances *prometheus.GaugeVec

	// StateTransitions counts lifecycle transitions per instance, labeled
	// with the old and new state.
	StateTransitions *prometheus.CounterVec

	// EnableFailures counts Enable attempts that failed to acquire a
	// kernel resource.
	EnableFailures *prometheus.CounterVec

	// SSMReevaluations counts reevaluation cascades triggered by SSM range
	// or prefix list changes.
	SSMReevaluations *prometheus.CounterVec

	// RPFReleased counts RPF cache entries released at instance terminate.
	RPFReleased *prometheus.CounterVec
}

// NewCollector creates a Collector with all PIM metrics registered against
// the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Instances,
		c.StateTransitions,
		c.EnableFailures,
		c.SSMReevaluations,
		c.RPFReleased,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	vrfLabels := []string{labelVRF}

	return &Collector{
		Instances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "instances",
			Help:      "Number of PIM instances per lifecycle state.",
		}, []string{labelState}),

		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Total PIM instance lifecycle transitions.",
		}, []string{labelVRF, labelFromState, labelToState}),

		EnableFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "enable_failures_total",
			Help:      "Total instance enable attempts that failed to acquire kernel resources.",
		}, vrfLabels),

		SSMReevaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ssm_reevaluations_total",
			Help:      "Total SSM reclassification cascades.",
		}, vrfLabels),

		RPFReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rpf_cache_released_total",
			Help:      "Total RPF cache entries released when instances terminate.",
		}, vrfLabels),
	}
}

// -------------------------------------------------------------------------
// Instance Lifecycle
// -------------------------------------------------------------------------

// InstanceCreated counts a new instance in the Created state.
func (c *Collector) InstanceCreated(_ string) {
	c.Instances.WithLabelValues("Created").Inc()
}

// RecordTransition moves an instance between state gauges and counts the
// transition.
func (c *Collector) RecordTransition(vrf, from, to string) {
	c.StateTransitions.WithLabelValues(vrf, from, to).Inc()
	c.Instances.WithLabelValues(from).Dec()

	if to != stateTerminated {
		c.Instances.WithLabelValues(to).Inc()
	}
}

// -------------------------------------------------------------------------
// Counters
// -------------------------------------------------------------------------

// IncEnableFailures counts a failed Enable of the instance.
func (c *Collector) IncEnableFailures(vrf string) {
	c.EnableFailures.WithLabelValues(vrf).Inc()
}

// IncSSMReevaluations counts a reevaluation cascade of the instance.
func (c *Collector) IncSSMReevaluations(vrf string) {
	c.SSMReevaluations.WithLabelValues(vrf).Inc()
}

// AddRPFReleased adds n released RPF cache entries of the instance.
func (c *Collector) AddRPFReleased(vrf string, n int) {
	c.RPFReleased.WithLabelValues(vrf).Add(float64(n))
}
