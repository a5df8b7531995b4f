package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/partd/core/partition"
)

// dispatchMetrics implements partition.DispatchMetrics using Prometheus.
type dispatchMetrics struct {
	subRequestsTotal   *prometheus.CounterVec
	subRequestDuration *prometheus.HistogramVec
	rerouted           prometheus.Counter
	exhausted          prometheus.Counter
	inFlight           prometheus.Gauge
	consistency        prometheus.Counter
}

// NewDispatchMetrics creates a new Prometheus implementation of
// partition.DispatchMetrics, registering every collector on reg.
func NewDispatchMetrics(reg prometheus.Registerer) partition.DispatchMetrics {
	m := &dispatchMetrics{
		subRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partd_dispatch_sub_requests_total",
			Help: "Total number of sub-requests sent to a node",
		}, []string{"retry"}),

		subRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "partd_dispatch_sub_request_duration_seconds",
			Help:    "Sub-request round trip latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"success"}),

		rerouted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "partd_dispatch_rerouted_total",
			Help: "Total number of sub-requests rerouted to an alternate node after failure or timeout",
		}),

		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "partd_dispatch_exhausted_total",
			Help: "Total number of partition ids that ran out of retry attempts without a response",
		}),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "partd_dispatch_sub_requests_in_flight",
			Help: "Number of sub-requests currently awaiting a completion callback",
		}),

		consistency: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "partd_dispatch_consistency_conflicts_total",
			Help: "Total number of partition ids found assigned to more than one node by ReplicaConsistency.Repair",
		}),
	}

	reg.MustRegister(
		m.subRequestsTotal,
		m.subRequestDuration,
		m.rerouted,
		m.exhausted,
		m.inFlight,
		m.consistency,
	)

	return m
}

func (m *dispatchMetrics) SubRequestSent(retry bool) {
	m.subRequestsTotal.WithLabelValues(boolToStr(retry)).Inc()
}

func (m *dispatchMetrics) SubRequestDuration(seconds float64, ok bool) {
	m.subRequestDuration.WithLabelValues(boolToStr(ok)).Observe(seconds)
}

func (m *dispatchMetrics) Rerouted()            { m.rerouted.Inc() }
func (m *dispatchMetrics) Exhausted()           { m.exhausted.Inc() }
func (m *dispatchMetrics) InFlight(delta int)   { m.inFlight.Add(float64(delta)) }
func (m *dispatchMetrics) ConsistencyConflict() { m.consistency.Inc() }

var _ partition.DispatchMetrics = (*dispatchMetrics)(nil)
