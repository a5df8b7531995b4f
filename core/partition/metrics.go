package partition

import "github.com/codewandler/partd/core/metrics"

// DispatchMetrics is the instrumentation seam a Dispatcher reports
// through. It is satisfied by a no-op (NopDispatchMetrics) and by the
// Prometheus adapter in adapters/prometheus.
type DispatchMetrics interface {
	// SubRequestSent is incremented once per sub-request handed to the
	// Transport, tagged by whether it is a retry.
	SubRequestSent(retry bool)
	// SubRequestDuration observes the time between a sub-request being
	// sent and its completion callback firing, in seconds.
	SubRequestDuration(seconds float64, ok bool)
	// Rerouted is incremented once per sub-request (whole-request or
	// selective) that was rerouted to an alternate node after a failure
	// or timeout.
	Rerouted()
	// Exhausted is incremented once per partition id that ran out of
	// retry attempts without a successful response.
	Exhausted()
	// InFlight tracks the number of sub-requests currently awaiting a
	// completion callback.
	InFlight(delta int)
	// ConsistencyConflict is incremented once per partition id the
	// ReplicaConsistency repair found assigned to more than one node.
	ConsistencyConflict()
}

// NopDispatchMetrics discards everything. It is the default when a
// Dispatcher is built without an explicit DispatchMetrics.
type NopDispatchMetrics struct{}

func (NopDispatchMetrics) SubRequestSent(bool)           {}
func (NopDispatchMetrics) SubRequestDuration(float64, bool) {}
func (NopDispatchMetrics) Rerouted()                     {}
func (NopDispatchMetrics) Exhausted()                    {}
func (NopDispatchMetrics) InFlight(int)                  {}
func (NopDispatchMetrics) ConsistencyConflict()          {}

// metricsFromStdlib adapts the core/metrics primitives into a
// DispatchMetrics, for callers who already have Counter/Gauge/Histogram
// instances (e.g. wired to a non-Prometheus backend) and don't want to
// implement DispatchMetrics by hand.
type metricsFromStdlib struct {
	sent         metrics.Counter
	retried      metrics.Counter
	rerouted     metrics.Counter
	exhausted    metrics.Counter
	inFlight     metrics.Gauge
	consistency  metrics.Counter
	durationOK   metrics.Histogram
	durationFail metrics.Histogram
}

// NewDispatchMetrics builds a DispatchMetrics backed by plain
// core/metrics primitives.
func NewDispatchMetrics(sent, retried, rerouted, exhausted, consistency metrics.Counter, inFlight metrics.Gauge, durationOK, durationFail metrics.Histogram) DispatchMetrics {
	return &metricsFromStdlib{
		sent:         sent,
		retried:      retried,
		rerouted:     rerouted,
		exhausted:    exhausted,
		inFlight:     inFlight,
		consistency:  consistency,
		durationOK:   durationOK,
		durationFail: durationFail,
	}
}

func (m *metricsFromStdlib) SubRequestSent(retry bool) {
	if retry {
		m.retried.Inc()
		return
	}
	m.sent.Inc()
}

func (m *metricsFromStdlib) SubRequestDuration(seconds float64, ok bool) {
	if ok {
		m.durationOK.Observe(seconds)
		return
	}
	m.durationFail.Observe(seconds)
}

func (m *metricsFromStdlib) Rerouted()            { m.rerouted.Inc() }
func (m *metricsFromStdlib) Exhausted()           { m.exhausted.Inc() }
func (m *metricsFromStdlib) InFlight(delta int)   { m.inFlight.Add(float64(delta)) }
func (m *metricsFromStdlib) ConsistencyConflict() { m.consistency.Inc() }
