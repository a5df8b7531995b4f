// Package prometheus provides a Prometheus implementation of
// partition.DispatchMetrics.
package prometheus

// defaultBuckets are the histogram buckets used for latency metrics (in
// seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
