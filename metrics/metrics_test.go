package metrics_test

import (
	"testing"

	"github.com/m-lab/go/prometheusx/promtest"

	"github.com/t-lin/ofsniff/metrics"
)

// TestMetrics exercises each metric once with one label combination so vet/lint catches
// cardinality mistakes, then runs the standard prometheusx lint pass.
func TestMetrics(t *testing.T) {
	metrics.SamplesTotal.WithLabelValues("10.0.0.1:6633", "echo_rtt")
	metrics.SampleHistogram.WithLabelValues("link_lat")
	metrics.DropsTotal.WithLabelValues(metrics.ReasonMalformedProbe)
	metrics.PacketsTotal.WithLabelValues("packet_in")
	metrics.OutstandingEvictionsTotal.WithLabelValues("10.0.0.1:6633")
	metrics.EndpointsActive.Set(1)

	if !promtest.LintMetrics(nil) {
		t.Log("lint errors in the prometheus metrics")
	}
}
