// Package metrics defines the Prometheus metric types exported by ofsniff
// and the drop-reason label values used with them.
//
// When defining new operations or metrics, these are helpful values to
// track: things entering or leaving the correlator (probes, samples),
// their success/drop status, and the distribution of the latencies being
// measured.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SamplesTotal counts every latency sample successfully computed and
	// fed into a StatStream.
	//
	// Provides metrics:
	//   ofsniff_samples_total{endpoint, metric}
	// Example usage:
	//   metrics.SamplesTotal.WithLabelValues(ep.String(), "EchoRTT").Inc()
	SamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ofsniff_samples_total",
			Help: "Number of latency samples computed, by endpoint and metric.",
		},
		[]string{"endpoint", "metric"},
	)

	// SampleHistogram tracks the distribution of computed latency samples
	// in milliseconds.
	//
	// Provides metrics:
	//   ofsniff_sample_milliseconds_bucket{metric, le}
	// Example usage:
	//   metrics.SampleHistogram.WithLabelValues("LinkLatRTT-Port7").Observe(6.5)
	SampleHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "ofsniff_sample_milliseconds",
			Help: "Distribution of computed latency samples, in milliseconds.",
			Buckets: []float64{
				0.5, 1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000,
			},
		},
		[]string{"metric"},
	)

	// DropsTotal counts every captured frame the capture loop or the
	// correlator drops without producing a sample, labeled by reason.
	//
	// Provides metrics:
	//   ofsniff_drops_total{reason}
	// Example usage:
	//   metrics.DropsTotal.WithLabelValues("malformed_probe").Inc()
	DropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ofsniff_drops_total",
			Help: "Number of captured frames dropped without a sample, by reason.",
		},
		[]string{"reason"},
	)

	// PacketsTotal counts every PacketIn and PacketOut the capture loop
	// decodes, by OpenFlow message type. Buffered PacketOuts, which carry
	// no frame and are not routed to the correlator, are counted too.
	//
	// Provides metrics:
	//   ofsniff_packets_total{type}
	// Example usage:
	//   metrics.PacketsTotal.WithLabelValues("packet_in").Inc()
	PacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ofsniff_packets_total",
			Help: "Number of OpenFlow packets seen by the capture loop, by message type.",
		},
		[]string{"type"},
	)

	// OutstandingEvictionsTotal counts packet-ID evictions caused by a
	// port's outstanding-probe queue exceeding latency.MaxOutstandingPkts.
	//
	// Provides metrics:
	//   ofsniff_outstanding_evictions_total{endpoint}
	OutstandingEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ofsniff_outstanding_evictions_total",
			Help: "Number of outstanding probe IDs evicted by queue overflow, by endpoint.",
		},
		[]string{"endpoint"},
	)

	// EndpointsActive tracks the number of distinct switch endpoints
	// currently tracked by the latency store.
	EndpointsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ofsniff_endpoints_active",
			Help: "Number of distinct switch endpoints currently tracked.",
		},
	)
)

// Drop reasons used as the "reason" label on DropsTotal. Named here so
// callers across packages use consistent label values.
const (
	ReasonNotLLDP        = "not_lldp"
	ReasonWrongDestMAC   = "wrong_dest_mac"
	ReasonMalformedTLV   = "malformed_tlv"
	ReasonMalformedProbe = "malformed_probe"
	ReasonUnmatchedProbe = "unmatched_probe"
	ReasonFramerError    = "framer_error"
	ReasonNotIPv4        = "not_ipv4"
	ReasonFragmented     = "fragmented"
	ReasonNotTCP         = "not_tcp"
)
