// Package stats implements a bounded sliding-window running-statistics
// engine: mean, sample variance and median over a fixed-size window of
// float64 samples, with an optional exponential-moving-average
// pre-filter for link-latency streams.
package stats

import "sort"

// Recognized window sizes.
const (
	EchoRTTWindow  = 15
	PktInRTTWindow = 60
	LinkLatWindow  = 20
)

// Stream is a bounded FIFO of numeric samples maintaining a running mean,
// sample variance (divisor n-1, zero when n<2) and median.
//
// The incremental variance update divides by (W-1), which is 0 for a
// window of 1. Every push with a pre-update n<2 therefore goes through
// the from-scratch calculation unconditionally, so Var() is exactly 0
// whenever fewer than 2 samples are in the window, regardless of W.
type Stream struct {
	window []float64
	w      int
	avg    float64
	vr     float64
}

// NewStream creates a Stream with the given window size.
func NewStream(window int) *Stream {
	return &Stream{window: make([]float64, 0, window), w: window}
}

// Push adds a new sample, evicting the oldest sample once the window is
// full, and updates Avg/Var/Med accordingly.
func (s *Stream) Push(x float64) {
	n := len(s.window)
	if n < s.w {
		s.window = append(s.window, x)
		s.recompute()
		return
	}

	old := s.window[0]
	s.window = append(s.window[1:], x)

	if n < 2 {
		// Unreachable when w >= 2 (n==w>=2 here), but keeps the w==1 case
		// correct without a special-cased divisor: recompute exactly.
		s.recompute()
		return
	}

	mu := s.avg
	newAvg := mu + (x-old)/float64(s.w)
	s.vr = s.vr + (x-old)*(x-newAvg+old-mu)/float64(s.w-1)
	s.avg = newAvg
}

// recompute derives Avg/Var from scratch over the current window. Used
// whenever n < w (pre-steady-state) and, defensively, whenever n < 2.
func (s *Stream) recompute() {
	n := len(s.window)
	if n == 0 {
		s.avg, s.vr = 0, 0
		return
	}
	var sum float64
	for _, v := range s.window {
		sum += v
	}
	avg := sum / float64(n)

	var vr float64
	if n > 1 {
		var sq float64
		for _, v := range s.window {
			d := v - avg
			sq += d * d
		}
		vr = sq / float64(n-1)
	}
	s.avg, s.vr = avg, vr
}

// Avg returns the current window mean.
func (s *Stream) Avg() float64 { return s.avg }

// Var returns the current window sample variance (0 when n<2).
func (s *Stream) Var() float64 { return s.vr }

// Med returns the median of the current window, computed from scratch
// (O(W log W)) each call; W is small (<=60) so this is cheap.
func (s *Stream) Med() float64 {
	n := len(s.window)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, s.window)
	sort.Float64s(sorted)
	mid := n / 2
	if n%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// Len returns the number of samples currently in the window.
func (s *Stream) Len() int { return len(s.window) }

// EMA is the exponential-moving-average pre-filter applied to raw
// link-latency samples before they are fed into a Stream. The initial
// srtt of 0 intentionally biases the first few link-latency samples
// toward zero; link samples are a difference of noisy estimates and
// often land at or below zero, and the EMA pulls them toward a non-zero
// smoothed track before statistics are taken.
type EMA struct {
	srtt float64
}

// Const gain applied by EMA.Push; see EMA.
const emaGain = 0.125

// Push folds sample into the EMA and returns the updated smoothed value.
func (e *EMA) Push(sample float64) float64 {
	e.srtt = e.srtt + emaGain*(sample-e.srtt)
	return e.srtt
}

// Value returns the current smoothed value without pushing a new sample.
func (e *EMA) Value() float64 { return e.srtt }
