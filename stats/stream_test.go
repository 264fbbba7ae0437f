package stats

import (
	"math"
	"sort"
	"testing"
)

func fromScratch(xs []float64) (avg, vr, med float64) {
	n := len(xs)
	if n == 0 {
		return 0, 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	avg = sum / float64(n)
	if n > 1 {
		var sq float64
		for _, x := range xs {
			d := x - avg
			sq += d * d
		}
		vr = sq / float64(n-1)
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := n / 2
	if n%2 == 1 {
		med = sorted[mid]
	} else {
		med = (sorted[mid-1] + sorted[mid]) / 2
	}
	return
}

func TestPushBelowWindow(t *testing.T) {
	s := NewStream(5)
	vals := []float64{1, 2, 3}
	for _, v := range vals {
		s.Push(v)
	}
	wantAvg, wantVar, wantMed := fromScratch(vals)
	if math.Abs(s.Avg()-wantAvg) > 1e-9 {
		t.Errorf("Avg() = %v, want %v", s.Avg(), wantAvg)
	}
	if s.Var() != wantVar {
		t.Errorf("Var() = %v, want %v", s.Var(), wantVar)
	}
	if s.Med() != wantMed {
		t.Errorf("Med() = %v, want %v", s.Med(), wantMed)
	}
}

func TestSteadyStateMatchesTrailingWindow(t *testing.T) {
	s := NewStream(4)
	all := []float64{10, 20, 30, 40, 50, 60, 70}
	for _, v := range all {
		s.Push(v)
	}
	trailing := all[len(all)-4:]
	wantAvg, wantVar, wantMed := fromScratch(trailing)

	if math.Abs(s.Avg()-wantAvg) > 1e-9 {
		t.Errorf("Avg() = %v, want %v", s.Avg(), wantAvg)
	}
	if relErr(s.Var(), wantVar) > 1e-7 {
		t.Errorf("Var() = %v, want %v", s.Var(), wantVar)
	}
	if s.Med() != wantMed {
		t.Errorf("Med() = %v, want %v", s.Med(), wantMed)
	}
}

func relErr(got, want float64) float64 {
	if want == 0 {
		return math.Abs(got)
	}
	return math.Abs(got-want) / math.Abs(want)
}

func TestVarianceZeroBelowTwoSamples(t *testing.T) {
	for _, w := range []int{1, 2, 3} {
		s := NewStream(w)
		s.Push(42)
		if s.Var() != 0 {
			t.Errorf("window=%d: Var() after 1 push = %v, want 0", w, s.Var())
		}
	}
}

func TestWindowSizeOneNeverBlowsUp(t *testing.T) {
	// The incremental form divides by (W-1)==0 at W==1; that path must
	// never be taken for a window of 1.
	s := NewStream(1)
	for i := 0; i < 10; i++ {
		s.Push(float64(i))
		if s.Var() != 0 {
			t.Fatalf("window=1: Var() = %v, want 0 after push %d", s.Var(), i)
		}
		if s.Avg() != float64(i) {
			t.Fatalf("window=1: Avg() = %v, want %v", s.Avg(), i)
		}
	}
}

func TestRandomizedAgainstFromScratch(t *testing.T) {
	seed := uint64(1)
	next := func() float64 {
		seed = seed*6364136223846793005 + 1442695040888963407
		return float64(seed%10000) / 100
	}

	for _, w := range []int{2, 5, 15, 20, 60} {
		s := NewStream(w)
		var window []float64
		for i := 0; i < w*3; i++ {
			x := next()
			s.Push(x)
			window = append(window, x)
			if len(window) > w {
				window = window[1:]
			}
			wantAvg, wantVar, wantMed := fromScratch(window)
			if math.Abs(s.Avg()-wantAvg) > 1e-6 {
				t.Fatalf("w=%d i=%d: Avg() = %v, want %v", w, i, s.Avg(), wantAvg)
			}
			if relErr(s.Var(), wantVar) > 1e-6 {
				t.Fatalf("w=%d i=%d: Var() = %v, want %v", w, i, s.Var(), wantVar)
			}
			if s.Med() != wantMed {
				t.Fatalf("w=%d i=%d: Med() = %v, want %v", w, i, s.Med(), wantMed)
			}
		}
	}
}

func TestEMAInitialZeroAndGain(t *testing.T) {
	var e EMA
	got := e.Push(6.5)
	want := 0.125 * 6.5
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("Push(6.5) = %v, want %v", got, want)
	}
	if e.Value() != got {
		t.Errorf("Value() = %v, want %v", e.Value(), got)
	}
}
