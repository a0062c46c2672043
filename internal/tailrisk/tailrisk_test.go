package tailrisk

import (
	"errors"
	"math"
	"testing"
)

var series = []float64{0.8, 0.7, 0.9, 0.6, 0.8, 0.75, 0.85, 0.7}

func TestEstimateFullHistory(t *testing.T) {
	m, err := NewEstimator(8).Estimate("ent_1", series, nil)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if !m.Reliable {
		t.Error("expected reliable estimate")
	}
	if m.Observations != 8 {
		t.Errorf("observations = %d", m.Observations)
	}
	if math.Abs(m.Mean-0.7625) > 1e-12 {
		t.Errorf("mean = %v, want 0.7625", m.Mean)
	}
	if math.Abs(m.MaxDrawdown-0.3) > 1e-12 {
		t.Errorf("max drawdown = %v, want 0.3", m.MaxDrawdown)
	}
	// Worst delta is 0.9 -> 0.6.
	if math.Abs(m.ES95-0.3) > 1e-12 {
		t.Errorf("ES95 = %v, want 0.3", m.ES95)
	}
	if !(m.VaR95 <= m.VaR99 && m.VaR99 <= m.VaR999) {
		t.Errorf("VaR not monotone in confidence: %v %v %v", m.VaR95, m.VaR99, m.VaR999)
	}
	if m.VaR95 < 1-m.Mean {
		t.Errorf("VaR95 %v below mean loss %v", m.VaR95, 1-m.Mean)
	}
	if m.Beta != nil {
		t.Error("beta set without a reference")
	}
}

func TestEstimatePartialHistory(t *testing.T) {
	m, err := NewEstimator(8).Estimate("ent_1", series[:4], nil)
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("err = %v, want ErrInsufficientHistory", err)
	}
	if m == nil {
		t.Fatal("expected partial metrics")
	}
	if m.Reliable {
		t.Error("partial estimate marked reliable")
	}
	if m.Volatility <= 0 {
		t.Errorf("volatility = %v, want > 0", m.Volatility)
	}
	if m.VaR95 != 0 || m.ES95 != 0 {
		t.Error("VaR/ES populated below minimum history")
	}
}

func TestEstimateTooFewPoints(t *testing.T) {
	for _, s := range [][]float64{nil, {0.5}} {
		m, err := NewEstimator(8).Estimate("ent_1", s, nil)
		if !errors.Is(err, ErrInsufficientHistory) {
			t.Errorf("len %d: err = %v", len(s), err)
		}
		if m != nil {
			t.Errorf("len %d: metrics returned", len(s))
		}
	}
}

func TestVolatilitySingleDelta(t *testing.T) {
	m, err := NewEstimator(8).Estimate("ent_1", []float64{0.5, 0.7}, nil)
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("err = %v", err)
	}
	if m.Volatility != 0 {
		t.Errorf("volatility = %v, want 0", m.Volatility)
	}
}

func TestConstantSeries(t *testing.T) {
	flat := []float64{0.6, 0.6, 0.6, 0.6, 0.6, 0.6, 0.6, 0.6}
	m, err := NewEstimator(0).Estimate("ent_1", flat, nil)
	if err != nil {
		t.Fatal(err)
	}
	if m.Volatility != 0 || m.MaxDrawdown != 0 || m.ES99 != 0 {
		t.Errorf("flat series: vol=%v dd=%v es=%v", m.Volatility, m.MaxDrawdown, m.ES99)
	}
	if math.Abs(m.VaR999-0.4) > 1e-12 {
		t.Errorf("VaR999 = %v, want 0.4", m.VaR999)
	}
}

func TestVaRClampsToUnitInterval(t *testing.T) {
	if got := VaR(0.1, 1, Level999); got != 1 {
		t.Errorf("VaR = %v, want 1", got)
	}
	if got := VaR(1, 0, Level95); got != 0 {
		t.Errorf("VaR = %v, want 0", got)
	}
}

func TestExpectedShortfallTakesWorstTail(t *testing.T) {
	deltas := []float64{0.1, -0.2, 0.05, -0.1, 0.0, 0.2, -0.05, 0.1, 0.0, 0.1}
	// ceil(0.05*10)=1 -> worst only.
	if got := ExpectedShortfall(deltas, 0.95); math.Abs(got-0.2) > 1e-12 {
		t.Errorf("ES95 = %v, want 0.2", got)
	}
	// ceil(0.2*10)=2 -> mean(-0.2,-0.1).
	if got := ExpectedShortfall(deltas, 0.8); math.Abs(got-0.15) > 1e-12 {
		t.Errorf("ES80 = %v, want 0.15", got)
	}
	if got := ExpectedShortfall([]float64{0.1, 0.2}, 0.95); got != 0 {
		t.Errorf("all-gain ES = %v, want 0", got)
	}
}

func TestBeta(t *testing.T) {
	ref := []float64{0.5, 0.6, 0.55, 0.7, 0.65, 0.8}
	ent := make([]float64, len(ref))
	for i, r := range ref {
		ent[i] = 2*r - 0.5
	}
	m, err := NewEstimator(4).Estimate("ent_1", ent, ref)
	if err != nil {
		t.Fatal(err)
	}
	if m.Beta == nil {
		t.Fatal("beta not set")
	}
	if math.Abs(*m.Beta-2) > 1e-9 {
		t.Errorf("beta = %v, want 2", *m.Beta)
	}

	if _, ok := Beta([]float64{0.1, 0.2, 0.3}, []float64{0.1, 0.1, 0.1}); ok {
		t.Error("beta against a flat reference")
	}
	if _, ok := Beta([]float64{0.1, 0.2}, []float64{0.1, 0.2}); ok {
		t.Error("beta with two deltas")
	}
}

func TestDeltas(t *testing.T) {
	d := Deltas([]float64{1, 3, 2})
	if len(d) != 2 || d[0] != 2 || d[1] != -1 {
		t.Errorf("deltas = %v", d)
	}
	if Deltas([]float64{1}) != nil {
		t.Error("single point deltas should be nil")
	}
}
