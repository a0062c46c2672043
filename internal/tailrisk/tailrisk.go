// Package tailrisk estimates downside statistics from an entity's composite
// score history: volatility, max drawdown, value-at-risk, expected
// shortfall and beta against a reference series.
//
// All loss figures are in score units on [0,1]: a VaR of 0.2 means the
// composite score is expected to sit at or below 0.8 with the given
// confidence.
package tailrisk

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var ErrInsufficientHistory = errors.New("tailrisk: insufficient history")

const (
	// DefaultMinHistory is the point count needed for VaR and ES.
	DefaultMinHistory = 8

	// minVolatilityPoints is the point count needed for volatility.
	minVolatilityPoints = 2
)

// Confidence levels reported in Metrics.
const (
	Level95  = 0.95
	Level99  = 0.99
	Level999 = 0.999
)

// Metrics are the tail statistics of one entity's score series.
type Metrics struct {
	EntityID     string   `json:"entityId"`
	Observations int      `json:"observations"`
	Mean         float64  `json:"mean"`
	Volatility   float64  `json:"volatility"`
	MaxDrawdown  float64  `json:"maxDrawdown"`
	VaR95        float64  `json:"var95"`
	VaR99        float64  `json:"var99"`
	VaR999       float64  `json:"var999"`
	ES95         float64  `json:"es95"`
	ES99         float64  `json:"es99"`
	Beta         *float64 `json:"beta,omitempty"`
	Reliable     bool     `json:"reliable"`
}

// Estimator computes Metrics from score series.
type Estimator struct {
	minHistory int
}

// NewEstimator creates an estimator requiring minHistory points for VaR and
// ES. Values below 2 fall back to DefaultMinHistory.
func NewEstimator(minHistory int) *Estimator {
	if minHistory < minVolatilityPoints {
		minHistory = DefaultMinHistory
	}
	return &Estimator{minHistory: minHistory}
}

// MinHistory returns the point count needed for a reliable estimate.
func (e *Estimator) MinHistory() int {
	return e.minHistory
}

// Estimate computes tail metrics for scores ordered oldest first. reference
// is an optional score series aligned with scores' tail; when it has at
// least three overlapping deltas Beta is set.
//
// With fewer than two points Estimate returns nil and ErrInsufficientHistory.
// With fewer than MinHistory points it returns volatility and drawdown only,
// Reliable false, and an error wrapping ErrInsufficientHistory.
func (e *Estimator) Estimate(entityID string, scores, reference []float64) (*Metrics, error) {
	n := len(scores)
	if n < minVolatilityPoints {
		return nil, fmt.Errorf("entity %s: %d points, need %d: %w",
			entityID, n, minVolatilityPoints, ErrInsufficientHistory)
	}

	deltas := Deltas(scores)
	m := &Metrics{
		EntityID:     entityID,
		Observations: n,
		Mean:         stat.Mean(scores, nil),
		Volatility:   Volatility(deltas),
		MaxDrawdown:  MaxDrawdown(scores),
	}
	if b, ok := Beta(deltas, Deltas(reference)); ok {
		m.Beta = &b
	}

	if n < e.minHistory {
		return m, fmt.Errorf("entity %s: %d points, need %d: %w",
			entityID, n, e.minHistory, ErrInsufficientHistory)
	}

	m.VaR95 = VaR(m.Mean, m.Volatility, Level95)
	m.VaR99 = VaR(m.Mean, m.Volatility, Level99)
	m.VaR999 = VaR(m.Mean, m.Volatility, Level999)
	m.ES95 = ExpectedShortfall(deltas, Level95)
	m.ES99 = ExpectedShortfall(deltas, Level99)
	m.Reliable = true
	return m, nil
}

// Deltas returns successive differences of a series.
func Deltas(series []float64) []float64 {
	if len(series) < 2 {
		return nil
	}
	out := make([]float64, len(series)-1)
	for i := 1; i < len(series); i++ {
		out[i-1] = series[i] - series[i-1]
	}
	return out
}

// Volatility is the sample standard deviation of deltas. A single delta
// has zero volatility.
func Volatility(deltas []float64) float64 {
	if len(deltas) < 2 {
		return 0
	}
	_, std := stat.MeanStdDev(deltas, nil)
	return std
}

// MaxDrawdown is the largest peak-to-trough decline of a score series.
func MaxDrawdown(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	peak := scores[0]
	var dd float64
	for _, s := range scores[1:] {
		if s > peak {
			peak = s
		}
		if peak-s > dd {
			dd = peak - s
		}
	}
	return dd
}

// VaR maps the parametric score quantile mean − z(c)·vol to loss space as
// 1 − score, with the score clamped to [0,1].
func VaR(mean, vol, confidence float64) float64 {
	z := distuv.UnitNormal.Quantile(confidence)
	score := math.Max(0, math.Min(1, mean-z*vol))
	return 1 - score
}

// ExpectedShortfall is the mean of the worst ⌈(1−c)·n⌉ deltas (at least
// one), reported as a non-negative loss.
func ExpectedShortfall(deltas []float64, confidence float64) float64 {
	if len(deltas) == 0 {
		return 0
	}
	sorted := append([]float64(nil), deltas...)
	sort.Float64s(sorted)

	k := int(math.Ceil((1 - confidence) * float64(len(sorted))))
	if k < 1 {
		k = 1
	}
	if k > len(sorted) {
		k = len(sorted)
	}
	loss := -stat.Mean(sorted[:k], nil)
	return math.Max(0, loss)
}

// Beta is cov(entity, reference)/var(reference) over the trailing overlap of
// two delta series. It reports false when fewer than three deltas overlap or
// the reference is flat.
func Beta(deltas, reference []float64) (float64, bool) {
	n := len(deltas)
	if len(reference) < n {
		n = len(reference)
	}
	if n < 3 {
		return 0, false
	}
	x := deltas[len(deltas)-n:]
	r := reference[len(reference)-n:]
	v := stat.Variance(r, nil)
	if v == 0 {
		return 0, false
	}
	return stat.Covariance(x, r, nil) / v, true
}
