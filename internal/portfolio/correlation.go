package portfolio

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/mbd888/riskscope/internal/tailrisk"
)

// minCorrelationDeltas is the overlap needed before a pair is estimated.
const minCorrelationDeltas = 3

// EstimateCorrelation builds a correlation matrix from entity score
// histories (oldest first). Each pair is the Pearson correlation of the
// trailing aligned score deltas; pairs with too little overlap or a flat
// series get 0.
func EstimateCorrelation(histories [][]float64) [][]float64 {
	n := len(histories)
	deltas := make([][]float64, n)
	for i, h := range histories {
		deltas[i] = tailrisk.Deltas(h)
	}

	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		out[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			rho := pairCorrelation(deltas[i], deltas[j])
			out[i][j] = rho
			out[j][i] = rho
		}
	}
	return out
}

func pairCorrelation(a, b []float64) float64 {
	m := len(a)
	if len(b) < m {
		m = len(b)
	}
	if m < minCorrelationDeltas {
		return 0
	}
	x := a[len(a)-m:]
	y := b[len(b)-m:]
	if stat.Variance(x, nil) == 0 || stat.Variance(y, nil) == 0 {
		return 0
	}
	rho := stat.Correlation(x, y, nil)
	if math.IsNaN(rho) {
		return 0
	}
	return math.Max(-1, math.Min(1, rho))
}

// identity returns an n×n identity correlation matrix.
func identity(n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		out[i][i] = 1
	}
	return out
}
