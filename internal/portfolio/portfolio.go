// Package portfolio combines per-entity risk into portfolio-level risk,
// diversification benefit, concentration and per-entity contributions.
package portfolio

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/mat"

	"github.com/mbd888/riskscope/internal/risk"
	"github.com/mbd888/riskscope/internal/stress"
)

var ErrPortfolioConfiguration = errors.New("portfolio: invalid configuration")

const (
	// symmetryTolerance bounds |ρ_ij − ρ_ji|.
	symmetryTolerance = 1e-9

	// snapEpsilon rounds diversification noise to zero.
	snapEpsilon = 1e-9

	// PenalizedScore stands in for the composite score of a degraded entity.
	PenalizedScore = 0.5

	// NeutralVolatility stands in for a degraded entity's unknown volatility.
	NeutralVolatility = 0.05
)

// Position is one entity's input to an aggregation.
type Position struct {
	EntityID   string          `json:"entityId"`
	Overall    float64         `json:"overall"`
	Volatility float64         `json:"volatility"`
	Exposure   decimal.Decimal `json:"exposure"`
	Stress     []stress.Result `json:"stress,omitempty"`
	Degraded   bool            `json:"degraded,omitempty"`
}

// EntityRisk is one entity's share of portfolio risk.
type EntityRisk struct {
	EntityID     string          `json:"entityId"`
	Exposure     decimal.Decimal `json:"exposure"`
	Weight       float64         `json:"weight"`
	Overall      float64         `json:"overall"`
	Volatility   float64         `json:"volatility"`
	Contribution float64         `json:"contribution"`
	MarginalRisk float64         `json:"marginalRisk"`
	Degraded     bool            `json:"degraded,omitempty"`
}

// ScenarioRisk is the portfolio loss under one stress scenario. Loss is a
// fraction of total exposure.
type ScenarioRisk struct {
	Scenario    string          `json:"scenario"`
	Loss        float64         `json:"loss"`
	LossAmount  decimal.Decimal `json:"lossAmount"`
	WorstCase   float64         `json:"worstCase"`
	WorstEntity string          `json:"worstEntity,omitempty"`
}

// Risk is a derived, disposable portfolio view.
type Risk struct {
	TotalExposure      decimal.Decimal `json:"totalExposure"`
	Score              float64         `json:"score"`
	Tier               risk.Tier       `json:"tier"`
	Volatility         float64         `json:"volatility"`
	Diversification    float64         `json:"diversification"`
	Concentration      float64         `json:"concentration"`
	ConcentrationIndex float64         `json:"concentrationIndex"`
	Correlation        [][]float64     `json:"correlation"`
	Entities           []EntityRisk    `json:"entities"`
	Scenarios          []ScenarioRisk  `json:"scenarios,omitempty"`
	Partial            bool            `json:"partial"`
	DegradedEntities   []string        `json:"degradedEntities,omitempty"`
}

// Aggregator computes portfolio risk. The zero value is not usable; call
// NewAggregator.
type Aggregator struct {
	neutralVolatility float64
}

// NewAggregator creates an aggregator with default degraded-entity handling.
func NewAggregator() *Aggregator {
	return &Aggregator{neutralVolatility: NeutralVolatility}
}

// NeutralVolatility returns the volatility substituted for degraded entities.
func (a *Aggregator) NeutralVolatility() float64 {
	return a.neutralVolatility
}

// WithNeutralVolatility overrides the volatility substituted for degraded
// entities that report none.
func (a *Aggregator) WithNeutralVolatility(v float64) *Aggregator {
	if v >= 0 {
		a.neutralVolatility = v
	}
	return a
}

// Aggregate validates inputs and computes portfolio risk. Any validation
// failure wraps ErrPortfolioConfiguration and no partial result is
// returned.
func (a *Aggregator) Aggregate(positions []Position, correlation [][]float64) (*Risk, error) {
	n := len(positions)
	if n == 0 {
		return nil, fmt.Errorf("%w: no positions", ErrPortfolioConfiguration)
	}
	if err := ValidateCorrelation(correlation, n); err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, p := range positions {
		if p.EntityID == "" {
			return nil, fmt.Errorf("%w: position without entity id", ErrPortfolioConfiguration)
		}
		if p.Exposure.IsNegative() {
			return nil, fmt.Errorf("%w: %s exposure %s is negative", ErrPortfolioConfiguration, p.EntityID, p.Exposure)
		}
		if math.IsNaN(p.Volatility) || math.IsInf(p.Volatility, 0) || p.Volatility < 0 {
			return nil, fmt.Errorf("%w: %s volatility %v", ErrPortfolioConfiguration, p.EntityID, p.Volatility)
		}
		total = total.Add(p.Exposure)
	}
	if total.IsZero() {
		return nil, fmt.Errorf("%w: total exposure is zero", ErrPortfolioConfiguration)
	}

	out := &Risk{
		TotalExposure: total,
		Correlation:   correlation,
		Entities:      make([]EntityRisk, n),
	}

	w := mat.NewVecDense(n, nil)
	sigma := make([]float64, n)
	for i, p := range positions {
		weight := p.Exposure.Div(total).InexactFloat64()
		overall, vol := p.Overall, p.Volatility
		if p.Degraded {
			overall = PenalizedScore
			if vol == 0 {
				vol = a.neutralVolatility
			}
			out.Partial = true
			out.DegradedEntities = append(out.DegradedEntities, p.EntityID)
		}
		w.SetVec(i, weight)
		sigma[i] = vol
		out.Score += weight * overall
		out.Entities[i] = EntityRisk{
			EntityID:   p.EntityID,
			Exposure:   p.Exposure,
			Weight:     weight,
			Overall:    overall,
			Volatility: vol,
			Degraded:   p.Degraded,
		}
	}
	out.Tier = risk.TierFor(out.Score)

	cov := Covariance(sigma, correlation)
	variance := math.Max(0, mat.Inner(w, cov, w))
	out.Volatility = math.Sqrt(variance)

	var sw mat.VecDense
	sw.MulVec(cov, w)

	var standalone float64
	for i := range sigma {
		standalone += w.AtVec(i) * sigma[i]
	}
	out.Diversification = diversification(n, out.Volatility, standalone)
	out.ConcentrationIndex, out.Concentration = Concentration(w.RawVector().Data)

	for i := range out.Entities {
		if variance > 0 {
			out.Entities[i].Contribution = w.AtVec(i) * sw.AtVec(i) / variance
			out.Entities[i].MarginalRisk = sw.AtVec(i) / out.Volatility
		} else {
			out.Entities[i].Contribution = w.AtVec(i)
		}
	}

	out.Scenarios = scenarios(positions, w, total)
	return out, nil
}

// ValidateCorrelation checks the matrix is n×n, symmetric, unit-diagonal and
// bounded by [-1,1].
func ValidateCorrelation(c [][]float64, n int) error {
	if len(c) != n {
		return fmt.Errorf("%w: correlation has %d rows, want %d", ErrPortfolioConfiguration, len(c), n)
	}
	for i := range c {
		if len(c[i]) != n {
			return fmt.Errorf("%w: correlation row %d has %d columns, want %d", ErrPortfolioConfiguration, i, len(c[i]), n)
		}
	}
	for i := 0; i < n; i++ {
		if c[i][i] != 1 {
			return fmt.Errorf("%w: correlation[%d][%d] = %v, want 1", ErrPortfolioConfiguration, i, i, c[i][i])
		}
		for j := 0; j < n; j++ {
			v := c[i][j]
			if math.IsNaN(v) || v < -1 || v > 1 {
				return fmt.Errorf("%w: correlation[%d][%d] = %v outside [-1,1]", ErrPortfolioConfiguration, i, j, v)
			}
			if math.Abs(v-c[j][i]) > symmetryTolerance {
				return fmt.Errorf("%w: correlation not symmetric at (%d,%d)", ErrPortfolioConfiguration, i, j)
			}
		}
	}
	return nil
}

// Covariance builds Σ_ij = ρ_ij·σ_i·σ_j. The upper triangle of the
// correlation matrix is authoritative.
func Covariance(sigma []float64, correlation [][]float64) *mat.SymDense {
	n := len(sigma)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, correlation[i][j]*sigma[i]*sigma[j])
		}
	}
	return cov
}

// Concentration returns the Herfindahl index Σw² and its normalization
// (HHI − 1/N)/(1 − 1/N), which is 1 for a single entity.
func Concentration(weights []float64) (hhi, normalized float64) {
	for _, w := range weights {
		hhi += w * w
	}
	n := float64(len(weights))
	if len(weights) <= 1 {
		return hhi, 1
	}
	normalized = (hhi - 1/n) / (1 - 1/n)
	return hhi, math.Max(0, math.Min(1, normalized))
}

func diversification(n int, portfolioVol, standalone float64) float64 {
	if n == 1 || standalone <= 0 {
		return 0
	}
	d := 1 - portfolioVol/standalone
	if d < snapEpsilon {
		return 0
	}
	return math.Min(1, d)
}

// scenarios sums per-unit-exposure scenario impacts across entities, in
// order of first appearance.
func scenarios(positions []Position, w *mat.VecDense, total decimal.Decimal) []ScenarioRisk {
	index := make(map[string]int)
	var out []ScenarioRisk
	for i, p := range positions {
		for _, r := range p.Stress {
			k, ok := index[r.Scenario]
			if !ok {
				k = len(out)
				index[r.Scenario] = k
				out = append(out, ScenarioRisk{Scenario: r.Scenario})
			}
			contrib := w.AtVec(i) * r.Impact
			out[k].Loss += contrib
			if contrib > out[k].WorstCase || out[k].WorstEntity == "" {
				out[k].WorstCase = contrib
				out[k].WorstEntity = p.EntityID
			}
		}
	}
	for k := range out {
		out[k].LossAmount = decimal.NewFromFloat(out[k].Loss).Mul(total).Round(2)
	}
	return out
}
