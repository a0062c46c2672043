package portfolio

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mbd888/riskscope/internal/stress"
)

const eps = 1e-9

func pos(id string, exposure int64, overall, vol float64) Position {
	return Position{EntityID: id, Exposure: decimal.NewFromInt(exposure), Overall: overall, Volatility: vol}
}

func TestSingleEntity(t *testing.T) {
	r, err := NewAggregator().Aggregate([]Position{pos("a", 100, 0.7, 0.08)}, identity(1))
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if r.Diversification != 0 {
		t.Errorf("diversification = %v, want 0", r.Diversification)
	}
	if r.Concentration != 1 || r.ConcentrationIndex != 1 {
		t.Errorf("concentration = %v / %v, want 1", r.Concentration, r.ConcentrationIndex)
	}
	if math.Abs(r.Volatility-0.08) > eps {
		t.Errorf("volatility = %v, want 0.08", r.Volatility)
	}
	if math.Abs(r.Entities[0].Contribution-1) > eps {
		t.Errorf("contribution = %v, want 1", r.Entities[0].Contribution)
	}
	if r.Score != 0.7 || r.Tier != "medium" {
		t.Errorf("score = %v tier = %s", r.Score, r.Tier)
	}
}

func TestPerfectCorrelationHasNoDiversification(t *testing.T) {
	corr := [][]float64{{1, 1, 1}, {1, 1, 1}, {1, 1, 1}}
	ps := []Position{pos("a", 100, 0.8, 0.05), pos("b", 200, 0.6, 0.1), pos("c", 50, 0.4, 0.2)}
	r, err := NewAggregator().Aggregate(ps, corr)
	if err != nil {
		t.Fatal(err)
	}
	if r.Diversification != 0 {
		t.Errorf("diversification = %v, want 0", r.Diversification)
	}
}

func TestUncorrelatedPair(t *testing.T) {
	ps := []Position{pos("a", 100, 0.8, 0.1), pos("b", 100, 0.8, 0.1)}
	r, err := NewAggregator().Aggregate(ps, identity(2))
	if err != nil {
		t.Fatal(err)
	}
	wantVol := math.Sqrt(0.005)
	if math.Abs(r.Volatility-wantVol) > eps {
		t.Errorf("volatility = %v, want %v", r.Volatility, wantVol)
	}
	if math.Abs(r.Diversification-(1-wantVol/0.1)) > eps {
		t.Errorf("diversification = %v", r.Diversification)
	}
	if math.Abs(r.ConcentrationIndex-0.5) > eps || math.Abs(r.Concentration) > eps {
		t.Errorf("concentration = %v / %v, want 0.5 / 0", r.ConcentrationIndex, r.Concentration)
	}
	for _, e := range r.Entities {
		if math.Abs(e.Contribution-0.5) > eps {
			t.Errorf("%s contribution = %v, want 0.5", e.EntityID, e.Contribution)
		}
	}
}

func TestContributionsSumToOne(t *testing.T) {
	corr := [][]float64{
		{1, 0.3, -0.2},
		{0.3, 1, 0.5},
		{-0.2, 0.5, 1},
	}
	ps := []Position{pos("a", 500, 0.9, 0.03), pos("b", 250, 0.5, 0.12), pos("c", 250, 0.3, 0.2)}
	r, err := NewAggregator().Aggregate(ps, corr)
	if err != nil {
		t.Fatal(err)
	}
	var sum, weights float64
	for _, e := range r.Entities {
		sum += e.Contribution
		weights += e.Weight
	}
	if math.Abs(sum-1) > eps {
		t.Errorf("contributions sum = %v, want 1", sum)
	}
	if math.Abs(weights-1) > eps {
		t.Errorf("weights sum = %v, want 1", weights)
	}
	if r.Diversification <= 0 || r.Diversification > 1 {
		t.Errorf("diversification = %v, want in (0,1]", r.Diversification)
	}
	if !r.TotalExposure.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("total exposure = %s", r.TotalExposure)
	}
}

func TestZeroVolatilityFallsBackToWeights(t *testing.T) {
	ps := []Position{pos("a", 300, 0.8, 0), pos("b", 100, 0.8, 0)}
	r, err := NewAggregator().Aggregate(ps, identity(2))
	if err != nil {
		t.Fatal(err)
	}
	if r.Volatility != 0 {
		t.Errorf("volatility = %v", r.Volatility)
	}
	if math.Abs(r.Entities[0].Contribution-0.75) > eps || math.Abs(r.Entities[1].Contribution-0.25) > eps {
		t.Errorf("contributions = %v, %v", r.Entities[0].Contribution, r.Entities[1].Contribution)
	}
	if r.Diversification != 0 {
		t.Errorf("diversification = %v", r.Diversification)
	}
}

func TestDegradedPositionIsPenalizedAndFlagged(t *testing.T) {
	ps := []Position{pos("a", 100, 0.9, 0.05), {EntityID: "b", Exposure: decimal.NewFromInt(100), Degraded: true}}
	r, err := NewAggregator().Aggregate(ps, identity(2))
	if err != nil {
		t.Fatal(err)
	}
	if !r.Partial {
		t.Error("result not partial")
	}
	if len(r.DegradedEntities) != 1 || r.DegradedEntities[0] != "b" {
		t.Errorf("degraded = %v", r.DegradedEntities)
	}
	b := r.Entities[1]
	if b.Overall != PenalizedScore || b.Volatility != NeutralVolatility || !b.Degraded {
		t.Errorf("degraded entity = %+v", b)
	}
	if math.Abs(r.Score-0.7) > eps {
		t.Errorf("score = %v, want 0.7", r.Score)
	}
}

func TestScenarioAnalysis(t *testing.T) {
	a := pos("a", 100, 0.8, 0.05)
	a.Stress = []stress.Result{{Scenario: "market_crash", Impact: 0.2}, {Scenario: "pandemic", Impact: 0.1}}
	b := pos("b", 300, 0.6, 0.05)
	b.Stress = []stress.Result{{Scenario: "market_crash", Impact: 0.1}}

	r, err := NewAggregator().Aggregate([]Position{a, b}, identity(2))
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Scenarios) != 2 {
		t.Fatalf("scenarios = %d, want 2", len(r.Scenarios))
	}
	mc := r.Scenarios[0]
	if mc.Scenario != "market_crash" {
		t.Fatalf("first scenario = %s", mc.Scenario)
	}
	if math.Abs(mc.Loss-0.125) > eps {
		t.Errorf("loss = %v, want 0.125", mc.Loss)
	}
	if !mc.LossAmount.Equal(decimal.NewFromInt(50)) {
		t.Errorf("loss amount = %s, want 50", mc.LossAmount)
	}
	if math.Abs(mc.WorstCase-0.075) > eps || mc.WorstEntity != "b" {
		t.Errorf("worst = %v (%s), want 0.075 (b)", mc.WorstCase, mc.WorstEntity)
	}
	if r.Scenarios[1].WorstEntity != "a" {
		t.Errorf("pandemic worst entity = %s", r.Scenarios[1].WorstEntity)
	}
}

func TestValidation(t *testing.T) {
	two := []Position{pos("a", 100, 0.8, 0.1), pos("b", 100, 0.8, 0.1)}
	tests := []struct {
		name string
		ps   []Position
		corr [][]float64
	}{
		{"no positions", nil, nil},
		{"wrong rows", two, identity(3)},
		{"ragged", two, [][]float64{{1, 0}, {0}}},
		{"asymmetric", two, [][]float64{{1, 0.5}, {0.4, 1}}},
		{"diagonal", two, [][]float64{{0.9, 0}, {0, 1}}},
		{"out of range", two, [][]float64{{1, 1.5}, {1.5, 1}}},
		{"nan", two, [][]float64{{1, math.NaN()}, {math.NaN(), 1}}},
		{"negative exposure", []Position{pos("a", -1, 0.8, 0.1), pos("b", 100, 0.8, 0.1)}, identity(2)},
		{"zero total", []Position{pos("a", 0, 0.8, 0.1), pos("b", 0, 0.8, 0.1)}, identity(2)},
		{"negative volatility", []Position{pos("a", 1, 0.8, -0.1), pos("b", 1, 0.8, 0.1)}, identity(2)},
		{"missing id", []Position{pos("", 1, 0.8, 0.1), pos("b", 1, 0.8, 0.1)}, identity(2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewAggregator().Aggregate(tt.ps, tt.corr)
			if !errors.Is(err, ErrPortfolioConfiguration) {
				t.Errorf("err = %v, want ErrPortfolioConfiguration", err)
			}
			if r != nil {
				t.Error("partial result returned")
			}
		})
	}
}

func TestEstimateCorrelation(t *testing.T) {
	up := []float64{0.5, 0.6, 0.55, 0.7, 0.65}
	same := []float64{0.4, 0.5, 0.45, 0.6, 0.55}
	mirror := []float64{0.5, 0.4, 0.45, 0.3, 0.35}
	short := []float64{0.5, 0.6, 0.7}
	flat := []float64{0.5, 0.5, 0.5, 0.5, 0.5}

	c := EstimateCorrelation([][]float64{up, same, mirror, short, flat})
	if err := ValidateCorrelation(c, 5); err != nil {
		t.Fatalf("estimated matrix invalid: %v", err)
	}
	if math.Abs(c[0][1]-1) > 1e-9 {
		t.Errorf("same-shape correlation = %v, want 1", c[0][1])
	}
	if math.Abs(c[0][2]+1) > 1e-9 {
		t.Errorf("mirrored correlation = %v, want -1", c[0][2])
	}
	if c[0][3] != 0 {
		t.Errorf("short history correlation = %v, want 0", c[0][3])
	}
	if c[0][4] != 0 {
		t.Errorf("flat series correlation = %v, want 0", c[0][4])
	}
}

func TestConcentrationBounds(t *testing.T) {
	hhi, norm := Concentration([]float64{0.25, 0.25, 0.25, 0.25})
	if math.Abs(hhi-0.25) > eps || math.Abs(norm) > eps {
		t.Errorf("equal weights: hhi=%v norm=%v", hhi, norm)
	}
	hhi, norm = Concentration([]float64{1, 0, 0})
	if hhi != 1 || math.Abs(norm-1) > eps {
		t.Errorf("all in one: hhi=%v norm=%v", hhi, norm)
	}
}
