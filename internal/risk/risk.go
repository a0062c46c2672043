// Package risk turns raw per-entity business metrics into a single comparable
// risk score.
//
// Metrics are normalized to [0,1] (1 = lowest risk), grouped into weighted
// categories (financial, operational, market, compliance, geopolitical,
// sustainability by default) and combined into a composite score, a risk
// tier and a confidence level. Categories with no metrics are treated as
// absent: they lower coverage and confidence but never contribute a made-up
// score.
package risk

import (
	"errors"
	"time"
)

var (
	ErrMetricConfiguration = errors.New("risk: invalid metric configuration")
	ErrInsufficientData    = errors.New("risk: no risk categories present")
	ErrInvalidModel        = errors.New("risk: invalid model")
)

// Orientation says which direction of a raw metric is healthy.
type Orientation string

const (
	HigherIsBetter Orientation = "higher_is_better"
	LowerIsBetter  Orientation = "lower_is_better"
)

// Tier is a discrete band derived from the composite score.
type Tier string

const (
	TierLow      Tier = "low"      // [0.8, 1.0]
	TierMedium   Tier = "medium"   // [0.6, 0.8)
	TierHigh     Tier = "high"     // [0.4, 0.6)
	TierExtreme  Tier = "extreme"  // [0.0, 0.4)
	TierUnscored Tier = "unscored" // no categories present
)

// Tier band lower bounds (inclusive).
const (
	LowTierFloor    = 0.8
	MediumTierFloor = 0.6
	HighTierFloor   = 0.4
)

// TierFor maps a composite score to its tier.
func TierFor(score float64) Tier {
	switch {
	case score >= LowTierFloor:
		return TierLow
	case score >= MediumTierFloor:
		return TierMedium
	case score >= HighTierFloor:
		return TierHigh
	default:
		return TierExtreme
	}
}

// Metric is one raw value supplied by the ingestion layer.
type Metric struct {
	Category    string      `json:"category" yaml:"category"`
	Name        string      `json:"name" yaml:"name"`
	Value       float64     `json:"value" yaml:"value"`
	Min         float64     `json:"min" yaml:"min"`
	Max         float64     `json:"max" yaml:"max"`
	Weight      float64     `json:"weight" yaml:"weight"`
	Orientation Orientation `json:"orientation,omitempty" yaml:"orientation"`
	UpdatedAt   time.Time   `json:"updatedAt" yaml:"updatedAt"`
}

// NormalizedMetric is a Metric with its [0,1] score, 1 = lowest risk.
type NormalizedMetric struct {
	Metric
	Score float64 `json:"score"`
}

// RejectedMetric records a metric excluded from an assessment.
type RejectedMetric struct {
	Category string `json:"category"`
	Name     string `json:"name"`
	Reason   string `json:"reason"`
}

// CategoryScore is the aggregate of one category's metrics.
type CategoryScore struct {
	Category string  `json:"category"`
	Score    float64 `json:"score"`
	// Coverage is the number of metrics that contributed.
	Coverage int `json:"coverage"`
	// MetricWeight is the sum of contributing metric weights.
	MetricWeight float64 `json:"metricWeight"`
	// EffectiveWeight is the category's share of the composite after
	// renormalizing over present categories.
	EffectiveWeight float64            `json:"effectiveWeight"`
	Metrics         []NormalizedMetric `json:"metrics,omitempty"`
}

// RiskProfile is an immutable snapshot of one assessment of one entity.
type RiskProfile struct {
	ID                string           `json:"id"`
	EntityID          string           `json:"entityId"`
	Overall           float64          `json:"overall"`
	Tier              Tier             `json:"tier"`
	Confidence        float64          `json:"confidence"`
	Coverage          float64          `json:"coverage"`
	Recency           float64          `json:"recency"`
	Categories        []CategoryScore  `json:"categories"`
	MissingCategories []string         `json:"missingCategories,omitempty"`
	Rejected          []RejectedMetric `json:"rejected,omitempty"`
	Recommendations   []string         `json:"recommendations"`
	// Scored is false when no category had usable metrics.
	Scored bool `json:"scored"`
	// Partial is set when at least one defined category is missing.
	Partial bool `json:"partial"`
	// Degraded is set when the metric fetch failed or timed out.
	Degraded   bool      `json:"degraded"`
	AssessedAt time.Time `json:"assessedAt"`
}

// Category returns the score for a category and whether it was present.
func (p *RiskProfile) Category(name string) (CategoryScore, bool) {
	for _, c := range p.Categories {
		if c.Category == name {
			return c, true
		}
	}
	return CategoryScore{}, false
}

// CategoryScores flattens category scores into a name→score map.
func (p *RiskProfile) CategoryScores() map[string]float64 {
	out := make(map[string]float64, len(p.Categories))
	for _, c := range p.Categories {
		out[c.Category] = c.Score
	}
	return out
}
