package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/mbd888/riskscope/internal/idgen"
)

// Confidence formula coefficients.
const (
	confidenceBase     = 0.5
	confidenceCoverage = 0.3
	confidenceRecency  = 0.2
)

// Scorer computes RiskProfiles against a category model. It holds no
// mutable state and is safe for concurrent use.
type Scorer struct {
	model Model
	now   func() time.Time
}

// NewScorer creates a scorer for the given model.
func NewScorer(model Model) (*Scorer, error) {
	if err := model.Validate(); err != nil {
		return nil, err
	}
	if model.StalenessWindow == 0 {
		model.StalenessWindow = DefaultStalenessWindow
	}
	return &Scorer{model: model, now: time.Now}, nil
}

// WithClock overrides the assessment clock.
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	s.now = now
	return s
}

// Model returns the scorer's category model.
func (s *Scorer) Model() Model {
	return s.model
}

// Score assesses one entity from a possibly partial metric set.
//
// Invalid metrics are excluded and listed in Rejected. When no category has
// a usable metric the returned profile is unscored (confidence 0) and the
// error wraps ErrInsufficientData.
func (s *Scorer) Score(entityID string, metrics []Metric) (*RiskProfile, error) {
	now := s.now()
	profile := &RiskProfile{
		ID:         idgen.WithPrefix("rp_"),
		EntityID:   entityID,
		AssessedAt: now,
	}

	normalized := make([]NormalizedMetric, 0, len(metrics))
	var newest time.Time
	for _, m := range metrics {
		if _, known := s.model.Weight(m.Category); !known {
			profile.Rejected = append(profile.Rejected, RejectedMetric{
				Category: m.Category, Name: m.Name, Reason: "unknown category",
			})
			continue
		}
		nm, err := NormalizeMetric(m)
		if err != nil {
			profile.Rejected = append(profile.Rejected, RejectedMetric{
				Category: m.Category, Name: m.Name, Reason: err.Error(),
			})
			continue
		}
		normalized = append(normalized, nm)
		if m.UpdatedAt.After(newest) {
			newest = m.UpdatedAt
		}
	}

	var present []CategoryScore
	for _, name := range s.model.Names() {
		if cs, ok := AggregateCategory(name, normalized); ok {
			present = append(present, cs)
		} else {
			profile.MissingCategories = append(profile.MissingCategories, name)
		}
	}

	total := len(s.model.Categories)
	profile.Coverage = float64(len(present)) / float64(total)
	profile.Partial = len(present) < total

	overall, weighted, ok := Composite(present, s.model)
	if !ok {
		profile.Tier = TierUnscored
		profile.Confidence = 0
		profile.Recommendations = []string{
			"Supply at least one valid metric in a defined risk category before relying on this entity's risk.",
		}
		return profile, fmt.Errorf("entity %s: %w", entityID, ErrInsufficientData)
	}

	profile.Scored = true
	profile.Overall = overall
	profile.Tier = TierFor(overall)
	profile.Categories = weighted
	profile.Recency = recency(newest, now, s.model.StalenessWindow)
	profile.Confidence = clamp01(confidenceBase +
		confidenceCoverage*profile.Coverage +
		confidenceRecency*profile.Recency)
	profile.Recommendations = Recommendations(profile)
	return profile, nil
}

// recency decays linearly from 1 (fresh) to 0 at the staleness window.
// Unknown metric age counts as stale.
func recency(newest, now time.Time, window time.Duration) float64 {
	if newest.IsZero() || window <= 0 {
		return 0
	}
	age := now.Sub(newest)
	if age <= 0 {
		return 1
	}
	return math.Max(0, 1-float64(age)/float64(window))
}
