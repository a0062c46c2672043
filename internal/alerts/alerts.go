// Package alerts raises and retires risk alerts from assessments.
//
// An alert is raised the first time a threshold is breached and stays
// active until the triggering score has been back above threshold for k
// consecutive assessments. The threshold is the floor of the band the
// alert's severity came from, so a critical alert retires once the score
// leaves the extreme band even if a milder breach remains; that breach is
// then raised as its own alert. Alerts are never deleted, only deactivated.
package alerts

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/riskscope/internal/idgen"
	"github.com/mbd888/riskscope/internal/risk"
)

var (
	ErrNilProfile = errors.New("alerts: nil profile")
	ErrNotFound   = errors.New("alerts: alert not found")
)

const (
	// DefaultHysteresis is the number of clean assessments that retire an alert.
	DefaultHysteresis = 3

	// CategoryThreshold is the category score below which an alert is raised.
	CategoryThreshold = 0.5

	// CategoryCriticalThreshold raises category alerts to critical.
	CategoryCriticalThreshold = 0.25

	// TypeComposite is the alert type for the overall score.
	TypeComposite = "composite"

	categoryPrefix = "category:"
)

// Severity is how urgent an alert is.
type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	}
	return 0
}

// AtLeast reports whether s is as severe as min. Unknown severities rank
// below medium.
func (s Severity) AtLeast(min Severity) bool {
	return s.rank() >= min.rank()
}

// CategoryType returns the alert type for a category.
func CategoryType(category string) string {
	return categoryPrefix + category
}

// Alert is one raised threshold breach.
type Alert struct {
	ID              string     `json:"id"`
	EntityID        string     `json:"entityId"`
	Type            string     `json:"type"`
	Severity        Severity   `json:"severity"`
	Description     string     `json:"description"`
	Recommendations []string   `json:"recommendations,omitempty"`
	Score           float64    `json:"score"`
	Active          bool       `json:"active"`
	RecoveryStreak  int        `json:"recoveryStreak"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	DeactivatedAt   *time.Time `json:"deactivatedAt,omitempty"`
}

// Category returns the category name of a category alert.
func (a *Alert) Category() (string, bool) {
	return strings.CutPrefix(a.Type, categoryPrefix)
}

// threshold is the score the alert's trigger must reach again for an
// assessment to count toward recovery.
func (a *Alert) threshold() float64 {
	if _, isCat := a.Category(); isCat {
		if a.Severity == SeverityCritical {
			return CategoryCriticalThreshold
		}
		return CategoryThreshold
	}
	switch a.Severity {
	case SeverityCritical:
		return risk.HighTierFloor
	case SeverityHigh:
		return risk.MediumTierFloor
	default:
		return risk.LowTierFloor
	}
}

// Evaluation is the outcome of evaluating one assessment. Alerts holds every
// alert that was active going in or raised, in its updated state.
type Evaluation struct {
	Alerts    []*Alert `json:"alerts"`
	Raised    []*Alert `json:"raised,omitempty"`
	Escalated []*Alert `json:"escalated,omitempty"`
	Cleared   []*Alert `json:"cleared,omitempty"`
}

// Active returns the alerts still active after evaluation.
func (e *Evaluation) Active() []*Alert {
	var out []*Alert
	for _, a := range e.Alerts {
		if a.Active {
			out = append(out, a)
		}
	}
	return out
}

type breach struct {
	alertType   string
	severity    Severity
	score       float64
	description string
	recs        []string
}

// Generator evaluates profiles against alert thresholds.
type Generator struct {
	hysteresis int
	now        func() time.Time
}

// NewGenerator creates a generator. hysteresis < 1 uses DefaultHysteresis.
func NewGenerator(hysteresis int) *Generator {
	if hysteresis < 1 {
		hysteresis = DefaultHysteresis
	}
	return &Generator{hysteresis: hysteresis, now: time.Now}
}

// WithClock overrides the generator's clock.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Hysteresis returns the number of clean assessments that retire an alert.
func (g *Generator) Hysteresis() int {
	return g.hysteresis
}

// Evaluate applies a fresh profile to the entity's active alerts. Inputs are
// not mutated; updated copies are returned.
//
// An unscored profile carries no evidence either way and leaves every alert
// unchanged. A category alert whose category is absent from the profile is
// likewise left unchanged.
func (g *Generator) Evaluate(profile *risk.RiskProfile, active []*Alert) (*Evaluation, error) {
	if profile == nil {
		return nil, ErrNilProfile
	}
	now := g.now()
	ev := &Evaluation{}

	for _, a := range active {
		if a.EntityID != profile.EntityID {
			return nil, fmt.Errorf("alerts: alert %s belongs to %s, not %s", a.ID, a.EntityID, profile.EntityID)
		}
	}

	if !profile.Scored {
		for _, a := range active {
			cp := *a
			ev.Alerts = append(ev.Alerts, &cp)
		}
		return ev, nil
	}

	breaches := detect(profile)
	byType := make(map[string]breach, len(breaches))
	for _, b := range breaches {
		byType[b.alertType] = b
	}
	scores := profile.CategoryScores()

	// handled holds types that still have an active alert after this pass.
	handled := make(map[string]bool)
	for _, a := range active {
		cp := *a
		cp.Recommendations = append([]string(nil), a.Recommendations...)

		b, breaching := byType[cp.Type]
		switch cat, isCat := cp.Category(); {
		case breaching:
			cp.Score = b.score
		case isCat:
			s, present := scores[cat]
			if !present {
				handled[cp.Type] = true
				ev.Alerts = append(ev.Alerts, &cp)
				continue
			}
			cp.Score = s
		default:
			cp.Score = profile.Overall
		}
		cp.UpdatedAt = now

		switch {
		case breaching && b.severity.rank() > cp.Severity.rank():
			cp.RecoveryStreak = 0
			cp.Severity = b.severity
			cp.Description = b.description
			cp.Recommendations = b.recs
			ev.Escalated = append(ev.Escalated, &cp)
		case cp.Score < cp.threshold():
			cp.RecoveryStreak = 0
		default:
			cp.RecoveryStreak++
		}

		if cp.RecoveryStreak >= g.hysteresis {
			cp.Active = false
			at := now
			cp.DeactivatedAt = &at
			ev.Cleared = append(ev.Cleared, &cp)
		} else {
			handled[cp.Type] = true
		}
		ev.Alerts = append(ev.Alerts, &cp)
	}

	for _, b := range breaches {
		if handled[b.alertType] {
			continue
		}
		a := &Alert{
			ID:              idgen.WithPrefix("alrt_"),
			EntityID:        profile.EntityID,
			Type:            b.alertType,
			Severity:        b.severity,
			Description:     b.description,
			Recommendations: b.recs,
			Score:           b.score,
			Active:          true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		ev.Raised = append(ev.Raised, a)
		ev.Alerts = append(ev.Alerts, a)
	}
	return ev, nil
}

// detect lists threshold breaches, composite first then categories in
// profile order.
func detect(p *risk.RiskProfile) []breach {
	var out []breach
	if sev, ok := tierSeverity(p.Tier); ok {
		out = append(out, breach{
			alertType: TypeComposite,
			severity:  sev,
			score:     p.Overall,
			description: fmt.Sprintf("Composite risk score %.2f is in the %s tier.",
				p.Overall, p.Tier),
			recs: append([]string(nil), p.Recommendations...),
		})
	}
	for _, c := range p.Categories {
		if c.Score >= CategoryThreshold {
			continue
		}
		sev := SeverityHigh
		if c.Score < CategoryCriticalThreshold {
			sev = SeverityCritical
		}
		out = append(out, breach{
			alertType: CategoryType(c.Category),
			severity:  sev,
			score:     c.Score,
			description: fmt.Sprintf("%s category score %.2f is below %.2f.",
				c.Category, c.Score, CategoryThreshold),
			recs: categoryRecommendations(p, c.Category),
		})
	}
	return out
}

func tierSeverity(t risk.Tier) (Severity, bool) {
	switch t {
	case risk.TierExtreme:
		return SeverityCritical, true
	case risk.TierHigh:
		return SeverityHigh, true
	case risk.TierMedium:
		return SeverityMedium, true
	}
	return "", false
}

// categoryRecommendations picks the profile recommendations that name the
// category.
func categoryRecommendations(p *risk.RiskProfile, category string) []string {
	var out []string
	for _, r := range p.Recommendations {
		if strings.Contains(r, category) {
			out = append(out, r)
		}
	}
	return out
}
