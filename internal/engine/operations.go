package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/riskscope/internal/alerts"
	"github.com/mbd888/riskscope/internal/logging"
	"github.com/mbd888/riskscope/internal/metrics"
	"github.com/mbd888/riskscope/internal/portfolio"
	"github.com/mbd888/riskscope/internal/risk"
	"github.com/mbd888/riskscope/internal/stress"
	"github.com/mbd888/riskscope/internal/tailrisk"
	"github.com/mbd888/riskscope/internal/traces"
	"github.com/mbd888/riskscope/internal/trend"
)

// ComputeEntityRisk scores a possibly partial metric set with the configured
// category model. An unscored profile is returned together with an error
// wrapping risk.ErrInsufficientData.
func (e *Engine) ComputeEntityRisk(ctx context.Context, entityID string, ms []risk.Metric) (*risk.RiskProfile, error) {
	return e.computeEntityRisk(ctx, e.scorer, entityID, ms)
}

// ComputeEntityRiskWithWeights scores with category weights overridden for
// this call only.
func (e *Engine) ComputeEntityRiskWithWeights(ctx context.Context, entityID string, ms []risk.Metric, weights map[string]float64) (*risk.RiskProfile, error) {
	if len(weights) == 0 {
		return e.ComputeEntityRisk(ctx, entityID, ms)
	}
	scorer, err := risk.NewScorer(e.cfg.Model.WithWeights(weights))
	if err != nil {
		return nil, err
	}
	return e.computeEntityRisk(ctx, scorer.WithClock(e.now), entityID, ms)
}

func (e *Engine) computeEntityRisk(ctx context.Context, scorer *risk.Scorer, entityID string, ms []risk.Metric) (*risk.RiskProfile, error) {
	_, span := traces.StartSpan(ctx, "engine.ComputeEntityRisk", traces.EntityID(entityID))
	defer span.End()

	profile, err := scorer.Score(entityID, ms)
	span.SetAttributes(traces.Tier(string(profile.Tier)), traces.Score(profile.Overall))
	traces.RecordError(span, err)

	metrics.AssessmentsTotal.WithLabelValues(string(profile.Tier)).Inc()
	if n := len(profile.Rejected); n > 0 {
		metrics.RejectedMetricsTotal.Add(float64(n))
		logging.L(ctx).Warn("metrics rejected", "entity_id", entityID, "count", n)
	}
	return profile, err
}

// RunStressTests runs the configured scenario library for a profile.
func (e *Engine) RunStressTests(profile *risk.RiskProfile, exposure float64) ([]stress.Result, error) {
	return e.simulator.Run(profile, exposure)
}

// ComputeTailRisk estimates tail metrics from the trailing window of an
// entity's trend history. window <= 0 uses the configured tail window.
func (e *Engine) ComputeTailRisk(ctx context.Context, entityID string, window int) (*tailrisk.Metrics, error) {
	return e.ComputeTailRiskWithReference(ctx, entityID, window, "")
}

// ComputeTailRiskWithReference is ComputeTailRisk with beta measured
// against another entity's score history.
func (e *Engine) ComputeTailRiskWithReference(ctx context.Context, entityID string, window int, referenceID string) (*tailrisk.Metrics, error) {
	ctx, span := traces.StartSpan(ctx, "engine.ComputeTailRisk", traces.EntityID(entityID), traces.Window(window))
	defer span.End()

	if window <= 0 {
		window = e.cfg.TailWindow
	}
	scores, err := e.scores(ctx, entityID, window)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	var ref []float64
	if referenceID != "" {
		if ref, err = e.scores(ctx, referenceID, window); err != nil {
			traces.RecordError(span, err)
			return nil, err
		}
	}
	m, err := e.estimator.Estimate(entityID, scores, ref)
	traces.RecordError(span, err)
	return m, err
}

// AppendTrendPoint records a point in an entity's history.
func (e *Engine) AppendTrendPoint(ctx context.Context, entityID string, p trend.Point) error {
	return e.tracker.Append(ctx, entityID, p)
}

// ClassifyTrend labels the trailing window of an entity's history. window
// <= 0 uses the configured trend window.
func (e *Engine) ClassifyTrend(ctx context.Context, entityID string, window int) (*trend.Classification, error) {
	if window <= 0 {
		window = e.cfg.TrendWindow
	}
	return e.tracker.Classify(ctx, entityID, window)
}

// History returns up to limit of an entity's newest trend points.
func (e *Engine) History(ctx context.Context, entityID string, limit int) ([]trend.Point, error) {
	return e.tracker.History(ctx, entityID, limit)
}

// ComputePortfolioRisk aggregates profiles at the given exposures.
//
// Volatility comes from each entity's trend history. Unscored or degraded
// profiles enter at the penalized score and are flagged. A nil correlation
// matrix is estimated from trend history; a supplied one is validated and
// used as is.
func (e *Engine) ComputePortfolioRisk(ctx context.Context, profiles []*risk.RiskProfile, exposures []decimal.Decimal, correlation [][]float64) (*portfolio.Risk, error) {
	ctx, span := traces.StartSpan(ctx, "engine.ComputePortfolioRisk", traces.EntityCount(len(profiles)))
	defer span.End()

	if len(profiles) != len(exposures) {
		err := fmt.Errorf("%w: %d profiles but %d exposures",
			portfolio.ErrPortfolioConfiguration, len(profiles), len(exposures))
		metrics.PortfolioCallsTotal.WithLabelValues("invalid").Inc()
		traces.RecordError(span, err)
		return nil, err
	}

	positions := make([]portfolio.Position, len(profiles))
	histories := make([][]float64, len(profiles))
	for i, p := range profiles {
		if p == nil {
			err := fmt.Errorf("%w: nil profile at %d", portfolio.ErrPortfolioConfiguration, i)
			metrics.PortfolioCallsTotal.WithLabelValues("invalid").Inc()
			return nil, err
		}
		scores, err := e.scores(ctx, p.EntityID, e.cfg.TailWindow)
		if err != nil {
			return nil, err
		}
		histories[i] = scores

		pos := portfolio.Position{
			EntityID: p.EntityID,
			Overall:  p.Overall,
			Exposure: exposures[i],
			Degraded: p.Degraded || !p.Scored,
		}
		if len(scores) >= 2 {
			pos.Volatility = tailrisk.Volatility(tailrisk.Deltas(scores))
		} else if !pos.Degraded {
			pos.Volatility = e.aggregator.NeutralVolatility()
		}

		stressed := p
		if pos.Degraded {
			stressed = &risk.RiskProfile{EntityID: p.EntityID, Overall: portfolio.PenalizedScore, Scored: true}
		}
		if pos.Stress, err = e.simulator.Run(stressed, 1); err != nil {
			return nil, err
		}
		positions[i] = pos
	}

	if correlation == nil {
		correlation = portfolio.EstimateCorrelation(histories)
	}

	out, err := e.aggregator.Aggregate(positions, correlation)
	switch {
	case err != nil:
		metrics.PortfolioCallsTotal.WithLabelValues("invalid").Inc()
		traces.RecordError(span, err)
		return nil, err
	case out.Partial:
		metrics.PortfolioCallsTotal.WithLabelValues("partial").Inc()
	default:
		metrics.PortfolioCallsTotal.WithLabelValues("ok").Inc()
	}
	span.SetAttributes(traces.Score(out.Score), traces.Degraded(out.Partial))
	return out, nil
}

// EvaluateAlerts applies a profile to the entity's active alerts, persists
// every changed alert and publishes lifecycle events. It returns the
// updated alerts.
func (e *Engine) EvaluateAlerts(ctx context.Context, profile *risk.RiskProfile, active []*alerts.Alert) ([]*alerts.Alert, error) {
	ev, err := e.generator.Evaluate(profile, active)
	if err != nil {
		return nil, err
	}
	if profile.Scored && len(ev.Alerts) > 0 {
		if err := e.alertStore.Save(ctx, ev.Alerts...); err != nil {
			return nil, fmt.Errorf("save alerts: %w", err)
		}
	}

	log := logging.L(ctx)
	for _, a := range ev.Raised {
		metrics.AlertTransitionsTotal.WithLabelValues("raised", string(a.Severity)).Inc()
		metrics.ActiveAlerts.Inc()
		log.Info("alert raised", "entity_id", a.EntityID, "type", a.Type, "severity", a.Severity)
		e.publish(EventAlertRaised, a.EntityID, a)
	}
	for _, a := range ev.Escalated {
		metrics.AlertTransitionsTotal.WithLabelValues("escalated", string(a.Severity)).Inc()
		log.Info("alert escalated", "entity_id", a.EntityID, "type", a.Type, "severity", a.Severity)
		e.publish(EventAlertEscalated, a.EntityID, a)
	}
	for _, a := range ev.Cleared {
		metrics.AlertTransitionsTotal.WithLabelValues("cleared", string(a.Severity)).Inc()
		metrics.ActiveAlerts.Dec()
		log.Info("alert cleared", "entity_id", a.EntityID, "type", a.Type)
		e.publish(EventAlertCleared, a.EntityID, a)
	}
	return ev.Alerts, nil
}

// LatestProfile rebuilds a scored profile from an entity's newest trend
// point. It wraps ErrNoHistory when the entity has never been scored.
func (e *Engine) LatestProfile(ctx context.Context, entityID string) (*risk.RiskProfile, error) {
	points, err := e.tracker.History(ctx, entityID, 1)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("entity %s: %w", entityID, ErrNoHistory)
	}
	return profileFromPoint(points[0], e.cfg.Model), nil
}

// LatestProfiles returns the newest profile per entity. Entities without
// history get an unscored, degraded placeholder.
func (e *Engine) LatestProfiles(ctx context.Context, entityIDs []string) ([]*risk.RiskProfile, error) {
	out := make([]*risk.RiskProfile, len(entityIDs))
	for i, id := range entityIDs {
		p, err := e.LatestProfile(ctx, id)
		switch {
		case errors.Is(err, ErrNoHistory):
			out[i] = &risk.RiskProfile{EntityID: id, Tier: risk.TierUnscored, Degraded: true}
		case err != nil:
			return nil, err
		default:
			out[i] = p
		}
	}
	return out, nil
}

func (e *Engine) scores(ctx context.Context, entityID string, window int) ([]float64, error) {
	points, err := e.tracker.History(ctx, entityID, window)
	if err != nil {
		return nil, err
	}
	return trend.Scores(points), nil
}

func profileFromPoint(pt trend.Point, model risk.Model) *risk.RiskProfile {
	p := &risk.RiskProfile{
		EntityID:   pt.EntityID,
		Overall:    pt.Overall,
		Tier:       risk.TierFor(pt.Overall),
		Scored:     true,
		AssessedAt: pt.Timestamp,
	}
	var present int
	for _, name := range model.Names() {
		s, ok := pt.Categories[name]
		if !ok {
			p.MissingCategories = append(p.MissingCategories, name)
			continue
		}
		present++
		p.Categories = append(p.Categories, risk.CategoryScore{Category: name, Score: s})
	}
	if n := len(model.Categories); n > 0 {
		p.Coverage = float64(present) / float64(n)
		p.Partial = present < n
	}
	return p
}

func observeAssessment(start time.Time, p *risk.RiskProfile) {
	metrics.AssessmentDuration.Observe(time.Since(start).Seconds())
	if p.Degraded {
		metrics.DegradedAssessmentsTotal.Inc()
	}
}
