package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbd888/riskscope/internal/alerts"
	"github.com/mbd888/riskscope/internal/logging"
	"github.com/mbd888/riskscope/internal/metrics"
	"github.com/mbd888/riskscope/internal/retry"
	"github.com/mbd888/riskscope/internal/risk"
	"github.com/mbd888/riskscope/internal/traces"
	"github.com/mbd888/riskscope/internal/trend"
)

// Assessment is the outcome of one full assessment cycle.
type Assessment struct {
	Profile *risk.RiskProfile     `json:"profile"`
	Trend   *trend.Classification `json:"trend,omitempty"`
	Alerts  []*alerts.Alert       `json:"alerts"`
}

// Assess runs the full cycle for supplied metrics: score, append the trend
// point, evaluate alerts and publish events. Assessments of one entity are
// serialized.
//
// An unscored result is not an error here: the assessment is returned with
// Profile.Scored false, no trend point and alerts unchanged.
func (e *Engine) Assess(ctx context.Context, entityID string, ms []risk.Metric) (*Assessment, error) {
	return e.assess(ctx, entityID, ms, nil, false)
}

// AssessWithWeights is Assess with per-call category weight overrides.
func (e *Engine) AssessWithWeights(ctx context.Context, entityID string, ms []risk.Metric, weights map[string]float64) (*Assessment, error) {
	return e.assess(ctx, entityID, ms, weights, false)
}

// Refresh fetches metrics from the data source and assesses them. A fetch
// that fails, times out or is cancelled yields a degraded, unscored
// assessment rather than an error.
func (e *Engine) Refresh(ctx context.Context, entityID string) (*Assessment, error) {
	if e.source == nil {
		return nil, ErrNoDataSource
	}
	ms, err := e.fetch(ctx, entityID)
	if err != nil {
		if errors.Is(err, ErrUnknownEntity) {
			return nil, err
		}
		logging.L(ctx).Warn("metric fetch failed, assessing as degraded", "entity_id", entityID, "error", err)
		return e.degraded(ctx, entityID)
	}
	return e.assess(ctx, entityID, ms, nil, true)
}

// AssessBatch refreshes many entities concurrently, bounded by
// BatchConcurrency. Results are in input order. Entities whose fetch fails
// or whose turn comes after ctx ends are returned degraded; only store
// failures abort the batch.
func (e *Engine) AssessBatch(ctx context.Context, entityIDs []string) ([]*Assessment, error) {
	if e.source == nil {
		return nil, ErrNoDataSource
	}
	ctx, span := traces.StartSpan(ctx, "engine.AssessBatch", traces.EntityCount(len(entityIDs)))
	defer span.End()

	out := make([]*Assessment, len(entityIDs))
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.BatchConcurrency)
	for i, id := range entityIDs {
		g.Go(func() error {
			if ctx.Err() != nil {
				a, err := e.degraded(context.WithoutCancel(ctx), id)
				out[i] = a
				return err
			}
			a, err := e.Refresh(ctx, id)
			if errors.Is(err, ErrUnknownEntity) || isCancellation(err) {
				a, err = e.degraded(context.WithoutCancel(ctx), id)
			}
			out[i] = a
			return err
		})
	}
	if err := g.Wait(); err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	return out, nil
}

// RefreshAll assesses every entity the data source lists.
func (e *Engine) RefreshAll(ctx context.Context) ([]*Assessment, error) {
	if e.source == nil {
		return nil, ErrNoDataSource
	}
	ids, err := e.source.ListEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	return e.AssessBatch(ctx, ids)
}

func (e *Engine) assess(ctx context.Context, entityID string, ms []risk.Metric, weights map[string]float64, fromSource bool) (*Assessment, error) {
	start := time.Now()
	ctx = logging.WithEntity(ctx, entityID)
	ctx, span := traces.StartSpan(ctx, "engine.Assess", traces.EntityID(entityID))
	defer span.End()

	unlock, err := e.locks.LockContext(ctx, entityID)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	defer unlock()

	profile, err := e.ComputeEntityRiskWithWeights(ctx, entityID, ms, weights)
	if err != nil && !errors.Is(err, risk.ErrInsufficientData) {
		traces.RecordError(span, err)
		return nil, err
	}

	if !fromSource && profile.Scored {
		if rec, ok := e.source.(MetricsRecorder); ok {
			if err := rec.RecordMetrics(ctx, entityID, ms); err != nil {
				logging.L(ctx).Warn("failed to record submitted metrics", "error", err)
			}
		}
	}

	a, err := e.record(ctx, profile)
	observeAssessment(start, profile)
	traces.RecordError(span, err)
	return a, err
}

// degraded records an assessment with no metrics for an entity whose data
// could not be fetched.
func (e *Engine) degraded(ctx context.Context, entityID string) (*Assessment, error) {
	start := time.Now()
	ctx = logging.WithEntity(ctx, entityID)
	profile, _ := e.ComputeEntityRisk(ctx, entityID, nil)
	profile.Degraded = true
	observeAssessment(start, profile)
	return e.record(ctx, profile)
}

// record persists the side effects of a profile. Callers hold the entity
// lock or are recording a degraded profile, which writes no trend point.
func (e *Engine) record(ctx context.Context, profile *risk.RiskProfile) (*Assessment, error) {
	a := &Assessment{Profile: profile}

	if profile.Scored {
		pt := trend.Point{
			Timestamp:  profile.AssessedAt,
			Overall:    profile.Overall,
			Categories: profile.CategoryScores(),
		}
		if err := e.tracker.Append(ctx, profile.EntityID, pt); err != nil {
			return nil, fmt.Errorf("append trend point: %w", err)
		}
	}

	active, err := e.alertStore.ListActive(ctx, profile.EntityID)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	if a.Alerts, err = e.EvaluateAlerts(ctx, profile, active); err != nil {
		return nil, err
	}

	if profile.Scored {
		if a.Trend, err = e.ClassifyTrend(ctx, profile.EntityID, 0); err != nil {
			return nil, fmt.Errorf("classify trend: %w", err)
		}
	}

	logging.L(ctx).Info("entity assessed",
		"tier", profile.Tier,
		"overall", profile.Overall,
		"confidence", profile.Confidence,
		"degraded", profile.Degraded,
		"active_alerts", countActive(a.Alerts),
	)
	e.publish(EventAssessed, profile.EntityID, a)
	return a, nil
}

// fetch bounds each attempt by FetchTimeout, within the caller's deadline.
// With a circuit breaker, exhausted retries count as one failure for the
// entity and an open circuit skips the source entirely.
func (e *Engine) fetch(ctx context.Context, entityID string) ([]risk.Metric, error) {
	if e.breaker == nil {
		return e.fetchWithRetry(ctx, entityID)
	}
	if !e.breaker.Allow(entityID) {
		metrics.SourceCircuitOpenTotal.Inc()
		return nil, fmt.Errorf("entity %s: %w", entityID, ErrCircuitOpen)
	}
	ms, err := e.fetchWithRetry(ctx, entityID)
	switch {
	case err == nil:
		e.breaker.RecordSuccess(entityID)
	case errors.Is(err, ErrUnknownEntity), errors.Is(err, context.Canceled):
		// Not a source health signal.
	default:
		e.breaker.RecordFailure(entityID)
	}
	return ms, err
}

func (e *Engine) fetchWithRetry(ctx context.Context, entityID string) ([]risk.Metric, error) {
	policy := retry.Policy{
		Attempts:  e.cfg.FetchAttempts,
		BaseDelay: e.cfg.FetchBaseDelay,
		MaxDelay:  e.cfg.FetchMaxDelay,
		OnRetry: func(attempt int, err error, sleep time.Duration) {
			metrics.SourceRetriesTotal.Inc()
			logging.L(ctx).Debug("metric fetch failed, retrying",
				"attempt", attempt, "backoff", sleep, "error", err)
		},
	}
	return retry.DoValue(ctx, policy, func(ctx context.Context) ([]risk.Metric, error) {
		fctx := ctx
		if e.cfg.FetchTimeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(ctx, e.cfg.FetchTimeout)
			defer cancel()
		}
		ms, err := e.source.FetchMetrics(fctx, entityID)
		if errors.Is(err, ErrUnknownEntity) || errors.Is(err, context.Canceled) {
			return nil, retry.Permanent(err)
		}
		return ms, err
	})
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func countActive(as []*alerts.Alert) int {
	var n int
	for _, a := range as {
		if a.Active {
			n++
		}
	}
	return n
}
