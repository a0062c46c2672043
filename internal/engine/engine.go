// Package engine wires the risk components into one configured service
// object: scoring, stress testing, tail risk, trend tracking, portfolio
// aggregation and alerting.
//
// An Engine holds no global state. Every threshold, the category model, the
// scenario library and the storage handles come from its Config and
// constructor, so several differently configured engines can coexist.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/riskscope/internal/alerts"
	"github.com/mbd888/riskscope/internal/circuitbreaker"
	"github.com/mbd888/riskscope/internal/portfolio"
	"github.com/mbd888/riskscope/internal/risk"
	"github.com/mbd888/riskscope/internal/stress"
	"github.com/mbd888/riskscope/internal/syncutil"
	"github.com/mbd888/riskscope/internal/tailrisk"
	"github.com/mbd888/riskscope/internal/trend"
)

var (
	ErrNoDataSource  = errors.New("engine: no data source configured")
	ErrUnknownEntity = errors.New("engine: unknown entity")
	ErrNoHistory     = errors.New("engine: entity has no assessment history")
	ErrCircuitOpen   = errors.New("engine: data source circuit open for entity")
)

// Event types published to the EventSink.
const (
	EventAssessed       = "risk_assessed"
	EventAlertRaised    = "alert_raised"
	EventAlertEscalated = "alert_escalated"
	EventAlertCleared   = "alert_cleared"
)

// DataSource supplies raw metrics. Fetches may be slow, partial or fail.
type DataSource interface {
	FetchMetrics(ctx context.Context, entityID string) ([]risk.Metric, error)
	ListEntities(ctx context.Context) ([]string, error)
}

// MetricsRecorder is implemented by data sources that accept pushed
// metrics. Metrics submitted for assessment are recorded so later refreshes
// see them.
type MetricsRecorder interface {
	RecordMetrics(ctx context.Context, entityID string, metrics []risk.Metric) error
}

// EventSink receives assessment and alert events.
type EventSink interface {
	Publish(eventType, entityID string, data interface{})
}

// Config is the engine's full configuration.
type Config struct {
	Model             risk.Model
	Library           stress.Library
	MaxUplift         float64
	AlertHysteresis   int
	TrendDeadZone     float64
	TrendWindow       int
	TailWindow        int     // trailing points used for tail risk and volatility; 0 means all
	NeutralVolatility float64 // volatility assumed for degraded portfolio entities
	MinTailHistory    int
	FetchTimeout      time.Duration
	FetchAttempts     int
	FetchBaseDelay    time.Duration
	FetchMaxDelay     time.Duration
	BatchConcurrency  int
}

// DefaultConfig returns the built-in model, scenario library and thresholds.
func DefaultConfig() Config {
	return Config{
		Model:             risk.DefaultModel(),
		Library:           stress.DefaultLibrary(),
		MaxUplift:         stress.DefaultMaxUplift,
		AlertHysteresis:   alerts.DefaultHysteresis,
		TrendDeadZone:     trend.DefaultDeadZone,
		TrendWindow:       trend.DefaultWindow,
		TailWindow:        60,
		NeutralVolatility: portfolio.NeutralVolatility,
		MinTailHistory:    tailrisk.DefaultMinHistory,
		FetchTimeout:      5 * time.Second,
		FetchAttempts:     3,
		FetchBaseDelay:    100 * time.Millisecond,
		FetchMaxDelay:     2 * time.Second,
		BatchConcurrency:  8,
	}
}

// Engine runs risk operations against injected stores.
type Engine struct {
	cfg        Config
	scorer     *risk.Scorer
	simulator  *stress.Simulator
	estimator  *tailrisk.Estimator
	tracker    *trend.Tracker
	aggregator *portfolio.Aggregator
	generator  *alerts.Generator
	alertStore alerts.Store
	source     DataSource
	breaker    *circuitbreaker.Breaker
	sink       EventSink
	locks      *syncutil.ContextShardedMutex
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithDataSource sets the metric source used by Refresh and AssessBatch.
func WithDataSource(s DataSource) Option {
	return func(e *Engine) { e.source = s }
}

// WithCircuitBreaker stops fetching an entity's metrics after repeated
// failures. While its circuit is open, refreshes of that entity are degraded
// without calling the data source.
func WithCircuitBreaker(b *circuitbreaker.Breaker) Option {
	return func(e *Engine) { e.breaker = b }
}

// WithEventSink sets where assessment and alert events are published.
func WithEventSink(s EventSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the engine clock for assessments, trend points and
// alerts.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine. The trend and alert stores are required.
func New(cfg Config, trendStore trend.Store, alertStore alerts.Store, opts ...Option) (*Engine, error) {
	if trendStore == nil || alertStore == nil {
		return nil, fmt.Errorf("engine: trend and alert stores are required")
	}
	scorer, err := risk.NewScorer(cfg.Model)
	if err != nil {
		return nil, err
	}
	sim, err := stress.NewSimulator(cfg.Library)
	if err != nil {
		return nil, err
	}
	if cfg.FetchAttempts < 1 {
		cfg.FetchAttempts = 1
	}
	if cfg.BatchConcurrency < 1 {
		cfg.BatchConcurrency = 1
	}
	if cfg.TrendWindow < 2 {
		cfg.TrendWindow = trend.DefaultWindow
	}

	e := &Engine{
		cfg:        cfg,
		simulator:  sim.WithMaxUplift(cfg.MaxUplift),
		estimator:  tailrisk.NewEstimator(cfg.MinTailHistory),
		tracker:    trend.NewTracker(trendStore).WithDeadZone(cfg.TrendDeadZone),
		aggregator: portfolio.NewAggregator().WithNeutralVolatility(cfg.NeutralVolatility),
		generator:  alerts.NewGenerator(cfg.AlertHysteresis),
		alertStore: alertStore,
		locks:      syncutil.NewContextShardedMutex(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.scorer = scorer.WithClock(e.now)
	e.generator.WithClock(e.now)
	return e, nil
}

// Thresholds are the effective limits the engine applies, after defaults.
type Thresholds struct {
	AlertHysteresis   int     `json:"alertHysteresis"`
	MinTailHistory    int     `json:"minTailHistory"`
	NeutralVolatility float64 `json:"neutralVolatility"`
}

// Thresholds reports the limits in effect.
func (e *Engine) Thresholds() Thresholds {
	return Thresholds{
		AlertHysteresis:   e.generator.Hysteresis(),
		MinTailHistory:    e.estimator.MinHistory(),
		NeutralVolatility: e.aggregator.NeutralVolatility(),
	}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Library returns the scenario library in use.
func (e *Engine) Library() stress.Library {
	return e.simulator.Library()
}

// AlertStore exposes the alert log for read paths.
func (e *Engine) AlertStore() alerts.Store {
	return e.alertStore
}

func (e *Engine) publish(eventType, entityID string, data interface{}) {
	if e.sink != nil {
		e.sink.Publish(eventType, entityID, data)
	}
}
