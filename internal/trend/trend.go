// Package trend keeps the per-entity history of composite scores and
// classifies its direction.
//
// History is append-only per entity and unique per timestamp: appending a
// second point at an existing timestamp replaces the first. Writes for one
// entity are serialized; different entities proceed in parallel.
package trend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/mbd888/riskscope/internal/syncutil"
)

var ErrInvalidPoint = errors.New("trend: invalid point")

const (
	// DefaultDeadZone is the absolute slope below which a series is stable.
	DefaultDeadZone = 0.005

	// DefaultWindow is the number of trailing points classified.
	DefaultWindow = 10
)

// Label is the direction of an entity's score series.
type Label string

const (
	Improving Label = "improving"
	Stable    Label = "stable"
	Declining Label = "declining"
)

// Point is one composite assessment in an entity's history.
type Point struct {
	EntityID   string             `json:"entityId"`
	Timestamp  time.Time          `json:"timestamp"`
	Overall    float64            `json:"overall"`
	Categories map[string]float64 `json:"categories,omitempty"`
}

// Classification is the result of classifying a trailing window.
type Classification struct {
	EntityID string  `json:"entityId"`
	Label    Label   `json:"label"`
	Slope    float64 `json:"slope"`
	Points   int     `json:"points"`
}

// Store persists trend points.
type Store interface {
	// Upsert inserts the point, replacing any point at the same
	// (entity, timestamp).
	Upsert(ctx context.Context, p Point) error

	// Recent returns the newest limit points for an entity in ascending
	// timestamp order. limit <= 0 returns the full history.
	Recent(ctx context.Context, entityID string, limit int) ([]Point, error)
}

// Tracker appends and classifies trend points.
type Tracker struct {
	store    Store
	deadZone float64
	locks    syncutil.ShardedMutex
}

// NewTracker creates a tracker over the given store.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store, deadZone: DefaultDeadZone}
}

// WithDeadZone overrides the stable band around a zero slope.
func (t *Tracker) WithDeadZone(d float64) *Tracker {
	if d >= 0 {
		t.deadZone = d
	}
	return t
}

// Append records a point for entityID. The point's EntityID is forced to
// entityID.
func (t *Tracker) Append(ctx context.Context, entityID string, p Point) error {
	if entityID == "" {
		return fmt.Errorf("%w: entity id is required", ErrInvalidPoint)
	}
	if p.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidPoint)
	}
	if math.IsNaN(p.Overall) || p.Overall < 0 || p.Overall > 1 {
		return fmt.Errorf("%w: overall %v outside [0,1]", ErrInvalidPoint, p.Overall)
	}
	p.EntityID = entityID
	p.Timestamp = p.Timestamp.UTC()

	unlock := t.locks.Lock(entityID)
	defer unlock()
	return t.store.Upsert(ctx, p)
}

// History returns up to limit of the newest points, oldest first.
func (t *Tracker) History(ctx context.Context, entityID string, limit int) ([]Point, error) {
	return t.store.Recent(ctx, entityID, limit)
}

// Classify labels the trailing window of an entity's history by the OLS
// slope of overall score against point index. Fewer than two points are
// stable.
func (t *Tracker) Classify(ctx context.Context, entityID string, window int) (*Classification, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	points, err := t.store.Recent(ctx, entityID, window)
	if err != nil {
		return nil, err
	}
	slope := Slope(points)
	return &Classification{
		EntityID: entityID,
		Label:    Classify(slope, t.deadZone),
		Slope:    slope,
		Points:   len(points),
	}, nil
}

// Slope fits overall score against point index. It returns 0 for fewer
// than two points.
func Slope(points []Point) float64 {
	if len(points) < 2 {
		return 0
	}
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = float64(i)
		ys[i] = p.Overall
	}
	_, beta := stat.LinearRegression(xs, ys, nil, false)
	return beta
}

// Classify maps a slope to a label.
func Classify(slope, deadZone float64) Label {
	switch {
	case math.Abs(slope) < deadZone:
		return Stable
	case slope > 0:
		return Improving
	default:
		return Declining
	}
}

// Scores extracts the overall series from points.
func Scores(points []Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Overall
	}
	return out
}
