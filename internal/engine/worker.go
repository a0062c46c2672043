package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/riskscope/internal/metrics"
)

// Worker periodically reassesses every entity the data source lists, so
// recency decay and alert hysteresis advance without new submissions.
type Worker struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a reassessment worker.
func NewWorker(engine *Engine, interval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		engine:   engine,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the reassessment loop. Call in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.reassess(ctx)
		}
	}
}

// Stop signals the worker to stop. It is safe to call more than once, and
// before or after Start.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Worker) reassess(ctx context.Context) {
	results, err := w.engine.RefreshAll(ctx)
	if err != nil {
		w.logger.Warn("reassessment failed", "error", err)
		return
	}

	var degraded, unscored int
	for _, a := range results {
		if a.Profile.Degraded {
			degraded++
		}
		if !a.Profile.Scored {
			unscored++
		}
	}

	if n, err := w.engine.alertStore.CountActive(ctx); err == nil {
		metrics.ActiveAlerts.Set(float64(n))
	}

	w.logger.Info("reassessment completed",
		"entities", len(results), "degraded", degraded, "unscored", unscored)
}
