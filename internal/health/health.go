// Package health runs named dependency checks for the /health endpoint.
package health

import (
	"context"
	"sync"
	"time"
)

// DefaultCheckTimeout bounds a single check.
const DefaultCheckTimeout = 2 * time.Second

// Status is the outcome of one check.
type Status struct {
	Name      string  `json:"name"`
	Healthy   bool    `json:"healthy"`
	Critical  bool    `json:"critical"`
	Detail    string  `json:"detail,omitempty"`
	LatencyMS float64 `json:"latencyMs"`
}

// Checker probes one dependency.
type Checker func(ctx context.Context) Status

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingCheck reports unhealthy when p cannot be pinged.
func PingCheck(name string, p Pinger) Checker {
	return func(ctx context.Context) Status {
		if err := p.PingContext(ctx); err != nil {
			return Status{Name: name, Detail: err.Error()}
		}
		return Status{Name: name, Healthy: true}
	}
}

// CheckOption adjusts how a registered check contributes to the aggregate.
type CheckOption func(*check)

// Informational keeps a failing check out of the aggregate result. Its
// status is still reported.
func Informational() CheckOption {
	return func(c *check) { c.critical = false }
}

type check struct {
	name     string
	fn       Checker
	critical bool
}

// Registry holds checks in registration order.
type Registry struct {
	mu      sync.RWMutex
	checks  []check
	timeout time.Duration
}

// NewRegistry returns an empty registry using DefaultCheckTimeout.
func NewRegistry() *Registry {
	return &Registry{timeout: DefaultCheckTimeout}
}

// WithTimeout sets the per-check timeout. Non-positive values are ignored.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a check. Checks are critical unless Informational is given.
func (r *Registry) Register(name string, fn Checker, opts ...CheckOption) {
	c := check{name: name, fn: fn, critical: true}
	for _, opt := range opts {
		opt(&c)
	}
	r.mu.Lock()
	r.checks = append(r.checks, c)
	r.mu.Unlock()
}

// CheckAll runs every check in parallel. healthy is false when any critical
// check fails.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checks := append([]check(nil), r.checks...)
	timeout := r.timeout
	r.mu.RUnlock()

	statuses = make([]Status, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses[i] = r.run(ctx, c, timeout)
		}()
	}
	wg.Wait()

	healthy = true
	for _, st := range statuses {
		if st.Critical && !st.Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}

func (r *Registry) run(ctx context.Context, c check, timeout time.Duration) Status {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	st := c.fn(cctx)
	st.LatencyMS = float64(time.Since(start).Microseconds()) / 1000
	st.Critical = c.critical
	if st.Name == "" {
		st.Name = c.name
	}
	return st
}
