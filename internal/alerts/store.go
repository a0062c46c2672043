package alerts

import (
	"context"

	"github.com/mbd888/riskscope/internal/pagination"
)

// ListOptions filters and pages List results.
type ListOptions struct {
	IncludeInactive bool
	Limit           int
	// Before restricts results to alerts strictly older than the cursor.
	Before *pagination.Cursor
}

// Store persists the alert log.
type Store interface {
	// Save inserts or updates alerts by ID.
	Save(ctx context.Context, alerts ...*Alert) error

	// Get returns an alert by ID.
	Get(ctx context.Context, id string) (*Alert, error)

	// ListActive returns an entity's active alerts, oldest first.
	ListActive(ctx context.Context, entityID string) ([]*Alert, error)

	// List returns an entity's alerts, newest first (created_at, then id).
	List(ctx context.Context, entityID string, opts ListOptions) ([]*Alert, error)

	// CountActive returns the number of active alerts across all entities.
	CountActive(ctx context.Context) (int, error)
}
