package trend

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed trend store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the trend_points table if it does not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS trend_points (
			entity_id   VARCHAR(128) NOT NULL,
			ts          TIMESTAMPTZ NOT NULL,
			overall     DOUBLE PRECISION NOT NULL,
			categories  JSONB NOT NULL DEFAULT '{}',
			PRIMARY KEY (entity_id, ts)
		);
	`)
	return err
}

func (p *PostgresStore) Upsert(ctx context.Context, pt Point) error {
	cats := pt.Categories
	if cats == nil {
		cats = map[string]float64{}
	}
	raw, err := json.Marshal(cats)
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO trend_points (entity_id, ts, overall, categories)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (entity_id, ts) DO UPDATE
		SET overall = EXCLUDED.overall, categories = EXCLUDED.categories`,
		pt.EntityID, pt.Timestamp, pt.Overall, raw)
	if err != nil {
		return fmt.Errorf("upsert trend point: %w", err)
	}
	return nil
}

func (p *PostgresStore) Recent(ctx context.Context, entityID string, limit int) ([]Point, error) {
	query := `
		SELECT entity_id, ts, overall, categories
		FROM trend_points
		WHERE entity_id = $1
		ORDER BY ts DESC`
	args := []interface{}{entityID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trend points: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var desc []Point
	for rows.Next() {
		var pt Point
		var raw []byte
		if err := rows.Scan(&pt.EntityID, &pt.Timestamp, &pt.Overall, &raw); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &pt.Categories); err != nil {
				return nil, fmt.Errorf("decode categories: %w", err)
			}
		}
		pt.Timestamp = pt.Timestamp.UTC()
		desc = append(desc, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Point, len(desc))
	for i, pt := range desc {
		out[len(desc)-1-i] = pt
	}
	return out, nil
}
