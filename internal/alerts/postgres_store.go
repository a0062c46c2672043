package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed alert store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the risk_alerts table if it does not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS risk_alerts (
			id               VARCHAR(36) PRIMARY KEY,
			entity_id        VARCHAR(128) NOT NULL,
			type             VARCHAR(64) NOT NULL,
			severity         VARCHAR(16) NOT NULL,
			description      TEXT NOT NULL DEFAULT '',
			recommendations  JSONB NOT NULL DEFAULT '[]',
			score            DOUBLE PRECISION NOT NULL DEFAULT 0,
			active           BOOLEAN NOT NULL DEFAULT TRUE,
			recovery_streak  INTEGER NOT NULL DEFAULT 0,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deactivated_at   TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_risk_alerts_entity ON risk_alerts(entity_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_risk_alerts_active ON risk_alerts(entity_id) WHERE active;
	`)
	return err
}

func (p *PostgresStore) Save(ctx context.Context, alerts ...*Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO risk_alerts
			(id, entity_id, type, severity, description, recommendations, score,
			 active, recovery_streak, created_at, updated_at, deactivated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			severity = EXCLUDED.severity,
			description = EXCLUDED.description,
			recommendations = EXCLUDED.recommendations,
			score = EXCLUDED.score,
			active = EXCLUDED.active,
			recovery_streak = EXCLUDED.recovery_streak,
			updated_at = EXCLUDED.updated_at,
			deactivated_at = EXCLUDED.deactivated_at`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, a := range alerts {
		recs := a.Recommendations
		if recs == nil {
			recs = []string{}
		}
		raw, err := json.Marshal(recs)
		if err != nil {
			return fmt.Errorf("marshal recommendations: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			a.ID, a.EntityID, a.Type, string(a.Severity), a.Description, raw, a.Score,
			a.Active, a.RecoveryStreak, a.CreatedAt, a.UpdatedAt, a.DeactivatedAt,
		); err != nil {
			return fmt.Errorf("save alert %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

const alertColumns = `id, entity_id, type, severity, description, recommendations, score,
	active, recovery_streak, created_at, updated_at, deactivated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Alert, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM risk_alerts WHERE id = $1`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (p *PostgresStore) ListActive(ctx context.Context, entityID string) ([]*Alert, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+alertColumns+`
		FROM risk_alerts
		WHERE entity_id = $1 AND active
		ORDER BY created_at ASC, id ASC`, entityID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanAlerts(rows)
}

func (p *PostgresStore) List(ctx context.Context, entityID string, opts ListOptions) ([]*Alert, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if opts.Before != nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+alertColumns+`
			FROM risk_alerts
			WHERE entity_id = $1 AND (active OR $2)
			  AND (created_at, id) < ($3, $4)
			ORDER BY created_at DESC, id DESC
			LIMIT $5`, entityID, opts.IncludeInactive, opts.Before.CreatedAt, opts.Before.ID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+alertColumns+`
			FROM risk_alerts
			WHERE entity_id = $1 AND (active OR $2)
			ORDER BY created_at DESC, id DESC
			LIMIT $3`, entityID, opts.IncludeInactive, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanAlerts(rows)
}

func (p *PostgresStore) CountActive(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM risk_alerts WHERE active`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row scanner) (*Alert, error) {
	a := &Alert{}
	var severity string
	var recs []byte
	var deactivated sql.NullTime
	if err := row.Scan(&a.ID, &a.EntityID, &a.Type, &severity, &a.Description, &recs, &a.Score,
		&a.Active, &a.RecoveryStreak, &a.CreatedAt, &a.UpdatedAt, &deactivated); err != nil {
		return nil, err
	}
	a.Severity = Severity(severity)
	if len(recs) > 0 {
		if err := json.Unmarshal(recs, &a.Recommendations); err != nil {
			return nil, fmt.Errorf("decode recommendations: %w", err)
		}
	}
	if deactivated.Valid {
		t := deactivated.Time
		a.DeactivatedAt = &t
	}
	return a, nil
}

func scanAlerts(rows *sql.Rows) ([]*Alert, error) {
	var out []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
