package settings

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists settings in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed settings store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, key string) (*Setting, error) {
	s, err := scanSetting(p.db.QueryRowContext(ctx, `
		SELECT key, category, value_type, value, description, updated_at
		FROM settings WHERE key = $1`, key))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return s, err
}

func (p *PostgresStore) List(ctx context.Context) ([]*Setting, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT key, category, value_type, value, description, updated_at
		FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanSettings(rows)
}

func (p *PostgresStore) ListByCategory(ctx context.Context, category string) ([]*Setting, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT key, category, value_type, value, description, updated_at
		FROM settings WHERE category = $1 ORDER BY key`, category)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanSettings(rows)
}

// Upsert writes the setting and its audit entry in one transaction so the
// trail can never miss a change.
func (p *PostgresStore) Upsert(ctx context.Context, s *Setting, changedBy, reason string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var oldValue sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = $1 FOR UPDATE`, s.Key,
	).Scan(&oldValue)
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO settings (key, category, value_type, value, description, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			category = EXCLUDED.category,
			value_type = EXCLUDED.value_type,
			value = EXCLUDED.value,
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at`,
		s.Key, s.Category, string(s.Type), s.Value, s.Description, now,
	)
	if err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO settings_audit (key, old_value, new_value, changed_by, reason, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.Key, oldValue.String, s.Value, changedBy, reason, now,
	)
	if err != nil {
		return fmt.Errorf("append settings audit: %w", err)
	}

	return tx.Commit()
}

func (p *PostgresStore) Audit(ctx context.Context, key string, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, key, old_value, new_value, changed_by, reason, changed_at
		FROM settings_audit
		WHERE key = $1
		ORDER BY changed_at DESC
		LIMIT $2`, key, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Key, &e.OldValue, &e.NewValue, &e.ChangedBy, &e.Reason, &e.ChangedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSetting(row rowScanner) (*Setting, error) {
	var s Setting
	var valueType string
	if err := row.Scan(&s.Key, &s.Category, &valueType, &s.Value, &s.Description, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Type = ValueType(valueType)
	return &s, nil
}

func scanSettings(rows *sql.Rows) ([]*Setting, error) {
	var out []*Setting
	for rows.Next() {
		s, err := scanSetting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
