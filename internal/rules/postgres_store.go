package rules

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore persists the rule catalog in the rules table.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const ruleColumns = `id, name, description, kind, params, weight, action, active, priority, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, r *Rule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.Name, r.Description, string(r.Kind), nullableJSON(r.Params),
		r.Weight, string(r.Action), r.Active, r.Priority, r.CreatedAt, r.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) Update(ctx context.Context, r *Rule) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rules
		SET name = $2, description = $3, kind = $4, params = $5, weight = $6,
		    action = $7, active = $8, priority = $9, updated_at = $10
		WHERE id = $1`,
		r.ID, r.Name, r.Description, string(r.Kind), nullableJSON(r.Params),
		r.Weight, string(r.Action), r.Active, r.Priority, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = $1`, id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *PostgresStore) List(ctx context.Context) ([]*Rule, error) {
	return s.query(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY priority, created_at`)
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]*Rule, error) {
	return s.query(ctx, `SELECT `+ruleColumns+` FROM rules WHERE active = TRUE ORDER BY priority, created_at`)
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var r Rule
	var kind, action string
	var description sql.NullString
	var params []byte
	err := row.Scan(&r.ID, &r.Name, &description, &kind, &params, &r.Weight,
		&action, &r.Active, &r.Priority, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Description = description.String
	r.Kind = Kind(kind)
	r.Action = Action(action)
	r.Params = params
	return &r, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
