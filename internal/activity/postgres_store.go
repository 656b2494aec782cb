package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists activities in the suspicious_activities table.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const activityColumns = `id, activity_type, subject, cpf, ip, portal, severity, evidence,
	status, block_id, detected_at, resolved_by, resolved_at`

func (s *PostgresStore) Create(ctx context.Context, a *Activity) error {
	evidence, err := json.Marshal(a.Evidence)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO suspicious_activities (`+activityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, string(a.Type), a.Subject, nullString(a.CPF), nullString(a.IP), nullString(a.Portal),
		a.Severity, evidence, string(a.Status), nullString(a.BlockID), a.DetectedAt,
		nullString(a.ResolvedBy), a.ResolvedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Activity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM suspicious_activities WHERE id = $1`, id)
	a, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (s *PostgresStore) List(ctx context.Context, status Status, limit int) ([]*Activity, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + activityColumns + ` FROM suspicious_activities`
	args := []any{limit}
	if status != "" {
		q += ` WHERE status = $2`
		args = append(args, string(status))
	}
	q += ` ORDER BY detected_at DESC LIMIT $1`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ExistsSince(ctx context.Context, t Type, subject string, since time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM suspicious_activities
			WHERE activity_type = $1 AND subject = $2 AND detected_at >= $3
		)`, string(t), subject, since).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) Resolve(ctx context.Context, id string, status Status, resolvedBy string, at time.Time) (*Activity, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE suspicious_activities
		SET status = $2, resolved_by = $3, resolved_at = $4
		WHERE id = $1 AND status = 'PENDING'`,
		id, string(status), resolvedBy, at,
	)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyResolved
	}
	return s.Get(ctx, id)
}

func (s *PostgresStore) MarkBlocked(ctx context.Context, id, blockID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE suspicious_activities
		SET status = 'BLOCKED', block_id = $2, resolved_by = 'system-auto', resolved_at = $3
		WHERE id = $1 AND status = 'PENDING'`,
		id, blockID, at,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyResolved
	}
	return nil
}

func (s *PostgresStore) ListPendingSevereSince(ctx context.Context, minSeverity int, since time.Time) ([]*Activity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+activityColumns+` FROM suspicious_activities
		WHERE status = 'PENDING' AND severity >= $1 AND detected_at >= $2
		ORDER BY detected_at`, minSeverity, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row rowScanner) (*Activity, error) {
	var a Activity
	var typ, status string
	var cpf, ip, portal, blockID, resolvedBy sql.NullString
	var resolvedAt sql.NullTime
	var evidence []byte
	err := row.Scan(&a.ID, &typ, &a.Subject, &cpf, &ip, &portal, &a.Severity, &evidence,
		&status, &blockID, &a.DetectedAt, &resolvedBy, &resolvedAt)
	if err != nil {
		return nil, err
	}
	a.Type = Type(typ)
	a.Status = Status(status)
	a.CPF = cpf.String
	a.IP = ip.String
	a.Portal = portal.String
	a.BlockID = blockID.String
	a.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		at := resolvedAt.Time
		a.ResolvedAt = &at
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &a.Evidence); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
