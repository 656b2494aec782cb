package blocks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists blocks in the security_blocks table. A unique
// partial index on (block_type, value) WHERE active enforces one active
// block per subject even under concurrent escalator and operator writes.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const blockColumns = `id, block_type, value, reason, created_by, portal, evidence,
	active, created_at, unblocked_by, unblocked_at`

func (s *PostgresStore) Create(ctx context.Context, b *SecurityBlock) error {
	evidence, err := json.Marshal(b.Evidence)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO security_blocks (`+blockColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.ID, string(b.Type), b.Value, b.Reason, b.CreatedBy, nullString(b.Portal), evidence,
		b.Active, b.CreatedAt, nullString(b.UnblockedBy), b.UnblockedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyBlocked
	}
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*SecurityBlock, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM security_blocks WHERE id = $1`, id)
	b, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *PostgresStore) List(ctx context.Context, activeOnly bool, limit int) ([]*SecurityBlock, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + blockColumns + ` FROM security_blocks`
	if activeOnly {
		q += ` WHERE active = TRUE`
	}
	q += ` ORDER BY created_at DESC LIMIT $1`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*SecurityBlock
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindActive(ctx context.Context, t BlockType, value string) (*SecurityBlock, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+blockColumns+` FROM security_blocks
		WHERE block_type = $1 AND value = $2 AND active = TRUE
		LIMIT 1`, string(t), value)
	b, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *PostgresStore) Unblock(ctx context.Context, id, by string, at time.Time) (*SecurityBlock, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE security_blocks
		SET active = FALSE, unblocked_by = $2, unblocked_at = $3
		WHERE id = $1 AND active = TRUE`,
		id, by, at,
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
		return nil, ErrNotActive
	}
	return s.Get(ctx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlock(row rowScanner) (*SecurityBlock, error) {
	var b SecurityBlock
	var typ string
	var portal, unblockedBy sql.NullString
	var unblockedAt sql.NullTime
	var evidence []byte
	err := row.Scan(&b.ID, &typ, &b.Value, &b.Reason, &b.CreatedBy, &portal, &evidence,
		&b.Active, &b.CreatedAt, &unblockedBy, &unblockedAt)
	if err != nil {
		return nil, err
	}
	b.Type = BlockType(typ)
	b.Portal = portal.String
	b.UnblockedBy = unblockedBy.String
	if unblockedAt.Valid {
		at := unblockedAt.Time
		b.UnblockedAt = &at
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &b.Evidence); err != nil {
			return nil, err
		}
	}
	return &b, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
