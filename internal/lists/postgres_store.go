package lists

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists the lockout lists in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed lists store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) AddBlacklist(ctx context.Context, e *BlacklistEntry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO blacklist_entries (
			id, entry_type, value, reason, permanent, expires_at,
			active, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, string(e.Type), e.Value, e.Reason, e.Permanent, e.ExpiresAt,
		e.Active, e.CreatedBy, e.CreatedAt, e.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (p *PostgresStore) DeactivateBlacklist(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE blacklist_entries SET active = FALSE, updated_at = $2
		WHERE id = $1`, id, time.Now())
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListBlacklist(ctx context.Context, limit int) ([]*BlacklistEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, entry_type, value, reason, permanent, expires_at,
		       active, created_by, created_at, updated_at
		FROM blacklist_entries
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*BlacklistEntry
	for rows.Next() {
		e, err := scanBlacklistEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) FindInForce(ctx context.Context, keys []Key, now time.Time) (*BlacklistEntry, error) {
	if len(keys) == 0 {
		return nil, ErrNotFound
	}

	types := make([]string, len(keys))
	values := make([]string, len(keys))
	for i, k := range keys {
		types[i] = string(k.Type)
		values[i] = k.Value
	}

	e, err := scanBlacklistEntry(p.db.QueryRowContext(ctx, `
		SELECT id, entry_type, value, reason, permanent, expires_at,
		       active, created_by, created_at, updated_at
		FROM blacklist_entries
		WHERE active = TRUE
		  AND (permanent = TRUE OR expires_at > $3)
		  AND (entry_type, value) IN (
			SELECT t, v FROM unnest($1::TEXT[], $2::TEXT[]) AS u(t, v)
		  )
		LIMIT 1`,
		pq.Array(types), pq.Array(values), now))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return e, err
}

func (p *PostgresStore) AddWhitelist(ctx context.Context, e *WhitelistEntry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO whitelist_entries (
			id, entry_type, value, origin, approval_count, last_approval_at,
			active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, string(e.Type), e.Value, string(e.Origin), e.ApprovalCount, e.LastApprovalAt,
		e.Active, e.CreatedAt, e.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (p *PostgresStore) DeactivateWhitelist(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE whitelist_entries SET active = FALSE, updated_at = $2
		WHERE id = $1`, id, time.Now())
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListWhitelist(ctx context.Context, limit int) ([]*WhitelistEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, entry_type, value, origin, approval_count, last_approval_at,
		       active, created_at, updated_at
		FROM whitelist_entries
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*WhitelistEntry
	for rows.Next() {
		e, err := scanWhitelistEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ActiveWhitelistMatches(ctx context.Context, keys []Key) ([]*WhitelistEntry, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	types := make([]string, len(keys))
	values := make([]string, len(keys))
	for i, k := range keys {
		types[i] = string(k.Type)
		values[i] = k.Value
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, entry_type, value, origin, approval_count, last_approval_at,
		       active, created_at, updated_at
		FROM whitelist_entries
		WHERE active = TRUE
		  AND (entry_type, value) IN (
			SELECT t, v FROM unnest($1::TEXT[], $2::TEXT[]) AS u(t, v)
		  )`,
		pq.Array(types), pq.Array(values))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*WhitelistEntry
	for rows.Next() {
		e, err := scanWhitelistEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// IncrementApproval uses a single UPDATE so concurrent promoter invocations
// for the same key never lose counts to read-modify-write races.
func (p *PostgresStore) IncrementApproval(ctx context.Context, t EntryType, value string, at time.Time) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE whitelist_entries
		SET approval_count = approval_count + 1, last_approval_at = $3, updated_at = $3
		WHERE entry_type = $1 AND value = $2 AND active = TRUE`,
		string(t), value, at)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (p *PostgresStore) DeactivateStaleAuto(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE whitelist_entries
		SET active = FALSE, updated_at = $2
		WHERE active = TRUE AND origin = 'AUTO' AND last_approval_at < $1`,
		cutoff, time.Now())
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlacklistEntry(row rowScanner) (*BlacklistEntry, error) {
	var e BlacklistEntry
	var entryType string
	var expiresAt sql.NullTime
	if err := row.Scan(
		&e.ID, &entryType, &e.Value, &e.Reason, &e.Permanent, &expiresAt,
		&e.Active, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	e.Type = EntryType(entryType)
	if expiresAt.Valid {
		e.ExpiresAt = &expiresAt.Time
	}
	return &e, nil
}

func scanWhitelistEntry(row rowScanner) (*WhitelistEntry, error) {
	var e WhitelistEntry
	var entryType, origin string
	if err := row.Scan(
		&e.ID, &entryType, &e.Value, &origin, &e.ApprovalCount, &e.LastApprovalAt,
		&e.Active, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	e.Type = EntryType(entryType)
	e.Origin = Origin(origin)
	return &e, nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
