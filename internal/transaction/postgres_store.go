package transaction

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists transactions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const txnColumns = `id, external_id, channel, cpf, amount, payment_method, installments,
	ip, device_fingerprint, card_bin, store_id, terminal_id, portal, occurred_at, created_at`

func (p *PostgresStore) Create(ctx context.Context, txn *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, external_id, channel, cpf, amount, payment_method, installments,
			ip, device_fingerprint, card_bin, store_id, terminal_id, portal,
			occurred_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5::NUMERIC(14,2), $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15
		)`,
		txn.ID, txn.ExternalID, string(txn.Channel), txn.CPF, txn.Amount,
		txn.PaymentMethod, txn.Installments,
		txn.IP, txn.DeviceFingerprint, txn.CardBIN, txn.StoreID, txn.TerminalID, txn.Portal,
		txn.OccurredAt, txn.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	txn, err := scanTransaction(p.db.QueryRowContext(ctx,
		`SELECT `+txnColumns+` FROM transactions WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return txn, err
}

func (p *PostgresStore) GetByExternalID(ctx context.Context, externalID string) (*Transaction, error) {
	txn, err := scanTransaction(p.db.QueryRowContext(ctx,
		`SELECT `+txnColumns+` FROM transactions WHERE external_id = $1`, externalID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return txn, err
}

func (p *PostgresStore) CountBySubjectSince(ctx context.Context, cpf string, since time.Time) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions
		WHERE cpf = $1 AND occurred_at >= $2`, cpf, since).Scan(&count)
	return count, err
}

func (p *PostgresStore) AvgAmountSince(ctx context.Context, cpf string, since time.Time) (float64, error) {
	var avg sql.NullFloat64
	err := p.db.QueryRowContext(ctx, `
		SELECT AVG(amount) FROM transactions
		WHERE cpf = $1 AND occurred_at >= $2`, cpf, since).Scan(&avg)
	if err != nil {
		return 0, err
	}
	return avg.Float64, nil
}

func (p *PostgresStore) DeviceSeenForSubject(ctx context.Context, cpf, fingerprint string, before time.Time) (bool, error) {
	var seen bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE cpf = $1 AND device_fingerprint = $2 AND occurred_at < $3
		)`, cpf, fingerprint, before).Scan(&seen)
	return seen, err
}

func (p *PostgresStore) DistinctSubjectsByIPSince(ctx context.Context, ip string, since time.Time) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT cpf) FROM transactions
		WHERE ip = $1 AND occurred_at >= $2`, ip, since).Scan(&count)
	return count, err
}

func (p *PostgresStore) IPSeenForSubjectBefore(ctx context.Context, cpf, ip string, before time.Time) (bool, error) {
	var seen bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE cpf = $1 AND ip = $2 AND occurred_at < $3
		)`, cpf, ip, before).Scan(&seen)
	return seen, err
}

func (p *PostgresStore) DistinctIPsBySubjectSince(ctx context.Context, cpf string, since time.Time) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT ip FROM transactions
		WHERE cpf = $1 AND ip <> '' AND occurred_at >= $2`, cpf, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ips []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, err
		}
		ips = append(ips, ip)
	}
	return ips, rows.Err()
}

func (p *PostgresStore) ListSince(ctx context.Context, since time.Time, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+txnColumns+` FROM transactions
		WHERE occurred_at >= $1
		ORDER BY occurred_at DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var txn Transaction
	var channel string
	if err := row.Scan(
		&txn.ID, &txn.ExternalID, &channel, &txn.CPF, &txn.Amount,
		&txn.PaymentMethod, &txn.Installments,
		&txn.IP, &txn.DeviceFingerprint, &txn.CardBIN,
		&txn.StoreID, &txn.TerminalID, &txn.Portal,
		&txn.OccurredAt, &txn.CreatedAt,
	); err != nil {
		return nil, err
	}
	txn.Channel = Channel(channel)
	return &txn, nil
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
