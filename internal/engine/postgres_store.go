package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lumapay/riskengine/internal/pagination"
)

// PostgresStore persists decisions in the decisions table. Subject columns
// are denormalized so the promoter and detector aggregates stay on one table.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const decisionColumns = `id, transaction_id, cpf, ip, device_fingerprint, score, outcome,
	reasons, triggered_rules, oracle_score, oracle_used, whitelist_discount, auth_adjustment,
	duration_ms, reviewed_by, reviewed_at, review_verdict, review_notes,
	threeds_reason, threeds_challenge_id, created_at`

func (s *PostgresStore) Create(ctx context.Context, d *Decision) error {
	reasons, err := json.Marshal(d.Reasons)
	if err != nil {
		return err
	}
	triggered, err := json.Marshal(d.TriggeredRules)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions (`+decisionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21)`,
		d.ID, d.TransactionID, d.CPF, nullString(d.IP), nullString(d.DeviceFP),
		d.Score, string(d.Outcome), reasons, triggered,
		d.OracleScore, d.OracleUsed, d.WhitelistDiscount, d.AuthAdjustment, d.DurationMS,
		nullString(d.ReviewedBy), d.ReviewedAt, nullString(string(d.ReviewVerdict)), nullString(d.ReviewNotes),
		nullString(d.ThreeDSReason), nullString(d.ThreeDSChallenge), d.CreatedAt,
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Decision, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE id = $1`, id)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func (s *PostgresStore) LatestByTransaction(ctx context.Context, transactionID string) (*Decision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+decisionColumns+` FROM decisions
		WHERE transaction_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, transactionID)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func (s *PostgresStore) ListPendingReview(ctx context.Context, after *pagination.Cursor, limit int) ([]*Decision, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `
		SELECT ` + decisionColumns + ` FROM decisions
		WHERE outcome = 'REVIEW' AND reviewed_at IS NULL`
	args := []any{}
	if after != nil {
		q += ` AND (created_at, id) > ($1, $2)`
		args = append(args, after.CreatedAt, after.ID)
	}
	q += fmt.Sprintf(" ORDER BY created_at, id LIMIT $%d", len(args)+1)
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Review is a conditional update; the WHERE clause makes the first reviewer
// win under concurrency without explicit locking. The verdict replaces the
// outcome so approval counts and rejection scans see reviewed traffic.
func (s *PostgresStore) Review(ctx context.Context, id, reviewer string, verdict Outcome, notes string, at time.Time) (*Decision, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE decisions
		SET outcome = $4, reviewed_by = $2, reviewed_at = $3, review_verdict = $4, review_notes = $5
		WHERE id = $1 AND outcome = 'REVIEW' AND reviewed_at IS NULL`,
		id, reviewer, at, string(verdict), nullString(notes),
	)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		existing, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if existing.ReviewedAt != nil {
			return nil, ErrAlreadyReviewed
		}
		return nil, ErrNotReviewable
	}
	return s.Get(ctx, id)
}

func (s *PostgresStore) SetRequires3DS(ctx context.Context, id, reason, challengeID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE decisions
		SET outcome = 'REQUIRES_3DS', threeds_reason = $2, threeds_challenge_id = $3
		WHERE id = $1 AND outcome = 'APPROVED'`,
		id, reason, nullString(challengeID),
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

func (s *PostgresStore) CountApprovedBySubjectSince(ctx context.Context, cpf string, since time.Time) (int, error) {
	return s.countWhere(ctx, `outcome = 'APPROVED' AND cpf = $1 AND created_at >= $2`, cpf, since)
}

func (s *PostgresStore) CountApprovedByIPForSubjectSince(ctx context.Context, ip, cpf string, since time.Time) (int, error) {
	return s.countWhere(ctx, `outcome = 'APPROVED' AND ip = $1 AND cpf = $2 AND created_at >= $3`, ip, cpf, since)
}

func (s *PostgresStore) CountApprovedByDeviceForSubjectSince(ctx context.Context, device, cpf string, since time.Time) (int, error) {
	return s.countWhere(ctx, `outcome = 'APPROVED' AND device_fingerprint = $1 AND cpf = $2 AND created_at >= $3`, device, cpf, since)
}

func (s *PostgresStore) CountRejectedByIPSince(ctx context.Context, ip string, since time.Time) (int, error) {
	return s.countWhere(ctx, `outcome = 'REJECTED' AND ip = $1 AND created_at >= $2`, ip, since)
}

func (s *PostgresStore) countWhere(ctx context.Context, where string, args ...any) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decisions WHERE `+where, args...).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (*Decision, error) {
	var d Decision
	var outcome string
	var ip, deviceFP, reviewedBy, reviewVerdict, reviewNotes, tdsReason, tdsChallenge sql.NullString
	var reviewedAt sql.NullTime
	var reasons, triggered []byte
	err := row.Scan(&d.ID, &d.TransactionID, &d.CPF, &ip, &deviceFP, &d.Score, &outcome,
		&reasons, &triggered, &d.OracleScore, &d.OracleUsed, &d.WhitelistDiscount, &d.AuthAdjustment,
		&d.DurationMS, &reviewedBy, &reviewedAt, &reviewVerdict, &reviewNotes,
		&tdsReason, &tdsChallenge, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.Outcome = Outcome(outcome)
	d.IP = ip.String
	d.DeviceFP = deviceFP.String
	d.ReviewedBy = reviewedBy.String
	if reviewedAt.Valid {
		at := reviewedAt.Time
		d.ReviewedAt = &at
	}
	d.ReviewVerdict = Outcome(reviewVerdict.String)
	d.ReviewNotes = reviewNotes.String
	d.ThreeDSReason = tdsReason.String
	d.ThreeDSChallenge = tdsChallenge.String
	if len(reasons) > 0 {
		if err := json.Unmarshal(reasons, &d.Reasons); err != nil {
			return nil, err
		}
	}
	if len(triggered) > 0 {
		if err := json.Unmarshal(triggered, &d.TriggeredRules); err != nil {
			return nil, err
		}
	}
	return &d, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
