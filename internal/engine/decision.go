// Package engine implements the risk decision pipeline: blacklist
// short-circuit, whitelist discount, oracle base score, auth-history
// adjustment, rule evaluation, threshold resolution, persistence, and the
// post-decision hooks. Every validated transaction gets exactly one new
// Decision row per analysis.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/lumapay/riskengine/internal/pagination"
)

// Errors
var (
	ErrNotFound        = errors.New("engine: decision not found")
	ErrAlreadyReviewed = errors.New("engine: decision already reviewed")
	ErrNotReviewable   = errors.New("engine: decision is not pending review")
)

// Outcome is the final disposition of a decision.
type Outcome string

const (
	OutcomeApproved    Outcome = "APPROVED"
	OutcomeRejected    Outcome = "REJECTED"
	OutcomeReview      Outcome = "REVIEW"
	OutcomeRequires3DS Outcome = "REQUIRES_3DS"
	// OutcomePending marks a decision not yet resolved by the pipeline.
	// The synchronous pipeline never persists it; it exists for imports
	// and migrations from systems that stage decisions asynchronously.
	OutcomePending Outcome = "PENDING"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeApproved, OutcomeRejected, OutcomeReview, OutcomeRequires3DS, OutcomePending:
		return true
	}
	return false
}

// TriggeredRule records one rule that fired during evaluation.
type TriggeredRule struct {
	RuleID     string         `json:"ruleId"`
	Name       string         `json:"name"`
	Kind       string         `json:"kind"`
	Action     string         `json:"action"`
	ScoreDelta int            `json:"scoreDelta"`
	Details    map[string]any `json:"details,omitempty"`
}

// Decision is the persisted result of one analysis pass. Subject fields are
// denormalized from the transaction so promotion counts and detector scans
// are single-table queries.
type Decision struct {
	ID            string `json:"id"`
	TransactionID string `json:"transactionId"`
	CPF           string `json:"-"`
	IP            string `json:"ip,omitempty"`
	DeviceFP      string `json:"deviceFingerprint,omitempty"`

	Score             int             `json:"score"`
	Outcome           Outcome         `json:"outcome"`
	Reasons           []string        `json:"reasons,omitempty"`
	TriggeredRules    []TriggeredRule `json:"triggeredRules,omitempty"`
	OracleScore       int             `json:"oracleScore"`
	OracleUsed        bool            `json:"oracleUsed"`
	WhitelistDiscount int             `json:"whitelistDiscount,omitempty"`
	AuthAdjustment    int             `json:"authAdjustment,omitempty"`
	DurationMS        int64           `json:"durationMs"`

	ReviewedBy    string     `json:"reviewedBy,omitempty"`
	ReviewedAt    *time.Time `json:"reviewedAt,omitempty"`
	ReviewVerdict Outcome    `json:"reviewVerdict,omitempty"`
	ReviewNotes   string     `json:"reviewNotes,omitempty"`

	ThreeDSReason    string `json:"threeDsReason,omitempty"`
	ThreeDSChallenge string `json:"threeDsChallengeId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Store persists decisions and serves the aggregate queries the promoter,
// detector, and review surface depend on.
type Store interface {
	Create(ctx context.Context, d *Decision) error
	Get(ctx context.Context, id string) (*Decision, error)
	// LatestByTransaction returns the most recent decision for a transaction.
	LatestByTransaction(ctx context.Context, transactionID string) (*Decision, error)
	// ListPendingReview returns unreviewed REVIEW decisions, oldest first.
	// A non-nil cursor resumes after the given (created_at, id) position.
	ListPendingReview(ctx context.Context, after *pagination.Cursor, limit int) ([]*Decision, error)
	// Review records a manual verdict and replaces the REVIEW outcome with
	// it, so reviewed decisions count toward the approval and rejection
	// aggregates. The first reviewer wins; a second attempt returns
	// ErrAlreadyReviewed, and a decision that was never pending review
	// returns ErrNotReviewable.
	Review(ctx context.Context, id, reviewer string, verdict Outcome, notes string, at time.Time) (*Decision, error)
	// SetRequires3DS rewrites an APPROVED decision to REQUIRES_3DS with the
	// recommendation reason and optional gateway challenge id.
	SetRequires3DS(ctx context.Context, id, reason, challengeID string) error

	// Approval counts for the auto-whitelist promoter.
	CountApprovedBySubjectSince(ctx context.Context, cpf string, since time.Time) (int, error)
	CountApprovedByIPForSubjectSince(ctx context.Context, ip, cpf string, since time.Time) (int, error)
	CountApprovedByDeviceForSubjectSince(ctx context.Context, device, cpf string, since time.Time) (int, error)

	// CountRejectedByIPSince counts REJECTED decisions from one IP in a
	// trailing window, for the failure-burst detector signature.
	CountRejectedByIPSince(ctx context.Context, ip string, since time.Time) (int, error)
}
