// Package transaction holds the normalized payment transaction model and the
// history queries the risk pipeline reads. Transactions are immutable once
// created; every later component treats them as read-only facts.
package transaction

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound      = errors.New("transaction: not found")
	ErrAlreadyExists = errors.New("transaction: external id already exists")
	ErrInvalid       = errors.New("transaction: invalid input")
)

// Channel identifies where the transaction originated.
type Channel string

const (
	ChannelPOS Channel = "POS"
	ChannelAPP Channel = "APP"
	ChannelWEB Channel = "WEB"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelPOS, ChannelAPP, ChannelWEB:
		return true
	}
	return false
}

// Transaction is a normalized payment transaction.
type Transaction struct {
	ID                string    `json:"id"`
	ExternalID        string    `json:"externalId"`
	Channel           Channel   `json:"channel"`
	CPF               string    `json:"-"` // never serialized raw; see MaskedCPF
	Amount            float64   `json:"amount"`
	PaymentMethod     string    `json:"paymentMethod,omitempty"`
	Installments      int       `json:"installments,omitempty"`
	IP                string    `json:"ip,omitempty"`
	DeviceFingerprint string    `json:"deviceFingerprint,omitempty"`
	CardBIN           string    `json:"cardBin,omitempty"`
	StoreID           string    `json:"storeId,omitempty"`
	TerminalID        string    `json:"terminalId,omitempty"`
	Portal            string    `json:"portal,omitempty"`
	OccurredAt        time.Time `json:"occurredAt"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Store persists transactions and serves the history queries the rule
// evaluators and the suspicious-activity detector depend on.
type Store interface {
	Create(ctx context.Context, txn *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	GetByExternalID(ctx context.Context, externalID string) (*Transaction, error)

	// CountBySubjectSince counts the subject's transactions in a trailing window.
	CountBySubjectSince(ctx context.Context, cpf string, since time.Time) (int, error)
	// AvgAmountSince returns the subject's mean transaction amount since the
	// given time. Returns 0 when the subject has no history in the window.
	AvgAmountSince(ctx context.Context, cpf string, since time.Time) (float64, error)
	// DeviceSeenForSubject reports whether the fingerprint was used by the
	// subject strictly before the given time.
	DeviceSeenForSubject(ctx context.Context, cpf, fingerprint string, before time.Time) (bool, error)
	// DistinctSubjectsByIPSince counts distinct CPFs sharing an IP in a window.
	DistinctSubjectsByIPSince(ctx context.Context, ip string, since time.Time) (int, error)
	// IPSeenForSubjectBefore reports whether the subject ever used the IP
	// strictly before the given time.
	IPSeenForSubjectBefore(ctx context.Context, cpf, ip string, before time.Time) (bool, error)
	// DistinctIPsBySubjectSince lists the distinct IPs a subject used in a window.
	DistinctIPsBySubjectSince(ctx context.Context, cpf string, since time.Time) ([]string, error)
	// ListSince lists transactions that occurred at or after the given time,
	// newest first, capped at limit.
	ListSince(ctx context.Context, since time.Time, limit int) ([]*Transaction, error)
}
