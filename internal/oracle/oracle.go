// Package oracle calls the external scoring service that produces the base
// risk score for a transaction. The oracle is advisory: any failure (timeout,
// transport error, bad payload, open breaker) degrades to a neutral score so
// the decision pipeline keeps running.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lumapay/riskengine/internal/circuitbreaker"
	"github.com/lumapay/riskengine/internal/logging"
	"github.com/lumapay/riskengine/internal/metrics"
	"github.com/lumapay/riskengine/internal/transaction"
)

// NeutralScore is returned whenever the oracle cannot be consulted.
const NeutralScore = 50

// DefaultTimeout bounds a single oracle call.
const DefaultTimeout = 3 * time.Second

const breakerKey = "oracle"

// Errors
var (
	ErrUnavailable = errors.New("oracle: service unavailable")
	ErrBadResponse = errors.New("oracle: malformed response")
)

// Scorer produces a base score in [0,100] for a transaction.
type Scorer interface {
	Score(ctx context.Context, txn *transaction.Transaction) (int, error)
}

// Client is the HTTP Scorer backed by the scoring service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *circuitbreaker.Breaker
}

var _ Scorer = (*Client)(nil)

// NewClient builds a Client. A zero timeout falls back to DefaultTimeout.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

type scoreRequest struct {
	Device  devicePayload  `json:"device"`
	Event   eventPayload   `json:"event"`
	Account accountPayload `json:"account"`
	Billing billingPayload `json:"billing"`
	Order   orderPayload   `json:"order"`
	Payment paymentPayload `json:"payment"`
}

type devicePayload struct {
	Fingerprint string `json:"fingerprint,omitempty"`
	IP          string `json:"ip,omitempty"`
}

type eventPayload struct {
	Type      string `json:"type"`
	Channel   string `json:"channel"`
	Timestamp string `json:"timestamp"`
}

type accountPayload struct {
	Document string `json:"document"`
}

type billingPayload struct {
	Document string `json:"document"`
}

type orderPayload struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type paymentPayload struct {
	IIN string `json:"iin,omitempty"`
}

type scoreResponse struct {
	Score *int `json:"score"`
}

// Score posts the transaction to the oracle and returns its score clamped to
// [0,100]. Callers that want the neutral fallback behavior should use
// ScoreOrNeutral.
func (c *Client) Score(ctx context.Context, txn *transaction.Transaction) (int, error) {
	if !c.breaker.Allow(breakerKey) {
		return 0, fmt.Errorf("%w: circuit open", ErrUnavailable)
	}

	payload := scoreRequest{
		Device: devicePayload{Fingerprint: txn.DeviceFingerprint, IP: txn.IP},
		Event: eventPayload{
			Type:      "transaction",
			Channel:   string(txn.Channel),
			Timestamp: txn.OccurredAt.UTC().Format(time.RFC3339),
		},
		Account: accountPayload{Document: txn.CPF},
		Billing: billingPayload{Document: txn.CPF},
		Order:   orderPayload{Amount: txn.Amount, Currency: "BRL"},
		Payment: paymentPayload{IIN: txn.CardBIN},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/score", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure(breakerKey)
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.breaker.RecordFailure(breakerKey)
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out scoreResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		c.breaker.RecordFailure(breakerKey)
		return 0, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if out.Score == nil {
		c.breaker.RecordFailure(breakerKey)
		return 0, fmt.Errorf("%w: missing score", ErrBadResponse)
	}

	c.breaker.RecordSuccess(breakerKey)
	score := *out.Score
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, nil
}

// ScoreOrNeutral wraps s, mapping every failure to the configured neutral
// fallback and counting it. The bool reports whether the score came from the
// oracle.
func ScoreOrNeutral(ctx context.Context, s Scorer, txn *transaction.Transaction, fallback int) (int, bool) {
	score, err := s.Score(ctx, txn)
	if err != nil {
		reason := "error"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			reason = "timeout"
		case errors.Is(err, ErrBadResponse):
			reason = "bad_response"
		case errors.Is(err, ErrUnavailable):
			reason = "unavailable"
		}
		metrics.OracleFallbacksTotal.WithLabelValues(reason).Inc()
		logging.FromContext(ctx).Warn("oracle unavailable, using neutral score",
			slog.String("transaction_id", txn.ID),
			slog.String("reason", reason),
			slog.String("error", err.Error()))
		return fallback, false
	}
	return score, true
}

// Nop is a Scorer that always fails, for deployments without an oracle.
type Nop struct{}

var _ Scorer = Nop{}

func (Nop) Score(context.Context, *transaction.Transaction) (int, error) {
	return 0, fmt.Errorf("%w: not configured", ErrUnavailable)
}
