// Package threeds decides whether a scored transaction should escalate to
// 3-D Secure step-up authentication, and talks to the 3DS gateway when the
// answer is yes. The gateway is optional: failures are logged and the
// decision stands as produced by the engine.
package threeds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Recommendation thresholds.
const (
	scoreAlways  = 60
	amountAlways = 500.0
	scoreCombo   = 40
	amountCombo  = 200.0
)

// Errors
var (
	ErrUnavailable = errors.New("threeds: gateway unavailable")
)

// Recommendation is the step-up advice for one decision.
type Recommendation struct {
	Required bool   `json:"required"`
	Reason   string `json:"reason,omitempty"`
}

// Recommend applies the fixed escalation policy to a final score and amount.
func Recommend(score int, amount float64) Recommendation {
	switch {
	case score > scoreAlways:
		return Recommendation{Required: true, Reason: "score above step-up cutoff"}
	case amount > amountAlways:
		return Recommendation{Required: true, Reason: "amount above step-up cutoff"}
	case score >= scoreCombo && amount > amountCombo:
		return Recommendation{Required: true, Reason: "elevated score with elevated amount"}
	default:
		return Recommendation{}
	}
}

// Gateway initiates a 3DS challenge for a transaction.
type Gateway interface {
	Initiate(ctx context.Context, transactionID, cardBIN string, amount float64) (string, error)
}

// Client is the HTTP Gateway.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ Gateway = (*Client)(nil)

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{baseURL: baseURL, apiKey: apiKey, http: &http.Client{Timeout: timeout}}
}

type initiateRequest struct {
	TransactionID string  `json:"transactionId"`
	CardBIN       string  `json:"cardBin,omitempty"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
}

type initiateResponse struct {
	ChallengeID string `json:"challengeId"`
}

// Initiate asks the gateway to start a challenge and returns its challenge id.
func (c *Client) Initiate(ctx context.Context, transactionID, cardBIN string, amount float64) (string, error) {
	body, err := json.Marshal(initiateRequest{
		TransactionID: transactionID,
		CardBIN:       cardBIN,
		Amount:        amount,
		Currency:      "BRL",
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/challenges", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out initiateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out.ChallengeID, nil
}

// Nop is a Gateway for deployments without 3DS.
type Nop struct{}

var _ Gateway = Nop{}

func (Nop) Initiate(context.Context, string, string, float64) (string, error) {
	return "", fmt.Errorf("%w: not configured", ErrUnavailable)
}
