// Package authhistory queries the authentication-history service for a
// subject's login profile and turns it into an additive score adjustment.
// The adjustment is capped at 50 points; an unavailable service contributes
// zero, never a penalty.
package authhistory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/lumapay/riskengine/internal/circuitbreaker"
	"github.com/lumapay/riskengine/internal/logging"
)

// MaxAdjustment caps the total auth-history contribution.
const MaxAdjustment = 50

// DefaultTimeout bounds a single lookup.
const DefaultTimeout = 2 * time.Second

const breakerKey = "authhistory"

// Errors
var (
	ErrUnavailable = errors.New("authhistory: service unavailable")
)

// Profile is the subject's authentication history snapshot.
type Profile struct {
	Locked             bool    `json:"locked"`
	RecentLockout      bool    `json:"recentLockout"`
	LockoutsLast30Days int     `json:"lockoutsLast30Days"`
	FailureRate        float64 `json:"failureRate"`
	FailedAttempts     int     `json:"failedAttempts"`
	MultipleIPs        bool    `json:"multipleIps"`
	MultipleDevices    bool    `json:"multipleDevices"`
	HasTrustedDevice   bool    `json:"hasTrustedDevice"`
}

// Thresholds parameterize the checklist items that compare against counts.
type Thresholds struct {
	FailureRate    float64
	FailedAttempts int
}

// Checklist item weights.
const (
	pointsLocked          = 30
	pointsRecentLockout   = 20
	pointsRepeatLockouts  = 15
	pointsFailureRate     = 15
	pointsFailedAttempts  = 10
	pointsMultipleIPs     = 10
	pointsMultipleDevices = 10
	pointsNoTrustedDevice = 5
)

// Adjustment scores p against the fixed checklist and caps at MaxAdjustment.
func Adjustment(p *Profile, t Thresholds) int {
	if p == nil {
		return 0
	}
	points := 0
	if p.Locked {
		points += pointsLocked
	}
	if p.RecentLockout {
		points += pointsRecentLockout
	}
	if p.LockoutsLast30Days >= 2 {
		points += pointsRepeatLockouts
	}
	if t.FailureRate > 0 && p.FailureRate >= t.FailureRate {
		points += pointsFailureRate
	}
	if t.FailedAttempts > 0 && p.FailedAttempts >= t.FailedAttempts {
		points += pointsFailedAttempts
	}
	if p.MultipleIPs {
		points += pointsMultipleIPs
	}
	if p.MultipleDevices {
		points += pointsMultipleDevices
	}
	if !p.HasTrustedDevice {
		points += pointsNoTrustedDevice
	}
	if points > MaxAdjustment {
		points = MaxAdjustment
	}
	return points
}

// Lookup fetches a subject's authentication profile.
type Lookup interface {
	Profile(ctx context.Context, cpf, channel string) (*Profile, error)
}

// Client is the HTTP Lookup against the authentication-history service.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.Breaker
}

var _ Lookup = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

func (c *Client) Profile(ctx context.Context, cpf, channel string) (*Profile, error) {
	if !c.breaker.Allow(breakerKey) {
		return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
	}

	u := c.baseURL + "/v1/accounts/" + url.PathEscape(cpf) + "/auth-profile"
	if channel != "" {
		u += "?channel=" + url.QueryEscape(channel)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure(breakerKey)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	// An unknown subject has a neutral profile; that is data, not an error.
	if resp.StatusCode == http.StatusNotFound {
		c.breaker.RecordSuccess(breakerKey)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		c.breaker.RecordFailure(breakerKey)
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var p Profile
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&p); err != nil {
		c.breaker.RecordFailure(breakerKey)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c.breaker.RecordSuccess(breakerKey)
	return &p, nil
}

// AdjustmentOrNeutral looks up the subject and scores the checklist,
// degrading every failure to a zero adjustment.
func AdjustmentOrNeutral(ctx context.Context, l Lookup, cpf, channel string, t Thresholds) int {
	p, err := l.Profile(ctx, cpf, channel)
	if err != nil {
		logging.FromContext(ctx).Warn("auth history unavailable, skipping adjustment",
			slog.String("channel", channel),
			slog.String("error", err.Error()))
		return 0
	}
	return Adjustment(p, t)
}

// Nop is a Lookup for deployments without an auth-history service.
type Nop struct{}

var _ Lookup = Nop{}

func (Nop) Profile(context.Context, string, string) (*Profile, error) {
	return nil, fmt.Errorf("%w: not configured", ErrUnavailable)
}
