// Package notify delivers review notifications to the manual-review team's
// webhook. Delivery is best-effort: the engine has already persisted the
// decision by the time a notification goes out.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lumapay/riskengine/internal/logging"
	"github.com/lumapay/riskengine/internal/metrics"
	"github.com/lumapay/riskengine/internal/retry"
)

// ReviewEvent is the payload posted when a decision lands in REVIEW.
type ReviewEvent struct {
	DecisionID     string    `json:"decisionId"`
	TransactionID  string    `json:"transactionId"`
	Score          int       `json:"score"`
	Reasons        []string  `json:"reasons,omitempty"`
	TriggeredRules []string  `json:"triggeredRules,omitempty"`
	MaskedCPF      string    `json:"cpf"`
	Amount         float64   `json:"amount"`
	Channel        string    `json:"channel"`
	DecidedAt      time.Time `json:"decidedAt"`
}

// Notifier announces decisions that need a human.
type Notifier interface {
	NotifyReview(ctx context.Context, ev ReviewEvent) error
}

// Webhook posts review events to a fixed URL with retries.
type Webhook struct {
	url  string
	http *http.Client
}

var _ Notifier = (*Webhook)(nil)

func NewWebhook(url string) *Webhook {
	return &Webhook{url: url, http: &http.Client{Timeout: 5 * time.Second}}
}

func (w *Webhook) NotifyReview(ctx context.Context, ev ReviewEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	err = retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if resp.StatusCode >= 500 {
			return fmt.Errorf("notify: webhook returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return retry.Permanent(fmt.Errorf("notify: webhook rejected event: %d", resp.StatusCode))
		}
		return nil
	})
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		logging.FromContext(ctx).Error("review notification failed",
			slog.String("decision_id", ev.DecisionID),
			slog.String("error", err.Error()))
		return err
	}
	metrics.NotificationsTotal.WithLabelValues("delivered").Inc()
	return nil
}

// Nop discards notifications; used when no webhook is configured.
type Nop struct{}

var _ Notifier = Nop{}

func (Nop) NotifyReview(ctx context.Context, ev ReviewEvent) error {
	logging.FromContext(ctx).Debug("review notification skipped, no webhook configured",
		slog.String("decision_id", ev.DecisionID))
	return nil
}
