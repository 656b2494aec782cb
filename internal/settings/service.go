package settings

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Well-known configuration keys.
const (
	KeyWhitelistDiscountPerItem = "risk.whitelist_discount_per_item"
	KeyWhitelistDiscountMax     = "risk.whitelist_discount_max"
	KeyOracleFallbackScore      = "risk.oracle_fallback_score"
	KeyApproveThreshold         = "risk.approve_threshold"
	KeyReviewThreshold          = "risk.review_threshold"
	KeyRejectThreshold          = "risk.reject_threshold"

	KeyAuthFailureRateThreshold    = "auth.failure_rate_threshold"
	KeyAuthFailedAttemptsThreshold = "auth.failed_attempts_threshold"

	KeyPromotionMinApprovals = "whitelist.min_approvals"
	KeyPromotionWindowDays   = "whitelist.window_days"
	KeyWhitelistStaleDays    = "whitelist.stale_days"

	KeyDetectorMultiIPMin         = "detector.multi_ip_min"
	KeyDetectorMultiIPWindowMin   = "detector.multi_ip_window_minutes"
	KeyDetectorFailureBurstMin    = "detector.failure_burst_min"
	KeyDetectorFailureBurstWindow = "detector.failure_burst_window_minutes"
	KeyDetectorVelocityMin        = "detector.velocity_min"
	KeyDetectorVelocityWindowMin  = "detector.velocity_window_minutes"
	KeyDetectorOffHoursStart      = "detector.offhours_start_hour"
	KeyDetectorOffHoursEnd        = "detector.offhours_end_hour"
	KeyEscalatorRecencyMinutes    = "escalator.recency_minutes"
	KeyDetectorLookbackMinutes    = "detector.lookback_minutes"
)

// Defaults applied when a key is absent or unreadable.
const (
	DefaultWhitelistDiscountPerItem = 20
	DefaultWhitelistDiscountMax     = 40
	DefaultOracleFallbackScore      = 50
	DefaultApproveThreshold         = 30
	DefaultReviewThreshold          = 31
	DefaultRejectThreshold          = 70

	DefaultAuthFailureRateThreshold    = 0.5
	DefaultAuthFailedAttemptsThreshold = 5

	DefaultPromotionMinApprovals = 10
	DefaultPromotionWindowDays   = 30
	DefaultWhitelistStaleDays    = 90

	DefaultDetectorMultiIPMin         = 3
	DefaultDetectorMultiIPWindowMin   = 10
	DefaultDetectorFailureBurstMin    = 5
	DefaultDetectorFailureBurstWindow = 5
	DefaultDetectorVelocityMin        = 10
	DefaultDetectorVelocityWindowMin  = 5
	DefaultDetectorOffHoursStart      = 2
	DefaultDetectorOffHoursEnd        = 5
	DefaultDetectorLookbackMinutes    = 10
	DefaultEscalatorRecencyMinutes    = 15
)

// EngineSnapshot is the configuration the decision pipeline reads once per
// evaluation. Fetching it up front keeps a single evaluation immune to
// mid-flight configuration changes.
type EngineSnapshot struct {
	WhitelistDiscountPerItem int
	WhitelistDiscountMax     int
	OracleFallbackScore      int
	ApproveThreshold         int
	ReviewThreshold          int
	RejectThreshold          int

	AuthFailureRateThreshold    float64
	AuthFailedAttemptsThreshold int
}

// PromoterSnapshot holds the auto-whitelist promotion parameters.
type PromoterSnapshot struct {
	MinApprovals int
	Window       time.Duration
	StaleAfter   time.Duration
}

// DetectorSnapshot holds the suspicious-activity signature parameters.
type DetectorSnapshot struct {
	Lookback           time.Duration
	MultiIPMin         int
	MultiIPWindow      time.Duration
	FailureBurstMin    int
	FailureBurstWindow time.Duration
	VelocityMin        int
	VelocityWindow     time.Duration
	OffHoursStart      int
	OffHoursEnd        int
}

// Service reads typed settings with per-key defaults. Missing keys fall back
// silently; unreadable values (type mismatch, parse failure) fall back with
// an error log so a bad write never stalls the pipeline.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a settings service over the given store.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Store exposes the underlying store for the admin surface.
func (s *Service) Store() Store { return s.store }

// IntOr returns the setting as an int, or def when absent or unreadable.
func (s *Service) IntOr(ctx context.Context, key string, def int) int {
	setting, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error("settings read failed", "key", key, "error", err)
		}
		return def
	}
	v, err := setting.Int()
	if err != nil {
		s.logger.Error("settings value unusable, using default", "key", key, "error", err)
		return def
	}
	return v
}

// FloatOr returns the setting as a float, or def when absent or unreadable.
func (s *Service) FloatOr(ctx context.Context, key string, def float64) float64 {
	setting, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error("settings read failed", "key", key, "error", err)
		}
		return def
	}
	v, err := setting.Float()
	if err != nil {
		s.logger.Error("settings value unusable, using default", "key", key, "error", err)
		return def
	}
	return v
}

// BoolOr returns the setting as a bool, or def when absent or unreadable.
func (s *Service) BoolOr(ctx context.Context, key string, def bool) bool {
	setting, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error("settings read failed", "key", key, "error", err)
		}
		return def
	}
	v, err := setting.Bool()
	if err != nil {
		s.logger.Error("settings value unusable, using default", "key", key, "error", err)
		return def
	}
	return v
}

// Engine fetches the pipeline snapshot.
func (s *Service) Engine(ctx context.Context) EngineSnapshot {
	return EngineSnapshot{
		WhitelistDiscountPerItem:    s.IntOr(ctx, KeyWhitelistDiscountPerItem, DefaultWhitelistDiscountPerItem),
		WhitelistDiscountMax:        s.IntOr(ctx, KeyWhitelistDiscountMax, DefaultWhitelistDiscountMax),
		OracleFallbackScore:         s.IntOr(ctx, KeyOracleFallbackScore, DefaultOracleFallbackScore),
		ApproveThreshold:            s.IntOr(ctx, KeyApproveThreshold, DefaultApproveThreshold),
		ReviewThreshold:             s.IntOr(ctx, KeyReviewThreshold, DefaultReviewThreshold),
		RejectThreshold:             s.IntOr(ctx, KeyRejectThreshold, DefaultRejectThreshold),
		AuthFailureRateThreshold:    s.FloatOr(ctx, KeyAuthFailureRateThreshold, DefaultAuthFailureRateThreshold),
		AuthFailedAttemptsThreshold: s.IntOr(ctx, KeyAuthFailedAttemptsThreshold, DefaultAuthFailedAttemptsThreshold),
	}
}

// Promoter fetches the auto-whitelist promotion snapshot.
func (s *Service) Promoter(ctx context.Context) PromoterSnapshot {
	return PromoterSnapshot{
		MinApprovals: s.IntOr(ctx, KeyPromotionMinApprovals, DefaultPromotionMinApprovals),
		Window:       time.Duration(s.IntOr(ctx, KeyPromotionWindowDays, DefaultPromotionWindowDays)) * 24 * time.Hour,
		StaleAfter:   time.Duration(s.IntOr(ctx, KeyWhitelistStaleDays, DefaultWhitelistStaleDays)) * 24 * time.Hour,
	}
}

// Detector fetches the signature parameter snapshot.
func (s *Service) Detector(ctx context.Context) DetectorSnapshot {
	return DetectorSnapshot{
		Lookback:           time.Duration(s.IntOr(ctx, KeyDetectorLookbackMinutes, DefaultDetectorLookbackMinutes)) * time.Minute,
		MultiIPMin:         s.IntOr(ctx, KeyDetectorMultiIPMin, DefaultDetectorMultiIPMin),
		MultiIPWindow:      time.Duration(s.IntOr(ctx, KeyDetectorMultiIPWindowMin, DefaultDetectorMultiIPWindowMin)) * time.Minute,
		FailureBurstMin:    s.IntOr(ctx, KeyDetectorFailureBurstMin, DefaultDetectorFailureBurstMin),
		FailureBurstWindow: time.Duration(s.IntOr(ctx, KeyDetectorFailureBurstWindow, DefaultDetectorFailureBurstWindow)) * time.Minute,
		VelocityMin:        s.IntOr(ctx, KeyDetectorVelocityMin, DefaultDetectorVelocityMin),
		VelocityWindow:     time.Duration(s.IntOr(ctx, KeyDetectorVelocityWindowMin, DefaultDetectorVelocityWindowMin)) * time.Minute,
		OffHoursStart:      s.IntOr(ctx, KeyDetectorOffHoursStart, DefaultDetectorOffHoursStart),
		OffHoursEnd:        s.IntOr(ctx, KeyDetectorOffHoursEnd, DefaultDetectorOffHoursEnd),
	}
}

// EscalatorRecency fetches the escalator's activity recency window.
func (s *Service) EscalatorRecency(ctx context.Context) time.Duration {
	return time.Duration(s.IntOr(ctx, KeyEscalatorRecencyMinutes, DefaultEscalatorRecencyMinutes)) * time.Minute
}
