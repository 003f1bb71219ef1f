package promocode

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/alenakom/speechstar/internal/domain/enums"
	"github.com/alenakom/speechstar/internal/domain/model"
	"github.com/alenakom/speechstar/internal/services/delivery"
)

// Status classifies the outcome of one redemption attempt.
type Status string

const (
	StatusRedeemed          Status = "redeemed"
	StatusInvalidCode       Status = "invalid_code"
	StatusAlreadySubscribed Status = "already_subscribed"
	StatusRateLimited       Status = "rate_limited"
)

type Result struct {
	Status        Status
	RetryAfterSec int64
}

type SubscriberStore interface {
	Get(ctx context.Context, id int64) (model.Subscriber, error)
	SetTier(ctx context.Context, id int64, tier enums.Tier, expiresAt *time.Time) error
}

type CodeStore interface {
	Exists(ctx context.Context, code string) (bool, error)
}

type Locker interface {
	Acquire(ctx context.Context, subscriberID int64) (func(), error)
}

type Limiter interface {
	AllowPromoAttempt(ctx context.Context, subscriberID int64) (int64, bool, error)
}

type Deliverer interface {
	DeliverNow(ctx context.Context, subscriberID int64) (delivery.Outcome, error)
}

type Service struct {
	subscribers SubscriberStore
	codes       CodeStore
	locker      Locker
	limiter     Limiter
	deliverer   Deliverer
	now         func() time.Time
	logger      *zap.Logger
}

func NewService(
	subscribers SubscriberStore,
	codes CodeStore,
	locker Locker,
	limiter Limiter,
	deliverer Deliverer,
	logger *zap.Logger,
) *Service {
	return &Service{
		subscribers: subscribers,
		codes:       codes,
		locker:      locker,
		limiter:     limiter,
		deliverer:   deliverer,
		now:         time.Now,
		logger:      logger,
	}
}

// WithNow overrides the service clock. Tests only.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// Redeem grants the lifetime promocode tier when raw names a known code.
// Codes are matched case-insensitively and may be redeemed by any number
// of subscribers.
func (s *Service) Redeem(ctx context.Context, subscriberID int64, raw string) (Result, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return Result{Status: StatusInvalidCode}, nil
	}

	retryAfter, allowed, err := s.limiter.AllowPromoAttempt(ctx, subscriberID)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit promo attempt: %w", err)
	}
	if !allowed {
		return Result{Status: StatusRateLimited, RetryAfterSec: retryAfter}, nil
	}

	result, err := s.redeemLocked(ctx, subscriberID, code)
	if err != nil || result.Status != StatusRedeemed {
		return result, err
	}

	// Deliver outside the lock: the delivery path takes it again.
	if _, err := s.deliverer.DeliverNow(ctx, subscriberID); err != nil {
		s.logger.Warn("lesson delivery after promocode redemption failed",
			zap.Int64("subscriber_id", subscriberID), zap.Error(err))
	}
	return result, nil
}

func (s *Service) redeemLocked(ctx context.Context, subscriberID int64, code string) (Result, error) {
	release, err := s.locker.Acquire(ctx, subscriberID)
	if err != nil {
		return Result{}, fmt.Errorf("acquire subscriber lock: %w", err)
	}
	defer release()

	sub, err := s.subscribers.Get(ctx, subscriberID)
	if err != nil {
		return Result{}, fmt.Errorf("get subscriber: %w", err)
	}
	if sub.Tier.Active(s.now(), sub.ExpiresAt) {
		return Result{Status: StatusAlreadySubscribed}, nil
	}

	known, err := s.codes.Exists(ctx, code)
	if err != nil {
		return Result{}, fmt.Errorf("check promocode: %w", err)
	}
	if !known {
		return Result{Status: StatusInvalidCode}, nil
	}

	if err := s.subscribers.SetTier(ctx, subscriberID, enums.TierPromocode, nil); err != nil {
		return Result{}, fmt.Errorf("set promocode tier: %w", err)
	}

	s.logger.Info("promocode redeemed",
		zap.Int64("subscriber_id", subscriberID), zap.String("code", code))
	return Result{Status: StatusRedeemed}, nil
}
