package payments

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alenakom/speechstar/internal/domain/enums"
	"github.com/alenakom/speechstar/internal/domain/model"
	"github.com/alenakom/speechstar/internal/infra/metrics"
	"github.com/alenakom/speechstar/internal/infra/queue"
	"github.com/alenakom/speechstar/internal/infra/yookassa"
	"github.com/alenakom/speechstar/internal/services/delivery"
)

// Result classifies one reconcile pass over a charge status report.
type Result string

const (
	ResultApplied            Result = "applied"
	ResultPending            Result = "pending"
	ResultCanceled           Result = "canceled"
	ResultNoMatchingCharge   Result = "no_matching_charge"
	ResultUnrecognizedAmount Result = "unrecognized_amount"
)

type SubscriberStore interface {
	Get(ctx context.Context, id int64) (model.Subscriber, error)
	SetTier(ctx context.Context, id int64, tier enums.Tier, expiresAt *time.Time) error
	SetPendingCharge(ctx context.Context, id int64, charge model.PendingCharge) error
	ClearPendingCharge(ctx context.Context, id int64) error
}

type Locker interface {
	Acquire(ctx context.Context, subscriberID int64) (func(), error)
}

type Gateway interface {
	CreateCharge(ctx context.Context, amountMinor, subscriberID int64, description, returnURL string) (yookassa.Charge, error)
	GetChargeStatus(ctx context.Context, chargeID string) (yookassa.ChargeState, error)
}

type ReviewPublisher interface {
	PublishReview(ctx context.Context, ev queue.ReviewEvent) error
}

type Deliverer interface {
	DeliverNow(ctx context.Context, subscriberID int64) (delivery.Outcome, error)
}

type Config struct {
	MonthlyAmountMinor  int64
	LifetimeAmountMinor int64
	MonthlyDuration     time.Duration
	ReturnURL           string
}

type Service struct {
	subscribers SubscriberStore
	locker      Locker
	gateway     Gateway
	reviews     ReviewPublisher
	deliverer   Deliverer
	cfg         Config
	now         func() time.Time
	logger      *zap.Logger
}

func NewService(
	subscribers SubscriberStore,
	locker Locker,
	gateway Gateway,
	reviews ReviewPublisher,
	deliverer Deliverer,
	cfg Config,
	logger *zap.Logger,
) *Service {
	return &Service{
		subscribers: subscribers,
		locker:      locker,
		gateway:     gateway,
		reviews:     reviews,
		deliverer:   deliverer,
		cfg:         cfg,
		now:         time.Now,
		logger:      logger,
	}
}

// WithNow overrides the service clock. Tests only.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) tierAmount(tier enums.Tier) (int64, string, error) {
	switch tier {
	case enums.TierMonthly:
		return s.cfg.MonthlyAmountMinor, "Подписка на месяц", nil
	case enums.TierLifetime:
		return s.cfg.LifetimeAmountMinor, "Подписка навсегда", nil
	default:
		return 0, "", fmt.Errorf("tier %q is not purchasable", tier)
	}
}

// CreateCharge registers a charge with the payment provider and remembers
// it as the subscriber's pending charge. A later charge for the same
// subscriber replaces the earlier pending one. On gateway failure nothing
// is persisted.
func (s *Service) CreateCharge(ctx context.Context, subscriberID int64, tier enums.Tier) (string, error) {
	amountMinor, description, err := s.tierAmount(tier)
	if err != nil {
		return "", err
	}

	release, err := s.locker.Acquire(ctx, subscriberID)
	if err != nil {
		return "", fmt.Errorf("acquire subscriber lock: %w", err)
	}
	defer release()

	charge, err := s.gateway.CreateCharge(ctx, amountMinor, subscriberID, description, s.cfg.ReturnURL)
	if err != nil {
		return "", fmt.Errorf("create charge: %w", err)
	}

	if err := s.subscribers.SetPendingCharge(ctx, subscriberID, model.PendingCharge{
		ChargeID:    charge.ID,
		Tier:        tier,
		AmountMinor: amountMinor,
	}); err != nil {
		return "", fmt.Errorf("save pending charge: %w", err)
	}

	s.logger.Info("charge created",
		zap.Int64("subscriber_id", subscriberID),
		zap.String("charge_id", charge.ID),
		zap.String("tier", string(tier)))
	return charge.RedirectURL, nil
}

// CheckPending polls the provider for the subscriber's pending charge and
// reconciles the reported state. Without a pending charge it reports
// ResultNoMatchingCharge.
func (s *Service) CheckPending(ctx context.Context, subscriberID int64) (Result, error) {
	sub, err := s.subscribers.Get(ctx, subscriberID)
	if err != nil {
		return "", fmt.Errorf("get subscriber: %w", err)
	}
	if sub.PendingCharge == nil {
		return ResultNoMatchingCharge, nil
	}

	state, err := s.gateway.GetChargeStatus(ctx, sub.PendingCharge.ChargeID)
	if err != nil {
		return "", fmt.Errorf("poll charge status: %w", err)
	}

	return s.Reconcile(ctx, subscriberID, sub.PendingCharge.ChargeID, state.Status, state.AmountMinor)
}

// Reconcile applies one charge status report. It is safe to call any
// number of times with the same report: a report whose charge id no
// longer matches the pending charge is a no-op, so replays after the
// first successful application change nothing.
func (s *Service) Reconcile(ctx context.Context, subscriberID int64, chargeID string, status enums.ChargeStatus, amountMinor int64) (Result, error) {
	result, err := s.reconcileLocked(ctx, subscriberID, chargeID, status, amountMinor)
	if err != nil {
		return result, err
	}
	metrics.ReconcileResults.WithLabelValues(string(result)).Inc()

	if result == ResultApplied {
		// Deliver outside the lock: the delivery path takes it again.
		if _, err := s.deliverer.DeliverNow(ctx, subscriberID); err != nil {
			s.logger.Warn("lesson delivery after payment failed",
				zap.Int64("subscriber_id", subscriberID), zap.Error(err))
		}
	}
	return result, nil
}

func (s *Service) reconcileLocked(ctx context.Context, subscriberID int64, chargeID string, status enums.ChargeStatus, amountMinor int64) (Result, error) {
	release, err := s.locker.Acquire(ctx, subscriberID)
	if err != nil {
		return "", fmt.Errorf("acquire subscriber lock: %w", err)
	}
	defer release()

	sub, err := s.subscribers.Get(ctx, subscriberID)
	if err != nil {
		return "", fmt.Errorf("get subscriber: %w", err)
	}
	if sub.PendingCharge == nil || sub.PendingCharge.ChargeID != chargeID {
		return ResultNoMatchingCharge, nil
	}

	switch status {
	case enums.ChargeStatusPending:
		return ResultPending, nil

	case enums.ChargeStatusCanceled:
		if err := s.subscribers.ClearPendingCharge(ctx, subscriberID); err != nil {
			return "", fmt.Errorf("clear canceled charge: %w", err)
		}
		return ResultCanceled, nil

	case enums.ChargeStatusSucceeded:
		return s.applySucceeded(ctx, subscriberID, chargeID, amountMinor)

	default:
		return "", fmt.Errorf("unknown charge status %q", status)
	}
}

// applySucceeded resolves the tier from the paid amount, not from the
// pending charge: the amount is what the provider confirmed was paid.
// An amount matching no tariff grants nothing; it raises one manual
// review event and clears the pending charge, so replays of the same
// webhook land as NoMatchingCharge instead of duplicate events.
func (s *Service) applySucceeded(ctx context.Context, subscriberID int64, chargeID string, amountMinor int64) (Result, error) {
	var (
		tier      enums.Tier
		expiresAt *time.Time
	)
	switch amountMinor {
	case s.cfg.MonthlyAmountMinor:
		tier = enums.TierMonthly
		t := s.now().Add(s.cfg.MonthlyDuration)
		expiresAt = &t
	case s.cfg.LifetimeAmountMinor:
		tier = enums.TierLifetime
	default:
		if err := s.reviews.PublishReview(ctx, queue.ReviewEvent{
			SubscriberID: subscriberID,
			ChargeID:     chargeID,
			AmountMinor:  amountMinor,
			Reason:       "amount matches no tariff",
			OccurredAt:   s.now(),
		}); err != nil {
			s.logger.Error("publish manual review event",
				zap.String("charge_id", chargeID), zap.Error(err))
		}
		if err := s.subscribers.ClearPendingCharge(ctx, subscriberID); err != nil {
			return "", fmt.Errorf("clear unrecognized charge: %w", err)
		}
		s.logger.Warn("succeeded charge with unrecognized amount",
			zap.Int64("subscriber_id", subscriberID),
			zap.String("charge_id", chargeID),
			zap.Int64("amount_minor", amountMinor))
		return ResultUnrecognizedAmount, nil
	}

	if err := s.subscribers.SetTier(ctx, subscriberID, tier, expiresAt); err != nil {
		return "", fmt.Errorf("grant tier: %w", err)
	}
	if err := s.subscribers.ClearPendingCharge(ctx, subscriberID); err != nil {
		return "", fmt.Errorf("clear applied charge: %w", err)
	}

	s.logger.Info("payment applied",
		zap.Int64("subscriber_id", subscriberID),
		zap.String("charge_id", chargeID),
		zap.String("tier", string(tier)))
	return ResultApplied, nil
}
