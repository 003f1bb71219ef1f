package onboarding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alenakom/speechstar/internal/domain/enums"
	"github.com/alenakom/speechstar/internal/domain/model"
)

// Status classifies the outcome of one cohort selection attempt.
type Status string

const (
	StatusSelected  Status = "selected"
	StatusAgeLocked Status = "age_locked"
)

type SubscriberStore interface {
	GetOrCreate(ctx context.Context, id int64) (model.Subscriber, error)
	SetCohortAndTrial(ctx context.Context, id int64, cohort enums.Cohort, trialStart time.Time) error
}

type Locker interface {
	Acquire(ctx context.Context, subscriberID int64) (func(), error)
}

type Service struct {
	subscribers SubscriberStore
	locker      Locker
	now         func() time.Time
	logger      *zap.Logger
}

func NewService(subscribers SubscriberStore, locker Locker, logger *zap.Logger) *Service {
	return &Service{
		subscribers: subscribers,
		locker:      locker,
		now:         time.Now,
		logger:      logger,
	}
}

// WithNow overrides the service clock. Tests only.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// SelectCohort sets the subscriber's cohort, starting the trial on the
// first selection. The trial clock is burned to the chosen age: once it
// has started, switching cohorts requires an active subscription.
// The check-and-set runs under the subscriber lock so a concurrent
// redemption or payment reconcile sees either the old record or the new
// one, never a half-applied mix.
func (s *Service) SelectCohort(ctx context.Context, subscriberID int64, cohort enums.Cohort) (Status, error) {
	release, err := s.locker.Acquire(ctx, subscriberID)
	if err != nil {
		return "", err
	}
	defer release()

	sub, err := s.subscribers.GetOrCreate(ctx, subscriberID)
	if err != nil {
		return "", fmt.Errorf("register subscriber: %w", err)
	}

	now := s.now()
	if sub.TrialStartedAt != nil && sub.Cohort != cohort && !sub.Tier.Active(now, sub.ExpiresAt) {
		return StatusAgeLocked, nil
	}

	if err := s.subscribers.SetCohortAndTrial(ctx, subscriberID, cohort, now); err != nil {
		return "", fmt.Errorf("set cohort: %w", err)
	}
	s.logger.Info("cohort selected",
		zap.Int64("subscriber_id", subscriberID), zap.String("cohort", string(cohort)))
	return StatusSelected, nil
}

// CanChangeCohort reports whether the age-selection keyboard may be
// offered at all. Read-only; the authoritative check happens again in
// SelectCohort under the lock.
func (s *Service) CanChangeCohort(ctx context.Context, subscriberID int64) (bool, error) {
	sub, err := s.subscribers.GetOrCreate(ctx, subscriberID)
	if err != nil {
		return false, fmt.Errorf("register subscriber: %w", err)
	}
	return sub.TrialStartedAt == nil || sub.Tier.Active(s.now(), sub.ExpiresAt), nil
}
