package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alenakom/speechstar/internal/domain/enums"
	"github.com/alenakom/speechstar/internal/domain/model"
	"github.com/alenakom/speechstar/internal/domain/rules"
	pgrepo "github.com/alenakom/speechstar/internal/repo/postgres"
)

const (
	broadcastGreeting = "🌅 Доброе утро! Вот твое ежедневное задание:\n\n"
	repeatNote        = "🕘 На сегодня у тебя уже есть задание, следующие упражнения упадут в бот завтра утром.\n\n"

	imageURLTTL = 15 * time.Minute
)

// Outcome is the terminal classification of one delivery attempt. The
// values double as metrics labels.
type Outcome string

const (
	OutcomeDelivered     Outcome = "delivered"
	OutcomeNoCohort      Outcome = "no_cohort"
	OutcomeTrialEnded    Outcome = "trial_ended"
	OutcomeExpired       Outcome = "expired"
	OutcomeAlreadyToday  Outcome = "already_today"
	OutcomeLessonMissing Outcome = "lesson_missing"
)

type SubscriberStore interface {
	Get(ctx context.Context, id int64) (model.Subscriber, error)
	StampDelivered(ctx context.Context, id int64, dayKey string) error
}

type LessonStore interface {
	GetByCohortDay(ctx context.Context, cohort enums.Cohort, day int) (model.Lesson, error)
	CountByCohort(ctx context.Context, cohort enums.Cohort) (int, error)
}

type Locker interface {
	Acquire(ctx context.Context, subscriberID int64) (func(), error)
}

// Transport sends one composed lesson message. imageURL is empty for
// text-only lessons.
type Transport interface {
	SendLesson(ctx context.Context, chatID int64, text, imageURL string) error
}

// ImageResolver turns a lesson's object key into a URL the chat transport
// can fetch. Optional: without it lessons go out as plain text.
type ImageResolver interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Config struct {
	TrialDays int
	Location  *time.Location
}

type Service struct {
	subscribers SubscriberStore
	lessons     LessonStore
	locker      Locker
	transport   Transport
	images      ImageResolver
	cfg         Config
	now         func() time.Time
	logger      *zap.Logger
}

func NewService(
	subscribers SubscriberStore,
	lessons LessonStore,
	locker Locker,
	transport Transport,
	images ImageResolver,
	cfg Config,
	logger *zap.Logger,
) *Service {
	return &Service{
		subscribers: subscribers,
		lessons:     lessons,
		locker:      locker,
		transport:   transport,
		images:      images,
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

type deliverOpts struct {
	skipIfDeliveredToday bool
	greeting             string
}

// Broadcast delivers today's lesson as part of the morning fan-out. A
// subscriber who already received a lesson today is skipped.
func (s *Service) Broadcast(ctx context.Context, subscriberID int64) (Outcome, error) {
	return s.deliver(ctx, subscriberID, deliverOpts{
		skipIfDeliveredToday: true,
		greeting:             broadcastGreeting,
	})
}

// DeliverNow delivers today's lesson on demand. If the subscriber already
// got a lesson today it is re-sent with a note instead of being skipped.
func (s *Service) DeliverNow(ctx context.Context, subscriberID int64) (Outcome, error) {
	return s.deliver(ctx, subscriberID, deliverOpts{})
}

func (s *Service) deliver(ctx context.Context, subscriberID int64, opts deliverOpts) (Outcome, error) {
	release, err := s.locker.Acquire(ctx, subscriberID)
	if err != nil {
		return "", fmt.Errorf("acquire subscriber lock: %w", err)
	}
	defer release()

	sub, err := s.subscribers.Get(ctx, subscriberID)
	if err != nil {
		return "", fmt.Errorf("get subscriber: %w", err)
	}

	catalogLen := 0
	if sub.Cohort.Selected() {
		catalogLen, err = s.lessons.CountByCohort(ctx, sub.Cohort)
		if err != nil {
			return "", fmt.Errorf("count lessons: %w", err)
		}
	}

	now := s.now()
	decision, err := rules.EvaluateAccess(sub, catalogLen, s.cfg.TrialDays, now)
	if err != nil {
		return "", fmt.Errorf("evaluate access: %w", err)
	}
	if !decision.Allowed {
		switch decision.Reason {
		case rules.DeniedNoCohort:
			return OutcomeNoCohort, nil
		case rules.DeniedTrialEnded:
			return OutcomeTrialEnded, nil
		default:
			return OutcomeExpired, nil
		}
	}

	dayKey := rules.DeliveryDayKey(now, s.cfg.Location)
	alreadyToday := sub.LastDeliveredOn == dayKey
	if alreadyToday && opts.skipIfDeliveredToday {
		return OutcomeAlreadyToday, nil
	}

	lesson, err := s.lessons.GetByCohortDay(ctx, sub.Cohort, decision.DayIndex)
	if err != nil {
		if errors.Is(err, pgrepo.ErrLessonNotFound) {
			s.logger.Warn("lesson missing for catalog day",
				zap.String("cohort", string(sub.Cohort)),
				zap.Int("day", decision.DayIndex))
			return OutcomeLessonMissing, nil
		}
		return "", fmt.Errorf("get lesson: %w", err)
	}

	text := opts.greeting
	if alreadyToday {
		text = repeatNote
	}
	text += lesson.Title + "\n\n" + lesson.Body

	imageURL := ""
	if lesson.ImageKey != "" && s.images != nil {
		imageURL, err = s.images.PresignGet(ctx, lesson.ImageKey, imageURLTTL)
		if err != nil {
			s.logger.Warn("presign lesson image, sending text only",
				zap.String("key", lesson.ImageKey), zap.Error(err))
			imageURL = ""
		}
	}

	if err := s.transport.SendLesson(ctx, subscriberID, text, imageURL); err != nil {
		return "", fmt.Errorf("send lesson: %w", err)
	}

	if err := s.subscribers.StampDelivered(ctx, subscriberID, dayKey); err != nil {
		return "", fmt.Errorf("stamp delivery: %w", err)
	}
	return OutcomeDelivered, nil
}
