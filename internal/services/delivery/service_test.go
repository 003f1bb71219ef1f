package delivery

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/alenakom/speechstar/internal/domain/enums"
	"github.com/alenakom/speechstar/internal/domain/model"
	pgrepo "github.com/alenakom/speechstar/internal/repo/postgres"
)

type subscriberStoreStub struct {
	sub      model.Subscriber
	getErr   error
	stamped  []string
	stampErr error
}

func (s *subscriberStoreStub) Get(_ context.Context, _ int64) (model.Subscriber, error) {
	return s.sub, s.getErr
}

func (s *subscriberStoreStub) StampDelivered(_ context.Context, _ int64, dayKey string) error {
	if s.stampErr != nil {
		return s.stampErr
	}
	s.stamped = append(s.stamped, dayKey)
	return nil
}

type lessonStoreStub struct {
	count   int
	lesson  model.Lesson
	getErr  error
	lastDay int
}

func (s *lessonStoreStub) GetByCohortDay(_ context.Context, _ enums.Cohort, day int) (model.Lesson, error) {
	s.lastDay = day
	if s.getErr != nil {
		return model.Lesson{}, s.getErr
	}
	return s.lesson, nil
}

func (s *lessonStoreStub) CountByCohort(_ context.Context, _ enums.Cohort) (int, error) {
	return s.count, nil
}

type lockerStub struct {
	acquired int
	released int
}

func (l *lockerStub) Acquire(_ context.Context, _ int64) (func(), error) {
	l.acquired++
	return func() { l.released++ }, nil
}

type transportStub struct {
	texts     []string
	imageURLs []string
	err       error
}

func (t *transportStub) SendLesson(_ context.Context, _ int64, text, imageURL string) error {
	if t.err != nil {
		return t.err
	}
	t.texts = append(t.texts, text)
	t.imageURLs = append(t.imageURLs, imageURL)
	return nil
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
}

func trialStartedDaysAgo(days int) *time.Time {
	t := fixedNow().Add(-time.Duration(days) * 24 * time.Hour)
	return &t
}

func newTestService(subs *subscriberStoreStub, lessons *lessonStoreStub, locker *lockerStub, tr *transportStub) *Service {
	svc := NewService(subs, lessons, locker, tr, nil, Config{
		TrialDays: 7,
		Location:  time.UTC,
	}, zap.NewNop())
	return svc.WithNow(fixedNow)
}

func TestDeliverNowSendsLessonAndStampsDay(t *testing.T) {
	subs := &subscriberStoreStub{sub: model.Subscriber{
		ID:             42,
		Cohort:         enums.CohortM9to14,
		TrialStartedAt: trialStartedDaysAgo(2),
	}}
	lessons := &lessonStoreStub{count: 30, lesson: model.Lesson{Title: "День 3", Body: "Упражнение"}}
	locker := &lockerStub{}
	tr := &transportStub{}

	outcome, err := newTestService(subs, lessons, locker, tr).DeliverNow(context.Background(), 42)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if outcome != OutcomeDelivered {
		t.Fatalf("outcome = %s, want %s", outcome, OutcomeDelivered)
	}
	if lessons.lastDay != 3 {
		t.Errorf("requested day %d, want 3", lessons.lastDay)
	}
	if len(subs.stamped) != 1 || subs.stamped[0] != "2026-03-10" {
		t.Errorf("stamped = %v, want one 2026-03-10", subs.stamped)
	}
	if locker.acquired != 1 || locker.released != 1 {
		t.Errorf("lock acquired=%d released=%d, want 1/1", locker.acquired, locker.released)
	}
}

func TestBroadcastSkipsSubscriberAlreadyServedToday(t *testing.T) {
	subs := &subscriberStoreStub{sub: model.Subscriber{
		ID:              42,
		Cohort:          enums.CohortM9to14,
		TrialStartedAt:  trialStartedDaysAgo(2),
		LastDeliveredOn: "2026-03-10",
	}}
	lessons := &lessonStoreStub{count: 30, lesson: model.Lesson{Title: "x", Body: "y"}}
	tr := &transportStub{}

	outcome, err := newTestService(subs, lessons, &lockerStub{}, tr).Broadcast(context.Background(), 42)
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if outcome != OutcomeAlreadyToday {
		t.Fatalf("outcome = %s, want %s", outcome, OutcomeAlreadyToday)
	}
	if len(tr.texts) != 0 {
		t.Errorf("transport called %d times, want 0", len(tr.texts))
	}
	if len(subs.stamped) != 0 {
		t.Errorf("stamped %v, want none", subs.stamped)
	}
}

func TestDeliverNowRepeatsLessonWithNote(t *testing.T) {
	subs := &subscriberStoreStub{sub: model.Subscriber{
		ID:              42,
		Cohort:          enums.CohortM9to14,
		TrialStartedAt:  trialStartedDaysAgo(2),
		LastDeliveredOn: "2026-03-10",
	}}
	lessons := &lessonStoreStub{count: 30, lesson: model.Lesson{Title: "x", Body: "y"}}
	tr := &transportStub{}

	outcome, err := newTestService(subs, lessons, &lockerStub{}, tr).DeliverNow(context.Background(), 42)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if outcome != OutcomeDelivered {
		t.Fatalf("outcome = %s, want %s", outcome, OutcomeDelivered)
	}
	if len(tr.texts) != 1 || tr.texts[0][:len(repeatNote)] != repeatNote {
		t.Errorf("repeat note missing from %q", tr.texts)
	}
}

func TestDeliveryDeniedOutcomes(t *testing.T) {
	expired := fixedNow().Add(-time.Hour)
	cases := map[string]struct {
		sub  model.Subscriber
		want Outcome
	}{
		"no cohort": {
			sub:  model.Subscriber{ID: 1},
			want: OutcomeNoCohort,
		},
		"trial ended": {
			sub: model.Subscriber{
				ID: 1, Cohort: enums.CohortM15to19,
				TrialStartedAt: trialStartedDaysAgo(8),
			},
			want: OutcomeTrialEnded,
		},
		"monthly expired": {
			sub: model.Subscriber{
				ID: 1, Cohort: enums.CohortM15to19,
				TrialStartedAt: trialStartedDaysAgo(40),
				Tier:           enums.TierMonthly,
				ExpiresAt:      &expired,
			},
			want: OutcomeExpired,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			subs := &subscriberStoreStub{sub: tc.sub}
			lessons := &lessonStoreStub{count: 30, lesson: model.Lesson{Title: "x", Body: "y"}}
			tr := &transportStub{}

			outcome, err := newTestService(subs, lessons, &lockerStub{}, tr).DeliverNow(context.Background(), 1)
			if err != nil {
				t.Fatalf("deliver: %v", err)
			}
			if outcome != tc.want {
				t.Fatalf("outcome = %s, want %s", outcome, tc.want)
			}
			if len(tr.texts) != 0 {
				t.Errorf("transport called on denied delivery")
			}
		})
	}
}

func TestDeliveryMissingLessonIsNotFatal(t *testing.T) {
	subs := &subscriberStoreStub{sub: model.Subscriber{
		ID: 42, Cohort: enums.CohortM9to14,
		TrialStartedAt: trialStartedDaysAgo(2),
	}}
	lessons := &lessonStoreStub{count: 30, getErr: pgrepo.ErrLessonNotFound}

	outcome, err := newTestService(subs, lessons, &lockerStub{}, &transportStub{}).DeliverNow(context.Background(), 42)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if outcome != OutcomeLessonMissing {
		t.Fatalf("outcome = %s, want %s", outcome, OutcomeLessonMissing)
	}
	if len(subs.stamped) != 0 {
		t.Errorf("stamped %v on missing lesson, want none", subs.stamped)
	}
}

func TestDeliveryDoesNotStampWhenTransportFails(t *testing.T) {
	subs := &subscriberStoreStub{sub: model.Subscriber{
		ID: 42, Cohort: enums.CohortM9to14,
		TrialStartedAt: trialStartedDaysAgo(2),
	}}
	lessons := &lessonStoreStub{count: 30, lesson: model.Lesson{Title: "x", Body: "y"}}
	tr := &transportStub{err: context.DeadlineExceeded}

	_, err := newTestService(subs, lessons, &lockerStub{}, tr).DeliverNow(context.Background(), 42)
	if err == nil {
		t.Fatal("expected transport error")
	}
	if len(subs.stamped) != 0 {
		t.Errorf("stamped %v after failed send, want none", subs.stamped)
	}
}
