package onboarding

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/alenakom/speechstar/internal/domain/enums"
	"github.com/alenakom/speechstar/internal/domain/model"
	redrepo "github.com/alenakom/speechstar/internal/repo/redis"
)

type subscriberStoreStub struct {
	sub        model.Subscriber
	getErr     error
	setCohorts []enums.Cohort
	setTrials  []time.Time
	lockHeld   func() bool
	t          *testing.T
}

func (s *subscriberStoreStub) GetOrCreate(_ context.Context, _ int64) (model.Subscriber, error) {
	return s.sub, s.getErr
}

func (s *subscriberStoreStub) SetCohortAndTrial(_ context.Context, _ int64, cohort enums.Cohort, trialStart time.Time) error {
	if s.lockHeld != nil && !s.lockHeld() {
		s.t.Fatal("cohort written outside the subscriber lock")
	}
	s.setCohorts = append(s.setCohorts, cohort)
	s.setTrials = append(s.setTrials, trialStart)
	return nil
}

type lockerStub struct {
	acquired int
	released int
	err      error
}

func (l *lockerStub) Acquire(_ context.Context, _ int64) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return func() { l.released++ }, nil
}

func (l *lockerStub) held() bool {
	return l.acquired > l.released
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
}

func newService(store *subscriberStoreStub, locker *lockerStub) *Service {
	return NewService(store, locker, zap.NewNop()).WithNow(fixedNow)
}

func TestSelectCohortFirstSelectionRunsUnderLock(t *testing.T) {
	locker := &lockerStub{}
	store := &subscriberStoreStub{
		sub:      model.Subscriber{ID: 42},
		lockHeld: locker.held,
		t:        t,
	}

	status, err := newService(store, locker).SelectCohort(context.Background(), 42, enums.CohortM9to14)
	if err != nil {
		t.Fatalf("select cohort: %v", err)
	}
	if status != StatusSelected {
		t.Fatalf("status = %s, want selected", status)
	}
	if len(store.setCohorts) != 1 || store.setCohorts[0] != enums.CohortM9to14 {
		t.Fatalf("expected one cohort write, got %v", store.setCohorts)
	}
	if !store.setTrials[0].Equal(fixedNow()) {
		t.Fatalf("trial start = %v, want clock time", store.setTrials[0])
	}
	if locker.acquired != 1 || locker.released != 1 {
		t.Fatalf("lock acquired/released = %d/%d, want 1/1", locker.acquired, locker.released)
	}
}

func TestSelectCohortLockedAfterBurnedTrial(t *testing.T) {
	trialStart := fixedNow().Add(-10 * 24 * time.Hour)
	locker := &lockerStub{}
	store := &subscriberStoreStub{
		sub: model.Subscriber{
			ID:             42,
			Cohort:         enums.CohortM9to14,
			TrialStartedAt: &trialStart,
			Tier:           enums.TierNone,
		},
		t: t,
	}

	status, err := newService(store, locker).SelectCohort(context.Background(), 42, enums.CohortM15to19)
	if err != nil {
		t.Fatalf("select cohort: %v", err)
	}
	if status != StatusAgeLocked {
		t.Fatalf("status = %s, want age_locked", status)
	}
	if len(store.setCohorts) != 0 {
		t.Fatalf("locked selection must not write, got %v", store.setCohorts)
	}
}

func TestSelectCohortSameCohortReselectAllowed(t *testing.T) {
	trialStart := fixedNow().Add(-10 * 24 * time.Hour)
	store := &subscriberStoreStub{
		sub: model.Subscriber{
			ID:             42,
			Cohort:         enums.CohortM9to14,
			TrialStartedAt: &trialStart,
			Tier:           enums.TierNone,
		},
		t: t,
	}

	status, err := newService(store, &lockerStub{}).SelectCohort(context.Background(), 42, enums.CohortM9to14)
	if err != nil {
		t.Fatalf("select cohort: %v", err)
	}
	if status != StatusSelected {
		t.Fatalf("status = %s, want selected", status)
	}
}

func TestSelectCohortActiveTierMaySwitch(t *testing.T) {
	trialStart := fixedNow().Add(-40 * 24 * time.Hour)
	store := &subscriberStoreStub{
		sub: model.Subscriber{
			ID:             42,
			Cohort:         enums.CohortM9to14,
			TrialStartedAt: &trialStart,
			Tier:           enums.TierLifetime,
		},
		t: t,
	}

	status, err := newService(store, &lockerStub{}).SelectCohort(context.Background(), 42, enums.CohortM15to19)
	if err != nil {
		t.Fatalf("select cohort: %v", err)
	}
	if status != StatusSelected {
		t.Fatalf("status = %s, want selected", status)
	}
	if store.setCohorts[0] != enums.CohortM15to19 {
		t.Fatalf("cohort write = %s, want m15_19", store.setCohorts[0])
	}
}

func TestSelectCohortLockTimeoutPropagates(t *testing.T) {
	locker := &lockerStub{err: redrepo.ErrLockTimeout}
	store := &subscriberStoreStub{sub: model.Subscriber{ID: 42}, t: t}

	_, err := newService(store, locker).SelectCohort(context.Background(), 42, enums.CohortM9to14)
	if !errors.Is(err, redrepo.ErrLockTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}
	if len(store.setCohorts) != 0 {
		t.Fatalf("timed out selection must not write, got %v", store.setCohorts)
	}
}

func TestCanChangeCohort(t *testing.T) {
	trialStart := fixedNow().Add(-10 * 24 * time.Hour)
	expires := fixedNow().Add(24 * time.Hour)

	cases := map[string]struct {
		sub  model.Subscriber
		want bool
	}{
		"fresh subscriber":  {model.Subscriber{ID: 1}, true},
		"burned trial":      {model.Subscriber{ID: 2, TrialStartedAt: &trialStart, Tier: enums.TierNone}, false},
		"active monthly":    {model.Subscriber{ID: 3, TrialStartedAt: &trialStart, Tier: enums.TierMonthly, ExpiresAt: &expires}, true},
		"promocode forever": {model.Subscriber{ID: 4, TrialStartedAt: &trialStart, Tier: enums.TierPromocode}, true},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			store := &subscriberStoreStub{sub: tc.sub, t: t}
			got, err := newService(store, &lockerStub{}).CanChangeCohort(context.Background(), tc.sub.ID)
			if err != nil {
				t.Fatalf("can change cohort: %v", err)
			}
			if got != tc.want {
				t.Fatalf("can change = %v, want %v", got, tc.want)
			}
		})
	}
}
