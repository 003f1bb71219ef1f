package payments

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/alenakom/speechstar/internal/domain/enums"
	"github.com/alenakom/speechstar/internal/domain/model"
	"github.com/alenakom/speechstar/internal/services/delivery"
	"github.com/alenakom/speechstar/internal/services/promocode"
)

// mutexLocker serializes the exclusive sections the way the redis lock
// does and records whether two holders ever overlapped.
type mutexLocker struct {
	mu      sync.Mutex
	held    atomic.Int32
	overlap atomic.Bool
}

func (l *mutexLocker) Acquire(_ context.Context, _ int64) (func(), error) {
	l.mu.Lock()
	if l.held.Add(1) > 1 {
		l.overlap.Store(true)
	}
	return func() {
		l.held.Add(-1)
		l.mu.Unlock()
	}, nil
}

func (l *mutexLocker) locked() bool {
	return l.held.Load() > 0
}

// sharedStore backs both services with one record and rejects any
// mutation made outside the subscriber lock.
type sharedStore struct {
	mu       sync.Mutex
	sub      model.Subscriber
	lockHeld func() bool
	t        *testing.T
}

func (s *sharedStore) Get(_ context.Context, _ int64) (model.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub, nil
}

func (s *sharedStore) SetTier(_ context.Context, _ int64, tier enums.Tier, expiresAt *time.Time) error {
	if !s.lockHeld() {
		s.t.Error("tier written outside the subscriber lock")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sub.Tier = tier
	s.sub.ExpiresAt = expiresAt
	return nil
}

func (s *sharedStore) SetPendingCharge(_ context.Context, _ int64, charge model.PendingCharge) error {
	if !s.lockHeld() {
		s.t.Error("pending charge written outside the subscriber lock")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sub.PendingCharge = &charge
	return nil
}

func (s *sharedStore) ClearPendingCharge(_ context.Context, _ int64) error {
	if !s.lockHeld() {
		s.t.Error("pending charge cleared outside the subscriber lock")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sub.PendingCharge = nil
	return nil
}

func (s *sharedStore) snapshot() model.Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub
}

type openLimiter struct{}

func (openLimiter) AllowPromoAttempt(_ context.Context, _ int64) (int64, bool, error) {
	return 0, true, nil
}

type knownCodes struct{}

func (knownCodes) Exists(_ context.Context, _ string) (bool, error) {
	return true, nil
}

type countingDeliverer struct {
	calls atomic.Int32
}

func (d *countingDeliverer) DeliverNow(_ context.Context, _ int64) (delivery.Outcome, error) {
	d.calls.Add(1)
	return delivery.OutcomeDelivered, nil
}

// A promocode redemption racing a payment reconcile on one subscriber
// must resolve as two serialized sections: either the code is accepted
// and the confirmed payment lands on top of it, or the payment lands
// first and the code is rejected as already subscribed. The record may
// never end up with a granted tier still paired with its pending charge.
func TestSimultaneousRedeemAndReconcileSerialize(t *testing.T) {
	trialStart := fixedNow().Add(-2 * 24 * time.Hour)
	locker := &mutexLocker{}
	store := &sharedStore{
		sub: model.Subscriber{
			ID:             42,
			Cohort:         enums.CohortM9to14,
			TrialStartedAt: &trialStart,
			PendingCharge:  pendingMonthly(),
		},
		lockHeld: locker.locked,
		t:        t,
	}
	deliverer := &countingDeliverer{}

	paySvc := NewService(store, locker, &gatewayStub{}, &reviewStub{}, deliverer, testConfig(), zap.NewNop()).WithNow(fixedNow)
	promoSvc := promocode.NewService(store, knownCodes{}, locker, openLimiter{}, deliverer, zap.NewNop()).WithNow(fixedNow)

	var (
		wg           sync.WaitGroup
		redeemRes    promocode.Result
		redeemErr    error
		reconcileRes Result
		reconcileErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		redeemRes, redeemErr = promoSvc.Redeem(context.Background(), 42, "SPEECH10")
	}()
	go func() {
		defer wg.Done()
		reconcileRes, reconcileErr = paySvc.Reconcile(context.Background(), 42, "ch-1", enums.ChargeStatusSucceeded, 15000)
	}()
	wg.Wait()

	if redeemErr != nil || reconcileErr != nil {
		t.Fatalf("redeem err = %v, reconcile err = %v", redeemErr, reconcileErr)
	}
	if locker.overlap.Load() {
		t.Fatal("both exclusive sections were held at once")
	}
	if reconcileRes != ResultApplied {
		t.Fatalf("reconcile = %s, want applied", reconcileRes)
	}
	if redeemRes.Status != promocode.StatusRedeemed && redeemRes.Status != promocode.StatusAlreadySubscribed {
		t.Fatalf("redeem = %s, want redeemed or already_subscribed", redeemRes.Status)
	}

	final := store.snapshot()
	if final.PendingCharge != nil {
		t.Fatalf("pending charge must be cleared, got %+v", final.PendingCharge)
	}
	if final.Tier != enums.TierMonthly {
		t.Fatalf("final tier = %s, want monthly (the confirmed payment is the last write)", final.Tier)
	}
	if n := deliverer.calls.Load(); n < 1 || n > 2 {
		t.Fatalf("deliveries = %d, want 1 or 2", n)
	}
}
