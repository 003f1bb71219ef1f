package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

const promoWindow = time.Minute

type WindowStore interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Limiter throttles promocode guesses so the code list cannot be brute
// forced through the chat dialog.
type Limiter struct {
	store     WindowStore
	perMinute int
}

func NewLimiter(store WindowStore, perMinute int) *Limiter {
	if perMinute < 0 {
		perMinute = 0
	}

	return &Limiter{
		store:     store,
		perMinute: perMinute,
	}
}

// AllowPromoAttempt records one guess and reports whether it may proceed.
// When denied, the first return value is how many seconds to wait.
func (l *Limiter) AllowPromoAttempt(ctx context.Context, subscriberID int64) (int64, bool, error) {
	if subscriberID <= 0 {
		return 0, false, fmt.Errorf("invalid subscriber id")
	}
	if l.store == nil {
		return 0, false, fmt.Errorf("rate limiter store is nil")
	}
	if l.perMinute <= 0 {
		return 0, true, nil
	}

	count, ttl, err := l.store.IncrementWindow(ctx, promoKey(subscriberID), promoWindow)
	if err != nil {
		return 0, false, err
	}
	if count > int64(l.perMinute) {
		return ceilSeconds(ttl), false, nil
	}

	return 0, true, nil
}

func promoKey(subscriberID int64) string {
	return "rate:promo:min:" + strconv.FormatInt(subscriberID, 10)
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	sec := int64(d / time.Second)
	if d%time.Second != 0 {
		sec++
	}
	if sec <= 0 {
		sec = 1
	}
	return sec
}
