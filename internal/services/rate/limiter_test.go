package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	redrepo "github.com/alenakom/speechstar/internal/repo/redis"
)

func TestLimiterBlocksRepeatedPromoGuesses(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	repo := redrepo.NewRateRepo(client)
	limiter := NewLimiter(repo, 3)

	ctx := context.Background()
	subscriberID := int64(42)

	for i := 0; i < 3; i++ {
		retryAfter, allowed, err := limiter.AllowPromoAttempt(ctx, subscriberID)
		if err != nil {
			t.Fatalf("attempt #%d: %v", i+1, err)
		}
		if !allowed || retryAfter != 0 {
			t.Fatalf("unexpected result on attempt #%d: allowed=%v retry_after=%d", i+1, allowed, retryAfter)
		}
	}

	retryAfter, allowed, err := limiter.AllowPromoAttempt(ctx, subscriberID)
	if err != nil {
		t.Fatalf("attempt #4: %v", err)
	}
	if allowed {
		t.Fatalf("expected limiter block on fourth guess in one minute")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retry_after, got %d", retryAfter)
	}

	mr.FastForward(61 * time.Second)

	retryAfter, allowed, err = limiter.AllowPromoAttempt(ctx, subscriberID)
	if err != nil {
		t.Fatalf("attempt after window: %v", err)
	}
	if !allowed || retryAfter != 0 {
		t.Fatalf("unexpected result after fast forward: allowed=%v retry_after=%d", allowed, retryAfter)
	}
}

func TestLimiterIsPerSubscriber(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	repo := redrepo.NewRateRepo(client)
	limiter := NewLimiter(repo, 1)

	ctx := context.Background()

	if _, allowed, err := limiter.AllowPromoAttempt(ctx, 1); err != nil || !allowed {
		t.Fatalf("first subscriber first guess: allowed=%v err=%v", allowed, err)
	}
	if _, allowed, err := limiter.AllowPromoAttempt(ctx, 1); err != nil || allowed {
		t.Fatalf("first subscriber second guess should block: allowed=%v err=%v", allowed, err)
	}
	if _, allowed, err := limiter.AllowPromoAttempt(ctx, 2); err != nil || !allowed {
		t.Fatalf("second subscriber should not share the window: allowed=%v err=%v", allowed, err)
	}
}

func newMiniRedisClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}

	client := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})

	return mr, client
}
