package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// ErrLockTimeout means the subscriber's exclusive section could not be
// entered within the bounded wait. Transient: callers retry or report
// "try again later", they never block indefinitely.
var ErrLockTimeout = errors.New("subscriber lock acquire timeout")

const (
	lockPrefix       = "lock:subscriber:"
	runLockKey       = "lock:broadcast:run"
	lockPollInterval = 50 * time.Millisecond
)

// releaseScript deletes the lock only when it still holds our token, so an
// expired-and-reacquired lock is never released by the previous owner.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockRepo serializes all writers of one subscriber record. Every
// read-modify-write path (interaction, broadcast, reconciliation) takes
// this lock; different subscribers proceed in parallel.
type LockRepo struct {
	client *goredis.Client
	ttl    time.Duration
	wait   time.Duration
}

func NewLockRepo(client *goredis.Client, ttl, wait time.Duration) *LockRepo {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 3 * time.Second
	}
	return &LockRepo{client: client, ttl: ttl, wait: wait}
}

// Acquire blocks up to the configured wait for the subscriber's lock and
// returns a release func that is safe to call on every exit path.
func (r *LockRepo) Acquire(ctx context.Context, subscriberID int64) (func(), error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if subscriberID <= 0 {
		return nil, fmt.Errorf("invalid subscriber id")
	}

	key := lockPrefix + strconv.FormatInt(subscriberID, 10)
	token := uuid.NewString()
	deadline := time.Now().Add(r.wait)

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire subscriber lock: %w", err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, r.client, []string{key}, token).Err()
			}, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// TryLockRun claims the broadcast run lock without waiting. A false
// result means another instance already runs today's fan-out.
func (r *LockRepo) TryLockRun(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	if r.client == nil {
		return nil, false, fmt.Errorf("redis client is nil")
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, runLockKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, r.client, []string{runLockKey}, token).Err()
	}, true, nil
}
