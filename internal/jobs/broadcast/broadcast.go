package broadcast

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alenakom/speechstar/internal/infra/metrics"
	"github.com/alenakom/speechstar/internal/services/delivery"
)

type SubscriberLister interface {
	ListIDs(ctx context.Context) ([]int64, error)
}

type Deliverer interface {
	Broadcast(ctx context.Context, subscriberID int64) (delivery.Outcome, error)
}

// RunLocker keeps concurrent instances from fanning out the same morning
// twice.
type RunLocker interface {
	TryLockRun(ctx context.Context, ttl time.Duration) (func(), bool, error)
}

type Job struct {
	subscribers SubscriberLister
	deliverer   Deliverer
	runLocker   RunLocker
	workers     int
	runTTL      time.Duration
	logger      *zap.Logger
}

func NewJob(
	subscribers SubscriberLister,
	deliverer Deliverer,
	runLocker RunLocker,
	workers int,
	runTTL time.Duration,
	logger *zap.Logger,
) *Job {
	if workers <= 0 {
		workers = 8
	}
	if runTTL <= 0 {
		runTTL = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		subscribers: subscribers,
		deliverer:   deliverer,
		runLocker:   runLocker,
		workers:     workers,
		runTTL:      runTTL,
		logger:      logger,
	}
}

// Run fans today's lesson out to every known subscriber. One subscriber's
// failure never aborts the run; it is logged, counted, and the fan-out
// moves on.
func (j *Job) Run(ctx context.Context) error {
	release, ok, err := j.runLocker.TryLockRun(ctx, j.runTTL)
	if err != nil {
		return fmt.Errorf("claim broadcast run: %w", err)
	}
	if !ok {
		j.logger.Info("broadcast run already claimed by another instance")
		return nil
	}
	defer release()

	ids, err := j.subscribers.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("list subscribers: %w", err)
	}

	start := time.Now()
	var group errgroup.Group
	group.SetLimit(j.workers)

	for _, id := range ids {
		id := id
		group.Go(func() error {
			outcome, err := j.deliverer.Broadcast(ctx, id)
			if err != nil {
				metrics.BroadcastOutcomes.WithLabelValues("failed").Inc()
				j.logger.Warn("broadcast delivery failed",
					zap.Int64("subscriber_id", id), zap.Error(err))
				return nil
			}
			metrics.BroadcastOutcomes.WithLabelValues(string(outcome)).Inc()
			return nil
		})
	}

	_ = group.Wait()
	metrics.BroadcastRuns.Inc()

	j.logger.Info("broadcast run completed",
		zap.Int("subscribers", len(ids)),
		zap.Duration("took", time.Since(start)))
	return nil
}
