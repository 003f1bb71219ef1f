package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler fires the broadcast job every day at the configured local
// time, typically 09:00 Moscow.
type Scheduler struct {
	cron   *cron.Cron
	job    *Job
	spec   string
	logger *zap.Logger
}

func NewScheduler(job *Job, hour, minute int, loc *time.Location, logger *zap.Logger) (*Scheduler, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("invalid broadcast time %02d:%02d", hour, minute)
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		job:    job,
		spec:   fmt.Sprintf("%d %d * * *", minute, hour),
		logger: logger,
	}, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, 25*time.Minute)
		defer cancel()

		if err := s.job.Run(runCtx); err != nil {
			s.logger.Error("broadcast run failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule broadcast: %w", err)
	}

	s.cron.Start()
	s.logger.Info("broadcast scheduler started", zap.String("spec", s.spec))
	return nil
}

// Stop waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
