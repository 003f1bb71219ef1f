package botapp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/alenakom/speechstar/internal/config"
	"github.com/alenakom/speechstar/internal/infra/httpclient"
	"github.com/alenakom/speechstar/internal/infra/queue"
	s3infra "github.com/alenakom/speechstar/internal/infra/s3"
	tginfra "github.com/alenakom/speechstar/internal/infra/telegram"
	"github.com/alenakom/speechstar/internal/infra/yookassa"
	"github.com/alenakom/speechstar/internal/jobs/broadcast"
	pgrepo "github.com/alenakom/speechstar/internal/repo/postgres"
	redrepo "github.com/alenakom/speechstar/internal/repo/redis"
	deliverysvc "github.com/alenakom/speechstar/internal/services/delivery"
	onboardingsvc "github.com/alenakom/speechstar/internal/services/onboarding"
	paymentssvc "github.com/alenakom/speechstar/internal/services/payments"
	promosvc "github.com/alenakom/speechstar/internal/services/promocode"
	ratesvc "github.com/alenakom/speechstar/internal/services/rate"
)

const promoAttemptsPerMinute = 5

type App struct {
	cfg    config.Config
	logger *zap.Logger

	postgres *pgxpool.Pool
	redis    *goredis.Client
	queue    *queue.RabbitMQ
	bot      *tginfra.Bot

	subscriberRepo *pgrepo.SubscriberRepo
	lessonRepo     *pgrepo.LessonRepo

	deliveryService   *deliverysvc.Service
	onboardingService *onboardingsvc.Service
	promoService      *promosvc.Service
	paymentsService   *paymentssvc.Service
	scheduler         *broadcast.Scheduler
}

// lessonTransport adapts the telegram bot to the delivery service: every
// lesson goes out with a single "menu" button under it.
type lessonTransport struct {
	bot *tginfra.Bot
}

func (t lessonTransport) SendLesson(ctx context.Context, chatID int64, text, imageURL string) error {
	rows := [][]tginfra.Button{{{Text: buttonMenu, Data: callbackMainMenu}}}
	if imageURL != "" {
		return t.bot.SendPhotoURL(ctx, chatID, imageURL, text, rows)
	}
	return t.bot.SendTextWithButtons(ctx, chatID, text, rows)
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("init postgres for bot app: %w", err)
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)

	bot, err := tginfra.NewBot(cfg.Bot.Token)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}

	var images deliverysvc.ImageResolver
	if strings.TrimSpace(cfg.S3.Endpoint) != "" {
		s3Client, err := s3infra.NewClient(s3infra.Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("init s3 for bot app: %w", err)
		}
		images = s3infra.NewStorage(s3Client, cfg.S3.Bucket)
	} else {
		logger.Warn("s3 endpoint is empty, lessons go out without illustrations")
	}

	var gateway paymentssvc.Gateway = yookassa.Disabled{}
	if strings.TrimSpace(cfg.Payments.ShopID) != "" && strings.TrimSpace(cfg.Payments.SecretKey) != "" {
		client, err := yookassa.NewClient(cfg.Payments.ShopID, cfg.Payments.SecretKey,
			httpclient.New(cfg.Payments.RequestTimeout))
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("init payment gateway: %w", err)
		}
		gateway = client
	} else {
		logger.Warn("payment credentials are empty, purchases disabled")
	}

	var (
		amqpQueue *queue.RabbitMQ
		reviews   paymentssvc.ReviewPublisher = queue.NoopReviewPublisher{}
	)
	if strings.TrimSpace(cfg.Queue.URL) != "" {
		amqpQueue, err = queue.NewRabbitMQ(cfg.Queue.URL)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("init amqp queue: %w", err)
		}
		reviews = queue.NewReviewPublisher(amqpQueue)
	} else {
		logger.Warn("amqp url is empty, manual review events are dropped")
	}

	subscriberRepo := pgrepo.NewSubscriberRepo(pool)
	lessonRepo := pgrepo.NewLessonRepo(pool)
	promocodeRepo := pgrepo.NewPromocodeRepo(pool)
	lockRepo := redrepo.NewLockRepo(redisClient, cfg.Broadcast.LockTTL, cfg.Broadcast.LockWait)
	rateRepo := redrepo.NewRateRepo(redisClient)

	deliveryService := deliverysvc.NewService(
		subscriberRepo,
		lessonRepo,
		lockRepo,
		lessonTransport{bot: bot},
		images,
		deliverysvc.Config{
			TrialDays: cfg.Subscription.TrialDays,
			Location:  cfg.BroadcastLocation(),
		},
		logger,
	)

	onboardingService := onboardingsvc.NewService(subscriberRepo, lockRepo, logger)

	promoService := promosvc.NewService(
		subscriberRepo,
		promocodeRepo,
		lockRepo,
		ratesvc.NewLimiter(rateRepo, promoAttemptsPerMinute),
		deliveryService,
		logger,
	)

	paymentsService := paymentssvc.NewService(
		subscriberRepo,
		lockRepo,
		gateway,
		reviews,
		deliveryService,
		paymentssvc.Config{
			MonthlyAmountMinor:  cfg.Subscription.MonthlyAmountMinor,
			LifetimeAmountMinor: cfg.Subscription.LifetimeAmountMinor,
			MonthlyDuration:     cfg.Subscription.MonthlyDuration,
			ReturnURL:           cfg.Payments.ReturnURL,
		},
		logger,
	)

	broadcastJob := broadcast.NewJob(
		subscriberRepo,
		deliveryService,
		lockRepo,
		cfg.Broadcast.Workers,
		0,
		logger,
	)
	scheduler, err := broadcast.NewScheduler(
		broadcastJob,
		cfg.Broadcast.Hour,
		cfg.Broadcast.Minute,
		cfg.BroadcastLocation(),
		logger,
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init broadcast scheduler: %w", err)
	}

	return &App{
		cfg:               cfg,
		logger:            logger,
		postgres:          pool,
		redis:             redisClient,
		queue:             amqpQueue,
		bot:               bot,
		subscriberRepo:    subscriberRepo,
		lessonRepo:        lessonRepo,
		deliveryService:   deliveryService,
		onboardingService: onboardingService,
		promoService:      promoService,
		paymentsService:   paymentsService,
		scheduler:         scheduler,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.logger.Info("bot app started")

	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	defer a.scheduler.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.bot.Listen(ctx, tginfra.Handlers{
			OnCommand:  a.handleCommand,
			OnText:     a.handleText,
			OnCallback: a.handleCallback,
		})
	}()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("bot app stopped")
			return nil
		case err := <-errCh:
			if err == nil || errors.Is(err, context.Canceled) {
				continue
			}
			return err
		}
	}
}

func (a *App) Close() {
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.queue != nil {
		_ = a.queue.Close()
	}
}
