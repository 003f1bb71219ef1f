package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/alenakom/speechstar/internal/config"
	"github.com/alenakom/speechstar/internal/infra/httpclient"
	"github.com/alenakom/speechstar/internal/infra/queue"
	s3infra "github.com/alenakom/speechstar/internal/infra/s3"
	tginfra "github.com/alenakom/speechstar/internal/infra/telegram"
	"github.com/alenakom/speechstar/internal/infra/yookassa"
	pgrepo "github.com/alenakom/speechstar/internal/repo/postgres"
	redrepo "github.com/alenakom/speechstar/internal/repo/redis"
	deliverysvc "github.com/alenakom/speechstar/internal/services/delivery"
	paymentssvc "github.com/alenakom/speechstar/internal/services/payments"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	queue      *queue.RabbitMQ
	httpRouter http.Handler
}

// disabledTransport stands in when no bot token is configured: the send
// fails, so the delivery stamp is never set and the lesson is not lost.
type disabledTransport struct{}

func (disabledTransport) SendLesson(context.Context, int64, string, string) error {
	return fmt.Errorf("chat transport is not configured")
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("init postgres for api app: %w", err)
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)

	var transport deliverysvc.Transport = disabledTransport{}
	if strings.TrimSpace(cfg.Bot.Token) != "" {
		bot, err := tginfra.NewBot(cfg.Bot.Token)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("init telegram bot for api app: %w", err)
		}
		transport = webhookTransport{bot: bot}
	} else {
		log.Warn("BOT_TOKEN is empty, lessons after webhook payments are deferred to the next broadcast")
	}

	var images deliverysvc.ImageResolver
	if strings.TrimSpace(cfg.S3.Endpoint) != "" {
		if s3Client, err := s3infra.NewClient(s3infra.Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			UseSSL:    cfg.S3.UseSSL,
		}); err != nil {
			log.Warn("s3 init failed, continuing in degraded mode", zap.Error(err))
		} else {
			images = s3infra.NewStorage(s3Client, cfg.S3.Bucket)
		}
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
		log.Warn("amqp url is empty, manual review events are dropped")
	}

	subscriberRepo := pgrepo.NewSubscriberRepo(pool)
	lessonRepo := pgrepo.NewLessonRepo(pool)
	lockRepo := redrepo.NewLockRepo(redisClient, cfg.Broadcast.LockTTL, cfg.Broadcast.LockWait)

	deliveryService := deliverysvc.NewService(
		subscriberRepo,
		lessonRepo,
		lockRepo,
		transport,
		images,
		deliverysvc.Config{
			TrialDays: cfg.Subscription.TrialDays,
			Location:  cfg.BroadcastLocation(),
		},
		log,
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
		log,
	)

	RegisterRoutes(r, Dependencies{
		PaymentsService: paymentsService,
		Logger:          log,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		postgres:   pool,
		redis:      redisClient,
		queue:      amqpQueue,
		httpRouter: r,
	}, nil
}

// webhookTransport sends the post-payment lesson with the same menu
// button the bot process uses.
type webhookTransport struct {
	bot *tginfra.Bot
}

func (t webhookTransport) SendLesson(ctx context.Context, chatID int64, text, imageURL string) error {
	rows := [][]tginfra.Button{{{Text: "📋 Меню", Data: "main_menu"}}}
	if imageURL != "" {
		return t.bot.SendPhotoURL(ctx, chatID, imageURL, text, rows)
	}
	return t.bot.SendTextWithButtons(ctx, chatID, text, rows)
}

func (a *App) Run() error {
	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}
	if a.queue != nil {
		if err := a.queue.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}
