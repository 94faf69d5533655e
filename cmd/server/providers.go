package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"jan-server/services/research-api/internal/config"
	"jan-server/services/research-api/internal/domain/chat"
	"jan-server/services/research-api/internal/domain/conversation"
	"jan-server/services/research-api/internal/domain/delivery"
	"jan-server/services/research-api/internal/domain/liveness"
	"jan-server/services/research-api/internal/domain/ratelimit"
	"jan-server/services/research-api/internal/infrastructure/auth"
	"jan-server/services/research-api/internal/infrastructure/crontab"
	"jan-server/services/research-api/internal/infrastructure/database"
	"jan-server/services/research-api/internal/infrastructure/inference"
	"jan-server/services/research-api/internal/infrastructure/kvstore"
	"jan-server/services/research-api/internal/infrastructure/mailer"
	"jan-server/services/research-api/internal/infrastructure/queue"
	conversationrepo "jan-server/services/research-api/internal/infrastructure/repository/conversation"
	"jan-server/services/research-api/internal/interfaces/httpserver"
	"jan-server/services/research-api/internal/interfaces/httpserver/handlers"
	"jan-server/services/research-api/internal/worker"
)

func newDatabaseConfig(cfg *config.Config) database.Config {
	return database.Config{
		DSN:             cfg.GetDatabaseWriteDSN(),
		ReadDSN:         cfg.GetDatabaseReadDSN(),
		MaxIdleConns:    cfg.DBMaxIdleConns,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
		LogLevel:        gormlogger.Warn,
	}
}

func newGormDB(ctx context.Context, dbCfg database.Config, log zerolog.Logger) (*gorm.DB, func(), error) {
	db, err := database.Connect(dbCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.Migrate(ctx, db, log); err != nil {
		_ = database.Close(db)
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	cleanup := func() {
		if err := database.Close(db); err != nil {
			log.Error().Err(err).Msg("close database")
		}
	}
	return db, cleanup, nil
}

func newRedisStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*kvstore.RedisStore, func(), error) {
	store, err := kvstore.NewRedisStore(ctx, cfg.RedisURL, log)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("close redis")
		}
	}
	return store, cleanup, nil
}

func newInferenceClient(cfg *config.Config, log zerolog.Logger) (*inference.Client, error) {
	return inference.NewClient(inference.Config{
		BaseURL:        cfg.InferenceBaseURL,
		AccessKey:      cfg.InferenceAccessKey,
		DefaultModel:   cfg.InferenceModel,
		RequestTimeout: cfg.InferenceRequestTimeout,
		RetryAttempts:  cfg.InferenceRetryAttempts,
		RetryDelay:     cfg.InferenceRetryDelay,
		Schedule:       inference.DefaultPollSchedule(cfg.InferenceTimeout),
	}, log)
}

func newConversationService(db *gorm.DB, client *inference.Client, log zerolog.Logger) *conversation.Service {
	return conversation.NewService(
		conversationrepo.NewRepository(db),
		conversationrepo.NewMessageRepository(db),
		client,
		log,
	)
}

func newTracker(store *kvstore.RedisStore, cfg *config.Config, log zerolog.Logger) *liveness.Tracker {
	return liveness.NewTracker(store, cfg.HeartbeatTTL, log)
}

func newLimiter(store *kvstore.RedisStore, cfg *config.Config, log zerolog.Logger) *ratelimit.Limiter {
	return ratelimit.NewLimiter(store, cfg.RateLimitMaxRequests, log)
}

func newDispatcher(store *kvstore.RedisStore, cfg *config.Config, log zerolog.Logger) (*delivery.Dispatcher, error) {
	mail, err := mailer.New(mailer.Config{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.EmailFrom,
		FromName:  cfg.EmailFromName,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("create mailer: %w", err)
	}
	return delivery.NewDispatcher(delivery.NewQueue(store, log), mail, log), nil
}

// newBroker returns nil when no broker is configured.
func newBroker(cfg *config.Config, log zerolog.Logger) (*queue.RabbitMQ, func()) {
	if cfg.RabbitMQURL == "" {
		log.Warn().Msg("RABBITMQ_URL is empty, job queue disabled")
		return nil, func() {}
	}
	broker := queue.NewRabbitMQ(queue.Config{
		URL:            cfg.RabbitMQURL,
		Queue:          cfg.RabbitMQQueue,
		ResultExchange: cfg.RabbitMQResultExchange,
		PoolSize:       cfg.RabbitMQPoolSize,
	}, log)
	cleanup := func() {
		if err := broker.Close(); err != nil {
			log.Error().Err(err).Msg("close rabbitmq")
		}
	}
	return broker, cleanup
}

func newRunner(
	client *inference.Client,
	conversations *conversation.Service,
	tracker *liveness.Tracker,
	limiter *ratelimit.Limiter,
	broker *queue.RabbitMQ,
	dispatcher *delivery.Dispatcher,
	cfg *config.Config,
	log zerolog.Logger,
) *chat.Runner {
	var results chat.ResultPublisher
	if broker != nil {
		results = broker
	}
	return chat.NewRunner(client, conversations, tracker, limiter, results, dispatcher, cfg.InferenceTimeout, log)
}

func newRecoveryManager(
	tracker *liveness.Tracker,
	client *inference.Client,
	conversations *conversation.Service,
	runner *chat.Runner,
	store *kvstore.RedisStore,
	log zerolog.Logger,
) *liveness.Manager {
	return liveness.NewManager(tracker, client, conversations, runner, store, log)
}

func newChatService(
	conversations *conversation.Service,
	limiter *ratelimit.Limiter,
	runner *chat.Runner,
	broker *queue.RabbitMQ,
	dispatcher *delivery.Dispatcher,
	cfg *config.Config,
	log zerolog.Logger,
) *chat.Service {
	var publisher chat.JobPublisher
	if broker != nil {
		publisher = broker
	}
	return chat.NewService(conversations, limiter, runner, publisher, dispatcher, cfg.InferenceModel, log)
}

// newWorkerPool returns nil when workers are disabled or there is no broker.
func newWorkerPool(broker *queue.RabbitMQ, runner *chat.Runner, cfg *config.Config, log zerolog.Logger) *worker.Pool {
	if !cfg.WorkerEnabled || broker == nil {
		return nil
	}
	return worker.NewPool(broker, runner, worker.Config{
		Queue:       cfg.RabbitMQQueue,
		WorkerCount: cfg.WorkerCount,
		StopTimeout: cfg.ShutdownTimeout,
	}, log)
}

// newSweep returns nil unless the periodic recovery sweep is enabled.
func newSweep(conversations *conversation.Service, manager *liveness.Manager, cfg *config.Config, log zerolog.Logger) *crontab.Crontab {
	if !cfg.RecoverySweepEnabled {
		return nil
	}
	return crontab.NewCrontab(conversations, manager, cfg.InferenceTimeout, cfg.RecoverySweepIntervalMinutes, log)
}

func newAuthValidator(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*auth.Validator, func(), error) {
	validator, err := auth.NewValidator(ctx, cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize auth validator: %w", err)
	}
	return validator, validator.Close, nil
}

func newHTTPServer(
	cfg *config.Config,
	log zerolog.Logger,
	conversations *conversation.Service,
	chatService *chat.Service,
	manager *liveness.Manager,
	dispatcher *delivery.Dispatcher,
	validator *auth.Validator,
	db *gorm.DB,
	store *kvstore.RedisStore,
) *httpserver.HttpServer {
	provider := handlers.NewProvider(conversations, chatService, manager, dispatcher.Queue(), handlers.DefaultKeepalive, log)

	checks := []httpserver.ReadyCheck{
		{Name: "database", Check: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}},
		{Name: "redis", Check: store.HealthCheck},
	}
	return httpserver.New(cfg, log, provider, validator, checks...)
}
