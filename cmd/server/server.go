package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"jan-server/services/research-api/internal/config"
	"jan-server/services/research-api/internal/domain/chat"
	"jan-server/services/research-api/internal/infrastructure/crontab"
	"jan-server/services/research-api/internal/infrastructure/logger"
	"jan-server/services/research-api/internal/infrastructure/observability"
	"jan-server/services/research-api/internal/interfaces/httpserver"
	"jan-server/services/research-api/internal/worker"
)

// @title Research API
// @version 1.0
// @description Deep-research chat: job submission, streaming, recovery and email delivery.
// @contact.name Jan Server Team
// @contact.url https://github.com/janhq/jan-server
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
type Application struct {
	cfg        *config.Config
	httpServer *httpserver.HttpServer
	runner     *chat.Runner
	pool       *worker.Pool
	sweep      *crontab.Crontab
	log        zerolog.Logger
}

func NewApplication(
	cfg *config.Config,
	httpServer *httpserver.HttpServer,
	runner *chat.Runner,
	pool *worker.Pool,
	sweep *crontab.Crontab,
	log zerolog.Logger,
) *Application {
	return &Application{
		cfg:        cfg,
		httpServer: httpServer,
		runner:     runner,
		pool:       pool,
		sweep:      sweep,
		log:        log,
	}
}

// Start runs the HTTP server, the worker pool and the sweep until ctx is done or one of them fails.
func (a *Application) Start(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	if a.pool != nil {
		if err := a.pool.Start(ctx); err != nil {
			return fmt.Errorf("start worker pool: %w", err)
		}
	}
	eg.Go(func() error {
		return a.httpServer.Run(ctx)
	})
	if a.sweep != nil {
		eg.Go(func() error {
			return a.sweep.Run(ctx)
		})
	}

	err := eg.Wait()
	a.drain()
	return err
}

// drain stops consuming and gives running jobs until the shutdown timeout to finish.
// Jobs still running afterwards are picked up by recovery.
func (a *Application) drain() {
	if a.pool != nil {
		a.log.Info().Msg("stopping worker pool")
		a.pool.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.runner.Wait(ctx); err != nil {
		a.log.Warn().Err(err).Msg("jobs still running at shutdown, leaving them to recovery")
	}
}

// buildApplication assembles the service by hand; wire.go declares the same graph.
func buildApplication(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Application, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*Application, func(), error) {
		cleanup()
		return nil, nil, err
	}

	db, closeDB, err := newGormDB(ctx, newDatabaseConfig(cfg), log)
	if err != nil {
		return fail(err)
	}
	cleanups = append(cleanups, closeDB)

	store, closeStore, err := newRedisStore(ctx, cfg, log)
	if err != nil {
		return fail(err)
	}
	cleanups = append(cleanups, closeStore)

	validator, closeValidator, err := newAuthValidator(ctx, cfg, log)
	if err != nil {
		return fail(err)
	}
	cleanups = append(cleanups, closeValidator)

	client, err := newInferenceClient(cfg, log)
	if err != nil {
		return fail(err)
	}
	dispatcher, err := newDispatcher(store, cfg, log)
	if err != nil {
		return fail(err)
	}

	broker, closeBroker := newBroker(cfg, log)
	cleanups = append(cleanups, closeBroker)

	conversations := newConversationService(db, client, log)
	tracker := newTracker(store, cfg, log)
	limiter := newLimiter(store, cfg, log)
	runner := newRunner(client, conversations, tracker, limiter, broker, dispatcher, cfg, log)
	manager := newRecoveryManager(tracker, client, conversations, runner, store, log)
	chatService := newChatService(conversations, limiter, runner, broker, dispatcher, cfg, log)

	httpServer := newHTTPServer(cfg, log, conversations, chatService, manager, dispatcher, validator, db, store)
	app := NewApplication(
		cfg,
		httpServer,
		runner,
		newWorkerPool(broker, runner, cfg, log),
		newSweep(conversations, manager, cfg, log),
		log,
	)
	return app, cleanup, nil
}

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Setup(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize observability")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	app, cleanup, err := buildApplication(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build application")
	}
	defer cleanup()

	if err := app.Start(ctx); err != nil {
		log.Error().Err(err).Msg("application stopped with error")
		return
	}

	log.Info().Msg("application exited cleanly")
}

func loadEnvFiles() {
	paths := []string{".env", "../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
