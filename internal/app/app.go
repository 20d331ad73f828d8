package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gokatarajesh/live-quiz/internal/auth/jwt"
	"github.com/gokatarajesh/live-quiz/internal/broadcast"
	"github.com/gokatarajesh/live-quiz/internal/config"
	"github.com/gokatarajesh/live-quiz/internal/db/queries"
	"github.com/gokatarajesh/live-quiz/internal/db/repository"
	"github.com/gokatarajesh/live-quiz/internal/kahoot"
	"github.com/gokatarajesh/live-quiz/internal/lock"
	"github.com/gokatarajesh/live-quiz/internal/logging"
	"github.com/gokatarajesh/live-quiz/internal/metrics"
	"github.com/gokatarajesh/live-quiz/internal/quiz"
	"github.com/gokatarajesh/live-quiz/internal/results"
	"github.com/gokatarajesh/live-quiz/internal/server"
	"github.com/gokatarajesh/live-quiz/internal/store"
	ws "github.com/gokatarajesh/live-quiz/pkg/http/ws"
)

// Application aggregates shared infrastructure (DB, cache, HTTP server).
type Application struct {
	cfg    *config.App
	logger zerolog.Logger

	pool  *pgxpool.Pool
	redis *redis.Client
	http  *http.Server

	fabric  *broadcast.Fabric
	service *kahoot.Service
}

// New bootstraps configs, logger, Postgres, Redis and HTTP server.
func New(ctx context.Context, cfg *config.App) (*Application, error) {
	logger := logging.New(cfg.Name, cfg.Env, cfg.LogLevel).With().Str("instance_id", cfg.Instance.ID).Logger()
	logger.Info().Msg("starting application bootstrap")

	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.Postgres.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.Postgres.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	m := metrics.New(prometheus.DefaultRegisterer)

	// Shared session state and coordination
	kv := store.New(redisClient, logger)
	locks := lock.NewManager(redisClient, cfg.Locks.RetryAttempts, cfg.Locks.RetryDelay)
	state := kahoot.NewStateManager(kv, cfg.Session.TTL, logger)

	fabric := broadcast.NewFabric(redisClient, cfg.Instance.ID, m, logger)
	registry := ws.NewRegistry(fabric, m.Connections, logger)
	fabric.SetDeliverer(registry)

	// Durable storage
	q := queries.New(pool)
	quizRepo := repository.NewQuizRepository(q)
	sessionRepo := repository.NewSessionRepository(q)
	resultRepo := repository.NewResultRepository(q)

	quizzes := quiz.NewCache(redisClient, quiz.NewPostgresLoader(quizRepo), cfg.Session.QuizCacheTTL)
	saver := results.NewSaver(resultRepo, m, logger)

	tokens := jwt.NewManager(jwt.TokenConfig{
		Secret: []byte(cfg.Security.JWTSecret),
		Issuer: cfg.Security.JWTIssuer,
	})

	service := kahoot.NewService(kahoot.Deps{
		State:    state,
		Locks:    locks,
		Bus:      fabric,
		Quizzes:  quizzes,
		Sessions: sessionRepo,
		Results:  saver,
		Metrics:  m,
	}, kahoot.OptionsFromConfig(cfg), logger)

	wsHandler := kahoot.NewHandler(service, registry, tokens, ws.ConnOptions{
		PingInterval: cfg.WebSocket.PingInterval,
		PongWait:     cfg.WebSocket.PongWait,
		SendBuffer:   cfg.WebSocket.SendBuffer,
	}, logger)
	httpHandlers := kahoot.NewHTTPHandlers(service, logger)

	apiServer := server.NewHTTPServer(cfg, logger, pool, redisClient, tokens, prometheus.DefaultGatherer, server.Routes{
		CreateSession: httpHandlers.CreateSession,
		LiveSocket:    wsHandler.HandleWebSocket,
	})

	return &Application{
		cfg:     cfg,
		logger:  logger,
		pool:    pool,
		redis:   redisClient,
		http:    apiServer,
		fabric:  fabric,
		service: service,
	}, nil
}

// Run starts the HTTP server and the broadcast fabric and waits for
// termination signals.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.fabric.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("broadcast fabric: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.logger.Info().Str("addr", a.cfg.HTTPAddr).Msg("http server listening")
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info().Msg("shutdown requested")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.GracefulShutdownTimeout)
		defer cancel()

		if err := a.http.Shutdown(shutdownCtx); err != nil {
			a.logger.Error().Err(err).Msg("http shutdown error")
		}
		a.service.Shutdown()
		if err := a.fabric.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("broadcast fabric close error")
		}
		return nil
	})

	err := g.Wait()

	a.pool.Close()
	if cerr := a.redis.Close(); cerr != nil {
		a.logger.Error().Err(cerr).Msg("redis shutdown error")
	}

	a.logger.Info().Msg("shutdown complete")
	return err
}
