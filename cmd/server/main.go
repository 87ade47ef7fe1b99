package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/cache"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/database"
	"github.com/stemsi/exstem-assessment/internal/handler"
	"github.com/stemsi/exstem-assessment/internal/logger"
	"github.com/stemsi/exstem-assessment/internal/middleware"
	"github.com/stemsi/exstem-assessment/internal/repository"
	"github.com/stemsi/exstem-assessment/internal/router"
	"github.com/stemsi/exstem-assessment/internal/scheduler"
	"github.com/stemsi/exstem-assessment/internal/service"
	"github.com/stemsi/exstem-assessment/internal/shuffle"
	"github.com/stemsi/exstem-assessment/internal/validator"
	"github.com/stemsi/exstem-assessment/internal/worker"
)

// Target ID and principal of the in-process closure pipeline.
const (
	localTargetID  = "closure-worker"
	localPrincipal = "local"
	awsTargetID    = "closure-handler"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("scheduler", string(cfg.SchedulerBackend)).
		Msg("Starting ExStem Assessment")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	tx := database.NewTransactor(pool)
	repos := repository.NewRepositories(repository.Deps{
		Cache:  cache.NewRedisStore(rdb),
		Tx:     tx,
		TTL:    cfg.CacheTTL,
		Prefix: cfg.CacheKeyPrefix,
		Log:    logger.Component(log, "repository"),
	}, repository.PgStores(tx))

	// ─── Closure Scheduler ─────────────────────────────────────────────
	var closure *scheduler.ClosureScheduler
	var localRules *scheduler.RedisBackend
	switch cfg.SchedulerBackend {
	case config.SchedulerBackendEventBridge:
		if cfg.ClosureHandlerARN == "" {
			log.Fatal().Msg("CLOSURE_HANDLER_ARN is required for the eventbridge scheduler")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load AWS configuration")
		}
		backend := scheduler.NewEventBridgeBackend(awsCfg, cfg.ClosureHandlerARN)
		closure = scheduler.NewClosureScheduler(backend, awsTargetID, cfg.ClosurePrincipal, log)
	case config.SchedulerBackendRedis:
		localRules = scheduler.NewRedisBackend(rdb)
		closure = scheduler.NewClosureScheduler(localRules, localTargetID, localPrincipal, log)
	default:
		log.Fatal().Str("backend", string(cfg.SchedulerBackend)).Msg("Unknown scheduler backend")
	}

	// ─── Initialize Services ──────────────────────────────────────────
	verifier := service.NewTokenVerifier(cfg.JWTSecret)
	sessionService := service.NewSessionService(repos, tx, shuffle.New(nil), log)
	assessmentService := service.NewAssessmentService(repos, tx, closure, rdb, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Candidate:  handler.NewCandidateHandler(sessionService, log),
		Assessment: handler.NewAssessmentHandler(assessmentService, log),
		Closure:    handler.NewClosureHandler(assessmentService, log),
		WS:         handler.NewWSHandler(rdb, sessionService, log, cfg.AllowedOrigins),
		System:     handler.NewSystemHandler(rdb, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	attemptLimiter := middleware.NewRateLimiter(cfg.AttemptRateLimit, time.Minute)
	wg.Add(1)
	go func() {
		defer wg.Done()
		attemptLimiter.Run(workerCtx.Done())
	}()

	if localRules != nil {
		dispatcher := worker.NewClosureDispatcher(localRules, rdb, localTargetID, cfg.SchedulerSweepSpec, log)
		closureWorker := worker.NewClosureWorker(assessmentService, closure, rdb, log)

		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := dispatcher.Start(workerCtx); err != nil {
				log.Fatal().Err(err).Str("spec", cfg.SchedulerSweepSpec).Msg("Invalid sweep schedule")
			}
		}()
		go func() {
			defer wg.Done()
			closureWorker.Start(workerCtx)
		}()
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(verifier, attemptLimiter, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for them to exit.
	workerCancel()
	wg.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
