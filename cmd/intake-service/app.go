package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/slack-go/slack"
	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"brokerops/internal/ack"
	"brokerops/internal/broker"
	"brokerops/internal/classify"
	"brokerops/internal/config"
	"brokerops/internal/constants"
	"brokerops/internal/entity"
	"brokerops/internal/intake"
	"brokerops/internal/logger"
	"brokerops/internal/orchestrator"
	"brokerops/internal/store"
	"brokerops/pkg/bootstrap"
	"brokerops/pkg/circuitbreaker"
	"brokerops/pkg/health"
	"brokerops/pkg/metrics"
	"brokerops/pkg/middleware"
	"brokerops/pkg/migrations"
	"brokerops/pkg/ratelimit"
	"brokerops/pkg/tracing"
)

type App struct {
	Config *config.Config
	Logger logger.Logger

	dbConnector *bootstrap.DatabaseConnector
	db          *sql.DB
	redisClient *redis.Client
	mongoClient *mongo.Client

	queue          *intake.BatchQueue
	pipeline       *orchestrator.Orchestrator
	alertProducer  broker.AlertProducer
	consumer       broker.Consumer
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("intake-service")
	}
	return &App{
		Config:      cfg,
		Logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.initPipeline(ctx); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, "intake-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterIntakeMetrics()
	metrics.RegisterPipelineMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	if a.Config.Database.RunMigrations {
		if err := migrations.RunPostgres(a.db, a.Config.Database.MigrationsPath); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		a.Logger.InfowCtx(ctx, "Database migrations applied")
	}

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redisClient = rdb

	if a.Config.Database.MongoDB.URI != "" {
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		mongoClient, err := a.dbConnector.InitMongoDB(initCtx)
		if err != nil {
			a.Logger.WarnwCtx(ctx, "MongoDB connection failed, raw-batch archive disabled", "error", err)
		} else {
			a.mongoClient = mongoClient
		}
	}

	return nil
}

func (a *App) initPipeline(ctx context.Context) error {
	repo := store.NewRepository(a.db)
	agents := store.NewAgentDirectory(a.db)
	claimer := store.NewRedisClaimer(a.redisClient)

	var archiver store.Archiver = store.NopArchiver{}
	if a.mongoClient != nil {
		dbName := a.Config.Database.MongoDB.Database
		if dbName == "" {
			dbName = "brokerops"
		}
		archiver = store.NewMongoArchiver(a.mongoClient.Database(dbName))
	}

	validator, err := orchestrator.NewValidator(a.Config.Intake.FilterRules)
	if err != nil {
		return fmt.Errorf("failed to compile filter rules: %w", err)
	}

	var classifier classify.Classifier
	classifier, err = classify.NewLLMClassifier(a.Config.Classifier, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create classifier: %w", err)
	}
	if a.Config.CircuitBreaker.Enabled {
		breakerCfg := circuitbreaker.DefaultConfig("classifier")
		if a.Config.CircuitBreaker.MaxRequests > 0 {
			breakerCfg.MaxRequests = a.Config.CircuitBreaker.MaxRequests
		}
		if a.Config.CircuitBreaker.Interval > 0 {
			breakerCfg.Interval = a.Config.CircuitBreaker.Interval
		}
		if a.Config.CircuitBreaker.Timeout > 0 {
			breakerCfg.Timeout = a.Config.CircuitBreaker.Timeout
		}
		if a.Config.CircuitBreaker.FailureRatio > 0 && a.Config.CircuitBreaker.MinRequests > 0 {
			ratio := a.Config.CircuitBreaker.FailureRatio
			min := a.Config.CircuitBreaker.MinRequests
			breakerCfg.ReadyToTrip = func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= min && failureRatio >= ratio
			}
		}
		classifier = classify.NewBreakerClassifier(classifier, circuitbreaker.NewWrapper(breakerCfg))
	}

	entities := entity.NewService(repo, agents, a.Logger)

	slackClient := slack.New(a.Config.Slack.BotToken)
	dispatcher := ack.NewDispatcher(slackClient, claimer, ack.Options{
		MaxRetries:     a.Config.Ack.MaxRetries,
		InitialBackoff: time.Duration(a.Config.Ack.InitialBackoffMs) * time.Millisecond,
		SentTTL:        time.Duration(a.Config.Ack.SentTTLSeconds) * time.Second,
	}, a.Logger)

	var alerter orchestrator.Alerter = &orchestrator.LogAlerter{Logger: a.Logger}
	alertProducer, err := broker.NewAlertProducer(a.Config.Broker, a.Logger)
	if err != nil {
		return err
	}
	if alertProducer != nil {
		a.alertProducer = alertProducer
		alerter = alertProducer
	}

	a.pipeline = orchestrator.New(
		validator,
		classifier,
		repo,
		archiver,
		entities,
		dispatcher,
		alerter,
		orchestrator.Options{
			MaxConcurrentBatches: a.Config.Pipeline.MaxConcurrentBatches,
			ConfidenceThreshold:  a.Config.Classifier.ConfidenceThreshold,
		},
		a.Logger,
	)

	a.queue = intake.NewBatchQueue(intake.Options{
		DebounceInterval: time.Duration(a.Config.Intake.DebounceIntervalMs) * time.Millisecond,
		MaxWindow:        time.Duration(a.Config.Intake.MaxWindowMs) * time.Millisecond,
		MaxBatchSize:     a.Config.Intake.MaxBatchSize,
		HandoffRetries:   a.Config.Intake.HandoffRetries,
	}, a.pipeline.Process, a.Logger)

	consumer, err := broker.NewInboundConsumer(a.Config.Broker, a.Logger)
	if err != nil {
		return err
	}
	a.consumer = consumer

	return nil
}

func (a *App) initHTTPServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.Recovery(a.Logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLog(a.Logger))

	if a.Config.RateLimit.Enabled {
		rateLimitConfig := ratelimit.Config{
			RPS:             a.Config.RateLimit.RPS,
			Burst:           a.Config.RateLimit.Burst,
			CleanupInterval: time.Duration(a.Config.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.Config.RateLimit.MaxAge) * time.Second,
		}
		router.Use(ratelimit.Middleware(rateLimitConfig))
		a.Logger.Infow("Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	deduper := intake.NewEventDeduper(
		store.NewRedisClaimer(a.redisClient),
		time.Duration(a.Config.Intake.DedupTTLSeconds)*time.Second,
		a.Logger,
	)
	handler := intake.NewHandler(a.queue, deduper, a.Config.Slack.SigningSecret, a.Config.Slack.BypassVerify, a.Logger)
	handler.RegisterRoutes(router)

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	if a.mongoClient != nil {
		healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	}

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds * time.Second,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds * time.Second,
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if a.consumer != nil {
		inputTopic := a.Config.Broker.Kafka.InputTopic
		g.Go(func() error {
			a.Logger.InfowCtx(gCtx, "Starting inbound message consumer", "topic", inputTopic)
			return a.consumer.Consume(gCtx, inputTopic, func(cCtx context.Context, msg intake.InboundMessage) error {
				return a.queue.Enqueue(msg)
			})
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("Shutting down intake service")

	var errs []error

	// Flush open batches and let in-flight hand-offs finish first.
	if a.queue != nil {
		closeCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
		if err := a.queue.Close(closeCtx); err != nil {
			errs = append(errs, fmt.Errorf("queue close error: %w", err))
		}
		cancel()
	}

	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
	}

	if a.alertProducer != nil {
		if err := a.alertProducer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("alert producer close error: %w", err))
		}
	}

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redisClient, a.db, a.mongoClient)...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.Logger.Info("Application exited successfully")
	return nil
}
