package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/healthpulse/pulse-jobs/internal/api"
	"github.com/healthpulse/pulse-jobs/internal/events"
	"github.com/healthpulse/pulse-jobs/internal/jobs"
	"github.com/healthpulse/pulse-jobs/internal/llm"
	"github.com/healthpulse/pulse-jobs/internal/metrics"
	"github.com/healthpulse/pulse-jobs/internal/monitor"
	"github.com/healthpulse/pulse-jobs/internal/queue"
	"github.com/healthpulse/pulse-jobs/internal/redisq"
	"github.com/healthpulse/pulse-jobs/internal/scheduler"
	"github.com/healthpulse/pulse-jobs/internal/server"
	"github.com/healthpulse/pulse-jobs/internal/store"
	"github.com/healthpulse/pulse-jobs/internal/tracing"
)

const version = "0.1.0"

func main() {
	// Optional .env for local development.
	_ = godotenv.Load()

	cfg := server.LoadConfig()
	logger := buildLogger(cfg)
	slog.SetDefault(logger)

	if cfg.APIKey == "" && !cfg.AllowInsecureNoAuth {
		logger.Error("refusing to start without API authentication",
			"hint", "set PULSE_API_KEY or PULSE_ALLOW_INSECURE_NO_AUTH=true for local development")
		os.Exit(1)
	}
	if cfg.AllowInsecureNoAuth {
		logger.Warn("running without authentication; set PULSE_API_KEY for any shared or production environment")
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (opt-in via OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := tracing.Init(rootCtx, "pulse-jobs", version, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// Database
	db, err := store.Connect(rootCtx, store.Config{URL: cfg.DatabaseURL})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(rootCtx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	go db.StartMetricsCollector(rootCtx)
	logger.Info("database ready")

	usersRepo := store.NewUsersRepo(db)
	recordsRepo := store.NewRecordsRepo(db)
	insightsRepo := store.NewInsightsRepo(db)
	runsRepo := store.NewRunsRepo(db)
	deadLettersRepo := store.NewDeadLettersRepo(db)

	// Redis redrive queue (optional)
	var redisQueue *redisq.Queue
	if cfg.RedisURL != "" {
		redisQueue, err = redisq.New(cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisQueue.Close()
		logger.Info("redis redrive queue ready")
	} else {
		logger.Warn("no redis url configured; dead letters archive without replay")
	}

	// LLM client
	var llmClient llm.Client
	if cfg.LLMBaseURL != "" {
		llmClient, err = llm.NewOpenAI(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
		if err != nil {
			logger.Error("failed to build llm client", "error", err)
			os.Exit(1)
		}
		logger.Info("llm client ready", "model", cfg.LLMModel)
	} else {
		llmClient = llm.Placeholder{}
		logger.Warn("no llm base url configured; insight generation fails fast")
	}

	// Event broker
	broker := events.NewBroker()
	defer broker.Close()

	// Job registry
	specs, err := server.LoadJobsFile(cfg.JobsFile)
	if err != nil {
		logger.Error("failed to load jobs file", "error", err)
		os.Exit(1)
	}
	registry, err := jobs.New(specs, jobs.Deps{
		Users:    usersRepo,
		Records:  recordsRepo,
		Insights: insightsRepo,
		Runs:     runsRepo,
		LLM:      llmClient,
		Events:   broker,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("invalid job configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("job registry ready", "jobs", registry.Names())

	// Redriver. An untyped nil keeps the queue-disabled check working.
	var redriver *jobs.Redriver
	if redisQueue != nil {
		redriver = jobs.NewRedriver(registry, deadLettersRepo, redisQueue)
	} else {
		redriver = jobs.NewRedriver(registry, deadLettersRepo, nil)
	}
	redriver.SetLogger(logger)

	// Monitor
	mon := monitor.New(registry, monitor.DefaultThresholds())
	mon.SetLogger(logger)
	mon.SetEventPublisher(broker)

	metrics.Init(version)

	// SQS work queue (optional)
	var enqueuer api.Enqueuer
	var consumer *queue.Consumer
	if cfg.QueueURL != "" {
		awsCfg, err := buildAWSConfig(rootCtx, cfg)
		if err != nil {
			logger.Error("failed to configure AWS", "error", err)
			os.Exit(1)
		}
		sqsClient := sqs.NewFromConfig(awsCfg)
		enqueuer = queue.NewProducer(sqsClient, cfg.QueueURL)
		consumer = queue.NewConsumer(sqsClient, cfg.QueueURL,
			func(ctx context.Context, req *queue.JobRequest) error {
				_, err := registry.Run(ctx, req.Job, req.UserIDs, jobs.TriggerQueue)
				return err
			})
		consumer.SetLogger(logger)
		go consumer.Start(rootCtx)
		logger.Info("sqs consumer started", "queue_url", cfg.QueueURL)
	} else {
		logger.Warn("no queue url configured; api-triggered runs execute inline")
	}

	// Background loops
	sched := scheduler.New(registry, redriver, mon, logger, scheduler.Intervals{})
	sched.Start()

	checks := []api.Check{{Name: "postgres", Probe: db.Health}}
	if redisQueue != nil {
		checks = append(checks, api.Check{Name: "redis", Probe: redisQueue.Ping})
	}

	router := server.NewRouter(server.Deps{
		Version:  version,
		Runner:   registry,
		Engine:   registry,
		Enqueuer: enqueuer,
		Archive:  deadLettersRepo,
		Redriver: redriver,
		Runs:     runsRepo,
		Users:    usersRepo,
		Records:  recordsRepo,
		Broker:   broker,
		Checks:   checks,
	}, logger, cfg)

	// No WriteTimeout: SSE and WebSocket connections stay open indefinitely.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: cfg.ReadTimeout,
		IdleTimeout: cfg.IdleTimeout,
	}

	go func() {
		logger.Info("pulse server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	sched.Stop()
	cancel()
	if consumer != nil {
		consumer.Drain(cfg.ShutdownTimeout)
	}

	ctx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

func buildLogger(cfg server.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if cfg.LogFormat == "text" {
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func buildAWSConfig(ctx context.Context, cfg server.Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.AWSRegion),
	}

	// For LocalStack or custom endpoints
	if cfg.UseLocalStack {
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               cfg.LocalStackEndpoint,
					HostnameImmutable: true,
					PartitionID:       "aws",
				}, nil
			},
		)
		opts = append(opts,
			config.WithEndpointResolverWithOptions(customResolver),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "test")),
		)
	}

	return config.LoadDefaultConfig(ctx, opts...)
}
