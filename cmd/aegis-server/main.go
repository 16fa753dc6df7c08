// Package main is the entrypoint for the Aegis server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MacJediWizard/aegis/internal/advisory"
	"github.com/MacJediWizard/aegis/internal/ai"
	"github.com/MacJediWizard/aegis/internal/api"
	"github.com/MacJediWizard/aegis/internal/api/handlers"
	"github.com/MacJediWizard/aegis/internal/auth"
	"github.com/MacJediWizard/aegis/internal/backup"
	"github.com/MacJediWizard/aegis/internal/config"
	"github.com/MacJediWizard/aegis/internal/db"
	"github.com/MacJediWizard/aegis/internal/events"
	"github.com/MacJediWizard/aegis/internal/httpclient"
	"github.com/MacJediWizard/aegis/internal/incidents"
	"github.com/MacJediWizard/aegis/internal/metrics"
	"github.com/MacJediWizard/aegis/internal/reports"
	"github.com/MacJediWizard/aegis/internal/settings"
	"github.com/MacJediWizard/aegis/internal/shutdown"
	"github.com/MacJediWizard/aegis/internal/siem"
	"github.com/MacJediWizard/aegis/internal/soar"
	"github.com/MacJediWizard/aegis/internal/storage"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const serviceName = "aegis-server"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// llmClient is what the OpenAI and heuristic backends both provide.
type llmClient interface {
	ai.Classifier
	ai.Advisor
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A missing .env is normal outside local development.
	envErr := godotenv.Load()

	cfg := config.LoadServerConfig()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if cfg.Environment != config.EnvProduction {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		logger.Warn().Err(envErr).Msg("failed to read .env file")
	}

	logger.Info().
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Str("environment", string(cfg.Environment)).
		Msg("Starting Aegis server")

	if cfg.DatabaseURL == "" {
		logger.Error().Msg("DATABASE_URL environment variable is required")
		return 1
	}
	if cfg.JWTSecret == "" {
		logger.Error().Msg("JWT_SECRET environment variable is required")
		return 1
	}

	if cfg.TracingEnabled {
		stopTracing, err := setupTracing()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to set up tracing")
			return 1
		}
		defer func() {
			if err := stopTracing(context.Background()); err != nil {
				logger.Warn().Err(err).Msg("Failed to flush traces")
			}
		}()
	}

	database, err := db.New(ctx, db.DefaultConfig(cfg.DatabaseURL), logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to database")
		return 1
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to run database migrations")
		return 1
	}

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create token verifier")
		return 1
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promMetrics, err := metrics.NewPrometheusMetrics(registry)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to register metrics")
		return 1
	}

	// Artifact storage
	var artifacts storage.ArtifactStore
	var storagePinger handlers.StoragePinger
	if cfg.S3Bucket != "" {
		s3Store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			logger.Error().Err(err).Msg("Failed to initialize S3 storage")
			return 1
		}
		artifacts = s3Store
		storagePinger = s3Store
		logger.Info().Str("bucket", cfg.S3Bucket).Msg("Using S3 artifact storage")
	} else {
		artifacts = storage.NewMemoryStore()
		logger.Warn().Msg("S3_BUCKET not set, artifacts are kept in memory")
	}

	// Event publishing
	var publisher events.Publisher
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQPURL, logger)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to connect to AMQP broker")
			return 1
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
	} else {
		publisher = events.NewNoopPublisher(logger)
	}

	// Outbound HTTP. Playbook webhooks target user-supplied URLs, so they get
	// the guarded client.
	outbound, err := httpclient.New(httpclient.Options{Timeout: 60 * time.Second, Proxy: &cfg.OutboundProxy})
	if err != nil {
		logger.Error().Err(err).Msg("Invalid outbound proxy configuration")
		return 1
	}
	webhookClient, err := httpclient.New(httpclient.Options{Timeout: 15 * time.Second, Guarded: true})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create webhook client")
		return 1
	}
	logger.Info().Str("proxy", httpclient.Describe(&cfg.OutboundProxy)).Msg("Outbound HTTP configured")

	// LLM backend
	var llm llmClient
	if cfg.OpenAIAPIKey != "" {
		client, err := ai.NewOpenAIClient(ai.OpenAIConfig{
			APIKey:            cfg.OpenAIAPIKey,
			Model:             cfg.OpenAIModel,
			RequestsPerMinute: cfg.LLMRequestsPerMinute,
			HTTPClient:        outbound,
		}, logger)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create OpenAI client")
			return 1
		}
		llm = client
	} else {
		llm = ai.NewHeuristicClient()
		logger.Warn().Msg("OPENAI_API_KEY not set, using heuristic classifier")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("Invalid REDIS_URL")
			return 1
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	// Services
	settingsService := settings.NewService(database, logger)
	backupRunner := backup.NewRunner(database, artifacts, logger)
	backupScheduler := backup.NewScheduler(database, backupRunner, publisher, promMetrics, logger)
	dependencyChecker := backup.NewDependencyChecker(database)
	retentionSweeper := backup.NewRetentionSweeper(database, artifacts, logger)
	exporter := reports.NewExporter(database, artifacts, settingsService, cfg.ExportAsyncThreshold, promMetrics, logger)
	exportWorker := reports.NewBatchWorker(database, artifacts, publisher, reports.DefaultWorkerConfig(), logger)
	incidentService := incidents.NewService(database, publisher, promMetrics, logger)
	detector := incidents.NewDetector(database, llm, publisher, promMetrics, logger)
	detectionScheduler := incidents.NewScheduler(detector, cfg.DetectionInterval, logger)
	advisoryService := advisory.NewService(database, llm, logger)
	actions := soar.NewDefaultRegistry(incidentService, publisher, logger)
	requireHTTPS := cfg.Environment == config.EnvProduction
	actions.Register(soar.ActionWebhook, soar.WebhookAction(webhookClient, func(ctx context.Context, rawURL string) error {
		return httpclient.ValidateURL(ctx, rawURL, requireHTTPS)
	}))
	playbookService := soar.NewService(database, actions, promMetrics, logger)
	processor := siem.NewProcessor(database, siem.NewCorrelator(database, cfg.CorrelationWindow), playbookService, publisher, promMetrics, logger)

	templates, err := soar.LoadBuiltInTemplates()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load playbook templates")
		return 1
	}

	routerCfg := api.DefaultConfig()
	routerCfg.Environment = cfg.Environment
	routerCfg.AllowedOrigins = cfg.AllowedOrigins
	routerCfg.RateLimitRequests = cfg.RateLimitRequests
	routerCfg.RateLimitPeriod = cfg.RateLimitPeriod
	routerCfg.Redis = redisClient
	routerCfg.ServiceName = serviceName
	routerCfg.TracingEnabled = cfg.TracingEnabled

	router, err := api.NewRouter(routerCfg, api.Dependencies{
		Verifier:        verifier,
		Database:        database,
		Storage:         storagePinger,
		Gatherer:        registry,
		Settings:        settingsService,
		Backups:         database,
		BackupTrigger:   backupScheduler,
		Dependencies:    dependencyChecker,
		Exporter:        exporter,
		Incidents:       incidentService,
		Detector:        detector,
		Alerts:          database,
		Advisory:        advisoryService,
		Playbooks:       playbookService,
		PlaybookLibrary: templates,
		SIEM:            processor,
		Publisher:       publisher,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize router")
		return 1
	}

	shutdownManager := shutdown.NewManager(shutdown.DefaultConfig(), logger)

	if cfg.SchedulerEnabled {
		if err := backupScheduler.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to start backup scheduler")
		} else {
			shutdownManager.RegisterWorker("backup_scheduler", backupScheduler.Stop)
		}
		if err := retentionSweeper.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to start retention sweeper")
		} else {
			shutdownManager.RegisterWorker("retention_sweeper", retentionSweeper.Stop)
		}
		if err := detectionScheduler.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to start detection scheduler")
		} else {
			shutdownManager.RegisterWorker("detection_scheduler", detectionScheduler.Stop)
		}
	} else {
		logger.Warn().Msg("SCHEDULER_ENABLED=false, background schedules will not fire")
	}
	// Queued exports must drain even when schedules are off.
	if err := exportWorker.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to start export worker")
	} else {
		shutdownManager.RegisterWorker("export_worker", exportWorker.Stop)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
	}
	shutdownManager.Register("http_server", srv.Shutdown)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("HTTP server error")
		exitCode = 1
	}

	if err := shutdownManager.Shutdown(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Shutdown did not complete cleanly")
		exitCode = 1
	}
	// Manual backups run outside the cron runner.
	backupScheduler.Wait()
	cancel()

	logger.Info().Msg("Server stopped")
	return exitCode
}

// setupTracing installs a tracer provider that writes spans to stderr.
func setupTracing() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", Version),
	))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return provider.Shutdown, nil
}
