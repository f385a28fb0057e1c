package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"taxtrail/internal/alerts"
	"taxtrail/internal/audit"
	auditpg "taxtrail/internal/audit/store/postgres"
	httpapi "taxtrail/internal/http"
	"taxtrail/internal/platform/config"
	"taxtrail/internal/platform/httpserver"
	"taxtrail/internal/platform/kafka"
	"taxtrail/internal/platform/kafka/consumer"
	"taxtrail/internal/platform/kafka/producer"
	"taxtrail/internal/platform/logger"
	"taxtrail/internal/platform/postgres"
	"taxtrail/internal/platform/redis"
	ratelimithandler "taxtrail/internal/ratelimit/handler"
	ratelimitmetrics "taxtrail/internal/ratelimit/metrics"
	ratelimitmiddleware "taxtrail/internal/ratelimit/middleware"
	"taxtrail/internal/ratelimit/ports"
	"taxtrail/internal/ratelimit/service"
	"taxtrail/internal/ratelimit/store/ledger"
	"taxtrail/internal/retention"
	"taxtrail/internal/security"
	securityhandler "taxtrail/internal/security/handler"
	securitymetrics "taxtrail/internal/security/metrics"
	securitypg "taxtrail/internal/security/store/postgres"
	"taxtrail/pkg/platform/middleware/auth"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	db, err := postgres.Open(cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return err
	}

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Redis is the preferred ledger; postgres carries it when redis is not
	// configured.
	var primaryLedger ports.LedgerStore
	if redisClient != nil {
		primaryLedger = ledger.NewRedisLedgerStore(redisClient.Client)
		log.Info("rate limit ledger backed by redis")
	} else {
		primaryLedger = ledger.NewPostgresLedgerStore(db)
		log.Info("rate limit ledger backed by postgres")
	}

	var pub audit.EventPublisher = producer.NewNoopProducer()
	var kafkaProducer *producer.Producer
	if cfg.Kafka.Brokers != "" {
		if err := kafka.EnsureTopic(ctx, cfg.Kafka.Brokers, cfg.Kafka.SecurityTopic); err != nil {
			return err
		}
		kafkaProducer, err = producer.New(producer.Config{
			Brokers:         cfg.Kafka.Brokers,
			DeliveryTimeout: cfg.Kafka.DeliveryTimeout,
		}, log)
		if err != nil {
			return err
		}
		defer kafkaProducer.Close()
		pub = kafkaProducer
	} else {
		log.Warn("kafka brokers not configured, security events will not be streamed")
	}

	securityStore := securitypg.New(db)
	auditStore := auditpg.New(db)

	secMetrics := securitymetrics.New()
	recorder := audit.NewRecorder(auditStore, securityStore,
		audit.WithLogger(log),
		audit.WithPublisher(pub, cfg.Kafka.SecurityTopic),
		audit.WithTimeout(cfg.AuditTimeout),
		audit.WithSecurityMetrics(secMetrics),
	)

	limiter, err := service.New(primaryLedger,
		service.WithLogger(log),
		service.WithMetrics(ratelimitmetrics.New()),
		service.WithSecurityEmitter(recorder),
		service.WithLedgerTimeout(cfg.LedgerTimeout),
	)
	if err != nil {
		return err
	}

	monitor, err := security.NewMonitor(securityStore,
		security.WithLogger(log),
		security.WithMetrics(secMetrics),
	)
	if err != nil {
		return err
	}

	hub := alerts.NewHub(log)
	defer hub.Close()

	health := map[string]httpapi.HealthChecker{
		"postgres": func(ctx context.Context) error { return postgres.Health(ctx, db) },
	}
	if redisClient != nil {
		health["redis"] = redisClient.Health
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Auth:      auth.New(cfg.AdminJWTSigningKey, log),
		Limiter:   ratelimitmiddleware.New(limiter, log),
		RateLimit: ratelimithandler.New(limiter, log),
		Security:  securityhandler.New(monitor, hub, log),
		Health:    health,
		Logger:    log,
	})
	srv := httpserver.New(cfg.Addr, router)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting taxtrail server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Kafka.Brokers != "" {
		alertConsumer, err := consumer.New(consumer.Config{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.ConsumerGroup,
			Topics:  []string{cfg.Kafka.SecurityTopic},
		}, alerts.NewHandler(hub, log), log)
		if err != nil {
			return err
		}
		group.Go(func() error {
			defer alertConsumer.Close()
			return alertConsumer.Run(ctx)
		})
	}

	group.Go(func() error {
		worker := retention.NewWorker(auditStore, cfg.AuditRetentionDays, log)
		return worker.Run(ctx)
	})

	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
