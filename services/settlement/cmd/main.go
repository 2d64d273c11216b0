package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sakashimaa/go-auction/pkg/clock"
	"github.com/sakashimaa/go-auction/pkg/config"
	"github.com/sakashimaa/go-auction/pkg/db"
	generalDomain "github.com/sakashimaa/go-auction/pkg/domain"
	kafka2 "github.com/sakashimaa/go-auction/pkg/kafka"
	"github.com/sakashimaa/go-auction/pkg/metrics"
	"github.com/sakashimaa/go-auction/pkg/mylogger"
	repository2 "github.com/sakashimaa/go-auction/pkg/outbox/repository"
	"github.com/sakashimaa/go-auction/pkg/outbox/worker"
	"github.com/sakashimaa/go-auction/pkg/scheduler"
	"github.com/sakashimaa/go-auction/pkg/utils"
	"github.com/sakashimaa/go-auction/services/settlement/internal/client"
	"github.com/sakashimaa/go-auction/services/settlement/internal/domain"
	"github.com/sakashimaa/go-auction/services/settlement/internal/repository"
	"github.com/sakashimaa/go-auction/services/settlement/internal/service"
	httpTransport "github.com/sakashimaa/go-auction/services/settlement/internal/transport/http"
	"github.com/sakashimaa/go-auction/services/settlement/internal/transport/http/handler"
	"github.com/sakashimaa/go-auction/services/settlement/internal/transport/kafka"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env loaded: %v", err)
	}

	cfg := config.MustLoad(utils.EnvOr("CONFIG_PATH", "./config/settlement.yaml"))

	commission, err := domain.ParseCommission(cfg.Settlement.CommissionRate)
	if err != nil {
		log.Fatalf("invalid commission rate: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.LoggerConfig())
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tp, err := utils.InitTracer(ctx, cfg.Tracing.Options("settlement-service", cfg.Env))
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}

	if cfg.Postgres.MigrationsPath != "" {
		if err := db.MigrateUp(cfg.Postgres.URL, cfg.Postgres.MigrationsPath); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
	}

	pool, err := db.NewPostgresDB(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("failed to create pool: %v", err)
	}

	reg := metrics.NewRegistry()
	settlementMetrics := metrics.NewSettlement(reg)
	outboxMetrics := metrics.NewOutbox(reg)

	clk := clock.NewSystem()
	outboxRepo := repository2.NewOutboxRepository(logger)

	payoutBreaker := utils.NewCircuitBreaker("payout-service", cfg.Breaker.Options(), logger)
	payouts, err := client.NewHTTPPayoutClient(cfg.Payout, clk, payoutBreaker)
	if err != nil {
		log.Fatalf("failed to create payout client: %v", err)
	}

	deps := service.Deps{
		DB:          pool,
		Candidates:  repository.NewCandidateRepository(logger),
		Settlements: repository.NewSettlementRepository(pool, logger),
		Outbox:      outboxRepo,
		Payouts:     payouts,
		Clock:       clk,
		Metrics:     settlementMetrics,
		Logger:      logger,
	}
	settings := service.Settings{
		ChunkSize:  cfg.Settlement.ChunkSize,
		Period:     cfg.Settlement.Period,
		Commission: commission,
	}

	ingestService := service.NewIngestService(deps, settings)
	batchService := service.NewBatchService(deps, settings)

	consumer := kafka.NewConsumer(ingestService, logger)

	var producer kafka2.Producer
	registry := worker.NewRegistry()
	if cfg.Events.UseKafka() {
		producer, err = kafka2.NewProducer(cfg.Kafka.Brokers, logger)
		if err != nil {
			log.Fatalf("error creating kafka producer: %v", err)
		}

		registry.Register(generalDomain.AggregateSettlement, worker.NewKafkaHandler(producer))
	} else {
		bus := worker.NewBus(logger)
		bus.Subscribe(generalDomain.EventOrderCompleted, consumer.HandleEnvelope)
		bus.Subscribe(generalDomain.EventOrderRefunded, consumer.HandleEnvelope)

		registry.Register(generalDomain.AggregateSettlement, bus)
	}

	outboxProcessor := worker.NewOutboxProcessor(pool, outboxRepo, registry, clk, outboxMetrics, logger, cfg.Outbox)

	sched := scheduler.New(logger)
	if err := outboxProcessor.Schedule(sched, cfg.Outbox); err != nil {
		log.Fatalf("failed to schedule outbox jobs: %v", err)
	}
	if err := service.Schedule(sched, cfg.Settlement, batchService, logger); err != nil {
		log.Fatalf("failed to schedule settlement jobs: %v", err)
	}

	app := httpTransport.NewApp(cfg.HTTP, cfg.Limiter)
	httpTransport.RegisterRoutes(app, handler.NewSettlementHandler(batchService, logger), reg)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Run(gctx)
	})

	if cfg.Events.UseKafka() {
		g.Go(func() error {
			return consumer.Run(gctx, cfg.Kafka.Brokers, cfg.Kafka.GroupID)
		})
	}

	g.Go(func() error {
		mylogger.Info(gctx, logger, "HTTP server listening", zap.String("port", cfg.HTTP.Port))
		return app.Listen(cfg.HTTP.Port)
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		mylogger.Info(shutdownCtx, logger, "Shutting down settlement server")

		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		mylogger.Error(ctx, logger, "Settlement service stopped with error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if producer != nil {
		if err := producer.Close(); err != nil {
			mylogger.Warn(shutdownCtx, logger, "Failed to close kafka producer", zap.Error(err))
		}
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Failed to shut down telemetry", zap.Error(err))
	}

	pool.Close()
}
