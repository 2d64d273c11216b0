package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
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
	"github.com/sakashimaa/go-auction/services/auction/internal/client"
	"github.com/sakashimaa/go-auction/services/auction/internal/domain"
	"github.com/sakashimaa/go-auction/services/auction/internal/repository"
	"github.com/sakashimaa/go-auction/services/auction/internal/service"
	httpTransport "github.com/sakashimaa/go-auction/services/auction/internal/transport/http"
	"github.com/sakashimaa/go-auction/services/auction/internal/transport/http/handler"
	"github.com/sakashimaa/go-auction/services/auction/internal/transport/kafka"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env loaded: %v", err)
	}

	cfg := config.MustLoad(utils.EnvOr("CONFIG_PATH", "./config/auction.yaml"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.LoggerConfig())
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tp, err := utils.InitTracer(ctx, cfg.Tracing.Options("auction-service", cfg.Env))
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

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})

	reg := metrics.NewRegistry()
	auctionMetrics := metrics.NewAuction(reg)
	outboxMetrics := metrics.NewOutbox(reg)

	clk := clock.NewSystem()
	outboxRepo := repository2.NewOutboxRepository(logger)

	deps := service.Deps{
		DB:        pool,
		Auctions:  repository.NewAuctionRepository(pool, logger),
		Bids:      repository.NewBidRepository(logger),
		Orders:    repository.NewOrderRepository(logger),
		BuyNow:    repository.NewBuyNowRepository(pool, logger),
		Watchlist: repository.NewWatchlistRepository(logger),
		Outbox:    outboxRepo,
		Clock:     clk,
		Metrics:   auctionMetrics,
		Logger:    logger,
	}
	settings := service.Settings{
		Rules:             domain.NewRules(cfg.Auction),
		LockTimeout:       cfg.Auction.LockTimeout,
		EnrichmentTimeout: cfg.Auction.EnrichmentTimeout,
		ScanLimit:         cfg.Auction.ScanLimit,
	}

	usersBreaker := utils.NewCircuitBreaker("users-service", cfg.Breaker.Options(), logger)
	users := client.NewCachedUserDirectory(
		client.NewHTTPUserDirectory(cfg.Users, usersBreaker),
		redisClient,
		cfg.Redis.CacheTTL,
		logger,
	)

	orderCreator := service.NewOrderCreator(deps.Orders, outboxRepo, clk, settings.Rules.PaymentWindow)
	auctionService := service.NewAuctionService(deps, settings, orderCreator, users)
	bidService := service.NewBidService(deps, settings)
	buyNowService := service.NewBuyNowService(deps, settings)
	orderService := service.NewOrderService(deps, settings)

	consumer := kafka.NewConsumer(orderService, logger)

	var producer kafka2.Producer
	registry := worker.NewRegistry()
	if cfg.Events.UseKafka() {
		producer, err = kafka2.NewProducer(cfg.Kafka.Brokers, logger)
		if err != nil {
			log.Fatalf("error creating kafka producer: %v", err)
		}

		kafkaHandler := worker.NewKafkaHandler(producer)
		registry.Register(generalDomain.AggregateAuction, kafkaHandler)
		registry.Register(generalDomain.AggregateOrder, kafkaHandler)
	} else {
		bus := worker.NewBus(logger)
		bus.Subscribe(generalDomain.EventPaymentSucceeded, consumer.HandleEnvelope)
		bus.Subscribe(generalDomain.EventPaymentFailed, consumer.HandleEnvelope)

		registry.Register(generalDomain.AggregateAuction, bus)
		registry.Register(generalDomain.AggregateOrder, bus)
	}

	outboxProcessor := worker.NewOutboxProcessor(pool, outboxRepo, registry, clk, outboxMetrics, logger, cfg.Outbox)

	sched := scheduler.New(logger)
	if err := outboxProcessor.Schedule(sched, cfg.Outbox); err != nil {
		log.Fatalf("failed to schedule outbox jobs: %v", err)
	}
	if err := service.Schedule(sched, cfg.Auction, auctionService, buyNowService, logger); err != nil {
		log.Fatalf("failed to schedule auction jobs: %v", err)
	}

	app := httpTransport.NewApp(cfg.HTTP, cfg.Limiter)
	httpTransport.RegisterRoutes(app, &httpTransport.Handlers{
		Auction: handler.NewAuctionHandler(auctionService, buyNowService, logger),
		Bid:     handler.NewBidHandler(bidService, logger),
	}, reg)

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

		mylogger.Info(shutdownCtx, logger, "Shutting down auction server")

		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		mylogger.Error(ctx, logger, "Auction service stopped with error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if producer != nil {
		if err := producer.Close(); err != nil {
			mylogger.Warn(shutdownCtx, logger, "Failed to close kafka producer", zap.Error(err))
		}
	}

	if err := redisClient.Close(); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Failed to close redis", zap.Error(err))
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Failed to shut down telemetry", zap.Error(err))
	} else {
		mylogger.Info(shutdownCtx, logger, "Successfully down telemetry")
	}

	pool.Close()
}
