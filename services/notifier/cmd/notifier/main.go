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

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mcpwatch/mcpwatch/pkg/tracing"
	"github.com/mcpwatch/mcpwatch/services/notifier/internal/config"
	"github.com/mcpwatch/mcpwatch/services/notifier/internal/digest"
	"github.com/mcpwatch/mcpwatch/services/notifier/internal/dispatch"
	"github.com/mcpwatch/mcpwatch/services/notifier/internal/handler"
	"github.com/mcpwatch/mcpwatch/services/notifier/internal/kafka"
	"github.com/mcpwatch/mcpwatch/services/notifier/internal/logger"
	"github.com/mcpwatch/mcpwatch/services/notifier/internal/metrics"
	"github.com/mcpwatch/mcpwatch/services/notifier/internal/router"
	"github.com/mcpwatch/mcpwatch/services/notifier/internal/service"
	"github.com/mcpwatch/mcpwatch/services/notifier/internal/store"
	"github.com/mcpwatch/mcpwatch/services/notifier/internal/subs"
)

const serviceName = "notifier"

func main() {
	l := logger.NewLogger()
	slog.SetDefault(l)

	metrics.Init()

	if err := godotenv.Load(); err != nil {
		l.Debug("No .env file loaded", slog.Any("error", err))
	}

	cfg, err := config.Load()
	if err != nil {
		l.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerShutdown, err := tracing.Setup(ctx, serviceName, l)
	if err != nil {
		l.Error("Failed to initialize tracing", slog.Any("error", err))
		os.Exit(1)
	}
	defer tracerShutdown(context.Background())

	db, err := store.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		l.Error("Failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	storage := store.NewPostgresStorage(db)

	if cfg.SubscriptionsFile != "" {
		loader := subs.NewLoader(cfg.SubscriptionsFile, storage, l)
		if err := loader.Load(ctx); err != nil {
			l.Error("Failed to load bootstrap subscriptions", slog.Any("error", err))
			os.Exit(1)
		}
		go func() {
			if err := loader.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				l.Error("Subscription file watch stopped", slog.Any("error", err))
			}
		}()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	mailer := dispatch.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom)
	digestQueue := digest.NewQueue(rdb)
	flusher := digest.NewFlusher(digestQueue, mailer, cfg.DigestInterval, l)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	dispatcher := dispatch.NewDispatcher(l, httpClient, mailer, digestQueue)

	notificationSvc := service.NewNotificationService(storage, dispatcher, l, service.Options{
		WorkerLimit:    cfg.WorkerLimit,
		Interval:       cfg.WorkerInterval,
		AbandonOnPause: cfg.AbandonOnPause,
	})

	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.ClientID = "mcpwatch-notifier"

	consumerGroup, err := sarama.NewConsumerGroup(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, saramaConfig)
	if err != nil {
		l.Error("Failed to create Kafka consumer group", slog.Any("error", err))
		os.Exit(1)
	}

	tracer := tracing.NewTracer(tracing.GetTracer(serviceName))
	consumer := kafka.NewConsumer(cfg.KafkaTopic, consumerGroup, notificationSvc, l, tracer)

	healthSvc := service.NewHealthService(storage, l)
	healthHandler := handler.NewHealthHandler(healthSvc, l)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router.NewRouter(healthHandler),
	}

	go func() {
		l.Info("Ops server started", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("Ops server failed", slog.Any("error", err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Start(gctx) })
	g.Go(func() error { return notificationSvc.Run(gctx) })
	g.Go(func() error { return flusher.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("Notifier stopped with error", slog.Any("error", err))
	}

	l.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Error("Ops server shutdown failed", slog.Any("error", err))
	}

	l.Info("Notifier exited cleanly")
}
