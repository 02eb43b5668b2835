package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"

	"github.com/mcpwatch/mcpwatch/pkg/tracing"
	"github.com/mcpwatch/mcpwatch/services/watcher/internal/config"
	"github.com/mcpwatch/mcpwatch/services/watcher/internal/handler"
	"github.com/mcpwatch/mcpwatch/services/watcher/internal/kafka"
	"github.com/mcpwatch/mcpwatch/services/watcher/internal/logger"
	"github.com/mcpwatch/mcpwatch/services/watcher/internal/metrics"
	"github.com/mcpwatch/mcpwatch/services/watcher/internal/poller"
	"github.com/mcpwatch/mcpwatch/services/watcher/internal/registry"
	"github.com/mcpwatch/mcpwatch/services/watcher/internal/router"
	"github.com/mcpwatch/mcpwatch/services/watcher/internal/service"
	"github.com/mcpwatch/mcpwatch/services/watcher/internal/snapshot"
	"github.com/mcpwatch/mcpwatch/services/watcher/internal/storage"
)

const serviceName = "watcher"

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

	dbPool, err := storage.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		l.Error("Failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbPool.Close()

	store := storage.NewPostgresStorage(dbPool)

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.ClientID = "mcpwatch-watcher"

	asyncProducer, err := sarama.NewAsyncProducer(cfg.KafkaBrokers, saramaConfig)
	if err != nil {
		l.Error("Failed to create Kafka producer", slog.Any("error", err))
		os.Exit(1)
	}

	var wg sync.WaitGroup
	tracer := tracing.NewTracer(tracing.GetTracer(serviceName))
	changeProducer := kafka.NewProducer(asyncProducer, cfg.KafkaTopic, l, &wg, tracer)
	changeProducer.Start(ctx)
	defer changeProducer.Close(context.Background())

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	registryClient := registry.NewClient(
		cfg.RegistryURL,
		cfg.PageSize,
		cfg.RequestTimeout,
		cfg.RetryAttempts,
		cfg.RetryDelay,
		httpClient,
		l,
	)

	p := poller.NewPoller(
		registryClient,
		snapshot.NewBuilder(),
		store,
		changeProducer,
		cfg.PollInterval,
		l,
	)

	healthSvc := service.NewHealthService(store, l)
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

	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("Poller stopped with error", slog.Any("error", err))
	}

	l.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Error("Ops server shutdown failed", slog.Any("error", err))
	}

	l.Info("Watcher exited cleanly")
}
