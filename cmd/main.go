package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"alert-dispatcher/internal/api"
	"alert-dispatcher/internal/composer"
	"alert-dispatcher/internal/config"
	"alert-dispatcher/internal/db"
	"alert-dispatcher/internal/kafka"
	"alert-dispatcher/internal/logging"
	"alert-dispatcher/internal/metrics"
	"alert-dispatcher/internal/notification"
	"alert-dispatcher/internal/providers"
	"alert-dispatcher/internal/scheduler"
	"alert-dispatcher/pkg/telegram"
)

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(logging.Options{
		Dir:        cfg.Logging.Dir,
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DB.Migrate {
		if err := db.MigrateUp(cfg.DB.DSN); err != nil {
			logger.Fatalf("Database migration failed: %v", err)
		}
	}

	// Connect to database
	dbConn, err := db.New(ctx, cfg.DB.DSN, logging.Component(logger, "db"))
	if err != nil {
		logger.Fatalf("Database connection failed: %v", err)
	}
	defer dbConn.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatalf("Invalid time zone: %v", err)
	}
	client := telegram.NewClient(telegram.Options{
		ServerURL:     cfg.Telegram.APIURL,
		Timeout:       cfg.Telegram.Timeout,
		UploadTimeout: cfg.Telegram.UploadTimeout,
	}, logging.Component(logger, "telegram"))
	sender := providers.NewTelegramProvider(client, cfg.Telegram.RateLimit, logging.Component(logger, "telegram"))

	hub := api.NewStatusHub(logging.Component(logger, "ws"))
	deliverer := notification.NewDeliverer(dbConn, sender, composer.New(loc, cfg.Media.BaseURL), notification.DelivererOptions{
		UploadDir:           cfg.Media.UploadDir,
		MaxAttempts:         cfg.Notification.MaxAttempts,
		FailFastCredentials: cfg.Telegram.FailFastCredentials,
	}, m, logging.Component(logger, "worker"))
	deliverer.SetPublisher(hub)

	// Initialize notification service
	svc := notification.New(dbConn, deliverer, notification.Options{
		QueueSize:   cfg.Notification.QueueSize,
		MaxWorkers:  cfg.Notification.MaxWorkers,
		MaxAttempts: cfg.Notification.MaxAttempts,
		RetryDelay:  cfg.Notification.RetryDelay,
	}, m, logging.Component(logger, "worker"))

	var wg sync.WaitGroup
	var dispatcher notification.Dispatcher = svc
	switch cfg.Notification.Dispatch {
	case config.DispatchKafka:
		kcfg := kafka.Config{Broker: cfg.Kafka.Broker, Topic: cfg.Kafka.Topic, GroupID: cfg.Kafka.GroupID}
		producer := kafka.NewProducer(kcfg, logging.Component(logger, "kafka"))
		defer producer.Close()
		svc.SetRetryDispatcher(producer)
		dispatcher = producer

		for i := 0; i < cfg.Notification.MaxWorkers; i++ {
			consumer := kafka.NewConsumer(kcfg, svc, logging.Component(logger, "kafka"))
			defer consumer.Close()
			consumer.Start(ctx, &wg)
		}
		logger.Infof("Kafka dispatch enabled on topic %s", cfg.Kafka.Topic)
	default:
		svc.Start(&wg)
	}

	scheduler.New(dbConn, dispatcher, cfg.Scheduler.Interval, cfg.Scheduler.BatchSize, m, logging.Component(logger, "scheduler")).
		Start(ctx, &wg)

	// Start API server
	handler := api.NewHandler(dbConn, deliverer, hub, logging.Component(logger, "api"))
	srv := &http.Server{
		Addr:    cfg.API.Port,
		Handler: api.NewRouter(handler, registry, logging.Component(logger, "api"), cfg.API.BasePath),
	}
	go func() {
		logger.Infof("Starting API server on %s", cfg.API.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("API server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("API server shutdown failed: %v", err)
	}
	svc.Stop()
	wg.Wait()
	logger.Info("Stopped")
}
