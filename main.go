// main.go
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"rideshare-escrow/cmd"
	"rideshare-escrow/internal/chat"
	"rideshare-escrow/internal/data/repository"
	"rideshare-escrow/internal/gateway"
	"rideshare-escrow/internal/notify"
	"rideshare-escrow/internal/usecase"
	"rideshare-escrow/internal/wire"
	"rideshare-escrow/pkg/database"
	"rideshare-escrow/pkg/utils"

	"go.uber.org/zap"
)

const webhookDedupeTTL = 24 * time.Hour

func main() {
	// Load config
	config, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := utils.InitLogger(config.App.LogPath, config.App.Debug)
	if err != nil {
		log.Printf("Failed to init logger: %v. Using standard log.", err)
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	logger.Info("Starting application",
		zap.String("app", config.App.Name),
		zap.String("port", config.App.Port),
		zap.Bool("debug", config.App.Debug),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	db, err := database.InitDB(config.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	logger.Info("Database connected successfully")

	// Initialize all repositories
	repos := repository.NewRepository(db, logger)

	hub := chat.NewHub(logger)
	deps := usecase.Dependencies{Relay: hub}

	// Redis: webhook de-duplication and the cross-instance chat bus
	if config.Redis.URL != "" {
		rdb, err := database.InitRedis(config.Redis.URL)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()

		bus := chat.NewRedisBus(hub, rdb, logger)
		go bus.Run(ctx)

		deps.Relay = bus
		deps.Dedupe = repository.NewWebhookDedupe(rdb, webhookDedupeTTL, logger)
		logger.Info("Redis connected successfully")
	} else {
		logger.Warn("REDIS_URL not set, webhook de-duplication and chat fan-out are local only")
	}

	// RabbitMQ: notifications
	if config.AMQP.URL != "" {
		publisher, err := notify.NewPublisher(ctx, config.AMQP.URL, config.AMQP.NotifyExchange, logger)
		if err != nil {
			logger.Fatal("Failed to connect to rabbitmq", zap.Error(err))
		}
		defer publisher.Close()
		deps.Notifier = publisher
	} else {
		deps.Notifier = notify.NewLogSink(logger)
	}

	gw := gateway.NewClient(gateway.ClientConfig{
		BaseURL:   config.Gateway.BaseURL,
		SecretKey: config.Gateway.SecretKey,
		Timeout:   config.Gateway.Timeout,
	}, logger)
	deps.Gateway = gw
	deps.Registry = gateway.NewDefaultRegistry(gw)

	// Wire all dependencies
	app := wire.Wiring(repos, deps, hub, db, config, logger)

	go app.Service.Reconciler.Run(ctx)

	// Start server
	if err := cmd.APIServer(ctx, app.Router, config.App.Port, logger); err != nil {
		logger.Error("Server stopped", zap.Error(err))
	}
}
