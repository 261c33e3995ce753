package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tradewind-settlement/internal/api"
	"github.com/tradewind-settlement/internal/config"
	"github.com/tradewind-settlement/internal/data/postgres"
	"github.com/tradewind-settlement/internal/logger"
	"github.com/tradewind-settlement/internal/platform/messaging/producers"
	"github.com/tradewind-settlement/internal/platform/persistence"
	"github.com/tradewind-settlement/internal/relay"
)

func main() {
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	cfg, err := config.LoadConfig("change_relay")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg)

	log.Info("Starting Change Relay",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)

	eventPublisher, err := producers.NewEventPublisher(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize event publisher", "error", err)
		os.Exit(1)
	}

	triggerProducer, err := producers.NewCompensationTriggerProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize compensation trigger producer", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	health := relay.NewHealthTracker(cfg.Relay.StalenessWindow)

	changeRelay := relay.NewRelay(
		&cfg.Relay,
		relay.NewOutboxTail(outboxRepo, log),
		eventPublisher,
		triggerProducer,
		outboxRepo,
		health,
		relay.NewMetrics(registry),
		logger.ForComponent(log, "relay"),
	)

	server := api.NewOpsServer(log, cfg, health, registry)

	errChan := make(chan error, 1)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		changeRelay.Start(appCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting operational HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	var serviceErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
		serviceErr = err
	}

	cancelAppCtx()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	log.Info("Starting graceful shutdown...")

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping HTTP server", "error", err)
	}

	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(wgChan)
	}()

	select {
	case <-wgChan:
		log.Info("All services stopped successfully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	if err := eventPublisher.Close(); err != nil {
		log.Error("Error closing event publisher", "error", err)
	}
	if err := triggerProducer.Close(); err != nil {
		log.Error("Error closing compensation trigger producer", "error", err)
	}
	postgresDB.Close()

	if serviceErr != nil {
		log.Error("Change Relay shutdown with errors", "error", serviceErr)
		os.Exit(1)
	}
	log.Info("Change Relay shutdown completed successfully")
}
