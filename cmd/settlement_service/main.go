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
	"github.com/tradewind-settlement/internal/data/mongo"
	"github.com/tradewind-settlement/internal/data/postgres"
	"github.com/tradewind-settlement/internal/logger"
	"github.com/tradewind-settlement/internal/platform/messaging/consumers"
	"github.com/tradewind-settlement/internal/platform/messaging/producers"
	"github.com/tradewind-settlement/internal/platform/persistence"
	"github.com/tradewind-settlement/internal/reconciliation"
	"github.com/tradewind-settlement/internal/sagas"
	"github.com/tradewind-settlement/internal/settlement"
)

func main() {
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	cfg, err := config.LoadConfig("settlement_service")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg)

	log.Info("Starting Settlement Service",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}

	// Repositories
	accountRepo := postgres.NewAccountRepository(log, postgresDB)
	reservationRepo := postgres.NewReservationRepository(log, postgresDB)
	positionRepo := postgres.NewPositionRepository(log, postgresDB)
	ledgerRepo := postgres.NewLedgerRepository(log, postgresDB)
	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)
	sagaRepo := postgres.NewSagaRepository(log, postgresDB)
	processedEventRepo := postgres.NewProcessedEventRepository(log, postgresDB)
	deadLetterStore := mongo.NewDeadLetterRepository(log, mongoDB.Database())

	// Core settlement service
	settlementSvc := settlement.NewSettlementService(
		postgresDB,
		accountRepo,
		reservationRepo,
		positionRepo,
		ledgerRepo,
		outboxRepo,
		sagaRepo,
		&cfg.Settlement,
		log,
	)

	// Metrics registry shared by all background components
	registry := prometheus.NewRegistry()

	// Reconciliation auditor
	auditor, err := reconciliation.NewAuditor(
		&cfg.Reconciliation,
		accountRepo,
		ledgerRepo,
		reconciliation.NewMetrics(registry),
		logger.ForComponent(log, "reconciliation"),
	)
	if err != nil {
		log.Error("Failed to initialize reconciliation auditor", "error", err)
		os.Exit(1)
	}

	// Timeout scheduler
	scheduler := sagas.NewScheduler(
		&cfg.Scheduler,
		postgresDB,
		sagaRepo,
		reservationRepo,
		outboxRepo,
		settlementSvc,
		logger.ForComponent(log, "scheduler"),
	)

	// Compensation orchestrator with its trigger consumer and DLQ backstop
	dlqProducer, err := producers.NewDLQProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize DLQ Kafka producer", "error", err)
		os.Exit(1)
	}

	compensator, err := sagas.NewCompensator(
		&cfg.Compensation,
		cfg.WorkerPool.Size,
		settlementSvc,
		processedEventRepo,
		deadLetterStore,
		dlqProducer,
		logger.ForComponent(log, "compensator"),
	)
	if err != nil {
		log.Error("Failed to initialize compensator", "error", err)
		os.Exit(1)
	}

	triggerConsumer := consumers.NewKafkaConsumer(appCtx, log, &cfg.Kafka, cfg.Kafka.CompensationTopic, cfg.Kafka.ConsumerGroup)

	// HTTP API
	server := api.NewServer(log, cfg, settlementSvc, registry)

	errChan := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Start(appCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		auditor.Start(appCtx)
	}()

	if err := compensator.Start(appCtx, triggerConsumer); err != nil {
		log.Error("Failed to start compensator", "error", err)
		os.Exit(1)
	}

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

	compensator.Shutdown()

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

	if dlqProducer != nil {
		if err := dlqProducer.Close(); err != nil {
			log.Error("Error closing DLQ Kafka producer", "error", err)
		}
	}
	if err := triggerConsumer.Close(); err != nil {
		log.Error("Error closing Kafka consumer", "error", err)
	}

	postgresDB.Close()
	if err := mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	if serviceErr != nil {
		log.Error("Settlement Service shutdown with errors", "error", serviceErr)
		os.Exit(1)
	}
	log.Info("Settlement Service shutdown completed successfully")
}
