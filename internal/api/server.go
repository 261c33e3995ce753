package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tradewind-settlement/internal/api/handler"
	"github.com/tradewind-settlement/internal/config"
	"github.com/tradewind-settlement/internal/relay"
	"github.com/tradewind-settlement/internal/settlement"
)

// Server handles HTTP requests and manages the listener's lifecycle
type Server struct {
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates the settlement service's HTTP server
func NewServer(log *slog.Logger, cfg *config.Config, settlementSvc settlement.Service, gatherer prometheus.Gatherer) *Server {
	httpRouter := newEngine(cfg)

	accountHandler := handler.NewAccountHandler(log, settlementSvc)
	reservationHandler := handler.NewReservationHandler(log, settlementSvc)
	settlementHandler := handler.NewSettlementHandler(log, settlementSvc)

	setupRouter(log, httpRouter, accountHandler, reservationHandler, settlementHandler, gatherer)

	return &Server{
		logger:     log,
		httpServer: newHTTPServer(cfg, httpRouter),
	}
}

// NewOpsServer creates the change relay's operational HTTP server, exposing
// only health and metrics
func NewOpsServer(log *slog.Logger, cfg *config.Config, health *relay.HealthTracker, gatherer prometheus.Gatherer) *Server {
	httpRouter := newEngine(cfg)
	setupOpsRouter(log, httpRouter, health, gatherer)

	return &Server{
		logger:     log,
		httpServer: newHTTPServer(cfg, httpRouter),
	}
}

func newEngine(cfg *config.Config) *gin.Engine {
	if cfg.Application.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	return gin.New()
}

func newHTTPServer(cfg *config.Config, router *gin.Engine) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.httpServer.WriteTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop HTTP server: %w", err)
	}

	return nil
}
