package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tradewind-settlement/internal/api/handler"
	"github.com/tradewind-settlement/internal/api/middleware"
	"github.com/tradewind-settlement/internal/relay"
)

// setupRouter configures API routes and middleware for the settlement service
func setupRouter(
	logger *slog.Logger,
	r *gin.Engine,
	accountHandler *handler.AccountHandler,
	reservationHandler *handler.ReservationHandler,
	settlementHandler *handler.SettlementHandler,
	gatherer prometheus.Gatherer,
) {
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CorrelationID())

	v1 := r.Group("/api/v1")
	{
		accounts := v1.Group("/accounts")
		{
			accounts.POST("", accountHandler.Create)
			accounts.GET("/:userId", accountHandler.GetByUserID)
			accounts.POST("/:userId/deposits", accountHandler.Deposit)
		}

		reservations := v1.Group("/reservations")
		{
			reservations.POST("/cash", reservationHandler.ReserveCash)
			reservations.POST("/stocks", reservationHandler.ReserveStocks)
			reservations.POST("/confirm", reservationHandler.Confirm)
			reservations.DELETE("/:orderId", reservationHandler.Release)
		}

		v1.POST("/settlements", settlementHandler.SettleTrade)
	}

	mountOps(r, nil, gatherer)
}

// setupOpsRouter configures the change relay's operational surface
func setupOpsRouter(logger *slog.Logger, r *gin.Engine, health *relay.HealthTracker, gatherer prometheus.Gatherer) {
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CorrelationID())

	mountOps(r, health, gatherer)
}

func mountOps(r *gin.Engine, health *relay.HealthTracker, gatherer prometheus.Gatherer) {
	r.GET("/health", func(c *gin.Context) {
		if health == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
			return
		}

		status := health.Status()
		code := http.StatusOK
		if !health.IsHealthy() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}
