// Package api wires the HTTP surface: public bet routes and the API-key
// protected processor routes.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/atomikwallet/settlement/internal/api/handler"
	"github.com/atomikwallet/settlement/internal/api/middleware"
	"github.com/atomikwallet/settlement/internal/config"
	"github.com/atomikwallet/settlement/internal/queue"
	"github.com/atomikwallet/settlement/internal/service"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	BetSvc *service.BetService
	Store  *queue.Store
	Cfg    *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── Health check ─────────────────────────────────────────────────────────
	// Degraded when the queue is unreachable: new bets cannot be accepted.
	r.GET("/health", func(c *gin.Context) {
		if err := deps.Store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── Handlers ─────────────────────────────────────────────────────────────
	betH := handler.NewBetHandler(deps.BetSvc)
	externalH := handler.NewExternalHandler(deps.BetSvc)

	// ── Rate limiters ─────────────────────────────────────────────────────────
	betRL := middleware.RateLimitMiddleware(30) // 30 req/s per IP for bet endpoints

	api := r.Group("/api")
	{
		// ── Bets (public) ────────────────────────────────────────────────────
		bets := api.Group("/bets")
		bets.Use(betRL)
		{
			bets.POST("", betH.PlaceBet)
			bets.GET("/:id", betH.GetBetByID)
			bets.GET("/user/:wallet", betH.GetUserBets)
		}

		// ── External processor routes (API key) ──────────────────────────────
		external := api.Group("/external")
		external.Use(middleware.APIKeyMiddleware(deps.Cfg.Server.ExternalAPIKey))
		{
			external.GET("/bets/pending", externalH.GetPendingBets)
			external.POST("/batches/:batchId", externalH.UpdateBatch)
			external.GET("/batches/:batchId", externalH.GetBatchSummary)
		}
	}

	return r
}
