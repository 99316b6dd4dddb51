package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/record-ingestion-service/internal/auth"
	"github.com/PratikDhanave/record-ingestion-service/internal/config"
	"github.com/PratikDhanave/record-ingestion-service/internal/handlers"
	"github.com/PratikDhanave/record-ingestion-service/internal/ledger"
	"github.com/PratikDhanave/record-ingestion-service/internal/store"
)

// Deps are the long-lived handles the router serves from.
type Deps struct {
	Ingester handlers.Ingester
	Store    store.Store
	Ledger   ledger.Ledger
}

// NewRouter wires public endpoints and authenticated APIs.
// Public: /health, /ready
// Authenticated: /transactions, /applications, /artifacts
func NewRouter(cfg config.Config, d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: confirms the ledger and store are reachable.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := d.Ledger.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "component": "ledger", "error": err.Error()})
			return
		}
		if err := d.Store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "component": "store", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Auth group requires a caller identity via bearer token.
	authGroup := r.Group("/")
	authGroup.Use(auth.CallerMiddleware(cfg.APIKeys))

	handlers.RegisterIngestRoutes(authGroup, d.Ingester, cfg.MaxBodyBytes)
	handlers.RegisterArtifactRoutes(authGroup, d.Store, d.Ledger)

	return r
}
