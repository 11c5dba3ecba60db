package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shintairiku/cohere-rag/internal/middleware"
)

type RouterDeps struct {
	Tenants *TenantHandler
	Sync    *SyncHandler
	Search  *SearchHandler
	Health  *HealthHandler

	// Zero disables rate limiting. Health is never limited.
	RateLimitWindow time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/health", deps.Health.Check)

	limited := api.Group("")
	if deps.RateLimitWindow > 0 {
		limited.Use(middleware.RateLimit(deps.RateLimitWindow))
	}

	limited.POST("/tenants", deps.Tenants.Create)
	limited.GET("/tenants", deps.Tenants.List)
	limited.GET("/tenants/:id", deps.Tenants.Get)
	limited.PUT("/tenants/:id", deps.Tenants.Update)
	limited.DELETE("/tenants/:id", deps.Tenants.Delete)
	limited.GET("/tenants/:id/backups", deps.Tenants.ListBackups)
	limited.POST("/tenants/:id/restore", deps.Tenants.Restore)

	limited.POST("/tenants/:id/sync", deps.Sync.Trigger)
	limited.GET("/tenants/:id/runs", deps.Sync.ListRuns)
	limited.POST("/batch-sync", deps.Sync.TriggerBatch)

	limited.GET("/search", deps.Search.SearchGet)
	limited.POST("/search", deps.Search.Search)
}
