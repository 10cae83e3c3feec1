package v1

import (
	"certops/api/v1/auth"
	"certops/api/v1/certificates"
	"certops/api/v1/middleware"
	"certops/api/v1/runs"
	"certops/internal/config"
	"certops/internal/httpx"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRouter sets up the API v1 routes
func SetupRouter(r *gin.Engine, db *gorm.DB, cfg *config.Config) {
	v1 := r.Group("/api/v1")
	{
		// Public routes (no authentication required)
		v1.GET("/ping", pingHandler)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", auth.LoginHandler(cfg))
		}

		// Protected routes (authentication required)
		protected := v1.Group("")
		protected.Use(middleware.AuthRequired())
		{
			runsHandler := runs.NewHandler(db)
			runsGroup := protected.Group("/runs")
			{
				runsGroup.POST("", runsHandler.Create)
				runsGroup.GET("", runsHandler.List)
				runsGroup.GET("/:id", runsHandler.Get)
				runsGroup.POST("/:id/retry", runsHandler.Retry)
				runsGroup.GET("/:id/activity", runsHandler.Activity)
			}

			certsHandler := certificates.NewHandler(db)
			certsGroup := protected.Group("/certificates")
			{
				certsGroup.GET("", certsHandler.List)
				certsGroup.GET("/:fingerprint", certsHandler.Get)
			}
		}
	}
}

// pingHandler handles the ping request using unified response
func pingHandler(c *gin.Context) {
	httpx.OK(c, gin.H{
		"pong": true,
	})
}
