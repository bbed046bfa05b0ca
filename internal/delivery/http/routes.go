package http

import (
	"github.com/gin-gonic/gin"
	"github.com/pricelens/backend/config"
	"go.uber.org/zap"
)

// SetupRouter creates and configures the Gin router
func SetupRouter(cfg *config.Config, handler *Handler, logger *zap.Logger) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(RecoveryMiddleware())
	router.Use(LoggerMiddleware(logger))
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))

	router.GET("/health", handler.HealthCheck)
	if handler.metrics != nil {
		router.GET("/metrics", gin.WrapH(handler.metrics))
	}

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		v1.POST("/hunts", handler.StartHunt)
	}

	return router
}
