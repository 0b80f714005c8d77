package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sami/medbank/internal/api/handler"
	"github.com/sami/medbank/internal/api/middleware"
	"github.com/sami/medbank/internal/config"
	"github.com/sami/medbank/internal/logger"
)

// Dependencies bundles everything the router needs.
type Dependencies struct {
	ImportHandler *handler.ImportHandler
	AIHandler     *handler.AIHandler
	Logger        *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	// Set Gin mode
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Logger))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	}))

	healthHandler := handler.NewHealthHandler()

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Imports
		v1.POST("/imports", deps.ImportHandler.StartImport)
		v1.GET("/imports/:id", deps.ImportHandler.GetImport)
		v1.GET("/imports/:id/stream", deps.ImportHandler.StreamImport)
		v1.POST("/imports/:id/cancel", deps.ImportHandler.CancelImport)

		// AI correction
		v1.POST("/ai/correct", deps.AIHandler.Correct)
	}

	return r
}
