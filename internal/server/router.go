package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/adaptivity-backend/internal/handlers"
	"github.com/yungbote/adaptivity-backend/internal/middleware"
)

type RouterConfig struct {
	AllowedOrigins   []string
	AuthHandler      *handlers.AuthHandler
	AuthMiddleware   *middleware.AuthMiddleware
	SelectionHandler *handlers.SelectionHandler
	TelemetryHandler *handlers.TelemetryHandler
	SessionHandler   *handlers.SessionHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("adaptivity-backend"))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// Public
	router.GET("/healthcheck", handlers.HealthCheck)
	router.POST("/register", cfg.AuthHandler.Register)
	router.POST("/login", cfg.AuthHandler.Login)

	// Protected
	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())
	api.POST("/select", cfg.SelectionHandler.Select)
	api.POST("/telemetry/answer", cfg.TelemetryHandler.Answer)
	api.POST("/telemetry/navigation", cfg.TelemetryHandler.Navigation)
	api.POST("/telemetry/idle", cfg.TelemetryHandler.Idle)
	api.POST("/telemetry/batch", cfg.TelemetryHandler.Batch)
	api.GET("/session/:lessonId", cfg.SessionHandler.Get)
	api.PATCH("/session/:lessonId/preferences", cfg.SessionHandler.PatchPreferences)

	return router
}

// SplitOrigins parses a comma-separated origin list from configuration.
func SplitOrigins(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
