package api

import (
	"tillsync/internal/metrics"
	"tillsync/internal/middleware"
	"tillsync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type RouterConfig struct {
	Tokens            *service.TokenService
	TerminalKey       string
	DevMode           bool
	Redis             *redis.Client // optional
	RequestsPerSecond int
}

func RegisterRoutes(queueHandler *QueueHandler, streamHandler *StreamHandler, controlHandler *ControlHandler, interceptHandler *InterceptHandler, cfg RouterConfig) *gin.Engine {
	r := gin.New()

	r.Use(
		middleware.CorsMiddleware(),
		middleware.TraceMiddleware(),
		middleware.GinZapLogger(),
		middleware.GinZapRecovery(),
		middleware.MetricsMiddleware(),
	)
	r.SetTrustedProxies(nil)

	r.GET("/health", queueHandler.HealthCheck)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Foreground contexts of this terminal
	terminal := r.Group("/v1")
	terminal.Use(middleware.TerminalKeyMiddleware(cfg.TerminalKey))
	{
		terminal.GET("/stream", streamHandler.Watch)
		terminal.POST("/control", controlHandler.Control)
		terminal.GET("/connectivity", controlHandler.GetConnectivity)
		terminal.POST("/connectivity", controlHandler.SetConnectivity)
	}

	// Queue administration
	admin := r.Group("/v1/queue")
	admin.Use(middleware.JWTMiddleware(cfg.Tokens, cfg.DevMode))

	writeLimiter := middleware.RateLimitMiddleware(cfg.Redis, cfg.RequestsPerSecond)
	{
		admin.GET("", queueHandler.ListQueue)
		admin.GET("/stats", queueHandler.QueueStats)
		admin.DELETE("", writeLimiter, queueHandler.ClearQueue)
		admin.POST("/:id/requeue", writeLimiter, queueHandler.RequeueOperation)
	}

	// Everything else belongs to the hosted API
	r.NoRoute(interceptHandler.Handle)
	return r
}
