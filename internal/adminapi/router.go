// Package adminapi is the operator-facing HTTP surface: read-only queue
// stats, the get_limit introspection op, and a live-updating WebSocket feed,
// wired the way the upstream reference's delivery/http package wires its gin
// router — a RouterDeps struct, a global middleware chain, then grouped
// routes, one handler per concern.
package adminapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/qbroker/core/internal/adminapi/middleware"
)

// RouterDeps holds everything NewRouter needs to build the engine.
type RouterDeps struct {
	Registry        Registry
	Logger          *zap.Logger
	Redis           *redis.Client
	RateLimitPerMin int
}

// NewRouter builds the admin HTTP surface: metrics, queue listing, per-queue
// stat/info/get_limit, and a per-queue live stream, all under /api/v1.
func NewRouter(deps *RouterDeps) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(gin.Logger())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	statHandler := NewStatHandler(deps.Registry, deps.Logger)
	wsHandler := NewWebSocketHandler(deps.Registry, deps.Logger)

	v1 := router.Group("/api/v1")
	{
		rateLimited := v1.Group("")
		rateLimited.Use(middleware.RateLimiter(deps.Redis, deps.RateLimitPerMin))
		{
			queues := rateLimited.Group("/queues")
			queues.GET("", statHandler.ListQueues)
			queues.GET("/:name/stat", statHandler.Stat)
			queues.GET("/:name/info", statHandler.Info)
			queues.GET("/:name/get_limit", statHandler.GetLimit)
		}

		// No rate limiting: one long-lived connection per operator dashboard,
		// matching the upstream reference's unthrottled job-status stream route.
		v1.GET("/queues/:name/stream", wsHandler.Stream)
	}

	return router
}
