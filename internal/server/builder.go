package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"keyrelay-go/internal/config"
	"keyrelay-go/internal/handlers/admin"
	"keyrelay-go/internal/handlers/relay"
	"keyrelay-go/internal/logging"
	mw "keyrelay-go/internal/middleware"
	"keyrelay-go/internal/pool"
	"keyrelay-go/internal/session"
	"keyrelay-go/internal/storage"
	"keyrelay-go/internal/token"
	"keyrelay-go/internal/upstream"
	"keyrelay-go/internal/version"
)

// Dependencies encapsulates runtime services required to build the HTTP engine.
type Dependencies struct {
	Store         *token.Store
	Cache         *session.Cache
	Guard         *session.Guard
	Pool          *pool.Pool
	Upstream      *upstream.Client
	Storage       storage.Backend
	ConfigManager *config.ConfigManager
}

// BuildEngine 组装中间件栈与全部路由
func BuildEngine(cfg *config.Config, deps Dependencies) *gin.Engine {
	if cfg.Security.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(mw.Recovery())
	engine.Use(mw.RequestID())
	engine.Use(mw.CORS())
	engine.Use(mw.Metrics())
	if cfg.Security.RequestLogEnabled {
		engine.Use(mw.RequestLogger())
	}
	if cfg.RateLimit.Enabled {
		engine.Use(mw.RateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}

	logging.InstallWebSocketLogging()

	relayHandler := relay.New(deps.Guard, deps.Pool, deps.Upstream, cfg.Upstream.Model)
	adminHandler := admin.New(deps.Store, deps.Cache, deps.Pool, deps.Storage, deps.ConfigManager)
	authCfg := NewManagementAuthConfig(cfg)

	root := engine.Group(cfg.Server.BasePath)

	root.GET("/health", adminHandler.Health)
	root.GET("/metrics", gin.WrapH(promhttp.Handler()))
	root.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"version": version.Version})
	})

	v1 := root.Group("/v1")
	{
		v1.POST("/relay", relayHandler.Relay)
		v1.GET("/models", relayHandler.Models)
	}

	mgmt := root.Group("/api/management", ManagementAuth(authCfg))
	{
		mgmt.POST("/tokens", adminHandler.CreateToken)
		mgmt.GET("/tokens", adminHandler.ListTokens)
		mgmt.DELETE("/tokens/:id", adminHandler.DeleteToken)
		mgmt.PATCH("/tokens/:id", adminHandler.RenameToken)

		mgmt.POST("/cache/flush", adminHandler.FlushCache)
		mgmt.GET("/pool", adminHandler.PoolSnapshot)
		mgmt.GET("/storage", adminHandler.StorageStats)
		mgmt.POST("/rotate-key", adminHandler.RotateManagementKey)

		mgmt.GET("/logs", adminHandler.LogHistory)
		mgmt.GET("/logs/ws", adminHandler.LogStream)
	}

	return engine
}
