package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "tempmail/inboxsync/docs" // Swagger 文档
	"tempmail/inboxsync/internal/auth/jwt"
	"tempmail/inboxsync/internal/config"
	"tempmail/inboxsync/internal/health"
	"tempmail/inboxsync/internal/middleware"
	"tempmail/inboxsync/internal/monitoring"
	"tempmail/inboxsync/internal/viewer"
	"tempmail/inboxsync/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config       *config.Config
	Viewers      *viewer.Registry
	Tokens       *jwt.Manager
	WebSocketHub *websocket.Hub           // 可选
	Health       *health.HealthChecker    // 可选
	Metrics      *monitoring.Metrics      // 可选
	Alerts       *monitoring.AlertManager // 可选
	Logger       *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, log)
	router.Use(monitor.PanicRecovery())
	router.Use(monitor.HTTPMetrics())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))
	router.Use(gincors.New(corsConfig(deps.Config.CORS.AllowedOrigins)))

	// 健康检查
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	} else {
		router.GET("/health/live", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}

	// 监控
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}
	if deps.Alerts != nil {
		router.GET("/alerts", func(c *gin.Context) {
			Success(c, deps.Alerts.GetActiveAlerts())
		})
	}

	// API 文档
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	viewerHandler := NewViewerHandler(deps.Viewers, deps.Tokens, log)
	inboxHandler := NewInboxHandler(log)
	viewerAuth := middleware.NewViewerAuth(deps.Tokens, deps.Viewers, log)

	v1 := router.Group("/api/v1")
	{
		// ========== Viewer Routes ==========
		v1.POST("/viewers", viewerHandler.Create)
		v1.DELETE("/viewers/current", viewerAuth.RequireViewer(), viewerHandler.Delete)

		// ========== Inbox Routes ==========
		inboxRoutes := v1.Group("/inbox")
		inboxRoutes.Use(viewerAuth.RequireViewer())
		{
			inboxRoutes.GET("", inboxHandler.Get)
			inboxRoutes.POST("/session", inboxHandler.NewSession)
			inboxRoutes.POST("/refresh", inboxHandler.Refresh)
			inboxRoutes.POST("/messages/:id/expand", inboxHandler.Expand)
		}

		// ========== WebSocket Routes ==========
		if deps.WebSocketHub != nil {
			v1.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
		}
	}

	return router
}

// corsConfig 构建 CORS 配置，允许所有来源时关闭凭证支持
func corsConfig(origins []string) gincors.Config {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	cfg := gincors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Viewer-Token"},
		ExposeHeaders:    []string{"Content-Length", "X-Max-Body-Size"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowCredentials = false
			break
		}
	}
	return cfg
}
