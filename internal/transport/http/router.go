package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ticketmail/backend/internal/config"
	"ticketmail/backend/internal/health"
	"ticketmail/backend/internal/middleware"
	"ticketmail/backend/internal/monitoring"
	"ticketmail/backend/internal/service"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config        *config.Config
	SyncService   *service.SyncService
	TicketService *service.TicketService
	Metrics       *monitoring.Metrics   // 可选
	Health        *health.HealthChecker // 可选
	Logger        *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, logger)
	router.Use(monitor.PanicRecovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(monitor.HTTPMetrics())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Client-Info", "Apikey"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowAllOrigins = true
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	registerHealthRoutes(router, deps.Health)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	syncHandler := NewSyncHandler(deps.SyncService, logger)
	ticketHandler := NewTicketHandler(deps.TicketService, logger)
	jsonOnly := middleware.ValidateContentType("application/json")

	v1 := router.Group("/v1")
	{
		syncRoutes := v1.Group("/sync")
		{
			syncRoutes.POST("", syncHandler.Trigger)
			syncRoutes.GET("/runs", syncHandler.ListRuns)
			syncRoutes.GET("/runs/:id", syncHandler.GetRun)
		}

		ticketRoutes := v1.Group("/tickets")
		{
			ticketRoutes.GET("/:id", ticketHandler.GetTicket)
			ticketRoutes.PATCH("/:id/status", jsonOnly, ticketHandler.UpdateStatus)
		}

		v1.POST("/notifications/ticket-done", jsonOnly, ticketHandler.NotifyTicketDone)
	}

	return router
}

// registerHealthRoutes 注册健康检查路由；未配置检查器时只提供简单的存活响应
func registerHealthRoutes(router *gin.Engine, hc *health.HealthChecker) {
	if hc == nil {
		ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) }
		router.GET("/health", ok)
		router.GET("/health/live", ok)
		router.GET("/health/ready", ok)
		return
	}

	router.GET("/health", func(c *gin.Context) {
		results := hc.CheckHealth()
		status := http.StatusOK
		for name, result := range results {
			if name != "timestamp" && result != "OK" {
				status = http.StatusServiceUnavailable
				break
			}
		}
		c.JSON(status, results)
	})
	router.GET("/health/live", gin.WrapF(hc.LiveEndpoint))
	router.GET("/health/ready", gin.WrapF(hc.ReadyEndpoint))
}
