package api

import (
	"time"

	"github.com/apk-analysis/apk-risk-analyzer/internal/api/handlers"
	"github.com/apk-analysis/apk-risk-analyzer/internal/config"
	"github.com/apk-analysis/apk-risk-analyzer/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Files    *handlers.FileHandler
	Reports  *handlers.ReportHandler
	Profiles *handlers.WeightProfileHandler
	Stream   *handlers.ReportStream
}

func SetupRouter(cfg *config.Config, logger *logrus.Logger, h Handlers, memMonitor *middleware.MemoryMonitor, promMetrics *middleware.PrometheusMetrics) *gin.Engine {
	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	// Prometheus 监控中间件
	if promMetrics != nil {
		r.Use(promMetrics.HTTPMiddleware())
		r.GET("/metrics", promMetrics.Handler())
	}

	// 内存监控端点
	if memMonitor != nil {
		r.GET("/api/system/memory", memMonitor.MemoryEndpoint())
	}

	// 报告推送
	if h.Stream != nil {
		r.GET("/ws/reports", h.Stream.HandleWebSocket)
	}

	// 健康检查（无需认证）
	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"version": "1.0.0",
		})
	})

	v1 := r.Group("/api")
	v1.Use(middleware.AuthMiddleware(cfg.Server.APIToken))
	{
		// 分析
		v1.POST("/analyze", h.Files.Analyze)
		v1.GET("/tasks/:id", h.Reports.GetTask)
		v1.GET("/stats", h.Reports.GetStats)

		// 报告
		v1.GET("/reports", h.Reports.ListReports)
		v1.GET("/reports/:id", h.Reports.GetReport)
		v1.DELETE("/reports/:id", h.Reports.DeleteReport)

		// 评分权重
		v1.GET("/weight-profiles", h.Profiles.List)
		v1.POST("/weight-profiles", h.Profiles.Create)
		v1.GET("/weight-profiles/:id", h.Profiles.Get)
		v1.PUT("/weight-profiles/:id", h.Profiles.Update)
		v1.DELETE("/weight-profiles/:id", h.Profiles.Delete)
	}

	return r
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)
		statusCode := c.Writer.Status()

		entry := logger.WithFields(logrus.Fields{
			"status":  statusCode,
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"latency": latency.Milliseconds(),
		})
		if len(c.Errors) > 0 {
			entry.WithField("errors", c.Errors.String()).Error("HTTP Request")
			return
		}
		entry.Info("HTTP Request")
	}
}

// CORSMiddleware CORS 中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
