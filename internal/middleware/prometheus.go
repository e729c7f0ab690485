package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// PrometheusMetrics Prometheus 指标收集器
type PrometheusMetrics struct {
	logger   *logrus.Logger
	registry *prometheus.Registry

	// HTTP 请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 分析指标
	analysesTotal       *prometheus.CounterVec
	analysisDuration    *prometheus.HistogramVec
	dexResultsTotal     *prometheus.CounterVec
	modelFallbacksTotal prometheus.Counter

	// 任务指标
	tasksTotal *prometheus.CounterVec

	// 系统指标
	memoryUsage     prometheus.Gauge
	goroutinesCount prometheus.Gauge
	gcCount         prometheus.Gauge

	// Worker Pool 指标
	workerPoolQueueSize prometheus.Gauge

	// 数据库指标
	dbConnectionsOpen  prometheus.Gauge
	dbConnectionsInUse prometheus.Gauge

	// 重试指标
	retryAttemptsTotal *prometheus.CounterVec
}

// NewPrometheusMetrics 创建 Prometheus 指标收集器（独立 registry）
func NewPrometheusMetrics(logger *logrus.Logger, namespace string) *PrometheusMetrics {
	if namespace == "" {
		namespace = "apk_risk"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	pm := &PrometheusMetrics{
		logger:   logger,
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latencies in seconds",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"method", "path"},
		),

		analysesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analyses_total",
				Help:      "Total number of completed analyses by risk grade",
			},
			[]string{"grade"},
		),
		analysisDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "analysis_duration_seconds",
				Help:      "Analysis duration in seconds by manifest decode mode",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"decode_mode"},
		),
		dexResultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dex_results_total",
				Help:      "DEX scan outcomes",
			},
			[]string{"status", "parsed"},
		),
		modelFallbacksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_fallbacks_total",
				Help:      "Analyses scored without a model prediction because the model was unavailable",
			},
		),

		tasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Scan task status transitions",
			},
			[]string{"status"}, // queued, analyzing, completed, failed
		),

		memoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_usage_bytes",
				Help:      "Current memory usage in bytes",
			},
		),
		goroutinesCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "goroutines_count",
				Help:      "Current number of goroutines",
			},
		),
		gcCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "gc_count",
				Help:      "Number of completed GC cycles",
			},
		),

		workerPoolQueueSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_pool_queue_size",
				Help:      "Number of scan tasks waiting in the local pool",
			},
		),

		dbConnectionsOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections_open",
				Help:      "Number of open database connections",
			},
		),
		dbConnectionsInUse: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections_in_use",
				Help:      "Number of database connections in use",
			},
		),

		retryAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"operation", "attempt"},
		),
	}

	logger.Info("Prometheus metrics initialized")
	return pm
}

// HTTPMiddleware HTTP 请求监控中间件
func (pm *PrometheusMetrics) HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		// 使用路由模板，避免 ID 造成标签爆炸
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		pm.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		pm.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

// Handler 返回 Prometheus HTTP Handler
func (pm *PrometheusMetrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAnalysis 记录一次完成的分析
func (pm *PrometheusMetrics) RecordAnalysis(grade, decodeMode string, duration time.Duration) {
	pm.analysesTotal.WithLabelValues(grade).Inc()
	pm.analysisDuration.WithLabelValues(decodeMode).Observe(duration.Seconds())
}

// RecordDexResult 记录 DEX 扫描结果
func (pm *PrometheusMetrics) RecordDexResult(status string, parsed bool) {
	pm.dexResultsTotal.WithLabelValues(status, strconv.FormatBool(parsed)).Inc()
}

// RecordModelFallback 记录模型不可用
func (pm *PrometheusMetrics) RecordModelFallback() {
	pm.modelFallbacksTotal.Inc()
}

// RecordTaskStatus 记录任务状态变化
func (pm *PrometheusMetrics) RecordTaskStatus(status string) {
	pm.tasksTotal.WithLabelValues(status).Inc()
}

// UpdateMemoryStats 更新内存统计
func (pm *PrometheusMetrics) UpdateMemoryStats(stats MemoryStats) {
	pm.memoryUsage.Set(float64(stats.Alloc))
	pm.goroutinesCount.Set(float64(stats.Goroutines))
	pm.gcCount.Set(float64(stats.NumGC))
}

// UpdateWorkerPoolQueue 更新 Worker Pool 队列长度
func (pm *PrometheusMetrics) UpdateWorkerPoolQueue(queueSize int) {
	pm.workerPoolQueueSize.Set(float64(queueSize))
}

// UpdateDBStats 更新数据库连接统计
func (pm *PrometheusMetrics) UpdateDBStats(open, inUse int) {
	pm.dbConnectionsOpen.Set(float64(open))
	pm.dbConnectionsInUse.Set(float64(inUse))
}

// RecordRetryAttempt 记录重试尝试
func (pm *PrometheusMetrics) RecordRetryAttempt(operation string, attempt int) {
	pm.retryAttemptsTotal.WithLabelValues(operation, strconv.Itoa(attempt)).Inc()
}

// Registry 指标 registry
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}
