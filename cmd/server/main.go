package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/apk-analysis/apk-risk-analyzer/internal/analysis"
	"github.com/apk-analysis/apk-risk-analyzer/internal/api"
	"github.com/apk-analysis/apk-risk-analyzer/internal/api/handlers"
	"github.com/apk-analysis/apk-risk-analyzer/internal/config"
	"github.com/apk-analysis/apk-risk-analyzer/internal/dex"
	"github.com/apk-analysis/apk-risk-analyzer/internal/domain"
	"github.com/apk-analysis/apk-risk-analyzer/internal/middleware"
	"github.com/apk-analysis/apk-risk-analyzer/internal/queue"
	"github.com/apk-analysis/apk-risk-analyzer/internal/repository"
	"github.com/apk-analysis/apk-risk-analyzer/internal/scoring"
	"github.com/apk-analysis/apk-risk-analyzer/internal/service"
	"github.com/apk-analysis/apk-risk-analyzer/internal/watcher"
	"github.com/apk-analysis/apk-risk-analyzer/internal/worker"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"gorm.io/gorm"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "config file path")
	flag.Parse()

	// 1. 打印版本信息
	fmt.Printf("APK Risk Analyzer\n")
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n\n", GitCommit)

	// 2. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 3. 初始化日志
	logger := config.InitLogger(&cfg.Log)
	logger.Infof("Starting APK Risk Analyzer %s", Version)
	logger.Infof("Config loaded from: %s", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. 监控指标
	promMetrics := middleware.NewPrometheusMetrics(logger, "apk_risk")

	// 5. 数据库
	db, err := repository.InitDB(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to init database: %v", err)
	}
	logger.WithField("type", cfg.Database.Type).Info("Database connected successfully")

	taskRepo := repository.NewTaskRepository(db, logger)
	reportRepo := repository.NewReportRepository(db)
	profileRepo := repository.NewWeightProfileRepository(db, logger)

	// 6. 分析流水线
	dexPool := analysis.NewDexPool(cfg.Dex.PoolSize, dex.NewScanner(nil), logger)
	analyzer := analysis.NewAnalyzer(analysis.Config{
		DexPool:   dexPool,
		Predictor: newPredictor(cfg.ML, logger),
		Weights:   &cfg.Scoring.Weights,
		Metrics:   promMetrics,
	}, logger)
	defer analyzer.Stop()

	// 7. 推送与服务
	stream := handlers.NewReportStream(logger)
	stream.Start(ctx)
	defer stream.Stop()

	scanService := service.NewScanService(service.Config{
		Source:       analysis.NewFileSource(logger),
		Analyzer:     analyzer,
		Tasks:        taskRepo,
		Reports:      reportRepo,
		Profiles:     profileRepo,
		Broadcaster:  &meteredBroadcaster{next: stream, metrics: promMetrics},
		KeepManifest: cfg.Server.KeepManifest,
	}, logger)

	// 8. 本地协程池
	pool := worker.NewPool(worker.Options{
		Workers:     cfg.Worker.Concurrency,
		QueueSize:   cfg.Worker.QueueSize,
		TaskTimeout: time.Duration(cfg.Worker.TaskTimeout) * time.Second,
	}, scanService, logger)
	pool.Start(ctx)
	defer pool.Stop()
	logger.Infof("Worker pool started with %d workers", cfg.Worker.Concurrency)

	// 9. 消息队列（可选）
	var publisher worker.Publisher
	if cfg.RabbitMQ.Enabled {
		mq, err := queue.NewRabbitMQ(ctx, queue.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL(),
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.Worker.Concurrency,
			OnRetry: func(attempt int, err error, wait time.Duration) {
				promMetrics.RecordRetryAttempt("rabbitmq_connect", attempt)
			},
		}, logger)
		if err != nil {
			logger.Fatalf("Failed to init RabbitMQ: %v", err)
		}
		defer mq.Close()

		publisher = queue.NewProducer(mq, logger)

		consumer := queue.NewConsumer(mq, newQueueHandler(scanService, cfg.Worker.TaskTimeout, logger), cfg.Worker.Concurrency, logger)
		if err := consumer.Start(ctx); err != nil {
			logger.Fatalf("Failed to start consumer: %v", err)
		}
		defer consumer.Stop()
		consumer.WatchReconnect(ctx, mq)

		logger.WithFields(logrus.Fields{
			"queue":    cfg.RabbitMQ.Queue,
			"prefetch": cfg.Worker.Concurrency,
		}).Info("RabbitMQ consumer started")
	}

	dispatcher := worker.NewDispatcher(pool, publisher, logger)

	// 10. 恢复上次未完成的任务
	pending, err := scanService.RecoverStuckTasks(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to recover pending tasks")
	}
	for _, task := range pending {
		if err := dispatcher.Dispatch(ctx, task); err != nil {
			logger.WithError(err).WithField("task_id", task.ID).Warn("Failed to dispatch recovered task")
		}
	}

	// 11. 目录监听（可选）
	if cfg.Watcher.Enabled {
		fileWatcher, err := watcher.NewFileWatcher(cfg.Watcher.Dir, watcher.Options{
			ScanExisting: cfg.Watcher.ScanExisting,
		}, newWatchHandler(scanService, dispatcher, logger), logger)
		if err != nil {
			logger.Fatalf("Failed to create file watcher: %v", err)
		}
		if err := fileWatcher.Start(ctx); err != nil {
			logger.Fatalf("Failed to start file watcher: %v", err)
		}
		defer fileWatcher.Stop()
		logger.Infof("File watcher started for directory: %s", fileWatcher.WatchDir())
	}

	// 12. 内存与连接池监控
	memMonitor := middleware.NewMemoryMonitor(logger, 30*time.Second, promMetrics.UpdateMemoryStats)
	memMonitor.Start()
	defer memMonitor.Stop()
	go collectGauges(ctx, db, pool, promMetrics, logger)

	// 13. HTTP 服务
	router := api.SetupRouter(cfg, logger, api.Handlers{
		Files:    handlers.NewFileHandler(scanService, dispatcher, cfg.APKDir, cfg.Server.MaxUploadMB, cfg.Server.SyncTimeoutDuration(), logger),
		Reports:  handlers.NewReportHandler(scanService, logger),
		Profiles: handlers.NewWeightProfileHandler(scanService, logger),
		Stream:   stream,
	}, memMonitor, promMetrics)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Infof("HTTP server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

// newPredictor 远程模型优先，失败时退回本地启发式模型
func newPredictor(cfg config.MLConfig, logger *logrus.Logger) scoring.Predictor {
	if !cfg.Enabled {
		return nil
	}
	var chain []scoring.Predictor
	if cfg.URL != "" {
		chain = append(chain, scoring.NewHTTPPredictor(scoring.HTTPPredictorConfig{
			URL:        cfg.URL,
			Timeout:    cfg.TimeoutDuration(),
			MaxRetries: cfg.MaxRetries,
		}, logger))
	}
	chain = append(chain, scoring.HeuristicPredictor{})

	logger.WithField("remote", cfg.URL != "").Info("Risk model enabled")
	return scoring.NewChainPredictor(logger, chain...)
}

// newQueueHandler 消费队列消息
// 外部直接投递的消息没有任务 ID，先建任务
func newQueueHandler(svc service.ScanService, timeoutSeconds int, logger *logrus.Logger) queue.ScanHandler {
	timeout := time.Duration(timeoutSeconds) * time.Second
	return func(ctx context.Context, msg *queue.ScanMessage) error {
		taskID := msg.TaskID
		if taskID == "" {
			task, err := svc.CreateTask(ctx, service.CreateTaskRequest{
				FileName:        filepath.Base(msg.FilePath),
				FilePath:        msg.FilePath,
				Source:          domain.TaskSourceQueue,
				WeightProfileID: msg.WeightProfileID,
			})
			if err != nil {
				return fmt.Errorf("create task from queue message: %w", err)
			}
			taskID = task.ID
		}

		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		_, err := svc.ProcessTask(ctx, taskID)
		if err != nil {
			logger.WithError(err).WithField("task_id", taskID).Warn("Queued scan failed")
		}
		return err
	}
}

// newWatchHandler 目录中出现新文件时建任务并分发
func newWatchHandler(svc service.ScanService, dispatcher *worker.Dispatcher, logger *logrus.Logger) watcher.FileHandler {
	return func(ctx context.Context, filePath string) error {
		task, err := svc.CreateTask(ctx, service.CreateTaskRequest{
			FileName: filepath.Base(filePath),
			FilePath: filePath,
			Source:   domain.TaskSourceWatch,
		})
		if errors.Is(err, service.ErrDuplicateTask) {
			logger.WithField("file", filePath).Debug("Duplicate watch event ignored")
			return nil
		}
		if err != nil {
			return err
		}
		return dispatcher.Dispatch(ctx, task)
	}
}

// collectGauges 定期刷新连接池和队列指标
func collectGauges(ctx context.Context, db *gorm.DB, pool *worker.Pool, pm *middleware.PrometheusMetrics, logger *logrus.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	sqlDB, err := db.DB()
	if err != nil {
		logger.WithError(err).Warn("DB stats unavailable")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateWorkerPoolQueue(pool.QueueSize())
			if sqlDB != nil {
				stats := sqlDB.Stats()
				pm.UpdateDBStats(stats.OpenConnections, stats.InUse)
			}
		}
	}
}

// meteredBroadcaster 推送的同时记录任务状态指标
type meteredBroadcaster struct {
	next    service.Broadcaster
	metrics *middleware.PrometheusMetrics
}

func (b *meteredBroadcaster) BroadcastStatus(taskID string, status domain.TaskStatus, message string) {
	b.metrics.RecordTaskStatus(string(status))
	b.next.BroadcastStatus(taskID, status, message)
}

func (b *meteredBroadcaster) BroadcastReport(summary analysis.Summary) {
	b.next.BroadcastReport(summary)
}

