// requeue 把失败的扫描任务重置为排队状态，并在启用队列时重新投递
package main

import (
	"context"
	"log"

	"github.com/apk-analysis/apk-risk-analyzer/internal/config"
	"github.com/apk-analysis/apk-risk-analyzer/internal/domain"
	"github.com/apk-analysis/apk-risk-analyzer/internal/queue"
	"github.com/apk-analysis/apk-risk-analyzer/internal/repository"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "config file path")
	limit := flag.Int("limit", 0, "max tasks to requeue (0 means all)")
	failureType := flag.String("failure-type", "", "only requeue tasks with this failure type")
	dryRun := flag.Bool("dry-run", false, "list tasks without changing them")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger := config.InitLogger(&cfg.Log)
	ctx := context.Background()

	db, err := repository.InitDB(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	tasks := repository.NewTaskRepository(db, logger)

	// 查询所有失败的任务
	failed, err := tasks.ListByStatus(ctx, domain.TaskStatusFailed, *limit)
	if err != nil {
		logger.Fatalf("Failed to query failed tasks: %v", err)
	}

	var producer *queue.Producer
	if cfg.RabbitMQ.Enabled && !*dryRun {
		mq, err := queue.NewRabbitMQ(ctx, queue.RabbitMQConfig{
			URL:   cfg.RabbitMQ.URL(),
			Queue: cfg.RabbitMQ.Queue,
		}, logger)
		if err != nil {
			logger.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer mq.Close()
		producer = queue.NewProducer(mq, logger)
	}

	requeued := 0
	for _, task := range failed {
		if *failureType != "" && string(task.FailureType) != *failureType {
			continue
		}
		entry := logger.WithFields(logrus.Fields{
			"task_id":      task.ID,
			"file":         task.FileName,
			"failure_type": task.FailureType,
		})
		if *dryRun {
			entry.Info("Would requeue task")
			continue
		}

		// 重置任务状态
		if err := tasks.ResetForRetry(ctx, task.ID); err != nil {
			entry.WithError(err).Error("Failed to reset task")
			continue
		}
		if producer != nil {
			err := producer.PublishScan(ctx, &queue.ScanMessage{
				TaskID:          task.ID,
				FileName:        task.FileName,
				FilePath:        task.FilePath,
				WeightProfileID: task.WeightProfileID,
			})
			if err != nil {
				entry.WithError(err).Warn("Publish failed, task stays queued until the server restarts")
			}
		}
		requeued++
	}

	logger.WithFields(logrus.Fields{
		"failed":   len(failed),
		"requeued": requeued,
		"dry_run":  *dryRun,
	}).Info("Requeue finished")
}
