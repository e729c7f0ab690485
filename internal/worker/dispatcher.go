package worker

import (
	"context"

	"github.com/apk-analysis/apk-risk-analyzer/internal/analysis"
	"github.com/apk-analysis/apk-risk-analyzer/internal/domain"
	"github.com/apk-analysis/apk-risk-analyzer/internal/queue"
	"github.com/sirupsen/logrus"
)

// Publisher 消息队列生产者
type Publisher interface {
	PublishScan(ctx context.Context, msg *queue.ScanMessage) error
}

// Dispatcher 把任务交给消息队列，未启用队列时交给本地协程池
type Dispatcher struct {
	pool      *Pool
	publisher Publisher // 可为空
	logger    *logrus.Logger
}

// NewDispatcher 创建任务分发器
func NewDispatcher(pool *Pool, publisher Publisher, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		pool:      pool,
		publisher: publisher,
		logger:    logger,
	}
}

// Dispatch 异步分发任务
// 队列发布失败时退回本地协程池
func (d *Dispatcher) Dispatch(ctx context.Context, task *domain.ScanTask) error {
	if d.publisher != nil {
		err := d.publisher.PublishScan(ctx, &queue.ScanMessage{
			TaskID:          task.ID,
			FileName:        task.FileName,
			FilePath:        task.FilePath,
			WeightProfileID: task.WeightProfileID,
		})
		if err == nil {
			return nil
		}
		d.logger.WithError(err).WithField("task_id", task.ID).Warn("Queue publish failed, falling back to local pool")
	}
	return d.pool.Submit(task.ID)
}

// RunAndWait 在本地协程池中执行并等待报告
func (d *Dispatcher) RunAndWait(ctx context.Context, taskID string) (*analysis.Report, error) {
	return d.pool.SubmitAndWait(ctx, taskID)
}
