package repository

import (
	"context"
	"time"

	"github.com/apk-analysis/apk-risk-analyzer/internal/domain"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TaskRepository 扫描任务 Repository
type TaskRepository interface {
	Create(ctx context.Context, task *domain.ScanTask) error
	FindByID(ctx context.Context, id string) (*domain.ScanTask, error)
	ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.ScanTask, error)
	MarkAnalyzing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, reportID string) error
	UpdateFailure(ctx context.Context, id string, failureType domain.FailureType, errorMessage string) error
	IncrementRetryCount(ctx context.Context, id string) (int, error)
	ResetForRetry(ctx context.Context, id string) error
	ResetStuckTasks(ctx context.Context) (int64, error)
	GetStatusCounts(ctx context.Context) (map[string]int64, int64, error)
	HasRecentTaskForFile(ctx context.Context, fileName string, withinSeconds int) (bool, error)
}

type taskRepo struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewTaskRepository 创建扫描任务 Repository
func NewTaskRepository(db *gorm.DB, logger *logrus.Logger) TaskRepository {
	return &taskRepo{
		db:     db,
		logger: logger,
	}
}

func (r *taskRepo) Create(ctx context.Context, task *domain.ScanTask) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if task.Status == "" {
		task.Status = domain.TaskStatusQueued
	}
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *taskRepo) FindByID(ctx context.Context, id string) (*domain.ScanTask, error) {
	var task domain.ScanTask
	if err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &task, nil
}

// ListByStatus 按创建时间顺序列出指定状态的任务
func (r *taskRepo) ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.ScanTask, error) {
	var tasks []*domain.ScanTask
	query := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// MarkAnalyzing 标记为分析中
func (r *taskRepo) MarkAnalyzing(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return r.updates(ctx, id, map[string]interface{}{
		"status":     domain.TaskStatusAnalyzing,
		"started_at": &now,
	})
}

// MarkCompleted 标记完成并关联报告
func (r *taskRepo) MarkCompleted(ctx context.Context, id string, reportID string) error {
	now := time.Now().UTC()
	return r.updates(ctx, id, map[string]interface{}{
		"status":        domain.TaskStatusCompleted,
		"report_id":     reportID,
		"failure_type":  domain.FailureTypeNone,
		"error_message": "",
		"completed_at":  &now,
	})
}

// UpdateFailure 更新任务失败信息（包含失败类型和错误消息）
// 同时将任务状态设置为 failed
func (r *taskRepo) UpdateFailure(ctx context.Context, id string, failureType domain.FailureType, errorMessage string) error {
	now := time.Now().UTC()
	err := r.updates(ctx, id, map[string]interface{}{
		"status":        domain.TaskStatusFailed,
		"failure_type":  failureType,
		"error_message": errorMessage,
		"completed_at":  &now,
	})
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"task_id":      id,
			"failure_type": failureType,
		}).Error("Failed to update task failure")
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"task_id":          id,
		"failure_type":     failureType,
		"failure_severity": failureType.GetSeverity(),
	}).Warn("Task marked as failed")

	return nil
}

// IncrementRetryCount 增加重试次数并返回新的计数
func (r *taskRepo) IncrementRetryCount(ctx context.Context, id string) (int, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.ScanTask{}).
		Where("id = ?", id).
		UpdateColumn("retry_count", gorm.Expr("retry_count + 1"))
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, ErrNotFound
	}

	var task domain.ScanTask
	if err := r.db.WithContext(ctx).Select("retry_count").First(&task, "id = ?", id).Error; err != nil {
		return 0, translate(err)
	}
	return task.RetryCount, nil
}

// ResetForRetry 重置任务状态以准备重试
// 保留重试计数
func (r *taskRepo) ResetForRetry(ctx context.Context, id string) error {
	return r.updates(ctx, id, map[string]interface{}{
		"status":        domain.TaskStatusQueued,
		"failure_type":  domain.FailureTypeNone,
		"error_message": "",
		"started_at":    nil,
		"completed_at":  nil,
	})
}

// ResetStuckTasks 服务重启时把中断的任务放回队列
func (r *taskRepo) ResetStuckTasks(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.ScanTask{}).
		Where("status = ?", domain.TaskStatusAnalyzing).
		Updates(map[string]interface{}{
			"status":     domain.TaskStatusQueued,
			"started_at": nil,
		})
	return result.RowsAffected, result.Error
}

// GetStatusCounts 按状态统计任务数量
func (r *taskRepo) GetStatusCounts(ctx context.Context) (map[string]int64, int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).
		Model(&domain.ScanTask{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	counts := make(map[string]int64, len(rows))
	var total int64
	for _, row := range rows {
		counts[row.Status] = row.Count
		total += row.Count
	}
	return counts, total, nil
}

// HasRecentTaskForFile 检查最近是否已为同名文件创建任务
// 大文件复制时目录监听会触发多次事件
func (r *taskRepo) HasRecentTaskForFile(ctx context.Context, fileName string, withinSeconds int) (bool, error) {
	since := time.Now().UTC().Add(-time.Duration(withinSeconds) * time.Second)
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.ScanTask{}).
		Where("file_name = ? AND created_at > ?", fileName, since).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *taskRepo) updates(ctx context.Context, id string, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&domain.ScanTask{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
