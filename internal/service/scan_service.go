// Package service 扫描任务的业务流程：建任务、分析、落库、推送
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/apk-analysis/apk-risk-analyzer/internal/analysis"
	"github.com/apk-analysis/apk-risk-analyzer/internal/domain"
	"github.com/apk-analysis/apk-risk-analyzer/internal/repository"
	"github.com/apk-analysis/apk-risk-analyzer/internal/retry"
	"github.com/apk-analysis/apk-risk-analyzer/internal/scoring"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrDuplicateTask 同名文件短时间内重复提交
var ErrDuplicateTask = errors.New("a scan task for this file was created in the last 60 seconds")

// duplicateWindow 目录监听去重时间窗口（秒）
const duplicateWindow = 60

// ReportAnalyzer 分析流水线
type ReportAnalyzer interface {
	Analyze(ctx context.Context, in *analysis.Input, opts ...analysis.Option) (*analysis.Report, error)
}

// Broadcaster 推送任务状态和报告摘要
type Broadcaster interface {
	BroadcastStatus(taskID string, status domain.TaskStatus, message string)
	BroadcastReport(summary analysis.Summary)
}

// CreateTaskRequest 创建任务参数
type CreateTaskRequest struct {
	FileName        string
	FilePath        string
	Source          domain.TaskSource
	WeightProfileID *uint
}

// ScanService 扫描服务
type ScanService interface {
	CreateTask(ctx context.Context, req CreateTaskRequest) (*domain.ScanTask, error)
	GetTask(ctx context.Context, taskID string) (*domain.ScanTask, error)
	ProcessTask(ctx context.Context, taskID string) (*analysis.Report, error)
	RecoverStuckTasks(ctx context.Context) ([]*domain.ScanTask, error)
	TaskStatusCounts(ctx context.Context) (map[string]int64, int64, error)

	AnalyzeFile(ctx context.Context, path string, profileID *uint) (*analysis.Report, error)

	GetReport(ctx context.Context, id string) (*analysis.Report, error)
	ListReports(ctx context.Context, filter repository.ReportFilter) ([]*domain.AnalysisReport, int64, error)
	DeleteReport(ctx context.Context, id string) error
	GradeCounts(ctx context.Context) (map[string]int64, error)

	CreateWeightProfile(ctx context.Context, name string, weights scoring.Weights) (*domain.WeightProfile, error)
	GetWeightProfile(ctx context.Context, id uint) (*domain.WeightProfile, error)
	FindWeightProfileByName(ctx context.Context, name string) (*domain.WeightProfile, error)
	ListWeightProfiles(ctx context.Context) ([]*domain.WeightProfile, error)
	UpdateWeightProfile(ctx context.Context, id uint, weights scoring.Weights) (*domain.WeightProfile, error)
	DeleteWeightProfile(ctx context.Context, id uint) error
}

// Config 服务依赖
type Config struct {
	Source       analysis.Source
	Analyzer     ReportAnalyzer
	Tasks        repository.TaskRepository
	Reports      repository.ReportRepository
	Profiles     repository.WeightProfileRepository
	Broadcaster  Broadcaster // 可为空
	KeepManifest bool
}

type scanService struct {
	source       analysis.Source
	analyzer     ReportAnalyzer
	tasks        repository.TaskRepository
	reports      repository.ReportRepository
	profiles     repository.WeightProfileRepository
	broadcaster  Broadcaster
	keepManifest bool
	logger       *logrus.Logger
}

// NewScanService 创建扫描服务
func NewScanService(cfg Config, logger *logrus.Logger) ScanService {
	return &scanService{
		source:       cfg.Source,
		analyzer:     cfg.Analyzer,
		tasks:        cfg.Tasks,
		reports:      cfg.Reports,
		profiles:     cfg.Profiles,
		broadcaster:  cfg.Broadcaster,
		keepManifest: cfg.KeepManifest,
		logger:       logger,
	}
}

func (s *scanService) CreateTask(ctx context.Context, req CreateTaskRequest) (*domain.ScanTask, error) {
	if !analysis.IsSupported(req.FileName) {
		return nil, analysis.ErrUnsupportedInput
	}
	if req.WeightProfileID != nil {
		if _, err := s.profiles.FindByID(ctx, *req.WeightProfileID); err != nil {
			return nil, fmt.Errorf("weight profile %d: %w", *req.WeightProfileID, err)
		}
	}

	// 大文件复制时目录监听会触发多次事件
	if req.Source == domain.TaskSourceWatch {
		recent, err := s.tasks.HasRecentTaskForFile(ctx, req.FileName, duplicateWindow)
		if err != nil {
			s.logger.WithError(err).WithField("file_name", req.FileName).Warn("Failed to check recent task, continuing anyway")
		} else if recent {
			return nil, ErrDuplicateTask
		}
	}

	task := &domain.ScanTask{
		ID:              uuid.New().String(),
		FileName:        req.FileName,
		FilePath:        req.FilePath,
		Source:          req.Source,
		WeightProfileID: req.WeightProfileID,
		Status:          domain.TaskStatusQueued,
		CreatedAt:       time.Now().UTC(),
	}
	if task.Source == "" {
		task.Source = domain.TaskSourceUpload
	}

	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"task_id":   task.ID,
		"file_name": task.FileName,
		"source":    task.Source,
	}).Info("Scan task created")
	s.broadcastStatus(task.ID, domain.TaskStatusQueued, "")

	return task, nil
}

func (s *scanService) GetTask(ctx context.Context, taskID string) (*domain.ScanTask, error) {
	return s.tasks.FindByID(ctx, taskID)
}

// ProcessTask 执行扫描任务
// 失败时返回的错误带有 retry 标记，调用方据此决定是否重试
func (s *scanService) ProcessTask(ctx context.Context, taskID string) (*analysis.Report, error) {
	task, err := s.tasks.FindByID(ctx, taskID)
	if err != nil {
		return nil, retry.NewNonRetryableError(fmt.Errorf("load task %s: %w", taskID, err))
	}
	if task.Status == domain.TaskStatusCompleted {
		s.logger.WithField("task_id", taskID).Info("Task already completed, skipping")
		return s.GetReport(ctx, task.ReportID)
	}

	if err := s.tasks.MarkAnalyzing(ctx, taskID); err != nil {
		// 任务仍是 queued，重启后由 RecoverStuckTasks 接管
		return nil, retry.NewNonRetryableError(fmt.Errorf("mark task analyzing: %w", err))
	}
	s.broadcastStatus(taskID, domain.TaskStatusAnalyzing, "")

	report, row, err := s.analyze(ctx, task.FilePath, task.WeightProfileID)
	if err != nil {
		return nil, s.failTask(ctx, task, err)
	}

	row.TaskID = task.ID
	if err := s.reports.Create(ctx, row); err != nil {
		return nil, s.failTask(ctx, task, fmt.Errorf("save report: %w", err))
	}
	if err := s.tasks.MarkCompleted(ctx, task.ID, report.ID); err != nil {
		s.logger.WithError(err).WithField("task_id", task.ID).Error("Failed to mark task completed")
	}

	s.broadcastStatus(task.ID, domain.TaskStatusCompleted, "")
	if s.broadcaster != nil {
		summary := report.Summary()
		summary.TaskID = task.ID
		s.broadcaster.BroadcastReport(summary)
	}

	return report, nil
}

// AnalyzeFile 直接分析文件并保存报告，不经过任务表
func (s *scanService) AnalyzeFile(ctx context.Context, path string, profileID *uint) (*analysis.Report, error) {
	report, row, err := s.analyze(ctx, path, profileID)
	if err != nil {
		return nil, err
	}
	if err := s.reports.Create(ctx, row); err != nil {
		return nil, fmt.Errorf("save report: %w", err)
	}
	if s.broadcaster != nil {
		s.broadcaster.BroadcastReport(report.Summary())
	}
	return report, nil
}

func (s *scanService) analyze(ctx context.Context, path string, profileID *uint) (*analysis.Report, *domain.AnalysisReport, error) {
	in, err := s.source.Load(ctx, path)
	if err != nil {
		return nil, nil, err
	}

	var opts []analysis.Option
	if profileID != nil {
		profile, err := s.profiles.FindByID(ctx, *profileID)
		if err != nil {
			return nil, nil, retry.NewNonRetryableError(fmt.Errorf("weight profile %d: %w", *profileID, err))
		}
		opts = append(opts, analysis.WithWeights(profile.Weights()))
	}
	if s.keepManifest {
		opts = append(opts, analysis.WithRawManifest())
	}

	report, err := s.analyzer.Analyze(ctx, in, opts...)
	if err != nil {
		return nil, nil, err
	}

	row, err := ReportRecord(report, profileID)
	if err != nil {
		return nil, nil, err
	}
	return report, row, nil
}

// ReportRecord 报告转为数据库记录
func ReportRecord(r *analysis.Report, profileID *uint) (*domain.AnalysisReport, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}

	row := &domain.AnalysisReport{
		ID:                 r.ID,
		FileName:           r.File.FileName,
		FileType:           r.File.FileType,
		FileSize:           r.File.FileSize,
		MD5:                r.File.MD5,
		SHA256:             r.File.SHA256,
		DecodeMode:         string(r.DecodeMode),
		PermissionCount:    r.TotalPermissions,
		ComboCount:         len(r.SuspiciousCombos),
		WeightProfileID:    profileID,
		ReportJSON:         string(body),
		AnalysisDurationMs: r.Duration,
		AnalyzedAt:         r.Timestamp,
		CreatedAt:          time.Now().UTC(),
	}
	if m := r.Metadata; m != nil {
		row.PackageName = m.PackageName
		row.VersionName = m.VersionName
		row.VersionCode = m.VersionCode
		row.AppLabel = m.AppLabel
	}
	if p := r.Protection; p != nil && p.Packed {
		row.PackerName = p.Name
	}
	if sc := r.Score; sc != nil {
		row.Score = sc.NormalizedScore
		row.Grade = sc.Grade
		row.Label = sc.Label
		row.DexScore = sc.DexScore
		row.SimulationScore = sc.SimulationScore
	}
	return row, nil
}

// classifyFailure 从错误中识别失败类型
func classifyFailure(err error) domain.FailureType {
	switch {
	case errors.Is(err, analysis.ErrUnsupportedInput):
		return domain.FailureTypeUnsupportedInput
	case errors.Is(err, analysis.ErrManifestNotFound):
		return domain.FailureTypeManifestMissing
	case errors.Is(err, analysis.ErrInvalidArchive):
		return domain.FailureTypeInvalidArchive
	case errors.Is(err, context.DeadlineExceeded):
		return domain.FailureTypeTimeout
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return domain.FailureTypeIOError
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return domain.FailureTypeIOError
	}
	return domain.FailureTypeUnknown
}

// failTask 按失败类型决定重试或标记失败
func (s *scanService) failTask(ctx context.Context, task *domain.ScanTask, err error) error {
	// 服务关闭时保持 analyzing，重启后由 RecoverStuckTasks 放回队列
	if errors.Is(err, context.Canceled) {
		return err
	}
	// 任务超时后仍需写库
	ctx = context.WithoutCancel(ctx)

	failureType := classifyFailure(err)
	log := s.logger.WithFields(logrus.Fields{
		"task_id":      task.ID,
		"failure_type": failureType,
	})

	retryable := retry.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded)
	if retryable && failureType.CanRetry() && task.RetryCount < failureType.GetMaxRetryCount() {
		count, schedErr := s.tasks.IncrementRetryCount(ctx, task.ID)
		if schedErr == nil {
			schedErr = s.tasks.ResetForRetry(ctx, task.ID)
		}
		if schedErr == nil {
			log.WithError(err).WithField("retry_count", count).Warn("Scan task failed, queued for retry")
			s.broadcastStatus(task.ID, domain.TaskStatusQueued, err.Error())
			return retry.NewRetryableError(fmt.Errorf("task %s (retry %d/%d): %w", task.ID, count, failureType.GetMaxRetryCount(), err))
		}
		log.WithError(schedErr).Error("Failed to schedule retry")
	}

	if updateErr := s.tasks.UpdateFailure(ctx, task.ID, failureType, err.Error()); updateErr != nil {
		log.WithError(updateErr).Error("Failed to update task failure")
	}
	s.broadcastStatus(task.ID, domain.TaskStatusFailed, err.Error())
	return retry.NewNonRetryableError(fmt.Errorf("task %s: %w", task.ID, err))
}

// RecoverStuckTasks 服务重启后恢复中断和排队中的任务
func (s *scanService) RecoverStuckTasks(ctx context.Context) ([]*domain.ScanTask, error) {
	reset, err := s.tasks.ResetStuckTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("reset stuck tasks: %w", err)
	}
	queued, err := s.tasks.ListByStatus(ctx, domain.TaskStatusQueued, 0)
	if err != nil {
		return nil, fmt.Errorf("list queued tasks: %w", err)
	}

	if reset > 0 || len(queued) > 0 {
		s.logger.WithFields(logrus.Fields{
			"reset":  reset,
			"queued": len(queued),
		}).Info("Recovered pending scan tasks")
	}
	return queued, nil
}

func (s *scanService) TaskStatusCounts(ctx context.Context) (map[string]int64, int64, error) {
	return s.tasks.GetStatusCounts(ctx)
}

// GetReport 读取完整报告
func (s *scanService) GetReport(ctx context.Context, id string) (*analysis.Report, error) {
	row, err := s.reports.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var report analysis.Report
	if err := json.Unmarshal([]byte(row.ReportJSON), &report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", id, err)
	}
	return &report, nil
}

func (s *scanService) ListReports(ctx context.Context, filter repository.ReportFilter) ([]*domain.AnalysisReport, int64, error) {
	return s.reports.List(ctx, filter)
}

func (s *scanService) DeleteReport(ctx context.Context, id string) error {
	return s.reports.Delete(ctx, id)
}

func (s *scanService) GradeCounts(ctx context.Context) (map[string]int64, error) {
	return s.reports.GradeCounts(ctx)
}

func (s *scanService) CreateWeightProfile(ctx context.Context, name string, weights scoring.Weights) (*domain.WeightProfile, error) {
	return s.profiles.Save(ctx, name, weights)
}

func (s *scanService) GetWeightProfile(ctx context.Context, id uint) (*domain.WeightProfile, error) {
	return s.profiles.FindByID(ctx, id)
}

func (s *scanService) FindWeightProfileByName(ctx context.Context, name string) (*domain.WeightProfile, error) {
	return s.profiles.FindByName(ctx, name)
}

func (s *scanService) ListWeightProfiles(ctx context.Context) ([]*domain.WeightProfile, error) {
	return s.profiles.List(ctx)
}

func (s *scanService) UpdateWeightProfile(ctx context.Context, id uint, weights scoring.Weights) (*domain.WeightProfile, error) {
	return s.profiles.Update(ctx, id, weights)
}

func (s *scanService) DeleteWeightProfile(ctx context.Context, id uint) error {
	return s.profiles.Delete(ctx, id)
}

func (s *scanService) broadcastStatus(taskID string, status domain.TaskStatus, message string) {
	if s.broadcaster != nil {
		s.broadcaster.BroadcastStatus(taskID, status, message)
	}
}
