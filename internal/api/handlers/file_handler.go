package handlers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/apk-analysis/apk-risk-analyzer/internal/analysis"
	"github.com/apk-analysis/apk-risk-analyzer/internal/domain"
	"github.com/apk-analysis/apk-risk-analyzer/internal/retry"
	"github.com/apk-analysis/apk-risk-analyzer/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TaskRunner 执行扫描任务
type TaskRunner interface {
	Dispatch(ctx context.Context, task *domain.ScanTask) error
	RunAndWait(ctx context.Context, taskID string) (*analysis.Report, error)
}

// FileHandler 文件上传与分析
type FileHandler struct {
	svc         service.ScanService
	runner      TaskRunner
	uploadDir   string
	maxSize     int64
	syncTimeout time.Duration
	logger      *logrus.Logger
}

// NewFileHandler 创建文件处理器
func NewFileHandler(svc service.ScanService, runner TaskRunner, uploadDir string, maxUploadMB int, syncTimeout time.Duration, logger *logrus.Logger) *FileHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 200
	}
	if syncTimeout <= 0 {
		syncTimeout = 2 * time.Minute
	}
	return &FileHandler{
		svc:         svc,
		runner:      runner,
		uploadDir:   uploadDir,
		maxSize:     int64(maxUploadMB) * 1024 * 1024,
		syncTimeout: syncTimeout,
		logger:      logger,
	}
}

// Analyze 上传 APK 或清单文件并分析
// POST /api/analyze?async=true
// 表单字段: file, weight_profile_id 或 weight_profile（名称）
func (h *FileHandler) Analyze(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxSize+1024*1024)

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing upload field \"file\""})
		return
	}

	filename := filepath.Base(file.Filename)
	if !analysis.IsSupported(filename) {
		respondError(c, analysis.ErrUnsupportedInput)
		return
	}
	if file.Size > h.maxSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("file exceeds the %dMB limit", h.maxSize/(1024*1024)),
		})
		return
	}

	profileID, err := h.resolveProfile(c)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		respondError(c, fmt.Errorf("create upload dir: %w", err))
		return
	}
	// 加前缀避免同名文件覆盖
	destPath := filepath.Join(h.uploadDir, uuid.New().String()+"_"+filename)
	if err := c.SaveUploadedFile(file, destPath); err != nil {
		respondError(c, fmt.Errorf("save upload: %w", err))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"filename": filename,
		"size":     file.Size,
		"path":     destPath,
	}).Info("File uploaded")

	task, err := h.svc.CreateTask(c.Request.Context(), service.CreateTaskRequest{
		FileName:        filename,
		FilePath:        destPath,
		Source:          domain.TaskSourceUpload,
		WeightProfileID: profileID,
	})
	if err != nil {
		os.Remove(destPath)
		respondError(c, err)
		return
	}

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		if err := h.runner.Dispatch(c.Request.Context(), task); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"task": task})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.syncTimeout)
	defer cancel()

	report, err := h.runner.RunAndWait(ctx, task.ID)
	if retry.IsMarkedRetryable(err) {
		h.logger.WithError(err).WithField("task_id", task.ID).Warn("Analysis failed transiently, retrying in background")
		c.JSON(http.StatusAccepted, gin.H{
			"task":    task,
			"message": "analysis failed transiently and will be retried, poll the task for the result",
		})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"task_id": task.ID,
		"report":  report,
	})
}

// resolveProfile 解析表单中的权重方案
func (h *FileHandler) resolveProfile(c *gin.Context) (*uint, error) {
	if raw := c.PostForm("weight_profile_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("weight_profile_id %q: %w", raw, errBadParam)
		}
		p, err := h.svc.GetWeightProfile(c.Request.Context(), uint(id))
		if err != nil {
			return nil, err
		}
		return &p.ID, nil
	}
	if name := c.PostForm("weight_profile"); name != "" {
		p, err := h.svc.FindWeightProfileByName(c.Request.Context(), name)
		if err != nil {
			return nil, err
		}
		return &p.ID, nil
	}
	return nil, nil
}
