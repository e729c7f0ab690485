package handlers

import (
	"net/http"
	"strconv"

	"github.com/apk-analysis/apk-risk-analyzer/internal/repository"
	"github.com/apk-analysis/apk-risk-analyzer/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ReportHandler 报告与任务查询
type ReportHandler struct {
	svc    service.ScanService
	logger *logrus.Logger
}

// NewReportHandler 创建报告处理器
func NewReportHandler(svc service.ScanService, logger *logrus.Logger) *ReportHandler {
	return &ReportHandler{
		svc:    svc,
		logger: logger,
	}
}

// ListReports 报告列表
// GET /api/reports?page=1&page_size=20&grade=F&package=com.example
func (h *ReportHandler) ListReports(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	filter := repository.ReportFilter{
		Page:        page,
		PageSize:    pageSize,
		Grade:       c.Query("grade"),
		PackageName: c.Query("package"),
	}

	reports, total, err := h.svc.ListReports(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reports": reports,
		"total":   total,
		"page":    page,
	})
}

// GetReport 完整报告
// GET /api/reports/:id
func (h *ReportHandler) GetReport(c *gin.Context) {
	report, err := h.svc.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// DeleteReport 删除报告
// DELETE /api/reports/:id
func (h *ReportHandler) DeleteReport(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.DeleteReport(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	h.logger.WithField("report_id", id).Info("Report deleted")
	c.JSON(http.StatusOK, gin.H{"message": "report deleted"})
}

// GetTask 任务状态
// GET /api/tasks/:id
func (h *ReportHandler) GetTask(c *gin.Context) {
	task, err := h.svc.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// GetStats 等级分布和任务状态统计
// GET /api/stats
func (h *ReportHandler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	grades, err := h.svc.GradeCounts(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	tasks, total, err := h.svc.TaskStatusCounts(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"grades":      grades,
		"tasks":       tasks,
		"total_tasks": total,
	})
}
