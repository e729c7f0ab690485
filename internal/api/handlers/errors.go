package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/apk-analysis/apk-risk-analyzer/internal/analysis"
	"github.com/apk-analysis/apk-risk-analyzer/internal/repository"
	"github.com/apk-analysis/apk-risk-analyzer/internal/scoring"
	"github.com/apk-analysis/apk-risk-analyzer/internal/service"
	"github.com/apk-analysis/apk-risk-analyzer/internal/worker"
	"github.com/gin-gonic/gin"
)

// errBadParam 请求参数格式错误
var errBadParam = errors.New("invalid request parameter")

// inputErrors 输入本身的问题，原样返回给用户
var inputErrors = []error{
	analysis.ErrUnsupportedInput,
	analysis.ErrManifestNotFound,
	analysis.ErrInvalidArchive,
	scoring.ErrInvalidWeights,
	errBadParam,
}

// respondError 将业务错误映射为 HTTP 状态码
func respondError(c *gin.Context, err error) {
	for _, target := range inputErrors {
		if errors.Is(err, target) {
			c.JSON(http.StatusBadRequest, gin.H{"error": target.Error()})
			return
		}
	}

	status := http.StatusInternalServerError
	message := "internal server error"
	switch {
	case errors.Is(err, repository.ErrNotFound):
		status, message = http.StatusNotFound, "not found"
	case errors.Is(err, repository.ErrDuplicateName):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrDuplicateTask):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrPoolStopped):
		status, message = http.StatusServiceUnavailable, "analysis queue is busy, try again later"
	case errors.Is(err, context.DeadlineExceeded):
		status, message = http.StatusGatewayTimeout, "analysis timed out"
	}

	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": message})
}
