package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// ErrModelUnavailable 模型不可用
var ErrModelUnavailable = errors.New("risk model unavailable")

// Prediction 模型输出
type Prediction struct {
	AdjustedScore float64 `json:"adjustedScore"`
	Confidence    float64 `json:"confidence"`
}

// Predictor 外部风险模型
type Predictor interface {
	Predict(ctx context.Context, permissions []string) (*Prediction, error)
}

// ==================== 远程模型 ====================

// HTTPPredictorConfig 远程模型配置
type HTTPPredictorConfig struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
}

// HTTPPredictor 通过 HTTP 调用远程模型
type HTTPPredictor struct {
	url    string
	client *retryablehttp.Client
	logger *logrus.Logger
}

// retryLogAdaptor 将 retryablehttp 的日志转到 logrus debug
type retryLogAdaptor struct {
	logger *logrus.Logger
}

func (a *retryLogAdaptor) Printf(format string, args ...interface{}) {
	a.logger.Debugf(format, args...)
}

// NewHTTPPredictor 创建远程模型客户端
func NewHTTPPredictor(cfg HTTPPredictorConfig, logger *logrus.Logger) *HTTPPredictor {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.MaxRetries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = &retryLogAdaptor{logger: logger}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}

	return &HTTPPredictor{
		url:    cfg.URL,
		client: client,
		logger: logger,
	}
}

type predictRequest struct {
	Permissions []string `json:"permissions"`
}

// Predict 调用远程模型
func (p *HTTPPredictor) Predict(ctx context.Context, permissions []string) (*Prediction, error) {
	if p.url == "" {
		return nil, ErrModelUnavailable
	}

	body, err := json.Marshal(predictRequest{Permissions: permissions})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: unsuccessful status code: %d, response: %s", ErrModelUnavailable, resp.StatusCode, data)
	}

	var pred Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", ErrModelUnavailable, err)
	}
	if pred.AdjustedScore < 0 || pred.AdjustedScore > 100 || pred.Confidence < 0 || pred.Confidence > 1 {
		return nil, fmt.Errorf("%w: prediction out of range: %+v", ErrModelUnavailable, pred)
	}

	p.logger.WithFields(logrus.Fields{
		"adjusted_score": pred.AdjustedScore,
		"confidence":     pred.Confidence,
	}).Debug("Remote model prediction received")

	return &pred, nil
}

// ==================== 本地启发式 ====================

const (
	heuristicBase      = 15.0
	heuristicCap       = 95.0
	heuristicPerPerm   = 0.5
	heuristicCameraNet = 10.0
	heuristicLocNet    = 8.0
)

// HeuristicPredictor 确定性的本地回退模型
type HeuristicPredictor struct{}

// Predict 基于权限组合的确定性估计
func (HeuristicPredictor) Predict(_ context.Context, permissions []string) (*Prediction, error) {
	has := make(map[string]bool, len(permissions))
	for _, p := range permissions {
		has[p] = true
	}

	adjustment := heuristicBase
	internet := has["android.permission.INTERNET"]
	if has["android.permission.CAMERA"] && internet {
		adjustment += heuristicCameraNet
	}
	if has["android.permission.ACCESS_FINE_LOCATION"] && internet {
		adjustment += heuristicLocNet
	}
	adjustment = math.Min(heuristicCap, adjustment+float64(len(permissions))*heuristicPerPerm)

	hash := len(strings.Join(permissions, "")) % 10
	confidence := math.Round((0.65+float64(hash)/100)*100) / 100

	return &Prediction{
		AdjustedScore: round(adjustment),
		Confidence:    confidence,
	}, nil
}

// ==================== 组合 ====================

// ChainPredictor 依次尝试，第一个成功的结果生效
type ChainPredictor struct {
	predictors []Predictor
	logger     *logrus.Logger
}

// NewChainPredictor 创建组合模型
func NewChainPredictor(logger *logrus.Logger, predictors ...Predictor) *ChainPredictor {
	return &ChainPredictor{predictors: predictors, logger: logger}
}

// Predict 全部失败时返回 ErrModelUnavailable
func (c *ChainPredictor) Predict(ctx context.Context, permissions []string) (*Prediction, error) {
	for i, p := range c.predictors {
		pred, err := p.Predict(ctx, permissions)
		if err == nil && pred != nil {
			return pred, nil
		}
		c.logger.WithFields(logrus.Fields{
			"predictor": i,
			"error":     err,
		}).Warn("Risk model failed, trying next")
	}
	return nil, ErrModelUnavailable
}
