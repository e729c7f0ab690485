// Package retry 为数据库、消息队列等外部依赖提供带退避的重试
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Strategy 退避策略
type Strategy string

const (
	StrategyFixed       Strategy = "fixed"       // 固定间隔
	StrategyLinear      Strategy = "linear"      // 线性递增
	StrategyExponential Strategy = "exponential" // 指数退避
)

// Config 重试配置
type Config struct {
	Operation       string        // 日志中的操作名称
	MaxAttempts     int           // 最大尝试次数
	InitialInterval time.Duration // 初始间隔
	MaxInterval     time.Duration // 最大间隔
	Strategy        Strategy
	Timeout         time.Duration // 总超时，0 表示不限
	Logger          *logrus.Logger

	// OnRetry 每次失败且即将等待时调用
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Operation:       "operation",
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Strategy:        StrategyExponential,
		Timeout:         5 * time.Minute,
		Logger:          logrus.StandardLogger(),
	}
}

// classifiedError 带重试标记的错误
type classifiedError struct {
	err       error
	retryable bool
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// NewRetryableError 标记为可重试
func NewRetryableError(err error) error {
	return &classifiedError{err: err, retryable: true}
}

// NewNonRetryableError 标记为不可重试
func NewNonRetryableError(err error) error {
	return &classifiedError{err: err, retryable: false}
}

// IsRetryable 判断错误是否可重试
// 未标记的错误默认可重试，上下文取消和超时除外
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.retryable
	}

	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// IsMarkedRetryable 仅当错误被显式标记为可重试时返回 true
func IsMarkedRetryable(err error) bool {
	var ce *classifiedError
	return errors.As(err, &ce) && ce.retryable
}

// Do 执行带重试的操作
func Do(ctx context.Context, config *Config, fn func(ctx context.Context) error) error {
	if config == nil {
		config = DefaultConfig()
	}
	log := config.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s canceled: %w", config.Operation, err)
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.WithFields(logrus.Fields{
					"operation": config.Operation,
					"attempt":   attempt,
				}).Info("Operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return fmt.Errorf("%s failed (not retryable): %w", config.Operation, err)
		}
		if attempt == attempts {
			break
		}

		wait := Backoff(config.Strategy, config.InitialInterval, config.MaxInterval, attempt)
		log.WithFields(logrus.Fields{
			"operation": config.Operation,
			"attempt":   attempt,
			"max":       attempts,
			"wait":      wait,
			"error":     err.Error(),
		}).Warn("Operation failed, retrying")
		if config.OnRetry != nil {
			config.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s canceled during backoff: %w", config.Operation, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", config.Operation, attempts, lastErr)
}

// DoWithResult 执行带重试的操作并返回结果
func DoWithResult[T any](ctx context.Context, config *Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, config, func(ctx context.Context) error {
		res, err := fn(ctx)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

// Backoff 第 attempt 次失败后的等待时间
func Backoff(strategy Strategy, initial, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var next time.Duration
	switch strategy {
	case StrategyLinear:
		next = initial * time.Duration(attempt)
	case StrategyExponential:
		shift := attempt - 1
		if shift > 30 {
			shift = 30
		}
		next = initial * time.Duration(1<<shift)
	default:
		next = initial
	}

	if max > 0 && next > max {
		next = max
	}
	return next
}
