// Package worker 本地扫描任务协程池
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apk-analysis/apk-risk-analyzer/internal/analysis"
	"github.com/apk-analysis/apk-risk-analyzer/internal/retry"
	"github.com/sirupsen/logrus"
)

// ErrQueueFull 任务队列已满
var ErrQueueFull = errors.New("task queue is full")

// ErrPoolStopped 协程池已停止
var ErrPoolStopped = errors.New("worker pool stopped")

// TaskProcessor 执行单个扫描任务
type TaskProcessor interface {
	ProcessTask(ctx context.Context, taskID string) (*analysis.Report, error)
}

// Task 任务
type Task struct {
	ID       string
	attempt  int         // 已失败次数
	resultCh chan result // 同步等待时使用
}

type result struct {
	report *analysis.Report
	err    error
}

// Options 协程池参数
type Options struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration // 单任务超时，0 表示不限
	RetryDelay  time.Duration // 可重试失败的首次等待时间
}

// Pool Worker 池
type Pool struct {
	opts      Options
	taskChan  chan *Task
	processor TaskProcessor
	logger    *logrus.Logger
	wg        sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
	retries sync.WaitGroup
}

// NewPool 创建 Worker 池
func NewPool(opts Options, processor TaskProcessor, logger *logrus.Logger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}

	return &Pool{
		opts:      opts,
		taskChan:  make(chan *Task, opts.QueueSize),
		processor: processor,
		logger:    logger,
	}
}

// Start 启动 Worker 池
func (p *Pool) Start(ctx context.Context) {
	p.logger.WithField("workers", p.opts.Workers).Info("Starting worker pool")

	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			p.logger.WithField("worker_id", id).Debug("Worker shutting down")
			return

		case task, ok := <-p.taskChan:
			if !ok {
				return
			}
			p.run(ctx, id, task)
		}
	}
}

func (p *Pool) run(ctx context.Context, workerID int, task *Task) {
	log := p.logger.WithFields(logrus.Fields{
		"worker_id": workerID,
		"task_id":   task.ID,
	})
	log.Info("Processing scan task")

	taskCtx := ctx
	if p.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, p.opts.TaskTimeout)
		defer cancel()
	}

	report, err := p.processor.ProcessTask(taskCtx, task.ID)
	switch {
	case err == nil:
		log.WithField("grade", report.Score.Grade).Info("Scan task completed")
	case ctx.Err() != nil:
		log.Warn("Scan task interrupted by shutdown")
	case retry.IsRetryable(err):
		// 同步调用方拿到错误，重试在后台继续
		p.scheduleRetry(ctx, task, err)
	default:
		log.WithError(err).Error("Scan task failed")
	}

	if task.resultCh != nil {
		task.resultCh <- result{report: report, err: err}
		close(task.resultCh)
	}
}

// scheduleRetry 退避后重新提交
func (p *Pool) scheduleRetry(ctx context.Context, task *Task, cause error) {
	next := &Task{ID: task.ID, attempt: task.attempt + 1}
	p.retries.Add(1)
	go func() {
		defer p.retries.Done()

		wait := retry.Backoff(retry.StrategyExponential, p.opts.RetryDelay, time.Minute, next.attempt)
		p.logger.WithError(cause).WithFields(logrus.Fields{
			"task_id": next.ID,
			"attempt": next.attempt,
			"wait":    wait,
		}).Warn("Scan task failed, retrying later")

		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := p.enqueue(next); err != nil {
			p.logger.WithError(err).WithField("task_id", next.ID).Error("Failed to resubmit scan task")
		}
	}()
}

// Submit 提交任务（异步，不等待结果）
func (p *Pool) Submit(taskID string) error {
	return p.enqueue(&Task{ID: taskID})
}

func (p *Pool) enqueue(task *Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.taskChan <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitAndWait 提交任务并等待完成
func (p *Pool) SubmitAndWait(ctx context.Context, taskID string) (*analysis.Report, error) {
	task := &Task{ID: taskID, resultCh: make(chan result, 1)}

	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return nil, ErrPoolStopped
	}
	select {
	case p.taskChan <- task:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return nil, ctx.Err()
	}

	select {
	case res := <-task.resultCh:
		return res.report, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for task %s: %w", taskID, ctx.Err())
	}
}

// Stop 停止 Worker 池，调用前应先取消 Start 的上下文
func (p *Pool) Stop() {
	p.logger.Info("Stopping worker pool")

	p.mu.Lock()
	p.stopped = true
	close(p.taskChan)
	p.mu.Unlock()

	p.wg.Wait()
	p.retries.Wait()
	p.logger.Info("Worker pool stopped")
}

// QueueSize 队列中任务数
func (p *Pool) QueueSize() int {
	return len(p.taskChan)
}
