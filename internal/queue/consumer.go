package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apk-analysis/apk-risk-analyzer/internal/retry"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// ScanHandler 扫描消息处理函数
type ScanHandler func(ctx context.Context, msg *ScanMessage) error

// Consumer 消息消费者
type Consumer struct {
	broker        Broker
	logger        *logrus.Logger
	handler       ScanHandler
	workers       int
	workerWg      sync.WaitGroup
	activeWorkers atomic.Int32
	processed     atomic.Int64
	mu            sync.Mutex
	running       bool
	cancelFunc    context.CancelFunc
}

// NewConsumer 创建消费者
func NewConsumer(broker Broker, handler ScanHandler, workers int, logger *logrus.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}

	return &Consumer{
		broker:  broker,
		logger:  logger,
		handler: handler,
		workers: workers,
	}
}

// Start 启动消费者
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.logger.Warn("Consumer already running, skipping start")
		return nil
	}

	msgs, err := c.broker.Consume()
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	c.running = true

	for i := 0; i < c.workers; i++ {
		c.workerWg.Add(1)
		go c.worker(workerCtx, i, msgs)
	}

	c.logger.Infof("Consumer started with %d workers", c.workers)
	return nil
}

// WatchReconnect 连接断开后重连并重新消费
func (c *Consumer) WatchReconnect(ctx context.Context, mq *RabbitMQ) {
	mq.StartConnectionWatcher()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-mq.ReconnectChan():
				c.logger.Warn("Connection lost, attempting to reconnect...")
				c.stopWorkers()

				if err := mq.Reconnect(ctx); err != nil {
					c.logger.WithError(err).Error("Failed to reconnect, will retry on next signal")
					continue
				}
				if err := c.Start(ctx); err != nil {
					c.logger.WithError(err).Error("Failed to restart consumer")
				}
			}
		}
	}()
}

func (c *Consumer) worker(ctx context.Context, id int, msgs <-chan amqp.Delivery) {
	defer c.workerWg.Done()
	c.activeWorkers.Add(1)
	defer c.activeWorkers.Add(-1)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warnf("Worker %d: message channel closed", id)
				return
			}
			c.processMessage(ctx, id, msg)
		}
	}
}

// processMessage 处理单条消息
// 服务层标记的可重试失败已计入重试次数，总是重新入队；其他错误只重新入队一次
func (c *Consumer) processMessage(ctx context.Context, workerID int, delivery amqp.Delivery) {
	start := time.Now()

	var msg ScanMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil || msg.FilePath == "" {
		c.logger.WithError(err).Error("Invalid scan message, dropping")
		delivery.Nack(false, false)
		return
	}

	log := c.logger.WithFields(logrus.Fields{
		"worker_id": workerID,
		"task_id":   msg.TaskID,
		"file_name": msg.FileName,
	})

	if err := c.handler(ctx, &msg); err != nil {
		requeue := retry.IsMarkedRetryable(err) || (retry.IsRetryable(err) && !delivery.Redelivered)
		log.WithError(err).WithField("requeue", requeue).Error("Scan task failed")
		delivery.Nack(false, requeue)
		return
	}

	if err := delivery.Ack(false); err != nil {
		log.WithError(err).Error("Failed to acknowledge message")
	}
	c.processed.Add(1)

	log.WithField("duration", time.Since(start).Seconds()).Info("Scan task consumed")
}

// stopWorkers 停止所有 worker（最多等待 30 秒）
func (c *Consumer) stopWorkers() {
	c.mu.Lock()
	if c.cancelFunc != nil {
		c.cancelFunc()
		c.cancelFunc = nil
	}
	c.running = false
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.workerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		c.logger.Warn("Timeout waiting for workers to stop")
	}
}

// Stop 停止消费者
func (c *Consumer) Stop() {
	c.logger.Info("Stopping consumer...")
	c.stopWorkers()
	c.logger.Info("Consumer stopped")
}

// ActiveWorkers 活跃 worker 数量
func (c *Consumer) ActiveWorkers() int {
	return int(c.activeWorkers.Load())
}

// Processed 已成功处理的消息数
func (c *Consumer) Processed() int64 {
	return c.processed.Load()
}

// IsRunning 检查消费者是否正在运行
func (c *Consumer) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
