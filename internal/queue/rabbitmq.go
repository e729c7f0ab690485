// Package queue 通过 RabbitMQ 分发扫描任务
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apk-analysis/apk-risk-analyzer/internal/retry"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Broker 生产者和消费者依赖的最小接口
type Broker interface {
	Publish(ctx context.Context, body []byte) error
	Consume() (<-chan amqp.Delivery, error)
}

// RabbitMQConfig RabbitMQ 配置
type RabbitMQConfig struct {
	URL       string
	Queue     string
	Prefetch  int           // 应与 worker 数量一致
	Heartbeat time.Duration // 默认 10 秒

	// OnRetry 连接重试回调，可为空
	OnRetry func(attempt int, err error, wait time.Duration)
}

// RabbitMQ RabbitMQ 客户端
type RabbitMQ struct {
	config    RabbitMQConfig
	logger    *logrus.Logger
	reconnect chan struct{}

	mu            sync.RWMutex
	conn          *amqp.Connection
	channel       *amqp.Channel
	closed        bool
	connNotify    chan *amqp.Error
	channelNotify chan *amqp.Error
}

// NewRabbitMQ 连接并声明持久化队列
func NewRabbitMQ(ctx context.Context, config RabbitMQConfig, logger *logrus.Logger) (*RabbitMQ, error) {
	if config.Prefetch <= 0 {
		config.Prefetch = 1
	}
	if config.Heartbeat == 0 {
		config.Heartbeat = 10 * time.Second
	}

	mq := &RabbitMQ{
		config:    config,
		logger:    logger,
		reconnect: make(chan struct{}, 1),
	}

	if err := mq.connectWithRetry(ctx, 5); err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return mq, nil
}

func (mq *RabbitMQ) connectWithRetry(ctx context.Context, attempts int) error {
	cfg := retry.DefaultConfig()
	cfg.Operation = "rabbitmq connect"
	cfg.MaxAttempts = attempts
	cfg.Strategy = retry.StrategyLinear
	cfg.Logger = mq.logger
	cfg.OnRetry = mq.config.OnRetry
	return retry.Do(ctx, cfg, func(ctx context.Context) error {
		return mq.connect()
	})
}

// connect 建立连接
func (mq *RabbitMQ) connect() error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	conn, err := amqp.DialConfig(mq.config.URL, amqp.Config{
		Heartbeat: mq.config.Heartbeat,
		Locale:    "en_US",
	})
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Qos(mq.config.Prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	_, err = ch.QueueDeclare(
		mq.config.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	mq.conn = conn
	mq.channel = ch
	mq.connNotify = conn.NotifyClose(make(chan *amqp.Error, 1))
	mq.channelNotify = ch.NotifyClose(make(chan *amqp.Error, 1))

	mq.logger.WithFields(logrus.Fields{
		"queue":     mq.config.Queue,
		"heartbeat": mq.config.Heartbeat,
		"prefetch":  mq.config.Prefetch,
	}).Info("Connected to RabbitMQ")

	return nil
}

// StartConnectionWatcher 监听连接和通道关闭事件，直到主动关闭
func (mq *RabbitMQ) StartConnectionWatcher() {
	go func() {
		for {
			mq.mu.RLock()
			if mq.closed {
				mq.mu.RUnlock()
				return
			}
			connNotify, channelNotify := mq.connNotify, mq.channelNotify
			mq.mu.RUnlock()

			var amqpErr *amqp.Error
			select {
			case amqpErr = <-connNotify:
			case amqpErr = <-channelNotify:
			}

			if mq.isClosed() {
				return
			}
			if amqpErr != nil {
				mq.logger.WithError(amqpErr).Error("RabbitMQ connection lost")
			} else {
				mq.logger.Warn("RabbitMQ connection closed")
			}

			select {
			case mq.reconnect <- struct{}{}:
			default:
			}
			mq.waitForNewConnection(connNotify)
		}
	}()
}

// waitForNewConnection 等待重连替换掉旧的通知通道
func (mq *RabbitMQ) waitForNewConnection(old chan *amqp.Error) {
	for {
		mq.mu.RLock()
		replaced := mq.closed || mq.connNotify != old
		mq.mu.RUnlock()
		if replaced {
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// Reconnect 关闭旧连接后按退避重连
func (mq *RabbitMQ) Reconnect(ctx context.Context) error {
	mq.closeConnections()
	return mq.connectWithRetry(ctx, 10)
}

func (mq *RabbitMQ) closeConnections() {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.channel != nil {
		mq.channel.Close()
		mq.channel = nil
	}
	if mq.conn != nil {
		mq.conn.Close()
		mq.conn = nil
	}
}

func (mq *RabbitMQ) currentChannel() (*amqp.Channel, error) {
	mq.mu.RLock()
	defer mq.mu.RUnlock()
	if mq.channel == nil {
		return nil, fmt.Errorf("channel is nil")
	}
	return mq.channel, nil
}

func (mq *RabbitMQ) isClosed() bool {
	mq.mu.RLock()
	defer mq.mu.RUnlock()
	return mq.closed
}

// Publish 发布持久化消息
func (mq *RabbitMQ) Publish(ctx context.Context, body []byte) error {
	ch, err := mq.currentChannel()
	if err != nil {
		return err
	}

	return ch.PublishWithContext(ctx,
		"",              // exchange
		mq.config.Queue, // routing key
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// Consume 手动确认模式消费
func (mq *RabbitMQ) Consume() (<-chan amqp.Delivery, error) {
	ch, err := mq.currentChannel()
	if err != nil {
		return nil, err
	}

	msgs, err := ch.Consume(mq.config.Queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume: %w", err)
	}
	return msgs, nil
}

// QueueDepth 队列中待处理的消息数
func (mq *RabbitMQ) QueueDepth() (int, error) {
	ch, err := mq.currentChannel()
	if err != nil {
		return 0, err
	}

	q, err := ch.QueueInspect(mq.config.Queue)
	if err != nil {
		return 0, err
	}
	return q.Messages, nil
}

// ReconnectChan 重连信号
func (mq *RabbitMQ) ReconnectChan() <-chan struct{} {
	return mq.reconnect
}

// IsConnected 检查连接状态
func (mq *RabbitMQ) IsConnected() bool {
	mq.mu.RLock()
	defer mq.mu.RUnlock()
	return mq.conn != nil && !mq.conn.IsClosed()
}

// Close 关闭连接
func (mq *RabbitMQ) Close() error {
	mq.mu.Lock()
	mq.closed = true
	mq.mu.Unlock()

	mq.closeConnections()
	mq.logger.Info("RabbitMQ connection closed")
	return nil
}
