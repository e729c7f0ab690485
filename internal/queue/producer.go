package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ScanMessage 扫描任务消息
type ScanMessage struct {
	TaskID          string `json:"task_id"`
	FileName        string `json:"file_name"`
	FilePath        string `json:"file_path"`
	WeightProfileID *uint  `json:"weight_profile_id,omitempty"`
}

// Producer 消息生产者
type Producer struct {
	broker Broker
	logger *logrus.Logger
}

// NewProducer 创建生产者
func NewProducer(broker Broker, logger *logrus.Logger) *Producer {
	return &Producer{
		broker: broker,
		logger: logger,
	}
}

// PublishScan 发布扫描任务
func (p *Producer) PublishScan(ctx context.Context, msg *ScanMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := p.broker.Publish(ctx, body); err != nil {
		p.logger.WithError(err).WithField("task_id", msg.TaskID).Error("Failed to publish scan task")
		return fmt.Errorf("failed to publish: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"task_id":   msg.TaskID,
		"file_name": msg.FileName,
	}).Info("Scan task published to queue")

	return nil
}
