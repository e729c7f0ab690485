package analysis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/apk-analysis/apk-risk-analyzer/internal/dex"
	"github.com/sirupsen/logrus"
)

// DEX 扫描结果状态
const (
	DexStatusSuccess = "SUCCESS"
	DexStatusError   = "ERROR"
)

// DexReply worker 回复
// Findings 为空表示 DEX 无法解析
type DexReply struct {
	Status   string          `json:"status"`
	Findings *dex.ScanResult `json:"findings,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// dexJob 发送给 worker 的消息
type dexJob struct {
	data  []byte
	reply chan DexReply
}

// DexPool DEX 扫描协程池（消息传递，不共享状态）
type DexPool struct {
	size      int
	jobs      chan *dexJob
	scanner   *dex.Scanner
	logger    *logrus.Logger
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	processed atomic.Int64
	failed    atomic.Int64
}

// NewDexPool 创建并启动协程池
func NewDexPool(size int, scanner *dex.Scanner, logger *logrus.Logger) *DexPool {
	if size <= 0 {
		size = 2
	}
	if scanner == nil {
		scanner = dex.NewScanner(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &DexPool{
		size:    size,
		jobs:    make(chan *dexJob, size*4),
		scanner: scanner,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.WithField("pool_size", size).Info("DEX scan pool started")
	return p
}

// worker 处理扫描消息
func (p *DexPool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			p.logger.WithField("worker_id", id).Debug("DEX worker shutting down")
			return

		case job := <-p.jobs:
			job.reply <- p.process(id, job.data)
		}
	}
}

// process 解析并扫描，panic 转为 ERROR 回复
func (p *DexPool) process(id int, data []byte) (reply DexReply) {
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			p.logger.WithFields(logrus.Fields{
				"worker_id": id,
				"panic":     r,
			}).Error("DEX scan panicked")
			reply = DexReply{Status: DexStatusError, Error: fmt.Sprint(r)}
		}
	}()

	p.processed.Add(1)

	tables := dex.Read(data)
	if tables.Error != "" {
		p.logger.WithFields(logrus.Fields{
			"worker_id": id,
			"error":     tables.Error,
			"size":      len(data),
		}).Warn("DEX parse failed, no code findings")
		// 解析失败不算扫描失败，原因随回复带回报告
		return DexReply{Status: DexStatusSuccess, Error: tables.Error}
	}

	findings := p.scanner.Scan(tables)
	p.logger.WithFields(logrus.Fields{
		"worker_id":  id,
		"strings":    len(tables.Strings),
		"methods":    len(tables.Methods),
		"indicators": len(findings.RiskIndicators),
	}).Debug("DEX scan completed")

	return DexReply{Status: DexStatusSuccess, Findings: findings}
}

// Scan 提交 DEX 数据并等待回复
func (p *DexPool) Scan(ctx context.Context, data []byte) DexReply {
	if p.ctx.Err() != nil {
		return DexReply{Status: DexStatusError, Error: "dex pool stopped"}
	}
	job := &dexJob{data: data, reply: make(chan DexReply, 1)}

	select {
	case p.jobs <- job:
	case <-ctx.Done():
		return DexReply{Status: DexStatusError, Error: ctx.Err().Error()}
	case <-p.ctx.Done():
		return DexReply{Status: DexStatusError, Error: "dex pool stopped"}
	}

	select {
	case reply := <-job.reply:
		return reply
	case <-ctx.Done():
		return DexReply{Status: DexStatusError, Error: ctx.Err().Error()}
	case <-p.ctx.Done():
		return DexReply{Status: DexStatusError, Error: "dex pool stopped"}
	}
}

// Stop 停止协程池
func (p *DexPool) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("DEX scan pool stopped")
}

// GetStats 获取协程池统计信息
func (p *DexPool) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"pool_size":  p.size,
		"queue_size": len(p.jobs),
		"processed":  p.processed.Load(),
		"failed":     p.failed.Load(),
	}
}
