package middleware

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// highMemoryMB 超过该值输出告警
const highMemoryMB = 1536

// MemoryStats 内存统计
type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`       // 当前分配的内存 (字节)
	TotalAlloc uint64 `json:"total_alloc"` // 累计分配的内存
	Sys        uint64 `json:"sys"`         // 从系统获取的内存
	NumGC      uint32 `json:"num_gc"`
	Goroutines int    `json:"goroutines"`
	AllocMB    uint64 `json:"alloc_mb"`
	SysMB      uint64 `json:"sys_mb"`
}

// MemoryMonitor 内存监控器
// 大体积 APK 的解压和 DEX 读取集中在内存中完成
type MemoryMonitor struct {
	logger   *logrus.Logger
	interval time.Duration
	onUpdate func(MemoryStats) // 可为空

	mu       sync.RWMutex
	stats    MemoryStats
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMemoryMonitor 创建内存监控器
func NewMemoryMonitor(logger *logrus.Logger, interval time.Duration, onUpdate func(MemoryStats)) *MemoryMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &MemoryMonitor{
		logger:   logger,
		interval: interval,
		onUpdate: onUpdate,
		stopChan: make(chan struct{}),
	}
}

// Start 启动内存监控
func (m *MemoryMonitor) Start() {
	m.Sample()
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stopChan:
				return
			case <-ticker.C:
				m.Sample()
			}
		}
	}()
}

// Stop 停止内存监控
func (m *MemoryMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

// Sample 采样一次并通知订阅方
func (m *MemoryMonitor) Sample() MemoryStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := MemoryStats{
		Alloc:      ms.Alloc,
		TotalAlloc: ms.TotalAlloc,
		Sys:        ms.Sys,
		NumGC:      ms.NumGC,
		Goroutines: runtime.NumGoroutine(),
		AllocMB:    ms.Alloc / 1024 / 1024,
		SysMB:      ms.Sys / 1024 / 1024,
	}

	m.mu.Lock()
	m.stats = stats
	m.mu.Unlock()

	if stats.AllocMB > highMemoryMB {
		m.logger.WithFields(logrus.Fields{
			"alloc_mb": stats.AllocMB,
			"sys_mb":   stats.SysMB,
		}).Warn("High memory usage detected")
	}
	if m.onUpdate != nil {
		m.onUpdate(stats)
	}
	return stats
}

// Stats 获取最近一次统计
func (m *MemoryMonitor) Stats() MemoryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// MemoryEndpoint 内存统计端点
func (m *MemoryMonitor) MemoryEndpoint() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"memory": m.Stats(),
		})
	}
}
