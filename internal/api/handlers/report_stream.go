package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/apk-analysis/apk-risk-analyzer/internal/analysis"
	"github.com/apk-analysis/apk-risk-analyzer/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// 推送消息类型
const (
	StreamTypeStatus = "status"
	StreamTypeReport = "report"
)

// writeWait 单次写超时
const writeWait = 5 * time.Second

// StreamMessage 推送给 WebSocket 客户端的消息
type StreamMessage struct {
	Type      string            `json:"type"`
	TaskID    string            `json:"task_id,omitempty"`
	Status    domain.TaskStatus `json:"status,omitempty"`
	Message   string            `json:"message,omitempty"`
	Report    *analysis.Summary `json:"report,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// streamClient 一个订阅连接，taskID 为空时接收全部消息
type streamClient struct {
	conn   *websocket.Conn
	taskID string
}

// ReportStream 任务状态与报告摘要的 WebSocket 推送
type ReportStream struct {
	logger      *logrus.Logger
	upgrader    websocket.Upgrader
	clients     map[*streamClient]struct{}
	clientMutex sync.RWMutex
	broadcast   chan StreamMessage
	done        chan struct{}
	stopOnce    sync.Once
}

// NewReportStream 创建推送服务
func NewReportStream(logger *logrus.Logger) *ReportStream {
	return &ReportStream{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:   make(map[*streamClient]struct{}),
		broadcast: make(chan StreamMessage, 100),
		done:      make(chan struct{}),
	}
}

// Start 启动广播协程
func (h *ReportStream) Start(ctx context.Context) {
	go h.runBroadcaster(ctx)
}

// Stop 停止广播并断开所有客户端
func (h *ReportStream) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.clientMutex.Lock()
		for client := range h.clients {
			client.conn.Close()
			delete(h.clients, client)
		}
		h.clientMutex.Unlock()
	})
}

// runBroadcaster 唯一的写协程
func (h *ReportStream) runBroadcaster(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.Stop()
			return
		case <-h.done:
			return
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *ReportStream) deliver(msg StreamMessage) {
	var failed []*streamClient

	h.clientMutex.RLock()
	for client := range h.clients {
		if client.taskID != "" && client.taskID != msg.TaskID {
			continue
		}
		client.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.conn.WriteJSON(msg); err != nil {
			h.logger.WithError(err).WithField("task_filter", client.taskID).Warn("Failed to write to WebSocket client")
			failed = append(failed, client)
		}
	}
	h.clientMutex.RUnlock()

	if len(failed) == 0 {
		return
	}
	h.clientMutex.Lock()
	for _, client := range failed {
		client.conn.Close()
		delete(h.clients, client)
	}
	h.clientMutex.Unlock()
}

// HandleWebSocket 订阅推送
// GET /ws/reports?task_id=xxx
func (h *ReportStream) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	client := &streamClient{conn: conn, taskID: c.Query("task_id")}

	h.clientMutex.Lock()
	h.clients[client] = struct{}{}
	h.clientMutex.Unlock()

	h.logger.WithField("task_filter", client.taskID).Info("WebSocket client connected")

	// 只读，用于感知断开
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).Debug("WebSocket read error")
			}
			break
		}
	}

	h.clientMutex.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		conn.Close()
	}
	h.clientMutex.Unlock()

	h.logger.WithField("task_filter", client.taskID).Info("WebSocket client disconnected")
}

// ClientCount 当前连接数
func (h *ReportStream) ClientCount() int {
	h.clientMutex.RLock()
	defer h.clientMutex.RUnlock()
	return len(h.clients)
}

// BroadcastStatus 推送任务状态
func (h *ReportStream) BroadcastStatus(taskID string, status domain.TaskStatus, message string) {
	h.enqueue(StreamMessage{
		Type:      StreamTypeStatus,
		TaskID:    taskID,
		Status:    status,
		Message:   message,
		Timestamp: time.Now().Unix(),
	})
}

// BroadcastReport 推送报告摘要
func (h *ReportStream) BroadcastReport(summary analysis.Summary) {
	h.enqueue(StreamMessage{
		Type:      StreamTypeReport,
		TaskID:    summary.TaskID,
		Report:    &summary,
		Timestamp: time.Now().Unix(),
	})
}

// enqueue 队列满时丢弃，不阻塞分析流程
func (h *ReportStream) enqueue(msg StreamMessage) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.WithFields(logrus.Fields{
			"type":    msg.Type,
			"task_id": msg.TaskID,
		}).Warn("Stream buffer full, message dropped")
	}
}
