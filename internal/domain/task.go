package domain

import (
	"time"
)

type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusAnalyzing TaskStatus = "analyzing"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// TaskSource 任务来源
type TaskSource string

const (
	TaskSourceUpload TaskSource = "upload" // HTTP 上传
	TaskSourceWatch  TaskSource = "watch"  // 目录监听
	TaskSourceQueue  TaskSource = "queue"  // 外部投递到消息队列
	TaskSourceCLI    TaskSource = "cli"
)

// FailureType 失败类型
type FailureType string

const (
	FailureTypeNone             FailureType = ""                   // 无失败（成功或进行中）
	FailureTypeUnsupportedInput FailureType = "unsupported_input"  // 扩展名不支持
	FailureTypeManifestMissing  FailureType = "manifest_not_found" // APK 内没有清单
	FailureTypeInvalidArchive   FailureType = "invalid_archive"    // 不是有效的 ZIP
	FailureTypeIOError          FailureType = "io_error"           // 读取文件失败
	FailureTypeTimeout          FailureType = "timeout"            // 分析超时
	FailureTypeUnknown          FailureType = "unknown"            // 未知错误
)

// FailureSeverity 失败严重程度
type FailureSeverity string

const (
	FailureSeverityNormal  FailureSeverity = "normal"  // 正常（输入问题，无需排查）
	FailureSeverityWarning FailureSeverity = "warning" // 警告（需要关注）
	FailureSeverityError   FailureSeverity = "error"   // 错误（需要排查）
)

// GetSeverity 获取失败类型对应的严重程度
func (ft FailureType) GetSeverity() FailureSeverity {
	switch ft {
	case FailureTypeNone, FailureTypeUnsupportedInput, FailureTypeManifestMissing, FailureTypeInvalidArchive:
		return FailureSeverityNormal
	case FailureTypeTimeout:
		return FailureSeverityWarning
	default:
		return FailureSeverityError
	}
}

// GetMaxRetryCount 获取失败类型对应的最大重试次数
// 返回 0 表示不重试
func (ft FailureType) GetMaxRetryCount() int {
	switch ft {
	case FailureTypeNone, FailureTypeUnsupportedInput, FailureTypeManifestMissing, FailureTypeInvalidArchive:
		return 0 // 输入本身有问题，重试无意义
	case FailureTypeIOError, FailureTypeTimeout:
		return 3
	default:
		return 1
	}
}

// CanRetry 检查失败类型是否可以重试
func (ft FailureType) CanRetry() bool {
	return ft.GetMaxRetryCount() > 0
}

// ScanTask 扫描任务表
type ScanTask struct {
	ID              string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	FileName        string      `gorm:"type:varchar(255);not null" json:"file_name"`
	FilePath        string      `gorm:"type:varchar(1024);not null" json:"file_path"`
	Source          TaskSource  `gorm:"type:varchar(20);default:'upload'" json:"source"`
	WeightProfileID *uint       `json:"weight_profile_id,omitempty"`
	Status          TaskStatus  `gorm:"type:varchar(20);not null;default:'queued';index:idx_status" json:"status"`
	FailureType     FailureType `gorm:"type:varchar(30);default:''" json:"failure_type,omitempty"`
	ErrorMessage    string      `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount      int         `gorm:"default:0" json:"retry_count"`
	ReportID        string      `gorm:"type:varchar(36)" json:"report_id,omitempty"`
	CreatedAt       time.Time   `gorm:"not null" json:"created_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
}

func (ScanTask) TableName() string {
	return "scan_tasks"
}
