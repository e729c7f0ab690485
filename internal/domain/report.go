package domain

import "time"

// AnalysisReport 风险分析报告表
// 常用字段冗余存储方便查询，完整报告保存在 ReportJSON
type AnalysisReport struct {
	ID     string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TaskID string `gorm:"type:varchar(36);index:idx_task_id" json:"task_id,omitempty"`

	// 文件信息
	FileName string `gorm:"type:varchar(255);not null" json:"file_name"`
	FileType string `gorm:"type:varchar(10)" json:"file_type"`
	FileSize int64  `json:"file_size,omitempty"`
	MD5      string `gorm:"type:varchar(32)" json:"md5,omitempty"`
	SHA256   string `gorm:"type:varchar(64);index:idx_sha256" json:"sha256,omitempty"`

	// 应用信息
	PackageName string `gorm:"type:varchar(255);index:idx_package_name" json:"package_name,omitempty"`
	VersionName string `gorm:"type:varchar(50)" json:"version_name,omitempty"`
	VersionCode string `gorm:"type:varchar(20)" json:"version_code,omitempty"`
	AppLabel    string `gorm:"type:varchar(255)" json:"app_label,omitempty"`

	// 评分
	Score           int    `gorm:"default:0" json:"score"`
	Grade           string `gorm:"type:varchar(2);index:idx_grade" json:"grade"`
	Label           string `gorm:"type:varchar(50)" json:"label"`
	DecodeMode      string `gorm:"type:varchar(20)" json:"decode_mode"`
	PermissionCount int    `gorm:"default:0" json:"permission_count"`
	ComboCount      int    `gorm:"default:0" json:"combo_count"`
	DexScore        int    `gorm:"default:0" json:"dex_score"`
	SimulationScore int    `gorm:"default:0" json:"simulation_score"`
	WeightProfileID *uint  `json:"weight_profile_id,omitempty"`
	PackerName      string `gorm:"type:varchar(100)" json:"packer_name,omitempty"`

	// 完整 JSON 数据
	ReportJSON string `gorm:"type:mediumtext" json:"-"`

	// 性能指标
	AnalysisDurationMs int64 `json:"analysis_duration_ms,omitempty"`

	// 时间戳
	AnalyzedAt time.Time `json:"analyzed_at"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (AnalysisReport) TableName() string {
	return "analysis_reports"
}
