package analysis

import (
	"time"

	"github.com/apk-analysis/apk-risk-analyzer/internal/combo"
	"github.com/apk-analysis/apk-risk-analyzer/internal/dex"
	"github.com/apk-analysis/apk-risk-analyzer/internal/manifest"
	"github.com/apk-analysis/apk-risk-analyzer/internal/packer"
	"github.com/apk-analysis/apk-risk-analyzer/internal/scoring"
	"github.com/apk-analysis/apk-risk-analyzer/internal/simulation"
)

// FileInfo 输入文件信息
type FileInfo struct {
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
	FileSize int64  `json:"file_size,omitempty"`
	MD5      string `json:"md5,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
}

// DexSummary 代码扫描结果
type DexSummary struct {
	Present  bool            `json:"present"`
	Status   string          `json:"status,omitempty"`
	Error    string          `json:"error,omitempty"`
	Findings *dex.ScanResult `json:"findings,omitempty"`
}

// Report 单次分析的完整报告
type Report struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Duration  int64     `json:"duration_ms"`

	File       FileInfo           `json:"file"`
	DecodeMode DecodeMode         `json:"decode_mode"`
	Metadata   *manifest.Metadata `json:"metadata"`

	// 权限
	Permissions      []manifest.PermissionRecord `json:"permissions"`
	TotalPermissions int                         `json:"total_permissions"`
	DomainProfile    []manifest.DomainGroup      `json:"domain_profile"`
	SuspiciousCombos []combo.Detection           `json:"suspicious_combos"`

	// 清单
	Security   *manifest.SecurityFindings `json:"security"`
	Components *manifest.ExposureReport   `json:"components"`
	Protection *packer.Info               `json:"protection,omitempty"`

	// 代码与推演
	Dex         DexSummary           `json:"dex"`
	Simulations []simulation.Finding `json:"simulations"`

	Score *scoring.Report `json:"score"`

	RawManifest string `json:"raw_manifest,omitempty"`
}

// Summary 报告摘要（用于列表与推送）
type Summary struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id,omitempty"`
	FileName    string    `json:"file_name"`
	PackageName string    `json:"package_name"`
	Score       int       `json:"score"`
	Grade       string    `json:"grade"`
	Label       string    `json:"label"`
	Packer      string    `json:"packer,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Summary 生成摘要
func (r *Report) Summary() Summary {
	s := Summary{
		ID:        r.ID,
		FileName:  r.File.FileName,
		Timestamp: r.Timestamp,
	}
	if r.Metadata != nil {
		s.PackageName = r.Metadata.PackageName
	}
	if r.Protection != nil && r.Protection.Packed {
		s.Packer = r.Protection.Name
	}
	if r.Score != nil {
		s.Score = r.Score.NormalizedScore
		s.Grade = r.Score.Grade
		s.Label = r.Score.Label
	}
	return s
}
